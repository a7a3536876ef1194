package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iers-platform/iers/internal/auth"
)

type userResult struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func newUserCommand(rt *Runtime, opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage login accounts",
	}
	cmd.AddCommand(newUserCreateCommand(rt, opts))
	return cmd
}

func newUserCreateCommand(rt *Runtime, opts *RootOptions) *cobra.Command {
	var email, role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account; the password is read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return &ExitError{Code: ExitCommandError, Err: fmt.Errorf("read password: %w", err)}
			}
			password := strings.TrimRight(line, "\r\n")

			repo := rt.Users
			if repo == nil {
				pool, err := rt.pool(cmd.Context())
				if err != nil {
					return &ExitError{Code: ExitCommandError, Err: err}
				}
				defer pool.Close()
				repo = auth.NewRepository(pool)
			}
			user, err := auth.CreateUser(cmd.Context(), repo, email, password, role)
			if errors.Is(err, auth.ErrInvalidAccount) || errors.Is(err, auth.ErrWeakPassword) || errors.Is(err, auth.ErrEmailTaken) {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			if err != nil {
				return err
			}
			res := userResult{ID: user.ID, Email: user.Email, Role: user.Role}
			return emit(cmd, opts, res, func(w io.Writer) {
				fmt.Fprintf(w, "created\t%d\t%s\t%s\n", res.ID, res.Email, res.Role)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&role, "role", "", "role name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
