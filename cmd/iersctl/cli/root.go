// Package cli implements iersctl, the operator tool for the permission and
// SLA subsystems.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/iers-platform/iers/internal/app"
	"github.com/iers-platform/iers/internal/audit"
	"github.com/iers-platform/iers/internal/auth"
	platformcache "github.com/iers-platform/iers/internal/platform/cache"
	"github.com/iers-platform/iers/internal/platform/db"
	"github.com/iers-platform/iers/internal/sla"
)

// Exit codes for iersctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// GetExitCode extracts the exit code from err, defaulting to ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Runtime holds configuration and opens backing services on demand so that
// commands which need neither Postgres nor Redis run without them.
type Runtime struct {
	Config *app.Config
	Logger *slog.Logger
	Rules  []sla.Rule

	// Overridable in tests.
	OpenPool  func(ctx context.Context) (*pgxpool.Pool, error)
	OpenRedis func(ctx context.Context) (*redis.Client, error)
	SLAStore  sla.Store
	Recorder  audit.Recorder
	Users     auth.UserCreator
}

func (rt *Runtime) rules() []sla.Rule {
	if len(rt.Rules) > 0 {
		return rt.Rules
	}
	return sla.DefaultRules()
}

func (rt *Runtime) logger() *slog.Logger {
	if rt.Logger == nil {
		return slog.Default()
	}
	return rt.Logger
}

func (rt *Runtime) pool(ctx context.Context) (*pgxpool.Pool, error) {
	if rt.OpenPool != nil {
		return rt.OpenPool(ctx)
	}
	return db.New(ctx, rt.Config.PGDSN, db.WithMaxConns(rt.Config.PGMaxConns), db.WithApplicationName("iersctl"))
}

func (rt *Runtime) redis(ctx context.Context) (*redis.Client, error) {
	if rt.OpenRedis != nil {
		return rt.OpenRedis(ctx)
	}
	return platformcache.New(ctx, rt.Config.RedisAddr)
}

// RootOptions holds global flags.
type RootOptions struct {
	Format string
}

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json"}

// NewRootCommand builds the iersctl command tree.
func NewRootCommand(rt *Runtime) *cobra.Command {
	opts := &RootOptions{}
	cmd := &cobra.Command{
		Use:           "iersctl",
		Short:         "Operate IERS permissions and SLA escalation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return &ExitError{Code: ExitCommandError, Err: fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)}
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newMigrateCommand(rt, opts))
	cmd.AddCommand(newSLACommand(rt, opts))
	cmd.AddCommand(newJobsCommand(rt, opts))
	cmd.AddCommand(newCacheCommand(rt, opts))
	cmd.AddCommand(newUserCommand(rt, opts))
	return cmd
}
