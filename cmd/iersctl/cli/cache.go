package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/iers-platform/iers/internal/cache"
	platformcache "github.com/iers-platform/iers/internal/platform/cache"
	"github.com/iers-platform/iers/internal/rbac"
)

type invalidateResult struct {
	Roles []string `json:"roles,omitempty"`
	All   bool     `json:"all,omitempty"`
}

func newCacheCommand(rt *Runtime, opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached permission sets",
	}
	cmd.AddCommand(newInvalidateRoleCommand(rt, opts))
	return cmd
}

func newInvalidateRoleCommand(rt *Runtime, opts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "invalidate-role [ROLE...]",
		Short: "Drop cached permission sets so the next login re-reads them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return &ExitError{Code: ExitCommandError, Err: errors.New("name at least one role or pass --all")}
			}
			client, err := rt.redis(cmd.Context())
			if err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			defer client.Close()

			svc := cache.NewService(platformcache.NewRedisStore(client), rt.logger(), rt.Config.CacheKeyPrefix)
			resolver := rbac.NewResolver(nil, svc, rt.Config.RBACPermissionTTL, rt.logger())

			res := invalidateResult{All: all}
			if all {
				resolver.InvalidateAllRoles(cmd.Context())
			} else {
				for _, role := range args {
					role = rbac.NormalizeRole(role)
					if role == "" {
						continue
					}
					resolver.InvalidateRole(cmd.Context(), role)
					res.Roles = append(res.Roles, role)
				}
			}
			return emit(cmd, opts, res, func(w io.Writer) {
				if res.All {
					fmt.Fprintln(w, "invalidated all roles")
					return
				}
				for _, role := range res.Roles {
					fmt.Fprintf(w, "invalidated\t%s\n", rbac.RoleCacheKey(role))
				}
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "invalidate every role")
	return cmd
}
