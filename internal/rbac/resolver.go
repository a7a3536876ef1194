package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iers-platform/iers/internal/cache"
)

// DefaultPermissionTTL bounds how long a role's cached permission set may be stale
// when an administrator forgets to invalidate it.
const DefaultPermissionTTL = time.Hour

// RoleCacheKey is the cache key holding the permission slugs of role.
func RoleCacheKey(role string) string {
	return "role:" + NormalizeRole(role) + ":permissions"
}

// Resolver computes and caches the effective permission set of a role.
type Resolver struct {
	source PermissionSource
	cache  *cache.Service
	ttl    time.Duration
	logger *slog.Logger
}

// NewResolver wires a resolver. A nil cache service resolves straight from source.
func NewResolver(source PermissionSource, cacheSvc *cache.Service, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultPermissionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{source: source, cache: cacheSvc, ttl: ttl, logger: logger}
}

// PermissionsForRole returns the permission set of role, served from cache when possible.
// Store failures are wrapped in ErrResolutionFailed.
func (r *Resolver) PermissionsForRole(ctx context.Context, role string) (PermissionSet, error) {
	role = NormalizeRole(role)
	if role == "" {
		return nil, ErrInvalidRole
	}
	slugs, err := cache.GetOrSet(ctx, r.cache, RoleCacheKey(role), r.ttl, func(ctx context.Context) ([]string, error) {
		return r.source.PermissionSlugsForRole(ctx, role)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: role %s: %w", ErrResolutionFailed, role, err)
	}
	return NewPermissionSet(slugs...), nil
}

// Authenticate builds the actor snapshot attached to a new session.
func (r *Resolver) Authenticate(ctx context.Context, id int64, role string) (*Actor, error) {
	perms, err := r.PermissionsForRole(ctx, role)
	if err != nil {
		return nil, err
	}
	return &Actor{ID: id, Role: NormalizeRole(role), Permissions: perms}, nil
}

// Refresh re-resolves the actor's role and returns a copy with the current set.
func (r *Resolver) Refresh(ctx context.Context, actor *Actor) (*Actor, error) {
	if actor == nil {
		return nil, ErrInvalidRole
	}
	return r.Authenticate(ctx, actor.ID, actor.Role)
}

// HasPermission checks the actor's attached snapshot only.
func (r *Resolver) HasPermission(actor *Actor, slug string) bool {
	if actor == nil {
		return false
	}
	return actor.Permissions.Has(slug)
}

// HasAnyPermission reports whether the actor holds at least one of slugs.
func (r *Resolver) HasAnyPermission(actor *Actor, slugs []string) bool {
	if actor == nil {
		return false
	}
	return actor.Permissions.HasAny(slugs...)
}

// InvalidateRole drops the cached permission set of role. Administration
// operations must call it synchronously after every grant or revoke.
func (r *Resolver) InvalidateRole(ctx context.Context, role string) {
	role = NormalizeRole(role)
	if role == "" {
		return
	}
	r.cache.Invalidate(ctx, RoleCacheKey(role))
	r.logger.Debug("role permissions invalidated", slog.String("role", role))
}

// InvalidateAllRoles drops every cached role permission set. Used after bulk
// changes such as a migration seeding grants for several roles.
func (r *Resolver) InvalidateAllRoles(ctx context.Context) {
	r.cache.InvalidatePattern(ctx, "role:")
	r.logger.Debug("all role permissions invalidated")
}
