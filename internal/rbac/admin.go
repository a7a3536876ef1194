package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iers-platform/iers/internal/audit"
)

const rolePermissionEntity = "role_permissions"

// AdminService implements the administration surface for permissions and
// role grants. Every grant change invalidates the role's cached set before
// returning.
type AdminService struct {
	repo     AdminRepository
	resolver *Resolver
	recorder audit.Recorder
	logger   *slog.Logger
}

// NewAdminService constructs an AdminService.
func NewAdminService(repo AdminRepository, resolver *Resolver, recorder audit.Recorder, logger *slog.Logger) *AdminService {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = audit.Discard{}
	}
	return &AdminService{repo: repo, resolver: resolver, recorder: recorder, logger: logger}
}

// ListPermissions returns every known permission.
func (s *AdminService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// RolePermissions returns the authoritative (uncached) grants of role.
func (s *AdminService) RolePermissions(ctx context.Context, role string) ([]Permission, error) {
	role = NormalizeRole(role)
	if role == "" {
		return nil, ErrInvalidRole
	}
	return s.repo.ListRolePermissions(ctx, role)
}

// CreatePermission registers a new permission slug.
func (s *AdminService) CreatePermission(ctx context.Context, actor *Actor, p Permission) (Permission, error) {
	p.Slug = NormalizeSlug(p.Slug)
	p.Module = strings.ToLower(strings.TrimSpace(p.Module))
	p.Action = strings.ToLower(strings.TrimSpace(p.Action))
	p.Description = strings.TrimSpace(p.Description)
	if p.Slug == "" || p.Module == "" || p.Action == "" {
		return Permission{}, ErrInvalidPermission
	}
	created, err := s.repo.CreatePermission(ctx, p)
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, actor, audit.ActionPermissionCreated, "permissions", created.Slug, map[string]any{
		"module": created.Module,
		"action": created.Action,
	})
	return created, nil
}

// UpdateDescription edits a permission description. Slugs are immutable.
func (s *AdminService) UpdateDescription(ctx context.Context, actor *Actor, id int64, description string) (Permission, error) {
	updated, err := s.repo.UpdatePermissionDescription(ctx, id, strings.TrimSpace(description))
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, actor, audit.ActionPermissionUpdated, "permissions", updated.Slug, map[string]any{
		"description": updated.Description,
	})
	return updated, nil
}

// Grant attaches slug to role.
func (s *AdminService) Grant(ctx context.Context, actor *Actor, role, slug string) (bool, error) {
	role, perm, err := s.lookup(ctx, role, slug)
	if err != nil {
		return false, err
	}
	changed, err := s.repo.AttachPermission(ctx, role, perm.ID)
	if err != nil {
		return false, fmt.Errorf("rbac: grant %s to %s: %w", perm.Slug, role, err)
	}
	if !changed {
		return false, nil
	}
	s.resolver.InvalidateRole(ctx, role)
	s.record(ctx, actor, audit.ActionRolePermissionGranted, rolePermissionEntity, role, map[string]any{
		"permission": perm.Slug,
	})
	return true, nil
}

// Revoke detaches slug from role.
func (s *AdminService) Revoke(ctx context.Context, actor *Actor, role, slug string) (bool, error) {
	role, perm, err := s.lookup(ctx, role, slug)
	if err != nil {
		return false, err
	}
	changed, err := s.repo.DetachPermission(ctx, role, perm.ID)
	if err != nil {
		return false, fmt.Errorf("rbac: revoke %s from %s: %w", perm.Slug, role, err)
	}
	if !changed {
		return false, nil
	}
	s.resolver.InvalidateRole(ctx, role)
	s.record(ctx, actor, audit.ActionRolePermissionRevoked, rolePermissionEntity, role, map[string]any{
		"permission": perm.Slug,
	})
	return true, nil
}

func (s *AdminService) lookup(ctx context.Context, role, slug string) (string, Permission, error) {
	role = NormalizeRole(role)
	if role == "" {
		return "", Permission{}, ErrInvalidRole
	}
	perm, err := s.repo.GetPermissionBySlug(ctx, NormalizeSlug(slug))
	if err != nil {
		return "", Permission{}, err
	}
	return role, perm, nil
}

// record appends an audit event. The mutation has already committed, so a
// failing audit sink is logged rather than returned.
func (s *AdminService) record(ctx context.Context, actor *Actor, action, entity, entityID string, meta map[string]any) {
	var actorID *int64
	if actor != nil {
		id := actor.ID
		actorID = &id
		meta["actor_role"] = actor.Role
	}
	err := s.recorder.Record(ctx, audit.Event{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
	if err != nil {
		attrs := []any{slog.String("action", action), slog.String("entity_id", entityID), slog.Any("error", err)}
		if actorID != nil {
			attrs = append(attrs, slog.Int64("actor_id", *actorID))
		}
		s.logger.Error("rbac audit record", attrs...)
	}
}
