package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PermissionSource answers the role -> permission slugs lookup used by the resolver.
type PermissionSource interface {
	PermissionSlugsForRole(ctx context.Context, role string) ([]string, error)
}

// AdminRepository persists permissions and role grants.
type AdminRepository interface {
	PermissionSource
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermissionBySlug(ctx context.Context, slug string) (Permission, error)
	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	UpdatePermissionDescription(ctx context.Context, id int64, description string) (Permission, error)
	ListRolePermissions(ctx context.Context, role string) ([]Permission, error)
	AttachPermission(ctx context.Context, role string, permissionID int64) (bool, error)
	DetachPermission(ctx context.Context, role string, permissionID int64) (bool, error)
}

// PGRepository implements AdminRepository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// PermissionSlugsForRole returns the slugs granted to role. The result is never nil.
func (r *PGRepository) PermissionSlugsForRole(ctx context.Context, role string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
SELECT p.slug
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role = $1
ORDER BY p.slug`, role)
	if err != nil {
		return nil, err
	}
	slugs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if slugs == nil {
		slugs = []string{}
	}
	return slugs, nil
}

const permissionColumns = `id, slug, module, action, COALESCE(description, ''), created_at`

// ListPermissions returns all permissions ordered by slug.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY module, slug`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPermission)
}

// GetPermissionBySlug fetches a permission by its slug.
func (r *PGRepository) GetPermissionBySlug(ctx context.Context, slug string) (Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE slug = $1`, slug)
	if err != nil {
		return Permission{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPermission)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, ErrNotFound
	}
	return p, err
}

// CreatePermission inserts a new permission.
func (r *PGRepository) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	rows, err := r.pool.Query(ctx, `
INSERT INTO permissions (slug, module, action, description)
VALUES ($1, $2, $3, NULLIF($4, ''))
RETURNING `+permissionColumns, p.Slug, p.Module, p.Action, p.Description)
	if err != nil {
		return Permission{}, mapPgError(err)
	}
	created, err := pgx.CollectExactlyOneRow(rows, scanPermission)
	if err != nil {
		return Permission{}, mapPgError(err)
	}
	return created, nil
}

// UpdatePermissionDescription changes the only mutable attribute of a permission.
func (r *PGRepository) UpdatePermissionDescription(ctx context.Context, id int64, description string) (Permission, error) {
	rows, err := r.pool.Query(ctx, `
UPDATE permissions SET description = NULLIF($2, '')
WHERE id = $1
RETURNING `+permissionColumns, id, description)
	if err != nil {
		return Permission{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPermission)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, ErrNotFound
	}
	return p, err
}

// ListRolePermissions returns the permissions granted to role.
func (r *PGRepository) ListRolePermissions(ctx context.Context, role string) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `
SELECT p.id, p.slug, p.module, p.action, COALESCE(p.description, ''), p.created_at
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role = $1
ORDER BY p.module, p.slug`, role)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPermission)
}

// AttachPermission grants a permission. It reports false when the grant already existed.
func (r *PGRepository) AttachPermission(ctx context.Context, role string, permissionID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
INSERT INTO role_permissions (role, permission_id) VALUES ($1, $2)
ON CONFLICT (role, permission_id) DO NOTHING`, role, permissionID)
	if err != nil {
		return false, mapPgError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// DetachPermission revokes a permission. It reports false when nothing was granted.
func (r *PGRepository) DetachPermission(ctx context.Context, role string, permissionID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM role_permissions WHERE role = $1 AND permission_id = $2`, role, permissionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanPermission(row pgx.CollectableRow) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Slug, &p.Module, &p.Action, &p.Description, &p.CreatedAt)
	return p, err
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

var _ AdminRepository = (*PGRepository)(nil)
