package rbac

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SeedCoreScopes returns a migration step that upserts CoreScopes and grants
// all of them to adminRole. An empty adminRole only seeds the permissions.
// Callers must InvalidateRole(adminRole) after the transaction commits.
func SeedCoreScopes(adminRole string) func(ctx context.Context, tx pgx.Tx) error {
	role := NormalizeRole(adminRole)
	return func(ctx context.Context, tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range CoreScopes() {
			batch.Queue(`
INSERT INTO permissions (slug, module, action, description)
VALUES ($1, $2, $3, $4)
ON CONFLICT (slug) DO UPDATE SET description = COALESCE(permissions.description, EXCLUDED.description)`,
				p.Slug, p.Module, p.Action, p.Description)
			if role != "" {
				batch.Queue(`
INSERT INTO role_permissions (role, permission_id)
SELECT $1, id FROM permissions WHERE slug = $2
ON CONFLICT (role, permission_id) DO NOTHING`, role, p.Slug)
			}
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("rbac: seed core scopes: %w", err)
		}
		return nil
	}
}
