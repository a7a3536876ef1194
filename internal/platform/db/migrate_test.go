package db

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaDeclaresCoreTables(t *testing.T) {
	for _, table := range []string{"permissions", "role_permissions", "users", "audit_logs"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	dsn := os.Getenv("IERS_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("IERS_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	calls := 0
	step := func(ctx context.Context, tx pgx.Tx) error {
		calls++
		_, err := tx.Exec(ctx, `INSERT INTO permissions (slug, module, action) VALUES ('iers:test:migrate:run', 'test', 'run') ON CONFLICT (slug) DO NOTHING`)
		return err
	}
	require.NoError(t, Migrate(ctx, pool, step))
	require.NoError(t, Migrate(ctx, pool, step))
	assert.Equal(t, 2, calls)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM permissions WHERE slug = 'iers:test:migrate:run'`).Scan(&count))
	assert.Equal(t, 1, count)
	_, err = pool.Exec(ctx, `DELETE FROM permissions WHERE slug = 'iers:test:migrate:run'`)
	require.NoError(t, err)
}
