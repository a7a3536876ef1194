package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
)

//go:embed schema.sql
var schema string

// Step runs inside the migration transaction after the core schema.
type Step func(ctx context.Context, tx pgx.Tx) error

// Migrate applies the core schema followed by steps in a single transaction.
// Every statement is idempotent so the command can run on each deploy.
func Migrate(ctx context.Context, db TxBeginner, steps ...Step) error {
	return WithTxOptions(ctx, db, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, schema); err != nil {
			return fmt.Errorf("db: apply schema: %w", err)
		}
		for i, step := range steps {
			if step == nil {
				continue
			}
			if err := step(ctx, tx); err != nil {
				return fmt.Errorf("db: migration step %d: %w", i, err)
			}
		}
		return nil
	})
}
