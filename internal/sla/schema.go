package sla

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// EnsureEscalationColumns returns a migration step adding the escalation flag
// and a pending-breach index to every rule table that exists. Missing tables
// are skipped; they belong to the workflow services that own them.
func EnsureEscalationColumns(rules []Rule) func(ctx context.Context, tx pgx.Tx) error {
	return func(ctx context.Context, tx pgx.Tx) error {
		for _, rule := range rules {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, rule.SourceTable).Scan(&exists); err != nil {
				return fmt.Errorf("sla: lookup %s: %w", rule.SourceTable, err)
			}
			if !exists {
				continue
			}
			for _, stmt := range escalationDDL(rule) {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("sla: migrate %s: %w", rule.Name, err)
				}
			}
		}
		return nil
	}
}

func escalationDDL(rule Rule) []string {
	table := pgx.Identifier{rule.SourceTable}.Sanitize()
	index := pgx.Identifier{rule.SourceTable + "_" + rule.DueField + "_sla_pending_idx"}.Sanitize()
	return []string{
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS is_sla_escalated BOOLEAN NOT NULL DEFAULT false`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s) WHERE is_sla_escalated = false`,
			index, table, pgx.Identifier{rule.DueField}.Sanitize()),
	}
}
