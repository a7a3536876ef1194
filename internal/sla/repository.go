package sla

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Breach is a record found past its due time.
type Breach struct {
	ID    int64
	DueAt time.Time
}

// Store is the persistence contract of the engine. MarkEscalated must be a
// compare-and-set on the escalation flag and report whether this call flipped it.
type Store interface {
	ListBreached(ctx context.Context, rule Rule, now time.Time, limit int) ([]Breach, error)
	MarkEscalated(ctx context.Context, rule Rule, id int64) (bool, error)
}

// PGStore implements Store against PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PGStore.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// ListBreached selects un-escalated records matching the rule whose due time is strictly before now.
func (s *PGStore) ListBreached(ctx context.Context, rule Rule, now time.Time, limit int) ([]Breach, error) {
	query, args := breachQuery(rule, now, limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sla: list %s: %w", rule.Name, err)
	}
	breaches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Breach, error) {
		var b Breach
		err := row.Scan(&b.ID, &b.DueAt)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("sla: scan %s: %w", rule.Name, err)
	}
	return breaches, nil
}

// MarkEscalated flips is_sla_escalated for id only if it is still false.
func (s *PGStore) MarkEscalated(ctx context.Context, rule Rule, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, escalateQuery(rule), id)
	if err != nil {
		return false, fmt.Errorf("sla: escalate %s/%d: %w", rule.Name, id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func breachQuery(rule Rule, now time.Time, limit int) (string, []any) {
	idCol := pgx.Identifier{rule.IDField()}.Sanitize()
	dueCol := pgx.Identifier{rule.DueField}.Sanitize()
	args := []any{now}
	conds := []string{"is_sla_escalated = false", dueCol + " < $1"}
	if rule.StatusColumn != "" {
		args = append(args, rule.StatusValues)
		conds = append(conds, fmt.Sprintf("%s = ANY($%d)", pgx.Identifier{rule.StatusColumn}.Sanitize(), len(args)))
	}
	if rule.NullColumn != "" {
		conds = append(conds, pgx.Identifier{rule.NullColumn}.Sanitize()+" IS NULL")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s, %s FROM %s WHERE %s ORDER BY %s",
		idCol, dueCol, pgx.Identifier{rule.SourceTable}.Sanitize(), strings.Join(conds, " AND "), dueCol)
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	return sb.String(), args
}

func escalateQuery(rule Rule) string {
	return fmt.Sprintf("UPDATE %s SET is_sla_escalated = true WHERE %s = $1 AND is_sla_escalated = false",
		pgx.Identifier{rule.SourceTable}.Sanitize(), pgx.Identifier{rule.IDField()}.Sanitize())
}

var _ Store = (*PGStore)(nil)
