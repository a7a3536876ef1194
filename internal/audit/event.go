// Package audit records and lists append-only security and compliance events.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Well known audit actions.
const (
	ActionSLABreachDetected     = "SLA_BREACH_DETECTED"
	ActionRolePermissionGranted = "ROLE_PERMISSION_GRANTED"
	ActionRolePermissionRevoked = "ROLE_PERMISSION_REVOKED"
	ActionPermissionCreated     = "PERMISSION_CREATED"
	ActionPermissionUpdated     = "PERMISSION_UPDATED"
	ActionFeatureToggled        = "FEATURE_TOGGLED"
	ActionLogin                 = "LOGIN"
)

// Event is a single immutable audit record. ActorID is nil for system initiated events.
type Event struct {
	ActorID  *int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Recorder appends audit events.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// ErrInvalidEvent indicates a missing mandatory field.
var ErrInvalidEvent = errors.New("audit: event requires action/entity/entity_id")

// PGRecorder writes events into audit_logs.
type PGRecorder struct {
	db  Execer
	now func() time.Time
}

// NewPGRecorder returns a recorder backed by db.
func NewPGRecorder(db Execer) *PGRecorder {
	return &PGRecorder{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Record persists the event.
func (r *PGRecorder) Record(ctx context.Context, event Event) error {
	if r == nil || r.db == nil {
		return errors.New("audit: recorder not initialised")
	}
	if err := event.validate(); err != nil {
		return err
	}
	at := event.At
	if at.IsZero() {
		at = r.now()
	}
	meta := event.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ActorID, event.Action, event.Entity, event.EntityID, metaJSON, at)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func (e Event) validate() error {
	if strings.TrimSpace(e.Action) == "" || strings.TrimSpace(e.Entity) == "" || strings.TrimSpace(e.EntityID) == "" {
		return ErrInvalidEvent
	}
	return nil
}

// Discard drops every event. Useful for tools that run without a database.
type Discard struct{}

// Record implements Recorder.
func (Discard) Record(context.Context, Event) error { return nil }

var (
	_ Recorder = (*PGRecorder)(nil)
	_ Recorder = Discard{}
)
