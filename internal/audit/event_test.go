package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureExec struct {
	sql  string
	args []any
	err  error
}

func (c *captureExec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.sql = sql
	c.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), c.err
}

func TestPGRecorderRecordSystemEvent(t *testing.T) {
	exec := &captureExec{}
	rec := NewPGRecorder(exec)
	fixed := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return fixed }

	err := rec.Record(context.Background(), Event{
		Action:   ActionSLABreachDetected,
		Entity:   "phd_applications",
		EntityID: "42",
		Meta:     map[string]any{"rule": "scrutiny-delay"},
	})
	require.NoError(t, err)
	assert.Contains(t, exec.sql, "INSERT INTO audit_logs")
	require.Len(t, exec.args, 6)
	assert.Nil(t, exec.args[0].(*int64))
	assert.Equal(t, ActionSLABreachDetected, exec.args[1])
	assert.Equal(t, "phd_applications", exec.args[2])
	assert.Equal(t, "42", exec.args[3])
	var meta map[string]any
	require.NoError(t, json.Unmarshal(exec.args[4].([]byte), &meta))
	assert.Equal(t, "scrutiny-delay", meta["rule"])
	assert.Equal(t, fixed, exec.args[5])
}

func TestPGRecorderRejectsIncompleteEvent(t *testing.T) {
	rec := NewPGRecorder(&captureExec{})
	err := rec.Record(context.Background(), Event{Action: "X", Entity: ""})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestPGRecorderWrapsExecError(t *testing.T) {
	boom := errors.New("conn reset")
	rec := NewPGRecorder(&captureExec{err: boom})
	actor := int64(7)
	err := rec.Record(context.Background(), Event{ActorID: &actor, Action: "A", Entity: "E", EntityID: "1"})
	assert.ErrorIs(t, err, boom)
}
