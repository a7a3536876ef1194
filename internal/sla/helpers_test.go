package sla

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/iers-platform/iers/internal/audit"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type row struct {
	table     string
	id        int64
	status    string
	completed bool
	due       time.Time
	escalated bool
}

// memoryStore emulates the monitored tables with a compare-and-set flag.
type memoryStore struct {
	mu        sync.Mutex
	rows      []*row
	updateErr error
	listErr   map[string]error
	panicOn   string
	barrier   *sync.WaitGroup
	updates   int
}

func (m *memoryStore) add(r row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, &r)
}

func (m *memoryStore) escalated(table string, id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.table == table && r.id == id {
			return r.escalated
		}
	}
	return false
}

func (m *memoryStore) ListBreached(ctx context.Context, rule Rule, now time.Time, limit int) ([]Breach, error) {
	if m.barrier != nil {
		m.barrier.Done()
		m.barrier.Wait()
	}
	if rule.Name == m.panicOn {
		panic("list exploded")
	}
	if err := m.listErr[rule.Name]; err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Breach
	for _, r := range m.rows {
		if r.table != rule.SourceTable || r.escalated || !r.due.Before(now) {
			continue
		}
		if rule.StatusColumn != "" && !slices.Contains(rule.StatusValues, r.status) {
			continue
		}
		if rule.NullColumn != "" && r.completed {
			continue
		}
		out = append(out, Breach{ID: r.id, DueAt: r.due})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) MarkEscalated(ctx context.Context, rule Rule, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.updateErr != nil {
		return false, m.updateErr
	}
	for _, r := range m.rows {
		if r.table == rule.SourceTable && r.id == id {
			if r.escalated {
				return false, nil
			}
			r.escalated = true
			return true, nil
		}
	}
	return false, nil
}

type memoryRecorder struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (r *memoryRecorder) Record(ctx context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *memoryRecorder) snapshot() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
