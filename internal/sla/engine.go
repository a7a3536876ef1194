package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iers-platform/iers/internal/audit"
	jobmetrics "github.com/iers-platform/iers/internal/jobs"
)

const (
	// JobName labels audit passes in job metrics.
	JobName = "sla_audit"
	// DefaultInterval is the audit period used when none is configured.
	DefaultInterval = 15 * time.Minute

	defaultBatchSize   = 500
	defaultConcurrency = 4
)

// Summary reports the outcome of one audit pass. AuditFailed counts records
// that were flagged but whose breach event could not be written; they are
// included in Escalated.
type Summary struct {
	Rules       int `json:"rules"`
	Breaches    int `json:"breaches"`
	Escalated   int `json:"escalated"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
	AuditFailed int `json:"audit_failed"`
	RuleErrors  int `json:"rule_errors"`
}

// Engine runs the SLA rule table against the store.
type Engine struct {
	store       Store
	recorder    audit.Recorder
	rules       []Rule
	logger      *slog.Logger
	metrics     *jobmetrics.Metrics
	now         func() time.Time
	batchSize   int
	concurrency int
}

// Option customises an Engine.
type Option func(*Engine)

// WithMetrics attaches job metrics.
func WithMetrics(m *jobmetrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithBatchSize caps the number of breaches handled per rule per pass.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithConcurrency bounds how many rules are scanned at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewEngine validates rules and builds an engine.
func NewEngine(store Store, recorder audit.Recorder, rules []Rule, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = audit.Discard{}
	}
	e := &Engine{
		store:       store,
		recorder:    recorder,
		rules:       append([]Rule(nil), rules...),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Rules returns a copy of the configured rule table.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// RunAudit scans every rule once. Rules are independent: a failing rule is
// logged and reported in the joined error while the others complete.
func (e *Engine) RunAudit(ctx context.Context) (Summary, error) {
	return e.run(ctx, e.rules)
}

// RunRule scans a single named rule.
func (e *Engine) RunRule(ctx context.Context, name string) (Summary, error) {
	rule, ok := FindRule(e.rules, name)
	if !ok {
		return Summary{}, fmt.Errorf("%w: unknown rule %s", ErrInvalidRule, name)
	}
	return e.run(ctx, []Rule{rule})
}

func (e *Engine) run(ctx context.Context, rules []Rule) (Summary, error) {
	var breaches, escalated, skipped, failed, auditFailed atomic.Int64
	ruleErrs := make([]error, len(rules))
	now := e.now()

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, rule := range rules {
		i, rule := i, rule
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("sla: rule %s panicked: %v", rule.Name, r)
					e.logger.Error("sla rule panic", slog.String("rule", rule.Name), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				}
				ruleErrs[i] = err
			}()
			found, err := e.store.ListBreached(ctx, rule, now, e.batchSize)
			if err != nil {
				e.logger.Error("sla list breaches", slog.String("rule", rule.Name), slog.Any("error", err))
				return err
			}
			breaches.Add(int64(len(found)))
			e.metrics.SetBreaches(rule.Name, len(found))
			done := 0
			var recordErrs []error
			for _, b := range found {
				ok, err := e.Escalate(ctx, rule, b)
				switch {
				case err != nil && !ok:
					failed.Add(1)
				case ok && err != nil:
					done++
					auditFailed.Add(1)
					recordErrs = append(recordErrs, err)
				case ok:
					done++
				default:
					skipped.Add(1)
				}
			}
			escalated.Add(int64(done))
			e.metrics.AddEscalations(rule.Name, done)
			return errors.Join(recordErrs...)
		})
	}
	// Per-rule errors are collected in ruleErrs so one rule never cancels another.
	_ = g.Wait()

	summary := Summary{
		Rules:       len(rules),
		Breaches:    int(breaches.Load()),
		Escalated:   int(escalated.Load()),
		Skipped:     int(skipped.Load()),
		Failed:      int(failed.Load()),
		AuditFailed: int(auditFailed.Load()),
	}
	for _, err := range ruleErrs {
		if err != nil {
			summary.RuleErrors++
		}
	}
	return summary, errors.Join(ruleErrs...)
}

// Escalate flags one breached record and records the audit event. It returns
// false without error when another pass already flagged the record. A failed
// flag update is logged and no event is written, so the next pass retries it.
func (e *Engine) Escalate(ctx context.Context, rule Rule, b Breach) (bool, error) {
	ok, err := e.store.MarkEscalated(ctx, rule, b.ID)
	if err != nil {
		e.logger.Error("sla escalate", slog.String("rule", rule.Name), slog.Int64("id", b.ID), slog.Any("error", err))
		return false, err
	}
	if !ok {
		return false, nil
	}
	detected := e.now()
	meta := map[string]any{
		"rule":        rule.Name,
		"notify_role": rule.NotifyRole,
		"detected_at": detected.Format(time.RFC3339Nano),
	}
	if !b.DueAt.IsZero() {
		meta["due_at"] = b.DueAt.UTC().Format(time.RFC3339Nano)
	}
	err = e.recorder.Record(ctx, audit.Event{
		ActorID:  nil,
		Action:   audit.ActionSLABreachDetected,
		Entity:   rule.SourceTable,
		EntityID: strconv.FormatInt(b.ID, 10),
		Meta:     meta,
		At:       detected,
	})
	if err != nil {
		e.logger.Error("sla audit record", slog.String("rule", rule.Name), slog.Int64("id", b.ID), slog.Any("error", err))
		return true, fmt.Errorf("sla: record breach %s/%d: %w", rule.Name, b.ID, err)
	}
	e.logger.Info("sla breach escalated",
		slog.String("rule", rule.Name),
		slog.String("entity", rule.SourceTable),
		slog.Int64("id", b.ID),
		slog.String("notify_role", rule.NotifyRole))
	return true, nil
}

// Start runs an audit immediately and then every interval until ctx is done.
// It blocks; callers run it in its own goroutine. Overlapping passes from
// other processes are safe because escalation is a compare-and-set.
func (e *Engine) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	e.logger.Info("sla engine started", slog.Duration("interval", interval), slog.Int("rules", len(e.rules)))
	e.Tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sla engine stopped")
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one instrumented audit pass and never panics.
func (e *Engine) Tick(ctx context.Context) {
	tracker := e.metrics.Track(JobName)
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sla: tick panicked: %v", r)
			e.logger.Error("sla tick panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
		_ = tracker.End(err)
	}()

	var summary Summary
	summary, err = e.RunAudit(ctx)
	attrs := []any{
		slog.Int("breaches", summary.Breaches),
		slog.Int("escalated", summary.Escalated),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Int("audit_failed", summary.AuditFailed),
	}
	if err != nil {
		e.logger.Warn("sla audit completed with errors", append(attrs, slog.Any("error", err))...)
		return
	}
	e.logger.Info("sla audit completed", attrs...)
}
