package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/iers-platform/iers/internal/jobs"
	"github.com/iers-platform/iers/internal/sla"
)

// SLAAuditJob runs the SLA engine from the worker process.
type SLAAuditJob struct {
	Engine  *sla.Engine
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSLAAuditJob initialises the SLA audit handler.
func NewSLAAuditJob(engine *sla.Engine, logger *slog.Logger, metrics *jobmetrics.Metrics) *SLAAuditJob {
	return &SLAAuditJob{Engine: engine, Logger: logger, Metrics: metrics}
}

// Handle executes one audit pass. Rule failures are returned so asynq
// retries the task; records already escalated are skipped on retry.
func (j *SLAAuditJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("sla audit: handler not configured")
	}
	var payload SLAAuditPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := time.Now()
	tracker := j.Metrics.Track(sla.JobName)
	var resultErr error
	defer func() {
		_ = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("task", TaskSLAAudit))
	var summary sla.Summary
	if payload.Rule != "" {
		logger = logger.With(slog.String("rule", payload.Rule))
		summary, resultErr = j.Engine.RunRule(ctx, payload.Rule)
		if errors.Is(resultErr, sla.ErrInvalidRule) {
			logger.Error("unknown sla rule", slog.Any("error", resultErr))
			return asynq.SkipRetry
		}
	} else {
		summary, resultErr = j.Engine.RunAudit(ctx)
	}

	attrs := []any{
		slog.Int("breaches", summary.Breaches),
		slog.Int("escalated", summary.Escalated),
		slog.Int("failed", summary.Failed),
		slog.Int("audit_failed", summary.AuditFailed),
		slog.Duration("duration", time.Since(start)),
	}
	if resultErr != nil {
		logger.Error("sla audit failed", append(attrs, slog.Any("error", resultErr))...)
		return resultErr
	}
	logger.Info("completed sla audit", attrs...)
	return nil
}

func (j *SLAAuditJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
