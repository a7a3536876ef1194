package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/iers-platform/iers/internal/app"
	"github.com/iers-platform/iers/internal/audit"
	jobmetrics "github.com/iers-platform/iers/internal/jobs"
	"github.com/iers-platform/iers/internal/observability"
	"github.com/iers-platform/iers/internal/platform/db"
	"github.com/iers-platform/iers/internal/sla"
	"github.com/iers-platform/iers/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("process", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns), db.WithApplicationName("iers-worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	engine, err := sla.NewEngine(sla.NewStore(pool), audit.NewPGRecorder(pool), sla.DefaultRules(), logger.With(slog.String("component", "sla")),
		sla.WithMetrics(jobMetrics),
		sla.WithBatchSize(cfg.SLABatchSize),
	)
	if err != nil {
		logger.Error("init sla engine", slog.Any("error", err))
		os.Exit(1)
	}
	slaJob := jobs.NewSLAAuditJob(engine, logger, jobMetrics)

	var cron []jobs.CronRegistration
	if cfg.SLAEngineMode == app.SLAModeWorker {
		auditTask, err := jobs.NewSLAAuditTask("")
		if err != nil {
			logger.Error("build sla audit task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec: cfg.SLAAuditCron,
			Task: auditTask,
			Options: []asynq.Option{
				asynq.Queue(jobs.QueueCompliance),
				asynq.MaxRetry(3),
				asynq.Unique(cfg.SLAAuditInterval),
			},
		})
	} else {
		logger.Info("sla cron not registered", slog.String("mode", cfg.SLAEngineMode))
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSLAAudit, Handler: slaJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
