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
	"github.com/redis/go-redis/v9"

	"github.com/iers-platform/iers/internal/app"
	"github.com/iers-platform/iers/internal/audit"
	audithttp "github.com/iers-platform/iers/internal/audit/http"
	"github.com/iers-platform/iers/internal/auth"
	"github.com/iers-platform/iers/internal/cache"
	"github.com/iers-platform/iers/internal/features"
	jobmetrics "github.com/iers-platform/iers/internal/jobs"
	"github.com/iers-platform/iers/internal/observability"
	platformcache "github.com/iers-platform/iers/internal/platform/cache"
	"github.com/iers-platform/iers/internal/platform/db"
	"github.com/iers-platform/iers/internal/rbac"
	"github.com/iers-platform/iers/internal/session"
	"github.com/iers-platform/iers/internal/sla"
	"github.com/iers-platform/iers/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	cacheService := cache.NewService(platformcache.NewRedisStore(redisClient), logger.With(slog.String("component", "cache")), cfg.CacheKeyPrefix)
	recorder := audit.NewPGRecorder(pool)

	rbacRepo := rbac.NewRepository(pool)
	resolver := rbac.NewResolver(rbacRepo, cacheService, cfg.RBACPermissionTTL, logger)
	guard := rbac.NewGuard(resolver, logger, metrics)
	rbacMiddleware := rbac.Middleware{Guard: guard}
	adminService := rbac.NewAdminService(rbacRepo, resolver, recorder, logger)

	sessions := session.NewManager(redisClient, "", cfg.SessionTTL, cfg.IsProduction(), logger)
	authService := auth.NewService(auth.NewRepository(pool), resolver, sessions, recorder, logger)

	auditService := audit.NewService(audit.NewRepository(pool))

	flags := features.New(cfg.FeatureFlags)
	featureService := features.NewService(flags, guard, recorder, logger)

	engine, err := sla.NewEngine(sla.NewStore(pool), recorder, sla.DefaultRules(), logger.With(slog.String("component", "sla")),
		sla.WithMetrics(jobMetrics),
		sla.WithBatchSize(cfg.SLABatchSize),
	)
	if err != nil {
		logger.Error("init sla engine", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Sessions:           sessions,
		Flags:              flags,
		Metrics:            metrics,
		RBAC:               rbacMiddleware,
		AuthHandler:        auth.NewHandler(logger, authService, sessions, cfg.LoginRateLimit),
		PermissionsHandler: rbac.NewAdminHandler(logger, adminService, rbacMiddleware),
		AuditHandler:       audithttp.NewHandler(logger, auditService, rbacMiddleware),
		SLAHandler:         sla.NewHandler(logger, engine, rbacMiddleware),
		FeaturesHandler:    features.NewHandler(logger, featureService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
	})

	if cfg.SLAEngineMode == app.SLAModeInline {
		go engine.Start(ctx, cfg.SLAAuditInterval)
	} else {
		logger.Info("inline sla engine disabled", slog.String("mode", cfg.SLAEngineMode))
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
