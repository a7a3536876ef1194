package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/iers-platform/iers/internal/audit/http"
	"github.com/iers-platform/iers/internal/auth"
	"github.com/iers-platform/iers/internal/features"
	"github.com/iers-platform/iers/internal/observability"
	"github.com/iers-platform/iers/internal/platform/httpx"
	"github.com/iers-platform/iers/internal/rbac"
	"github.com/iers-platform/iers/internal/session"
	"github.com/iers-platform/iers/internal/sla"
	"github.com/iers-platform/iers/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Sessions *session.Manager
	Flags    *features.Flags
	Metrics  *observability.Metrics
	RBAC     rbac.Middleware

	AuthHandler        *auth.Handler
	PermissionsHandler *rbac.AdminHandler
	AuditHandler       *audithttp.Handler
	SLAHandler         *sla.Handler
	FeaturesHandler    *features.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with IERS defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:   params.Logger,
		Config:   params.Config,
		Sessions: params.Sessions,
		Metrics:  params.Metrics,
	}) {
		r.Use(mw)
	}
	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no such resource")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.AuthHandler != nil {
			r.Route("/auth", params.AuthHandler.MountRoutes)
		}
		if params.FeaturesHandler != nil {
			params.FeaturesHandler.MountRoutes(r)
		}
		if params.PermissionsHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(params.Flags.Gate(features.ModulePermissions))
				params.PermissionsHandler.MountRoutes(r)
			})
		}
		if params.AuditHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(params.Flags.Gate(features.ModuleAudit))
				params.AuditHandler.MountRoutes(r)
			})
		}
		if params.SLAHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(params.Flags.Gate(features.ModuleSLA))
				params.SLAHandler.MountRoutes(r)
			})
		}
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBAC.Require(rbac.PermSLARun))
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}
