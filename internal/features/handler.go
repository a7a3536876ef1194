package features

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iers-platform/iers/internal/platform/httpx"
	"github.com/iers-platform/iers/internal/rbac"
)

// Handler exposes the flag table.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds a features handler.
func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: mw}
}

// MountRoutes registers feature routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.Require(rbac.PermFeatureRead)).Get("/features", h.list)
	r.Put("/features/{module}", h.toggle)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"features": h.service.Flags().Snapshot()})
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Enabled == nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "enabled must be a boolean")
		return
	}
	module := chi.URLParam(r, "module")
	changed, err := h.service.Toggle(r.Context(), rbac.ActorFromContext(r.Context()), module, *req.Enabled)
	var denied *rbac.DeniedError
	switch {
	case errors.As(err, &denied):
		rbac.WriteDenial(w, denied.Decision)
		return
	case errors.Is(err, ErrUnknownModule):
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	case err != nil:
		h.logger.Error("toggle feature", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"module": module, "enabled": *req.Enabled, "changed": changed})
}
