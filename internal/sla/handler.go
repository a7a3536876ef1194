package sla

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iers-platform/iers/internal/platform/httpx"
	"github.com/iers-platform/iers/internal/rbac"
)

// Handler exposes manual audit triggers for compliance staff.
type Handler struct {
	logger *slog.Logger
	engine *Engine
	rbac   rbac.Middleware
}

// NewHandler builds an SLA handler.
func NewHandler(logger *slog.Logger, engine *Engine, mw rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine, rbac: mw}
}

// MountRoutes registers the SLA endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.PermSLARun))
		r.Get("/sla/rules", h.listRules)
		r.Post("/sla/audit", h.runAudit)
	})
}

type ruleView struct {
	Name        string `json:"name"`
	SourceTable string `json:"source_table"`
	DueField    string `json:"due_field"`
	NotifyRole  string `json:"notify_role"`
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	rules := h.engine.Rules()
	views := make([]ruleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, ruleView{
			Name:        rule.Name,
			SourceTable: rule.SourceTable,
			DueField:    rule.DueField,
			NotifyRole:  rule.NotifyRole,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rules": views})
}

func (h *Handler) runAudit(w http.ResponseWriter, r *http.Request) {
	var (
		summary Summary
		err     error
	)
	if name := r.URL.Query().Get("rule"); name != "" {
		summary, err = h.engine.RunRule(r.Context(), name)
	} else {
		summary, err = h.engine.RunAudit(r.Context())
	}
	if errors.Is(err, ErrInvalidRule) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actorID := int64(0)
	if actor := rbac.ActorFromContext(r.Context()); actor != nil {
		actorID = actor.ID
	}
	h.logger.Info("sla audit triggered", slog.Int64("actor_id", actorID), slog.Int("escalated", summary.Escalated))
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, summary)
}
