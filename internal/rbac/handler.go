package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/iers-platform/iers/internal/platform/httpx"
)

// AdminHandler exposes the permission administration endpoints as JSON.
type AdminHandler struct {
	logger    *slog.Logger
	service   *AdminService
	rbac      Middleware
	validator *validator.Validate
}

// NewAdminHandler builds AdminHandler instance.
func NewAdminHandler(logger *slog.Logger, service *AdminService, rbac Middleware) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers permission routes.
func (h *AdminHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(PermPermissionRead))
		r.Get("/permissions", h.listPermissions)
		r.Get("/roles/{role}/permissions", h.listRolePermissions)
	})
	r.With(h.rbac.Require(PermPermissionCreate)).Post("/permissions", h.createPermission)
	r.With(h.rbac.Require(PermPermissionUpdate)).Patch("/permissions/{id}", h.updatePermission)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireFresh(PermRoleAssign))
		r.Put("/roles/{role}/permissions/{slug}", h.grant)
		r.Delete("/roles/{role}/permissions/{slug}", h.revoke)
	})
}

type createPermissionRequest struct {
	Slug        string `json:"slug" validate:"required,max=150"`
	Module      string `json:"module" validate:"required,max=60"`
	Action      string `json:"action" validate:"required,max=60"`
	Description string `json:"description" validate:"max=500"`
}

type updatePermissionRequest struct {
	Description string `json:"description" validate:"max=500"`
}

type grantResponse struct {
	Role       string `json:"role"`
	Permission string `json:"permission"`
	Changed    bool   `json:"changed"`
}

func (h *AdminHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.respondError(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": nonNil(perms)})
}

func (h *AdminHandler) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	perms, err := h.service.RolePermissions(r.Context(), role)
	if err != nil {
		h.respondError(w, "list role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": NormalizeRole(role), "permissions": nonNil(perms)})
}

func (h *AdminHandler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", describeValidation(err))
		return
	}
	created, err := h.service.CreatePermission(r.Context(), ActorFromContext(r.Context()), Permission{
		Slug:        req.Slug,
		Module:      req.Module,
		Action:      req.Action,
		Description: req.Description,
	})
	if err != nil {
		h.respondError(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *AdminHandler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid permission id")
		return
	}
	var req updatePermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", describeValidation(err))
		return
	}
	updated, err := h.service.UpdateDescription(r.Context(), ActorFromContext(r.Context()), id, req.Description)
	if err != nil {
		h.respondError(w, "update permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *AdminHandler) grant(w http.ResponseWriter, r *http.Request) {
	role, slug := chi.URLParam(r, "role"), chi.URLParam(r, "slug")
	changed, err := h.service.Grant(r.Context(), ActorFromContext(r.Context()), role, slug)
	if err != nil {
		h.respondError(w, "grant permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grantResponse{Role: NormalizeRole(role), Permission: NormalizeSlug(slug), Changed: changed})
}

func (h *AdminHandler) revoke(w http.ResponseWriter, r *http.Request) {
	role, slug := chi.URLParam(r, "role"), chi.URLParam(r, "slug")
	changed, err := h.service.Revoke(r.Context(), ActorFromContext(r.Context()), role, slug)
	if err != nil {
		h.respondError(w, "revoke permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grantResponse{Role: NormalizeRole(role), Permission: NormalizeSlug(slug), Changed: changed})
}

func (h *AdminHandler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrDuplicate):
		httpx.RespondError(w, httpx.ErrDuplicate)
	case errors.Is(err, ErrInvalidRole), errors.Is(err, ErrInvalidPermission):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return strings.Join(fields, "; ")
}

func nonNil(perms []Permission) []Permission {
	if perms == nil {
		return []Permission{}
	}
	return perms
}
