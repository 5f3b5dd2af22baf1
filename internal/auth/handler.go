package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/izzyftw1/rvi-sub014/internal/platform/httpx"
	"github.com/izzyftw1/rvi-sub014/internal/rbac"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// Handler exposes the administration surface: operators, roles, and grants.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	roles     *rbac.Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, roles *rbac.Service, mw rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		roles:     roles,
		rbac:      mw,
		validator: validator.New(),
	}
}

// MountRoutes registers administration routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAny(shared.PermAdminManage))
	r.Get("/operators", h.listOperators)
	r.Post("/operators", h.createOperator)
	r.Patch("/operators/{operatorID}", h.updateOperator)
	r.Post("/operators/{operatorID}/rotate", h.rotateKey)
	r.Get("/roles", h.listRoles)
	r.Post("/roles", h.createRole)
	r.Delete("/roles/{roleID}", h.deleteRole)
	r.Put("/roles/{roleID}/permissions", h.setRolePermissions)
	r.Get("/permissions", h.listPermissions)
}

type createOperatorRequest struct {
	Name string `json:"name" validate:"required,min=2,max=120"`
	Role string `json:"role" validate:"required,min=2,max=64"`
}

type updateOperatorRequest struct {
	Role   *string `json:"role" validate:"omitempty,min=2,max=64"`
	Active *bool   `json:"active"`
}

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	Description string `json:"description" validate:"max=300"`
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"required"`
}

func (h *Handler) listOperators(w http.ResponseWriter, r *http.Request) {
	operators, err := h.service.ListOperators(r.Context())
	if err != nil {
		h.logger.Error("list operators", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "failed to list operators")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"operators": operators})
}

func (h *Handler) createOperator(w http.ResponseWriter, r *http.Request) {
	var req createOperatorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	issued, err := h.service.CreateOperator(r.Context(), req.Name, req.Role)
	if err != nil {
		if errors.Is(err, ErrUnknownRole) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown role", "role does not exist")
			return
		}
		h.logger.Error("create operator", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "failed to create operator")
		return
	}
	httpx.JSON(w, http.StatusCreated, issued)
}

func (h *Handler) updateOperator(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "operatorID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid operator id")
		return
	}
	var req updateOperatorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	if req.Role == nil && req.Active == nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "nothing to update")
		return
	}
	if req.Role != nil {
		if err := h.service.SetRole(r.Context(), id, *req.Role); err != nil {
			h.respondOperatorError(w, err, "update operator role")
			return
		}
	}
	if req.Active != nil {
		if err := h.service.SetActive(r.Context(), id, *req.Active); err != nil {
			h.respondOperatorError(w, err, "update operator active")
			return
		}
	}
	httpx.NoContent(w)
}

func (h *Handler) rotateKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "operatorID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid operator id")
		return
	}
	issued, err := h.service.RotateKey(r.Context(), id)
	if err != nil {
		h.respondOperatorError(w, err, "rotate operator key")
		return
	}
	httpx.JSON(w, http.StatusOK, issued)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.roles.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "failed to list roles")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	role, err := h.roles.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		if errors.Is(err, rbac.ErrImmutableRole) {
			httpx.Problem(w, http.StatusConflict, "Conflict", "the admin role is built in")
			return
		}
		h.logger.Error("create role", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "failed to create role")
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid role id")
		return
	}
	if err := h.roles.DeleteRole(r.Context(), id); err != nil {
		h.respondRoleError(w, err, "delete role")
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid role id")
		return
	}
	var req setPermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	if err := h.roles.SetRolePermissions(r.Context(), id, req.Permissions); err != nil {
		if errors.Is(err, rbac.ErrUnknownPermission) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown permission", "permission outside the known set")
			return
		}
		h.respondRoleError(w, err, "set role permissions")
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": shared.AllScopes()})
}

func (h *Handler) respondOperatorError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "operator does not exist")
	case errors.Is(err, ErrUnknownRole):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown role", "role does not exist")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed")
	}
}

func (h *Handler) respondRoleError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, rbac.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "role does not exist")
	case errors.Is(err, rbac.ErrImmutableRole):
		httpx.Problem(w, http.StatusConflict, "Conflict", "the admin role is built in")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed")
	}
}
