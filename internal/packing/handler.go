package packing

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

// Handler exposes packing over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		rbac:      mw,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes attaches packing endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPackingView))
		r.Get("/cartons", h.list)
		r.Get("/cartons/{cartonID}", h.get)
		r.Get("/work-orders/{woID}/summary", h.summary)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermPackingEdit))
		r.Post("/cartons", h.pack)
		r.Post("/cartons/{cartonID}/close", h.close)
		r.Post("/cartons/{cartonID}/void", h.void)
	})
}

type packRequest struct {
	BatchID       int64    `json:"batch_id" validate:"required,gt=0"`
	Qty           int64    `json:"qty" validate:"required,gt=0"`
	NetWeightKg   *float64 `json:"net_weight_kg" validate:"omitempty,gt=0"`
	GrossWeightKg *float64 `json:"gross_weight_kg" validate:"omitempty,gt=0"`
}

func (h *Handler) pack(w http.ResponseWriter, r *http.Request) {
	var req packRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	carton, err := h.service.Pack(r.Context(), shared.ActorID(r.Context()), PackInput{
		BatchID:       req.BatchID,
		Qty:           req.Qty,
		NetWeightKg:   req.NetWeightKg,
		GrossWeightKg: req.GrossWeightKg,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, carton)
}

type closeRequest struct {
	NetWeightKg   float64 `json:"net_weight_kg" validate:"required,gt=0"`
	GrossWeightKg float64 `json:"gross_weight_kg" validate:"required,gt=0"`
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "cartonID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid carton id")
		return
	}
	var req closeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	carton, err := h.service.Close(r.Context(), shared.ActorID(r.Context()), id, req.NetWeightKg, req.GrossWeightKg)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, carton)
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "cartonID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid carton id")
		return
	}
	carton, err := h.service.Void(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, carton)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "cartonID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid carton id")
		return
	}
	carton, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, carton)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	pq := shared.ParsePageQuery(r)
	filters := ListFilters{
		Page:   pq.Page,
		Limit:  pq.PerPage,
		Status: CartonStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("wo_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filters.WOID = id
		}
	}
	if v := r.URL.Query().Get("batch_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filters.BatchID = id
		}
	}
	cartons, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"cartons":    cartons,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	woID, err := pathID(r, "woID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid work order id")
		return
	}
	summary, err := h.service.WOSummary(r.Context(), woID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "carton does not exist")
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid state", err.Error())
	case errors.Is(err, ErrWOHeld):
		httpx.Problem(w, http.StatusConflict, "Work order held", err.Error())
	case errors.Is(err, ErrOverPack):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Quantity exceeded", err.Error())
	case errors.Is(err, shared.ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error())
	default:
		h.logger.Error("packing request failed", "error", err, "path", r.URL.Path)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed")
	}
}

func pathID(r *http.Request, param string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, param), 10, 64)
}
