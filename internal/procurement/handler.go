package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/izzyftw1/rvi-sub014/internal/platform/httpx"
	"github.com/izzyftw1/rvi-sub014/internal/rbac"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: mw, validator: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProcurementView))
		r.Get("/rpos", h.listRPOs)
		r.Get("/rpos/{rpoID}", h.getRPO)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProcurementEdit))
		r.Post("/rpos", h.createRPO)
		r.Post("/rpos/{rpoID}/order", h.markOrdered)
		r.Post("/rpos/{rpoID}/receipts", h.recordReceipt)
		r.Post("/rpos/{rpoID}/close", h.closeRPO)
		r.Post("/rpos/{rpoID}/cancel", h.cancelRPO)
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "purchase order does not exist")
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid state", err.Error())
	case errors.Is(err, ErrOverTolerance):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Over tolerance", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate request", err.Error())
	case errors.Is(err, shared.ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed")
	}
}

func rpoPathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "rpoID"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) listRPOs(w http.ResponseWriter, r *http.Request) {
	pq := shared.ParsePageQuery(r)
	q := r.URL.Query()
	filters := ListFilters{
		Page:   pq.Page,
		Limit:  pq.PerPage,
		Search: strings.TrimSpace(q.Get("search")),
	}
	if raw := q.Get("status"); raw != "" {
		filters.Status = RPOStatus(strings.ToUpper(raw))
	}
	if raw := q.Get("supplier_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.SupplierID = id
		}
	}
	if raw := q.Get("overdue"); raw != "" {
		if overdue, err := strconv.ParseBool(raw); err == nil {
			filters.Overdue = overdue
		}
	}

	rpos, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "list RPOs")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"rpos":       rpos,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) getRPO(w http.ResponseWriter, r *http.Request) {
	id, ok := rpoPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid rpo id")
		return
	}
	rpo, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get RPO")
		return
	}
	httpx.JSON(w, http.StatusOK, rpo)
}

type createRPORequest struct {
	SupplierID   int64   `json:"supplier_id" validate:"required,gt=0"`
	MaterialSpec string  `json:"material_spec" validate:"required,max=60"`
	Section      string  `json:"section" validate:"max=40"`
	OrderedKg    float64 `json:"ordered_kg" validate:"required,gt=0"`
	RatePerKg    float64 `json:"rate_per_kg" validate:"gte=0"`
	ExpectedDate string  `json:"expected_date" validate:"required"`
	Notes        *string `json:"notes,omitempty"`
}

func (h *Handler) createRPO(w http.ResponseWriter, r *http.Request) {
	var req createRPORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	expected, err := time.Parse("2006-01-02", req.ExpectedDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "expected_date must be YYYY-MM-DD")
		return
	}
	rpo, err := h.service.CreateRPO(r.Context(), shared.ActorID(r.Context()), CreateRPOInput{
		SupplierID:   req.SupplierID,
		MaterialSpec: req.MaterialSpec,
		Section:      req.Section,
		OrderedKg:    req.OrderedKg,
		RatePerKg:    req.RatePerKg,
		ExpectedDate: expected,
		Notes:        req.Notes,
	})
	if err != nil {
		h.respondError(w, err, "create RPO")
		return
	}
	httpx.JSON(w, http.StatusCreated, rpo)
}

func (h *Handler) markOrdered(w http.ResponseWriter, r *http.Request) {
	id, ok := rpoPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid rpo id")
		return
	}
	rpo, err := h.service.MarkOrdered(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.respondError(w, err, "mark RPO ordered")
		return
	}
	httpx.JSON(w, http.StatusOK, rpo)
}

type receiptRequest struct {
	ReceivedKg   float64 `json:"received_kg" validate:"required,gt=0"`
	HeatNo       string  `json:"heat_no" validate:"required,max=40"`
	MillTCNo     string  `json:"mill_tc_no" validate:"max=60"`
	ReceivedDate string  `json:"received_date,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

func (h *Handler) recordReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := rpoPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid rpo id")
		return
	}
	var req receiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	input := ReceiptInput{
		ReceivedKg:     req.ReceivedKg,
		HeatNo:         req.HeatNo,
		MillTCNo:       req.MillTCNo,
		Notes:          req.Notes,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	if req.ReceivedDate != "" {
		received, err := time.Parse("2006-01-02", req.ReceivedDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "received_date must be YYYY-MM-DD")
			return
		}
		input.ReceivedDate = received
	}
	rpo, err := h.service.RecordReceipt(r.Context(), shared.ActorID(r.Context()), id, input)
	if err != nil {
		h.respondError(w, err, "record receipt")
		return
	}
	httpx.JSON(w, http.StatusCreated, rpo)
}

func (h *Handler) closeRPO(w http.ResponseWriter, r *http.Request) {
	id, ok := rpoPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid rpo id")
		return
	}
	rpo, err := h.service.Close(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.respondError(w, err, "close RPO")
		return
	}
	httpx.JSON(w, http.StatusOK, rpo)
}

func (h *Handler) cancelRPO(w http.ResponseWriter, r *http.Request) {
	id, ok := rpoPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid rpo id")
		return
	}
	rpo, err := h.service.Cancel(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.respondError(w, err, "cancel RPO")
		return
	}
	httpx.JSON(w, http.StatusOK, rpo)
}
