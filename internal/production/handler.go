package production

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

// Handler exposes work order endpoints.
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

// MountRoutes registers production routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProductionView))
		r.Get("/work-orders", h.listWOs)
		r.Get("/work-orders/{woID}", h.getWO)
		r.Get("/work-orders/{woID}/timeline", h.timeline)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProductionEdit))
		r.Post("/work-orders", h.createWO)
		r.Post("/work-orders/{woID}/advance", h.advance)
		r.Post("/work-orders/{woID}/hold", h.hold)
		r.Post("/work-orders/{woID}/resume", h.resume)
		r.Post("/work-orders/{woID}/cancel", h.cancel)
		r.Post("/work-orders/{woID}/batches", h.reportBatch)
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound) || errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "work order does not exist")
	case errors.Is(err, ErrInvalidStage), errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid state", err.Error())
	case errors.Is(err, ErrOnHold):
		httpx.Problem(w, http.StatusConflict, "On hold", err.Error())
	case errors.Is(err, ErrOverPlanned):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Over planned", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate request", err.Error())
	case errors.Is(err, shared.ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed")
	}
}

func woPathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "woID"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) listWOs(w http.ResponseWriter, r *http.Request) {
	pq := shared.ParsePageQuery(r)
	q := r.URL.Query()
	filters := ListFilters{
		Page:   pq.Page,
		Limit:  pq.PerPage,
		Search: strings.TrimSpace(q.Get("search")),
	}
	if raw := q.Get("stage"); raw != "" {
		filters.Stage = Stage(strings.ToUpper(raw))
	}
	if raw := q.Get("priority"); raw != "" {
		filters.Priority = Priority(strings.ToUpper(raw))
	}
	if raw := q.Get("customer_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.CustomerID = id
		}
	}
	if raw := q.Get("part_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.PartID = id
		}
	}
	if raw := q.Get("overdue"); raw != "" {
		if overdue, err := strconv.ParseBool(raw); err == nil {
			filters.Overdue = overdue
		}
	}

	orders, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "list work orders")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"work_orders": orders,
		"pagination":  shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) getWO(w http.ResponseWriter, r *http.Request) {
	id, ok := woPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid work order id")
		return
	}
	wo, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get work order")
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := woPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid work order id")
		return
	}
	history, err := h.service.Timeline(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "work order timeline")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"timeline": history})
}

type createWORequest struct {
	PartID           int64   `json:"part_id" validate:"omitempty,gt=0"`
	SalesOrderLineID *int64  `json:"sales_order_line_id,omitempty"`
	PlannedQty       int64   `json:"planned_qty" validate:"gte=0"`
	Priority         string  `json:"priority" validate:"omitempty,oneof=NORMAL URGENT BREAKDOWN"`
	DueDate          string  `json:"due_date,omitempty"`
	Notes            *string `json:"notes,omitempty"`
}

func (h *Handler) createWO(w http.ResponseWriter, r *http.Request) {
	var req createWORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	input := CreateInput{
		PartID:           req.PartID,
		SalesOrderLineID: req.SalesOrderLineID,
		PlannedQty:       req.PlannedQty,
		Priority:         Priority(req.Priority),
		Notes:            req.Notes,
	}
	if req.DueDate != "" {
		due, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "due_date must be YYYY-MM-DD")
			return
		}
		input.DueDate = due
	}
	wo, err := h.service.Create(r.Context(), shared.ActorID(r.Context()), input)
	if err != nil {
		h.respondError(w, err, "create work order")
		return
	}
	httpx.JSON(w, http.StatusCreated, wo)
}

type advanceRequest struct {
	Stage string  `json:"stage" validate:"required"`
	Note  *string `json:"note,omitempty"`
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	id, ok := woPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid work order id")
		return
	}
	var req advanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	wo, err := h.service.AdvanceStage(r.Context(), shared.ActorID(r.Context()), id,
		Stage(strings.ToUpper(req.Stage)), req.Note)
	if err != nil {
		h.respondError(w, err, "advance work order")
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

type holdRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

func (h *Handler) hold(w http.ResponseWriter, r *http.Request) {
	id, ok := woPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid work order id")
		return
	}
	var req holdRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	wo, err := h.service.Hold(r.Context(), shared.ActorID(r.Context()), id, req.Reason)
	if err != nil {
		h.respondError(w, err, "hold work order")
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	id, ok := woPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid work order id")
		return
	}
	wo, err := h.service.Resume(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.respondError(w, err, "resume work order")
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

type cancelWORequest struct {
	Note *string `json:"note,omitempty"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := woPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid work order id")
		return
	}
	var req cancelWORequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	wo, err := h.service.Cancel(r.Context(), shared.ActorID(r.Context()), id, req.Note)
	if err != nil {
		h.respondError(w, err, "cancel work order")
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

type batchRequest struct {
	Qty        int64  `json:"qty" validate:"required,gt=0"`
	Machine    string `json:"machine" validate:"max=60"`
	Operator   string `json:"operator" validate:"max=120"`
	ProducedAt string `json:"produced_at,omitempty"`
}

func (h *Handler) reportBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := woPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid work order id")
		return
	}
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	input := BatchInput{
		Qty:            req.Qty,
		Machine:        req.Machine,
		Operator:       req.Operator,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	if req.ProducedAt != "" {
		produced, err := time.Parse(time.RFC3339, req.ProducedAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "produced_at must be RFC3339")
			return
		}
		input.ProducedAt = produced
	}
	wo, err := h.service.ReportProduction(r.Context(), shared.ActorID(r.Context()), id, input)
	if err != nil {
		h.respondError(w, err, "report production")
		return
	}
	httpx.JSON(w, http.StatusCreated, wo)
}
