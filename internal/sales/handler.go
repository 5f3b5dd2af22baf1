package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/izzyftw1/rvi-sub014/internal/platform/httpx"
	"github.com/izzyftw1/rvi-sub014/internal/rbac"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// Handler exposes sales order endpoints.
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

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSalesView))
		r.Get("/orders", h.listOrders)
		r.Get("/orders/open", h.openLines)
		r.Get("/orders/{orderID}", h.getOrder)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermSalesEdit))
		r.Post("/orders", h.createOrder)
		r.Put("/orders/{orderID}", h.updateOrder)
		r.Post("/orders/{orderID}/confirm", h.confirmOrder)
		r.Post("/orders/{orderID}/cancel", h.cancelOrder)
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound) || errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "sales order does not exist")
	case errors.Is(err, ErrInvalidStatus):
		httpx.Problem(w, http.StatusConflict, "Invalid status", err.Error())
	case errors.Is(err, ErrHasProduction):
		httpx.Problem(w, http.StatusConflict, "Production in progress", err.Error())
	case errors.Is(err, shared.ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed")
	}
}

func orderPathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	pq := shared.ParsePageQuery(r)
	req := ListOrdersRequest{Page: pq.Page, PerPage: pq.PerPage}

	q := r.URL.Query()
	if raw := q.Get("customer_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			req.CustomerID = &id
		}
	}
	if raw := q.Get("status"); raw != "" {
		status := Status(raw)
		req.Status = &status
	}
	if raw := q.Get("date_from"); raw != "" {
		if from, err := time.Parse("2006-01-02", raw); err == nil {
			req.DateFrom = &from
		}
	}
	if raw := q.Get("date_to"); raw != "" {
		if to, err := time.Parse("2006-01-02", raw); err == nil {
			req.DateTo = &to
		}
	}

	orders, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.respondError(w, err, "list sales orders")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"orders":     orders,
		"pagination": shared.NewPagination(req.Page, req.PerPage, total),
	})
}

func (h *Handler) openLines(w http.ResponseWriter, r *http.Request) {
	var customerID *int64
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			customerID = &id
		}
	}
	lines, err := h.service.OpenLines(r.Context(), customerID)
	if err != nil {
		h.respondError(w, err, "list open lines")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"open_lines": lines})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid order id")
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get sales order")
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	order, err := h.service.CreateOrder(r.Context(), shared.ActorID(r.Context()), req)
	if err != nil {
		h.respondError(w, err, "create sales order")
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid order id")
		return
	}
	var req CreateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	order, err := h.service.UpdateDraft(r.Context(), shared.ActorID(r.Context()), id, req)
	if err != nil {
		h.respondError(w, err, "update sales order")
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid order id")
		return
	}
	order, err := h.service.Confirm(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.respondError(w, err, "confirm sales order")
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderPathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid order id")
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	order, err := h.service.Cancel(r.Context(), shared.ActorID(r.Context()), id, req.Reason)
	if err != nil {
		h.respondError(w, err, "cancel sales order")
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}
