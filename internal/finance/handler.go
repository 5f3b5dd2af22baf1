package finance

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/izzyftw1/rvi-sub014/internal/platform/httpx"
	"github.com/izzyftw1/rvi-sub014/internal/rbac"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// Handler exposes finance over HTTP.
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

// MountRoutes attaches finance endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermFinanceView))
		r.Get("/invoices", h.list)
		r.Get("/invoices/{invoiceID}", h.get)
		r.Get("/ledger/{customerID}", h.ledger)
		r.Get("/outstanding", h.outstanding)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermFinanceEdit))
		r.Post("/invoices", h.raise)
		r.Post("/invoices/{invoiceID}/payments", h.recordPayment)
		r.Post("/invoices/{invoiceID}/cancel", h.cancel)
	})
}

// Decimal fields are range-checked in the service; validator tags cannot
// inspect decimals.
type raiseRequest struct {
	DispatchID int64            `json:"dispatch_id" validate:"required,gt=0"`
	TaxPercent *decimal.Decimal `json:"tax_percent"`
	IssueDate  string           `json:"issue_date" validate:"omitempty,datetime=2006-01-02"`
	Notes      *string          `json:"notes" validate:"omitempty,max=1000"`
}

func (h *Handler) raise(w http.ResponseWriter, r *http.Request) {
	var req raiseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	in := RaiseInput{
		DispatchID: req.DispatchID,
		TaxPercent: req.TaxPercent,
		Notes:      req.Notes,
	}
	if req.IssueDate != "" {
		date, err := time.Parse("2006-01-02", req.IssueDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "issue_date must be YYYY-MM-DD")
			return
		}
		in.IssueDate = &date
	}
	inv, err := h.service.Raise(r.Context(), shared.ActorID(r.Context()), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

type paymentRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Mode         string          `json:"mode" validate:"required,oneof=NEFT RTGS CHEQUE UPI CASH"`
	Reference    string          `json:"reference" validate:"omitempty,max=60"`
	ReceivedDate string          `json:"received_date" validate:"omitempty,datetime=2006-01-02"`
	Notes        *string         `json:"notes" validate:"omitempty,max=500"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "invoiceID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid invoice id")
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	in := PaymentInput{
		Amount:    req.Amount,
		Mode:      PaymentMode(req.Mode),
		Reference: req.Reference,
		Notes:     req.Notes,
	}
	if req.ReceivedDate != "" {
		date, err := time.Parse("2006-01-02", req.ReceivedDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "received_date must be YYYY-MM-DD")
			return
		}
		in.ReceivedDate = &date
	}
	inv, err := h.service.RecordPayment(r.Context(), shared.ActorID(r.Context()), id, in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "invoiceID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid invoice id")
		return
	}
	inv, err := h.service.Cancel(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "invoiceID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid invoice id")
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	pq := shared.ParsePageQuery(r)
	filters := ListFilters{
		Page:    pq.Page,
		Limit:   pq.PerPage,
		Status:  InvoiceStatus(r.URL.Query().Get("status")),
		Overdue: r.URL.Query().Get("overdue") == "true",
	}
	if v := r.URL.Query().Get("customer_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filters.CustomerID = id
		}
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err := time.Parse("2006-01-02", v); err == nil {
			filters.From = &from
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err := time.Parse("2006-01-02", v); err == nil {
			filters.To = &to
		}
	}
	invoices, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"invoices":   invoices,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "customerID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid customer id")
		return
	}
	ledger, err := h.service.Ledger(r.Context(), customerID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledger)
}

func (h *Handler) outstanding(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.OutstandingSummary(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"customers": summary})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "invoice does not exist")
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid state", err.Error())
	case errors.Is(err, ErrDuplicateInvoice):
		httpx.Problem(w, http.StatusConflict, "Duplicate invoice", err.Error())
	case errors.Is(err, ErrOverPayment):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Payment exceeded", err.Error())
	case errors.Is(err, shared.ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error())
	default:
		h.logger.Error("finance request failed", "error", err, "path", r.URL.Path)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed")
	}
}

func pathID(r *http.Request, param string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, param), 10, 64)
}
