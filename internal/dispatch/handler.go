package dispatch

import (
	"context"
	"errors"
	"fmt"
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

// NoteRenderer renders the printable documents that travel with a
// consignment. Wired to the report service; nil when none is configured.
type NoteRenderer interface {
	DispatchNote(ctx context.Context, d Dispatch) ([]byte, error)
	PackingList(ctx context.Context, d Dispatch) ([]byte, error)
}

// Handler exposes dispatch over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	notes     NoteRenderer
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware, notes NoteRenderer) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		rbac:      mw,
		notes:     notes,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes attaches dispatch endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermDispatchView))
		r.Get("/dispatches", h.list)
		r.Get("/dispatches/export.csv", h.exportRegister)
		r.Get("/dispatches/{dispatchID}", h.get)
		r.Get("/dispatches/{dispatchID}/note.pdf", h.notePDF)
		r.Get("/dispatches/{dispatchID}/packing-list.pdf", h.packingListPDF)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDispatchEdit))
		r.Post("/dispatches", h.create)
		r.Post("/dispatches/{dispatchID}/dispatch", h.markDispatched)
		r.Post("/dispatches/{dispatchID}/deliver", h.markDelivered)
		r.Post("/dispatches/{dispatchID}/cancel", h.cancel)
	})
}

type createRequest struct {
	CustomerID    int64   `json:"customer_id" validate:"required,gt=0"`
	DispatchDate  string  `json:"dispatch_date" validate:"omitempty,datetime=2006-01-02"`
	TransporterID *int64  `json:"transporter_id" validate:"omitempty,gt=0"`
	VehicleNo     string  `json:"vehicle_no" validate:"omitempty,max=40"`
	LRNumber      string  `json:"lr_number" validate:"omitempty,max=40"`
	CartonIDs     []int64 `json:"carton_ids" validate:"required,min=1,dive,gt=0"`
	Notes         *string `json:"notes" validate:"omitempty,max=1000"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	in := CreateInput{
		CustomerID:    req.CustomerID,
		TransporterID: req.TransporterID,
		VehicleNo:     req.VehicleNo,
		LRNumber:      req.LRNumber,
		CartonIDs:     req.CartonIDs,
		Notes:         req.Notes,
	}
	if req.DispatchDate != "" {
		date, err := time.Parse("2006-01-02", req.DispatchDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "dispatch_date must be YYYY-MM-DD")
			return
		}
		in.DispatchDate = &date
	}
	d, err := h.service.Create(r.Context(), shared.ActorID(r.Context()), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) markDispatched(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "dispatchID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid dispatch id")
		return
	}
	d, err := h.service.MarkDispatched(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

type deliverRequest struct {
	DeliveredAt  string  `json:"delivered_at" validate:"omitempty"`
	PODReference *string `json:"pod_reference" validate:"omitempty,max=120"`
}

func (h *Handler) markDelivered(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "dispatchID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid dispatch id")
		return
	}
	var req deliverRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	var deliveredAt *time.Time
	if req.DeliveredAt != "" {
		at, err := time.Parse(time.RFC3339, req.DeliveredAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "delivered_at must be RFC3339")
			return
		}
		deliveredAt = &at
	}
	d, err := h.service.MarkDelivered(r.Context(), shared.ActorID(r.Context()), id, deliveredAt, req.PODReference)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "dispatchID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid dispatch id")
		return
	}
	d, err := h.service.Cancel(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "dispatchID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid dispatch id")
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	pq := shared.ParsePageQuery(r)
	filters := ListFilters{
		Page:   pq.Page,
		Limit:  pq.PerPage,
		Status: Status(r.URL.Query().Get("status")),
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
	dispatches, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"dispatches": dispatches,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) exportRegister(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := now
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "from must be YYYY-MM-DD")
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "to must be YYYY-MM-DD")
			return
		}
		to = parsed
	}
	if to.Before(from) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "from is after to")
		return
	}

	filename := fmt.Sprintf("dispatch-register-%s-%s.csv", from.Format("20060102"), to.Format("20060102"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	if err := h.service.ExportRegister(r.Context(), w, from, to); err != nil {
		h.logger.Error("dispatch register export failed", "error", err)
	}
}

func (h *Handler) notePDF(w http.ResponseWriter, r *http.Request) {
	if h.notes == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Report unavailable", "report service not configured")
		return
	}
	id, err := pathID(r, "dispatchID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid dispatch id")
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	pdf, err := h.notes.DispatchNote(r.Context(), d)
	if err != nil {
		h.logger.Error("dispatch note render failed", "error", err, "dispatch_id", id)
		httpx.Problem(w, http.StatusBadGateway, "Render failed", "report backend error")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", d.DispatchNumber))
	_, _ = w.Write(pdf)
}

func (h *Handler) packingListPDF(w http.ResponseWriter, r *http.Request) {
	if h.notes == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Report unavailable", "report service not configured")
		return
	}
	id, err := pathID(r, "dispatchID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid dispatch id")
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	pdf, err := h.notes.PackingList(r.Context(), d)
	if err != nil {
		h.logger.Error("packing list render failed", "error", err, "dispatch_id", id)
		httpx.Problem(w, http.StatusBadGateway, "Render failed", "report backend error")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-packing-list.pdf", d.DispatchNumber))
	_, _ = w.Write(pdf)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "dispatch does not exist")
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid state", err.Error())
	case errors.Is(err, ErrCartonUnavailable):
		httpx.Problem(w, http.StatusConflict, "Carton unavailable", err.Error())
	case errors.Is(err, ErrCustomerMismatch):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Customer mismatch", err.Error())
	case errors.Is(err, shared.ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error())
	default:
		h.logger.Error("dispatch request failed", "error", err, "path", r.URL.Path)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed")
	}
}

func pathID(r *http.Request, param string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, param), 10, 64)
}
