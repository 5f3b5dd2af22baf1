package external

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

// Handler exposes external-processing endpoints.
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

// MountRoutes registers external-processing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermExternalView))
		r.Get("/moves", h.listMoves)
		r.Get("/moves/{moveID}", h.getMove)
		r.Get("/overdue", h.overdue)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermExternalEdit))
		r.Post("/moves", h.send)
		r.Post("/moves/{moveID}/returns", h.recordReturn)
		r.Post("/moves/{moveID}/close", h.closeMove)
		r.Post("/moves/{moveID}/cancel", h.cancelMove)
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound) || errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "challan does not exist")
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid state", err.Error())
	case errors.Is(err, ErrOverAvailable), errors.Is(err, ErrOverReturn):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Quantity exceeded", err.Error())
	case errors.Is(err, shared.ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed")
	}
}

func movePathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "moveID"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) listMoves(w http.ResponseWriter, r *http.Request) {
	pq := shared.ParsePageQuery(r)
	q := r.URL.Query()
	filters := ListFilters{
		Page:   pq.Page,
		Limit:  pq.PerPage,
		Search: strings.TrimSpace(q.Get("search")),
	}
	if raw := q.Get("status"); raw != "" {
		filters.Status = MoveStatus(strings.ToUpper(raw))
	}
	if raw := q.Get("partner_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.PartnerID = id
		}
	}
	if raw := q.Get("wo_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.WOID = id
		}
	}
	if raw := q.Get("batch_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.BatchID = id
		}
	}
	if raw := q.Get("overdue"); raw != "" {
		if overdue, err := strconv.ParseBool(raw); err == nil {
			filters.Overdue = overdue
		}
	}

	moves, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "list moves")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"moves":      moves,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) getMove(w http.ResponseWriter, r *http.Request) {
	id, ok := movePathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid move id")
		return
	}
	move, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get move")
		return
	}
	httpx.JSON(w, http.StatusOK, move)
}

func (h *Handler) overdue(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Overdue(r.Context())
	if err != nil {
		h.respondError(w, err, "overdue report")
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

type sendRequest struct {
	BatchID        int64  `json:"batch_id" validate:"required,gt=0"`
	PartnerID      int64  `json:"partner_id" validate:"required,gt=0"`
	Process        string `json:"process" validate:"omitempty,max=60"`
	Qty            int64  `json:"qty" validate:"required,gt=0"`
	SentDate       string `json:"sent_date,omitempty"`
	ExpectedReturn string `json:"expected_return_date,omitempty"`
	Vehicle        string `json:"vehicle" validate:"omitempty,max=40"`
	Notes          string `json:"notes" validate:"omitempty,max=1000"`
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	input := SendInput{
		BatchID:   req.BatchID,
		PartnerID: req.PartnerID,
		Process:   req.Process,
		Qty:       req.Qty,
		Vehicle:   req.Vehicle,
		Notes:     req.Notes,
	}
	if req.SentDate != "" {
		sent, err := time.Parse("2006-01-02", req.SentDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "sent_date must be YYYY-MM-DD")
			return
		}
		input.SentDate = sent
	}
	if req.ExpectedReturn != "" {
		expected, err := time.Parse("2006-01-02", req.ExpectedReturn)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "expected_return_date must be YYYY-MM-DD")
			return
		}
		input.ExpectedReturn = expected
	}
	move, err := h.service.Send(r.Context(), shared.ActorID(r.Context()), input)
	if err != nil {
		h.respondError(w, err, "send move")
		return
	}
	httpx.JSON(w, http.StatusCreated, move)
}

type returnRequest struct {
	ReceivedQty  int64  `json:"received_qty" validate:"gte=0"`
	RejectedQty  int64  `json:"rejected_qty" validate:"gte=0"`
	ReceivedDate string `json:"received_date,omitempty"`
	Notes        string `json:"notes" validate:"omitempty,max=1000"`
}

func (h *Handler) recordReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := movePathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid move id")
		return
	}
	var req returnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	input := ReturnInput{
		ReceivedQty: req.ReceivedQty,
		RejectedQty: req.RejectedQty,
		Notes:       req.Notes,
	}
	if req.ReceivedDate != "" {
		received, err := time.Parse("2006-01-02", req.ReceivedDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "received_date must be YYYY-MM-DD")
			return
		}
		input.ReceivedDate = received
	}
	move, err := h.service.RecordReturn(r.Context(), shared.ActorID(r.Context()), id, input)
	if err != nil {
		h.respondError(w, err, "record return")
		return
	}
	httpx.JSON(w, http.StatusCreated, move)
}

func (h *Handler) closeMove(w http.ResponseWriter, r *http.Request) {
	id, ok := movePathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid move id")
		return
	}
	move, err := h.service.Close(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.respondError(w, err, "close move")
		return
	}
	httpx.JSON(w, http.StatusOK, move)
}

func (h *Handler) cancelMove(w http.ResponseWriter, r *http.Request) {
	id, ok := movePathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid move id")
		return
	}
	move, err := h.service.Cancel(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.respondError(w, err, "cancel move")
		return
	}
	httpx.JSON(w, http.StatusOK, move)
}
