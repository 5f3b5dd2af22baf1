package qc

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

// Handler exposes inspection and NCR endpoints.
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

// MountRoutes registers QC routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermQCView))
		r.Get("/inspections", h.listInspections)
		r.Get("/inspections/{inspectionID}", h.getInspection)
		r.Get("/ncrs", h.listNCRs)
		r.Get("/ncrs/{ncrID}", h.getNCR)
		r.Get("/summary/work-orders", h.woSummaries)
		r.Get("/summary/partners", h.partnerSummaries)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermQCEdit))
		r.Post("/inspections", h.recordInspection)
		r.Post("/ncrs", h.raiseNCR)
		r.Post("/ncrs/{ncrID}/review", h.reviewNCR)
		r.Post("/ncrs/{ncrID}/disposition", h.setDisposition)
		r.Post("/ncrs/{ncrID}/corrective-action", h.recordAction)
		r.Post("/ncrs/{ncrID}/approve", h.approveNCR)
		r.Post("/ncrs/{ncrID}/close", h.closeNCR)
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound) || errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "record does not exist")
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid state", err.Error())
	case errors.Is(err, ErrApprovalRequired):
		httpx.Problem(w, http.StatusConflict, "Approval required", err.Error())
	case errors.Is(err, ErrOverProduced):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Over produced", err.Error())
	case errors.Is(err, shared.ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed")
	}
}

func pathID(r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) listInspections(w http.ResponseWriter, r *http.Request) {
	pq := shared.ParsePageQuery(r)
	q := r.URL.Query()
	filters := ListFilters{Page: pq.Page, Limit: pq.PerPage}
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
	if raw := q.Get("type"); raw != "" {
		filters.Type = InspectionType(strings.ToUpper(raw))
	}
	if raw := q.Get("result"); raw != "" {
		filters.Result = Result(strings.ToUpper(raw))
	}

	inspections, total, err := h.service.ListInspections(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "list inspections")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"inspections": inspections,
		"pagination":  shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) getInspection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "inspectionID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid inspection id")
		return
	}
	ins, err := h.service.GetInspection(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get inspection")
		return
	}
	httpx.JSON(w, http.StatusOK, ins)
}

type inspectionRequest struct {
	WOID        int64  `json:"wo_id" validate:"required,gt=0"`
	BatchID     *int64 `json:"batch_id,omitempty"`
	Type        string `json:"type" validate:"required,oneof=MATERIAL FIRST_PIECE IN_PROCESS FINAL"`
	CheckedQty  int64  `json:"checked_qty" validate:"required,gt=0"`
	ApprovedQty int64  `json:"approved_qty" validate:"gte=0"`
	RejectedQty int64  `json:"rejected_qty" validate:"gte=0"`
	DefectCode  string `json:"defect_code" validate:"omitempty,max=40"`
	Notes       string `json:"notes" validate:"omitempty,max=1000"`
	InspectedAt string `json:"inspected_at,omitempty"`
}

func (h *Handler) recordInspection(w http.ResponseWriter, r *http.Request) {
	var req inspectionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	input := RecordInspectionInput{
		WOID:        req.WOID,
		BatchID:     req.BatchID,
		Type:        InspectionType(req.Type),
		CheckedQty:  req.CheckedQty,
		ApprovedQty: req.ApprovedQty,
		RejectedQty: req.RejectedQty,
		DefectCode:  req.DefectCode,
		Notes:       req.Notes,
	}
	if req.InspectedAt != "" {
		at, err := time.Parse(time.RFC3339, req.InspectedAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "inspected_at must be RFC3339")
			return
		}
		input.InspectedAt = at
	}
	ins, err := h.service.RecordInspection(r.Context(), shared.ActorID(r.Context()), input)
	if err != nil {
		h.respondError(w, err, "record inspection")
		return
	}
	httpx.JSON(w, http.StatusCreated, ins)
}

func (h *Handler) listNCRs(w http.ResponseWriter, r *http.Request) {
	pq := shared.ParsePageQuery(r)
	q := r.URL.Query()
	filters := NCRFilters{Page: pq.Page, Limit: pq.PerPage}
	if raw := q.Get("wo_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.WOID = id
		}
	}
	if raw := q.Get("partner_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.PartnerID = id
		}
	}
	if raw := q.Get("status"); raw != "" {
		filters.Status = NCRStatus(strings.ToUpper(raw))
	}
	if raw := q.Get("severity"); raw != "" {
		filters.Severity = Severity(strings.ToUpper(raw))
	}

	ncrs, total, err := h.service.ListNCRs(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "list ncrs")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"ncrs":       ncrs,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) getNCR(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "ncrID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid ncr id")
		return
	}
	n, err := h.service.GetNCR(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get ncr")
		return
	}
	httpx.JSON(w, http.StatusOK, n)
}

type ncrRequest struct {
	WOID          int64   `json:"wo_id" validate:"required,gt=0"`
	InspectionID  *int64  `json:"inspection_id,omitempty"`
	PartnerID     *int64  `json:"partner_id,omitempty"`
	Severity      string  `json:"severity" validate:"required,oneof=MINOR MAJOR CRITICAL"`
	RejectionRate float64 `json:"rejection_rate" validate:"gte=0,lte=1"`
}

func (h *Handler) raiseNCR(w http.ResponseWriter, r *http.Request) {
	var req ncrRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	n, err := h.service.RaiseNCR(r.Context(), shared.ActorID(r.Context()), RaiseNCRInput{
		WOID:          req.WOID,
		InspectionID:  req.InspectionID,
		PartnerID:     req.PartnerID,
		Severity:      Severity(req.Severity),
		RejectionRate: req.RejectionRate,
	})
	if err != nil {
		h.respondError(w, err, "raise ncr")
		return
	}
	httpx.JSON(w, http.StatusCreated, n)
}

type reviewRequest struct {
	RootCause string `json:"root_cause" validate:"required,min=3,max=1000"`
}

func (h *Handler) reviewNCR(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "ncrID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid ncr id")
		return
	}
	var req reviewRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	n, err := h.service.ReviewNCR(r.Context(), shared.ActorID(r.Context()), id, req.RootCause)
	if err != nil {
		h.respondError(w, err, "review ncr")
		return
	}
	httpx.JSON(w, http.StatusOK, n)
}

type dispositionRequest struct {
	Disposition string `json:"disposition" validate:"required,oneof=REWORK SCRAP USE_AS_IS RETURN_TO_PARTNER"`
}

func (h *Handler) setDisposition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "ncrID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid ncr id")
		return
	}
	var req dispositionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	n, err := h.service.SetDisposition(r.Context(), shared.ActorID(r.Context()), id, Disposition(req.Disposition))
	if err != nil {
		h.respondError(w, err, "set ncr disposition")
		return
	}
	httpx.JSON(w, http.StatusOK, n)
}

type actionRequest struct {
	CorrectiveAction string `json:"corrective_action" validate:"required,min=3,max=2000"`
}

func (h *Handler) recordAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "ncrID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid ncr id")
		return
	}
	var req actionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	n, err := h.service.RecordCorrectiveAction(r.Context(), shared.ActorID(r.Context()), id, req.CorrectiveAction)
	if err != nil {
		h.respondError(w, err, "record corrective action")
		return
	}
	httpx.JSON(w, http.StatusOK, n)
}

type approveRequest struct {
	Note string `json:"note" validate:"omitempty,max=500"`
}

func (h *Handler) approveNCR(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "ncrID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid ncr id")
		return
	}
	var req approveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.service.ApproveNCR(r.Context(), shared.ActorID(r.Context()), id, req.Note); err != nil {
		h.respondError(w, err, "approve ncr")
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) closeNCR(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "ncrID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid ncr id")
		return
	}
	n, err := h.service.CloseNCR(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.respondError(w, err, "close ncr")
		return
	}
	httpx.JSON(w, http.StatusOK, n)
}

func (h *Handler) woSummaries(w http.ResponseWriter, r *http.Request) {
	filters, ok := summaryFilters(w, r)
	if !ok {
		return
	}
	summaries, err := h.service.WOSummaries(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "wo rejection summary")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

func (h *Handler) partnerSummaries(w http.ResponseWriter, r *http.Request) {
	filters, ok := summaryFilters(w, r)
	if !ok {
		return
	}
	summaries, err := h.service.PartnerSummaries(r.Context(), filters)
	if err != nil {
		h.respondError(w, err, "partner rejection summary")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

func summaryFilters(w http.ResponseWriter, r *http.Request) (SummaryFilters, bool) {
	q := r.URL.Query()
	filters := SummaryFilters{}
	if raw := q.Get("wo_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.WOID = id
		}
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "from must be YYYY-MM-DD")
			return SummaryFilters{}, false
		}
		filters.From = &from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "to must be YYYY-MM-DD")
			return SummaryFilters{}, false
		}
		filters.To = &to
	}
	return filters, true
}
