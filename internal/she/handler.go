package she

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

// Handler exposes safety, health and environment incidents over HTTP.
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

// MountRoutes attaches incident endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSheView))
		r.Get("/incidents", h.list)
		r.Get("/incidents/{incidentID}", h.get)
		r.Get("/stats", h.stats)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermSheEdit))
		r.Post("/incidents", h.report)
		r.Post("/incidents/{incidentID}/investigate", h.investigate)
		r.Post("/incidents/{incidentID}/action", h.action)
		r.Post("/incidents/{incidentID}/close", h.close)
	})
}

type reportRequest struct {
	Type         string `json:"type" validate:"required,oneof=INJURY NEAR_MISS ENVIRONMENT FIRE PROPERTY"`
	Area         string `json:"area" validate:"required,max=120"`
	Severity     string `json:"severity" validate:"required,oneof=MINOR MAJOR CRITICAL"`
	Description  string `json:"description" validate:"required,max=4000"`
	OccurredAt   string `json:"occurred_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	LostTimeDays int    `json:"lost_time_days" validate:"omitempty,gte=0"`
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}

	input := ReportInput{
		Type:         IncidentType(req.Type),
		Area:         req.Area,
		Severity:     Severity(req.Severity),
		Description:  req.Description,
		LostTimeDays: req.LostTimeDays,
	}
	if req.OccurredAt != "" {
		at, _ := time.Parse(time.RFC3339, req.OccurredAt)
		input.OccurredAt = &at
	}

	incident, err := h.service.Report(r.Context(), shared.ActorID(r.Context()), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, incident)
}

func (h *Handler) investigate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "incidentID")
	if !ok {
		return
	}
	incident, err := h.service.BeginInvestigation(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, incident)
}

type actionRequest struct {
	Action string `json:"action" validate:"required,max=2000"`
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "incidentID")
	if !ok {
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
	incident, err := h.service.RecordAction(r.Context(), shared.ActorID(r.Context()), id, req.Action)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, incident)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "incidentID")
	if !ok {
		return
	}
	incident, err := h.service.Close(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, incident)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "incidentID")
	if !ok {
		return
	}
	incident, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, incident)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	pq := shared.ParsePageQuery(r)
	filters := ListFilters{
		Page:     pq.Page,
		Limit:    pq.PerPage,
		Type:     IncidentType(r.URL.Query().Get("type")),
		Severity: Severity(r.URL.Query().Get("severity")),
		Status:   IncidentStatus(r.URL.Query().Get("status")),
		Area:     r.URL.Query().Get("area"),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "from must be YYYY-MM-DD")
			return
		}
		filters.From = &from
	}
	if v := r.URL.Query().Get("to"); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "to must be YYYY-MM-DD")
			return
		}
		end := to.AddDate(0, 0, 1).Add(-time.Second)
		filters.To = &end
	}

	incidents, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"incidents":  incidents,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	month := time.Now().UTC()
	if v := r.URL.Query().Get("month"); v != "" {
		parsed, err := time.Parse("2006-01", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request", "month must be YYYY-MM")
			return
		}
		month = parsed
	}
	stats, err := h.service.Stats(r.Context(), month.Year(), month.Month())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "incident does not exist")
	case errors.Is(err, ErrActionRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Action required", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid state", err.Error())
	case errors.Is(err, shared.ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error())
	default:
		h.logger.Error("she request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed")
	}
}
