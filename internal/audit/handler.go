package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/izzyftw1/rvi-sub014/internal/platform/httpx"
	"github.com/izzyftw1/rvi-sub014/internal/rbac"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// Handler exposes the audit timeline over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: mw}
}

// MountRoutes attaches timeline endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermAuditView))
		r.Get("/timeline", h.timeline)
		r.Get("/timeline/export.csv", h.export)
	})
}

func (h *Handler) parseFilters(r *http.Request) (TimelineFilters, bool) {
	q := r.URL.Query()
	filters := TimelineFilters{
		Entity: q.Get("entity"),
		Action: q.Get("action"),
	}
	if v := q.Get("entity_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return filters, false
		}
		filters.EntityID = id
	}
	if v := q.Get("actor_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return filters, false
		}
		filters.ActorID = id
	}
	if v := q.Get("from"); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filters, false
		}
		filters.From = &from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filters, false
		}
		end := to.AddDate(0, 0, 1).Add(-time.Second)
		filters.To = &end
	}
	return filters, true
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, ok := h.parseFilters(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid filter parameters")
		return
	}
	pq := shared.ParsePageQuery(r)
	filters.Page, filters.Limit = pq.Page, pq.PerPage

	entries, total, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filters, ok := h.parseFilters(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "invalid filter parameters")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-timeline.csv"`)
	if err := h.service.ExportTimeline(r.Context(), w, filters); err != nil {
		h.logger.Error("audit export failed", slog.Any("error", err))
	}
}
