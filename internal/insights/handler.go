package insights

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/izzyftw1/rvi-sub014/internal/platform/httpx"
	"github.com/izzyftw1/rvi-sub014/internal/rbac"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

// Handler exposes the dashboard snapshot over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: mw}
}

// MountRoutes attaches insight endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermInsightsView))
		r.Get("/dashboard", h.dashboard)
	})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Dashboard(r.Context())
	if err != nil {
		h.logger.Error("dashboard snapshot failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "snapshot build failed")
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}
