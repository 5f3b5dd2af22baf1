package report

import (
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/izzyftw1/rvi-sub014/internal/platform/httpx"
)

// Handler manages report endpoints.
type Handler struct {
	client *Client
	logger *slog.Logger
}

// NewHandler creates a report handler.
func NewHandler(client *Client, logger *slog.Logger) *Handler {
	return &Handler{client: client, logger: logger}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ping", h.ping)
	r.Post("/render", h.render)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Report unavailable", "gotenberg health check failed")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type renderRequest struct {
	HTML     string `json:"html"`
	Filename string `json:"filename"`
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.HTML) == "" {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation failed", "html is required")
		return
	}
	pdf, err := h.client.RenderHTML(r.Context(), req.HTML)
	if err != nil {
		h.logger.Error("render pdf", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Render failed", "report backend error")
		return
	}
	name := filepath.Base(strings.TrimSpace(req.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "document.pdf"
	}
	if !strings.HasSuffix(name, ".pdf") {
		name += ".pdf"
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename=`+name)
	_, _ = w.Write(pdf)
}
