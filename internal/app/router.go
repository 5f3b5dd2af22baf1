package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/izzyftw1/rvi-sub014/internal/audit"
	"github.com/izzyftw1/rvi-sub014/internal/auth"
	"github.com/izzyftw1/rvi-sub014/internal/dispatch"
	"github.com/izzyftw1/rvi-sub014/internal/external"
	"github.com/izzyftw1/rvi-sub014/internal/finance"
	"github.com/izzyftw1/rvi-sub014/internal/insights"
	"github.com/izzyftw1/rvi-sub014/internal/masterdata"
	"github.com/izzyftw1/rvi-sub014/internal/observability"
	"github.com/izzyftw1/rvi-sub014/internal/packing"
	"github.com/izzyftw1/rvi-sub014/internal/procurement"
	"github.com/izzyftw1/rvi-sub014/internal/production"
	"github.com/izzyftw1/rvi-sub014/internal/qc"
	"github.com/izzyftw1/rvi-sub014/internal/realtime"
	"github.com/izzyftw1/rvi-sub014/internal/sales"
	"github.com/izzyftw1/rvi-sub014/internal/she"
	"github.com/izzyftw1/rvi-sub014/jobs"
	"github.com/izzyftw1/rvi-sub014/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config
	Actors ActorResolver

	MasterdataHandler  *masterdata.Handler
	SalesHandler       *sales.Handler
	ProcurementHandler *procurement.Handler
	ProductionHandler  *production.Handler
	QCHandler          *qc.Handler
	ExternalHandler    *external.Handler
	PackingHandler     *packing.Handler
	DispatchHandler    *dispatch.Handler
	FinanceHandler     *finance.Handler
	SHEHandler         *she.Handler
	InsightsHandler    *insights.Handler
	AuditHandler       *audit.Handler
	AdminHandler       *auth.Handler
	RealtimeHandler    *realtime.Handler
	ReportHandler      *report.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Actors:  params.Actors,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	timeout := 30 * time.Second
	if params.Config != nil && params.Config.AppRequestTimeout > 0 {
		timeout = params.Config.AppRequestTimeout
	}

	r.Group(func(api chi.Router) {
		api.Use(chimw.Timeout(timeout))

		if params.MasterdataHandler != nil {
			api.Route("/masterdata", params.MasterdataHandler.MountRoutes)
		}
		if params.SalesHandler != nil {
			api.Route("/sales", params.SalesHandler.MountRoutes)
		}
		if params.ProcurementHandler != nil {
			api.Route("/procurement", params.ProcurementHandler.MountRoutes)
		}
		if params.ProductionHandler != nil {
			api.Route("/production", params.ProductionHandler.MountRoutes)
		}
		if params.QCHandler != nil {
			api.Route("/qc", params.QCHandler.MountRoutes)
		}
		if params.ExternalHandler != nil {
			api.Route("/external", params.ExternalHandler.MountRoutes)
		}
		if params.PackingHandler != nil {
			api.Route("/packing", params.PackingHandler.MountRoutes)
		}
		if params.DispatchHandler != nil {
			api.Route("/dispatch", params.DispatchHandler.MountRoutes)
		}
		if params.FinanceHandler != nil {
			api.Route("/finance", params.FinanceHandler.MountRoutes)
		}
		if params.SHEHandler != nil {
			api.Route("/she", params.SHEHandler.MountRoutes)
		}
		if params.InsightsHandler != nil {
			api.Route("/insights", params.InsightsHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			api.Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.AdminHandler != nil {
			api.Route("/admin", params.AdminHandler.MountRoutes)
		}
		if params.ReportHandler != nil {
			api.Route("/report", params.ReportHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	// Long-lived event stream sits outside the request timeout group.
	if params.RealtimeHandler != nil {
		r.Route("/events", params.RealtimeHandler.MountRoutes)
	}

	return r
}
