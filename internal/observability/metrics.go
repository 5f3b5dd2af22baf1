package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	stageTransitions *prometheus.CounterVec
	cartonsPacked    prometheus.Counter
	eventsPublished  *prometheus.CounterVec
}

// NewMetrics initialises the registry and base instruments.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rvi_http_requests_total",
		Help: "HTTP requests partitioned by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rvi_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	stages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rvi_work_order_stage_transitions_total",
		Help: "Work order stage transitions partitioned by target stage.",
	}, []string{"stage"})
	cartons := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rvi_cartons_packed_total",
		Help: "Cartons packed since process start.",
	})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rvi_realtime_events_published_total",
		Help: "Change events published per module channel.",
	}, []string{"module"})
	registry.MustRegister(requests, duration, stages, cartons, events)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		stageTransitions: stages,
		cartonsPacked:    cartons,
		eventsPublished:  events,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveStageTransition counts a work order entering a stage.
func (m *Metrics) ObserveStageTransition(stage string) {
	if m == nil {
		return
	}
	m.stageTransitions.WithLabelValues(stage).Inc()
}

// ObserveCartonPacked counts a packed carton.
func (m *Metrics) ObserveCartonPacked() {
	if m == nil {
		return
	}
	m.cartonsPacked.Inc()
}

// ObserveEventPublished counts a realtime event on a module channel.
func (m *Metrics) ObserveEventPublished(module string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(module).Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
