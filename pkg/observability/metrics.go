package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	EventsEnqueuedTotal     prometheus.Counter
	EventsConsumedTotal     *prometheus.CounterVec
	EventParseFailuresTotal prometheus.Counter
	EventApplyFailuresTotal prometheus.Counter
	EventsDeadLetteredTotal prometheus.Counter
	QueueDepth              prometheus.Gauge

	// Scorer metrics
	ScorerRunsTotal     *prometheus.CounterVec
	ScorerRunDuration   prometheus.Histogram
	ScoredCollections   prometheus.Gauge

	// Dashboard metrics
	DashboardCacheHitsTotal   prometheus.Counter
	DashboardCacheMissesTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		EventsEnqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_events_enqueued_total",
				Help: "Total number of raw events pushed onto the queue",
			},
		),
		EventsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_events_consumed_total",
				Help: "Total number of events applied to daily counters",
			},
			[]string{"entity_type", "event_type"},
		),
		EventParseFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_event_parse_failures_total",
				Help: "Total number of queued payloads rejected by the normalizer",
			},
		),
		EventApplyFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_event_apply_failures_total",
				Help: "Total number of events dropped on aggregation failure",
			},
		),
		EventsDeadLetteredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_events_dead_lettered_total",
				Help: "Total number of malformed payloads moved to the dead-letter list",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulse_queue_depth",
				Help: "Current length of the analytics event queue",
			},
		),

		ScorerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_scorer_runs_total",
				Help: "Total number of trending score recomputations",
			},
			[]string{"status"},
		),
		ScorerRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulse_scorer_run_duration_seconds",
				Help:    "Trending score recomputation duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		ScoredCollections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulse_scored_collections",
				Help: "Number of collections with activity in the trending window",
			},
		),

		DashboardCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_dashboard_cache_hits_total",
				Help: "Total number of dashboard responses served from cache",
			},
		),
		DashboardCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_dashboard_cache_misses_total",
				Help: "Total number of dashboard responses built from the database",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventsEnqueuedTotal,
		m.EventsConsumedTotal,
		m.EventParseFailuresTotal,
		m.EventApplyFailuresTotal,
		m.EventsDeadLetteredTotal,
		m.QueueDepth,
		m.ScorerRunsTotal,
		m.ScorerRunDuration,
		m.ScoredCollections,
		m.DashboardCacheHitsTotal,
		m.DashboardCacheMissesTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
