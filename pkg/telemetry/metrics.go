package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ProviderCallsTotal   *prometheus.CounterVec
	ProviderRetriesTotal *prometheus.CounterVec

	WebhookEventsTotal *prometheus.CounterVec

	ReconcileRunsTotal  *prometheus.CounterVec
	ReconcileDuration   prometheus.Histogram
	ConferenceCacheHits *prometheus.CounterVec

	TokensMintedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the given registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greenroom_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "greenroom_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ProviderCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greenroom_provider_calls_total",
				Help: "Total number of provider API calls",
			},
			[]string{"operation", "status"},
		),
		ProviderRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greenroom_provider_retries_total",
				Help: "Total number of rate-limited provider calls retried",
			},
			[]string{"operation"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greenroom_webhook_events_total",
				Help: "Total number of provider webhook events processed",
			},
			[]string{"source", "event", "outcome"},
		),
		ReconcileRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greenroom_reconcile_runs_total",
				Help: "Total number of conference reconciliation runs",
			},
			[]string{"status"},
		),
		ReconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "greenroom_reconcile_duration_seconds",
				Help:    "Conference reconciliation duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		ConferenceCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greenroom_conference_cache_total",
				Help: "Conference resolution cache lookups",
			},
			[]string{"result"},
		),
		TokensMintedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greenroom_tokens_minted_total",
				Help: "Total number of provider access tokens minted",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ProviderCallsTotal,
		m.ProviderRetriesTotal,
		m.WebhookEventsTotal,
		m.ReconcileRunsTotal,
		m.ReconcileDuration,
		m.ConferenceCacheHits,
		m.TokensMintedTotal,
	)
	return m
}

// ProviderCall counts one provider API call outcome. Satisfies
// twilio.RetryMetrics.
func (m *Metrics) ProviderCall(op, status string) {
	m.ProviderCallsTotal.WithLabelValues(op, status).Inc()
}

// ProviderRetry counts one rate-limited backoff. Satisfies
// twilio.RetryMetrics.
func (m *Metrics) ProviderRetry(op string) {
	m.ProviderRetriesTotal.WithLabelValues(op).Inc()
}

// ReconcileRun records a reconciliation pass. Satisfies
// conference.ReconcileMetrics.
func (m *Metrics) ReconcileRun(status string, took time.Duration) {
	m.ReconcileRunsTotal.WithLabelValues(status).Inc()
	m.ReconcileDuration.Observe(took.Seconds())
}

// ConferenceCacheLookup counts a resolution cache hit or miss. Satisfies
// conference.ResolveMetrics.
func (m *Metrics) ConferenceCacheLookup(result string) {
	m.ConferenceCacheHits.WithLabelValues(result).Inc()
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. The route template is
// used as the path label so sid-bearing URLs do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					path = tpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
