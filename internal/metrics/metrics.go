// Package metrics exposes Prometheus instrumentation for routing and HTTP.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efile_workflow_transitions_total",
			Help: "Workflow transitions applied, by action and resulting state.",
		},
		[]string{"action", "state"},
	)

	markDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efile_mark_denials_total",
			Help: "Forward markings refused, by reason.",
		},
		[]string{"reason"},
	)

	staleRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "efile_workflow_stale_retries_total",
		Help: "Transitions re-evaluated after losing a concurrent update.",
	})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "efile_http_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	})

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efile_http_requests_total",
			Help: "HTTP requests served.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "efile_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func ObserveTransition(action, state string) {
	transitionsTotal.WithLabelValues(action, state).Inc()
}

func ObserveMarkDenial(reason string) {
	markDenialsTotal.WithLabelValues(reason).Inc()
}

func ObserveStaleRetry() {
	staleRetriesTotal.Inc()
}

func ObserveRateLimited() {
	rateLimitedTotal.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency. Paths are labelled with the
// matched chi route pattern to keep label cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
