// Package metrics provides Prometheus metrics for the level cache service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmlevels_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "pattern", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osmlevels_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "pattern"},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmlevels_cache_lookups_total",
			Help: "Cache lookups by record kind and outcome",
		},
		[]string{"kind", "result"},
	)

	cacheSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "osmlevels_cache_swept_entries_total",
			Help: "Expired cache entries removed by the sweeper",
		},
	)

	cacheSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "osmlevels_cache_sweep_duration_seconds",
			Help:    "Duration of one sweep over every cache table",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Backend metrics
	backendFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmlevels_backend_fetches_total",
			Help: "Requests sent to the level backend",
		},
		[]string{"op", "status"},
	)

	backendFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osmlevels_backend_fetch_duration_seconds",
			Help:    "Level backend request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	dedupJoinsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "osmlevels_loader_dedup_joins_total",
			Help: "Children loads whose backend fetch was shared with a concurrent caller",
		},
	)

	// Sessions
	sessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "osmlevels_sessions_active",
			Help: "Open tree view and selection sessions",
		},
		[]string{"kind"},
	)

	reportedErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "osmlevels_reported_errors_total",
			Help: "Errors reported to the notification collaborator",
		},
	)

	pathResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osmlevels_path_resolutions_total",
			Help: "Path resolutions by outcome",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCacheLookup records a cache hit or miss for a record kind.
func RecordCacheLookup(kind string, hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	cacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// RecordSweep records one sweeper pass.
func RecordSweep(removed int, duration time.Duration) {
	cacheSweptTotal.Add(float64(removed))
	cacheSweepDuration.Observe(duration.Seconds())
}

// RecordBackendFetch records a level backend request.
func RecordBackendFetch(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	backendFetchesTotal.WithLabelValues(op, status).Inc()
	backendFetchDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordDedupJoin records a load whose fetch was shared.
func RecordDedupJoin() {
	dedupJoinsTotal.Inc()
}

// SetSessionsActive sets the number of open sessions of a kind.
func SetSessionsActive(kind string, count int) {
	sessionsActive.WithLabelValues(kind).Set(float64(count))
}

// RecordReportedError counts a user-visible error report.
func RecordReportedError() {
	reportedErrorsTotal.Inc()
}

// RecordPathResolution records a resolve outcome: ok, not_found or error.
func RecordPathResolution(result string) {
	pathResolutionsTotal.WithLabelValues(result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and latency labelled by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
