// Package metrics provides Prometheus metrics for the docnav client and server.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Client engine metrics
	treeFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docnav_tree_fetches_total",
			Help: "Total tree fetches by the navigation engine",
		},
		[]string{"scope", "status"},
	)

	gateOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docnav_gate_outcomes_total",
			Help: "Deep-link resolution outcomes",
		},
		[]string{"outcome"},
	)

	searchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docnav_search_requests_total",
			Help: "External search requests issued",
		},
		[]string{"status"},
	)

	searchStaleDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docnav_search_stale_drops_total",
			Help: "External search results dropped as stale",
		},
	)

	movePlansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docnav_move_plans_total",
			Help: "Drag-and-drop plans by kind",
		},
		[]string{"kind"},
	)

	authTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docnav_auth_transitions_total",
			Help: "Authentication state transitions",
		},
		[]string{"transition"},
	)

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docnav_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docnav_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Metadata metrics
	metadataTreeSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docnav_metadata_tree_size",
			Help: "Number of nodes in the metadata tree",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docnav_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docnav_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// Storage metrics
	storageSignDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docnav_storage_sign_duration_seconds",
			Help:    "Time to build object URLs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	storageSignTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docnav_storage_sign_total",
			Help: "Total object URLs built",
		},
		[]string{"backend", "status"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docnav_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docnav_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// RecordTreeFetch records a tree fetch; scope is "auth" or "public".
func RecordTreeFetch(scope string, success bool) {
	treeFetchesTotal.WithLabelValues(scope, status(success)).Inc()
}

// RecordGateOutcome records a deep-link resolution outcome.
func RecordGateOutcome(outcome string) {
	gateOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordSearchRequest records an issued external search.
func RecordSearchRequest(success bool) {
	searchRequestsTotal.WithLabelValues(status(success)).Inc()
}

// RecordSearchStaleDrop records a discarded search completion.
func RecordSearchStaleDrop() {
	searchStaleDropsTotal.Inc()
}

// RecordMovePlan records a drop outcome: "reorder", "reparent" or "noop".
func RecordMovePlan(kind string) {
	movePlansTotal.WithLabelValues(kind).Inc()
}

// RecordAuthTransition records a login, logout or token discard.
func RecordAuthTransition(transition string) {
	authTransitionsTotal.WithLabelValues(transition).Inc()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetMetadataTreeSize sets the current metadata tree size.
func SetMetadataTreeSize(size int) {
	metadataTreeSize.Set(float64(size))
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordStorageSign records building an object URL.
func RecordStorageSign(backend string, duration time.Duration, success bool) {
	storageSignDuration.WithLabelValues(backend).Observe(duration.Seconds())
	storageSignTotal.WithLabelValues(backend, status(success)).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// UnmatchedRoute labels requests no registered route handled.
const UnmatchedRoute = "unmatched"

type routeKey struct{}

type route struct {
	pattern string
}

// Route wraps a handler registered on a ServeMux so Middleware labels its
// requests with the matched pattern. Nested muxes overwrite the outer match.
func Route(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rt, ok := r.Context().Value(routeKey{}).(*route); ok && r.Pattern != "" {
			rt.pattern = r.Pattern
		}
		h(w, r)
	}
}

// routeLabel drops the method prefix of a ServeMux pattern.
func routeLabel(pattern string) string {
	if pattern == "" {
		return UnmatchedRoute
	}
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		return pattern[i+1:]
	}
	return pattern
}

// Middleware returns HTTP middleware that records request metrics. The path
// label is the pattern recorded by Route, never the raw URL path.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rt := &route{}
		r = r.WithContext(context.WithValue(r.Context(), routeKey{}, rt))
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, routeLabel(rt.pattern), rw.statusCode, time.Since(start))
	})
}
