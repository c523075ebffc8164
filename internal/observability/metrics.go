package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the console.
//
// All recording helpers are safe to call on a nil *Metrics, so components can
// be constructed without metrics in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Backend invocation metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState *prometheus.GaugeVec
	BackendRetriesTotal        *prometheus.CounterVec
	ContractMissingOperations  *prometheus.GaugeVec

	// Event stream metrics
	StreamConnected        prometheus.Gauge
	StreamReconnectsTotal  prometheus.Counter
	StreamMessagesTotal    *prometheus.CounterVec
	StreamFramesSkipped    *prometheus.CounterVec
	BoardEventsTotal       *prometheus.CounterVec
	BoardWorkflows         prometheus.Gauge

	// Operator action metrics
	ApprovalCountdownsActive prometheus.Gauge
	ApprovalOutcomesTotal    *prometheus.CounterVec
	ModerationActionsTotal   *prometheus.CounterVec
	SessionLoginsTotal       *prometheus.CounterVec

	// Cache metrics
	QueryCacheHitsTotal          *prometheus.CounterVec
	QueryCacheMissesTotal        *prometheus.CounterVec
	QueryCacheInvalidationsTotal *prometheus.CounterVec
	QueryCacheEntries            prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Backend
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_backend_requests_total",
			Help: "Total number of backend service requests.",
		}, []string{"service_id", "operation", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"service_id"}),
		BackendCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"service_id"}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_backend_retries_total",
			Help: "Total number of backend request retries.",
		}, []string{"service_id"}),
		ContractMissingOperations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_contract_missing_operations",
			Help: "Number of required backend operations absent from the published contract.",
		}, []string{"service_id"}),

		// Stream
		StreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_stream_connected",
			Help: "1 while the event stream connection is open.",
		}),
		StreamReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_stream_reconnects_total",
			Help: "Total number of event stream reconnect attempts.",
		}),
		StreamMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_stream_messages_total",
			Help: "Total number of decoded event stream messages.",
		}, []string{"type"}),
		StreamFramesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_stream_frames_skipped_total",
			Help: "Total number of event stream frames that were not decoded.",
		}, []string{"reason"}),
		BoardEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_board_events_total",
			Help: "Total number of events folded into the live board.",
		}, []string{"type", "applied"}),
		BoardWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_board_workflows",
			Help: "Number of workflows on the live board.",
		}),

		// Operator actions
		ApprovalCountdownsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_approval_countdowns_active",
			Help: "Number of approval countdowns in progress.",
		}),
		ApprovalOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_approval_outcomes_total",
			Help: "Total number of approval countdown outcomes.",
		}, []string{"outcome"}),
		ModerationActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_moderation_actions_total",
			Help: "Total number of moderation actions sent to the backend.",
		}, []string{"action", "status"}),
		SessionLoginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_session_logins_total",
			Help: "Total number of console sign-in attempts.",
		}, []string{"result"}),

		// Cache
		QueryCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_query_cache_hits_total",
			Help: "Total query cache hits.",
		}, []string{"collection"}),
		QueryCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_query_cache_misses_total",
			Help: "Total query cache misses.",
		}, []string{"collection"}),
		QueryCacheInvalidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_query_cache_invalidations_total",
			Help: "Total query cache entries invalidated.",
		}, []string{"collection"}),
		QueryCacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_query_cache_entries",
			Help: "Number of live query cache entries.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Backend
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		m.ContractMissingOperations,
		// Stream
		m.StreamConnected,
		m.StreamReconnectsTotal,
		m.StreamMessagesTotal,
		m.StreamFramesSkipped,
		m.BoardEventsTotal,
		m.BoardWorkflows,
		// Operator actions
		m.ApprovalCountdownsActive,
		m.ApprovalOutcomesTotal,
		m.ModerationActionsTotal,
		m.SessionLoginsTotal,
		// Cache
		m.QueryCacheHitsTotal,
		m.QueryCacheMissesTotal,
		m.QueryCacheInvalidationsTotal,
		m.QueryCacheEntries,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordBackendRequest records a backend service request. A status of 0
// means no response was received.
func (m *Metrics) RecordBackendRequest(serviceID, operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(serviceID, operation, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(serviceID).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state for a service.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(serviceID string, state float64) {
	if m == nil {
		return
	}
	m.BackendCircuitBreakerState.WithLabelValues(serviceID).Set(state)
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(serviceID string) {
	if m == nil {
		return
	}
	m.BackendRetriesTotal.WithLabelValues(serviceID).Inc()
}

// SetContractMissingOperations sets how many required operations a service's
// contract lacks.
func (m *Metrics) SetContractMissingOperations(serviceID string, count int) {
	if m == nil {
		return
	}
	m.ContractMissingOperations.WithLabelValues(serviceID).Set(float64(count))
}

// SetStreamConnected records the event stream connection state.
func (m *Metrics) SetStreamConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.StreamConnected.Set(1)
		return
	}
	m.StreamConnected.Set(0)
}

// RecordStreamReconnect records a reconnect attempt.
func (m *Metrics) RecordStreamReconnect() {
	if m == nil {
		return
	}
	m.StreamReconnectsTotal.Inc()
}

// RecordStreamMessage records a decoded stream message.
func (m *Metrics) RecordStreamMessage(eventType string) {
	if m == nil {
		return
	}
	m.StreamMessagesTotal.WithLabelValues(eventType).Inc()
}

// RecordStreamFrameSkipped records a frame that was not decoded.
func (m *Metrics) RecordStreamFrameSkipped(reason string) {
	if m == nil {
		return
	}
	m.StreamFramesSkipped.WithLabelValues(reason).Inc()
}

// RecordBoardEvent records an event folded into the live board.
func (m *Metrics) RecordBoardEvent(eventType string, applied bool) {
	if m == nil {
		return
	}
	m.BoardEventsTotal.WithLabelValues(eventType, strconv.FormatBool(applied)).Inc()
}

// SetBoardWorkflows sets the number of workflows on the live board.
func (m *Metrics) SetBoardWorkflows(count int) {
	if m == nil {
		return
	}
	m.BoardWorkflows.Set(float64(count))
}

// SetApprovalCountdownsActive sets the number of running countdowns.
func (m *Metrics) SetApprovalCountdownsActive(count int) {
	if m == nil {
		return
	}
	m.ApprovalCountdownsActive.Set(float64(count))
}

// RecordApprovalOutcome records how a countdown ended: committed, cancelled
// or failed.
func (m *Metrics) RecordApprovalOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ApprovalOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordModerationAction records an approve, discard or escalate call.
func (m *Metrics) RecordModerationAction(action, status string) {
	if m == nil {
		return
	}
	m.ModerationActionsTotal.WithLabelValues(action, status).Inc()
}

// RecordSessionLogin records a sign-in attempt.
func (m *Metrics) RecordSessionLogin(result string) {
	if m == nil {
		return
	}
	m.SessionLoginsTotal.WithLabelValues(result).Inc()
}

// RecordQueryCacheHit records a query cache hit.
func (m *Metrics) RecordQueryCacheHit(collection string) {
	if m == nil {
		return
	}
	m.QueryCacheHitsTotal.WithLabelValues(collection).Inc()
}

// RecordQueryCacheMiss records a query cache miss.
func (m *Metrics) RecordQueryCacheMiss(collection string) {
	if m == nil {
		return
	}
	m.QueryCacheMissesTotal.WithLabelValues(collection).Inc()
}

// RecordQueryCacheInvalidation records n entries invalidated for a
// collection.
func (m *Metrics) RecordQueryCacheInvalidation(collection string, n int) {
	if m == nil {
		return
	}
	m.QueryCacheInvalidationsTotal.WithLabelValues(collection).Add(float64(n))
}

// SetQueryCacheEntries sets the number of live cache entries.
func (m *Metrics) SetQueryCacheEntries(count int) {
	if m == nil {
		return
	}
	m.QueryCacheEntries.Set(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
