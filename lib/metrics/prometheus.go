package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry wraps a Prometheus registry with the pipeline's metrics.
type MetricsRegistry struct {
	registry *prometheus.Registry

	// HTTP metrics (hook ingress surface)
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	httpRequestsInFlight  prometheus.Gauge
	httpResponseSizeBytes *prometheus.HistogramVec

	// Pipeline metrics
	hookEventsTotal       *prometheus.CounterVec
	dispatchDuration      *prometheus.HistogramVec
	pendingEntriesActive  prometheus.Gauge
	streamingEditsTotal   *prometheus.CounterVec
	fallbackDeliveries    *prometheus.CounterVec
	channelQueueDepth     *prometheus.GaugeVec

	// Database metrics (lib/audit, lib/checklist)
	databaseQueryDuration     *prometheus.HistogramVec
	databaseQueriesTotal      *prometheus.CounterVec
	databaseConnectionsActive prometheus.Gauge
	databaseConnectionErrors  prometheus.Counter

	// Cache metrics (lib/redisx snapshot-dedupe cache)
	cacheHitsTotal         *prometheus.CounterVec
	cacheMissesTotal       *prometheus.CounterVec
	cacheOperationDuration *prometheus.HistogramVec

	// System metrics
	goroutinesCount      prometheus.Gauge
	memoryAllocatedBytes prometheus.Gauge
	memoryHeapBytes      prometheus.Gauge
}

// NewMetricsRegistry creates and registers the pipeline's metric set.
func NewMetricsRegistry() *MetricsRegistry {
	registry := prometheus.NewRegistry()
	mr := &MetricsRegistry{registry: registry}

	mr.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discode_http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)
	mr.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discode_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds by method and path",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
	mr.httpRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "discode_http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		},
	)
	mr.httpResponseSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discode_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	mr.hookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discode_hook_events_total",
			Help: "Total number of hook events dispatched, by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)
	mr.dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discode_dispatch_duration_seconds",
			Help:    "Time from hook event enqueue to handler completion, by event type",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"event_type"},
	)
	mr.pendingEntriesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "discode_pending_entries_active",
			Help: "Current number of in-flight PendingEntry state machines",
		},
	)
	mr.streamingEditsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discode_streaming_edits_total",
			Help: "Total number of debounced streaming-message edits flushed, by platform",
		},
		[]string{"platform"},
	)
	mr.fallbackDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discode_fallback_deliveries_total",
			Help: "Total number of terminal-buffer fallback snapshots delivered, by reason",
		},
		[]string{"reason"},
	)
	mr.channelQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "discode_channel_queue_depth",
			Help: "Current depth of a channel's FIFO dispatch queue",
		},
		[]string{"channel_id"},
	)

	mr.databaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discode_database_query_duration_seconds",
			Help:    "Database query latency in seconds by query type",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query_type"},
	)
	mr.databaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discode_database_queries_total",
			Help: "Total number of database queries by type and status",
		},
		[]string{"query_type", "status"},
	)
	mr.databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "discode_database_connections_active",
			Help: "Current number of active database connections",
		},
	)
	mr.databaseConnectionErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "discode_database_connection_errors_total",
			Help: "Total number of database connection errors",
		},
	)

	mr.cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discode_cache_hits_total",
			Help: "Total number of cache hits by cache name",
		},
		[]string{"cache_name"},
	)
	mr.cacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discode_cache_misses_total",
			Help: "Total number of cache misses by cache name",
		},
		[]string{"cache_name"},
	)
	mr.cacheOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discode_cache_operation_duration_seconds",
			Help:    "Cache operation duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
		[]string{"cache_name", "operation"},
	)

	mr.goroutinesCount = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "discode_goroutines_count", Help: "Current number of goroutines"},
	)
	mr.memoryAllocatedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "discode_memory_allocated_bytes", Help: "Current allocated memory in bytes"},
	)
	mr.memoryHeapBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "discode_memory_heap_bytes", Help: "Current heap memory in bytes"},
	)

	mr.registerMetrics()
	return mr
}

func (mr *MetricsRegistry) registerMetrics() {
	mr.registry.MustRegister(
		mr.httpRequestsTotal, mr.httpRequestDuration, mr.httpRequestsInFlight, mr.httpResponseSizeBytes,
		mr.hookEventsTotal, mr.dispatchDuration, mr.pendingEntriesActive, mr.streamingEditsTotal,
		mr.fallbackDeliveries, mr.channelQueueDepth,
		mr.databaseQueryDuration, mr.databaseQueriesTotal, mr.databaseConnectionsActive, mr.databaseConnectionErrors,
		mr.cacheHitsTotal, mr.cacheMissesTotal, mr.cacheOperationDuration,
		mr.goroutinesCount, mr.memoryAllocatedBytes, mr.memoryHeapBytes,
	)
}

// GetRegistry returns the underlying Prometheus registry.
func (mr *MetricsRegistry) GetRegistry() *prometheus.Registry {
	return mr.registry
}

// HTTPHandler returns the Prometheus handler for the /metrics endpoint.
func (mr *MetricsRegistry) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(mr.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          mr.registry,
	})
}

// JSONHandler exports metrics in JSON, for operators without a Prometheus
// scraper yet (mirrors /debug/events' operator-facing intent).
func (mr *MetricsRegistry) JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		families, err := mr.registry.Gather()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		out := map[string]any{
			"timestamp": time.Now().Unix(),
			"metrics":   make([]map[string]any, 0),
		}

		for _, mf := range families {
			for _, m := range mf.GetMetric() {
				metric := map[string]any{
					"name":   mf.GetName(),
					"help":   mf.GetHelp(),
					"type":   mf.GetType().String(),
					"labels": make(map[string]string),
				}
				for _, label := range m.GetLabel() {
					metric["labels"].(map[string]string)[label.GetName()] = label.GetValue()
				}
				switch mf.GetType() {
				case 0: // COUNTER
					if m.Counter != nil {
						metric["value"] = m.Counter.GetValue()
					}
				case 1: // GAUGE
					if m.Gauge != nil {
						metric["value"] = m.Gauge.GetValue()
					}
				case 4: // HISTOGRAM
					if m.Histogram != nil {
						metric["count"] = m.Histogram.GetSampleCount()
						metric["sum"] = m.Histogram.GetSampleSum()
					}
				}
				out["metrics"] = append(out["metrics"].([]map[string]any), metric)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// ===== HTTP metrics =====

// HTTPMiddleware wraps a hook-ingress handler to record request metrics.
func (mr *MetricsRegistry) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		mr.httpRequestsInFlight.Inc()
		defer mr.httpRequestsInFlight.Dec()

		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(wrapper.statusCode)
		path := mr.normalizePath(r)

		mr.httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		mr.httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		mr.httpResponseSizeBytes.WithLabelValues(r.Method, path).Observe(float64(wrapper.bytesWritten))
	})
}

func (mr *MetricsRegistry) normalizePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	path := r.URL.Path
	if len(path) > 100 {
		path = path[:100]
	}
	return sanitizePath(path)
}

func sanitizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		}
		if _, err := strconv.Atoi(part); err == nil && len(part) > 0 {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// ===== Pipeline metrics =====

// RecordHookEvent counts one dispatched hook event by type and outcome
// ("ok", "error", "timeout" — mirrors lib/audit's Outcome constants).
func (mr *MetricsRegistry) RecordHookEvent(eventType, outcome string) {
	mr.hookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// DispatchTimer returns a function that records how long a handler took
// from enqueue to completion.
func (mr *MetricsRegistry) DispatchTimer(eventType string) func() {
	start := time.Now()
	return func() {
		mr.dispatchDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}
}

// SetPendingEntriesActive reports the current PendingTracker size.
func (mr *MetricsRegistry) SetPendingEntriesActive(count int) {
	mr.pendingEntriesActive.Set(float64(count))
}

// RecordStreamingEdit counts a flushed debounced edit for a platform.
func (mr *MetricsRegistry) RecordStreamingEdit(platform string) {
	mr.streamingEditsTotal.WithLabelValues(platform).Inc()
}

// RecordFallbackDelivery counts a terminal-buffer fallback snapshot,
// tagged by why it fired (e.g. "no-hook-activity", "idle-timeout").
func (mr *MetricsRegistry) RecordFallbackDelivery(reason string) {
	mr.fallbackDeliveries.WithLabelValues(reason).Inc()
}

// SetChannelQueueDepth reports a channel FIFO's current backlog.
func (mr *MetricsRegistry) SetChannelQueueDepth(channelID string, depth int) {
	mr.channelQueueDepth.WithLabelValues(channelID).Set(float64(depth))
}

// ===== Database metrics (lib/audit, lib/checklist) =====

// RecordDBQuery records a database query execution.
func (mr *MetricsRegistry) RecordDBQuery(queryType string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	mr.databaseQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
	mr.databaseQueriesTotal.WithLabelValues(queryType, status).Inc()
}

// DBQueryTimer returns a function to record database query duration.
func (mr *MetricsRegistry) DBQueryTimer(queryType string) func(error) {
	start := time.Now()
	return func(err error) {
		mr.RecordDBQuery(queryType, time.Since(start), err)
	}
}

// RecordDBConnection records database connection metrics.
func (mr *MetricsRegistry) RecordDBConnection(active int, err error) {
	mr.databaseConnectionsActive.Set(float64(active))
	if err != nil {
		mr.databaseConnectionErrors.Inc()
	}
}

// ===== Cache metrics (lib/redisx) =====

func (mr *MetricsRegistry) RecordCacheHit(cacheName string)  { mr.cacheHitsTotal.WithLabelValues(cacheName).Inc() }
func (mr *MetricsRegistry) RecordCacheMiss(cacheName string) { mr.cacheMissesTotal.WithLabelValues(cacheName).Inc() }

func (mr *MetricsRegistry) RecordCacheOperation(cacheName, operation string, duration time.Duration) {
	mr.cacheOperationDuration.WithLabelValues(cacheName, operation).Observe(duration.Seconds())
}

func (mr *MetricsRegistry) CacheOperationTimer(cacheName, operation string) func() {
	start := time.Now()
	return func() {
		mr.RecordCacheOperation(cacheName, operation, time.Since(start))
	}
}

// ===== System metrics =====

// UpdateSystemMetrics updates system-level metrics (call periodically from
// a runtime.ReadMemStats sampler in cmd/discode).
func (mr *MetricsRegistry) UpdateSystemMetrics(goroutines int, allocatedBytes, heapBytes uint64) {
	mr.goroutinesCount.Set(float64(goroutines))
	mr.memoryAllocatedBytes.Set(float64(allocatedBytes))
	mr.memoryHeapBytes.Set(float64(heapBytes))
}

// ===== Context-based helpers =====

type contextKey string

const metricsContextKey contextKey = "metrics_registry"

// WithMetrics adds the metrics registry to the context.
func WithMetrics(ctx context.Context, mr *MetricsRegistry) context.Context {
	return context.WithValue(ctx, metricsContextKey, mr)
}

// FromContext retrieves the metrics registry from the context.
func FromContext(ctx context.Context) *MetricsRegistry {
	if mr, ok := ctx.Value(metricsContextKey).(*MetricsRegistry); ok {
		return mr
	}
	return nil
}
