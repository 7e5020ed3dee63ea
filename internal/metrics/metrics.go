// Package metrics provides Prometheus metrics for the DeckView server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deckview_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deckview_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Library index metrics
	libraryTreeSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deckview_library_tree_size",
			Help: "Number of indexed documents in the library tree",
		},
	)

	libraryScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deckview_library_scan_duration_seconds",
			Help:    "Time to rebuild the library tree from the content root",
			Buckets: prometheus.DefBuckets,
		},
	)

	libraryScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deckview_library_scans_total",
			Help: "Total library scans by outcome",
		},
		[]string{"result"}, // fresh, memoized
	)

	// Cache metrics
	cacheArtifactsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deckview_cache_artifacts_deleted_total",
			Help: "Total derived artifacts deleted",
		},
		[]string{"reason"}, // stale, orphan
	)

	cacheSafetyRefusals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deckview_cache_safety_refusals_total",
			Help: "Delete requests refused by the sandbox containment check",
		},
	)

	cacheValidityChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deckview_cache_validity_checks_total",
			Help: "Total artifact validity checks",
		},
		[]string{"result"}, // hit, miss
	)

	// Conversion metrics
	conversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deckview_conversions_total",
			Help: "Total document conversions",
		},
		[]string{"kind", "status"},
	)

	conversionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deckview_conversion_duration_seconds",
			Help:    "Document conversion duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	thumbnailsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deckview_thumbnails_generated_total",
			Help: "Total thumbnail pages rendered",
		},
	)

	// Watcher / SSE metrics
	watcherTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deckview_watcher_ticks_total",
			Help: "Total coalesced change notifications emitted",
		},
	)

	watcherEventsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deckview_watcher_events_discarded_total",
			Help: "Raw filesystem events discarded by filtering",
		},
	)

	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deckview_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetLibraryTreeSize sets the current indexed document count.
func SetLibraryTreeSize(size int64) {
	libraryTreeSize.Set(float64(size))
}

// RecordLibraryScan records a completed fresh scan.
func RecordLibraryScan(duration time.Duration) {
	libraryScanDuration.Observe(duration.Seconds())
	libraryScansTotal.WithLabelValues("fresh").Inc()
}

// RecordMemoizedScan records a scan served from the TTL memo.
func RecordMemoizedScan() {
	libraryScansTotal.WithLabelValues("memoized").Inc()
}

// RecordArtifactsDeleted records derived artifact deletions.
func RecordArtifactsDeleted(reason string, count int) {
	if count > 0 {
		cacheArtifactsDeleted.WithLabelValues(reason).Add(float64(count))
	}
}

// RecordSafetyRefusal records a refused deletion outside the sandbox.
func RecordSafetyRefusal() {
	cacheSafetyRefusals.Inc()
}

// RecordValidityCheck records an artifact validity check result.
func RecordValidityCheck(valid bool) {
	result := "hit"
	if !valid {
		result = "miss"
	}
	cacheValidityChecks.WithLabelValues(result).Inc()
}

// RecordConversion records a document conversion attempt.
func RecordConversion(kind string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	conversionsTotal.WithLabelValues(kind, status).Inc()
	conversionDuration.Observe(duration.Seconds())
}

// RecordThumbnails records rendered thumbnail pages.
func RecordThumbnails(count int) {
	thumbnailsGenerated.Add(float64(count))
}

// RecordWatcherTick records a coalesced change notification.
func RecordWatcherTick() {
	watcherTicksTotal.Inc()
}

// RecordDiscardedEvent records a raw filesystem event dropped by filtering.
func RecordDiscardedEvent() {
	watcherEventsDiscarded.Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
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

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
