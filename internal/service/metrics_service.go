package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cascade outcome labels.
const (
	CascadeResultCommitted = "committed"
	CascadeResultRejected  = "rejected"
	CascadeResultFailed    = "failed"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	cascadeTransitions *prometheus.CounterVec
	cascadeDuration    prometheus.Observer
	parentsRecomputed  prometheus.Counter
	parentsSkipped     prometheus.Counter
	cascadeRetries     prometheus.Counter

	droppedInvalidations prometheus.Counter

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	cascadeTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_transitions_total",
		Help: "Student status transitions by outcome",
	}, []string{"result"})

	cascadeDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cascade_duration_seconds",
		Help:    "Duration of a status transition including retries",
		Buckets: prometheus.DefBuckets,
	})

	parentsRecomputed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cascade_parents_recomputed_total",
		Help: "Parent login flags written by cascades",
	})

	parentsSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cascade_parents_skipped_total",
		Help: "Parents left untouched because of an admin override",
	})

	cascadeRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cascade_transaction_retries_total",
		Help: "Cascade transactions replayed after serialization failures or deadlocks",
	})

	droppedInvalidations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "status_cache_invalidations_dropped_total",
		Help: "Cache invalidation jobs abandoned after exhausting retries",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, dbQueryDuration,
		cascadeTransitions, cascadeDuration, parentsRecomputed, parentsSkipped, cascadeRetries, droppedInvalidations, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		handler:            handler,
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		dbQueryDuration:    dbQueryDuration,
		cascadeTransitions: cascadeTransitions,
		cascadeDuration:    cascadeDuration,
		parentsRecomputed:  parentsRecomputed,
		parentsSkipped:     parentsSkipped,
		cascadeRetries:     cascadeRetries,

		droppedInvalidations: droppedInvalidations,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}


// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserveCascade records the outcome and total duration of one transition.
func (m *MetricsService) ObserveCascade(result string, duration time.Duration, recomputed, skipped int) {
	if m == nil {
		return
	}
	m.cascadeTransitions.WithLabelValues(result).Inc()
	m.cascadeDuration.Observe(duration.Seconds())
	if recomputed > 0 {
		m.parentsRecomputed.Add(float64(recomputed))
	}
	if skipped > 0 {
		m.parentsSkipped.Add(float64(skipped))
	}
}

// IncCascadeRetry counts one replayed cascade transaction.
func (m *MetricsService) IncCascadeRetry() {
	if m == nil {
		return
	}
	m.cascadeRetries.Inc()
}

// IncDroppedInvalidation counts one cache invalidation given up on.
func (m *MetricsService) IncDroppedInvalidation() {
	if m == nil {
		return
	}
	m.droppedInvalidations.Inc()
}
