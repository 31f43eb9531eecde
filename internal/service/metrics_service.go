package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/lms-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	cacheLatency       prometheus.Observer
	cacheWrite         prometheus.Observer
	cacheHitRatio      prometheus.Gauge
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	enrollments        *prometheus.CounterVec
	lectureCompletions prometheus.Counter
	watchSessions      *prometheus.CounterVec
	uploadBytes        *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	enrollmentCount      uint64
	completionCount      uint64
	sessionCount         uint64
	uploadedBytes        uint64
	jobRunCount          uint64
	jobFailureCount      uint64
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

	enrollments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lms_enrollments_total",
		Help: "Enrollments created, by enrollment type",
	}, []string{"type"})

	lectureCompletions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lms_lecture_completions_total",
		Help: "Lectures newly marked complete",
	})

	watchSessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lms_watch_sessions_total",
		Help: "Watch session lifecycle events",
	}, []string{"event"})

	uploadBytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lms_upload_bytes_total",
		Help: "Bytes stored by uploads, by asset kind",
	}, []string{"kind"})

	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lms_job_duration_seconds",
		Help:    "Duration of background jobs",
		Buckets: prometheus.DefBuckets,
	}, []string{"job", "status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		enrollments, lectureCompletions, watchSessions, uploadBytes, jobDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:           registry,
		handler:            handler,
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		enrollments:        enrollments,
		lectureCompletions: lectureCompletions,
		watchSessions:      watchSessions,
		uploadBytes:        uploadBytes,
		jobDuration:        jobDuration,
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

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
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

// RecordEnrollment counts a new enrollment.
func (m *MetricsService) RecordEnrollment(enrollmentType models.EnrollmentType) {
	if m == nil {
		return
	}
	m.enrollments.WithLabelValues(string(enrollmentType)).Inc()
	atomic.AddUint64(&m.enrollmentCount, 1)
}

// RecordLectureCompletion counts a lecture that was not complete before.
func (m *MetricsService) RecordLectureCompletion() {
	if m == nil {
		return
	}
	m.lectureCompletions.Inc()
	atomic.AddUint64(&m.completionCount, 1)
}

// RecordWatchSession counts session starts and ends.
func (m *MetricsService) RecordWatchSession(event string) {
	if m == nil {
		return
	}
	m.watchSessions.WithLabelValues(event).Inc()
	if event == "start" {
		atomic.AddUint64(&m.sessionCount, 1)
	}
}

// RecordUpload adds stored bytes for an asset kind.
func (m *MetricsService) RecordUpload(kind string, size int64) {
	if m == nil || size <= 0 {
		return
	}
	m.uploadBytes.WithLabelValues(kind).Add(float64(size))
	atomic.AddUint64(&m.uploadedBytes, uint64(size))
}

// ObserveJob records a background job run.
func (m *MetricsService) ObserveJob(name string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		atomic.AddUint64(&m.jobFailureCount, 1)
	}
	m.jobDuration.WithLabelValues(name, status).Observe(duration.Seconds())
	atomic.AddUint64(&m.jobRunCount, 1)
}

// Snapshot returns aggregated metrics suitable for the admin metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		Enrollments:              atomic.LoadUint64(&m.enrollmentCount),
		LectureCompletions:       atomic.LoadUint64(&m.completionCount),
		WatchSessions:            atomic.LoadUint64(&m.sessionCount),
		UploadedBytes:            atomic.LoadUint64(&m.uploadedBytes),
		JobRuns:                  atomic.LoadUint64(&m.jobRunCount),
		JobFailures:              atomic.LoadUint64(&m.jobFailureCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
