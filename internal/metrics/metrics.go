// Package metrics exposes prometheus collectors for the feed jobs and the
// HTTP surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type serverMetrics struct {
	registry *prometheus.Registry

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	publishes   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
}

// Job duration buckets in seconds; forecast jobs walk every district and can
// legitimately take minutes.
var jobBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

var m *serverMetrics

// Init initializes the metrics subsystem. Must be called once at startup
// before any record call.
func Init(namespace string) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	sm := &serverMetrics{
		registry: registry,

		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_job_runs_total",
				Help:      "Feed job executions by outcome",
			},
			[]string{"feed", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "feed_job_duration_seconds",
				Help:      "Feed job wall time",
				Buckets:   jobBuckets,
			},
			[]string{"feed"},
		),
		publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_publishes_total",
				Help:      "Artifacts published to feed cache slots",
			},
			[]string{"feed"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by path and status",
			},
			[]string{"path", "method", "status"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Read-through cache hits",
			},
			[]string{"cache"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Read-through cache misses",
			},
			[]string{"cache"},
		),
	}

	registry.MustRegister(
		sm.jobRuns,
		sm.jobDuration,
		sm.publishes,
		sm.httpRequests,
		sm.cacheHits,
		sm.cacheMisses,
	)

	m = sm
}

// RecordJobRun records one feed job execution.
func RecordJobRun(feed string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.jobRuns.WithLabelValues(feed, status).Inc()
	m.jobDuration.WithLabelValues(feed).Observe(elapsed.Seconds())
}

// RecordPublish records one artifact publication.
func RecordPublish(feed string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(feed).Inc()
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(path, method, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(path, method, status).Inc()
}

// RecordCacheHit records a read-through cache hit.
func RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a read-through cache miss.
func RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
