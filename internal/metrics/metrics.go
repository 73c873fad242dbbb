// Package metrics registers the engine's Prometheus collectors. Everything is
// registered once at package init on the default registry and exposed through
// promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts calendar cache hits per tier.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noortime_cache_hits_total",
		Help: "Total calendar cache hits",
	}, []string{"tier", "zone", "year"})

	// CacheMisses counts calendar cache misses per tier.
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noortime_cache_misses_total",
		Help: "Total calendar cache misses",
	}, []string{"tier", "zone", "year"})

	// APIRequests counts upstream adapter calls.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noortime_api_requests_total",
		Help: "Total upstream API requests",
	}, []string{"adapter", "endpoint", "status"})

	// APIRequestDuration observes upstream adapter call latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "noortime_api_request_duration_seconds",
		Help:    "Upstream API request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"adapter", "endpoint"})

	// TaskRuns counts background task executions by outcome.
	TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "noortime_bg_task_runs_total",
		Help: "Total background task runs",
	}, []string{"task", "status"})

	// TaskDuration observes background task latency.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "noortime_bg_task_duration_seconds",
		Help:    "Background task duration in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"task"})
)
