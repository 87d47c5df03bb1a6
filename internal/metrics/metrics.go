// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Divas-Gupta30/market-agent/internal/graph"
)

var (
	WorkflowRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_runs_total",
			Help: "Total number of finished workflow runs",
		},
		[]string{"final_state"},
	)
	WorkflowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_state_transitions_total",
			Help: "Total number of state transitions",
		},
		[]string{"from", "to"},
	)
	WorkflowDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workflow_duration_seconds",
			Help:    "Duration of workflow runs",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		},
	)
	WorkflowAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workflow_attempts",
			Help:    "Rewrite attempts used per run",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests",
		},
		[]string{"method", "endpoint"},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
	)
)

func init() {
	prometheus.MustRegister(WorkflowRunsTotal)
	prometheus.MustRegister(WorkflowTransitionsTotal)
	prometheus.MustRegister(WorkflowDuration)
	prometheus.MustRegister(WorkflowAttempts)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
}

// WorkflowObserver records engine activity into the workflow collectors.
type WorkflowObserver struct{}

func (WorkflowObserver) OnTransition(from, to graph.StateName) {
	WorkflowTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (WorkflowObserver) OnFinish(res *graph.Result, elapsed time.Duration) {
	WorkflowRunsTotal.WithLabelValues(string(res.FinalState)).Inc()
	WorkflowDuration.Observe(elapsed.Seconds())
	WorkflowAttempts.Observe(float64(res.Attempts))
}

// ObserveRequest records one HTTP request.
func ObserveRequest(method, endpoint string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())
}
