// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP requests by method, route pattern and status code
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commitment_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "commitment_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Complete-today calls by outcome: committed, noop, already_complete,
	// already_completed_today, not_found, failed
	AllocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commitment_allocations_total",
			Help: "Complete-today calls by outcome",
		},
		[]string{"outcome"},
	)

	// Aborted attempts that were retried, by reason
	AllocationRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commitment_allocation_retries_total",
			Help: "Allocation attempts aborted and retried",
		},
		[]string{"reason"},
	)

	AllocationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "commitment_allocation_duration_seconds",
			Help:    "Time spent in complete-today including lock wait and retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	RegionsAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "commitment_regions_allocated_total",
			Help: "Regions recorded as completed",
		},
	)

	FeedSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "commitment_feed_subscribers",
			Help: "Open progress feed WebSocket connections",
		},
	)
)

var registerOnce sync.Once

// Register adds every collector to reg. Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			RequestsTotal,
			RequestDuration,
			AllocationsTotal,
			AllocationRetries,
			AllocationDuration,
			RegionsAllocated,
			FeedSubscribers,
		)
	})
}
