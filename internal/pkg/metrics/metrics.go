// Package metrics provides Prometheus metrics definitions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentdesk"

var (
	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status_code"},
	)

	// DBPoolConnections tracks database connection pool state.
	DBPoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "pool_connections",
			Help:      "Number of database connections by state",
		},
		[]string{"state"},
	)

	// IncidentMutations counts successful incident mutations by operation and severity.
	IncidentMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "mutations_total",
			Help:      "Successful incident mutations",
		},
		[]string{"op", "severity"},
	)

	// CommentsAdded counts stored comments.
	CommentsAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "comments",
			Name:      "added_total",
			Help:      "Comments added to incidents",
		},
	)

	// ChangeFeedSubscribers tracks open change feed subscriptions.
	ChangeFeedSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "subscribers",
			Help:      "Open change feed subscriptions",
		},
	)

	// ChangeFeedPublished counts changes delivered to local hubs by table and operation.
	ChangeFeedPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "published_total",
			Help:      "Changes published to the local hub",
		},
		[]string{"table", "op"},
	)

	// ChangeFeedDropped counts changes discarded because a subscriber buffer was full.
	ChangeFeedDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "dropped_total",
			Help:      "Changes dropped for slow subscribers",
		},
	)
)
