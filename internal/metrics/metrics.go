package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream session metrics
var (
	// ActiveSessions tracks currently open streaming sessions by kind
	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalog_stream_active_sessions",
			Help: "Number of open streaming sessions by resource kind",
		},
		[]string{"kind"},
	)

	// SessionsClosed counts finished sessions by kind and reason
	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_stream_sessions_closed_total",
			Help: "Total closed streaming sessions by kind and reason (timeout/disconnect/error)",
		},
		[]string{"kind", "reason"},
	)

	// EventsSent counts SSE events written by kind and event name
	EventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_stream_events_sent_total",
			Help: "Total SSE events written by kind and event name",
		},
		[]string{"kind", "event"},
	)
)

// Broadcast metrics
var (
	// SnapshotsPublished counts publish calls by kind
	SnapshotsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_stream_snapshots_published_total",
			Help: "Total snapshots published by resource kind",
		},
		[]string{"kind"},
	)

	// SnapshotsDropped counts per-subscriber drops caused by a full queue
	SnapshotsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_stream_snapshots_dropped_total",
			Help: "Total snapshots dropped for a subscriber with a full delivery queue",
		},
		[]string{"kind"},
	)
)

// Change detector metrics
var (
	// DetectorCycles counts poll cycles by kind and outcome (unchanged/changed/error)
	DetectorCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_stream_detector_cycles_total",
			Help: "Total change-detector poll cycles by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// StoreQueryDuration tracks snapshot source latency in seconds
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_stream_store_query_duration_seconds",
			Help:    "Snapshot source query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"kind", "query"},
	)
)
