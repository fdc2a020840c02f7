package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks client requests by method and outcome
	// (ok, cache_hit, stale, queued, error).
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatshare_requests_total",
			Help: "Total number of client requests",
		},
		[]string{"method", "outcome"},
	)

	// RequestLatency tracks network dispatch latency
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flatshare_request_latency_seconds",
			Help:    "Network dispatch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ErrorsTotal tracks classified errors per kind
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatshare_errors_total",
			Help: "Total number of classified errors",
		},
		[]string{"kind"},
	)

	// CacheLookups tracks cache lookups by result (fresh, stale, miss)
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatshare_cache_lookups_total",
			Help: "Total number of request cache lookups",
		},
		[]string{"result"},
	)

	// OfflineQueueSize tracks pending queued mutations
	OfflineQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flatshare_offline_queue_size",
			Help: "Number of mutating requests waiting for replay",
		},
	)

	// ReplaySweeps tracks replay sweeps by result (run, skipped, empty)
	ReplaySweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatshare_replay_sweeps_total",
			Help: "Total number of replay sweep triggers",
		},
		[]string{"result"},
	)

	// ReplayedRequests tracks individual replay attempts by outcome
	ReplayedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatshare_replayed_requests_total",
			Help: "Total number of queued request replay attempts",
		},
		[]string{"outcome"},
	)

	// ConnectivityOnline is 1 while the monitor reports Connected
	ConnectivityOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flatshare_connectivity_online",
			Help: "1 when the network is reported connected, 0 otherwise",
		},
	)

	// ConnectivityTransitions tracks status transitions by new status
	ConnectivityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatshare_connectivity_transitions_total",
			Help: "Total number of connectivity status transitions",
		},
		[]string{"status"},
	)

	// DBConnectionPoolUsage tracks the percentage of used connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flatshare_db_connection_pool_usage",
			Help: "Percentage of used database connections",
		},
	)
)
