package businessflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Saga executions partitioned by trigger and outcome
	sagaExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposync_saga_executions_total",
			Help: "Total number of saga executions by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	// Saga execution duration in seconds partitioned by outcome
	sagaDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deposync_saga_duration_seconds",
			Help:    "Saga execution latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// Jobs currently waiting in the pending queue
	pendingJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deposync_pending_jobs",
			Help: "Number of jobs currently in a pending status",
		},
	)

	// Leases reclaimed by the sweep
	leasesReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deposync_leases_reclaimed_total",
			Help: "Total number of expired processing leases reclaimed",
		},
	)

	// Downstream submit failures partitioned by classified kind
	submitFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposync_submit_failures_total",
			Help: "Total number of scheme submit failures by classified kind",
		},
		[]string{"kind"},
	)
)
