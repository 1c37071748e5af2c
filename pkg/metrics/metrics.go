package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the seat engine.
// Using promauto for automatic registration with default registry.
var (
	// --- Run Metrics ---

	// RunsTotal counts completed computation runs by status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatengine",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Total number of computation runs by final status",
		},
		[]string{"status", "method"},
	)

	// RunDuration tracks end-to-end run duration, from load to commit.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "seatengine",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Duration of computation runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~3m
		},
		[]string{"method", "status"},
	)

	// --- Engine Metrics ---

	// DistrictComputations counts per-district allocations by outcome.
	DistrictComputations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatengine",
			Subsystem: "engine",
			Name:      "district_computations_total",
			Help:      "Total number of district allocations by outcome",
		},
		[]string{"method", "status"},
	)

	// DistrictDuration tracks the time spent allocating one district.
	DistrictDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "seatengine",
			Subsystem: "engine",
			Name:      "district_duration_seconds",
			Help:      "Duration of a single district allocation",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		},
		[]string{"method"},
	)

	// SeatsAllocated counts ordinary seats handed out.
	SeatsAllocated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatengine",
			Subsystem: "engine",
			Name:      "seats_allocated_total",
			Help:      "Total number of ordinary seats allocated",
		},
		[]string{"method"},
	)

	// --- Scheduler Metrics ---

	// SchedulerLag measures delay between scheduled time and actual enqueue.
	SchedulerLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "seatengine",
			Subsystem: "scheduler",
			Name:      "lag_seconds",
			Help:      "Delay between scheduled recompute time and actual enqueue",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
	)

	// SchedulerPolls counts scheduler poll cycles.
	SchedulerPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seatengine",
			Subsystem: "scheduler",
			Name:      "polls_total",
			Help:      "Total number of scheduler poll cycles",
		},
	)

	// RunsEnqueued counts runs pushed to the queue.
	RunsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seatengine",
			Subsystem: "scheduler",
			Name:      "runs_enqueued_total",
			Help:      "Total number of runs enqueued",
		},
	)

	// --- Executor Metrics ---

	// ActiveNodes tracks number of active executor nodes.
	ActiveNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "seatengine",
			Subsystem: "cluster",
			Name:      "active_nodes",
			Help:      "Number of active executor nodes",
		},
	)

	// ExecutorRunsInFlight tracks concurrent runs on an executor.
	ExecutorRunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "seatengine",
			Subsystem: "executor",
			Name:      "runs_in_flight",
			Help:      "Number of runs currently being computed on this executor",
		},
	)

	// HeartbeatsSent counts heartbeats sent by executor.
	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seatengine",
			Subsystem: "executor",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats sent",
		},
	)

	// --- Queue Metrics ---

	// QueueDepth tracks pending run requests.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "seatengine",
			Subsystem: "queue",
			Name:      "pending_runs",
			Help:      "Number of run requests pending in the queue",
		},
	)

	// --- Resilience Metrics ---

	// CircuitState exposes each breaker's state: 0 closed, 1 open, 2 half-open.
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "seatengine",
			Subsystem: "resilience",
			Name:      "circuit_state",
			Help:      "Circuit breaker state by dependency",
		},
		[]string{"breaker"},
	)

	// --- Retry Metrics ---

	// RetriesTotal counts run retries.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatengine",
			Subsystem: "runs",
			Name:      "retries_total",
			Help:      "Total number of run retries",
		},
		[]string{"election_id"},
	)

	// OrphansReaped counts runs abandoned by dead executors.
	OrphansReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seatengine",
			Subsystem: "scheduler",
			Name:      "orphans_reaped_total",
			Help:      "Total number of orphaned runs cleaned up",
		},
	)
)

// RecordRun records metrics for a finished run.
func RecordRun(method, status string, durationSeconds float64) {
	RunsTotal.WithLabelValues(status, method).Inc()
	RunDuration.WithLabelValues(method, status).Observe(durationSeconds)
}

// RecordDistrict records one district allocation.
func RecordDistrict(method, status string, durationSeconds float64) {
	DistrictComputations.WithLabelValues(method, status).Inc()
	DistrictDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordEnqueue records a run being enqueued by the scheduler.
func RecordEnqueue(lagSeconds float64) {
	RunsEnqueued.Inc()
	SchedulerLag.Observe(lagSeconds)
}
