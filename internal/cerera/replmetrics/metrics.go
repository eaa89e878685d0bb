// Package replmetrics exposes prometheus instrumentation for the three replication
// engines, grouped the way internal/icenet/metrics groups peer/block/consensus metrics:
// one gauge/counter/histogram var block per engine, registered once at package init via
// promauto.
package replmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "replicore"

var (
	// PBFT metrics
	PBFTOpNum = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pbft_op_num",
		Help:      "Highest PrePrepare slot assigned by this replica",
	})

	PBFTCommitNum = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pbft_commit_num",
		Help:      "Highest committed-local slot executed by this replica",
	})

	PBFTPrepareQuorum = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pbft_prepare_quorum_size",
		Help:      "Size of the Prepare quorum collected for the most recently prepared slot",
	})

	PBFTCommitQuorum = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pbft_commit_quorum_size",
		Help:      "Size of the Commit quorum collected for the most recently committed slot",
	})

	PBFTRequestsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pbft_requests_executed_total",
		Help:      "Total number of client requests executed against the application",
	})

	PBFTDuplicateRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pbft_duplicate_requests_total",
		Help:      "Total number of client requests answered from the cached reply instead of re-executing",
	})

	PBFTVerificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pbft_verification_failures_total",
		Help:      "Total number of PrePrepare/Prepare/Commit messages that failed verification, by phase",
	}, []string{"phase"})

	// Mutex metrics
	MutexGrantLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "mutex_grant_latency_seconds",
		Help:      "Latency between RequestCS and the critical section being granted",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	MutexQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mutex_queue_depth",
		Help:      "Number of outstanding Request entries in the local priority queue",
	})

	MutexQuorumClockFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mutex_quorum_clock_failures_total",
		Help:      "Total number of peer Requests dropped for failing quorum clock verification",
	})

	// COPS metrics
	COPSPendingPuts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cops_pending_puts",
		Help:      "Number of Put messages currently buffered on unmet dependencies",
	})

	COPSPendingSyncs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cops_pending_syncs",
		Help:      "Number of SyncKey messages currently buffered on unmet dependencies",
	})

	COPSAssignLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cops_assign_latency_seconds",
		Help:      "Latency between a Put being accepted and its VersionService assignment completing",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	COPSStaleSyncsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cops_stale_syncs_dropped_total",
		Help:      "Total number of SyncKey messages dropped as already reflected locally",
	})
)

// SetPBFTQuorumSizes records the Prepare/Commit quorum sizes observed for a slot.
func SetPBFTQuorumSizes(prepareCount, commitCount int) {
	PBFTPrepareQuorum.Set(float64(prepareCount))
	PBFTCommitQuorum.Set(float64(commitCount))
}

// RecordVerificationFailure increments the per-phase PBFT verification failure counter.
func RecordVerificationFailure(phase string) {
	PBFTVerificationFailures.WithLabelValues(phase).Inc()
}

// SetCOPSPendingCounts records the current pendingPuts/pendingSyncs backlog sizes.
func SetCOPSPendingCounts(puts, syncs int) {
	COPSPendingPuts.Set(float64(puts))
	COPSPendingSyncs.Set(float64(syncs))
}
