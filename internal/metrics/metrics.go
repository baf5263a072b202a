package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Broadcast queue metrics - Track the shared signer's transaction flow
var (
	TransactionsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentchain_transactions_submitted_total",
			Help: "Total transactions submitted through the broadcast queue by operation kind",
		},
		[]string{"kind"},
	)

	TransactionsConfirmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentchain_transactions_confirmed_total",
			Help: "Total transactions confirmed on chain by operation kind",
		},
		[]string{"kind"},
	)

	TransactionsReverted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentchain_transactions_reverted_total",
			Help: "Total transactions reverted by the contract by operation kind",
		},
		[]string{"kind"},
	)

	TransactionsTimedOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentchain_transactions_timed_out_total",
			Help: "Total confirmation waits abandoned at the timeout bound by operation kind",
		},
		[]string{"kind"},
	)

	TransactionsReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rentchain_transactions_replaced_total",
		Help: "Total fee-bumped same-nonce replacements submitted",
	})

	NonceResyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rentchain_nonce_resyncs_total",
		Help: "Total times the queue re-synchronized its nonce cursor against the chain",
	})
)

// Lifecycle metrics - Track listing state machine activity
var (
	LifecycleOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentchain_lifecycle_operations_total",
			Help: "Total lifecycle operations by kind and result",
		},
		[]string{"kind", "result"},
	)

	DriftCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rentchain_drift_corrections_total",
		Help: "Total times reconciliation corrected a listing status to match chain state",
	})

	OrphanedContracts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rentchain_orphaned_contracts_total",
		Help: "Total deploys found mined after their caller had already timed out",
	})

	ReconciliationSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rentchain_reconciliation_sweeps_total",
		Help: "Total periodic reconciliation sweeps completed",
	})
)

// Performance metrics - Track latency of the critical paths
var (
	ConfirmationWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rentchain_confirmation_wait_duration_seconds",
		Help:    "Time from submission until a confirmation outcome was observed",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	SubmitCriticalSectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rentchain_submit_critical_section_duration_seconds",
		Help:    "Time the queue's nonce-assignment-and-submit critical section was held",
		Buckets: prometheus.DefBuckets,
	})

	AggregatorFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rentchain_aggregator_fetch_duration_seconds",
		Help:    "Time taken to assemble a full on-chain agreement view",
		Buckets: prometheus.DefBuckets,
	})
)

// State metrics - Track current system state
var (
	InFlightOperations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rentchain_in_flight_operations",
		Help: "Number of listings with a mutating operation currently outstanding",
	})

	UnresolvedTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rentchain_unresolved_transactions",
		Help: "Journal rows awaiting resolution by the reconciliation sweep",
	})

	QueueHalted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rentchain_queue_halted",
		Help: "1 when the broadcast queue has halted admission pending operator resync",
	})
)
