package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PermissionChecks counts capability evaluations and their outcome (allow|deny).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hycredit_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"permission", "result"},
	)

	// ReviewDecisions counts committed review decisions (approved|rejected).
	ReviewDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hycredit_review_decisions_total",
			Help: "Total number of committed review decisions",
		},
		[]string{"decision"},
	)

	// LedgerSubmissions records issuance submissions by result (success|transient|permanent).
	LedgerSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hycredit_ledger_submissions_total",
			Help: "Total number of ledger issuance submissions",
		},
		[]string{"result"},
	)

	// LedgerConfirmations records applied anchors by outcome (confirmed|failed|reverted).
	LedgerConfirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hycredit_ledger_confirmations_total",
			Help: "Total number of ledger confirmations applied",
		},
		[]string{"outcome"},
	)

	// LedgerQueueDepth tracks requests waiting for a synchroniser worker.
	LedgerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hycredit_ledger_queue_depth",
			Help: "Requests queued for ledger synchronisation",
		},
	)

	// CreditOperations counts ownership ledger entries appended by type.
	CreditOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hycredit_credit_operations_total",
			Help: "Total number of ownership ledger entries appended",
		},
		[]string{"type"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hycredit_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
