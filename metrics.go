package amm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// --- Prometheus Metrics Definition ---

// Metrics contains all the Prometheus metrics for the Pool.
type Metrics struct {
	// --- Tier 1: Critical System Health & Liveness ---
	ErrorsTotal     *prometheus.CounterVec
	OperationsTotal *prometheus.CounterVec

	// --- Tier 2: Performance & Bottleneck Identification ---
	PendingOperations      *prometheus.GaugeVec
	ExternalCallDur        *prometheus.HistogramVec
	ReconciliationDuration *prometheus.HistogramVec

	// --- Tier 3: Data & State Integrity ---
	Reserve           *prometheus.GaugeVec
	TotalSupply       *prometheus.GaugeVec
	UnsupportedAssets *prometheus.CounterVec
}

// NewMetrics creates and registers all the Prometheus metrics for the pool.
// A nil registerer creates the collectors without registering them.
func NewMetrics(reg prometheus.Registerer, systemName string) *Metrics {
	return &Metrics{
		// --- Tier 1 Metrics ---
		ErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "amm_pool_errors_total",
			Help:      "Total number of errors reported by the pool, labeled by error type.",
		}, []string{"type"}),

		OperationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "amm_pool_operations_total",
			Help:      "Entry point invocations, labeled by operation and outcome.",
		}, []string{"op", "outcome"}),

		// --- Tier 2 Metrics ---
		PendingOperations: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: systemName,
			Name:      "amm_pool_pending_operations",
			Help:      "Number of external calls awaiting a response, labeled by kind.",
		}, []string{"kind"}),

		ExternalCallDur: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: systemName,
			Name:      "amm_pool_external_call_duration_seconds",
			Help:      "Time between issuing an external call and consuming its response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		ReconciliationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: systemName,
			Name:      "amm_pool_reconciliation_duration_seconds",
			Help:      "A histogram of the time it takes for the reconciler to run a full cycle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{}),

		// --- Tier 3 Metrics ---
		Reserve: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: systemName,
			Name:      "amm_pool_reserve",
			Help:      "Balance held by the pool account in the internal ledger, labeled by asset.",
		}, []string{"asset"}),

		TotalSupply: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: systemName,
			Name:      "amm_pool_total_supply",
			Help:      "Sum of all internal balances, labeled by asset.",
		}, []string{"asset"}),

		UnsupportedAssets: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "amm_pool_unsupported_asset_transfers_total",
			Help:      "Incoming transfers returned in full because the asset is not part of the pool.",
		}, []string{}),
	}
}
