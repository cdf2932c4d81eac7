package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics exported by the lending engine
type Metrics struct {
	// OperationsTotal counts engine operations by operation and outcome
	// (ok, rejected, price_unavailable, busy, conflict, error)
	OperationsTotal *prometheus.CounterVec
	// OperationDuration observes wall time per operation, including the
	// oracle fetch and the store commit
	OperationDuration *prometheus.HistogramVec
	// CASConflicts counts store commits rejected by version mismatch
	CASConflicts prometheus.Counter
	// LockTimeouts counts operations failed for not acquiring the account lock
	LockTimeouts prometheus.Counter
	// OracleFetchDuration observes synchronous price fetch latency
	OracleFetchDuration prometheus.Histogram
}

// NewMetrics registers and returns all engine metrics on the given registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_operations_total",
			Help: "Engine operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lending_operation_duration_seconds",
			Help:    "Wall time per engine operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		CASConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "lending_store_cas_conflicts_total",
			Help: "Position store commits rejected by version mismatch",
		}),

		LockTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "lending_account_lock_timeouts_total",
			Help: "Operations that failed to acquire the per-account lock in time",
		}),

		OracleFetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lending_oracle_fetch_duration_seconds",
			Help:    "Synchronous price oracle fetch latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}
