package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		ledgerEffectsTotal,
		debitConflictsTotal,
		insufficientFundsTotal,
	)
}

var (
	ledgerEffectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_effects_total",
			Help: "Ledger effect attempts by kind and whether they applied (duplicates no-op).",
		},
		[]string{"kind", "applied"},
	)

	debitConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_debit_version_conflicts_total",
			Help: "Optimistic concurrency retries on wallet debits.",
		},
	)

	insufficientFundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_insufficient_funds_total",
			Help: "Debits refused because the balance would go negative.",
		},
	)
)

func IncLedgerEffect(kind string, applied bool) {
	a := "false"
	if applied {
		a = "true"
	}
	ledgerEffectsTotal.WithLabelValues(norm(kind), a).Inc()
}

func IncDebitConflict() { debitConflictsTotal.Inc() }

func IncInsufficientFunds() { insufficientFundsTotal.Inc() }
