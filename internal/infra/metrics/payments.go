package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		attemptsTotal,
		revenueTotal,
		webhooksTotal,
		pollRoundsTotal,
	)
}

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_attempts_total",
			Help: "Payment attempts reaching a state, by provider and state.",
		},
		[]string{"provider", "state"},
	)

	revenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "Total monetary value of succeeded attempts, by currency.",
		},
		[]string{"currency"},
	)

	webhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Inbound provider webhooks by provider and result (ok/invalid_signature/error).",
		},
		[]string{"provider", "result"},
	)

	pollRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_poll_rounds_total",
			Help: "Status poll rounds by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
)

func IncAttempt(provider, state string) {
	attemptsTotal.WithLabelValues(norm(provider), norm(state)).Inc()
}

func AddRevenue(currency string, amount float64) {
	revenueTotal.WithLabelValues(norm(currency)).Add(amount)
}

func IncWebhook(provider, result string) {
	webhooksTotal.WithLabelValues(norm(provider), norm(result)).Inc()
}

func IncPollRound(provider, outcome string) {
	pollRoundsTotal.WithLabelValues(norm(provider), norm(outcome)).Inc()
}
