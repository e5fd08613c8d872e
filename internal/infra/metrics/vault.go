package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		vaultCacheTotal,
		vaultDecryptFailures,
	)
}

var (
	vaultCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_cache_requests_total",
			Help: "Vault secret lookups by cache result.",
		},
		[]string{"result"},
	)

	vaultDecryptFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_decrypt_failures_total",
			Help: "Secrets that failed to decrypt and were served as stored.",
		},
	)
)

func IncVaultCache(result string) {
	vaultCacheTotal.WithLabelValues(norm(result)).Inc()
}

func IncVaultDecryptFailure() { vaultDecryptFailures.Inc() }
