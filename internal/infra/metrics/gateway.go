package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		gatewayRequestsTotal,
		gatewayLatency,
	)
}

var (
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Provider API calls by provider, operation and result.",
		},
		[]string{"provider", "op", "result"},
	)

	gatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_seconds",
			Help:    "Provider API call latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "op"},
	)
)

func IncGatewayRequest(provider, op, result string) {
	gatewayRequestsTotal.WithLabelValues(norm(provider), norm(op), norm(result)).Inc()
}

func ObserveGatewayLatency(provider, op string, d time.Duration) {
	gatewayLatency.WithLabelValues(norm(provider), norm(op)).Observe(d.Seconds())
}
