package vrf

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raffle",
		Subsystem: "vrf",
		Name:      "requests_total",
		Help:      "Total randomness requests accepted by the coordinator.",
	})

	fulfillmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raffle",
		Subsystem: "vrf",
		Name:      "fulfillments_total",
		Help:      "Randomness fulfillment attempts by result.",
	}, []string{"result"})

	pendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raffle",
		Subsystem: "vrf",
		Name:      "pending_requests",
		Help:      "Randomness requests waiting for fulfillment.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, fulfillmentsTotal, pendingRequests)
}
