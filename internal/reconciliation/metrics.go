package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	unpaidDraws = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raffle",
		Subsystem: "reconciliation",
		Name:      "unpaid_draws",
		Help:      "Draws with a prize but no ledger payout in the last reconciliation run.",
	})

	mismatchedDraws = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raffle",
		Subsystem: "reconciliation",
		Name:      "mismatched_draws",
		Help:      "Draws whose ledger payout differs from the draw in the last reconciliation run.",
	})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "raffle",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	})

	runErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raffle",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation run errors.",
	})
)

func init() {
	prometheus.MustRegister(
		unpaidDraws,
		mismatchedDraws,
		runDuration,
		runErrors,
	)
}
