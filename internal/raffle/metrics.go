package raffle

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	entriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raffle",
		Name:      "entries_total",
		Help:      "Total accepted raffle entries.",
	})

	upkeepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raffle",
		Name:      "upkeeps_total",
		Help:      "Upkeep attempts by result.",
	}, []string{"result"})

	drawsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raffle",
		Name:      "draws_total",
		Help:      "Randomness fulfillments by result.",
	}, []string{"result"})

	playersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raffle",
		Name:      "players",
		Help:      "Entrants in the current round.",
	})

	poolGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raffle",
		Name:      "pool_ether",
		Help:      "Prize pool held by the raffle, in ether.",
	})

	stateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raffle",
		Name:      "state",
		Help:      "Raffle state (0 = open, 1 = calculating).",
	})
)

func init() {
	prometheus.MustRegister(entriesTotal, upkeepsTotal, drawsTotal, playersGauge, poolGauge, stateGauge)
}

var weiPerEther = new(big.Float).SetInt(big.NewInt(1e18))

func observeSnapshot(s Snapshot) {
	playersGauge.Set(float64(len(s.Players)))
	stateGauge.Set(float64(s.State))
	if s.Balance != nil {
		f, _ := new(big.Float).Quo(new(big.Float).SetInt(s.Balance), weiPerEther).Float64()
		poolGauge.Set(f)
	}
}
