package keeper

import "github.com/prometheus/client_golang/prometheus"

var ticksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "raffle",
	Subsystem: "keeper",
	Name:      "ticks_total",
	Help:      "Keeper ticks by keeper name and outcome.",
}, []string{"keeper", "result"})

func init() {
	prometheus.MustRegister(ticksTotal)
}
