package webhooks

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/raffle/internal/raffle"
)

const (
	queueSize       = 512
	deliverDeadline = 2 * time.Minute
)

var droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "raffle",
	Subsystem: "webhook",
	Name:      "dropped_total",
	Help:      "Events dropped because the delivery queue was full.",
})

func init() {
	prometheus.MustRegister(droppedTotal)
}

// Publish queues ev for delivery. It never blocks; when the queue is full
// the event is dropped and counted.
func (d *Dispatcher) Publish(_ context.Context, ev raffle.Event) {
	if ev.At.IsZero() {
		ev.At = d.now().UTC()
	}
	select {
	case d.queue <- ev:
	default:
		droppedTotal.Inc()
		d.logger.Warn("webhook queue full, dropping event", "type", ev.Type, "round", ev.Round)
	}
}

// Run delivers queued events one at a time until ctx ends. Events still
// queued at shutdown are dropped.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			dctx, cancel := context.WithTimeout(ctx, deliverDeadline)
			if _, err := d.Deliver(dctx, ev); err != nil {
				d.logger.Error("webhook dispatch failed", "type", ev.Type, "error", err)
			}
			cancel()
		}
	}
}

// Done is closed once Run returns.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }
