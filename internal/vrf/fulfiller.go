package vrf

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultMaxAttempts bounds automatic redelivery of a failing request.
// Past it the request stays pending until an operator fulfills it by hand.
const DefaultMaxAttempts = 5

// Fulfiller plays the oracle node on development chains: it periodically
// delivers randomness for requests older than the configured delay.
type Fulfiller struct {
	coordinator *MockCoordinator
	delay       time.Duration
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
	stop        chan struct{}
	running     atomic.Bool
}

// NewFulfiller creates a fulfiller for the coordinator.
func NewFulfiller(coordinator *MockCoordinator, delay, interval time.Duration, logger *slog.Logger) *Fulfiller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Fulfiller{
		coordinator: coordinator,
		delay:       delay,
		interval:    interval,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger,
		now:         time.Now,
		stop:        make(chan struct{}),
	}
}

// Running reports whether the fulfiller loop is actively running.
func (f *Fulfiller) Running() bool {
	return f.running.Load()
}

// Start begins the fulfillment loop. Call in a goroutine.
func (f *Fulfiller) Start(ctx context.Context) {
	f.running.Store(true)
	defer f.running.Store(false)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case <-ticker.C:
			f.safeRunOnce(ctx)
		}
	}
}

// Stop signals the fulfiller to stop.
func (f *Fulfiller) Stop() {
	select {
	case f.stop <- struct{}{}:
	default:
	}
}

func (f *Fulfiller) safeRunOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("panic in vrf fulfiller", "panic", fmt.Sprint(r))
		}
	}()
	f.RunOnce(ctx)
}

// RunOnce delivers every due request and returns how many succeeded.
func (f *Fulfiller) RunOnce(ctx context.Context) int {
	now := f.now()
	delivered := 0
	for _, req := range f.coordinator.PendingRequests(ctx) {
		if ctx.Err() != nil {
			return delivered
		}
		if now.Sub(req.RequestedAt) < f.delay {
			continue
		}
		if req.Attempts >= f.maxAttempts {
			continue
		}
		if err := f.coordinator.FulfillRandomWords(ctx, req.ID, req.Request.Consumer); err != nil {
			f.logger.Warn("auto-fulfillment failed",
				"vrf_request_id", req.ID.String(), "attempt", req.Attempts+1, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}
