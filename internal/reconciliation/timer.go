package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Timer periodically runs reconciliation and keeps the latest result.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool

	mu   sync.RWMutex
	last *Result
}

// NewTimer creates a timer; interval <= 0 means five minutes.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the periodic reconciliation loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

// Last returns the most recent result, or nil before the first run.
func (t *Timer) Last() *Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// RunNow runs reconciliation immediately and records the result.
func (t *Timer) RunNow(ctx context.Context) (*Result, error) {
	res, err := t.service.Run(ctx)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.last = res
	t.mu.Unlock()

	if !res.Match {
		t.logger.Warn("reconciliation found unpaid draws",
			"checked", res.Checked, "problems", len(res.Problems),
			"prizes", res.PrizesTotal, "paid", res.PaidTotal)
	} else {
		t.logger.Debug("reconciliation ok", "checked", res.Checked)
	}
	return res, nil
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in reconciliation timer", "panic", fmt.Sprint(r))
		}
	}()

	if _, err := t.RunNow(ctx); err != nil {
		t.logger.Warn("reconciliation run failed", "error", err)
	}
}
