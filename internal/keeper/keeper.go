// Package keeper runs an Automation-style upkeep loop: it polls a target's
// CheckUpkeep and calls PerformUpkeep whenever the target reports work.
package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/raffle/internal/circuitbreaker"
)

// Upkeepable is anything that can be maintained by a keeper: the in-process
// raffle engine or a deployed raffle contract.
type Upkeepable interface {
	// CheckUpkeep reports whether PerformUpkeep should be called and the
	// data to pass to it.
	CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte, error)
	// PerformUpkeep does the work and returns a reference to it, such as a
	// randomness request id or a transaction hash.
	PerformUpkeep(ctx context.Context, performData []byte) (string, error)
}

// Result describes a single keeper tick.
type Result struct {
	Needed    bool
	Performed bool
	Reference string
	Err       error
	At        time.Time
}

// Keeper polls a single Upkeepable target.
type Keeper struct {
	name     string
	target   Upkeepable
	interval time.Duration
	logger   *slog.Logger
	breaker  *circuitbreaker.Breaker
	stop     chan struct{}
	running  atomic.Bool

	mu   sync.Mutex
	last Result
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithBreaker replaces the default circuit breaker, which pauses the keeper
// after 3 consecutive failures for one minute.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(k *Keeper) { k.breaker = b }
}

// New creates a keeper named name for target.
func New(name string, target Upkeepable, interval time.Duration, logger *slog.Logger, opts ...Option) *Keeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	k := &Keeper{
		name:     name,
		target:   target,
		interval: interval,
		logger:   logger.With("keeper", name),
		breaker:  circuitbreaker.New(3, time.Minute),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Name returns the keeper's name.
func (k *Keeper) Name() string {
	return k.name
}

// Running reports whether the keeper loop is actively running.
func (k *Keeper) Running() bool {
	return k.running.Load()
}

// LastResult returns the outcome of the most recent tick.
func (k *Keeper) LastResult() Result {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.last
}

// Start begins the upkeep loop. Call in a goroutine.
func (k *Keeper) Start(ctx context.Context) {
	k.running.Store(true)
	defer k.running.Store(false)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-k.stop:
			return
		case <-ticker.C:
			k.safeRunOnce(ctx)
		}
	}
}

// Stop signals the keeper to stop.
func (k *Keeper) Stop() {
	select {
	case k.stop <- struct{}{}:
	default:
	}
}

func (k *Keeper) safeRunOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("panic in keeper", "panic", fmt.Sprint(r))
		}
	}()
	k.RunOnce(ctx)
}

// RunOnce checks the target once and performs upkeep when needed.
// While the breaker is open the tick is skipped.
func (k *Keeper) RunOnce(ctx context.Context) Result {
	res := Result{At: time.Now()}
	defer func() {
		k.mu.Lock()
		k.last = res
		k.mu.Unlock()
	}()

	if !k.breaker.Allow(k.name) {
		ticksTotal.WithLabelValues(k.name, "paused").Inc()
		res.Err = ErrPaused
		return res
	}

	needed, performData, err := k.target.CheckUpkeep(ctx, []byte{})
	if err != nil {
		k.breaker.RecordFailure(k.name)
		ticksTotal.WithLabelValues(k.name, "check_failed").Inc()
		k.logger.Warn("checkUpkeep failed", "error", err)
		res.Err = fmt.Errorf("check upkeep: %w", err)
		return res
	}
	res.Needed = needed
	if !needed {
		k.breaker.RecordSuccess(k.name)
		ticksTotal.WithLabelValues(k.name, "not_needed").Inc()
		return res
	}

	ref, err := k.target.PerformUpkeep(ctx, performData)
	if err != nil {
		k.breaker.RecordFailure(k.name)
		ticksTotal.WithLabelValues(k.name, "perform_failed").Inc()
		k.logger.Warn("performUpkeep failed", "error", err)
		res.Err = fmt.Errorf("perform upkeep: %w", err)
		return res
	}

	k.breaker.RecordSuccess(k.name)
	ticksTotal.WithLabelValues(k.name, "performed").Inc()
	k.logger.Info("upkeep performed", "reference", ref)
	res.Performed = true
	res.Reference = ref
	return res
}
