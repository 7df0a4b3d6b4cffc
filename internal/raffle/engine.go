package raffle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/raffle/internal/logging"
	"github.com/mbd888/raffle/internal/retry"
	"github.com/mbd888/raffle/internal/syncutil"
	"github.com/mbd888/raffle/internal/traces"
	"github.com/mbd888/raffle/internal/vrf"
)

// Persisting after an irreversible side effect is retried this many times.
const (
	persistAttempts  = 3
	persistBaseDelay = 50 * time.Millisecond
)

// Engine is the raffle state machine. Mutating calls are serialized; each
// builds its changes on a draft copy of the snapshot and commits only after
// every side effect succeeded.
type Engine struct {
	params      Params
	address     common.Address
	coordinator Coordinator
	payer       Payer
	store       Store
	sinks       []EventSink
	logger      *slog.Logger
	now         func() time.Time

	// op serializes mutating operations; stateMu guards snap for readers.
	op      *syncutil.ContextMutex
	stateMu sync.RWMutex
	snap    Snapshot
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEventSink adds a sink that receives committed events.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sink) }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates the engine, resuming from the store when it already
// holds a snapshot. address identifies the raffle as a randomness consumer.
func NewEngine(ctx context.Context, params Params, address common.Address, coordinator Coordinator, payer Payer, store Store, opts ...Option) (*Engine, error) {
	if err := params.normalize(); err != nil {
		return nil, err
	}
	if coordinator == nil || payer == nil || store == nil {
		return nil, fmt.Errorf("raffle: coordinator, payer and store are required")
	}

	e := &Engine{
		params:      params,
		address:     address,
		coordinator: coordinator,
		payer:       payer,
		store:       store,
		logger:      slog.Default(),
		now:         time.Now,
		op:          syncutil.NewContextMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}

	snap, err := store.Load(ctx)
	switch {
	case err == nil:
		e.logger.Info("raffle resumed",
			"round", snap.Round, "state", snap.State.String(), "players", len(snap.Players), "balance", snap.Balance.String())
	case errors.Is(err, ErrNoSnapshot):
		snap = Snapshot{
			State:         StateOpen,
			LastTimestamp: e.timestamp(),
			Balance:       new(big.Int),
			Round:         1,
		}
		snap.UpdatedAt = snap.LastTimestamp
		if err := store.Save(ctx, snap, nil); err != nil {
			return nil, fmt.Errorf("raffle: save initial snapshot: %w", err)
		}
	default:
		return nil, fmt.Errorf("raffle: load snapshot: %w", err)
	}

	e.snap = snap.Clone()
	observeSnapshot(e.snap)
	return e, nil
}

// Address returns the consumer address the engine requests randomness as.
func (e *Engine) Address() common.Address { return e.address }

// Params returns the construction parameters.
func (e *Engine) Params() Params {
	p := e.params
	p.EntranceFee = new(big.Int).Set(e.params.EntranceFee)
	return p
}

// Enter adds caller to the current round. The payment joins the pool in full.
func (e *Engine) Enter(ctx context.Context, caller common.Address, payment *big.Int) error {
	ctx, span := traces.StartSpan(ctx, "raffle.Enter", traces.Player(caller.Hex()))
	defer span.End()

	if payment == nil || payment.Cmp(e.params.EntranceFee) < 0 {
		return ErrInsufficientPayment
	}

	unlock, err := e.op.LockContext(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	draft := e.current()
	if draft.State != StateOpen {
		return ErrNotOpen
	}

	now := e.timestamp()
	draft.Players = append(draft.Players, caller)
	draft.Balance.Add(draft.Balance, payment)
	draft.UpdatedAt = now

	if err := e.store.Save(ctx, draft, nil); err != nil {
		return fmt.Errorf("raffle: persist entry: %w", err)
	}
	e.commit(draft)
	entriesTotal.Inc()

	e.log(ctx, draft.Round).Info("raffle entered",
		"player", caller.Hex(), "payment", payment.String(), "players", len(draft.Players))
	e.emit(ctx, Event{Type: EventEntered, Round: draft.Round, Player: &caller, Amount: new(big.Int).Set(payment), At: now})
	return nil
}

// Eligibility breaks down the upkeep condition.
type Eligibility struct {
	Open       bool `json:"open"`
	TimePassed bool `json:"timePassed"`
	HasPlayers bool `json:"hasPlayers"`
	HasBalance bool `json:"hasBalance"`
}

// Needed reports whether all conditions hold.
func (el Eligibility) Needed() bool {
	return el.Open && el.TimePassed && el.HasPlayers && el.HasBalance
}

func (e *Engine) eligibility(s Snapshot, now time.Time) Eligibility {
	return Eligibility{
		Open:       s.State == StateOpen,
		TimePassed: now.Sub(s.LastTimestamp) >= e.params.Interval,
		HasPlayers: len(s.Players) > 0,
		HasBalance: s.Balance.Sign() > 0,
	}
}

// Eligibility evaluates the upkeep condition against the committed state.
func (e *Engine) Eligibility() Eligibility {
	return e.eligibility(e.Snapshot(), e.now())
}

// CheckUpkeep reports whether PerformUpkeep would succeed now. It never
// mutates state; checkData is ignored and the returned performData is empty.
func (e *Engine) CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	return e.Eligibility().Needed(), []byte{}, nil
}

// PerformUpkeep closes the round and requests randomness. It returns the
// request id.
func (e *Engine) PerformUpkeep(ctx context.Context, performData []byte) (*big.Int, error) {
	ctx, span := traces.StartSpan(ctx, "raffle.PerformUpkeep")
	defer span.End()

	unlock, err := e.op.LockContext(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	draft := e.current()
	now := e.timestamp()
	if !e.eligibility(draft, now).Needed() {
		upkeepsTotal.WithLabelValues("not_needed").Inc()
		return nil, &UpkeepNotNeededError{
			Balance:    new(big.Int).Set(draft.Balance),
			NumPlayers: len(draft.Players),
			State:      draft.State,
		}
	}

	requestID, err := e.coordinator.RequestRandomWords(ctx, vrf.Request{
		KeyHash:          e.params.GasLane,
		SubID:            e.params.SubscriptionID,
		MinConfirmations: e.params.RequestConfirmations,
		CallbackGasLimit: e.params.CallbackGasLimit,
		NumWords:         e.params.NumWords,
		Consumer:         e.address,
	})
	if err != nil {
		upkeepsTotal.WithLabelValues("request_failed").Inc()
		return nil, fmt.Errorf("%w: %w", ErrRandomnessRequest, err)
	}
	span.SetAttributes(traces.RequestID(requestID.String()), traces.Round(draft.Round))

	draft.State = StateCalculating
	draft.Pending = &PendingDraw{
		RequestID:   new(big.Int).Set(requestID),
		Round:       draft.Round,
		NumPlayers:  len(draft.Players),
		Pool:        new(big.Int).Set(draft.Balance),
		RequestedAt: now,
	}
	draft.UpdatedAt = now

	log := e.log(ctx, draft.Round)

	// The request is already out; the state must follow it.
	persistErr := retry.Do(ctx, persistAttempts, persistBaseDelay, func() error {
		return e.store.Save(ctx, draft, nil)
	})
	e.commit(draft)
	upkeepsTotal.WithLabelValues("requested").Inc()

	if persistErr != nil {
		log.Error("CRITICAL: randomness requested but raffle state not persisted",
			"vrf_request_id", requestID.String(), "error", persistErr)
	}

	log.Info("raffle winner requested", "vrf_request_id", requestID.String(), "players", len(draft.Players), "pool", draft.Balance.String())
	e.emit(ctx, Event{Type: EventRequestedWinner, Round: draft.Round, RequestID: new(big.Int).Set(requestID), At: now})

	if persistErr != nil {
		return requestID, fmt.Errorf("raffle: randomness requested but state not persisted (requires manual resolution): %w", persistErr)
	}
	return requestID, nil
}

// FulfillRandomWords resolves the pending round. It is the coordinator
// callback and implements vrf.Consumer.
func (e *Engine) FulfillRandomWords(ctx context.Context, requestID *big.Int, randomWords []*big.Int) error {
	ctx, span := traces.StartSpan(ctx, "raffle.FulfillRandomWords")
	defer span.End()

	unlock, err := e.op.LockContext(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	draft := e.current()
	if requestID == nil || draft.Pending == nil || draft.Pending.RequestID.Cmp(requestID) != 0 {
		drawsTotal.WithLabelValues("unknown_request").Inc()
		return ErrUnknownRequest
	}
	if len(randomWords) == 0 || randomWords[0] == nil {
		return ErrNoRandomWords
	}
	if len(draft.Players) == 0 {
		return fmt.Errorf("raffle: pending round %d has no players", draft.Round)
	}
	span.SetAttributes(traces.RequestID(requestID.String()), traces.Round(draft.Round))

	n := big.NewInt(int64(len(draft.Players)))
	idx := int(new(big.Int).Mod(randomWords[0], n).Int64())
	winner := draft.Players[idx]
	prize := new(big.Int).Set(draft.Balance)
	pending := draft.Pending
	round := draft.Round

	now := e.timestamp()
	// Timestamps are kept at microsecond resolution.
	if !now.After(draft.LastTimestamp) {
		now = draft.LastTimestamp.Add(time.Microsecond)
	}

	draw := &Draw{
		Round:       round,
		RequestID:   new(big.Int).Set(requestID),
		Winner:      winner,
		WinnerIndex: idx,
		NumPlayers:  len(draft.Players),
		Prize:       new(big.Int).Set(prize),
		RandomWord:  new(big.Int).Set(randomWords[0]),
		OpenedAt:    draft.LastTimestamp,
		RequestedAt: pending.RequestedAt,
		PickedAt:    now,
	}

	draft.RecentWinner = &winner
	draft.Players = nil
	draft.State = StateOpen
	draft.Pending = nil
	draft.LastTimestamp = now
	draft.Balance = new(big.Int)
	draft.Round = round + 1
	draft.UpdatedAt = now

	log := e.log(ctx, round)

	if prize.Sign() > 0 {
		ref := PayoutReference(round, requestID)
		span.SetAttributes(traces.Reference(ref), traces.Amount(prize.String()))
		if err := e.payer.Pay(ctx, winner, prize, ref); err != nil {
			drawsTotal.WithLabelValues("transfer_failed").Inc()
			log.Warn("prize transfer failed, round stays calculating",
				"vrf_request_id", requestID.String(), "winner", winner.Hex(), "error", err)
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}

	// The prize is paid; the state must follow it.
	persistErr := retry.Do(ctx, persistAttempts, persistBaseDelay, func() error {
		return e.store.Save(ctx, draft, draw)
	})
	e.commit(draft)
	drawsTotal.WithLabelValues("picked").Inc()

	if persistErr != nil {
		log.Error("CRITICAL: prize paid but raffle state not persisted",
			"vrf_request_id", requestID.String(), "winner", winner.Hex(), "prize", prize.String(), "error", persistErr)
	}

	log.Info("raffle winner picked",
		"vrf_request_id", requestID.String(), "winner", winner.Hex(), "index", idx, "prize", prize.String())
	e.emit(ctx, Event{Type: EventWinnerPicked, Round: round, Player: &winner, RequestID: new(big.Int).Set(requestID), Amount: prize, At: now})

	if persistErr != nil {
		return fmt.Errorf("raffle: prize paid but state not persisted (requires manual resolution): %w", persistErr)
	}
	return nil
}

// EntranceFee returns the minimum payment per entry.
func (e *Engine) EntranceFee() *big.Int { return new(big.Int).Set(e.params.EntranceFee) }

// Interval returns the minimum open window.
func (e *Engine) Interval() time.Duration { return e.params.Interval }

// Player returns the entrant at index.
func (e *Engine) Player(index int) (common.Address, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if index < 0 || index >= len(e.snap.Players) {
		return common.Address{}, ErrIndexOutOfRange
	}
	return e.snap.Players[index], nil
}

// NumPlayers returns the number of entrants in the current round.
func (e *Engine) NumPlayers() int {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return len(e.snap.Players)
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.snap.State
}

// LatestTimestamp returns when the current window opened.
func (e *Engine) LatestTimestamp() time.Time {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.snap.LastTimestamp
}

// RecentWinner returns the last winner; ok is false before the first draw.
func (e *Engine) RecentWinner() (winner common.Address, ok bool) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.snap.RecentWinner == nil {
		return common.Address{}, false
	}
	return *e.snap.RecentWinner, true
}

// Balance returns the prize pool.
func (e *Engine) Balance() *big.Int {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return new(big.Int).Set(e.snap.Balance)
}

// Snapshot returns a copy of the committed state.
func (e *Engine) Snapshot() Snapshot {
	return e.current()
}

// Draws returns resolved rounds below before (0 = all), newest first.
func (e *Engine) Draws(ctx context.Context, before uint64, limit int) ([]Draw, error) {
	return e.store.ListDraws(ctx, before, limit)
}

func (e *Engine) current() Snapshot {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.snap.Clone()
}

func (e *Engine) commit(draft Snapshot) {
	e.stateMu.Lock()
	e.snap = draft
	e.stateMu.Unlock()
	observeSnapshot(draft)
}

// timestamp truncates to the precision every store can round-trip.
func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

func (e *Engine) log(ctx context.Context, round uint64) *slog.Logger {
	return logging.L(logging.WithRound(logging.WithLogger(ctx, e.logger), round))
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	for _, sink := range e.sinks {
		sink.Publish(ctx, ev)
	}
}
