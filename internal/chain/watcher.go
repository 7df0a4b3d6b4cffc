package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mbd888/raffle/internal/raffle"
)

// LogSource is the part of an RPC client the watcher needs.
type LogSource interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// WatcherConfig configures an EventWatcher.
type WatcherConfig struct {
	Contract      common.Address
	PollInterval  time.Duration
	StartBlock    uint64 // 0 = latest
	Confirmations uint64 // blocks to wait before reporting a log
}

// DefaultWatcherConfig returns sensible defaults
func DefaultWatcherConfig(contract common.Address) WatcherConfig {
	return WatcherConfig{
		Contract:     contract,
		PollInterval: 15 * time.Second,
	}
}

// EventWatcher polls the raffle contract's logs and forwards RaffleEnter,
// RequestedRaffleWinner and WinnerPicked as raffle events.
type EventWatcher struct {
	source LogSource
	config WatcherConfig
	sink   raffle.EventSink
	logger *slog.Logger
	now    func() time.Time

	// Processed logs by key, with their block number. Entries older than
	// dedupWindow blocks behind the cursor are pruned after each poll.
	processed map[string]uint64
	mu        sync.Mutex

	// Last processed block
	lastBlock uint64

	running atomic.Bool

	// Shutdown
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewEventWatcher creates a new event watcher
func NewEventWatcher(source LogSource, cfg WatcherConfig, sink raffle.EventSink, logger *slog.Logger) *EventWatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	return &EventWatcher{
		source:    source,
		config:    cfg,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
		processed: make(map[string]uint64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start resolves the starting block and begins polling in the background.
func (w *EventWatcher) Start(ctx context.Context) error {
	if w.config.StartBlock == 0 {
		block, err := w.source.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("failed to get block number: %w", err)
		}
		w.lastBlock = block
	} else {
		w.lastBlock = w.config.StartBlock - 1
	}

	w.logger.Info("raffle event watcher started",
		"contract", w.config.Contract.Hex(),
		"startBlock", w.lastBlock,
	)

	w.running.Store(true)
	go w.pollLoop(ctx)
	return nil
}

// Running reports whether the poll loop is active.
func (w *EventWatcher) Running() bool {
	return w.running.Load()
}

// Stop stops the watcher and waits for the poll loop to exit. It returns
// immediately if the watcher was never started.
func (w *EventWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.running.Load() {
		<-w.done
	}
}

func (w *EventWatcher) pollLoop(ctx context.Context) {
	defer close(w.done)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if _, err := w.Poll(ctx); err != nil {
				w.logger.Error("raffle event poll failed", "error", err)
			}
		}
	}
}

// LastBlock returns the last block whose logs were processed.
func (w *EventWatcher) LastBlock() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastBlock
}

// SetLastBlock sets the cursor; the next poll starts at block+1.
func (w *EventWatcher) SetLastBlock(block uint64) {
	w.mu.Lock()
	w.lastBlock = block
	w.mu.Unlock()
}

// Poll processes logs from new confirmed blocks and returns how many events
// were published.
func (w *EventWatcher) Poll(ctx context.Context) (int, error) {
	head, err := w.source.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	if head < w.config.Confirmations {
		return 0, nil
	}
	safe := head - w.config.Confirmations

	from := w.LastBlock() + 1
	if safe < from {
		return 0, nil
	}

	logs, err := w.source.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(safe),
		Addresses: []common.Address{w.config.Contract},
		Topics: [][]common.Hash{
			{TopicRaffleEnter, TopicRequestedRaffleWinner, TopicWinnerPicked},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to filter logs: %w", err)
	}

	published := 0
	for _, vLog := range logs {
		if w.process(ctx, vLog) {
			published++
		}
	}

	w.SetLastBlock(safe)
	w.prune(safe)
	return published, nil
}

// dedupWindow is how many blocks behind the cursor processed logs are
// remembered, so a rewind within it does not republish events.
const dedupWindow uint64 = 256

func (w *EventWatcher) prune(cursor uint64) {
	if cursor <= dedupWindow {
		return
	}
	floor := cursor - dedupWindow
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, block := range w.processed {
		if block < floor {
			delete(w.processed, key)
		}
	}
}

func (w *EventWatcher) trackedLogs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.processed)
}

func (w *EventWatcher) process(ctx context.Context, vLog types.Log) bool {
	key := fmt.Sprintf("%s:%d", vLog.TxHash.Hex(), vLog.Index)

	w.mu.Lock()
	if _, seen := w.processed[key]; seen {
		w.mu.Unlock()
		return false
	}
	w.processed[key] = vLog.BlockNumber
	w.mu.Unlock()

	ev, ok := DecodeEvent(vLog)
	if !ok {
		w.logger.Warn("unrecognized raffle log", "tx", vLog.TxHash.Hex(), "index", vLog.Index)
		return false
	}
	ev.At = w.now().UTC()
	w.sink.Publish(ctx, ev)
	w.logger.Info("raffle event observed", "type", string(ev.Type), "tx", ev.TxHash, "block", vLog.BlockNumber)
	return true
}

// DecodeEvent converts a Raffle log into a raffle event. Round is unknown
// on chain and left zero.
func DecodeEvent(vLog types.Log) (raffle.Event, bool) {
	if len(vLog.Topics) != 2 {
		return raffle.Event{}, false
	}
	ev := raffle.Event{TxHash: vLog.TxHash.Hex()}
	switch vLog.Topics[0] {
	case TopicRaffleEnter:
		player := common.BytesToAddress(vLog.Topics[1].Bytes())
		ev.Type = raffle.EventEntered
		ev.Player = &player
	case TopicRequestedRaffleWinner:
		ev.Type = raffle.EventRequestedWinner
		ev.RequestID = new(big.Int).SetBytes(vLog.Topics[1].Bytes())
	case TopicWinnerPicked:
		winner := common.BytesToAddress(vLog.Topics[1].Bytes())
		ev.Type = raffle.EventWinnerPicked
		ev.Player = &winner
	default:
		return raffle.Event{}, false
	}
	return ev, true
}
