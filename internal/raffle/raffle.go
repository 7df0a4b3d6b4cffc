// Package raffle implements a time-windowed lottery whose winner is drawn
// with externally delivered randomness.
//
// Lifecycle of one round:
//  1. Entrants pay at least the entrance fee while the raffle is OPEN
//  2. Once the interval has elapsed and the pool is non-empty, upkeep
//     requests randomness and the raffle moves to CALCULATING
//  3. The coordinator calls FulfillRandomWords; the winner takes the whole
//     pool and the raffle reopens with an empty player list
package raffle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/raffle/internal/vrf"
)

// State is the raffle lifecycle state.
type State uint8

const (
	StateOpen        State = 0
	StateCalculating State = 1
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCalculating:
		return "calculating"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "open":
		*s = StateOpen
	case "calculating":
		*s = StateCalculating
	default:
		return fmt.Errorf("unknown raffle state %q", str)
	}
	return nil
}

// Defaults applied to zero-valued Params fields.
const (
	DefaultRequestConfirmations = 3
	DefaultNumWords             = 1
)

// Params are fixed at construction.
type Params struct {
	EntranceFee          *big.Int
	Interval             time.Duration
	GasLane              common.Hash
	SubscriptionID       uint64
	CallbackGasLimit     uint32
	RequestConfirmations uint16
	NumWords             uint32
}

func (p *Params) normalize() error {
	if p.EntranceFee == nil || p.EntranceFee.Sign() < 0 {
		return fmt.Errorf("raffle: entrance fee must be non-negative")
	}
	if p.Interval <= 0 {
		return fmt.Errorf("raffle: interval must be positive")
	}
	if p.CallbackGasLimit == 0 {
		return fmt.Errorf("raffle: callback gas limit must be positive")
	}
	if p.RequestConfirmations == 0 {
		p.RequestConfirmations = DefaultRequestConfirmations
	}
	if p.NumWords == 0 {
		p.NumWords = DefaultNumWords
	}
	p.EntranceFee = new(big.Int).Set(p.EntranceFee)
	return nil
}

// PendingDraw correlates an in-flight randomness request with the round it
// will resolve.
type PendingDraw struct {
	RequestID   *big.Int  `json:"requestId"`
	Round       uint64    `json:"round"`
	NumPlayers  int       `json:"numPlayers"`
	Pool        *big.Int  `json:"pool"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Snapshot is the full mutable state of the raffle.
type Snapshot struct {
	Players       []common.Address `json:"players"`
	State         State            `json:"state"`
	LastTimestamp time.Time        `json:"lastTimestamp"`
	Pending       *PendingDraw     `json:"pending,omitempty"`
	RecentWinner  *common.Address  `json:"recentWinner,omitempty"`
	Balance       *big.Int         `json:"balance"`
	Round         uint64           `json:"round"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// PendingRequestID returns the in-flight request id, or nil while OPEN.
func (s Snapshot) PendingRequestID() *big.Int {
	if s.Pending == nil {
		return nil
	}
	return new(big.Int).Set(s.Pending.RequestID)
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	cp := s
	cp.Players = append([]common.Address(nil), s.Players...)
	if s.Balance != nil {
		cp.Balance = new(big.Int).Set(s.Balance)
	} else {
		cp.Balance = new(big.Int)
	}
	if s.RecentWinner != nil {
		w := *s.RecentWinner
		cp.RecentWinner = &w
	}
	if s.Pending != nil {
		p := *s.Pending
		p.RequestID = new(big.Int).Set(s.Pending.RequestID)
		if s.Pending.Pool != nil {
			p.Pool = new(big.Int).Set(s.Pending.Pool)
		}
		cp.Pending = &p
	}
	return cp
}

// Draw is the record of one resolved round.
type Draw struct {
	Round       uint64         `json:"round"`
	RequestID   *big.Int       `json:"requestId"`
	Winner      common.Address `json:"winner"`
	WinnerIndex int            `json:"winnerIndex"`
	NumPlayers  int            `json:"numPlayers"`
	Prize       *big.Int       `json:"prize"`
	RandomWord  *big.Int       `json:"randomWord"`
	OpenedAt    time.Time      `json:"openedAt"`
	RequestedAt time.Time      `json:"requestedAt"`
	PickedAt    time.Time      `json:"pickedAt"`
}

// EventType names a raffle notification.
type EventType string

const (
	EventEntered         EventType = "raffle.entered"
	EventRequestedWinner EventType = "raffle.requested_winner"
	EventWinnerPicked    EventType = "raffle.winner_picked"
)

// Event is a notification emitted after a committed state change.
type Event struct {
	Type      EventType       `json:"type"`
	Round     uint64          `json:"round"`
	Player    *common.Address `json:"player,omitempty"`
	RequestID *big.Int        `json:"requestId,omitempty"`
	Amount    *big.Int        `json:"amount,omitempty"`
	TxHash    string          `json:"txHash,omitempty"`
	At        time.Time       `json:"at"`
}

// EventSink receives events. Publish must not block.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event)

func (f EventSinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// Coordinator issues randomness requests.
type Coordinator interface {
	RequestRandomWords(ctx context.Context, req vrf.Request) (*big.Int, error)
}

// Payer transfers the prize to the winner. Payments are idempotent per
// reference: a repeated reference must never pay twice, and a repeat of a
// settled payment succeeds.
type Payer interface {
	Pay(ctx context.Context, to common.Address, amount *big.Int, reference string) error
}

// PayoutReference is the idempotency key a round's prize is paid under.
func PayoutReference(round uint64, requestID *big.Int) string {
	return fmt.Sprintf("raffle:%d:%s", round, requestID)
}

// PayerFunc adapts a function to Payer.
type PayerFunc func(ctx context.Context, to common.Address, amount *big.Int, reference string) error

func (f PayerFunc) Pay(ctx context.Context, to common.Address, amount *big.Int, reference string) error {
	return f(ctx, to, amount, reference)
}

// Store persists snapshots and draw history. Save writes the snapshot and,
// when draw is non-nil, the draw atomically.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot, draw *Draw) error
	// ListDraws returns draws newest first. before > 0 keeps only rounds
	// strictly below it.
	ListDraws(ctx context.Context, before uint64, limit int) ([]Draw, error)
}

// MultiSink publishes to each sink in order. Nil entries are skipped.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}
