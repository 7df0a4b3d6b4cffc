// Package reconciliation checks that every resolved draw was paid: each
// draw with a prize must have a winnings entry under its payout reference,
// for the winner and for the full prize.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/mbd888/raffle/internal/ledger"
	"github.com/mbd888/raffle/internal/raffle"
)

// DefaultWindow is how many of the most recent draws a run checks.
const DefaultWindow = 500

// DrawLister lists draws newest first. *raffle.Engine satisfies it.
type DrawLister interface {
	Draws(ctx context.Context, before uint64, limit int) ([]raffle.Draw, error)
}

// EntryLookup finds ledger entries by reference. *ledger.Ledger satisfies it.
type EntryLookup interface {
	Entry(ctx context.Context, reference string) (*ledger.Entry, error)
}

// Problem is one draw whose payout does not match.
type Problem struct {
	Round     uint64 `json:"round"`
	Reference string `json:"reference"`
	Kind      string `json:"kind"` // "unpaid" or "mismatch"
	Detail    string `json:"detail,omitempty"`
}

// Result is the outcome of one reconciliation run.
type Result struct {
	Match       bool      `json:"match"`
	Checked     int       `json:"checked"`
	PrizesTotal string    `json:"prizesTotal"`
	PaidTotal   string    `json:"paidTotal"`
	Problems    []Problem `json:"problems"`
	RanAt       time.Time `json:"ranAt"`
}

// Service performs reconciliation between draws and ledger entries.
type Service struct {
	draws  DrawLister
	ledger EntryLookup
	window int
	page   int
	now    func() time.Time
}

// NewService creates a reconciliation service checking the most recent
// window draws; window <= 0 uses DefaultWindow.
func NewService(draws DrawLister, entries EntryLookup, window int) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{draws: draws, ledger: entries, window: window, page: 100, now: time.Now}
}

// Run checks the most recent draws.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	defer func() { runDuration.Observe(time.Since(start).Seconds()) }()

	res := &Result{Problems: []Problem{}, RanAt: s.now().UTC()}
	prizes, paid := new(big.Int), new(big.Int)

	var before uint64
	for res.Checked < s.window {
		n := min(s.page, s.window-res.Checked)
		batch, err := s.draws.Draws(ctx, before, n)
		if err != nil {
			runErrors.Inc()
			return nil, fmt.Errorf("list draws: %w", err)
		}
		for _, d := range batch {
			res.Checked++
			if d.Prize == nil || d.Prize.Sign() == 0 {
				continue
			}
			prizes.Add(prizes, d.Prize)
			p, amount, err := s.check(ctx, d)
			if err != nil {
				runErrors.Inc()
				return nil, err
			}
			if amount != nil {
				paid.Add(paid, amount)
			}
			if p != nil {
				res.Problems = append(res.Problems, *p)
			}
		}
		if len(batch) < n {
			break
		}
		before = batch[len(batch)-1].Round
		if before <= 1 {
			break
		}
	}

	res.Match = len(res.Problems) == 0
	res.PrizesTotal = prizes.String()
	res.PaidTotal = paid.String()

	var unpaid, mismatched int
	for _, p := range res.Problems {
		if p.Kind == "unpaid" {
			unpaid++
		} else {
			mismatched++
		}
	}
	unpaidDraws.Set(float64(unpaid))
	mismatchedDraws.Set(float64(mismatched))
	return res, nil
}

// check returns the problem with d's payout, if any, and the amount the
// ledger holds for it.
func (s *Service) check(ctx context.Context, d raffle.Draw) (*Problem, *big.Int, error) {
	ref := raffle.PayoutReference(d.Round, d.RequestID)
	entry, err := s.ledger.Entry(ctx, ref)
	if errors.Is(err, ledger.ErrEntryNotFound) {
		return &Problem{Round: d.Round, Reference: ref, Kind: "unpaid"}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lookup %s: %w", ref, err)
	}

	amount, ok := new(big.Int).SetString(entry.Amount, 10)
	if !ok {
		return &Problem{Round: d.Round, Reference: ref, Kind: "mismatch",
			Detail: fmt.Sprintf("unparseable amount %q", entry.Amount)}, nil, nil
	}
	switch {
	case entry.Type != ledger.EntryWinnings:
		return &Problem{Round: d.Round, Reference: ref, Kind: "mismatch",
			Detail: fmt.Sprintf("entry type %s", entry.Type)}, amount, nil
	case !strings.EqualFold(entry.Address, d.Winner.Hex()):
		return &Problem{Round: d.Round, Reference: ref, Kind: "mismatch",
			Detail: fmt.Sprintf("paid %s, winner %s", entry.Address, d.Winner.Hex())}, amount, nil
	case amount.Cmp(d.Prize) != 0:
		return &Problem{Round: d.Round, Reference: ref, Kind: "mismatch",
			Detail: fmt.Sprintf("paid %s, prize %s", amount, d.Prize)}, amount, nil
	}
	return nil, amount, nil
}
