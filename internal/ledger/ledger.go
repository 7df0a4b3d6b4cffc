// Package ledger keeps custodial balances of raffle winnings.
//
// Flow:
//  1. A draw completes and the engine pays the winner through Pay
//  2. The prize is credited to the winner's available balance
//  3. The winner withdraws (a configured executor sends native ETH)
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/raffle/internal/idgen"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrDuplicateReference  = errors.New("ledger: reference already used")
	ErrNoExecutor          = errors.New("ledger: withdrawals are not enabled")
	ErrTransferFailed      = errors.New("ledger: withdrawal transfer failed")
	ErrEntryNotFound       = errors.New("ledger: entry not found")
)

// Entry types.
const (
	EntryWinnings   = "winnings"
	EntryWithdrawal = "withdrawal"
	EntryRefund     = "refund"
)

// Entry is a single balance movement. Amounts are wei in decimal.
type Entry struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Type      string    `json:"type"`
	Amount    string    `json:"amount"`
	Reference string    `json:"reference"`
	TxHash    string    `json:"txHash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Balance is an address's custodial balance in wei.
type Balance struct {
	Address   string    `json:"address"`
	Available string    `json:"available"`
	TotalIn   string    `json:"totalIn"`
	TotalOut  string    `json:"totalOut"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func zeroBalance(addr string) *Balance {
	return &Balance{Address: addr, Available: "0", TotalIn: "0", TotalOut: "0", UpdatedAt: time.Now()}
}

// Store persists ledger data. Credit and Debit fail with
// ErrDuplicateReference when the reference was already recorded.
type Store interface {
	GetBalance(ctx context.Context, addr string) (*Balance, error)
	Credit(ctx context.Context, entry *Entry) error
	Debit(ctx context.Context, entry *Entry) error
	GetEntry(ctx context.Context, reference string) (*Entry, error)
	GetHistory(ctx context.Context, addr string, limit int) ([]*Entry, error)
}

// WithdrawalExecutor executes on-chain withdrawals.
type WithdrawalExecutor interface {
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (txHash string, err error)
}

// Ledger manages winner balances.
type Ledger struct {
	store    Store
	executor WithdrawalExecutor
	logger   *slog.Logger
}

// New creates a new ledger. executor may be nil, which disables withdrawals.
func New(store Store, executor WithdrawalExecutor, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, executor: executor, logger: logger}
}

// CanWithdraw reports whether an executor is configured.
func (l *Ledger) CanWithdraw() bool {
	return l.executor != nil
}

func normalize(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// Pay credits amount to the winner. It implements the raffle payer.
//
// Pay is idempotent per reference: repeating a payment with the same
// reference, recipient and amount succeeds without crediting twice.
// A zero amount records nothing.
func (l *Ledger) Pay(ctx context.Context, to common.Address, amount *big.Int, reference string) error {
	defer observeOp(EntryWinnings)()

	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	addr := normalize(to)

	err := l.store.Credit(ctx, &Entry{
		ID:        idgen.New(),
		Address:   addr,
		Type:      EntryWinnings,
		Amount:    amount.String(),
		Reference: reference,
		CreatedAt: time.Now(),
	})
	if errors.Is(err, ErrDuplicateReference) {
		prev, getErr := l.store.GetEntry(ctx, reference)
		if getErr != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, reference)
		}
		if prev.Address == addr && prev.Amount == amount.String() && prev.Type == EntryWinnings {
			l.logger.Info("winnings already credited", "reference", reference, "address", addr)
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateReference, reference)
	}
	if err != nil {
		return err
	}
	winningsCredited.Add(weiToEther(amount))
	l.logger.Info("winnings credited", "address", addr, "amount", amount.String(), "reference", reference)
	return nil
}

// Entry looks up the entry recorded under reference.
func (l *Ledger) Entry(ctx context.Context, reference string) (*Entry, error) {
	return l.store.GetEntry(ctx, reference)
}

// GetBalance returns an address's current balance.
func (l *Ledger) GetBalance(ctx context.Context, addr common.Address) (*Balance, error) {
	return l.store.GetBalance(ctx, normalize(addr))
}

// GetHistory returns ledger entries for an address, newest first.
func (l *Ledger) GetHistory(ctx context.Context, addr common.Address, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.GetHistory(ctx, normalize(addr), limit)
}

// Withdraw debits amount and sends it to the address through the executor.
// If the transfer fails the debit is refunded.
func (l *Ledger) Withdraw(ctx context.Context, addr common.Address, amount *big.Int) (*Entry, error) {
	defer observeOp(EntryWithdrawal)()

	if l.executor == nil {
		return nil, ErrNoExecutor
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	a := normalize(addr)

	entry := &Entry{
		ID:        idgen.New(),
		Address:   a,
		Type:      EntryWithdrawal,
		Amount:    amount.String(),
		Reference: idgen.WithPrefix("wd_"),
		CreatedAt: time.Now(),
	}
	if err := l.store.Debit(ctx, entry); err != nil {
		return nil, err
	}

	txHash, err := l.executor.Transfer(ctx, addr, amount)
	if err != nil {
		refund := &Entry{
			ID:        idgen.New(),
			Address:   a,
			Type:      EntryRefund,
			Amount:    amount.String(),
			Reference: entry.Reference + ":refund",
			CreatedAt: time.Now(),
		}
		if rerr := l.store.Credit(ctx, refund); rerr != nil {
			l.logger.Error("CRITICAL: withdrawal transfer failed and refund failed",
				"address", a, "amount", amount.String(), "reference", entry.Reference,
				"transfer_error", err, "refund_error", rerr)
		}
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	entry.TxHash = txHash
	l.logger.Info("withdrawal sent", "address", a, "amount", amount.String(), "tx_hash", txHash)
	return entry, nil
}
