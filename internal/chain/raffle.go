// Package chain binds the deployed Raffle contract: view calls, state-changing
// transactions signed by the wallet, revert decoding and an event watcher.
package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/mbd888/raffle/internal/raffle"
)

var (
	ErrReadOnly      = errors.New("chain: no transactor configured")
	ErrUnexpectedABI = errors.New("chain: unexpected return data")
)

// Backend is the read side of an RPC client. *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Transactor signs and sends transactions. *wallet.Wallet satisfies it.
type Transactor interface {
	Address() common.Address
	SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (*types.Transaction, error)
	WaitMined(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// Raffle is a binding to one deployed Raffle contract.
type Raffle struct {
	address    common.Address
	backend    Backend
	transactor Transactor
}

// NewRaffle binds the contract at address. transactor may be nil for a
// read-only binding.
func NewRaffle(address common.Address, backend Backend, transactor Transactor) *Raffle {
	return &Raffle{address: address, backend: backend, transactor: transactor}
}

// Address returns the contract address.
func (r *Raffle) Address() common.Address {
	return r.address
}

func (r *Raffle) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := ParsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &r.address, Data: data}
	if r.transactor != nil {
		msg.From = r.transactor.Address()
	}
	out, err := r.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, DecodeRevert(err)
	}
	values, err := ParsedABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return values, nil
}

func (r *Raffle) callBigInt(ctx context.Context, method string, args ...any) (*big.Int, error) {
	values, err := r.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedABI, method)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedABI, method)
	}
	return v, nil
}

func (r *Raffle) callAddress(ctx context.Context, method string, args ...any) (common.Address, error) {
	values, err := r.call(ctx, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	if len(values) != 1 {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnexpectedABI, method)
	}
	v, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnexpectedABI, method)
	}
	return v, nil
}

// EntranceFee returns the minimum entry payment in wei.
func (r *Raffle) EntranceFee(ctx context.Context) (*big.Int, error) {
	return r.callBigInt(ctx, "getEntranceFee")
}

// Interval returns the round interval.
func (r *Raffle) Interval(ctx context.Context) (time.Duration, error) {
	v, err := r.callBigInt(ctx, "getInterval")
	if err != nil {
		return 0, err
	}
	return time.Duration(v.Int64()) * time.Second, nil
}

// NumPlayers returns the number of entries in the current round.
func (r *Raffle) NumPlayers(ctx context.Context) (int, error) {
	v, err := r.callBigInt(ctx, "getNumberOfPlayers")
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// Player returns the entrant at index.
func (r *Raffle) Player(ctx context.Context, index int) (common.Address, error) {
	return r.callAddress(ctx, "getPlayer", big.NewInt(int64(index)))
}

// RecentWinner returns the last winner, or the zero address.
func (r *Raffle) RecentWinner(ctx context.Context) (common.Address, error) {
	return r.callAddress(ctx, "getRecentWinner")
}

// LatestTimestamp returns when the current round opened.
func (r *Raffle) LatestTimestamp(ctx context.Context) (time.Time, error) {
	v, err := r.callBigInt(ctx, "getLatestTimeStamp")
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v.Int64(), 0).UTC(), nil
}

// State returns the contract's lifecycle state.
func (r *Raffle) State(ctx context.Context) (raffle.State, error) {
	values, err := r.call(ctx, "getRaffleState")
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("%w: getRaffleState", ErrUnexpectedABI)
	}
	v, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: getRaffleState", ErrUnexpectedABI)
	}
	return raffle.State(v), nil
}

// Balance returns the contract's ETH balance, which is the prize pool.
func (r *Raffle) Balance(ctx context.Context) (*big.Int, error) {
	return r.backend.BalanceAt(ctx, r.address, nil)
}

// CheckUpkeep calls checkUpkeep(checkData) as a view.
func (r *Raffle) CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte, error) {
	if checkData == nil {
		checkData = []byte{}
	}
	values, err := r.call(ctx, "checkUpkeep", checkData)
	if err != nil {
		return false, nil, err
	}
	if len(values) != 2 {
		return false, nil, fmt.Errorf("%w: checkUpkeep", ErrUnexpectedABI)
	}
	needed, ok1 := values[0].(bool)
	performData, ok2 := values[1].([]byte)
	if !ok1 || !ok2 {
		return false, nil, fmt.Errorf("%w: checkUpkeep", ErrUnexpectedABI)
	}
	return needed, performData, nil
}

func (r *Raffle) transact(ctx context.Context, value *big.Int, gasLimit uint64, method string, args ...any) (*types.Transaction, error) {
	if r.transactor == nil {
		return nil, ErrReadOnly
	}
	data, err := ParsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	tx, err := r.transactor.SendTransaction(ctx, r.address, value, data, gasLimit)
	if err != nil {
		return nil, DecodeRevert(err)
	}
	return tx, nil
}

// Enter sends enterRaffle with value wei.
func (r *Raffle) Enter(ctx context.Context, value *big.Int) (*types.Transaction, error) {
	return r.transact(ctx, value, 0, "enterRaffle")
}

// PerformUpkeep sends performUpkeep(performData). A zero gasLimit is estimated.
func (r *Raffle) PerformUpkeep(ctx context.Context, performData []byte, gasLimit uint64) (*types.Transaction, error) {
	if performData == nil {
		performData = []byte{}
	}
	return r.transact(ctx, nil, gasLimit, "performUpkeep", performData)
}

// WaitMined waits for a transaction sent through this binding.
func (r *Raffle) WaitMined(ctx context.Context, tx *types.Transaction, timeout time.Duration) (*types.Receipt, error) {
	if r.transactor == nil {
		return nil, ErrReadOnly
	}
	return r.transactor.WaitMined(ctx, tx.Hash(), timeout)
}

// RequestIDFromReceipt extracts the RequestedRaffleWinner request id from a
// performUpkeep receipt.
func (r *Raffle) RequestIDFromReceipt(receipt *types.Receipt) (*big.Int, bool) {
	for _, l := range receipt.Logs {
		if l.Address == r.address && len(l.Topics) == 2 && l.Topics[0] == TopicRequestedRaffleWinner {
			return new(big.Int).SetBytes(l.Topics[1].Bytes()), true
		}
	}
	return nil, false
}

// DecodeRevert maps a Raffle custom error carried by an RPC error to the
// matching raffle package error. Other errors are returned unchanged.
func DecodeRevert(err error) error {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return err
	}
	hexData, ok := dataErr.ErrorData().(string)
	if !ok {
		return err
	}
	data, decErr := hexutil.Decode(hexData)
	if decErr != nil || len(data) < 4 {
		return err
	}
	for name, abiErr := range ParsedABI.Errors {
		if !bytes.Equal(data[:4], abiErr.ID[:4]) {
			continue
		}
		switch name {
		case "Raffle__NotEnoughETHEntered":
			return fmt.Errorf("%w: %w", raffle.ErrInsufficientPayment, err)
		case "Raffle__NotOpen":
			return fmt.Errorf("%w: %w", raffle.ErrNotOpen, err)
		case "Raffle__TransferFailed":
			return fmt.Errorf("%w: %w", raffle.ErrTransferFailed, err)
		case "Raffle__UpKeepNotNeeded":
			values, unpackErr := abiErr.Inputs.Unpack(data[4:])
			if unpackErr != nil || len(values) != 3 {
				return fmt.Errorf("%w: %w", raffle.ErrUpkeepNotNeeded, err)
			}
			balance, _ := values[0].(*big.Int)
			players, _ := values[1].(*big.Int)
			state, _ := values[2].(*big.Int)
			out := &raffle.UpkeepNotNeededError{Balance: balance}
			if players != nil {
				out.NumPlayers = int(players.Int64())
			}
			if state != nil {
				out.State = raffle.State(state.Uint64())
			}
			return out
		}
	}
	return err
}
