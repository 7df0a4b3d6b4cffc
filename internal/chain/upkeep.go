package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// DefaultUpkeepGasLimit is the gas limit used for manual performUpkeep calls.
const DefaultUpkeepGasLimit = 500_000

// UpkeepResult describes one manual upkeep attempt.
type UpkeepResult struct {
	Needed      bool     `json:"upkeepNeeded"`
	TxHash      string   `json:"txHash,omitempty"`
	RequestID   *big.Int `json:"requestId,omitempty"`
	BlockNumber uint64   `json:"blockNumber,omitempty"`
	GasUsed     uint64   `json:"gasUsed,omitempty"`
}

// UpkeepTarget drives a deployed raffle from a keeper: checkUpkeep as a
// view call, performUpkeep as a signed transaction that is waited on.
type UpkeepTarget struct {
	raffle   *Raffle
	gasLimit uint64
	timeout  time.Duration
}

// NewUpkeepTarget creates a target sending performUpkeep with gasLimit.
func NewUpkeepTarget(r *Raffle, gasLimit uint64, timeout time.Duration) *UpkeepTarget {
	if gasLimit == 0 {
		gasLimit = DefaultUpkeepGasLimit
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &UpkeepTarget{raffle: r, gasLimit: gasLimit, timeout: timeout}
}

// CheckUpkeep reports whether the contract needs upkeep.
func (t *UpkeepTarget) CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte, error) {
	return t.raffle.CheckUpkeep(ctx, checkData)
}

// PerformUpkeep sends performUpkeep and returns the mined transaction hash.
func (t *UpkeepTarget) PerformUpkeep(ctx context.Context, performData []byte) (string, error) {
	res, err := t.perform(ctx, performData)
	if err != nil {
		return "", err
	}
	return res.TxHash, nil
}

func (t *UpkeepTarget) perform(ctx context.Context, performData []byte) (*UpkeepResult, error) {
	tx, err := t.raffle.PerformUpkeep(ctx, performData, t.gasLimit)
	if err != nil {
		return nil, err
	}
	res := &UpkeepResult{Needed: true, TxHash: tx.Hash().Hex()}

	receipt, err := t.raffle.WaitMined(ctx, tx, t.timeout)
	if err != nil {
		return res, fmt.Errorf("wait for performUpkeep %s: %w", res.TxHash, err)
	}
	res.BlockNumber = receipt.BlockNumber.Uint64()
	res.GasUsed = receipt.GasUsed
	if id, ok := t.raffle.RequestIDFromReceipt(receipt); ok {
		res.RequestID = id
	}
	return res, nil
}

// Manual reads checkUpkeep("0x") and, only if upkeep is needed, sends
// performUpkeep("0x") and waits for the receipt.
func (t *UpkeepTarget) Manual(ctx context.Context) (*UpkeepResult, error) {
	needed, performData, err := t.CheckUpkeep(ctx, []byte{})
	if err != nil {
		return nil, fmt.Errorf("checkUpkeep: %w", err)
	}
	if !needed {
		return &UpkeepResult{Needed: false}, nil
	}
	return t.perform(ctx, performData)
}
