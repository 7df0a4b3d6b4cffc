// Package vrf models a request/callback randomness oracle.
//
// Flow:
//  1. A consumer asks the coordinator for random words → coordinator returns a request id
//  2. Some time later the oracle node fulfills the request
//  3. The coordinator calls FulfillRandomWords on the consumer and bills the subscription
//
// MockCoordinator is the in-process coordinator used on development chains.
package vrf

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNonexistentRequest  = errors.New("nonexistent request")
	ErrInvalidSubscription = errors.New("vrf: invalid subscription")
	ErrInvalidConsumer     = errors.New("vrf: invalid consumer")
	ErrInsufficientBalance = errors.New("vrf: insufficient subscription balance")
	ErrInvalidAmount       = errors.New("vrf: invalid amount")
	ErrInvalidNumWords     = errors.New("vrf: invalid number of words")
	ErrGasLimitTooBig      = errors.New("vrf: callback gas limit too big")
	ErrInvalidRandomWords  = errors.New("vrf: invalid random words")
	ErrTooManyConsumers    = errors.New("vrf: too many consumers")
	ErrCallbackFailed      = errors.New("vrf: consumer callback failed")
	ErrRequestExists       = errors.New("vrf: request already pending")
)

// Coordinator limits, matching the v2 coordinator.
const (
	MaxNumWords         = 500
	MaxCallbackGasLimit = 2_500_000
	MaxConsumers        = 100
)

// Consumer receives fulfilled randomness.
type Consumer interface {
	FulfillRandomWords(ctx context.Context, requestID *big.Int, randomWords []*big.Int) error
}

// Request contains the parameters of a randomness request.
type Request struct {
	KeyHash          common.Hash    `json:"keyHash"`
	SubID            uint64         `json:"subId"`
	MinConfirmations uint16         `json:"minimumRequestConfirmations"`
	CallbackGasLimit uint32         `json:"callbackGasLimit"`
	NumWords         uint32         `json:"numWords"`
	Consumer         common.Address `json:"consumer"`
}

// Subscription is a pre-funded account paying for randomness.
type Subscription struct {
	ID        uint64           `json:"id"`
	Owner     common.Address   `json:"owner"`
	Balance   *big.Int         `json:"balance"`
	ReqCount  uint64           `json:"reqCount"`
	Consumers []common.Address `json:"consumers"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (s *Subscription) clone() Subscription {
	cp := *s
	cp.Balance = new(big.Int).Set(s.Balance)
	cp.Consumers = append([]common.Address(nil), s.Consumers...)
	return cp
}

func (s *Subscription) hasConsumer(addr common.Address) bool {
	for _, c := range s.Consumers {
		if c == addr {
			return true
		}
	}
	return false
}

// PendingRequest is a request waiting for fulfillment.
type PendingRequest struct {
	ID          *big.Int  `json:"requestId"`
	Request     Request   `json:"request"`
	RequestedAt time.Time `json:"requestedAt"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"lastError,omitempty"`
}

// Fulfillment records one delivery attempt.
type Fulfillment struct {
	RequestID *big.Int       `json:"requestId"`
	SubID     uint64         `json:"subId"`
	Consumer  common.Address `json:"consumer"`
	Words     []*big.Int     `json:"randomWords"`
	Payment   *big.Int       `json:"payment"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	At        time.Time      `json:"at"`
}

var wordArgs abi.Arguments

func init() {
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(fmt.Sprintf("vrf: build uint256 type: %v", err))
	}
	wordArgs = abi.Arguments{{Type: uint256Ty}, {Type: uint256Ty}}
}

// DeriveWords returns keccak256(abi.encode(requestID, i)) for i in [0, n),
// the words the mock coordinator delivers when none are supplied.
func DeriveWords(requestID *big.Int, n uint32) []*big.Int {
	words := make([]*big.Int, n)
	for i := range words {
		packed, err := wordArgs.Pack(requestID, big.NewInt(int64(i)))
		if err != nil {
			// Only fails for negative or >256-bit ids, which the coordinator never issues.
			panic(fmt.Sprintf("vrf: pack word seed: %v", err))
		}
		words[i] = new(big.Int).SetBytes(crypto.Keccak256(packed))
	}
	return words
}
