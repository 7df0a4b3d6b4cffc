package raffle

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrInsufficientPayment = errors.New("raffle: insufficient payment")
	ErrNotOpen             = errors.New("raffle: not open")
	ErrUpkeepNotNeeded     = errors.New("raffle: upkeep not needed")
	ErrUnknownRequest      = errors.New("raffle: unknown request")
	ErrTransferFailed      = errors.New("raffle: transfer failed")
	ErrIndexOutOfRange     = errors.New("raffle: index out of range")
	ErrNoRandomWords       = errors.New("raffle: no random words")
	ErrRandomnessRequest   = errors.New("raffle: randomness request failed")
	ErrNoSnapshot          = errors.New("raffle: no snapshot stored")
)

// UpkeepNotNeededError carries the state that made upkeep ineligible.
type UpkeepNotNeededError struct {
	Balance    *big.Int
	NumPlayers int
	State      State
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("raffle: upkeep not needed (balance=%s players=%d state=%s)",
		e.Balance, e.NumPlayers, e.State)
}

func (e *UpkeepNotNeededError) Is(target error) bool {
	return target == ErrUpkeepNotNeeded
}
