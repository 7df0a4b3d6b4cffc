package keeper

import "errors"

// ErrPaused is reported for ticks skipped while the circuit breaker is open.
var ErrPaused = errors.New("keeper: paused after repeated failures")
