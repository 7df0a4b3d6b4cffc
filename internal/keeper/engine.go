package keeper

import (
	"context"

	"github.com/mbd888/raffle/internal/raffle"
)

type engineTarget struct {
	engine *raffle.Engine
}

// Engine adapts an in-process raffle engine to Upkeepable. The reference
// returned by PerformUpkeep is the randomness request id.
func Engine(e *raffle.Engine) Upkeepable {
	return engineTarget{engine: e}
}

func (t engineTarget) CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte, error) {
	return t.engine.CheckUpkeep(ctx, checkData)
}

func (t engineTarget) PerformUpkeep(ctx context.Context, performData []byte) (string, error) {
	id, err := t.engine.PerformUpkeep(ctx, performData)
	if id != nil {
		// A persist failure still carries the issued request id.
		return id.String(), err
	}
	return "", err
}
