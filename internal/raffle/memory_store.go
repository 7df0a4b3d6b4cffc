package raffle

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory raffle store for demo/development mode.
type MemoryStore struct {
	mu    sync.RWMutex
	snap  *Snapshot
	draws []Draw
}

// NewMemoryStore creates a new in-memory raffle store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.snap == nil {
		return Snapshot{}, ErrNoSnapshot
	}
	return m.snap.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, snap Snapshot, draw *Draw) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := snap.Clone()
	m.snap = &cp
	if draw != nil {
		// Saves are retried after side effects; a draw lands once per round.
		for _, d := range m.draws {
			if d.Round == draw.Round {
				return nil
			}
		}
		m.draws = append(m.draws, *draw)
	}
	return nil
}

func (m *MemoryStore) ListDraws(ctx context.Context, before uint64, limit int) ([]Draw, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Draw
	for i := len(m.draws) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if before > 0 && m.draws[i].Round >= before {
			continue
		}
		out = append(out, m.draws[i])
	}
	return out, nil
}
