package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	mu         sync.RWMutex
	balances   map[string]*Balance
	entries    []*Entry
	references map[string]*Entry
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:   make(map[string]*Balance),
		references: make(map[string]*Entry),
	}
}

func (m *MemoryStore) GetBalance(ctx context.Context, addr string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[addr]; ok {
		cp := *bal
		return &cp, nil
	}
	return zeroBalance(addr), nil
}

func (m *MemoryStore) balance(addr string) *Balance {
	bal, ok := m.balances[addr]
	if !ok {
		bal = zeroBalance(addr)
		m.balances[addr] = bal
	}
	return bal
}

func addDecimal(a, b string, sign int) (string, bool) {
	x, ok1 := new(big.Int).SetString(a, 10)
	y, ok2 := new(big.Int).SetString(b, 10)
	if !ok1 || !ok2 {
		return "", false
	}
	if sign < 0 {
		y.Neg(y)
	}
	return x.Add(x, y).String(), true
}

func (m *MemoryStore) Credit(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.references[entry.Reference]; dup {
		return ErrDuplicateReference
	}
	bal := m.balance(entry.Address)
	avail, ok := addDecimal(bal.Available, entry.Amount, 1)
	if !ok {
		return ErrInvalidAmount
	}
	totalIn, _ := addDecimal(bal.TotalIn, entry.Amount, 1)
	bal.Available = avail
	bal.TotalIn = totalIn
	bal.UpdatedAt = time.Now()

	m.record(entry)
	return nil
}

func (m *MemoryStore) Debit(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.references[entry.Reference]; dup {
		return ErrDuplicateReference
	}
	bal := m.balance(entry.Address)
	avail, ok := addDecimal(bal.Available, entry.Amount, -1)
	if !ok {
		return ErrInvalidAmount
	}
	if avail[0] == '-' {
		return ErrInsufficientBalance
	}
	totalOut, _ := addDecimal(bal.TotalOut, entry.Amount, 1)
	bal.Available = avail
	bal.TotalOut = totalOut
	bal.UpdatedAt = time.Now()

	m.record(entry)
	return nil
}

func (m *MemoryStore) record(entry *Entry) {
	cp := *entry
	m.entries = append(m.entries, &cp)
	m.references[cp.Reference] = &cp
}

func (m *MemoryStore) GetEntry(ctx context.Context, reference string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.references[reference]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, addr string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].Address == addr {
			cp := *m.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}
