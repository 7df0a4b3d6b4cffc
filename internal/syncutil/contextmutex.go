// Package syncutil holds context-aware locks.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// chanMutex is a mutex implemented via a buffered channel, allowing select{}
// with a context cancellation channel.
type chanMutex struct {
	ch chan struct{}
}

func newChanMutex() chanMutex {
	m := chanMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{} // Start unlocked.
	return m
}

func (m chanMutex) lock(ctx context.Context) (func(), error) {
	// Fail fast on an already-cancelled context even if the lock is free.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-m.ch:
		var once sync.Once
		return func() { once.Do(func() { m.ch <- struct{}{} }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ContextMutex is a single mutex whose Lock honours context cancellation.
// The zero value is not usable; call NewContextMutex.
type ContextMutex struct {
	m chanMutex
}

// NewContextMutex creates an unlocked ContextMutex.
func NewContextMutex() *ContextMutex {
	return &ContextMutex{m: newChanMutex()}
}

// LockContext acquires the mutex. On success it returns an unlock function
// that is safe to call more than once. On cancellation it returns ctx.Err().
func (m *ContextMutex) LockContext(ctx context.Context) (func(), error) {
	return m.m.lock(ctx)
}

// ContextShardedMutex provides a fixed-size pool of channel-based mutexes
// keyed by string that support context cancellation.
type ContextShardedMutex struct {
	shards [256]chanMutex
	once   sync.Once
}

// NewContextShardedMutex creates a new context-aware sharded mutex.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = newChanMutex()
		}
	})
}

// LockContext acquires the mutex for the given key, respecting context cancellation.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	return m.shards[m.shardIdx(key)].lock(ctx)
}

func (m *ContextShardedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 256
}
