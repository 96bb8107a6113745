package cache

import (
	"context"
	"time"

	"github.com/dotcommander/lore/pkg/memo"
)

// DefaultMaxEntries is the per-scope capacity of the memory backend.
const DefaultMaxEntries = 1024

// Memory is a process-local Cache over a scoped LRU.
type Memory struct {
	lru *memo.LRU
}

// NewMemory returns a Memory cache holding up to maxEntries per scope.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{lru: memo.NewLRU(maxEntries)}
}

func (m *Memory) Get(_ context.Context, scope, key string) ([]byte, bool, error) {
	e, ok := m.lru.Get(scope, Key(scope, key))
	if !ok {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (m *Memory) Set(_ context.Context, scope, key string, value []byte, ttl time.Duration) error {
	m.lru.Set(scope, Key(scope, key), value, memo.WithTTL(ttl))
	return nil
}

func (m *Memory) Delete(_ context.Context, scope, key string) error {
	m.lru.Delete(scope, Key(scope, key))
	return nil
}

func (m *Memory) Backend() string { return BackendMemory }

func (m *Memory) Close() error { return nil }

// Len reports the number of stored entries.
func (m *Memory) Len() int { return m.lru.Len() }
