package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// MemoryStore is an in-process LRU bounded by entry count. Expired entries are
// dropped lazily when touched and proactively by Sweep.
type MemoryStore struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *Entry]
	now func() time.Time
}

// NewMemoryStore creates a store holding at most maxEntries entries
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	// only fails for a non-positive size
	lru, _ := simplelru.NewLRU[string, *Entry](maxEntries, nil)
	return &MemoryStore{
		lru: lru,
		now: time.Now,
	}
}

// Get returns a copy of the live entry for key
func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !entry.Live(m.now()) {
		m.lru.Remove(key)
		return nil, false, nil
	}

	cp := *entry
	return &cp, true, nil
}

// Put inserts or replaces the entry for key, evicting the least recently used
// entry when the bound is reached
func (m *MemoryStore) Put(_ context.Context, key string, entry *Entry) error {
	cp := *entry
	cp.Key = key

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Add(key, &cp)
	return nil
}

// Delete removes key if present
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(key)
	return nil
}

// Len returns the number of physically stored entries, expired or not
func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len(), nil
}

// Sweep removes every expired entry and returns how many were dropped
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for _, key := range m.lru.Keys() {
		entry, ok := m.lru.Peek(key)
		if ok && !entry.Live(now) {
			m.lru.Remove(key)
			removed++
		}
	}
	return removed
}
