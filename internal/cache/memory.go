package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryBackend is an in-process LRU backend.
type MemoryBackend struct {
	lru *lru.Cache[string, *Entry]
}

// NewMemoryBackend creates an LRU holding at most maxEntries entries.
func NewMemoryBackend(maxEntries int) (*MemoryBackend, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c, err := lru.New[string, *Entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}
	return &MemoryBackend{lru: c}, nil
}

// Peek returns an entry without updating recency.
func (m *MemoryBackend) Peek(_ context.Context, key string) (*Entry, bool, error) {
	e, ok := m.lru.Peek(key)
	return e, ok, nil
}

// Touch marks key as most recently used.
func (m *MemoryBackend) Touch(_ context.Context, key string) error {
	m.lru.Get(key)
	return nil
}

// Set adds or replaces an entry.
func (m *MemoryBackend) Set(_ context.Context, key string, entry *Entry) (int, error) {
	if m.lru.Add(key, entry) {
		return 1, nil
	}
	return 0, nil
}

// Remove deletes an entry.
func (m *MemoryBackend) Remove(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

// Purge deletes every entry.
func (m *MemoryBackend) Purge(_ context.Context) error {
	m.lru.Purge()
	return nil
}

// Len returns the number of entries.
func (m *MemoryBackend) Len(_ context.Context) (int, error) {
	return m.lru.Len(), nil
}

var _ Backend = (*MemoryBackend)(nil)
