package cache

import (
	"context"
	"sync"
	"time"
)

// InMemory is a capped in-memory cache. When an insert would push the entry
// count past the cap, the whole map is cleared; entries are cheap to rebuild
// from the database and wholesale clearing avoids tracking recency.
type InMemory struct {
	mu         sync.Mutex
	entries    map[string][]byte
	maxEntries int
}

// NewInMemory creates an in-memory cache bounded to maxEntries.
func NewInMemory(maxEntries int) *InMemory {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	return &InMemory{
		entries:    make(map[string][]byte, maxEntries),
		maxEntries: maxEntries,
	}
}

func (c *InMemory) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

func (c *InMemory) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		return nil
	}
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.entries = make(map[string][]byte, c.maxEntries)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	c.entries[key] = cp
	return nil
}

func (c *InMemory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *InMemory) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	return nil
}
