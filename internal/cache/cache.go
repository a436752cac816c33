// Package cache provides the read-through byte cache used for single-record
// lookups (reports by id). The default backend is an in-memory map with a
// hard entry cap; a Redis backend is available for multi-instance setups.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the cache.
var ErrNotFound = errors.New("cache: key not found")

// Cache abstracts a byte-value cache. All operations are safe for
// concurrent use.
type Cache interface {
	// Get retrieves the value associated with key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value. The TTL is advisory: the in-memory backend
	// bounds itself by entry count instead and ignores it.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the backend.
	Close() error
}
