// Package feedcache holds the latest published artifact for each feed.
package feedcache

import "sync"

// Slot is a single-writer, many-reader holder of a pre-serialized artifact.
// The writer is the feed's job; readers are HTTP handlers that return the
// artifact verbatim. A reader never observes a partial write.
type Slot struct {
	mu       sync.RWMutex
	artifact string
}

// NewSlot returns a slot seeded with the given artifact.
func NewSlot(artifact string) *Slot {
	return &Slot{artifact: artifact}
}

// Get returns the current artifact.
func (s *Slot) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifact
}

// Set replaces the artifact atomically.
func (s *Slot) Set(artifact string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifact = artifact
}
