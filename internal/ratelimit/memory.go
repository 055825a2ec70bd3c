package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is an in-memory Counter/Observer backend.
// Used for testing and development. Thread-safe via mutex.
type MemoryCounter struct {
	mu      sync.Mutex
	records map[string][]time.Time
}

// NewMemoryCounter creates a new in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		records: make(map[string][]time.Time),
	}
}

func key(class, identity string) string {
	return class + ":" + identity
}

// Observe records one mutation of class by identity at the given time.
func (c *MemoryCounter) Observe(ctx context.Context, class, identity string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(class, identity)
	c.records[k] = append(c.records[k], at)
	return nil
}

// CountInWindow returns the number of records at or after since.
// Entries older than since are pruned to keep memory bounded.
func (c *MemoryCounter) CountInWindow(ctx context.Context, class, identity string, since time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(class, identity)
	var kept []time.Time
	for _, at := range c.records[k] {
		if !at.Before(since) {
			kept = append(kept, at)
		}
	}
	if kept == nil {
		delete(c.records, k)
	} else {
		c.records[k] = kept
	}
	return len(kept), nil
}
