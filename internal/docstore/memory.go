package docstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store. Used for testing and development.
// Thread-safe via RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[Ref][]byte
}

// NewMemoryStore creates a new in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[Ref][]byte),
	}
}

// Put stores an artifact under a kind prefix and returns its ref.
func (s *MemoryStore) Put(ctx context.Context, kind string, data []byte, contentType string) (Ref, error) {
	ref := Ref(fmt.Sprintf("%s/%s", kind, uuid.New().String()))

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objects[ref] = buf
	s.mu.Unlock()
	return ref, nil
}

// Get retrieves an artifact's bytes.
func (s *MemoryStore) Get(ctx context.Context, ref Ref) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[ref]
	if !ok {
		return nil, ErrRefNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// URL returns a pseudo-URL for the artifact; the memory store has no
// real transport, so it only checks existence.
func (s *MemoryStore) URL(ctx context.Context, ref Ref) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.objects[ref]; !ok {
		return "", ErrRefNotFound
	}
	return "memory://" + string(ref), nil
}
