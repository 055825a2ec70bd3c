package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for audit trail operations.
type Repository interface {
	// Log records a workflow event. Returns the created entry.
	Log(rec Record) (*Entry, error)

	// QueryByActor retrieves entries for an actor, newest first.
	// Limit caps the number of entries returned (0 = no limit).
	QueryByActor(actorID string, limit int) ([]*Entry, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	// Maintain insertion order for queries
	order []string
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		entries: make(map[string]*Entry),
		order:   make([]string, 0),
	}
}

// Log records a workflow event.
func (r *InMemoryRepository) Log(rec Record) (*Entry, error) {
	entry := &Entry{
		ID:          uuid.New().String(),
		ActorID:     rec.ActorID,
		Action:      rec.Action,
		SubjectName: rec.SubjectName,
		CreatedAt:   time.Now().UTC(),
	}
	if len(rec.Metadata) > 0 {
		entry.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			entry.Metadata[k] = v
		}
	}

	r.mu.Lock()
	r.entries[entry.ID] = entry
	r.order = append(r.order, entry.ID)
	r.mu.Unlock()

	// Return a copy to prevent external modification
	entryCopy := copyEntry(entry)
	return entryCopy, nil
}

// QueryByActor retrieves entries for an actor, newest first.
func (r *InMemoryRepository) QueryByActor(actorID string, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Entry
	// Iterate in reverse order (newest first)
	for i := len(r.order) - 1; i >= 0; i-- {
		entry := r.entries[r.order[i]]
		if entry.ActorID != actorID {
			continue
		}
		results = append(results, copyEntry(entry))
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func copyEntry(entry *Entry) *Entry {
	entryCopy := *entry
	if entry.Metadata != nil {
		entryCopy.Metadata = make(map[string]string, len(entry.Metadata))
		for k, v := range entry.Metadata {
			entryCopy.Metadata[k] = v
		}
	}
	return &entryCopy
}
