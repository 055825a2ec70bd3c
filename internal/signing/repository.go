package signing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store defines the persistence interface for requests and signers.
// Multi-entity writes (CreateRequest, UpdateRequestAndSigner,
// DeleteRequest) are atomic: partial failure must not leave signer rows
// pointing at a missing request or a half-applied advance.
type Store interface {
	// CreateRequest persists a request and its signers as one unit.
	CreateRequest(ctx context.Context, req *SignatureRequest, signers []*Signer) error

	// GetRequest retrieves a request by id. Returns ErrNotFound when absent.
	GetRequest(ctx context.Context, id string) (*SignatureRequest, error)

	// ListBySender retrieves a sender's requests, newest first.
	ListBySender(ctx context.Context, senderID string) ([]*SignatureRequest, error)

	// ListSigners retrieves a request's signers ordered by position.
	ListSigners(ctx context.Context, requestID string) ([]*Signer, error)

	// GetSignerByToken is the point lookup gating every public
	// signing-link resolution. Returns ErrNotFound when absent.
	GetSignerByToken(ctx context.Context, token string) (*Signer, error)

	// GetRequestByAccessToken is the legacy fallback lookup against the
	// request's mirrored token. Returns ErrNotFound when absent.
	GetRequestByAccessToken(ctx context.Context, token string) (*SignatureRequest, error)

	// UpdateRequest persists request mutations.
	UpdateRequest(ctx context.Context, req *SignatureRequest) error

	// UpdateSigner persists signer mutations.
	UpdateSigner(ctx context.Context, signer *Signer) error

	// UpdateRequestAndSigner persists both in one atomic unit; signer
	// may be nil when only the request changed.
	UpdateRequestAndSigner(ctx context.Context, req *SignatureRequest, signer *Signer) error

	// DeleteRequest removes a request, cascading to its signers.
	DeleteRequest(ctx context.Context, id string) error

	// CountBySenderSince counts requests a sender created at or after
	// since; backs the rate-limit window.
	CountBySenderSince(ctx context.Context, senderID string, since time.Time) (int, error)

	// ListOpenRequests retrieves requests whose stored status is neither
	// signed nor declined, for the reminder sweep.
	ListOpenRequests(ctx context.Context) ([]*SignatureRequest, error)

	// TokenExists reports whether a token is already in use by any
	// signer or any request's legacy mirror.
	TokenExists(ctx context.Context, token string) (bool, error)
}

// InMemoryStore is an in-memory implementation of Store.
// Used for testing and development. Thread-safe via RWMutex; all
// multi-entity writes happen inside one lock section.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*SignatureRequest
	signers  map[string]*Signer
	// signersByReq keeps signer ids per request in order of creation.
	signersByReq map[string][]string
	tokens       map[string]string // access token -> signer id
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests:     make(map[string]*SignatureRequest),
		signers:      make(map[string]*Signer),
		signersByReq: make(map[string][]string),
		tokens:       make(map[string]string),
	}
}

// CreateRequest persists a request and its signers as one unit.
func (s *InMemoryStore) CreateRequest(ctx context.Context, req *SignatureRequest, signers []*Signer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqCopy := *req
	s.requests[req.ID] = &reqCopy
	for _, signer := range signers {
		signerCopy := *signer
		s.signers[signer.ID] = &signerCopy
		s.signersByReq[req.ID] = append(s.signersByReq[req.ID], signer.ID)
		s.tokens[signer.AccessToken] = signer.ID
	}
	return nil
}

// GetRequest retrieves a request by id.
func (s *InMemoryStore) GetRequest(ctx context.Context, id string) (*SignatureRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	reqCopy := *req
	return &reqCopy, nil
}

// ListBySender retrieves a sender's requests, newest first.
func (s *InMemoryStore) ListBySender(ctx context.Context, senderID string) ([]*SignatureRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*SignatureRequest
	for _, req := range s.requests {
		if req.SenderID == senderID {
			reqCopy := *req
			results = append(results, &reqCopy)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

// ListSigners retrieves a request's signers ordered by position.
func (s *InMemoryStore) ListSigners(ctx context.Context, requestID string) ([]*Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Signer
	for _, id := range s.signersByReq[requestID] {
		signerCopy := *s.signers[id]
		results = append(results, &signerCopy)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Order < results[j].Order
	})
	return results, nil
}

// GetSignerByToken retrieves a signer by access token.
func (s *InMemoryStore) GetSignerByToken(ctx context.Context, token string) (*Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	signerCopy := *s.signers[id]
	return &signerCopy, nil
}

// GetRequestByAccessToken retrieves a request by its legacy mirrored token.
func (s *InMemoryStore) GetRequestByAccessToken(ctx context.Context, token string) (*SignatureRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, req := range s.requests {
		if req.AccessToken != "" && req.AccessToken == token {
			reqCopy := *req
			return &reqCopy, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateRequest persists request mutations.
func (s *InMemoryStore) UpdateRequest(ctx context.Context, req *SignatureRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateRequestLocked(req)
}

func (s *InMemoryStore) updateRequestLocked(req *SignatureRequest) error {
	if _, ok := s.requests[req.ID]; !ok {
		return ErrNotFound
	}
	reqCopy := *req
	s.requests[req.ID] = &reqCopy
	return nil
}

// UpdateSigner persists signer mutations.
func (s *InMemoryStore) UpdateSigner(ctx context.Context, signer *Signer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSignerLocked(signer)
}

func (s *InMemoryStore) updateSignerLocked(signer *Signer) error {
	if _, ok := s.signers[signer.ID]; !ok {
		return ErrNotFound
	}
	signerCopy := *signer
	s.signers[signer.ID] = &signerCopy
	s.tokens[signer.AccessToken] = signer.ID
	return nil
}

// UpdateRequestAndSigner persists both in one atomic unit.
func (s *InMemoryStore) UpdateRequestAndSigner(ctx context.Context, req *SignatureRequest, signer *Signer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateRequestLocked(req); err != nil {
		return err
	}
	if signer != nil {
		return s.updateSignerLocked(signer)
	}
	return nil
}

// DeleteRequest removes a request, cascading to its signers.
func (s *InMemoryStore) DeleteRequest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[id]; !ok {
		return ErrNotFound
	}
	for _, signerID := range s.signersByReq[id] {
		if signer, ok := s.signers[signerID]; ok {
			delete(s.tokens, signer.AccessToken)
			delete(s.signers, signerID)
		}
	}
	delete(s.signersByReq, id)
	delete(s.requests, id)
	return nil
}

// CountBySenderSince counts requests a sender created at or after since.
func (s *InMemoryStore) CountBySenderSince(ctx context.Context, senderID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, req := range s.requests {
		if req.SenderID == senderID && !req.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// ListOpenRequests retrieves requests not yet terminally signed or declined.
func (s *InMemoryStore) ListOpenRequests(ctx context.Context) ([]*SignatureRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*SignatureRequest
	for _, req := range s.requests {
		if req.Status == StatusSigned || req.Status == StatusDeclined {
			continue
		}
		reqCopy := *req
		results = append(results, &reqCopy)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

// TokenExists reports whether a token is already in use.
func (s *InMemoryStore) TokenExists(ctx context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tokens[token]; ok {
		return true, nil
	}
	for _, req := range s.requests {
		if req.AccessToken == token {
			return true, nil
		}
	}
	return false, nil
}

// CountInWindow implements the rate-limit Counter over stored requests:
// the identity is the sender, the class's records are the requests they
// created inside the window.
func (s *InMemoryStore) CountInWindow(ctx context.Context, class, identity string, since time.Time) (int, error) {
	return s.CountBySenderSince(ctx, identity, since)
}
