package consent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vface/pkg/platform/sentinel"
)

// InMemoryStore keeps consent requests in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*PendingRequest
}

// NewInMemoryStore creates an empty in-memory consent store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[string]*PendingRequest)}
}

func (s *InMemoryStore) Create(_ context.Context, request *PendingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[request.ID]; exists {
		return fmt.Errorf("%w: request %s", sentinel.ErrConflict, request.ID)
	}
	clone := *request
	s.requests[request.ID] = &clone
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*PendingRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *request
	return &clone, nil
}

func (s *InMemoryStore) Approve(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if request.Status != StatusPending {
		return sentinel.ErrInvalidState
	}
	request.Status = StatusApproved
	request.ApprovedAt = &at
	return nil
}
