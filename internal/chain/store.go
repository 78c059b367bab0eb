package chain

import (
	"context"
	"fmt"
	"sync"

	"vface/pkg/platform/sentinel"
)

// Store persists chain entries. Implementations must reject duplicate indexes
// so the engine's single-writer discipline is backstopped by the store.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Latest(ctx context.Context) (*Entry, error)
	Get(ctx context.Context, index int64) (*Entry, error)
	Range(ctx context.Context, from, to int64) ([]Entry, error)
	Count(ctx context.Context) (int64, error)
}

// InMemoryStore keeps the chain in process memory. Entries are never mutated
// or removed; the slice only grows at the tail.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewInMemoryStore creates an empty in-memory chain store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	expected := int64(len(s.entries)) + 1
	if entry.Index != expected {
		return fmt.Errorf("%w: index %d, tail is %d", sentinel.ErrConflict, entry.Index, expected-1)
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) Latest(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, sentinel.ErrNotFound
	}
	entry := s.entries[len(s.entries)-1]
	return &entry, nil
}

func (s *InMemoryStore) Get(_ context.Context, index int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 1 || index > int64(len(s.entries)) {
		return nil, sentinel.ErrNotFound
	}
	entry := s.entries[index-1]
	return &entry, nil
}

func (s *InMemoryStore) Range(_ context.Context, from, to int64) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from < 1 || to > int64(len(s.entries)) || from > to {
		return nil, sentinel.ErrNotFound
	}
	out := make([]Entry, to-from+1)
	copy(out, s.entries[from-1:to])
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// Tamper overwrites a stored entry in place. Test hook for integrity checks;
// real code paths never mutate entries.
func (s *InMemoryStore) Tamper(index int64, mutate func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 1 || index > int64(len(s.entries)) {
		return sentinel.ErrNotFound
	}
	mutate(&s.entries[index-1])
	return nil
}
