package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vface/internal/matcher"
	"vface/pkg/platform/sentinel"
)

// InMemoryStore keeps identity records in process memory. Insertion order is
// tracked explicitly because the matcher's tie-break contract depends on it.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// NewInMemoryStore creates an empty in-memory registry store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

func (s *InMemoryStore) Insert(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.Fingerprint]; exists {
		return fmt.Errorf("%w: fingerprint %s", sentinel.ErrConflict, record.Fingerprint)
	}
	clone := *record
	s.records[record.Fingerprint] = &clone
	s.order = append(s.order, record.Fingerprint)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, fp string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[fp]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *InMemoryStore) SetChainRef(_ context.Context, fp string, chainIndex int64, chainSignature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[fp]
	if !ok {
		return sentinel.ErrNotFound
	}
	record.ChainIndex = chainIndex
	record.ChainSignature = chainSignature
	return nil
}

func (s *InMemoryStore) MarkRevoked(_ context.Context, fp string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[fp]
	if !ok {
		return sentinel.ErrNotFound
	}
	if record.Revoked {
		return sentinel.ErrInvalidState
	}
	record.Revoked = true
	record.RevokedAt = &at
	return nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, ownerKey string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var fingerprints []string
	for _, fp := range s.order {
		if s.records[fp].OwnerKey == ownerKey {
			fingerprints = append(fingerprints, fp)
		}
	}
	return fingerprints, nil
}

func (s *InMemoryStore) ListActiveVectors(_ context.Context) ([]matcher.StoredVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []matcher.StoredVector
	for _, fp := range s.order {
		record := s.records[fp]
		if record.Revoked || !record.HasVector() {
			continue
		}
		rows = append(rows, matcher.StoredVector{
			Fingerprint:     record.Fingerprint,
			OwnerKey:        record.OwnerKey,
			EncryptedVector: record.EncryptedVector,
		})
	}
	return rows, nil
}

func (s *InMemoryStore) ListWithVectors(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []*Record
	for _, fp := range s.order {
		record := s.records[fp]
		if !record.HasVector() {
			continue
		}
		clone := *record
		records = append(records, &clone)
	}
	return records, nil
}

func (s *InMemoryStore) ApplyEncryptionUpdates(_ context.Context, updates []EncryptionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Validate the whole batch before touching anything so a bad update can
	// never leave the store half-migrated.
	for _, u := range updates {
		if _, ok := s.records[u.Fingerprint]; !ok {
			return fmt.Errorf("%w: fingerprint %s", sentinel.ErrNotFound, u.Fingerprint)
		}
	}
	for _, u := range updates {
		record := s.records[u.Fingerprint]
		record.EncryptedVector = u.EncryptedVector
		record.Commitment = u.Commitment
		record.KeyVersion = u.KeyVersion
	}
	return nil
}

// InMemoryNonceStore tracks consumed proof nonces with expiry.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	now    func() time.Time
	sweeps int
}

// NewInMemoryNonceStore creates an empty nonce store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{seen: make(map[string]time.Time), now: time.Now}
}

func (s *InMemoryNonceStore) Consume(_ context.Context, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.seen[nonce]; ok && now.Before(expiry) {
		return sentinel.ErrAlreadyUsed
	}
	s.seen[nonce] = now.Add(ttl)

	// Opportunistic garbage collection keeps the map bounded without a
	// background goroutine.
	s.sweeps++
	if s.sweeps%128 == 0 {
		for n, expiry := range s.seen {
			if !now.Before(expiry) {
				delete(s.seen, n)
			}
		}
	}
	return nil
}
