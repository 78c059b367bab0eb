package registry

import (
	"context"
	"time"

	"vface/internal/matcher"
)

// Store persists identity records. Implementations return sentinel errors
// (pkg/platform/sentinel); the service translates them into domain errors.
type Store interface {
	// Insert adds a record. First successful insert wins: ErrConflict when the
	// fingerprint already exists.
	Insert(ctx context.Context, record *Record) error
	Get(ctx context.Context, fp string) (*Record, error)
	// SetChainRef links a record to its chain entry after the append.
	SetChainRef(ctx context.Context, fp string, chainIndex int64, chainSignature string) error
	// MarkRevoked flips the revocation flag. ErrNotFound for unknown
	// fingerprints, ErrInvalidState when already revoked. Monotonic: nothing
	// ever clears the flag.
	MarkRevoked(ctx context.Context, fp string, at time.Time) error
	ListByOwner(ctx context.Context, ownerKey string) ([]string, error)
	// ListActiveVectors returns non-revoked records with stored vectors, in
	// insertion order (the matcher's tie-break contract).
	ListActiveVectors(ctx context.Context) ([]matcher.StoredVector, error)
	// ListWithVectors returns every record holding a vector, revoked included,
	// in insertion order. Used by key rotation, which must migrate all rows.
	ListWithVectors(ctx context.Context) ([]*Record, error)
	// ApplyEncryptionUpdates applies a rotation batch atomically: either every
	// update lands or none does.
	ApplyEncryptionUpdates(ctx context.Context, updates []EncryptionUpdate) error
}

// NonceStore remembers consumed proof nonces for replay detection. Consume is
// single-use: the second call for the same nonce fails with ErrAlreadyUsed
// until the TTL expires the entry.
type NonceStore interface {
	Consume(ctx context.Context, nonce string, ttl time.Duration) error
}
