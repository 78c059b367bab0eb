// Package registry owns the durable identity records and the operations over
// them: registration with Sybil screening, lookups, owner-proved revocation,
// similarity search, and encryption key rotation.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"vface/internal/fingerprint"
	domainerrors "vface/pkg/domain-errors"
)

// Record is one enrolled identity. A fingerprint, once inserted, is never
// deleted; revocation only flips the flag and records a timestamp so audit
// history is preserved.
type Record struct {
	Fingerprint     string            `json:"fingerprint"`
	OwnerKey        string            `json:"ownerKey"`
	EncryptedVector string            `json:"-"`
	Commitment      string            `json:"commitment"`
	CommitmentNonce string            `json:"-"`
	KeyVersion      int               `json:"keyVersion"`
	ChainIndex      int64             `json:"chainIndex,omitempty"`
	ChainSignature  string            `json:"chainSignature,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	Revoked         bool              `json:"revoked"`
	RevokedAt       *time.Time        `json:"revokedAt,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// HasVector reports whether the record stores an encrypted feature vector.
func (r *Record) HasVector() bool { return r.EncryptedVector != "" }

// CheckResult is the Check operation's answer: existence plus the record's
// public state, and the decrypted vector for authorized callers.
type CheckResult struct {
	Exists    bool
	OwnerKey  string
	CreatedAt time.Time
	Revoked   bool
	RevokedAt *time.Time
	Metadata  map[string]string
	Vector    []float64
}

// RevokeCommand is the structurally validated ownership-proof message. The
// signature covers its canonical JSON encoding; field order is fixed by the
// struct definition.
type RevokeCommand struct {
	Action      string `json:"action"`
	Fingerprint string `json:"fingerprint"`
	Timestamp   int64  `json:"timestamp"`
	Nonce       string `json:"nonce"`
}

// Validate checks the command's shape before any signature work.
func (c RevokeCommand) Validate() error {
	if c.Action != "revoke" {
		return domainerrors.Newf(domainerrors.CodeValidation, "unsupported proof action %q", c.Action)
	}
	if !fingerprint.Valid(c.Fingerprint) {
		return domainerrors.New(domainerrors.CodeValidation, "proof fingerprint is not a 64-hex identifier")
	}
	if c.Timestamp <= 0 {
		return domainerrors.New(domainerrors.CodeValidation, "proof timestamp is required")
	}
	if c.Nonce == "" {
		return domainerrors.New(domainerrors.CodeValidation, "proof nonce is required")
	}
	return nil
}

// CanonicalBytes returns the exact bytes the owner signs.
func (c RevokeCommand) CanonicalBytes() []byte {
	// Struct field order makes this deterministic.
	b, _ := json.Marshal(c)
	return b
}

// Commitment hashes the encrypted payload together with a random nonce,
// producing the tamper-evident anchor written to the chain.
func Commitment(encryptedPayload, nonce string) string {
	sum := sha256.Sum256([]byte(encryptedPayload + nonce))
	return hex.EncodeToString(sum[:])
}

// EncryptionUpdate is one row's migration during key rotation. All updates of
// a rotation run apply atomically or not at all.
type EncryptionUpdate struct {
	Fingerprint     string
	EncryptedVector string
	Commitment      string
	KeyVersion      int
}
