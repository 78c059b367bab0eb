// Package chain implements the append-only, signed hash chain anchoring each
// registration's commitment. Tampering with any field of any past entry
// changes that entry's recomputed hash and breaks the linkage for every
// subsequent entry, detectable without any external ledger.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Entry is one immutable link in the chain. Index is monotonic starting at 1;
// PrevHash of entry 1 is the genesis hash.
type Entry struct {
	Index       int64  `json:"index"`
	Commitment  string `json:"commitment"`
	Fingerprint string `json:"fingerprint"`
	Timestamp   int64  `json:"timestamp"`
	PrevHash    string `json:"prevHash"`
	EntryHash   string `json:"entryHash"`
	Signature   string `json:"signature"`
}

// Root describes the current chain head.
type Root struct {
	Root         string `json:"root"`
	Index        int64  `json:"index"`
	Timestamp    int64  `json:"timestamp"`
	TotalEntries int64  `json:"totalEntries"`
	Genesis      bool   `json:"genesis"`
}

// VerifyResult reports a verification run. BrokenAt is the first index at
// which any check failed (0 when the range is intact).
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	Checked  int64  `json:"checked"`
	BrokenAt int64  `json:"brokenAt,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Snapshot is the full ordered entry list plus the verification key, exported
// for independent third-party verification.
type Snapshot struct {
	Genesis      string  `json:"genesis"`
	Entries      []Entry `json:"entries"`
	Root         string  `json:"root"`
	TotalEntries int64   `json:"totalEntries"`
	PublicKey    string  `json:"publicKey"`
}

// HashEntry computes the canonical entry hash binding index, commitment,
// fingerprint, timestamp, and the previous hash. The encoding is part of the
// chain format: pipe-joined decimal/hex fields, SHA-256, lowercase hex.
func HashEntry(index int64, commitment, fp string, timestamp int64, prevHash string) string {
	preimage := fmt.Sprintf("%d|%s|%s|%d|%s", index, commitment, fp, timestamp, prevHash)
	sum := sha256.Sum256([]byte(preimage))
	return hex.EncodeToString(sum[:])
}

// GenesisHash derives the chain anchor from the configured seed.
func GenesisHash(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}
