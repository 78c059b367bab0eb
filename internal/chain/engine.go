package chain

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	domainerrors "vface/pkg/domain-errors"
	"vface/pkg/platform/sentinel"

	"vface/internal/platform/metrics"
)

// Engine serializes appends and verifies chain integrity. The signing keypair
// comes from the keystore so a restart keeps the same verification key.
type Engine struct {
	// mu serializes read-latest-then-append so two concurrent registrations
	// can never claim the same index/prevHash pair.
	mu sync.Mutex

	store      Store
	signingKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	genesis    string
	metrics    *metrics.Metrics
	now        func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine builds a chain engine over the given store and signing key.
func NewEngine(store Store, signingKey ed25519.PrivateKey, genesisSeed string, m *metrics.Metrics, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      store,
		signingKey: signingKey,
		publicKey:  signingKey.Public().(ed25519.PublicKey),
		genesis:    GenesisHash(genesisSeed),
		metrics:    m,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PublicKeyHex returns the hex-encoded verification key.
func (e *Engine) PublicKeyHex() string {
	return hex.EncodeToString(e.publicKey)
}

// Append writes the next entry committing to (commitment, fingerprint). The
// whole read-compute-persist sequence runs under the engine lock.
func (e *Engine) Append(ctx context.Context, commitment, fp string) (*Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prevHash := e.genesis
	var index int64 = 1
	latest, err := e.store.Latest(ctx)
	switch {
	case err == nil:
		prevHash = latest.EntryHash
		index = latest.Index + 1
	case errors.Is(err, sentinel.ErrNotFound):
		// empty chain, link to genesis
	default:
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "read chain tail", err)
	}

	timestamp := e.now().UnixNano()
	entryHash := HashEntry(index, commitment, fp, timestamp, prevHash)
	signature := ed25519.Sign(e.signingKey, []byte(entryHash))

	entry := Entry{
		Index:       index,
		Commitment:  commitment,
		Fingerprint: fp,
		Timestamp:   timestamp,
		PrevHash:    prevHash,
		EntryHash:   entryHash,
		Signature:   hex.EncodeToString(signature),
	}
	if err := e.store.Append(ctx, entry); err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "append chain entry", err)
	}
	if e.metrics != nil {
		e.metrics.ChainAppendsTotal.Inc()
	}
	return &entry, nil
}

// RootInfo reports the latest entry hash, or the genesis hash when the chain
// is empty.
func (e *Engine) RootInfo(ctx context.Context) (*Root, error) {
	latest, err := e.store.Latest(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return &Root{Root: e.genesis, Genesis: true}, nil
	}
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "read chain tail", err)
	}
	count, err := e.store.Count(ctx)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "count chain entries", err)
	}
	return &Root{
		Root:         latest.EntryHash,
		Index:        latest.Index,
		Timestamp:    latest.Timestamp,
		TotalEntries: count,
	}, nil
}

// Entry returns the entry at index.
func (e *Engine) Entry(ctx context.Context, index int64) (*Entry, error) {
	if index < 1 {
		return nil, domainerrors.Newf(domainerrors.CodeValidation, "entry index must be >= 1, got %d", index)
	}
	entry, err := e.store.Get(ctx, index)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, domainerrors.Newf(domainerrors.CodeNotFound, "no chain entry at index %d", index)
	}
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "read chain entry", err)
	}
	return entry, nil
}

// Verify recomputes each entry's hash from its stored fields, verifies the
// signature, and checks linkage to the previous entry (or genesis). It stops
// at the first broken index. from/to of 0 default to 1 and the chain tail.
func (e *Engine) Verify(ctx context.Context, from, to int64) (*VerifyResult, error) {
	count, err := e.store.Count(ctx)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "count chain entries", err)
	}
	if from <= 0 {
		from = 1
	}
	if to <= 0 {
		to = count
	}
	if count == 0 {
		return &VerifyResult{Valid: true, Checked: 0}, nil
	}
	if from > to || to > count {
		return nil, domainerrors.Newf(domainerrors.CodeValidation, "invalid range [%d,%d] for chain of %d entries", from, to, count)
	}

	entries, err := e.store.Range(ctx, from, to)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "read chain range", err)
	}

	prevHash := e.genesis
	if from > 1 {
		prev, err := e.store.Get(ctx, from-1)
		if err != nil {
			return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "read chain predecessor", err)
		}
		prevHash = prev.EntryHash
	}

	var checked int64
	for _, entry := range entries {
		checked++
		if broken := e.checkEntry(entry, prevHash); broken != "" {
			if e.metrics != nil {
				e.metrics.ChainVerifyFailures.Inc()
			}
			return &VerifyResult{
				Valid:    false,
				Checked:  checked,
				BrokenAt: entry.Index,
				Error:    broken,
			}, nil
		}
		prevHash = entry.EntryHash
	}
	return &VerifyResult{Valid: true, Checked: checked}, nil
}

func (e *Engine) checkEntry(entry Entry, wantPrev string) string {
	if entry.PrevHash != wantPrev {
		return fmt.Sprintf("entry %d prevHash does not link to predecessor", entry.Index)
	}
	recomputed := HashEntry(entry.Index, entry.Commitment, entry.Fingerprint, entry.Timestamp, entry.PrevHash)
	if recomputed != entry.EntryHash {
		return fmt.Sprintf("entry %d hash mismatch", entry.Index)
	}
	signature, err := hex.DecodeString(entry.Signature)
	if err != nil || !ed25519.Verify(e.publicKey, []byte(entry.EntryHash), signature) {
		return fmt.Sprintf("entry %d signature invalid", entry.Index)
	}
	return ""
}

// ExportSnapshot returns the full ordered entry list plus the public key for
// independent verification.
func (e *Engine) ExportSnapshot(ctx context.Context) (*Snapshot, error) {
	count, err := e.store.Count(ctx)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "count chain entries", err)
	}

	snapshot := &Snapshot{
		Genesis:      e.genesis,
		Entries:      []Entry{},
		Root:         e.genesis,
		TotalEntries: count,
		PublicKey:    e.PublicKeyHex(),
	}
	if count == 0 {
		return snapshot, nil
	}

	entries, err := e.store.Range(ctx, 1, count)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "read chain range", err)
	}
	snapshot.Entries = entries
	snapshot.Root = entries[len(entries)-1].EntryHash
	return snapshot, nil
}
