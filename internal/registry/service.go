package registry

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vface/internal/chain"
	"vface/internal/fingerprint"
	"vface/internal/matcher"
	"vface/internal/platform/metrics"
	"vface/internal/vault"
	domainerrors "vface/pkg/domain-errors"
	"vface/pkg/platform/sentinel"
)

// ChainAppender anchors a registration's commitment in the hash chain.
type ChainAppender interface {
	Append(ctx context.Context, commitment, fp string) (*chain.Entry, error)
}

// TxRunner executes fn atomically. The default runs fn directly, which is
// correct for the single-lock in-memory stores; postgres deployments inject
// pkg/platform/tx.Run so nonce consumption and the revocation flip share one
// transaction.
type TxRunner func(ctx context.Context, fn func(context.Context) error) error

// Config carries the service's tunable thresholds and windows.
type Config struct {
	SybilThreshold  float64
	SearchThreshold float64
	ProofWindow     time.Duration
	NonceTTL        time.Duration
}

// Service implements the registry operations over pluggable stores.
type Service struct {
	store   Store
	nonces  NonceStore
	index   matcher.VectorIndex
	deriver *fingerprint.Deriver
	keyring *vault.Keyring
	chain   ChainAppender
	rotator KeyRotator
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config
	runTx   TxRunner
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTxRunner injects the transaction wrapper for durable stores.
func WithTxRunner(run TxRunner) Option {
	return func(s *Service) {
		if run != nil {
			s.runTx = run
		}
	}
}

// WithKeyRotator enables the rotate-keys operation.
func WithKeyRotator(rotator KeyRotator) Option {
	return func(s *Service) {
		s.rotator = rotator
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the registry service.
func NewService(
	store Store,
	nonces NonceStore,
	index matcher.VectorIndex,
	deriver *fingerprint.Deriver,
	keyring *vault.Keyring,
	chainAppender ChainAppender,
	logger *slog.Logger,
	m *metrics.Metrics,
	cfg Config,
	opts ...Option,
) *Service {
	s := &Service{
		store:   store,
		nonces:  nonces,
		index:   index,
		deriver: deriver,
		keyring: keyring,
		chain:   chainAppender,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		runTx:   func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) },
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterInput is the registration request. Vector is optional; when present
// the fingerprint is derived from it (a supplied fingerprint must agree).
type RegisterInput struct {
	Fingerprint string
	OwnerKey    string
	Vector      []float64
	Metadata    map[string]string
}

// Register enrolls a new identity: Sybil check, encrypt, insert, anchor.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Record, error) {
	if err := validateOwnerKey(in.OwnerKey); err != nil {
		return nil, err
	}

	fp, err := s.resolveFingerprint(in)
	if err != nil {
		return nil, err
	}

	if in.Vector != nil {
		if err := s.sybilCheck(ctx, in.Vector); err != nil {
			return nil, err
		}
	}

	record := &Record{
		Fingerprint: fp,
		OwnerKey:    in.OwnerKey,
		CreatedAt:   s.now().UTC(),
		Metadata:    in.Metadata,
	}

	nonce := uuid.NewString()
	if in.Vector != nil {
		encoded, err := matcher.EncodeVector(in.Vector)
		if err != nil {
			return nil, domainerrors.Wrap(domainerrors.CodeInternal, "encode vector", err)
		}
		payload, err := s.keyring.Encrypt(encoded)
		if err != nil {
			return nil, domainerrors.Wrap(domainerrors.CodeInternal, "encrypt vector", err)
		}
		record.EncryptedVector = payload
		record.KeyVersion = s.keyring.CurrentVersion()
	}
	record.CommitmentNonce = nonce
	record.Commitment = Commitment(record.EncryptedVector, nonce)

	if err := s.store.Insert(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.reject("already_registered")
			return nil, domainerrors.Newf(domainerrors.CodeConflict, "fingerprint %s already registered", fp)
		}
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "insert identity", err)
	}

	if in.Vector != nil {
		// No-op for the linear scanner; real indexes maintain their structure.
		if err := s.index.Insert(ctx, fp, in.Vector); err != nil {
			s.logger.WarnContext(ctx, "vector index insert failed", "fingerprint", fp, "error", err.Error())
		}
	}

	entry, err := s.chain.Append(ctx, record.Commitment, fp)
	if err != nil {
		// The record is durable; the anchor can be re-appended by an operator.
		s.logger.ErrorContext(ctx, "chain append failed after insert", "fingerprint", fp, "error", err.Error())
		return nil, err
	}
	if err := s.store.SetChainRef(ctx, fp, entry.Index, entry.Signature); err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "link chain entry", err)
	}
	record.ChainIndex = entry.Index
	record.ChainSignature = entry.Signature

	if s.metrics != nil {
		s.metrics.RegistrationsTotal.Inc()
	}
	return record, nil
}

// Check reports the record's state, or Exists=false when absent.
// includeVector is the authorization decision made by the caller.
func (s *Service) Check(ctx context.Context, fp string, includeVector bool) (*CheckResult, error) {
	if !fingerprint.Valid(fp) {
		return nil, domainerrors.New(domainerrors.CodeValidation, "fingerprint must be a 64-hex identifier")
	}

	record, err := s.store.Get(ctx, fp)
	if errors.Is(err, sentinel.ErrNotFound) {
		return &CheckResult{Exists: false}, nil
	}
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "get identity", err)
	}

	result := &CheckResult{
		Exists:    true,
		OwnerKey:  record.OwnerKey,
		CreatedAt: record.CreatedAt,
		Revoked:   record.Revoked,
		RevokedAt: record.RevokedAt,
		Metadata:  record.Metadata,
	}
	if includeVector && record.HasVector() {
		plaintext, err := s.keyring.Decrypt(record.EncryptedVector)
		if err != nil {
			return nil, domainerrors.Wrap(domainerrors.CodeInternal, "decrypt stored vector", err)
		}
		vector, err := matcher.DecodeVector(plaintext)
		if err != nil {
			return nil, domainerrors.Wrap(domainerrors.CodeInternal, "decode stored vector", err)
		}
		result.Vector = vector
	}
	return result, nil
}

// Revoke flips the revocation flag after verifying the ownership proof. The
// nonce consume and the flag flip run atomically so a concurrent retry can
// neither revoke twice nor reuse the nonce.
func (s *Service) Revoke(ctx context.Context, signatureHex string, cmd RevokeCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if signatureHex == "" {
		return domainerrors.New(domainerrors.CodeValidation, "proof signature is required")
	}

	record, err := s.store.Get(ctx, cmd.Fingerprint)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domainerrors.Newf(domainerrors.CodeNotFound, "fingerprint %s is not registered", cmd.Fingerprint)
	}
	if err != nil {
		return domainerrors.Wrap(domainerrors.CodeUnavailable, "get identity", err)
	}
	if record.Revoked {
		return domainerrors.New(domainerrors.CodeConflict, "identity already revoked")
	}

	now := s.now()
	drift := now.Unix() - cmd.Timestamp
	if drift < 0 {
		drift = -drift
	}
	if time.Duration(drift)*time.Second > s.cfg.ProofWindow {
		return domainerrors.New(domainerrors.CodeReplay, "proof timestamp outside the acceptance window")
	}

	if err := verifyOwnerSignature(record.OwnerKey, cmd.CanonicalBytes(), signatureHex); err != nil {
		return err
	}

	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.nonces.Consume(ctx, cmd.Nonce, s.cfg.NonceTTL); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return domainerrors.New(domainerrors.CodeReplay, "proof nonce already consumed")
			}
			return domainerrors.Wrap(domainerrors.CodeUnavailable, "consume nonce", err)
		}
		if err := s.store.MarkRevoked(ctx, cmd.Fingerprint, now.UTC()); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return domainerrors.New(domainerrors.CodeConflict, "identity already revoked")
			}
			return domainerrors.Wrap(domainerrors.CodeUnavailable, "mark revoked", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.Revocations.Inc()
	}
	s.logger.InfoContext(ctx, "identity revoked", "fingerprint", cmd.Fingerprint)
	return nil
}

// ListByOwner returns the fingerprints controlled by ownerKey.
func (s *Service) ListByOwner(ctx context.Context, ownerKey string) ([]string, error) {
	if ownerKey == "" {
		return nil, domainerrors.New(domainerrors.CodeValidation, "ownerKey is required")
	}
	fingerprints, err := s.store.ListByOwner(ctx, ownerKey)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "list by owner", err)
	}
	return fingerprints, nil
}

// Search runs a similarity scan. threshold <= 0 uses the configured default;
// topK <= 0 returns all matches.
func (s *Service) Search(ctx context.Context, vector []float64, threshold float64, topK int) ([]matcher.Match, error) {
	if len(vector) != s.deriver.Dim() {
		return nil, domainerrors.Newf(domainerrors.CodeValidation,
			"dimension mismatch: expected %d components, got %d", s.deriver.Dim(), len(vector))
	}
	if threshold <= 0 {
		threshold = s.cfg.SearchThreshold
	}
	matches, err := s.index.Query(ctx, vector, threshold, topK)
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "similarity query", err)
	}
	return matches, nil
}

func (s *Service) sybilCheck(ctx context.Context, vector []float64) error {
	if len(vector) != s.deriver.Dim() {
		return domainerrors.Newf(domainerrors.CodeValidation,
			"dimension mismatch: expected %d components, got %d", s.deriver.Dim(), len(vector))
	}
	matches, err := s.index.Query(ctx, vector, s.cfg.SybilThreshold, 1)
	if err != nil {
		return domainerrors.Wrap(domainerrors.CodeUnavailable, "sybil check", err)
	}
	if len(matches) > 0 {
		s.reject("duplicate_identity")
		return domainerrors.New(domainerrors.CodeConflict, "similar identity already enrolled").
			WithMeta("match_fingerprint", matches[0].Fingerprint).
			WithMeta("similarity", matches[0].Similarity)
	}
	return nil
}

func (s *Service) resolveFingerprint(in RegisterInput) (string, error) {
	if in.Vector == nil {
		if !fingerprint.Valid(in.Fingerprint) {
			return "", domainerrors.New(domainerrors.CodeValidation,
				"fingerprint must be a 64-hex identifier when no vector is supplied")
		}
		return in.Fingerprint, nil
	}
	derived, err := s.deriver.Derive(in.Vector)
	if err != nil {
		return "", err
	}
	if in.Fingerprint != "" && in.Fingerprint != derived {
		return "", domainerrors.New(domainerrors.CodeValidation,
			"supplied fingerprint does not match the vector")
	}
	return derived, nil
}

func (s *Service) reject(reason string) {
	if s.metrics != nil {
		s.metrics.RegistrationsRejected.WithLabelValues(reason).Inc()
	}
}

func validateOwnerKey(ownerKey string) error {
	key, err := hex.DecodeString(ownerKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return domainerrors.New(domainerrors.CodeValidation,
			"ownerKey must be a hex-encoded ed25519 public key")
	}
	return nil
}

func verifyOwnerSignature(ownerKey string, message []byte, signatureHex string) error {
	publicKey, err := hex.DecodeString(ownerKey)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return domainerrors.New(domainerrors.CodeNotOwner, "record owner key is not a valid public key")
	}
	signature, err := hex.DecodeString(signatureHex)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return domainerrors.New(domainerrors.CodeNotOwner, "proof signature is malformed")
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, signature) {
		return domainerrors.New(domainerrors.CodeNotOwner, "proof signature does not verify under the record owner key")
	}
	return nil
}
