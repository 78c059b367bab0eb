package consent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"vface/internal/fingerprint"
	"vface/internal/platform/metrics"
	"vface/internal/registry"
	domainerrors "vface/pkg/domain-errors"
	"vface/pkg/platform/sentinel"
)

// IdentityChecker is the registry lookup the service depends on. Satisfied by
// *registry.Service.
type IdentityChecker interface {
	Check(ctx context.Context, fp string, includeVector bool) (*registry.CheckResult, error)
}

const defaultDuration = time.Hour

// Service runs the consent handshake: request, approve, verify.
type Service struct {
	store       Store
	registry    IdentityChecker
	signer      *Signer
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxDuration time.Duration
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the consent service. maxDuration caps how long a single
// grant may live.
func NewService(
	store Store,
	checker IdentityChecker,
	signer *Signer,
	logger *slog.Logger,
	m *metrics.Metrics,
	maxDuration time.Duration,
	opts ...Option,
) *Service {
	s := &Service{
		store:       store,
		registry:    checker,
		signer:      signer,
		logger:      logger,
		metrics:     m,
		maxDuration: maxDuration,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestInput is a company's ask for consent.
type RequestInput struct {
	Fingerprint string
	CompanyID   string
	Scope       []string
	Duration    time.Duration
}

// Request opens a pending consent request after confirming the identity is
// live. Absent and revoked identities look identical to the requester.
func (s *Service) Request(ctx context.Context, in RequestInput) (*PendingRequest, error) {
	if !fingerprint.Valid(in.Fingerprint) {
		return nil, domainerrors.New(domainerrors.CodeValidation, "fingerprint must be a 64-hex identifier")
	}
	if in.CompanyID == "" {
		return nil, domainerrors.New(domainerrors.CodeValidation, "companyId is required")
	}
	if len(in.Scope) == 0 {
		return nil, domainerrors.New(domainerrors.CodeValidation, "scope must list at least one field")
	}
	if in.Duration <= 0 {
		in.Duration = defaultDuration
	}
	if in.Duration > s.maxDuration {
		return nil, domainerrors.Newf(domainerrors.CodeValidation,
			"duration exceeds the maximum of %s", s.maxDuration)
	}

	if err := s.requireLiveIdentity(ctx, in.Fingerprint); err != nil {
		return nil, err
	}

	request := &PendingRequest{
		ID:          uuid.NewString(),
		Fingerprint: in.Fingerprint,
		CompanyID:   in.CompanyID,
		Scope:       in.Scope,
		Duration:    in.Duration,
		Status:      StatusPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Create(ctx, request); err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "create consent request", err)
	}

	s.logger.InfoContext(ctx, "consent requested",
		"request_id", request.ID, "fingerprint", in.Fingerprint, "company_id", in.CompanyID)
	return request, nil
}

// Approve flips a pending request to approved and mints the consent token.
// The fingerprint must match the request; a second approval of the same
// request is a conflict, never a second token.
func (s *Service) Approve(ctx context.Context, requestID, fp string) (string, *PendingRequest, error) {
	request, err := s.store.Get(ctx, requestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", nil, domainerrors.Newf(domainerrors.CodeNotFound, "consent request %s not found", requestID)
	}
	if err != nil {
		return "", nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "get consent request", err)
	}
	if request.Fingerprint != fp {
		return "", nil, domainerrors.New(domainerrors.CodeValidation,
			"fingerprint does not match the consent request")
	}

	result, err := s.registry.Check(ctx, request.Fingerprint, false)
	if err != nil {
		return "", nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "check identity", err)
	}
	if !result.Exists || result.Revoked {
		return "", nil, domainerrors.Newf(domainerrors.CodeNotFound,
			"fingerprint %s is not registered", request.Fingerprint)
	}

	now := s.now().UTC()
	if err := s.store.Approve(ctx, requestID, now); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return "", nil, domainerrors.New(domainerrors.CodeConflict, "consent request already approved")
		}
		return "", nil, domainerrors.Wrap(domainerrors.CodeUnavailable, "approve consent request", err)
	}
	request.Status = StatusApproved
	request.ApprovedAt = &now

	token, err := s.signer.Mint(&Claims{
		Fingerprint: request.Fingerprint,
		Scope:       request.Scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "vface",
			Subject:   result.OwnerKey,
			Audience:  jwt.ClaimStrings{request.CompanyID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(request.Duration)),
			ID:        uuid.NewString(),
		},
	})
	if err != nil {
		return "", nil, domainerrors.Wrap(domainerrors.CodeInternal, "mint consent token", err)
	}

	if s.metrics != nil {
		s.metrics.TokensIssued.Inc()
	}
	s.logger.InfoContext(ctx, "consent approved",
		"request_id", requestID, "fingerprint", request.Fingerprint,
		"company_id", request.CompanyID, "expires_at", now.Add(request.Duration))
	return token, request, nil
}

// Verify checks a token end to end: signature, expiry, then a live registry
// lookup. Every failure mode, including an unreachable registry, yields an
// invalid verdict. The error return is reserved for programming mistakes, not
// bad tokens.
func (s *Service) Verify(ctx context.Context, raw string) (*VerifyResult, error) {
	claims, err := s.signer.Parse(raw)
	if errors.Is(err, ErrTokenExpired) {
		return s.verdict(ctx, invalid(ReasonTokenExpired, claims)), nil
	}
	if err != nil {
		return s.verdict(ctx, &VerifyResult{Valid: false, Reason: ReasonInvalidSignature}), nil
	}

	result, err := s.registry.Check(ctx, claims.Fingerprint, false)
	if err != nil {
		s.logger.ErrorContext(ctx, "registry unavailable during token verification",
			"fingerprint", claims.Fingerprint, "error", err.Error())
		return s.verdict(ctx, invalid(ReasonRegistryUnavailable, claims)), nil
	}
	if !result.Exists {
		return s.verdict(ctx, invalid(ReasonIdentityNotFound, claims)), nil
	}
	if result.Revoked {
		return s.verdict(ctx, invalid(ReasonIdentityRevoked, claims)), nil
	}

	verdict := &VerifyResult{
		Valid:       true,
		Fingerprint: claims.Fingerprint,
		Scope:       claims.Scope,
		OwnerKey:    claims.Subject,
		ExpiresAt:   claims.ExpiresAt.Time,
	}
	if len(claims.Audience) > 0 {
		verdict.CompanyID = claims.Audience[0]
	}
	return s.verdict(ctx, verdict), nil
}

func (s *Service) requireLiveIdentity(ctx context.Context, fp string) error {
	result, err := s.registry.Check(ctx, fp, false)
	if err != nil {
		return domainerrors.Wrap(domainerrors.CodeUnavailable, "check identity", err)
	}
	if !result.Exists || result.Revoked {
		return domainerrors.Newf(domainerrors.CodeNotFound, "fingerprint %s is not registered", fp)
	}
	return nil
}

func (s *Service) verdict(_ context.Context, v *VerifyResult) *VerifyResult {
	if s.metrics != nil {
		result := "valid"
		if !v.Valid {
			result = v.Reason
		}
		s.metrics.TokenVerifications.WithLabelValues(result).Inc()
	}
	return v
}

func invalid(reason string, claims *Claims) *VerifyResult {
	v := &VerifyResult{Valid: false, Reason: reason}
	if claims != nil {
		v.Fingerprint = claims.Fingerprint
	}
	return v
}
