package consent_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vface/internal/consent"
	"vface/internal/registry"
	domainerrors "vface/pkg/domain-errors"
)

// stubRegistry serves canned identity states, or a hard failure.
type stubRegistry struct {
	results map[string]*registry.CheckResult
	err     error
}

func (s *stubRegistry) Check(_ context.Context, fp string, _ bool) (*registry.CheckResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	if result, ok := s.results[fp]; ok {
		return result, nil
	}
	return &registry.CheckResult{Exists: false}, nil
}

type ConsentSuite struct {
	suite.Suite

	ctx      context.Context
	store    *consent.InMemoryStore
	checker  *stubRegistry
	signer   *consent.Signer
	service  *consent.Service
	clock    time.Time
	liveFP   string
	deadFP   string
	ownerKey string
}

func TestConsentSuite(t *testing.T) {
	suite.Run(t, new(ConsentSuite))
}

func (s *ConsentSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = time.Now().UTC().Truncate(time.Second)
	s.liveFP = digest("live")
	s.deadFP = digest("revoked")
	s.ownerKey = digest("owner")

	revokedAt := s.clock.Add(-time.Hour)
	s.checker = &stubRegistry{results: map[string]*registry.CheckResult{
		s.liveFP: {Exists: true, OwnerKey: s.ownerKey},
		s.deadFP: {Exists: true, OwnerKey: s.ownerKey, Revoked: true, RevokedAt: &revokedAt},
	}}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	s.signer = consent.NewSigner(key)
	s.store = consent.NewInMemoryStore()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = consent.NewService(s.store, s.checker, s.signer, logger, nil,
		720*time.Hour,
		consent.WithClock(func() time.Time { return s.clock }),
	)
}

func (s *ConsentSuite) request(fp string) *consent.PendingRequest {
	request, err := s.service.Request(s.ctx, consent.RequestInput{
		Fingerprint: fp,
		CompanyID:   "acme-corp",
		Scope:       []string{"name", "dob"},
		Duration:    time.Hour,
	})
	s.Require().NoError(err)
	return request
}

func (s *ConsentSuite) TestRequest() {
	s.Run("opens a pending request for a live identity", func() {
		request := s.request(s.liveFP)
		s.NotEmpty(request.ID)
		s.Equal(consent.StatusPending, request.Status)
		s.Equal([]string{"name", "dob"}, request.Scope)
		s.Equal(s.clock, request.CreatedAt)
	})

	s.Run("unknown identity", func() {
		_, err := s.service.Request(s.ctx, consent.RequestInput{
			Fingerprint: digest("nobody"),
			CompanyID:   "acme-corp",
			Scope:       []string{"name"},
		})
		s.True(domainerrors.Is(err, domainerrors.CodeNotFound))
	})

	s.Run("revoked identity looks like an unknown one", func() {
		_, err := s.service.Request(s.ctx, consent.RequestInput{
			Fingerprint: s.deadFP,
			CompanyID:   "acme-corp",
			Scope:       []string{"name"},
		})
		s.True(domainerrors.Is(err, domainerrors.CodeNotFound))
	})

	s.Run("validation", func() {
		cases := []struct {
			name  string
			input consent.RequestInput
		}{
			{"bad fingerprint", consent.RequestInput{Fingerprint: "xyz", CompanyID: "acme", Scope: []string{"name"}}},
			{"missing company", consent.RequestInput{Fingerprint: s.liveFP, Scope: []string{"name"}}},
			{"empty scope", consent.RequestInput{Fingerprint: s.liveFP, CompanyID: "acme"}},
			{"excessive duration", consent.RequestInput{
				Fingerprint: s.liveFP, CompanyID: "acme", Scope: []string{"name"},
				Duration: 10000 * time.Hour,
			}},
		}
		for _, tc := range cases {
			_, err := s.service.Request(s.ctx, tc.input)
			s.True(domainerrors.Is(err, domainerrors.CodeValidation), tc.name)
		}
	})
}

func (s *ConsentSuite) TestApprove() {
	s.Run("mints a scoped token and flips the request once", func() {
		request := s.request(s.liveFP)

		token, approved, err := s.service.Approve(s.ctx, request.ID, s.liveFP)
		s.Require().NoError(err)
		s.Equal(consent.StatusApproved, approved.Status)
		s.Require().NotNil(approved.ApprovedAt)

		claims, err := s.signer.Parse(token)
		s.Require().NoError(err)
		s.Equal(s.liveFP, claims.Fingerprint)
		s.Equal([]string{"name", "dob"}, claims.Scope)
		s.Equal(s.ownerKey, claims.Subject)
		s.Equal("acme-corp", claims.Audience[0])
		s.Equal(s.clock.Add(time.Hour), claims.ExpiresAt.Time.UTC())

		_, _, err = s.service.Approve(s.ctx, request.ID, s.liveFP)
		s.True(domainerrors.Is(err, domainerrors.CodeConflict))
	})

	s.Run("unknown request", func() {
		_, _, err := s.service.Approve(s.ctx, "missing", s.liveFP)
		s.True(domainerrors.Is(err, domainerrors.CodeNotFound))
	})

	s.Run("fingerprint must match the request", func() {
		request := s.request(s.liveFP)
		_, _, err := s.service.Approve(s.ctx, request.ID, digest("other"))
		s.True(domainerrors.Is(err, domainerrors.CodeValidation))
	})

	s.Run("identity revoked between request and approval", func() {
		request := s.request(s.liveFP)
		s.checker.results[s.liveFP] = &registry.CheckResult{Exists: true, OwnerKey: s.ownerKey, Revoked: true}

		_, _, err := s.service.Approve(s.ctx, request.ID, s.liveFP)
		s.True(domainerrors.Is(err, domainerrors.CodeNotFound))
	})
}

func (s *ConsentSuite) TestVerify() {
	issue := func() string {
		request := s.request(s.liveFP)
		token, _, err := s.service.Approve(s.ctx, request.ID, s.liveFP)
		s.Require().NoError(err)
		return token
	}

	s.Run("valid token", func() {
		token := issue()

		verdict, err := s.service.Verify(s.ctx, token)
		s.Require().NoError(err)
		s.True(verdict.Valid)
		s.Empty(verdict.Reason)
		s.Equal(s.liveFP, verdict.Fingerprint)
		s.Equal("acme-corp", verdict.CompanyID)
		s.Equal([]string{"name", "dob"}, verdict.Scope)
		s.Equal(s.ownerKey, verdict.OwnerKey)
	})

	s.Run("garbage token", func() {
		verdict, err := s.service.Verify(s.ctx, "not.a.token")
		s.Require().NoError(err)
		s.False(verdict.Valid)
		s.Equal(consent.ReasonInvalidSignature, verdict.Reason)
	})

	s.Run("token signed by a different key", func() {
		_, other, err := ed25519.GenerateKey(rand.Reader)
		s.Require().NoError(err)
		forged, err := consent.NewSigner(other).Mint(&consent.Claims{Fingerprint: s.liveFP})
		s.Require().NoError(err)

		verdict, err := s.service.Verify(s.ctx, forged)
		s.Require().NoError(err)
		s.False(verdict.Valid)
		s.Equal(consent.ReasonInvalidSignature, verdict.Reason)
	})

	s.Run("expired token", func() {
		s.clock = time.Now().UTC().Add(-2 * time.Hour)
		token := issue()
		s.clock = time.Now().UTC()

		verdict, err := s.service.Verify(s.ctx, token)
		s.Require().NoError(err)
		s.False(verdict.Valid)
		s.Equal(consent.ReasonTokenExpired, verdict.Reason)
		s.Equal(s.liveFP, verdict.Fingerprint)
	})

	s.Run("identity revoked after issuance", func() {
		token := issue()
		s.checker.results[s.liveFP] = &registry.CheckResult{Exists: true, OwnerKey: s.ownerKey, Revoked: true}

		verdict, err := s.service.Verify(s.ctx, token)
		s.Require().NoError(err)
		s.False(verdict.Valid)
		s.Equal(consent.ReasonIdentityRevoked, verdict.Reason)
	})

	s.Run("identity gone entirely", func() {
		s.checker.results[s.liveFP] = &registry.CheckResult{Exists: true, OwnerKey: s.ownerKey}
		token := issue()
		delete(s.checker.results, s.liveFP)

		verdict, err := s.service.Verify(s.ctx, token)
		s.Require().NoError(err)
		s.False(verdict.Valid)
		s.Equal(consent.ReasonIdentityNotFound, verdict.Reason)
	})

	s.Run("registry outage denies, never approves", func() {
		s.checker.results[s.liveFP] = &registry.CheckResult{Exists: true, OwnerKey: s.ownerKey}
		token := issue()
		s.checker.err = errors.New("connection refused")

		verdict, err := s.service.Verify(s.ctx, token)
		s.Require().NoError(err)
		s.False(verdict.Valid)
		s.Equal(consent.ReasonRegistryUnavailable, verdict.Reason)
	})
}

func digest(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}
