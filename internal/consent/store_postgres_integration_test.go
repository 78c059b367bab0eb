//go:build integration

package consent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vface/internal/consent"
	"vface/pkg/platform/sentinel"
	"vface/pkg/testutil/containers"
)

const consentSchema = `
CREATE TABLE consent_requests (
    id               TEXT PRIMARY KEY,
    fingerprint      TEXT NOT NULL,
    company_id       TEXT NOT NULL,
    scope            TEXT[] NOT NULL,
    duration_seconds BIGINT NOT NULL,
    status           TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    approved_at      TIMESTAMPTZ
)`

type PostgresConsentSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *consent.PostgresStore
}

func TestPostgresConsentSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresConsentSuite))
}

func (s *PostgresConsentSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T(), consentSchema)
	s.store = consent.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresConsentSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "consent_requests"))
}

func (s *PostgresConsentSuite) TestCreateAndGet() {
	ctx := context.Background()
	request := &consent.PendingRequest{
		ID:          "req-1",
		Fingerprint: digest("identity"),
		CompanyID:   "acme-corp",
		Scope:       []string{"name", "dob"},
		Duration:    2 * time.Hour,
		Status:      consent.StatusPending,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	s.Require().NoError(s.store.Create(ctx, request))
	s.ErrorIs(s.store.Create(ctx, request), sentinel.ErrConflict)

	got, err := s.store.Get(ctx, "req-1")
	s.Require().NoError(err)
	s.Equal(request.Fingerprint, got.Fingerprint)
	s.Equal([]string{"name", "dob"}, got.Scope)
	s.Equal(2*time.Hour, got.Duration)
	s.Equal(consent.StatusPending, got.Status)

	_, err = s.store.Get(ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresConsentSuite) TestApproveFlipsOnce() {
	ctx := context.Background()
	request := &consent.PendingRequest{
		ID:          "req-1",
		Fingerprint: digest("identity"),
		CompanyID:   "acme-corp",
		Scope:       []string{"name"},
		Duration:    time.Hour,
		Status:      consent.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	s.Require().NoError(s.store.Create(ctx, request))

	at := time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.store.Approve(ctx, "req-1", at))
	s.ErrorIs(s.store.Approve(ctx, "req-1", at), sentinel.ErrInvalidState)
	s.ErrorIs(s.store.Approve(ctx, "missing", at), sentinel.ErrNotFound)

	got, err := s.store.Get(ctx, "req-1")
	s.Require().NoError(err)
	s.Equal(consent.StatusApproved, got.Status)
	s.Require().NotNil(got.ApprovedAt)
	s.True(got.ApprovedAt.Equal(at))
}
