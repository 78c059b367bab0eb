//go:build integration

package chain_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/suite"

	"vface/internal/chain"
	"vface/pkg/platform/sentinel"
	"vface/pkg/testutil/containers"
)

const chainSchema = `
CREATE TABLE chain_entries (
    index       BIGINT PRIMARY KEY,
    commitment  TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    ts          BIGINT NOT NULL,
    prev_hash   TEXT NOT NULL,
    entry_hash  TEXT NOT NULL,
    signature   TEXT NOT NULL
)`

type PostgresChainSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *chain.PostgresStore
}

func TestPostgresChainSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresChainSuite))
}

func (s *PostgresChainSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T(), chainSchema)
	s.store = chain.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresChainSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "chain_entries"))
}

func (s *PostgresChainSuite) entry(index int64) chain.Entry {
	return chain.Entry{
		Index:       index,
		Commitment:  "commitment",
		Fingerprint: "fingerprint",
		Timestamp:   1717243200000000000 + index,
		PrevHash:    "prev",
		EntryHash:   "hash",
		Signature:   "sig",
	}
}

func (s *PostgresChainSuite) TestAppendAndRead() {
	ctx := context.Background()

	_, err := s.store.Latest(ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)

	for i := int64(1); i <= 3; i++ {
		s.Require().NoError(s.store.Append(ctx, s.entry(i)))
	}

	latest, err := s.store.Latest(ctx)
	s.Require().NoError(err)
	s.Equal(int64(3), latest.Index)

	got, err := s.store.Get(ctx, 2)
	s.Require().NoError(err)
	s.Equal(int64(2), got.Index)

	count, err := s.store.Count(ctx)
	s.Require().NoError(err)
	s.Equal(int64(3), count)

	entries, err := s.store.Range(ctx, 1, 3)
	s.Require().NoError(err)
	s.Len(entries, 3)

	_, err = s.store.Range(ctx, 2, 5)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresChainSuite) TestDuplicateIndexConflicts() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, s.entry(1)))
	s.ErrorIs(s.store.Append(ctx, s.entry(1)), sentinel.ErrConflict)
}

func (s *PostgresChainSuite) TestEngineOverPostgres() {
	ctx := context.Background()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	engine := chain.NewEngine(s.store, key, "integration-genesis", nil)

	for i := 0; i < 5; i++ {
		_, err := engine.Append(ctx, "commitment", "fingerprint")
		s.Require().NoError(err)
	}

	result, err := engine.Verify(ctx, 0, 0)
	s.Require().NoError(err)
	s.True(result.Valid)
	s.Equal(int64(5), result.Checked)
}
