package chain

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	domainerrors "vface/pkg/domain-errors"
)

type EngineSuite struct {
	suite.Suite
	store  *InMemoryStore
	engine *Engine
	ctx    context.Context
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	s.store = NewInMemoryStore()
	s.engine = NewEngine(s.store, priv, "test-genesis", nil)
	s.ctx = context.Background()
}

func (s *EngineSuite) appendN(n int) []*Entry {
	entries := make([]*Entry, 0, n)
	for i := 1; i <= n; i++ {
		entry, err := s.engine.Append(s.ctx, fmt.Sprintf("commitment-%d", i), fmt.Sprintf("%064d", i))
		s.Require().NoError(err)
		entries = append(entries, entry)
	}
	return entries
}

func (s *EngineSuite) TestAppendLinksEntries() {
	entries := s.appendN(3)

	s.Equal(int64(1), entries[0].Index)
	s.Equal(GenesisHash("test-genesis"), entries[0].PrevHash)
	s.Equal(entries[0].EntryHash, entries[1].PrevHash)
	s.Equal(entries[1].EntryHash, entries[2].PrevHash)

	for _, e := range entries {
		s.Equal(HashEntry(e.Index, e.Commitment, e.Fingerprint, e.Timestamp, e.PrevHash), e.EntryHash)
	}
}

func (s *EngineSuite) TestVerifyIntactChain() {
	s.appendN(5)

	result, err := s.engine.Verify(s.ctx, 1, 5)
	s.Require().NoError(err)
	s.True(result.Valid)
	s.Equal(int64(5), result.Checked)
	s.Zero(result.BrokenAt)
}

func (s *EngineSuite) TestVerifyEmptyChain() {
	result, err := s.engine.Verify(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.True(result.Valid)
	s.Zero(result.Checked)
}

func (s *EngineSuite) TestVerifyDetectsTampering() {
	cases := []struct {
		name   string
		mutate func(*Entry)
	}{
		{"commitment", func(e *Entry) { e.Commitment = "forged" }},
		{"fingerprint", func(e *Entry) { e.Fingerprint = "forged" }},
		{"timestamp", func(e *Entry) { e.Timestamp++ }},
		{"entry hash", func(e *Entry) { e.EntryHash = GenesisHash("forged") }},
		{"prev hash", func(e *Entry) { e.PrevHash = GenesisHash("forged") }},
		{"signature", func(e *Entry) { e.Signature = "00" + e.Signature[2:] }},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.SetupTest()
			s.appendN(5)

			s.Require().NoError(s.store.Tamper(3, tc.mutate))

			result, err := s.engine.Verify(s.ctx, 1, 5)
			s.Require().NoError(err)
			s.False(result.Valid)
			s.Equal(int64(3), result.BrokenAt)
			s.NotEmpty(result.Error)
		})
	}
}

func (s *EngineSuite) TestVerifySubRange() {
	s.appendN(5)

	result, err := s.engine.Verify(s.ctx, 3, 5)
	s.Require().NoError(err)
	s.True(result.Valid)
	s.Equal(int64(3), result.Checked)

	// A sub-range check still validates linkage into its predecessor.
	s.Require().NoError(s.store.Tamper(3, func(e *Entry) { e.PrevHash = GenesisHash("x") }))
	result, err = s.engine.Verify(s.ctx, 3, 5)
	s.Require().NoError(err)
	s.False(result.Valid)
	s.Equal(int64(3), result.BrokenAt)
}

func (s *EngineSuite) TestVerifyRejectsBadRange() {
	s.appendN(2)

	_, err := s.engine.Verify(s.ctx, 2, 1)
	s.True(domainerrors.Is(err, domainerrors.CodeValidation))

	_, err = s.engine.Verify(s.ctx, 1, 10)
	s.True(domainerrors.Is(err, domainerrors.CodeValidation))
}

func (s *EngineSuite) TestRootInfo() {
	s.Run("empty chain reports genesis", func() {
		root, err := s.engine.RootInfo(s.ctx)
		s.Require().NoError(err)
		s.True(root.Genesis)
		s.Equal(GenesisHash("test-genesis"), root.Root)
		s.Zero(root.TotalEntries)
	})

	s.Run("populated chain reports tail", func() {
		entries := s.appendN(3)
		root, err := s.engine.RootInfo(s.ctx)
		s.Require().NoError(err)
		s.False(root.Genesis)
		s.Equal(entries[2].EntryHash, root.Root)
		s.Equal(int64(3), root.Index)
		s.Equal(int64(3), root.TotalEntries)
	})
}

func (s *EngineSuite) TestEntryLookup() {
	entries := s.appendN(2)

	entry, err := s.engine.Entry(s.ctx, 2)
	s.Require().NoError(err)
	s.Equal(entries[1].EntryHash, entry.EntryHash)

	_, err = s.engine.Entry(s.ctx, 99)
	s.True(domainerrors.Is(err, domainerrors.CodeNotFound))

	_, err = s.engine.Entry(s.ctx, 0)
	s.True(domainerrors.Is(err, domainerrors.CodeValidation))
}

func (s *EngineSuite) TestExportSnapshot() {
	entries := s.appendN(3)

	snapshot, err := s.engine.ExportSnapshot(s.ctx)
	s.Require().NoError(err)
	s.Len(snapshot.Entries, 3)
	s.Equal(entries[2].EntryHash, snapshot.Root)
	s.Equal(int64(3), snapshot.TotalEntries)
	s.Equal(s.engine.PublicKeyHex(), snapshot.PublicKey)
	s.Equal(GenesisHash("test-genesis"), snapshot.Genesis)
}

func (s *EngineSuite) TestConcurrentAppendsGetUniqueIndexes() {
	const workers = 16

	var wg sync.WaitGroup
	indexes := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := s.engine.Append(s.ctx, fmt.Sprintf("c-%d", i), fmt.Sprintf("%064d", i))
			if err == nil {
				indexes <- entry.Index
			}
		}(i)
	}
	wg.Wait()
	close(indexes)

	seen := make(map[int64]bool)
	for idx := range indexes {
		s.False(seen[idx], "duplicate index %d", idx)
		seen[idx] = true
	}
	s.Len(seen, workers)

	result, err := s.engine.Verify(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.True(result.Valid)
	s.Equal(int64(workers), result.Checked)
}
