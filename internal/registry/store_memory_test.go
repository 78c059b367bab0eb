package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vface/internal/registry"
	"vface/pkg/platform/sentinel"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()

	newRecord := func(seed string) *registry.Record {
		return &registry.Record{
			Fingerprint:     hexDigest(seed),
			OwnerKey:        "owner-" + seed,
			EncryptedVector: "v1:aa:bb:cc",
			Commitment:      "commitment-" + seed,
			CommitmentNonce: "nonce-" + seed,
			KeyVersion:      1,
			CreatedAt:       time.Now().UTC(),
		}
	}

	t.Run("insert rejects duplicates", func(t *testing.T) {
		store := registry.NewInMemoryStore()
		record := newRecord("a")
		require.NoError(t, store.Insert(ctx, record))
		assert.ErrorIs(t, store.Insert(ctx, record), sentinel.ErrConflict)
	})

	t.Run("get clones the stored record", func(t *testing.T) {
		store := registry.NewInMemoryStore()
		require.NoError(t, store.Insert(ctx, newRecord("a")))

		got, err := store.Get(ctx, hexDigest("a"))
		require.NoError(t, err)
		got.OwnerKey = "mutated"

		again, err := store.Get(ctx, hexDigest("a"))
		require.NoError(t, err)
		assert.Equal(t, "owner-a", again.OwnerKey)
	})

	t.Run("get unknown fingerprint", func(t *testing.T) {
		store := registry.NewInMemoryStore()
		_, err := store.Get(ctx, hexDigest("missing"))
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("mark revoked is one way", func(t *testing.T) {
		store := registry.NewInMemoryStore()
		require.NoError(t, store.Insert(ctx, newRecord("a")))

		at := time.Now().UTC()
		require.NoError(t, store.MarkRevoked(ctx, hexDigest("a"), at))
		assert.ErrorIs(t, store.MarkRevoked(ctx, hexDigest("a"), at), sentinel.ErrInvalidState)
		assert.ErrorIs(t, store.MarkRevoked(ctx, hexDigest("b"), at), sentinel.ErrNotFound)

		got, err := store.Get(ctx, hexDigest("a"))
		require.NoError(t, err)
		assert.True(t, got.Revoked)
		require.NotNil(t, got.RevokedAt)
		assert.Equal(t, at, *got.RevokedAt)
	})

	t.Run("active vectors preserve insertion order and skip revoked", func(t *testing.T) {
		store := registry.NewInMemoryStore()
		for _, seed := range []string{"c", "a", "b"} {
			require.NoError(t, store.Insert(ctx, newRecord(seed)))
		}
		require.NoError(t, store.MarkRevoked(ctx, hexDigest("a"), time.Now()))

		rows, err := store.ListActiveVectors(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, hexDigest("c"), rows[0].Fingerprint)
		assert.Equal(t, hexDigest("b"), rows[1].Fingerprint)
	})

	t.Run("encryption updates apply all or nothing", func(t *testing.T) {
		store := registry.NewInMemoryStore()
		require.NoError(t, store.Insert(ctx, newRecord("a")))

		updates := []registry.EncryptionUpdate{
			{Fingerprint: hexDigest("a"), EncryptedVector: "v2:dd:ee:ff", Commitment: "c2", KeyVersion: 2},
			{Fingerprint: hexDigest("ghost"), EncryptedVector: "v2:11:22:33", Commitment: "c3", KeyVersion: 2},
		}
		require.ErrorIs(t, store.ApplyEncryptionUpdates(ctx, updates), sentinel.ErrNotFound)

		got, err := store.Get(ctx, hexDigest("a"))
		require.NoError(t, err)
		assert.Equal(t, "v1:aa:bb:cc", got.EncryptedVector)
		assert.Equal(t, 1, got.KeyVersion)

		require.NoError(t, store.ApplyEncryptionUpdates(ctx, updates[:1]))
		got, err = store.Get(ctx, hexDigest("a"))
		require.NoError(t, err)
		assert.Equal(t, "v2:dd:ee:ff", got.EncryptedVector)
		assert.Equal(t, 2, got.KeyVersion)
	})
}

func TestInMemoryNonceStore(t *testing.T) {
	ctx := context.Background()

	t.Run("nonce is single use within its ttl", func(t *testing.T) {
		store := registry.NewInMemoryNonceStore()
		require.NoError(t, store.Consume(ctx, "n1", time.Minute))
		assert.ErrorIs(t, store.Consume(ctx, "n1", time.Minute), sentinel.ErrAlreadyUsed)
		require.NoError(t, store.Consume(ctx, "n2", time.Minute))
	})

	t.Run("expired nonce may be consumed again", func(t *testing.T) {
		store := registry.NewInMemoryNonceStore()
		require.NoError(t, store.Consume(ctx, "n1", time.Nanosecond))
		time.Sleep(time.Millisecond)
		assert.NoError(t, store.Consume(ctx, "n1", time.Minute))
	})
}
