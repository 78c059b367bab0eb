package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"vface/internal/matcher"
	"vface/pkg/platform/sentinel"
	txcontext "vface/pkg/platform/tx"
)

// PostgresStore persists identity records in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE identities (
//	    seq              BIGSERIAL,
//	    fingerprint      TEXT PRIMARY KEY,
//	    owner_key        TEXT NOT NULL,
//	    encrypted_vector TEXT,
//	    commitment       TEXT NOT NULL,
//	    commitment_nonce TEXT NOT NULL,
//	    key_version      INT NOT NULL,
//	    chain_index      BIGINT,
//	    chain_signature  TEXT,
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    revoked          BOOLEAN NOT NULL DEFAULT FALSE,
//	    revoked_at       TIMESTAMPTZ,
//	    metadata         JSONB
//	);
//	CREATE INDEX identities_owner_key_idx ON identities (owner_key);
//
//	CREATE TABLE proof_nonces (
//	    nonce      TEXT PRIMARY KEY,
//	    expires_at TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed registry store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) q(ctx context.Context) executor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Insert(ctx context.Context, record *Record) error {
	metadata, err := marshalMetadata(record.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO identities
			(fingerprint, owner_key, encrypted_vector, commitment, commitment_nonce,
			 key_version, created_at, revoked, metadata)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, FALSE, $8)
	`
	_, err = s.q(ctx).ExecContext(ctx, query,
		record.Fingerprint, record.OwnerKey, record.EncryptedVector,
		record.Commitment, record.CommitmentNonce, record.KeyVersion,
		record.CreatedAt, metadata,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("%w: fingerprint %s", sentinel.ErrConflict, record.Fingerprint)
	}
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, fp string) (*Record, error) {
	query := `
		SELECT fingerprint, owner_key, COALESCE(encrypted_vector, ''), commitment,
		       commitment_nonce, key_version, COALESCE(chain_index, 0),
		       COALESCE(chain_signature, ''), created_at, revoked, revoked_at, metadata
		FROM identities WHERE fingerprint = $1
	`
	row := s.q(ctx).QueryRowContext(ctx, query, fp)

	var record Record
	var revokedAt sql.NullTime
	var metadata []byte
	err := row.Scan(&record.Fingerprint, &record.OwnerKey, &record.EncryptedVector,
		&record.Commitment, &record.CommitmentNonce, &record.KeyVersion,
		&record.ChainIndex, &record.ChainSignature, &record.CreatedAt,
		&record.Revoked, &revokedAt, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	if revokedAt.Valid {
		record.RevokedAt = &revokedAt.Time
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return nil, fmt.Errorf("decode identity metadata: %w", err)
		}
	}
	return &record, nil
}

func (s *PostgresStore) SetChainRef(ctx context.Context, fp string, chainIndex int64, chainSignature string) error {
	query := `UPDATE identities SET chain_index = $2, chain_signature = $3 WHERE fingerprint = $1`
	result, err := s.q(ctx).ExecContext(ctx, query, fp, chainIndex, chainSignature)
	if err != nil {
		return fmt.Errorf("set chain ref: %w", err)
	}
	return requireRow(result, sentinel.ErrNotFound)
}

func (s *PostgresStore) MarkRevoked(ctx context.Context, fp string, at time.Time) error {
	query := `
		UPDATE identities SET revoked = TRUE, revoked_at = $2
		WHERE fingerprint = $1 AND revoked = FALSE
	`
	result, err := s.q(ctx).ExecContext(ctx, query, fp, at)
	if err != nil {
		return fmt.Errorf("mark revoked: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark revoked: %w", err)
	}
	if affected == 0 {
		// Distinguish missing from already-revoked for the service layer.
		if _, err := s.Get(ctx, fp); errors.Is(err, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerKey string) ([]string, error) {
	query := `SELECT fingerprint FROM identities WHERE owner_key = $1 ORDER BY seq`
	rows, err := s.q(ctx).QueryContext(ctx, query, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("list by owner: %w", err)
	}
	defer rows.Close()

	var fingerprints []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		fingerprints = append(fingerprints, fp)
	}
	return fingerprints, rows.Err()
}

func (s *PostgresStore) ListActiveVectors(ctx context.Context) ([]matcher.StoredVector, error) {
	query := `
		SELECT fingerprint, owner_key, encrypted_vector
		FROM identities
		WHERE revoked = FALSE AND encrypted_vector IS NOT NULL
		ORDER BY seq
	`
	rows, err := s.q(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active vectors: %w", err)
	}
	defer rows.Close()

	var vectors []matcher.StoredVector
	for rows.Next() {
		var v matcher.StoredVector
		if err := rows.Scan(&v.Fingerprint, &v.OwnerKey, &v.EncryptedVector); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		vectors = append(vectors, v)
	}
	return vectors, rows.Err()
}

func (s *PostgresStore) ListWithVectors(ctx context.Context) ([]*Record, error) {
	query := `
		SELECT fingerprint, owner_key, encrypted_vector, commitment, commitment_nonce, key_version
		FROM identities WHERE encrypted_vector IS NOT NULL ORDER BY seq
	`
	rows, err := s.q(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list with vectors: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Fingerprint, &r.OwnerKey, &r.EncryptedVector,
			&r.Commitment, &r.CommitmentNonce, &r.KeyVersion); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) ApplyEncryptionUpdates(ctx context.Context, updates []EncryptionUpdate) error {
	// Callers wrap this in a transaction (pkg/platform/tx.Run); each update
	// joins it through the context so the batch is all-or-none.
	for _, u := range updates {
		query := `
			UPDATE identities SET encrypted_vector = $2, commitment = $3, key_version = $4
			WHERE fingerprint = $1
		`
		result, err := s.q(ctx).ExecContext(ctx, query, u.Fingerprint, u.EncryptedVector, u.Commitment, u.KeyVersion)
		if err != nil {
			return fmt.Errorf("apply encryption update for %s: %w", u.Fingerprint, err)
		}
		if err := requireRow(result, sentinel.ErrNotFound); err != nil {
			return fmt.Errorf("apply encryption update for %s: %w", u.Fingerprint, err)
		}
	}
	return nil
}

// PostgresNonceStore persists consumed proof nonces.
type PostgresNonceStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresNonceStore constructs a PostgreSQL-backed nonce store.
func NewPostgresNonceStore(db *sql.DB) *PostgresNonceStore {
	return &PostgresNonceStore{db: db, now: time.Now}
}

func (s *PostgresNonceStore) q(ctx context.Context) executor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresNonceStore) Consume(ctx context.Context, nonce string, ttl time.Duration) error {
	now := s.now()
	// Expired rows may be overwritten; a live row means replay.
	query := `
		INSERT INTO proof_nonces (nonce, expires_at) VALUES ($1, $2)
		ON CONFLICT (nonce) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE proof_nonces.expires_at <= $3
	`
	result, err := s.q(ctx).ExecContext(ctx, query, nonce, now.Add(ttl), now)
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func requireRow(result sql.Result, missing error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return missing
	}
	return nil
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode identity metadata: %w", err)
	}
	return b, nil
}
