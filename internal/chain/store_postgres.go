package chain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"vface/pkg/platform/sentinel"
	txcontext "vface/pkg/platform/tx"
)

// PostgresStore persists chain entries in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE chain_entries (
//	    index       BIGINT PRIMARY KEY,
//	    commitment  TEXT NOT NULL,
//	    fingerprint TEXT NOT NULL,
//	    ts          BIGINT NOT NULL,
//	    prev_hash   TEXT NOT NULL,
//	    entry_hash  TEXT NOT NULL,
//	    signature   TEXT NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed chain store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO chain_entries (index, commitment, fingerprint, ts, prev_hash, entry_hash, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		entry.Index, entry.Commitment, entry.Fingerprint,
		entry.Timestamp, entry.PrevHash, entry.EntryHash, entry.Signature,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("%w: index %d already written", sentinel.ErrConflict, entry.Index)
	}
	if err != nil {
		return fmt.Errorf("append chain entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context) (*Entry, error) {
	query := `
		SELECT index, commitment, fingerprint, ts, prev_hash, entry_hash, signature
		FROM chain_entries ORDER BY index DESC LIMIT 1
	`
	return s.scanOne(s.q(ctx).QueryRowContext(ctx, query))
}

func (s *PostgresStore) Get(ctx context.Context, index int64) (*Entry, error) {
	query := `
		SELECT index, commitment, fingerprint, ts, prev_hash, entry_hash, signature
		FROM chain_entries WHERE index = $1
	`
	return s.scanOne(s.q(ctx).QueryRowContext(ctx, query, index))
}

func (s *PostgresStore) Range(ctx context.Context, from, to int64) ([]Entry, error) {
	query := `
		SELECT index, commitment, fingerprint, ts, prev_hash, entry_hash, signature
		FROM chain_entries WHERE index BETWEEN $1 AND $2 ORDER BY index
	`
	rows, err := s.q(ctx).QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("range chain entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Index, &e.Commitment, &e.Fingerprint, &e.Timestamp, &e.PrevHash, &e.EntryHash, &e.Signature); err != nil {
			return nil, fmt.Errorf("scan chain entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("range chain entries: %w", err)
	}
	if int64(len(entries)) != to-from+1 {
		return nil, sentinel.ErrNotFound
	}
	return entries, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM chain_entries`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chain entries: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) scanOne(row *sql.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.Index, &e.Commitment, &e.Fingerprint, &e.Timestamp, &e.PrevHash, &e.EntryHash, &e.Signature)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chain entry: %w", err)
	}
	return &e, nil
}
