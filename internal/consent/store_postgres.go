package consent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"vface/pkg/platform/sentinel"
	txcontext "vface/pkg/platform/tx"
)

// PostgresStore persists consent requests in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE consent_requests (
//	    id               TEXT PRIMARY KEY,
//	    fingerprint      TEXT NOT NULL,
//	    company_id       TEXT NOT NULL,
//	    scope            TEXT[] NOT NULL,
//	    duration_seconds BIGINT NOT NULL,
//	    status           TEXT NOT NULL,
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    approved_at      TIMESTAMPTZ
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed consent store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) q(ctx context.Context) executor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, request *PendingRequest) error {
	query := `
		INSERT INTO consent_requests
			(id, fingerprint, company_id, scope, duration_seconds, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		request.ID, request.Fingerprint, request.CompanyID,
		pq.Array(request.Scope), int64(request.Duration/time.Second),
		request.Status, request.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("%w: request %s", sentinel.ErrConflict, request.ID)
	}
	if err != nil {
		return fmt.Errorf("create consent request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*PendingRequest, error) {
	query := `
		SELECT id, fingerprint, company_id, scope, duration_seconds, status, created_at, approved_at
		FROM consent_requests WHERE id = $1
	`
	row := s.q(ctx).QueryRowContext(ctx, query, id)

	var request PendingRequest
	var durationSeconds int64
	var approvedAt sql.NullTime
	err := row.Scan(&request.ID, &request.Fingerprint, &request.CompanyID,
		pq.Array(&request.Scope), &durationSeconds, &request.Status,
		&request.CreatedAt, &approvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get consent request: %w", err)
	}
	request.Duration = time.Duration(durationSeconds) * time.Second
	if approvedAt.Valid {
		request.ApprovedAt = &approvedAt.Time
	}
	return &request, nil
}

func (s *PostgresStore) Approve(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE consent_requests SET status = $2, approved_at = $3
		WHERE id = $1 AND status = $4
	`
	result, err := s.q(ctx).ExecContext(ctx, query, id, StatusApproved, at, StatusPending)
	if err != nil {
		return fmt.Errorf("approve consent request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve consent request: %w", err)
	}
	if affected == 0 {
		if _, err := s.Get(ctx, id); errors.Is(err, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}
