// Package postgres provides a PostgreSQL-backed [calllog.Store].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxcall/internal/calllog"
)

var _ calllog.Store = (*Store)(nil)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id          UUID         PRIMARY KEY,
    peer_id     TEXT         NOT NULL,
    peer_name   TEXT         NOT NULL DEFAULT '',
    direction   TEXT         NOT NULL,
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL,
    end_reason  TEXT         NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calls_ended_at
    ON calls (ended_at DESC);

CREATE INDEX IF NOT EXISTS idx_calls_peer_id
    ON calls (peer_id);
`

// Migrate creates the calls table if needed. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlCalls); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store writes call records to PostgreSQL. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Record implements [calllog.Store].
func (s *Store) Record(ctx context.Context, r calllog.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}

	const q = `
		INSERT INTO calls
		    (id, peer_id, peer_name, direction, started_at, ended_at, end_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, q,
		r.ID,
		r.PeerID,
		r.PeerName,
		string(r.Direction),
		r.StartedAt,
		r.EndedAt,
		string(r.EndReason),
	)
	if err != nil {
		return fmt.Errorf("call log: record: %w", err)
	}
	return nil
}

// Recent implements [calllog.Store].
func (s *Store) Recent(ctx context.Context, n int) ([]calllog.Record, error) {
	const q = `
		SELECT id, peer_id, peer_name, direction, started_at, ended_at, end_reason
		FROM   calls
		ORDER  BY ended_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, max(n, 0))
	if err != nil {
		return nil, fmt.Errorf("call log: recent: %w", err)
	}
	return collectRecords(rows)
}

// collectRecords scans pgx rows into call records.
func collectRecords(rows pgx.Rows) ([]calllog.Record, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (calllog.Record, error) {
		var (
			r         calllog.Record
			direction string
			reason    string
		)
		err := row.Scan(&r.ID, &r.PeerID, &r.PeerName, &direction, &r.StartedAt, &r.EndedAt, &reason)
		r.Direction = calllog.Direction(direction)
		r.EndReason = calllog.EndReason(reason)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("call log: scan: %w", err)
	}
	return out, nil
}
