package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haukened/handlegate/internal/claims/domain"
)

// uniqueViolation is the SQLSTATE for a violated unique constraint.
const uniqueViolation = "23505"

// Schema creates the claims table. The UNIQUE constraint on identifier is
// the only thing that arbitrates concurrent claims.
const Schema = `
CREATE TABLE IF NOT EXISTS claims (
	id             UUID PRIMARY KEY,
	identifier     TEXT NOT NULL,
	display        TEXT NOT NULL,
	owner          TEXT NOT NULL DEFAULT '',
	claimed_at     TIMESTAMPTZ NOT NULL,
	last_active_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT claims_identifier_key UNIQUE (identifier)
);
CREATE INDEX IF NOT EXISTS claims_last_active_at_idx ON claims (last_active_at);
`

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL authoritative store.
type Store struct {
	db DB
}

// New constructs a Store over db.
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pgx pool for url and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return pool, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate claims schema: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM claims WHERE identifier = $1)`, token).Scan(&exists)
	if err != nil {
		return false, unavailable("exists", err)
	}
	return exists, nil
}

// Insert writes c. A unique violation on identifier is reported as
// domain.ErrConflict.
func (s *Store) Insert(ctx context.Context, c domain.Claim) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO claims (id, identifier, display, owner, claimed_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Identifier, c.Display, c.Owner, c.ClaimedAt, c.LastActiveAt)
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrConflict
	}
	return unavailable("insert", err)
}

// Touch sets last_active_at for token. It returns domain.ErrNotFound when
// no row matches.
func (s *Store) Touch(ctx context.Context, token string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE claims SET last_active_at = $2 WHERE identifier = $1`, token, at.UTC())
	if err != nil {
		return unavailable("touch", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// StreamAll visits every identifier. Rows are read from the server cursor
// one at a time; the result set is never materialized.
func (s *Store) StreamAll(ctx context.Context, visit func(token string) error) error {
	return s.stream(ctx, visit, `SELECT identifier FROM claims`)
}

// StreamActiveSince visits identifiers active at or after since, oldest first.
func (s *Store) StreamActiveSince(ctx context.Context, since time.Time, visit func(token string) error) error {
	return s.stream(ctx, visit, `
		SELECT identifier FROM claims
		WHERE last_active_at >= $1
		ORDER BY last_active_at`, since)
}

func (s *Store) stream(ctx context.Context, visit func(string) error, sql string, args ...any) error {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return unavailable("stream", err)
	}
	defer rows.Close()

	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return unavailable("stream scan", err)
		}
		if err := visit(token); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return unavailable("stream", err)
	}
	return nil
}

// Close is a no-op; the pool lifecycle is owned by the caller.
func (s *Store) Close() error { return nil }

func unavailable(op string, err error) error {
	return fmt.Errorf("postgres %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
