// Package store is the Postgres-backed primary address store: every
// address the system has ever probed, used by the retry/backfill
// driver to find addresses seen only through the cache.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"mailprobe/internal/errtag"
)

// Store wraps a *sql.DB opened against the "emails" table.
type Store struct {
	db *sql.DB
}

// Open connects to the Postgres instance at dbURL and verifies the
// connection with a Ping.
func Open(dbURL string) (*Store, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", errtag.ErrInternal, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", errtag.ErrInternal, err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open *sql.DB, for tests that inject a fake
// driver or connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the emails table if it does not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS emails (
			address       TEXT PRIMARY KEY,
			processed     BOOLEAN NOT NULL DEFAULT false,
			validated_at  TIMESTAMPTZ
		)
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", errtag.ErrInternal, err)
	}
	return nil
}

// Exists reports whether address has ever been recorded.
func (s *Store) Exists(ctx context.Context, address string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM emails WHERE address = $1)`, address).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", errtag.ErrInternal, address, err)
	}
	return exists, nil
}

// Insert records address as seen but not yet validated. It is a
// no-op if the address is already present.
func (s *Store) Insert(ctx context.Context, address string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emails (address, processed) VALUES ($1, false) ON CONFLICT (address) DO NOTHING`,
		address)
	if err != nil {
		return fmt.Errorf("%w: insert %s: %v", errtag.ErrInternal, address, err)
	}
	return nil
}

// MarkValidated flags address as processed and stamps validatedAt.
func (s *Store) MarkValidated(ctx context.Context, address string, validatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE emails SET processed = true, validated_at = $2 WHERE address = $1`,
		address, validatedAt)
	if err != nil {
		return fmt.Errorf("%w: mark validated %s: %v", errtag.ErrInternal, address, err)
	}
	return nil
}

// UpdateJobStatus writes the outcome of one queued job into the
// EmailCheck job-tracking table, carried forward from the teacher's
// worker unchanged in shape.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID, address, status string, smtpCode int, bounceReason string) error {
	const query = `
		UPDATE "EmailCheck"
		SET status = $1,
		    "smtpCode" = $2,
		    "bounceReason" = $3
		WHERE "jobId" = $4 AND email = $5
	`
	_, err := s.db.ExecContext(ctx, query, status, smtpCode, bounceReason, jobID, address)
	if err != nil {
		return fmt.Errorf("%w: update job status for %s: %v", errtag.ErrInternal, address, err)
	}
	return nil
}
