package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS zkauth_session_records (
	name       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at TIMESTAMPTZ
)`

// PostgresStore is a Postgres implementation of the Backend interface.
// The pool is owned by the caller.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new Postgres store and ensures its table exists
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("postgres store: nil pool")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to create session table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

var _ ports.Backend = (*PostgresStore)(nil)

func (s *PostgresStore) Name() string { return "postgres" }

// Get retrieves a non-expired record
func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM zkauth_session_records
		WHERE name = $1 AND (expires_at IS NULL OR expires_at > now())`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", core.ErrSessionNotFound
		}
		return "", fmt.Errorf("failed to read session record: %w", err)
	}
	return value, nil
}

// Set upserts a record with expiration
func (s *PostgresStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl).UTC()
		expiresAt = &t
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO zkauth_session_records (name, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}
	return nil
}

// Delete removes a record
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM zkauth_session_records WHERE name = $1`, key); err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}
