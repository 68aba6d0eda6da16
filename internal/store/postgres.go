// ABOUTME: PostgreSQL implementation of the Invite Ledger using pgx
// ABOUTME: Same table shape as SQLite with native timestamptz columns

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements InviteStore on a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to dsn, pings, and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: slog.Default().With("component", "store")}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("Postgres store initialized", "host", config.ConnConfig.Host, "database", config.ConnConfig.Database)
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS invites (
			email      TEXT PRIMARY KEY,
			status     TEXT,
			note       TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			CHECK (expires_at > created_at)
		)
	`)
	return err
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	s.pool.Close()
	return nil
}

// UpsertInvite inserts the record or overwrites every column of an existing one.
func (s *PostgresStore) UpsertInvite(ctx context.Context, record *InviteRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	var status *string
	if record.Status != "" {
		st := string(record.Status)
		status = &st
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO invites (email, status, note, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET
			status     = EXCLUDED.status,
			note       = EXCLUDED.note,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`, record.Email, status, record.Note, record.CreatedAt.UTC(), record.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting invite: %w", err)
	}
	return nil
}

// GetInvite retrieves an invite by exact email.
func (s *PostgresStore) GetInvite(ctx context.Context, email string) (*InviteRecord, error) {
	var (
		record InviteRecord
		status *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT email, status, note, created_at, expires_at
		FROM invites
		WHERE email = $1
	`, email).Scan(&record.Email, &status, &record.Note, &record.CreatedAt, &record.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying invite: %w", err)
	}

	if status != nil {
		record.Status = InviteStatus(*status)
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	return &record, nil
}
