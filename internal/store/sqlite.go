// ABOUTME: SQLite implementation of the Invite Ledger using modernc.org/sqlite
// ABOUTME: Default ledger; schema is created automatically on open

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements InviteStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each :memory: connection is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS invites (
			email      TEXT PRIMARY KEY,
			status     TEXT,
			note       TEXT,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_invites_expires ON invites(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// UpsertInvite inserts the record or overwrites every column of an existing one.
func (s *SQLiteStore) UpsertInvite(ctx context.Context, record *InviteRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO invites (email, status, note, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			status     = excluded.status,
			note       = excluded.note,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`

	_, err := s.db.ExecContext(ctx, query,
		record.Email,
		nullString(string(record.Status)),
		record.Note,
		formatTime(record.CreatedAt),
		formatTime(record.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("upserting invite: %w", err)
	}

	s.logger.Debug("upserted invite", "email", record.Email)
	return nil
}

// GetInvite retrieves an invite by exact email.
func (s *SQLiteStore) GetInvite(ctx context.Context, email string) (*InviteRecord, error) {
	query := `
		SELECT email, status, note, created_at, expires_at
		FROM invites
		WHERE email = ?
	`

	var (
		record               InviteRecord
		status, note         sql.NullString
		createdAt, expiresAt string
	)
	err := s.db.QueryRowContext(ctx, query, email).Scan(&record.Email, &status, &note, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying invite: %w", err)
	}

	record.Status = InviteStatus(status.String)
	if note.Valid {
		n := note.String
		record.Note = &n
	}
	if record.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if record.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	return &record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
