// ABOUTME: Invite Ledger contract and record types
// ABOUTME: Records are keyed by recipient email; upsert overwrites, get is exact-key lookup

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidInvite is returned when a record violates the ledger invariants
var ErrInvalidInvite = errors.New("invalid invite record")

// InviteStatus is the lifecycle state of an invitation.
// The ledger stores any string; the empty status means the field is absent.
type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusAccepted InviteStatus = "accepted"
)

// InviteRecord is one invitation, keyed by recipient email.
type InviteRecord struct {
	Email     string
	Status    InviteStatus
	Note      *string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Validate checks the record invariants: a key and expiry after creation.
func (r *InviteRecord) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInvite)
	}
	if !r.ExpiresAt.After(r.CreatedAt) {
		return fmt.Errorf("%w: expires_at must be after created_at", ErrInvalidInvite)
	}
	return nil
}

// InviteStore is the Invite Ledger.
type InviteStore interface {
	// UpsertInvite writes record under its email, replacing any prior record entirely.
	UpsertInvite(ctx context.Context, record *InviteRecord) error

	// GetInvite returns the record stored under email, or ErrNotFound.
	GetInvite(ctx context.Context, email string) (*InviteRecord, error)

	// Close releases the underlying connection.
	Close() error
}

// Supported ledger drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Open creates the InviteStore for driver. dsn is a file path for sqlite,
// a connection string for postgres, and an address or redis:// URL for redis.
func Open(ctx context.Context, driver, dsn string) (InviteStore, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteStore(dsn)
	case DriverPostgres:
		return NewPostgresStore(ctx, dsn)
	case DriverRedis:
		return NewRedisStore(ctx, dsn)
	case DriverMemory:
		return NewMockStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
