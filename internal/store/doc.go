// Package store provides the Invite Ledger: persistent invitation records
// keyed by recipient email.
//
// # Backends
//
// InviteStore has four implementations, selected by Open:
//
//   - SQLiteStore: default, a single file with WAL mode (modernc.org/sqlite)
//   - PostgresStore: pgx connection pool
//   - RedisStore: one hash per invite under invite:<email>
//   - MockStore: in-memory, used by tests and the memory driver
//
// # Semantics
//
// UpsertInvite overwrites every field of an existing record; nothing from the
// previous record survives. GetInvite is an exact-key lookup with no case
// folding and returns ErrNotFound for unknown emails.
//
// Records must satisfy ExpiresAt > CreatedAt; writes that violate this fail
// with ErrInvalidInvite. Status is free-form and may be empty.
//
// Timestamps are stored as UTC RFC 3339 strings (SQLite, Redis) or
// timestamptz (Postgres).
//
// # Testing
//
// Use NewMockStore() for unit tests, NewSQLiteStore(t.TempDir()+"/x.db") for
// real SQL, and miniredis for the Redis store.
package store
