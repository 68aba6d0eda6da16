// ABOUTME: In-memory Invite Ledger for tests and the memory driver
// ABOUTME: Copies records on the way in and out so callers cannot mutate stored state

package store

import (
	"context"
	"sync"
)

// MockStore is an in-memory InviteStore.
type MockStore struct {
	mu      sync.RWMutex
	invites map[string]*InviteRecord
	upserts int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{invites: make(map[string]*InviteRecord)}
}

func cloneInvite(r *InviteRecord) *InviteRecord {
	c := *r
	if r.Note != nil {
		n := *r.Note
		c.Note = &n
	}
	return &c
}

// UpsertInvite stores a copy of record, replacing any prior record.
func (m *MockStore) UpsertInvite(_ context.Context, record *InviteRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites[record.Email] = cloneInvite(record)
	m.upserts++
	return nil
}

// GetInvite returns a copy of the record stored under email.
func (m *MockStore) GetInvite(_ context.Context, email string) (*InviteRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.invites[email]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInvite(r), nil
}

// Upserts returns how many successful writes the store has accepted.
func (m *MockStore) Upserts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upserts
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
