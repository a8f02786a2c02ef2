// ABOUTME: In-memory Store implementation for ephemeral deployments and tests
// ABOUTME: Keeps conversations for the lifetime of the process, still keyed per user

package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]*Message // keyed by user ID, in insertion order
	users    map[string]*User      // keyed by user ID
	emails   map[string]string     // normalized email -> user ID
	closed   bool
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]*Message),
		users:    make(map[string]*User),
		emails:   make(map[string]string),
	}
}

// AppendMessage stores a copy of msg at the end of the user's log.
func (m *MemoryStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Make a copy to avoid external modification
	c := *msg
	m.messages[c.UserID] = append(m.messages[c.UserID], &c)
	return nil
}

// ListMessages returns copies of the user's messages, oldest first.
func (m *MemoryStore) ListMessages(ctx context.Context, userID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[userID]
	result := make([]*Message, 0, len(stored))
	for _, msg := range stored {
		c := *msg
		result = append(result, &c)
	}
	SortMessages(result)
	return result, nil
}

// CreateUser stores a new user, rejecting duplicate emails.
func (m *MemoryStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := normalizeEmail(user.Email)
	if _, exists := m.emails[email]; exists {
		return ErrUserExists
	}

	u := *user
	u.Email = email
	m.users[u.ID] = &u
	m.emails[email] = u.ID
	return nil
}

// GetUser retrieves a user by ID.
func (m *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUserByEmail retrieves a user by email.
func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	id, ok := m.emails[normalizeEmail(email)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetUser(ctx, id)
}

// Ping always succeeds until the store is closed.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the store closed. Data is discarded.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
