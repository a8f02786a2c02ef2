// ABOUTME: Store interfaces and data types for relay-gateway persistence
// ABOUTME: Defines the per-user conversation log, the user directory, and sentinel errors

package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUserExists is returned when a user with the same email is already registered
var ErrUserExists = errors.New("user already exists")

// ErrClosed is returned by Ping once the store has been closed
var ErrClosed = errors.New("store closed")

// Author identifies which side of the conversation produced a message
type Author string

const (
	AuthorUser Author = "user"
	AuthorBot  Author = "bot"
)

// Valid reports whether a is one of the known authors.
func (a Author) Valid() bool {
	return a == AuthorUser || a == AuthorBot
}

// Message is a single turn in a user's conversation. Messages are immutable
// once appended; the log is only ever extended.
type Message struct {
	ID        string // ULID, lexically sortable by creation
	UserID    string
	Author    Author
	Content   string
	CreatedAt time.Time
}

// NewMessage builds a message stamped with the current time and a fresh ULID.
func NewMessage(userID string, author Author, content string) *Message {
	return &Message{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Author:    author,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// User is a registered account that owns a conversation
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// HistoryStore is the append-only, per-user conversation log.
// ListMessages returns every message for the user ordered by CreatedAt
// ascending, with ties broken by insertion order.
type HistoryStore interface {
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, userID string) ([]*Message, error)
}

// UserStore holds registered accounts
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// Store is implemented by every backend.
type Store interface {
	HistoryStore
	UserStore

	// Ping reports whether the backend is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// SortMessages orders messages by creation time. The sort is stable, so
// callers that read in insertion order keep that order for equal timestamps.
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// normalizeEmail lowercases and trims an email for lookups and uniqueness
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func unixNanoUTC(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
