// ABOUTME: BadgerDB implementation of the Store interface
// ABOUTME: Conversations are prefix-scanned keys "msg:{user}:{unixnano}:{ulid}"

package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// BadgerMemoryDSN opens badger in in-memory mode
const BadgerMemoryDSN = ":memory:"

// BadgerStore implements the Store interface on an embedded badger KV store.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerStore opens (or creates) a badger database in dir.
// Pass BadgerMemoryDSN to keep everything in memory.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	logger := slog.Default().With("component", "store", "driver", "badger")

	var opts badger.Options
	if dir == BadgerMemoryDSN {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}

	logger.Info("badger store initialized", "path", dir)
	return &BadgerStore{db: db, logger: logger}, nil
}

// storedMessage is the JSON value kept under each message key
type storedMessage struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Author    Author `json:"author"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// storedUser is the JSON value kept under each user key
type storedUser struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	CreatedAt    int64  `json:"created_at"`
}

// userSegment encodes a user ID so it cannot contain the ':' separator.
func userSegment(userID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(userID))
}

func messagePrefix(userID string) []byte {
	return []byte("msg:" + userSegment(userID) + ":")
}

// messageKey sorts chronologically thanks to the 19-digit zero padding;
// the ULID suffix keeps same-nanosecond appends distinct and ordered.
func messageKey(msg *Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s",
		userSegment(msg.UserID),
		msg.CreatedAt.UnixNano(),
		msg.ID,
	))
}

func userKey(id string) []byte {
	return []byte("user:" + id)
}

func emailKey(email string) []byte {
	return []byte("email:" + normalizeEmail(email))
}

// AppendMessage writes the message under its own key in a single transaction
func (b *BadgerStore) AppendMessage(ctx context.Context, msg *Message) error {
	value, err := json.Marshal(storedMessage{
		ID:        msg.ID,
		UserID:    msg.UserID,
		Author:    msg.Author,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg), value)
	})
	if err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// ListMessages prefix-scans the user's keys, which are already in time order
func (b *BadgerStore) ListMessages(ctx context.Context, userID string) ([]*Message, error) {
	var messages []*Message
	prefix := messagePrefix(userID)

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var sm storedMessage
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sm)
			})
			if err != nil {
				return err
			}
			messages = append(messages, sm.toMessage())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	return messages, nil
}

// CreateUser writes the user and its email index in one transaction
func (b *BadgerStore) CreateUser(ctx context.Context, user *User) error {
	email := normalizeEmail(user.Email)
	value, err := json.Marshal(storedUser{
		ID:           user.ID,
		Email:        email,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(emailKey(email))
		if err == nil {
			return ErrUserExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(emailKey(email), []byte(user.ID)); err != nil {
			return err
		}
		return txn.Set(userKey(user.ID), value)
	})
}

// GetUser retrieves a user by ID
func (b *BadgerStore) GetUser(ctx context.Context, id string) (*User, error) {
	var user *User
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = getUserTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByEmail resolves the email index then loads the user
func (b *BadgerStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user *User
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(emailKey(email))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		user, err = getUserTxn(txn, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func getUserTxn(txn *badger.Txn, id string) (*User, error) {
	item, err := txn.Get(userKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var su storedUser
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &su)
	}); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	return &User{
		ID:           su.ID,
		Email:        su.Email,
		PasswordHash: su.PasswordHash,
		CreatedAt:    unixNanoUTC(su.CreatedAt),
	}, nil
}

func (sm storedMessage) toMessage() *Message {
	return &Message{
		ID:        sm.ID,
		UserID:    sm.UserID,
		Author:    sm.Author,
		Content:   sm.Content,
		CreatedAt: unixNanoUTC(sm.CreatedAt),
	}
}

// Ping fails once the database has been closed
func (b *BadgerStore) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

// Close flushes and closes the database
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's internal logging into slog
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
