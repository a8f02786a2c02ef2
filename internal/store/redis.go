// ABOUTME: Redis implementation of the Store interface
// ABOUTME: Each conversation is a list appended with RPUSH; users are JSON strings plus an email index

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisStore handles Redis operations for conversations and users.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to the Redis server at redisURL and pings it.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger := slog.Default().With("component", "store", "driver", "redis")
	logger.Info("redis store initialized", "addr", opts.Addr, "db", opts.DB)
	return &RedisStore{client: client, logger: logger}, nil
}

// historyKey returns the key for a user's conversation list.
func historyKey(userID string) string {
	return fmt.Sprintf("relay:history:%s", userID)
}

func redisUserKey(id string) string {
	return fmt.Sprintf("relay:user:%s", id)
}

func redisEmailKey(email string) string {
	return fmt.Sprintf("relay:email:%s", normalizeEmail(email))
}

// AppendMessage pushes the message onto the user's list. RPUSH is atomic
// and never overwrites, so concurrent appends each land exactly once.
func (s *RedisStore) AppendMessage(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(storedMessage{
		ID:        msg.ID,
		UserID:    msg.UserID,
		Author:    msg.Author,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	if err := s.client.RPush(ctx, historyKey(msg.UserID), data).Err(); err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// ListMessages reads the whole list. List order is insertion order, and the
// stable sort on CreatedAt only moves entries whose clocks disagree with it.
func (s *RedisStore) ListMessages(ctx context.Context, userID string) ([]*Message, error) {
	results, err := s.client.LRange(ctx, historyKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}

	messages := make([]*Message, 0, len(results))
	for _, data := range results {
		var sm storedMessage
		if err := json.Unmarshal([]byte(data), &sm); err != nil {
			s.logger.Warn("skipping undecodable message", "user_id", userID, "error", err)
			continue
		}
		messages = append(messages, sm.toMessage())
	}
	SortMessages(messages)
	return messages, nil
}

// CreateUser claims the email with SETNX before writing the user record
func (s *RedisStore) CreateUser(ctx context.Context, user *User) error {
	email := normalizeEmail(user.Email)
	data, err := json.Marshal(storedUser{
		ID:           user.ID,
		Email:        email,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}

	claimed, err := s.client.SetNX(ctx, redisEmailKey(email), user.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("claiming email: %w", err)
	}
	if !claimed {
		return ErrUserExists
	}

	if err := s.client.Set(ctx, redisUserKey(user.ID), data, 0).Err(); err != nil {
		// Release the email so a retry can succeed
		s.client.Del(ctx, redisEmailKey(email))
		return fmt.Errorf("writing user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *RedisStore) GetUser(ctx context.Context, id string) (*User, error) {
	data, err := s.client.Get(ctx, redisUserKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading user: %w", err)
	}

	var su storedUser
	if err := json.Unmarshal([]byte(data), &su); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	return &User{
		ID:           su.ID,
		Email:        su.Email,
		PasswordHash: su.PasswordHash,
		CreatedAt:    unixNanoUTC(su.CreatedAt),
	}, nil
}

// GetUserByEmail resolves the email index then loads the user
func (s *RedisStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	id, err := s.client.Get(ctx, redisEmailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading email index: %w", err)
	}
	return s.GetUser(ctx, id)
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
