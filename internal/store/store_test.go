// ABOUTME: Behavioral tests shared by every Store backend
// ABOUTME: Runs the same ordering, isolation, and user directory checks against each driver

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func backends(t *testing.T) map[string]storeFactory {
	t.Helper()
	factories := map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T) Store {
			s, err := NewBadgerStore(BadgerMemoryDSN)
			require.NoError(t, err)
			return s
		},
	}

	if url := os.Getenv("RELAY_TEST_REDIS_URL"); url != "" {
		factories["redis"] = func(t *testing.T) Store {
			s, err := NewRedisStore(context.Background(), url)
			require.NoError(t, err)
			return s
		}
	}
	if dsn := os.Getenv("RELAY_TEST_POSTGRES_DSN"); dsn != "" {
		factories["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), dsn)
			require.NoError(t, err)
			return s
		}
	}
	return factories
}

// forEachBackend runs fn once per available backend with a fresh store.
func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

// uniqueUser keeps shared external backends (redis, postgres) isolated between runs
func uniqueUser(prefix string) string {
	return prefix + "-" + uuid.New().String()
}

func TestStore_AppendAndListInOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		userID := uniqueUser("alice")

		contents := []struct {
			author  Author
			content string
		}{
			{AuthorUser, "Hi"},
			{AuthorBot, "Hello!"},
			{AuthorUser, "How are you?"},
			{AuthorBot, "Fine, thanks."},
		}
		for _, c := range contents {
			require.NoError(t, s.AppendMessage(ctx, NewMessage(userID, c.author, c.content)))
		}

		msgs, err := s.ListMessages(ctx, userID)
		require.NoError(t, err)
		require.Len(t, msgs, len(contents))
		for i, c := range contents {
			assert.Equal(t, c.author, msgs[i].Author, "message %d author", i)
			assert.Equal(t, c.content, msgs[i].Content, "message %d content", i)
			assert.Equal(t, userID, msgs[i].UserID)
		}
	})
}

func TestStore_ListUnknownUserIsEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		msgs, err := s.ListMessages(context.Background(), uniqueUser("nobody"))
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestStore_UsersAreIsolated(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		alice := uniqueUser("alice")
		bob := uniqueUser("bob")

		require.NoError(t, s.AppendMessage(ctx, NewMessage(alice, AuthorUser, "from alice")))
		require.NoError(t, s.AppendMessage(ctx, NewMessage(bob, AuthorUser, "from bob")))

		msgs, err := s.ListMessages(ctx, alice)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "from alice", msgs[0].Content)
	})
}

func TestStore_UserIDsWithSeparators(t *testing.T) {
	// Matrix identities contain colons; they must not bleed into each other's logs
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := uniqueUser("matrix:@u")
		longer := base + ":example.org"

		require.NoError(t, s.AppendMessage(ctx, NewMessage(base, AuthorUser, "short")))
		require.NoError(t, s.AppendMessage(ctx, NewMessage(longer, AuthorUser, "long")))

		msgs, err := s.ListMessages(ctx, base)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "short", msgs[0].Content)
	})
}

func TestStore_EqualTimestampsKeepInsertionOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		userID := uniqueUser("tie")
		at := time.Now().UTC().Truncate(time.Microsecond)

		for i := 0; i < 5; i++ {
			msg := NewMessage(userID, AuthorUser, fmt.Sprintf("m%d", i))
			msg.CreatedAt = at
			require.NoError(t, s.AppendMessage(ctx, msg))
		}

		msgs, err := s.ListMessages(ctx, userID)
		require.NoError(t, err)
		require.Len(t, msgs, 5)
		for i, msg := range msgs {
			assert.Equal(t, fmt.Sprintf("m%d", i), msg.Content)
		}
	})
}

func TestStore_ReadIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		userID := uniqueUser("reader")
		require.NoError(t, s.AppendMessage(ctx, NewMessage(userID, AuthorUser, "one")))
		require.NoError(t, s.AppendMessage(ctx, NewMessage(userID, AuthorBot, "two")))

		first, err := s.ListMessages(ctx, userID)
		require.NoError(t, err)
		second, err := s.ListMessages(ctx, userID)
		require.NoError(t, err)

		require.Equal(t, len(first), len(second))
		for i := range first {
			assert.Equal(t, first[i].ID, second[i].ID)
			assert.Equal(t, first[i].Content, second[i].Content)
			assert.True(t, first[i].CreatedAt.Equal(second[i].CreatedAt))
		}
	})
}

func TestStore_ConcurrentAppendsAllLand(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		userID := uniqueUser("busy")

		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.AppendMessage(ctx, NewMessage(userID, AuthorUser, fmt.Sprintf("c%d", i)))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		msgs, err := s.ListMessages(ctx, userID)
		require.NoError(t, err)
		assert.Len(t, msgs, n)
	})
}

func TestStore_CreateAndGetUser(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		user := &User{
			ID:           uuid.New().String(),
			Email:        "  Person-" + uuid.New().String() + "@Example.com ",
			PasswordHash: "hash",
			CreatedAt:    time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, s.CreateUser(ctx, user))

		byID, err := s.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, normalizeEmail(user.Email), byID.Email)
		assert.Equal(t, "hash", byID.PasswordHash)
		assert.True(t, user.CreatedAt.Equal(byID.CreatedAt))

		byEmail, err := s.GetUserByEmail(ctx, user.Email)
		require.NoError(t, err)
		assert.Equal(t, user.ID, byEmail.ID)
	})
}

func TestStore_DuplicateEmailRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		email := "dup-" + uuid.New().String() + "@example.com"

		require.NoError(t, s.CreateUser(ctx, &User{ID: uuid.New().String(), Email: email, PasswordHash: "a", CreatedAt: time.Now()}))
		err := s.CreateUser(ctx, &User{ID: uuid.New().String(), Email: email, PasswordHash: "b", CreatedAt: time.Now()})
		assert.ErrorIs(t, err, ErrUserExists)
	})
}

func TestStore_MissingUser(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetUser(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetUserByEmail(ctx, "missing-"+uuid.New().String()+"@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Ping(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mongo", "")
	assert.Error(t, err)
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), DriverMemory, "")
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)
}

func TestSortMessages_Stable(t *testing.T) {
	at := time.Now()
	msgs := []*Message{
		{ID: "b", CreatedAt: at.Add(time.Second)},
		{ID: "a1", CreatedAt: at},
		{ID: "a2", CreatedAt: at},
	}
	SortMessages(msgs)
	assert.Equal(t, "a1", msgs[0].ID)
	assert.Equal(t, "a2", msgs[1].ID)
	assert.Equal(t, "b", msgs[2].ID)
}
