// Package store provides persistence for conversations and user accounts.
//
// # Architecture
//
// Two narrow interfaces describe what the rest of the gateway needs:
//
//   - HistoryStore: an append-only log of Messages keyed by user ID
//   - UserStore: registered accounts looked up by ID or email
//
// Store combines both with Ping and Close. Every backend implements Store:
//
//   - MemoryStore: process-lifetime maps ("memory")
//   - SQLiteStore: modernc.org/sqlite ("sqlite") or mattn/go-sqlite3 ("sqlite3")
//   - BadgerStore: embedded badger KV ("badger")
//   - RedisStore: one Redis list per conversation ("redis")
//   - PostgresStore: pgx connection pool ("postgres")
//
// Open selects a backend from a driver name and DSN.
//
// # Ordering
//
// ListMessages returns messages ordered by CreatedAt ascending. Ties are
// broken by insertion order: the SQL backends use an auto-incrementing
// sequence column, badger keys carry the ULID after the timestamp, and the
// memory and Redis backends stable-sort their insertion-ordered lists.
//
// # Atomicity
//
// Each AppendMessage is an independent, atomic, non-overwriting write.
// There are no update or delete paths for messages.
//
// # Errors
//
//   - ErrNotFound: the requested user does not exist
//   - ErrUserExists: the email is already registered
//   - ErrClosed: Ping after Close
package store
