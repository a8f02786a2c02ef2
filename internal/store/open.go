// ABOUTME: Backend selection for the Store interface
// ABOUTME: Maps a configured driver name and DSN to a concrete store

package store

import (
	"context"
	"fmt"
)

// Supported driver names for Open
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Drivers lists every driver Open accepts
var Drivers = []string{DriverMemory, DriverSQLite, DriverSQLite3, DriverBadger, DriverRedis, DriverPostgres}

// Open creates the store for driver. dsn is a file path for the SQLite
// drivers, a directory (or ":memory:") for badger, and a URL for redis and
// postgres. It is ignored for the memory driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite, DriverSQLite3:
		return NewSQLiteStoreWithDriver(driver, dsn)
	case DriverBadger:
		return NewBadgerStore(dsn)
	case DriverRedis:
		return NewRedisStore(ctx, dsn)
	case DriverPostgres:
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
