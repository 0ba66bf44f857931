package core

import (
	"context"
	"fmt"
	"time"

	"krakefactory/internal/config"
	"krakefactory/internal/infra/persistence/memory"
	"krakefactory/internal/infra/persistence/mysql"
	"krakefactory/internal/infra/persistence/postgres"
	"krakefactory/internal/infra/persistence/sqlite"
	"krakefactory/internal/infra/persistence/sqlstore"
	"krakefactory/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = config.DriverMemory   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = config.DriverSQLite   // embedded sqlite file
	StoragePostgres StorageDriver = config.DriverPostgres // PostgreSQL server
	StorageMySQL    StorageDriver = config.DriverMySQL    // MySQL server
)

type (
	Transaction     = domain.Transaction
	PersistentStore = domain.PersistentStore
)

// OpenPersistentStore opens the backend selected by cfg.Driver (sqlite when empty)
// and applies its schema. now, when non-nil, stamps test runs.
func OpenPersistentStore(ctx context.Context, cfg config.StorageConfig, now func() time.Time) (PersistentStore, error) {
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	var opts []sqlstore.Option
	if now != nil {
		opts = append(opts, sqlstore.WithClock(now))
	}
	pool := sqlstore.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	var (
		store *sqlstore.Store
		err   error
	)
	switch driver {
	case StorageMemory:
		return memory.NewStore(memory.WithClock(now)), nil
	case StorageSQLite:
		store, err = sqlite.Open(ctx, cfg.SQLitePath, opts...)
	case StoragePostgres:
		store, err = postgres.Open(ctx, cfg.PostgresDSN, pool, opts...)
	case StorageMySQL:
		dsn := cfg.MySQLDSN
		if dsn == "" {
			dsn = mysql.DSN(mysql.Config{
				Host:     cfg.MySQL.Host,
				Port:     cfg.MySQL.Port,
				User:     cfg.MySQL.User,
				Password: cfg.MySQL.Password,
				Database: cfg.MySQL.Database,
			})
		}
		store, err = mysql.Open(ctx, dsn, pool, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
