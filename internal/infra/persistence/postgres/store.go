// Package postgres opens the PostgreSQL backend through pgx's database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"krakefactory/internal/infra/persistence/sqlstore"
)

//go:embed schema.sql
var schema string

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/krakefactory?sslmode=disable"

	uniqueViolation = "23505"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Schema returns the DDL applied on open.
func Schema() string { return schema }

// Dialect implements sqlstore.Dialect for PostgreSQL.
type Dialect struct{}

func (Dialect) Name() string               { return "postgres" }
func (Dialect) Rebind(query string) string { return sqlstore.RebindDollar(query) }
func (Dialect) SupportsReturning() bool    { return true }
func (Dialect) EncodeTime(t time.Time) any { return t.UTC() }
func (Dialect) TxOptions() *sql.TxOptions  { return nil }

// IsUniqueViolation matches SQLSTATE 23505.
func (Dialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Open connects using dsn (falling back to a local default), sizes the pool and
// applies the schema.
func Open(ctx context.Context, dsn string, pool sqlstore.PoolConfig, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pool.Apply(db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := sqlstore.New(db, Dialect{}, opts...)
	if err := store.EnsureSchema(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
