// Package mysql opens the MySQL backend the service originally shipped with.
package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"krakefactory/internal/infra/persistence/sqlstore"
)

//go:embed schema.sql
var schema string

const (
	driverName          = "mysql"
	errDuplicateEntry   = 1062
	defaultHost         = "127.0.0.1"
	defaultPort         = 3306
	defaultDatabaseName = "krake_factory"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Schema returns the DDL applied on open.
func Schema() string { return schema }

// Config holds discrete connection settings used when no DSN is given.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DSN renders cfg as a go-sql-driver DSN with UTC time parsing enabled.
func DSN(cfg Config) string {
	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	name := cfg.Database
	if name == "" {
		name = defaultDatabaseName
	}
	c := gomysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	c.DBName = name
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN()
}

// Dialect implements sqlstore.Dialect for MySQL.
type Dialect struct{}

func (Dialect) Name() string               { return "mysql" }
func (Dialect) Rebind(query string) string { return query }
func (Dialect) SupportsReturning() bool    { return false }
func (Dialect) EncodeTime(t time.Time) any { return t.UTC() }

// TxOptions selects READ COMMITTED so the lookup that follows a duplicate-key
// failure sees the row committed by the competing writer.
func (Dialect) TxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
}

// IsUniqueViolation matches ER_DUP_ENTRY.
func (Dialect) IsUniqueViolation(err error) bool {
	var myErr *gomysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDuplicateEntry
}

// Open connects using dsn, sizes the pool and applies the schema.
func Open(ctx context.Context, dsn string, pool sqlstore.PoolConfig, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	if dsn == "" {
		dsn = DSN(Config{})
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	pool.Apply(db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
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
