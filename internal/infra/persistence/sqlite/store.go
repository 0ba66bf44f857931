// Package sqlite opens the embedded SQLite backend, the default store for a
// single test station or bench.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"krakefactory/internal/infra/persistence/sqlstore"
)

//go:embed schema.sql
var schema string

// DefaultPath is used when no database path is configured.
const DefaultPath = "data/krakefactory.db"

// Schema returns the DDL applied on open.
func Schema() string { return schema }

// Dialect implements sqlstore.Dialect for modernc.org/sqlite.
type Dialect struct{}

func (Dialect) Name() string               { return "sqlite" }
func (Dialect) Rebind(query string) string { return query }
func (Dialect) SupportsReturning() bool    { return true }
func (Dialect) TxOptions() *sql.TxOptions  { return nil }

// EncodeTime stores timestamps as fixed-width UTC text.
func (Dialect) EncodeTime(t time.Time) any {
	return t.UTC().Format(sqlstore.TextTimeLayout)
}

// IsUniqueViolation matches SQLITE_CONSTRAINT_UNIQUE and SQLITE_CONSTRAINT_PRIMARYKEY.
func (Dialect) IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// DSN builds a modernc connection string with foreign keys, WAL and a busy timeout.
func DSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

// Open creates (if needed) and opens the database at path, applying the schema.
// SQLite serialises writers, so the pool holds a single connection.
func Open(ctx context.Context, path string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	store := sqlstore.New(db, Dialect{}, opts...)
	if err := store.EnsureSchema(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
