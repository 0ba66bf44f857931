// Package sqltest provides a scripted database/sql driver for exercising the
// relational stores without a running database server.
package sqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var stubSeq uint64

// Statement is one recorded round trip.
type Statement struct {
	Query string
	Args  []driver.Value
}

// Rows is a canned result set.
type Rows struct {
	Columns []string
	Values  [][]driver.Value
}

// StubConn records statements and answers them from the script below.
type StubConn struct {
	mu sync.Mutex

	Statements []Statement
	// FailOn maps a query substring to the error returned for matching statements.
	FailOn map[string]error
	// Results maps a query substring to the rows returned for matching queries.
	Results    map[string]Rows
	NextID     int64
	FailBegin  bool
	FailCommit bool
	Isolation  []driver.IsolationLevel
	Commits    int
	Rollbacks  int
}

// NewStubDB registers a fresh driver instance and opens a sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{FailOn: map[string]error{}, Results: map[string]Rows{}}
	name := fmt.Sprintf("krakestub%d", atomic.AddUint64(&stubSeq, 1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

// Queries returns the recorded statements in order.
func (c *StubConn) Queries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Statements))
	for i, s := range c.Statements {
		out[i] = s.Query
	}
	return out
}

// Find returns the first recorded statement containing substr.
func (c *StubConn) Find(substr string) (Statement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.Statements {
		if strings.Contains(s.Query, substr) {
			return s, true
		}
	}
	return Statement{}, false
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, opts driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.Isolation = append(c.Isolation, opts.Isolation)
	return &stubTx{conn: c}, nil
}

func (c *StubConn) record(query string, args []driver.NamedValue) error {
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	c.Statements = append(c.Statements, Statement{Query: query, Args: vals})
	for _, key := range sortedKeys(c.FailOn) {
		if strings.Contains(query, key) {
			return c.FailOn[key]
		}
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record(query, args); err != nil {
		return nil, err
	}
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "INSERT INTO") {
		c.NextID++
		return stubResult{id: c.NextID}, nil
	}
	return driver.RowsAffected(0), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record(query, args); err != nil {
		return nil, err
	}
	if strings.Contains(strings.ToUpper(query), " RETURNING ") {
		c.NextID++
		return &stubRows{cols: []string{"id"}, rows: [][]driver.Value{{c.NextID}}}, nil
	}
	if strings.HasPrefix(strings.TrimSpace(query), "SELECT 1") {
		return &stubRows{cols: []string{"1"}, rows: [][]driver.Value{{int64(1)}}}, nil
	}
	for _, key := range sortedKeys(c.Results) {
		if strings.Contains(query, key) {
			r := c.Results[key]
			return &stubRows{cols: r.Columns, rows: r.Values}, nil
		}
	}
	return &stubRows{cols: []string{"empty"}}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type stubResult struct {
	id int64
}

func (r stubResult) LastInsertId() (int64, error) { return r.id, nil }
func (r stubResult) RowsAffected() (int64, error) { return 1, nil }

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	t.conn.Commits++
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.mu.Lock()
	t.conn.Rollbacks++
	t.conn.mu.Unlock()
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
