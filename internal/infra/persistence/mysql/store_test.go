package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"

	"krakefactory/internal/infra/persistence/sqlstore"
	"krakefactory/internal/infra/persistence/sqlstore/sqltest"
	"krakefactory/pkg/domain"
)

func TestDSN(t *testing.T) {
	dsn := DSN(Config{Host: "db", Port: 3307, User: "krake", Password: "s3cret", Database: "inventory"})
	for _, want := range []string{"krake:s3cret@tcp(db:3307)/inventory", "parseTime=true"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("expected %q in %q", want, dsn)
		}
	}
	parsed, err := gomysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("dsn must round-trip: %v", err)
	}
	if !parsed.ParseTime || parsed.DBName != "inventory" {
		t.Fatalf("unexpected parsed config %+v", parsed)
	}
	if def := DSN(Config{}); !strings.Contains(def, "tcp(127.0.0.1:3306)/krake_factory") {
		t.Fatalf("unexpected default dsn %q", def)
	}
}

func openStub(t *testing.T) (*sqlstore.Store, *sqltest.StubConn) {
	t.Helper()
	db, conn := sqltest.NewStubDB()
	restore := OverrideSQLOpen(func(name, _ string) (*sql.DB, error) {
		if name != "mysql" {
			t.Fatalf("unexpected driver %q", name)
		}
		return db, nil
	})
	t.Cleanup(restore)
	store, err := Open(context.Background(), "", sqlstore.DefaultPool)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return store, conn
}

func TestInsertsUseLastInsertIDAndReadCommitted(t *testing.T) {
	store, conn := openStub(t)
	ctx := context.Background()
	var result domain.TestRun
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		boardID, err := tx.InsertBoard(ctx, domain.Board{SerialNumber: "MY-1"})
		if err != nil {
			return err
		}
		result, err = tx.InsertTestRun(ctx, domain.TestRun{BoardID: boardID})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if result.ID == 0 || result.BoardID == 0 {
		t.Fatalf("expected ids from LastInsertId, got %+v", result)
	}
	for _, q := range conn.Queries() {
		if strings.Contains(q, "RETURNING") || strings.Contains(q, "$1") {
			t.Fatalf("mysql statements must use ? placeholders without RETURNING: %q", q)
		}
	}
	if len(conn.Isolation) == 0 || conn.Isolation[len(conn.Isolation)-1] != driver.IsolationLevel(sql.LevelReadCommitted) {
		t.Fatalf("expected READ COMMITTED transactions, got %v", conn.Isolation)
	}
}

func TestSchemaUsesBinarySerialCollation(t *testing.T) {
	_, conn := openStub(t)
	stmt, ok := conn.Find("CREATE TABLE IF NOT EXISTS boards")
	if !ok {
		t.Fatalf("boards DDL not applied: %v", conn.Queries())
	}
	var serialCol string
	for _, line := range strings.Split(stmt.Query, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "serial_number") {
			serialCol = line
		}
	}
	if !strings.Contains(serialCol, "COLLATE utf8mb4_bin") {
		t.Fatalf("serial_number must compare byte-wise, got %q", serialCol)
	}
}

func TestDuplicateEntryClassification(t *testing.T) {
	dup := &gomysql.MySQLError{Number: 1062, Message: "Duplicate entry 'MY-2' for key 'boards_serial_number_key'"}
	if !(Dialect{}).IsUniqueViolation(fmt.Errorf("wrapped: %w", dup)) {
		t.Fatalf("expected 1062 to classify")
	}
	if (Dialect{}).IsUniqueViolation(&gomysql.MySQLError{Number: 1452}) {
		t.Fatalf("foreign key failure must not classify")
	}

	store, conn := openStub(t)
	conn.FailOn["INSERT INTO boards"] = dup
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.InsertBoard(ctx, domain.Board{SerialNumber: "MY-2"})
		return err
	})
	if !domain.IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
}

func TestOpenPingFailure(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("bad") })
	defer restore()
	if _, err := Open(context.Background(), "x", sqlstore.PoolConfig{}); err == nil {
		t.Fatalf("expected open error")
	}
}
