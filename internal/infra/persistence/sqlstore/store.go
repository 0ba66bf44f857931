// Package sqlstore implements domain.PersistentStore over database/sql. The
// sqlite, postgres and mysql packages supply the connection, schema and a
// Dialect; everything else is shared here.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"krakefactory/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store is a relational persistent store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	nowFn   func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces the time source used to stamp test runs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{db: db, dialect: dialect, nowFn: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the backend dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RunInTransaction runs fn inside a database transaction. The transaction is
// committed when fn returns nil and rolled back on every other path.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) error {
	tx, err := s.db.BeginTx(ctx, s.dialect.TxOptions())
	if err != nil {
		return domain.StorageError{Op: "begin transaction", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&transaction{store: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.StorageError{Op: "commit", Err: err}
	}
	committed = true
	return nil
}

// Ping round-trips to the database.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return domain.StorageError{Op: "ping " + s.dialect.Name(), Err: err}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) insert(ctx context.Context, q queryer, query, idColumn string, args ...any) (int64, error) {
	if s.dialect.SupportsReturning() {
		var id int64
		err := q.QueryRowContext(ctx, s.dialect.Rebind(query+" RETURNING "+idColumn), args...).Scan(&id)
		return id, err
	}
	res, err := q.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type transaction struct {
	store *Store
	tx    *sql.Tx
}

func (t *transaction) FindBoardBySerial(ctx context.Context, serial string) (domain.Board, bool, error) {
	return t.store.findBoard(ctx, t.tx, serial)
}

const savepointBoard = "board_insert"

// InsertBoard runs inside a savepoint so a unique-violation leaves the
// surrounding transaction usable for the follow-up lookup.
func (t *transaction) InsertBoard(ctx context.Context, b domain.Board) (int64, error) {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+savepointBoard); err != nil {
		return 0, domain.StorageError{Op: "savepoint", Err: err}
	}
	id, err := t.store.insert(ctx, t.tx, `INSERT INTO boards (`+boardInsertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, "board_id",
		b.SerialNumber, nullable(b.HardwareRev), nullable(b.PCBRev), nullable(b.Batch), nullable(b.DateAssembled),
		nullable(b.AssembledBy), nullable(b.Country), nullable(b.Lab), nullable(b.Status), nullable(b.GDTKey),
		nullable(b.GDTURL), nullable(b.Notes))
	if err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepointBoard); rbErr != nil {
			return 0, domain.StorageError{Op: "rollback to savepoint", Err: errors.Join(err, rbErr)}
		}
		if t.store.dialect.IsUniqueViolation(err) {
			return 0, domain.ConstraintViolationError{Constraint: "boards.serial_number", Err: err}
		}
		return 0, domain.StorageError{Op: "insert board", Err: err}
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepointBoard); err != nil {
		return 0, domain.StorageError{Op: "release savepoint", Err: err}
	}
	return id, nil
}

func (t *transaction) InsertTestRun(ctx context.Context, r domain.TestRun) (domain.TestRun, error) {
	r.TestDatetime = t.store.nowFn().UTC().Truncate(time.Microsecond)
	id, err := t.store.insert(ctx, t.tx, `INSERT INTO test_runs (board_id, test_datetime, test_location, tester, firmware_version, test_fixture_version, overall_result, comments) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, "testrun_id",
		r.BoardID, t.store.dialect.EncodeTime(r.TestDatetime), nullable(r.TestLocation), nullable(r.Tester),
		nullable(r.FirmwareVersion), nullable(r.TestFixtureVersion), nullable(r.OverallResult), nullable(r.Comments))
	if err != nil {
		return domain.TestRun{}, domain.StorageError{Op: "insert test run", Err: err}
	}
	r.ID = id
	return r, nil
}

func (t *transaction) InsertUnpoweredResult(ctx context.Context, u domain.UnpoweredResult) (int64, error) {
	id, err := t.store.insert(ctx, t.tx, `INSERT INTO unpowered_results (`+unpoweredInsertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, "unpowered_id",
		u.TestRunID, nullable(u.MeterMake), nullable(u.MeterModel), nullable(u.MeterSN),
		nullable(u.ResTP102TP101Vin), nullable(u.ResTP103TP101_5V), nullable(u.ResTP201TP101Vbus),
		nullable(u.ResTP202TP101V3), nullable(u.ResJ103Pin2TP101CtrlVcc), nullable(u.PassFail), nullable(u.Notes))
	if err != nil {
		return 0, domain.StorageError{Op: "insert unpowered result", Err: err}
	}
	return id, nil
}

func (t *transaction) InsertPoweredResult(ctx context.Context, p domain.PoweredResult) (int64, error) {
	id, err := t.store.insert(ctx, t.tx, `INSERT INTO powered_results (`+poweredInsertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, "powered_id",
		p.TestRunID, nullable(p.SupplyCurrentMA), nullable(p.VinTP102V), nullable(p.V5TP103V), nullable(p.V5ESP32U103V),
		nullable(p.V3P3TabU103V), nullable(p.V3TP202U501V), nullable(p.V3V3CtrlD103KV), nullable(p.VccLCDTP401V),
		nullable(p.V5DFPC505V), nullable(p.VChargePumpPlusV), nullable(p.VChargePumpMinusV), nullable(p.PassFail), nullable(p.Notes))
	if err != nil {
		return 0, domain.StorageError{Op: "insert powered result", Err: err}
	}
	return id, nil
}

const (
	boardInsertColumns = `serial_number, hardware_rev, pcb_rev, batch, date_assembled, assembled_by, country, lab, status, gdt_key, gdt_url, notes`

	unpoweredInsertColumns = `testrun_id, meter_make, meter_model, meter_sn, res_tp102_tp101_vin, res_tp103_tp101_5v, res_tp201_tp101_vbus, res_tp202_tp101_v3, res_j103pin2_tp101_ctrl_vcc, pass_fail, notes`

	poweredInsertColumns = `testrun_id, supply_current_ma, vin_tp102_v, v5_tp103_v, v5_esp32_u103_v, v3p3_tab_u103_v, v3_tp202_u501_v, v3v3_ctrl_d103k_v, vcclcd_tp401_v, v5_dfp_c505_v, v_charge_pump_plus_v, v_charge_pump_minus_v, pass_fail, notes`
)

func (s *Store) findBoard(ctx context.Context, q queryer, serial string) (domain.Board, bool, error) {
	var b domain.Board
	err := q.QueryRowContext(ctx, s.dialect.Rebind(`SELECT board_id, `+boardInsertColumns+` FROM boards WHERE serial_number = ?`), serial).Scan(
		&b.ID, &b.SerialNumber, &b.HardwareRev, &b.PCBRev, &b.Batch, &b.DateAssembled, &b.AssembledBy,
		&b.Country, &b.Lab, &b.Status, &b.GDTKey, &b.GDTURL, &b.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Board{}, false, nil
	}
	if err != nil {
		return domain.Board{}, false, domain.StorageError{Op: "select board", Err: err}
	}
	return b, true, nil
}

// FindBoardBySerial returns the committed board with serial.
func (s *Store) FindBoardBySerial(ctx context.Context, serial string) (domain.Board, bool, error) {
	return s.findBoard(ctx, s.db, serial)
}

// ListSummaries returns every run joined with its board, most recent first.
func (s *Store) ListSummaries(ctx context.Context) ([]domain.SummaryRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT b.serial_number, b.country, b.lab, t.test_datetime, t.test_location, t.tester, t.firmware_version, t.overall_result
FROM test_runs t
JOIN boards b ON b.board_id = t.board_id
ORDER BY t.test_datetime DESC, t.testrun_id DESC`)
	if err != nil {
		return nil, domain.StorageError{Op: "select summaries", Err: err}
	}
	defer func() { _ = rows.Close() }()

	out := []domain.SummaryRow{}
	for rows.Next() {
		var r domain.SummaryRow
		if err := rows.Scan(&r.SerialNumber, &r.Country, &r.Lab, timeScanner{&r.TestDatetime},
			&r.TestLocation, &r.Tester, &r.FirmwareVersion, &r.OverallResult); err != nil {
			return nil, domain.StorageError{Op: "scan summary", Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError{Op: "iterate summaries", Err: err}
	}
	return out, nil
}

// ListTestRuns returns the runs of a board, most recent first.
func (s *Store) ListTestRuns(ctx context.Context, boardID int64) ([]domain.TestRun, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`SELECT testrun_id, board_id, test_datetime, test_location, tester, firmware_version, test_fixture_version, overall_result, comments
FROM test_runs WHERE board_id = ?
ORDER BY test_datetime DESC, testrun_id DESC`), boardID)
	if err != nil {
		return nil, domain.StorageError{Op: "select test runs", Err: err}
	}
	defer func() { _ = rows.Close() }()

	out := []domain.TestRun{}
	for rows.Next() {
		var r domain.TestRun
		if err := rows.Scan(&r.ID, &r.BoardID, timeScanner{&r.TestDatetime}, &r.TestLocation, &r.Tester,
			&r.FirmwareVersion, &r.TestFixtureVersion, &r.OverallResult, &r.Comments); err != nil {
			return nil, domain.StorageError{Op: "scan test run", Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError{Op: "iterate test runs", Err: err}
	}
	return out, nil
}

// ListUnpoweredResults returns the unpowered results of a run in insertion order.
func (s *Store) ListUnpoweredResults(ctx context.Context, testRunID int64) ([]domain.UnpoweredResult, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`SELECT unpowered_id, `+unpoweredInsertColumns+` FROM unpowered_results WHERE testrun_id = ? ORDER BY unpowered_id`), testRunID)
	if err != nil {
		return nil, domain.StorageError{Op: "select unpowered results", Err: err}
	}
	defer func() { _ = rows.Close() }()

	out := []domain.UnpoweredResult{}
	for rows.Next() {
		var u domain.UnpoweredResult
		if err := rows.Scan(&u.ID, &u.TestRunID, &u.MeterMake, &u.MeterModel, &u.MeterSN,
			&u.ResTP102TP101Vin, &u.ResTP103TP101_5V, &u.ResTP201TP101Vbus, &u.ResTP202TP101V3,
			&u.ResJ103Pin2TP101CtrlVcc, &u.PassFail, &u.Notes); err != nil {
			return nil, domain.StorageError{Op: "scan unpowered result", Err: err}
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError{Op: "iterate unpowered results", Err: err}
	}
	return out, nil
}

// ListPoweredResults returns the powered results of a run in insertion order.
func (s *Store) ListPoweredResults(ctx context.Context, testRunID int64) ([]domain.PoweredResult, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`SELECT powered_id, `+poweredInsertColumns+` FROM powered_results WHERE testrun_id = ? ORDER BY powered_id`), testRunID)
	if err != nil {
		return nil, domain.StorageError{Op: "select powered results", Err: err}
	}
	defer func() { _ = rows.Close() }()

	out := []domain.PoweredResult{}
	for rows.Next() {
		var p domain.PoweredResult
		if err := rows.Scan(&p.ID, &p.TestRunID, &p.SupplyCurrentMA, &p.VinTP102V, &p.V5TP103V, &p.V5ESP32U103V,
			&p.V3P3TabU103V, &p.V3TP202U501V, &p.V3V3CtrlD103KV, &p.VccLCDTP401V, &p.V5DFPC505V,
			&p.VChargePumpPlusV, &p.VChargePumpMinusV, &p.PassFail, &p.Notes); err != nil {
			return nil, domain.StorageError{Op: "scan powered result", Err: err}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError{Op: "iterate powered results", Err: err}
	}
	return out, nil
}

// String describes the store for logs.
func (s *Store) String() string {
	return fmt.Sprintf("sqlstore(%s)", s.dialect.Name())
}
