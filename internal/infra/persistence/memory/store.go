// Package memory provides an in-memory implementation of the persistence store
// used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"krakefactory/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Board aliases domain.Board.
	Board = domain.Board
	// TestRun aliases domain.TestRun.
	TestRun = domain.TestRun
	// UnpoweredResult aliases domain.UnpoweredResult.
	UnpoweredResult = domain.UnpoweredResult
	// PoweredResult aliases domain.PoweredResult.
	PoweredResult = domain.PoweredResult
)

type sequences struct {
	board, run, unpowered, powered int64
}

type memoryState struct {
	boards    map[int64]Board
	serials   map[string]int64
	runs      map[int64]TestRun
	unpowered map[int64]UnpoweredResult
	powered   map[int64]PoweredResult
	seq       sequences
}

func newMemoryState() memoryState {
	return memoryState{
		boards:    make(map[int64]Board),
		serials:   make(map[string]int64),
		runs:      make(map[int64]TestRun),
		unpowered: make(map[int64]UnpoweredResult),
		powered:   make(map[int64]PoweredResult),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.boards {
		cloned.boards[k] = cloneBoard(v)
	}
	for k, v := range s.serials {
		cloned.serials[k] = v
	}
	for k, v := range s.runs {
		cloned.runs[k] = cloneTestRun(v)
	}
	for k, v := range s.unpowered {
		cloned.unpowered[k] = cloneUnpowered(v)
	}
	for k, v := range s.powered {
		cloned.powered[k] = clonePowered(v)
	}
	cloned.seq = s.seq
	return cloned
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneBoard(b Board) Board {
	b.HardwareRev = clonePtr(b.HardwareRev)
	b.PCBRev = clonePtr(b.PCBRev)
	b.Batch = clonePtr(b.Batch)
	b.DateAssembled = clonePtr(b.DateAssembled)
	b.AssembledBy = clonePtr(b.AssembledBy)
	b.Country = clonePtr(b.Country)
	b.Lab = clonePtr(b.Lab)
	b.Status = clonePtr(b.Status)
	b.GDTKey = clonePtr(b.GDTKey)
	b.GDTURL = clonePtr(b.GDTURL)
	b.Notes = clonePtr(b.Notes)
	return b
}

func cloneTestRun(r TestRun) TestRun {
	r.TestLocation = clonePtr(r.TestLocation)
	r.Tester = clonePtr(r.Tester)
	r.FirmwareVersion = clonePtr(r.FirmwareVersion)
	r.TestFixtureVersion = clonePtr(r.TestFixtureVersion)
	r.OverallResult = clonePtr(r.OverallResult)
	r.Comments = clonePtr(r.Comments)
	return r
}

func cloneUnpowered(u UnpoweredResult) UnpoweredResult {
	u.MeterMake = clonePtr(u.MeterMake)
	u.MeterModel = clonePtr(u.MeterModel)
	u.MeterSN = clonePtr(u.MeterSN)
	u.ResTP102TP101Vin = clonePtr(u.ResTP102TP101Vin)
	u.ResTP103TP101_5V = clonePtr(u.ResTP103TP101_5V)
	u.ResTP201TP101Vbus = clonePtr(u.ResTP201TP101Vbus)
	u.ResTP202TP101V3 = clonePtr(u.ResTP202TP101V3)
	u.ResJ103Pin2TP101CtrlVcc = clonePtr(u.ResJ103Pin2TP101CtrlVcc)
	u.PassFail = clonePtr(u.PassFail)
	u.Notes = clonePtr(u.Notes)
	return u
}

func clonePowered(p PoweredResult) PoweredResult {
	p.SupplyCurrentMA = clonePtr(p.SupplyCurrentMA)
	p.VinTP102V = clonePtr(p.VinTP102V)
	p.V5TP103V = clonePtr(p.V5TP103V)
	p.V5ESP32U103V = clonePtr(p.V5ESP32U103V)
	p.V3P3TabU103V = clonePtr(p.V3P3TabU103V)
	p.V3TP202U501V = clonePtr(p.V3TP202U501V)
	p.V3V3CtrlD103KV = clonePtr(p.V3V3CtrlD103KV)
	p.VccLCDTP401V = clonePtr(p.VccLCDTP401V)
	p.V5DFPC505V = clonePtr(p.V5DFPC505V)
	p.VChargePumpPlusV = clonePtr(p.VChargePumpPlusV)
	p.VChargePumpMinusV = clonePtr(p.VChargePumpMinusV)
	p.PassFail = clonePtr(p.PassFail)
	p.Notes = clonePtr(p.Notes)
	return p
}

// Store keeps committed state in maps guarded by a mutex. Transactions work on
// a clone that replaces the committed state only when the callback succeeds.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	nowFn  func() time.Time
	closed bool
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

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: newMemoryState(),
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	ctx   context.Context
	state memoryState
	nowFn func() time.Time
}

// RunInTransaction executes fn against a private copy of the state and publishes
// it atomically when fn returns nil.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return domain.StorageError{Op: "begin transaction", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.StorageError{Op: "begin transaction", Err: errStoreClosed}
	}

	tx := &transaction{ctx: ctx, state: s.state.clone(), nowFn: s.nowFn}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.StorageError{Op: "commit", Err: err}
	}
	s.state = tx.state
	return nil
}

var errStoreClosed = fmt.Errorf("memory store closed")

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return domain.StorageError{Op: "ping", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.StorageError{Op: "ping", Err: errStoreClosed}
	}
	return nil
}

// Close marks the store closed; committed state stays readable.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (tx *transaction) FindBoardBySerial(_ context.Context, serial string) (Board, bool, error) {
	return findBoard(&tx.state, serial)
}

func (tx *transaction) InsertBoard(_ context.Context, board Board) (int64, error) {
	if board.SerialNumber == "" {
		return 0, domain.StorageError{Op: "insert board", Err: fmt.Errorf("serial_number must not be null")}
	}
	if _, exists := tx.state.serials[board.SerialNumber]; exists {
		return 0, domain.ConstraintViolationError{Constraint: "boards.serial_number"}
	}
	tx.state.seq.board++
	board = cloneBoard(board)
	board.ID = tx.state.seq.board
	tx.state.boards[board.ID] = board
	tx.state.serials[board.SerialNumber] = board.ID
	return board.ID, nil
}

func (tx *transaction) InsertTestRun(_ context.Context, run TestRun) (TestRun, error) {
	if _, ok := tx.state.boards[run.BoardID]; !ok {
		return TestRun{}, domain.StorageError{Op: "insert test run", Err: fmt.Errorf("foreign key: board %d does not exist", run.BoardID)}
	}
	tx.state.seq.run++
	run = cloneTestRun(run)
	run.ID = tx.state.seq.run
	run.TestDatetime = tx.nowFn().UTC().Truncate(time.Microsecond)
	tx.state.runs[run.ID] = run
	return cloneTestRun(run), nil
}

func (tx *transaction) InsertUnpoweredResult(_ context.Context, result UnpoweredResult) (int64, error) {
	if _, ok := tx.state.runs[result.TestRunID]; !ok {
		return 0, domain.StorageError{Op: "insert unpowered result", Err: fmt.Errorf("foreign key: test run %d does not exist", result.TestRunID)}
	}
	tx.state.seq.unpowered++
	result = cloneUnpowered(result)
	result.ID = tx.state.seq.unpowered
	tx.state.unpowered[result.ID] = result
	return result.ID, nil
}

func (tx *transaction) InsertPoweredResult(_ context.Context, result PoweredResult) (int64, error) {
	if _, ok := tx.state.runs[result.TestRunID]; !ok {
		return 0, domain.StorageError{Op: "insert powered result", Err: fmt.Errorf("foreign key: test run %d does not exist", result.TestRunID)}
	}
	tx.state.seq.powered++
	result = clonePowered(result)
	result.ID = tx.state.seq.powered
	tx.state.powered[result.ID] = result
	return result.ID, nil
}

func findBoard(state *memoryState, serial string) (Board, bool, error) {
	id, ok := state.serials[serial]
	if !ok {
		return Board{}, false, nil
	}
	return cloneBoard(state.boards[id]), true, nil
}

// FindBoardBySerial returns the committed board with serial.
func (s *Store) FindBoardBySerial(_ context.Context, serial string) (Board, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findBoard(&s.state, serial)
}

// ListSummaries returns committed runs joined with their boards, most recent first.
func (s *Store) ListSummaries(_ context.Context) ([]domain.SummaryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := sortedRuns(s.state.runs, func(TestRun) bool { return true })
	out := make([]domain.SummaryRow, 0, len(runs))
	for _, r := range runs {
		b := s.state.boards[r.BoardID]
		out = append(out, domain.SummaryRow{
			SerialNumber:    b.SerialNumber,
			Country:         clonePtr(b.Country),
			Lab:             clonePtr(b.Lab),
			TestDatetime:    r.TestDatetime,
			TestLocation:    clonePtr(r.TestLocation),
			Tester:          clonePtr(r.Tester),
			FirmwareVersion: clonePtr(r.FirmwareVersion),
			OverallResult:   clonePtr(r.OverallResult),
		})
	}
	return out, nil
}

// ListTestRuns returns the committed runs of a board, most recent first.
func (s *Store) ListTestRuns(_ context.Context, boardID int64) ([]TestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := sortedRuns(s.state.runs, func(r TestRun) bool { return r.BoardID == boardID })
	for i := range runs {
		runs[i] = cloneTestRun(runs[i])
	}
	return runs, nil
}

// ListUnpoweredResults returns the unpowered results of a run in insertion order.
func (s *Store) ListUnpoweredResults(_ context.Context, testRunID int64) ([]UnpoweredResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UnpoweredResult, 0, 1)
	for _, u := range s.state.unpowered {
		if u.TestRunID == testRunID {
			out = append(out, cloneUnpowered(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListPoweredResults returns the powered results of a run in insertion order.
func (s *Store) ListPoweredResults(_ context.Context, testRunID int64) ([]PoweredResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PoweredResult, 0, 1)
	for _, p := range s.state.powered {
		if p.TestRunID == testRunID {
			out = append(out, clonePowered(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// sortedRuns orders by timestamp then id, both descending, matching the SQL stores.
func sortedRuns(runs map[int64]TestRun, keep func(TestRun) bool) []TestRun {
	out := make([]TestRun, 0, len(runs))
	for _, r := range runs {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TestDatetime.Equal(out[j].TestDatetime) {
			return out[i].TestDatetime.After(out[j].TestDatetime)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
