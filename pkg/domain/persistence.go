package domain

import "context"

// Transaction exposes the writes (and the single lookup) a persistence
// implementation must support within an atomic scope. Nothing written through
// a Transaction is visible to readers until RunInTransaction commits.
type Transaction interface {
	FindBoardBySerial(ctx context.Context, serial string) (Board, bool, error)
	// InsertBoard returns ConstraintViolationError when the serial already exists.
	InsertBoard(ctx context.Context, board Board) (int64, error)
	// InsertTestRun assigns the ID and TestDatetime of the stored run.
	InsertTestRun(ctx context.Context, run TestRun) (TestRun, error)
	InsertUnpoweredResult(ctx context.Context, result UnpoweredResult) (int64, error)
	InsertPoweredResult(ctx context.Context, result PoweredResult) (int64, error)
}

// Queries provides the non-transactional reads used by the test-run reader.
type Queries interface {
	FindBoardBySerial(ctx context.Context, serial string) (Board, bool, error)
	// ListSummaries returns every run joined with its board, most recent first.
	ListSummaries(ctx context.Context) ([]SummaryRow, error)
	// ListTestRuns returns the runs of a board, most recent first.
	ListTestRuns(ctx context.Context, boardID int64) ([]TestRun, error)
	ListUnpoweredResults(ctx context.Context, testRunID int64) ([]UnpoweredResult, error)
	ListPoweredResults(ctx context.Context, testRunID int64) ([]PoweredResult, error)
}

// PersistentStore is the abstraction over durable backends consumed by the core.
type PersistentStore interface {
	Queries
	// RunInTransaction commits when fn returns nil and rolls back every write otherwise.
	RunInTransaction(ctx context.Context, fn func(Transaction) error) error
	Ping(ctx context.Context) error
	Close() error
}
