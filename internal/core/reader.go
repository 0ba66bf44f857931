package core

import (
	"context"

	"golang.org/x/sync/errgroup"

	"krakefactory/pkg/domain"
)

// DefaultReaderConcurrency bounds the per-run child fetches of one detail request.
const DefaultReaderConcurrency = 4

// TestRunReader rebuilds board histories and the flat inventory projection.
// It never writes and never opens a transaction.
type TestRunReader struct {
	queries     domain.Queries
	concurrency int
}

// NewTestRunReader constructs a reader. concurrency < 1 selects the default.
func NewTestRunReader(queries domain.Queries, concurrency int) *TestRunReader {
	if concurrency < 1 {
		concurrency = DefaultReaderConcurrency
	}
	return &TestRunReader{queries: queries, concurrency: concurrency}
}

// ListSummaries returns every run joined with its board, most recent first.
func (r *TestRunReader) ListSummaries(ctx context.Context) ([]domain.SummaryRow, error) {
	rows, err := r.queries.ListSummaries(ctx)
	if err != nil {
		return nil, asStorageError("list summaries", err)
	}
	if rows == nil {
		rows = []domain.SummaryRow{}
	}
	return rows, nil
}

// GetBoardDetail returns the board with the trimmed serial and all of its runs,
// most recent first, each carrying its measurement sets. An unknown serial is
// not an error: the result has a nil Board and no runs.
func (r *TestRunReader) GetBoardDetail(ctx context.Context, serial string) (domain.BoardDetail, error) {
	serial = domain.NormalizeSerial(serial)
	if serial == "" {
		return domain.BoardDetail{}, domain.ValidationError{Field: "serial", Message: "serial is required"}
	}

	board, found, err := r.queries.FindBoardBySerial(ctx, serial)
	if err != nil {
		return domain.BoardDetail{}, asStorageError("find board", err)
	}
	if !found {
		return domain.BoardDetail{Board: nil, TestRuns: []domain.RunDetail{}}, nil
	}

	runs, err := r.queries.ListTestRuns(ctx, board.ID)
	if err != nil {
		return domain.BoardDetail{}, asStorageError("list test runs", err)
	}

	details := make([]domain.RunDetail, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, run := range runs {
		g.Go(func() error {
			unpowered, err := r.queries.ListUnpoweredResults(gctx, run.ID)
			if err != nil {
				return asStorageError("list unpowered results", err)
			}
			powered, err := r.queries.ListPoweredResults(gctx, run.ID)
			if err != nil {
				return asStorageError("list powered results", err)
			}
			if unpowered == nil {
				unpowered = []domain.UnpoweredResult{}
			}
			if powered == nil {
				powered = []domain.PoweredResult{}
			}
			details[i] = domain.RunDetail{TestRun: run, UnpoweredResults: unpowered, PoweredResults: powered}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.BoardDetail{}, err
	}

	return domain.BoardDetail{Board: &board, TestRuns: details}, nil
}
