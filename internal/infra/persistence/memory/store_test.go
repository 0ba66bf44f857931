package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"krakefactory/pkg/domain"
)

func steppingClock(start time.Time, step time.Duration) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(step)
		return now
	}
}

func TestStoreRunInTransactionCommits(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	var runID int64
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, found, _ := tx.FindBoardBySerial(ctx, "BRD-1"); found {
			t.Fatalf("expected missing board")
		}
		boardID, err := tx.InsertBoard(ctx, domain.Board{SerialNumber: "BRD-1", Country: domain.String("NO")})
		if err != nil {
			return err
		}
		if _, found, _ := tx.FindBoardBySerial(ctx, "BRD-1"); !found {
			t.Fatalf("expected board visible inside transaction")
		}
		run, err := tx.InsertTestRun(ctx, domain.TestRun{BoardID: boardID, OverallResult: domain.String("pass")})
		if err != nil {
			return err
		}
		runID = run.ID
		if run.TestDatetime.IsZero() {
			t.Fatalf("expected store-assigned timestamp")
		}
		_, err = tx.InsertPoweredResult(ctx, domain.PoweredResult{TestRunID: run.ID, VinTP102V: domain.Float(0)})
		return err
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}

	board, found, err := store.FindBoardBySerial(ctx, "BRD-1")
	if err != nil || !found {
		t.Fatalf("expected committed board, found=%v err=%v", found, err)
	}
	if board.Country == nil || *board.Country != "NO" {
		t.Fatalf("expected country to persist, got %v", board.Country)
	}
	powered, _ := store.ListPoweredResults(ctx, runID)
	if len(powered) != 1 || powered[0].VinTP102V == nil || *powered[0].VinTP102V != 0 {
		t.Fatalf("expected explicit zero to persist, got %+v", powered)
	}
	if powered[0].V5TP103V != nil {
		t.Fatalf("expected absent measurement to stay nil")
	}
}

func TestStoreRunInTransactionRollsBack(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		boardID, err := tx.InsertBoard(ctx, domain.Board{SerialNumber: "BRD-2"})
		if err != nil {
			return err
		}
		if _, err := tx.InsertTestRun(ctx, domain.TestRun{BoardID: boardID}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if _, found, _ := store.FindBoardBySerial(ctx, "BRD-2"); found {
		t.Fatalf("expected board insert to be rolled back")
	}
	rows, _ := store.ListSummaries(ctx)
	if len(rows) != 0 {
		t.Fatalf("expected no summaries after rollback, got %d", len(rows))
	}
}

func TestInsertBoardDuplicateSerialIsConstraintViolation(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.InsertBoard(ctx, domain.Board{SerialNumber: "DUP"}); err != nil {
			return err
		}
		_, err := tx.InsertBoard(ctx, domain.Board{SerialNumber: "DUP"})
		return err
	})
	if !domain.IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
}

func TestForeignKeysAreEnforced(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.InsertTestRun(ctx, domain.TestRun{BoardID: 42})
		return err
	})
	if !domain.IsStorage(err) {
		t.Fatalf("expected storage error for missing board, got %v", err)
	}
	err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.InsertUnpoweredResult(ctx, domain.UnpoweredResult{TestRunID: 9})
		return err
	})
	if !domain.IsStorage(err) {
		t.Fatalf("expected storage error for missing run, got %v", err)
	}
}

func TestListOrdersMostRecentFirst(t *testing.T) {
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	store := NewStore(WithClock(steppingClock(base, time.Minute)))
	ctx := context.Background()
	var boardID int64
	for i := 0; i < 3; i++ {
		err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if boardID == 0 {
				id, err := tx.InsertBoard(ctx, domain.Board{SerialNumber: "ORD"})
				if err != nil {
					return err
				}
				boardID = id
			}
			_, err := tx.InsertTestRun(ctx, domain.TestRun{BoardID: boardID})
			return err
		})
		if err != nil {
			t.Fatalf("insert run %d: %v", i, err)
		}
	}
	runs, err := store.ListTestRuns(ctx, boardID)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if !runs[i-1].TestDatetime.After(runs[i].TestDatetime) {
			t.Fatalf("runs not strictly descending: %v then %v", runs[i-1].TestDatetime, runs[i].TestDatetime)
		}
	}
	summaries, _ := store.ListSummaries(ctx)
	if len(summaries) != 3 || summaries[0].SerialNumber != "ORD" || !summaries[0].TestDatetime.Equal(runs[0].TestDatetime) {
		t.Fatalf("unexpected summaries %+v", summaries)
	}
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	country := "SE"
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.InsertBoard(ctx, domain.Board{SerialNumber: "CPY", Country: &country})
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	country = "changed"
	board, _, _ := store.FindBoardBySerial(ctx, "CPY")
	*board.Country = "mutated"
	again, _, _ := store.FindBoardBySerial(ctx, "CPY")
	if *again.Country != "SE" {
		t.Fatalf("stored board mutated through pointer: %q", *again.Country)
	}
}

func TestClosedStore(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Ping(ctx); !domain.IsStorage(err) {
		t.Fatalf("expected storage error after close, got %v", err)
	}
	if err := store.RunInTransaction(ctx, func(domain.Transaction) error { return nil }); !domain.IsStorage(err) {
		t.Fatalf("expected storage error after close, got %v", err)
	}
	if store.NowFunc() == nil {
		t.Fatalf("expected now func")
	}
}

func TestCanceledContextIsStorageError(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.RunInTransaction(ctx, func(domain.Transaction) error {
		t.Fatalf("callback must not run")
		return nil
	})
	if !domain.IsStorage(err) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped cancellation, got %v", err)
	}
}
