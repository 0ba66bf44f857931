package core

import (
	"context"
	"time"

	"krakefactory/pkg/domain"
)

// TestRunWriter persists a submission as one atomic unit: board, run header and
// the optional measurement sets either all become visible or none do.
type TestRunWriter struct {
	store    domain.PersistentStore
	resolver *BoardResolver
}

// NewTestRunWriter binds a writer to store using resolver for board identity.
func NewTestRunWriter(store domain.PersistentStore, resolver *BoardResolver) *TestRunWriter {
	if resolver == nil {
		resolver = NewBoardResolver(nil)
	}
	return &TestRunWriter{store: store, resolver: resolver}
}

// Submit validates sub and stores it in a single transaction. Identities and the
// run timestamp are assigned by the store; any values present in sub are ignored.
func (w *TestRunWriter) Submit(ctx context.Context, sub domain.Submission) (domain.SubmitResult, error) {
	if err := sub.Validate(); err != nil {
		return domain.SubmitResult{}, err
	}

	var result domain.SubmitResult
	err := w.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		boardID, err := w.resolver.Resolve(ctx, tx, sub.Board)
		if err != nil {
			return err
		}

		run := sub.TestRun
		run.ID = 0
		run.BoardID = boardID
		run.TestDatetime = time.Time{}
		stored, err := tx.InsertTestRun(ctx, run)
		if err != nil {
			return asStorageError("insert test run", err)
		}

		if sub.Unpowered != nil {
			unpowered := *sub.Unpowered
			unpowered.ID = 0
			unpowered.TestRunID = stored.ID
			if _, err := tx.InsertUnpoweredResult(ctx, unpowered); err != nil {
				return asStorageError("insert unpowered result", err)
			}
		}
		if sub.Powered != nil {
			powered := *sub.Powered
			powered.ID = 0
			powered.TestRunID = stored.ID
			if _, err := tx.InsertPoweredResult(ctx, powered); err != nil {
				return asStorageError("insert powered result", err)
			}
		}

		result = domain.SubmitResult{BoardID: boardID, TestRunID: stored.ID}
		return nil
	})
	if err != nil {
		return domain.SubmitResult{}, asStorageError("submit test run", err)
	}
	return result, nil
}
