package core

import (
	"context"
	"fmt"

	"krakefactory/pkg/domain"
)

// BoardResolver maps a serial number to a board identity, creating the board on
// first sight. It always runs inside the caller's transaction so a later failure
// never leaves an orphan board behind.
type BoardResolver struct {
	logger Logger
}

// NewBoardResolver constructs a resolver. A nil logger discards output.
func NewBoardResolver(logger Logger) *BoardResolver {
	if logger == nil {
		logger = noopLogger{}
	}
	return &BoardResolver{logger: logger}
}

// Resolve returns the identity of the board with candidate's trimmed serial.
// Attributes of an existing board are never updated; candidate's attributes are
// only used when the board is created.
func (r *BoardResolver) Resolve(ctx context.Context, tx domain.Transaction, candidate domain.Board) (int64, error) {
	serial := domain.NormalizeSerial(candidate.SerialNumber)
	if serial == "" {
		return 0, domain.ValidationError{Field: "serial_number", Message: "serial_number is required"}
	}

	existing, found, err := tx.FindBoardBySerial(ctx, serial)
	if err != nil {
		return 0, asStorageError("find board", err)
	}
	if found {
		return existing.ID, nil
	}

	candidate.ID = 0
	candidate.SerialNumber = serial
	id, err := tx.InsertBoard(ctx, candidate)
	if err == nil {
		r.logger.Info("board created", "serial_number", serial, "board_id", id)
		return id, nil
	}
	if !domain.IsConstraintViolation(err) {
		return 0, asStorageError("insert board", err)
	}

	// A concurrent submission created the board first; one re-lookup settles it.
	r.logger.Debug("board insert raced, re-reading", "serial_number", serial)
	existing, found, err = tx.FindBoardBySerial(ctx, serial)
	if err != nil {
		return 0, asStorageError("find board after conflict", err)
	}
	if !found {
		return 0, domain.StorageError{Op: "resolve board", Err: fmt.Errorf("board %q missing after unique conflict", serial)}
	}
	return existing.ID, nil
}

// asStorageError leaves typed domain errors untouched and wraps anything else.
func asStorageError(op string, err error) error {
	if domain.IsValidation(err) || domain.IsStorage(err) {
		return err
	}
	return domain.StorageError{Op: op, Err: err}
}
