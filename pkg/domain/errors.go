package domain

import (
	"errors"
	"fmt"
)

// Sentinel kinds matched by the typed errors below via errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrStorage             = errors.New("storage failure")
)

// ValidationError reports a caller mistake such as a missing required field.
// It is never retried and never has side effects.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s is invalid", e.Field)
}

// Is matches ErrValidation.
func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// ConstraintViolationError is returned by a store when a uniqueness constraint
// rejects an insert, typically because a concurrent writer created the same row.
type ConstraintViolationError struct {
	Constraint string
	Err        error
}

func (e ConstraintViolationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("constraint %s violated", e.Constraint)
	}
	return fmt.Sprintf("constraint %s violated: %v", e.Constraint, e.Err)
}

// Is matches ErrConstraintViolation.
func (e ConstraintViolationError) Is(target error) bool { return target == ErrConstraintViolation }

func (e ConstraintViolationError) Unwrap() error { return e.Err }

// StorageError wraps any backend failure (connectivity, timeouts, unexpected
// constraint failures). It is fatal to the current request.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("storage: %s failed", e.Op)
	}
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

// Is matches ErrStorage.
func (e StorageError) Is(target error) bool { return target == ErrStorage }

func (e StorageError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsConstraintViolation reports whether err is (or wraps) a ConstraintViolationError.
func IsConstraintViolation(err error) bool { return errors.Is(err, ErrConstraintViolation) }

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool { return errors.Is(err, ErrStorage) }
