package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindsMatchSentinels(t *testing.T) {
	cause := errors.New("boom")
	cases := []struct {
		name       string
		err        error
		validation bool
		constraint bool
		storage    bool
	}{
		{"validation", ValidationError{Field: "serial_number", Message: "serial_number is required"}, true, false, false},
		{"constraint", ConstraintViolationError{Constraint: "boards_serial_number_key", Err: cause}, false, true, false},
		{"storage", StorageError{Op: "insert board", Err: cause}, false, false, true},
		{"wrapped validation", fmt.Errorf("submit: %w", ValidationError{Field: "x"}), true, false, false},
		{"plain", cause, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsValidation(tc.err); got != tc.validation {
				t.Fatalf("IsValidation = %v, want %v", got, tc.validation)
			}
			if got := IsConstraintViolation(tc.err); got != tc.constraint {
				t.Fatalf("IsConstraintViolation = %v, want %v", got, tc.constraint)
			}
			if got := IsStorage(tc.err); got != tc.storage {
				t.Fatalf("IsStorage = %v, want %v", got, tc.storage)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	if got := (ValidationError{Field: "serial_number"}).Error(); got != "serial_number is invalid" {
		t.Fatalf("unexpected validation message %q", got)
	}
	if got := (ValidationError{Field: "serial_number", Message: "serial_number is required"}).Error(); got != "serial_number is required" {
		t.Fatalf("unexpected validation message %q", got)
	}
	err := StorageError{Op: "ping", Err: errors.New("dial tcp: refused")}
	if got := err.Error(); got != "storage: ping: dial tcp: refused" {
		t.Fatalf("unexpected storage message %q", got)
	}
	if !errors.Is(err, err.Err) {
		t.Fatalf("expected storage error to unwrap cause")
	}
	if got := (ConstraintViolationError{Constraint: "serial"}).Error(); got != "constraint serial violated" {
		t.Fatalf("unexpected constraint message %q", got)
	}
}
