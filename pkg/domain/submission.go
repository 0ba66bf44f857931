package domain

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Submission is the typed payload a test station sends for one test session.
// Unpowered and Powered are optional; a nil set is not persisted.
type Submission struct {
	Board     Board            `json:"board"`
	TestRun   TestRun          `json:"test_run"`
	Unpowered *UnpoweredResult `json:"unpowered,omitempty"`
	Powered   *PoweredResult   `json:"powered,omitempty"`
}

// Validate rejects submissions that cannot reach the writer. Server-assigned
// identities and timestamps present in the payload are ignored by the writer.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.Board.SerialNumber) == "" {
		return ValidationError{Field: "serial_number", Message: "serial_number is required"}
	}
	return nil
}

// NormalizeSerial trims surrounding whitespace from a serial number, preserving case.
func NormalizeSerial(serial string) string {
	return strings.TrimSpace(serial)
}

// DecodeSubmission reads exactly one JSON submission from r. Unknown fields,
// mistyped values, empty input and trailing data are ValidationErrors.
func DecodeSubmission(r io.Reader) (Submission, error) {
	var sub Submission
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sub); err != nil {
		if errors.Is(err, io.EOF) {
			return Submission{}, ValidationError{Field: "body", Message: "submission is empty"}
		}
		return Submission{}, ValidationError{Field: "body", Message: "invalid submission JSON: " + err.Error()}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Submission{}, ValidationError{Field: "body", Message: "invalid submission JSON: unexpected data after value"}
	}
	return sub, sub.Validate()
}
