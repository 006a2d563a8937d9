/*
errors.go - Centralized error types for the domain

PURPOSE:
  One place for the error taxonomy the HTTP layer maps onto status codes:
  validation failures (4xx), missing entities (404). Row-level coercion
  failures are deliberately NOT errors - bad rows are dropped and counted.

USAGE:
  Callers classify with errors.Is / errors.As:

    var verr *school.ValidationError
    if errors.As(err, &verr) { ... 400 ... }
    if errors.Is(err, school.ErrNotFound) { ... 404 ... }

SEE ALSO:
  - ingest/: Produces ValidationError for malformed uploads
  - api/handlers.go: Maps these onto HTTP statuses
*/
package school

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when a referenced student/record/contact does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrCycleInProgress is returned when a weekly cycle is triggered while
	// another run holds the cycle lock. Overlapping runs are skipped, never
	// interleaved.
	ErrCycleInProgress = errors.New("weekly cycle already running")
)

// IsNotFound reports whether err indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError carries a human-readable list of what is wrong with an
// input (missing upload columns, inconsistent settings, unknown kinds).
type ValidationError struct {
	Subject  string   // what was being validated, e.g. "attendance upload"
	Problems []string // one entry per missing/invalid field
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s invalid: %s", e.Subject, strings.Join(e.Problems, ", "))
}

// MissingColumnsError builds the ValidationError for an upload whose header
// lacks required columns.
func MissingColumnsError(kind string, missing []string) *ValidationError {
	problems := make([]string, len(missing))
	for i, col := range missing {
		problems[i] = "missing required column: " + col
	}
	return &ValidationError{Subject: kind + " upload", Problems: problems}
}

// NotFoundError wraps ErrNotFound with the entity kind and id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
