// Package db provides error types for database operations.
package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEvent indicates a job event with the same dedup key was
	// already inserted. Callers treat this as "another delivery won the
	// race" and skip domain side effects.
	ErrDuplicateEvent = errors.New("duplicate job event")

	// ErrTaskTerminal indicates a mutation was attempted on a task whose
	// finished_at is already set. Terminal states are final.
	ErrTaskTerminal = errors.New("task already terminal")
)

// wrapQueryError inspects a SurrealDB error and wraps it with the
// appropriate sentinel when it matches a known pattern. Returns the
// original error otherwise.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		// Unique index violations read "Database index `job_event_dedup`
		// already contains ...".
		if strings.Contains(msg, "already contains") || strings.Contains(msg, "already exists") {
			return fmt.Errorf("%w: %s", ErrDuplicateEvent, msg)
		}
	}

	return err
}
