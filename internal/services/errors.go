// Package services defines the business logic for code generation runs.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTableID is returned when a run is requested without a table
	// identifier. No remote call is made.
	ErrMissingTableID = errors.New("missing tableId: /generate-codes?tableId=XXXX")

	// ErrRunInProgress is returned when a run with the same table and
	// Idempotency-Key is still executing.
	ErrRunInProgress = errors.New("a run with this Idempotency-Key is still in progress")

	// ErrRunNotFound indicates that the requested run does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrHistoryDisabled is returned by run history queries when no database
	// is configured.
	ErrHistoryDisabled = errors.New("run history is disabled")
)

// RemoteReadError wraps a failure to fetch candidate records. The whole batch
// is aborted and nothing was written.
type RemoteReadError struct {
	TableID string
	Err     error
}

func (e *RemoteReadError) Error() string {
	return fmt.Sprintf("read table %s: %v", e.TableID, e.Err)
}

func (e *RemoteReadError) Unwrap() error { return e.Err }
