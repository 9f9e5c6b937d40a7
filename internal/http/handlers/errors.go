// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These codes give clients a stable, machine-readable error taxonomy that
// supplements human-readable messages. Codes are lowercase snake_case.
// Generic codes mirror HTTP status semantics; domain codes cover failures
// that a status alone cannot convey.
//
// Example response:
//
//	{
//	  "success": false,
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "remote_read_failed",
//	  "message": "could not read records from the remote table",
//	  "error": "read table mhwj2qg4d0u9xgx: nocodb list: status 401: ..."
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeRemoteReadFailed = "remote_read_failed"
	ErrCodeRunInProgress    = "run_in_progress"
	ErrCodeHistoryDisabled  = "history_disabled"
	ErrCodeListFailed       = "list_failed"
)
