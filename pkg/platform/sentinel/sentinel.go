// Package sentinel holds the infrastructure errors stores return, usually
// wrapped. Handlers map them to HTTP statuses through httputil; input
// validation uses pkg/domain-errors instead.
package sentinel

import "errors"

var (
	// ErrNotFound means the record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a uniqueness constraint already holds for the key,
	// such as a second upload for the same session.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState means the record is in the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable means a dependency is down or not configured.
	ErrUnavailable = errors.New("unavailable")
)
