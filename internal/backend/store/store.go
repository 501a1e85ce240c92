// Package store persists verifications together with their outbox events.
package store

import (
	"fmt"

	"kycflow/pkg/platform/sentinel"
)

// ErrDuplicateSession is returned by Insert when the session id is already stored.
var ErrDuplicateSession = fmt.Errorf("verification for session already stored: %w", sentinel.ErrConflict)
