package store

import (
	"fmt"

	"kycflow/pkg/platform/sentinel"
)

var (
	// ErrInvalidTransition is returned when a write would move a session or
	// sync task along an illegal edge, such as mutating a terminal session.
	ErrInvalidTransition = fmt.Errorf("invalid transition: %w", sentinel.ErrInvalidState)
	// ErrChallengesFixed is returned when a different challenge sequence is
	// saved for a session that already has one.
	ErrChallengesFixed = fmt.Errorf("challenge sequence already fixed: %w", sentinel.ErrConflict)

	errNilRecord = fmt.Errorf("nil record: %w", ErrInvalidTransition)
)
