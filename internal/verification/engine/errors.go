package engine

import (
	"errors"
	"fmt"

	"kycflow/internal/verification/models"
	"kycflow/pkg/platform/sentinel"
)

// FailureKind classifies errors that escape a stage.
type FailureKind string

const (
	// KindCapture is a device or camera error. The user retries the same stage.
	KindCapture FailureKind = "capture_failure"
	// KindOracle is an analysis call that kept failing past the attempt bound.
	KindOracle FailureKind = "oracle_failure"
	// KindPersistence is a record store write error. It fails the session only.
	KindPersistence FailureKind = "persistence_failure"
)

// Failure wraps a stage error with its kind and the stage it happened in.
type Failure struct {
	Kind  FailureKind
	Stage models.State
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s in %s: %v", f.Kind, f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Recoverable reports whether the session is still usable after the failure.
func (f *Failure) Recoverable() bool { return f.Kind == KindCapture }

var (
	ErrSessionNotActive    = fmt.Errorf("session is not active: %w", sentinel.ErrInvalidState)
	ErrWrongStage          = fmt.Errorf("operation not allowed in current stage: %w", sentinel.ErrInvalidState)
	ErrChallengesPending   = fmt.Errorf("liveness challenges not yet acknowledged: %w", sentinel.ErrInvalidState)
	ErrChallengeOutOfOrder = fmt.Errorf("challenge acknowledged out of order: %w", sentinel.ErrConflict)
	ErrStageCancelled      = errors.New("stage cancelled")
	ErrNoCaptureProvider   = fmt.Errorf("no capture provider configured: %w", sentinel.ErrUnavailable)
)
