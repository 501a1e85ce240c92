package models

import (
	"time"

	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// SessionStatus is the persisted lifecycle status of a Session.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

func (s SessionStatus) IsValid() bool {
	return s == SessionInProgress || s.IsTerminal()
}

// CanTransitionTo reports whether a status change is legal. Only
// in_progress -> completed and in_progress -> failed are.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	return s == SessionInProgress && next.IsTerminal()
}

// SyncStatus mirrors the SyncTask status on the session for the passive
// sync indicator. SyncNone means no task exists yet.
type SyncStatus string

const (
	SyncNone      SyncStatus = "none"
	SyncPending   SyncStatus = "pending"
	SyncUploading SyncStatus = "uploading"
	SyncSynced    SyncStatus = "synced"
	SyncFailed    SyncStatus = "failed"
)

// FailureReason explains why a session ended in failed.
type FailureReason string

const (
	FailureNone                 FailureReason = ""
	FailureQualityBelowFloor    FailureReason = "quality_below_floor"
	FailureRetryBudgetExhausted FailureReason = "retry_budget_exhausted"
	FailureOracle               FailureReason = "oracle_failure"
	FailurePersistence          FailureReason = "persistence_failure"
	FailureVerdict              FailureReason = "verdict_failed"
)

// Session is one end-to-end verification attempt.
//
// Invariants:
//   - Status moves only from in_progress to a terminal status
//   - CompletedAt and OverallScore are set only with a terminal status
//   - Challenges, once saved, never change for the session
//   - SyncStatus is the only field that changes after the session is terminal
type Session struct {
	ID            id.SessionID    `json:"id"`
	DocumentType  id.DocumentType `json:"document_type"`
	Language      id.Language     `json:"language"`
	Status        SessionStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	OverallScore  *float64        `json:"overall_score,omitempty"`
	Challenges    []ChallengeID   `json:"challenges,omitempty"`
	FailureReason FailureReason   `json:"failure_reason,omitempty"`
	SyncStatus    SyncStatus      `json:"sync_status"`
}

// NewSession validates inputs and returns an in_progress session.
func NewSession(sessionID id.SessionID, docType id.DocumentType, lang id.Language, now time.Time) (*Session, error) {
	if sessionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "session id cannot be nil")
	}
	if !docType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unsupported document type: "+string(docType))
	}
	if !lang.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unsupported language: "+string(lang))
	}
	return &Session{
		ID:           sessionID,
		DocumentType: docType,
		Language:     lang,
		Status:       SessionInProgress,
		CreatedAt:    now,
		SyncStatus:   SyncNone,
	}, nil
}

func (s *Session) IsTerminal() bool { return s.Status.IsTerminal() }

// Clone returns a deep copy so callers never share slices or pointers with a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.OverallScore != nil {
		v := *s.OverallScore
		out.OverallScore = &v
	}
	out.Challenges = append([]ChallengeID(nil), s.Challenges...)
	return &out
}

// SessionFilter narrows ListSessions. Zero values match everything.
type SessionFilter struct {
	Status SessionStatus
	Limit  int
}
