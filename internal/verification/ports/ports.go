// Package ports defines the collaborators the verification engine and the
// sync worker depend on. Implementations live in adapters, stores and tests.
package ports

//go:generate mockgen -source=ports.go -destination=../mocks/mocks.go -package=mocks -exclude_interfaces=SessionStore,SyncTaskStore,RecordStore

import (
	"context"
	"time"

	"kycflow/internal/verification/models"
	id "kycflow/pkg/domain"
)

// CaptureHint tells the capture surface what the engine is waiting for.
type CaptureHint struct {
	SessionID    id.SessionID
	Stage        models.State
	DocumentType id.DocumentType
	Challenge    models.ChallengeID
}

// CaptureProvider produces a reference to freshly captured image bytes.
// Failures are capture failures: the user retries the same stage.
type CaptureProvider interface {
	Capture(ctx context.Context, hint CaptureHint) (models.ImageRef, error)
}

// DocumentAnalysis is the document oracle output.
type DocumentAnalysis struct {
	ExtractedFields map[string]string
	QualityScore    float64
}

// DocumentOracle analyzes a captured identity document.
type DocumentOracle interface {
	Analyze(ctx context.Context, ref models.ImageRef, docType id.DocumentType) (*DocumentAnalysis, error)
}

// LivenessAnalysis is the face oracle's liveness output.
type LivenessAnalysis struct {
	LivenessScore float64
	// Checks holds per-challenge results as reported by the oracle.
	Checks map[models.ChallengeID]bool
}

// FaceOracle scores liveness and compares two faces.
type FaceOracle interface {
	AnalyzeLiveness(ctx context.Context, ref models.ImageRef, challenges []models.ChallengeID) (*LivenessAnalysis, error)
	Match(ctx context.Context, docFaceRef, liveFaceRef models.ImageRef) (float64, error)
}

// PreviewChecker runs cheap advisory checks while a capture screen is open.
// Results are never persisted.
type PreviewChecker interface {
	CheckDocumentPreview(ctx context.Context) (float64, error)
	CheckFacePresence(ctx context.Context) (bool, error)
}

// Narrator speaks a localized message. Errors are informational only.
type Narrator interface {
	Speak(ctx context.Context, key string, lang id.Language, params map[string]string) error
}

// Uploader delivers a completed session bundle to the remote verification
// service. Uploads are idempotent on the session id.
type Uploader interface {
	Upload(ctx context.Context, sessionID id.SessionID, payload []byte) (*models.Ack, error)
}

// PreferenceStore persists simple user preferences independently of the record store.
type PreferenceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// SessionStore is the session-facing half of the record store.
type SessionStore interface {
	// CreateSession persists a new in_progress session before returning.
	CreateSession(ctx context.Context, docType id.DocumentType, lang id.Language) (id.SessionID, error)
	GetSession(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.Session, error)
	// SaveChallenges records the liveness sequence once per session.
	SaveChallenges(ctx context.Context, sessionID id.SessionID, challenges []models.ChallengeID) error

	// PutDocumentRecord and PutFaceRecord replace any existing record of that
	// kind. They fail with sentinel.ErrNotFound for unknown or terminal sessions.
	PutDocumentRecord(ctx context.Context, sessionID id.SessionID, record *models.DocumentRecord) error
	PutFaceRecord(ctx context.Context, sessionID id.SessionID, record *models.FaceRecord) error
	GetDocumentRecord(ctx context.Context, sessionID id.SessionID) (*models.DocumentRecord, error)
	GetFaceRecord(ctx context.Context, sessionID id.SessionID) (*models.FaceRecord, error)

	// UpdateSessionStatus allows only in_progress -> completed|failed.
	UpdateSessionStatus(ctx context.Context, sessionID id.SessionID, status models.SessionStatus, overall *float64, reason models.FailureReason) error
	// CompleteSession marks the session completed and inserts its sync task atomically.
	CompleteSession(ctx context.Context, sessionID id.SessionID, overall float64, task *models.SyncTask) error
}

// SyncTaskStore is the outbox half of the record store.
type SyncTaskStore interface {
	ListPendingSyncTasks(ctx context.Context) ([]*models.SyncTask, error)
	ListSyncTasks(ctx context.Context, filter models.SyncFilter) ([]*models.SyncTask, error)
	GetSyncTask(ctx context.Context, sessionID id.SessionID) (*models.SyncTask, error)
	ListDueSyncTasks(ctx context.Context, now time.Time, limit int) ([]*models.SyncTask, error)
	// MarkSyncUploading starts an attempt: pending to uploading, attempts+1.
	MarkSyncUploading(ctx context.Context, sessionID id.SessionID) error
	MarkSyncSynced(ctx context.Context, sessionID id.SessionID) error
	MarkSyncFailedAttempt(ctx context.Context, sessionID id.SessionID, attempts int, lastErr string, nextAttemptAt time.Time, park bool) error
	// RequeueSyncTasks moves parked tasks back to pending, keeping their attempt counts.
	RequeueSyncTasks(ctx context.Context, filter models.SyncFilter) (int, error)
	// ResetStuckUploads returns tasks left uploading by a crash to pending.
	ResetStuckUploads(ctx context.Context) (int, error)
}

// RecordStore is the durable store backing sessions and their outbox.
type RecordStore interface {
	SessionStore
	SyncTaskStore
}
