package models

import (
	"encoding/json"
	"time"

	id "kycflow/pkg/domain"
)

// SyncTaskStatus is the outbox status of a completed session.
type SyncTaskStatus string

const (
	SyncTaskPending   SyncTaskStatus = "pending"
	SyncTaskUploading SyncTaskStatus = "uploading"
	SyncTaskSynced    SyncTaskStatus = "synced"
	SyncTaskFailed    SyncTaskStatus = "failed"
)

// SyncStatus maps the task status onto the session annotation.
func (s SyncTaskStatus) SyncStatus() SyncStatus {
	switch s {
	case SyncTaskPending:
		return SyncPending
	case SyncTaskUploading:
		return SyncUploading
	case SyncTaskSynced:
		return SyncSynced
	case SyncTaskFailed:
		return SyncFailed
	default:
		return SyncNone
	}
}

// SyncTask is one outbox entry. Attempts never decrease and the task is kept
// until synced.
type SyncTask struct {
	SessionID     id.SessionID    `json:"session_id"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	Status        SyncTaskStatus  `json:"status"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	SyncedAt      *time.Time      `json:"synced_at,omitempty"`
}

func (t *SyncTask) Clone() *SyncTask {
	if t == nil {
		return nil
	}
	out := *t
	out.Payload = append(json.RawMessage(nil), t.Payload...)
	if t.SyncedAt != nil {
		v := *t.SyncedAt
		out.SyncedAt = &v
	}
	return &out
}

// SyncFilter selects tasks for RequeueSyncTasks and listing.
type SyncFilter struct {
	Status    SyncTaskStatus
	SessionID *id.SessionID
	// ParkedBefore limits a requeue to tasks whose last update is older than this.
	ParkedBefore time.Time
}

// Bundle is the payload uploaded for a completed session. The session id is
// the idempotency key on the remote side.
type Bundle struct {
	SessionID id.SessionID    `json:"session_id"`
	DeviceID  string          `json:"device_id,omitempty"`
	Session   *Session        `json:"session"`
	Document  *DocumentRecord `json:"document"`
	Face      *FaceRecord     `json:"face"`
	Grade     string          `json:"grade"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewSyncTask snapshots bundle into a pending task due immediately.
func NewSyncTask(bundle *Bundle, now time.Time) (*SyncTask, error) {
	payload, err := json.Marshal(bundle)
	if err != nil {
		return nil, err
	}
	return &SyncTask{
		SessionID:     bundle.SessionID,
		Payload:       payload,
		Status:        SyncTaskPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Ack is the remote service's acknowledgement of an upload.
type Ack struct {
	SessionID  id.SessionID `json:"session_id"`
	RemoteID   string       `json:"remote_id,omitempty"`
	Duplicate  bool         `json:"duplicate"`
	ReceivedAt time.Time    `json:"received_at"`
}
