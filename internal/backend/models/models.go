// Package models holds the backend's view of uploaded verifications.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	vmodels "kycflow/internal/verification/models"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// EventVerificationIngested is the outbox event type for a newly stored verification.
const EventVerificationIngested = "verification.ingested"

// Verification is one completed session received from a device. SessionID
// is unique: a replayed upload resolves to the existing row.
type Verification struct {
	ID           uuid.UUID       `json:"id"`
	SessionID    id.SessionID    `json:"session_id"`
	DeviceID     string          `json:"device_id"`
	Platform     string          `json:"platform,omitempty"`
	DocumentType id.DocumentType `json:"document_type"`
	OverallScore float64         `json:"overall_score"`
	Grade        string          `json:"grade"`
	Challenges   []string        `json:"challenges"`
	Payload      json.RawMessage `json:"payload"`
	CompletedAt  time.Time       `json:"completed_at"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// Ack is returned to the device. Its fields line up with the device-side ack.
type Ack struct {
	SessionID  id.SessionID `json:"session_id"`
	RemoteID   string       `json:"remote_id"`
	Duplicate  bool         `json:"duplicate"`
	ReceivedAt time.Time    `json:"received_at"`
}

func (v *Verification) Ack(duplicate bool) *Ack {
	return &Ack{SessionID: v.SessionID, RemoteID: v.ID.String(), Duplicate: duplicate, ReceivedAt: v.ReceivedAt}
}

// OutboxEntry is an event waiting to be published to Kafka.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// IngestedEvent is the payload published for EventVerificationIngested.
type IngestedEvent struct {
	VerificationID string    `json:"verification_id"`
	SessionID      string    `json:"session_id"`
	DeviceID       string    `json:"device_id"`
	DocumentType   string    `json:"document_type"`
	OverallScore   float64   `json:"overall_score"`
	Grade          string    `json:"grade"`
	ReceivedAt     time.Time `json:"received_at"`
}

func (v *Verification) Event() IngestedEvent {
	return IngestedEvent{
		VerificationID: v.ID.String(),
		SessionID:      v.SessionID.String(),
		DeviceID:       v.DeviceID,
		DocumentType:   string(v.DocumentType),
		OverallScore:   v.OverallScore,
		Grade:          v.Grade,
		ReceivedAt:     v.ReceivedAt,
	}
}

// FromBundle validates an uploaded bundle and builds the row to store.
// Only completed sessions with both records and a match score are accepted.
func FromBundle(sessionID id.SessionID, payload []byte, deviceID, platform string, receivedAt time.Time) (*Verification, error) {
	var bundle vmodels.Bundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed verification bundle")
	}
	if bundle.SessionID != sessionID {
		return nil, dErrors.New(dErrors.CodeValidation, "bundle session id does not match the request path")
	}
	if bundle.DeviceID != "" && deviceID != "" && bundle.DeviceID != deviceID {
		return nil, dErrors.New(dErrors.CodeForbidden, "bundle was produced by another device")
	}
	s := bundle.Session
	switch {
	case s == nil:
		return nil, dErrors.New(dErrors.CodeValidation, "bundle has no session")
	case s.Status != vmodels.SessionCompleted:
		return nil, dErrors.New(dErrors.CodeValidation, "only completed sessions can be uploaded")
	case s.OverallScore == nil || !vmodels.ValidScore(*s.OverallScore):
		return nil, dErrors.New(dErrors.CodeValidation, "bundle has no valid overall score")
	case bundle.Document == nil:
		return nil, dErrors.New(dErrors.CodeValidation, "bundle has no document record")
	case bundle.Face == nil || bundle.Face.MatchScore == nil:
		return nil, dErrors.New(dErrors.CodeValidation, "bundle has no matched face record")
	}
	if deviceID == "" {
		deviceID = bundle.DeviceID
	}

	completedAt := receivedAt
	if s.CompletedAt != nil {
		completedAt = *s.CompletedAt
	}
	challenges := make([]string, 0, len(s.Challenges))
	for _, c := range s.Challenges {
		challenges = append(challenges, string(c))
	}
	return &Verification{
		ID:           uuid.New(),
		SessionID:    sessionID,
		DeviceID:     deviceID,
		Platform:     platform,
		DocumentType: s.DocumentType,
		OverallScore: *s.OverallScore,
		Grade:        bundle.Grade,
		Challenges:   challenges,
		Payload:      append(json.RawMessage(nil), payload...),
		CompletedAt:  completedAt.UTC(),
		ReceivedAt:   receivedAt.UTC(),
	}, nil
}
