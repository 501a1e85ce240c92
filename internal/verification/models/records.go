package models

import (
	"maps"
	"math"
	"time"

	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// ImageRef is an opaque reference to captured image bytes held by a MediaStore.
type ImageRef string

// DocumentRecord is the accepted result of the document capture stage.
type DocumentRecord struct {
	SessionID       id.SessionID      `json:"session_id"`
	DocumentType    id.DocumentType   `json:"document_type"`
	ImageRef        ImageRef          `json:"image_ref"`
	ExtractedFields map[string]string `json:"extracted_fields"`
	QualityScore    float64           `json:"quality_score"`
	ProcessedAt     time.Time         `json:"processed_at"`
}

// Validate enforces the record invariants before it reaches a store.
func (r *DocumentRecord) Validate() error {
	if r.SessionID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "document record requires a session id")
	}
	if r.ImageRef == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "document record requires an image ref")
	}
	if !ValidScore(r.QualityScore) {
		return dErrors.New(dErrors.CodeInvariantViolation, "document quality score out of range")
	}
	return nil
}

func (r *DocumentRecord) Clone() *DocumentRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.ExtractedFields = maps.Clone(r.ExtractedFields)
	return &out
}

// FaceRecord is the accepted result of the liveness stage, later annotated
// with the match score.
type FaceRecord struct {
	SessionID     id.SessionID  `json:"session_id"`
	ImageRef      ImageRef      `json:"image_ref"`
	LivenessScore float64       `json:"liveness_score"`
	MatchScore    *float64      `json:"match_score,omitempty"`
	Challenges    []ChallengeID `json:"challenges"`
	ProcessedAt   time.Time     `json:"processed_at"`
}

func (r *FaceRecord) Validate() error {
	if r.SessionID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "face record requires a session id")
	}
	if r.ImageRef == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "face record requires an image ref")
	}
	if !ValidScore(r.LivenessScore) {
		return dErrors.New(dErrors.CodeInvariantViolation, "liveness score out of range")
	}
	if r.MatchScore != nil && !ValidScore(*r.MatchScore) {
		return dErrors.New(dErrors.CodeInvariantViolation, "match score out of range")
	}
	return nil
}

func (r *FaceRecord) Clone() *FaceRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.MatchScore != nil {
		v := *r.MatchScore
		out.MatchScore = &v
	}
	out.Challenges = append([]ChallengeID(nil), r.Challenges...)
	return &out
}

// ValidScore reports whether v is a finite value in [0,1].
func ValidScore(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
