package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vmodels "kycflow/internal/verification/models"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

func bundleFor(sid id.SessionID, mutate func(*vmodels.Bundle)) []byte {
	overall, match := 0.86, 0.8
	completed := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	b := &vmodels.Bundle{
		SessionID: sid,
		DeviceID:  "device-1",
		Session: &vmodels.Session{
			ID: sid, DocumentType: id.DocumentPAN, Language: id.LanguageEnglish,
			Status: vmodels.SessionCompleted, OverallScore: &overall, CompletedAt: &completed,
			Challenges: []vmodels.ChallengeID{vmodels.ChallengeBlink, vmodels.ChallengeSmile},
		},
		Document: &vmodels.DocumentRecord{SessionID: sid, ImageRef: "doc", QualityScore: 0.9},
		Face:     &vmodels.FaceRecord{SessionID: sid, ImageRef: "face", LivenessScore: 0.88, MatchScore: &match},
		Grade:    "Good",
	}
	if mutate != nil {
		mutate(b)
	}
	out, _ := json.Marshal(b)
	return out
}

func TestFromBundle(t *testing.T) {
	sid := id.NewSessionID()
	received := time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)

	v, err := FromBundle(sid, bundleFor(sid, nil), "device-1", "Android 14/okhttp", received)
	require.NoError(t, err)
	assert.Equal(t, sid, v.SessionID)
	assert.Equal(t, id.DocumentPAN, v.DocumentType)
	assert.InDelta(t, 0.86, v.OverallScore, 1e-9)
	assert.Equal(t, []string{"blink", "smile"}, v.Challenges)
	assert.Equal(t, "Good", v.Grade)
	assert.Equal(t, received, v.ReceivedAt)
	assert.Equal(t, 10, v.CompletedAt.Hour())

	ack := v.Ack(true)
	assert.Equal(t, v.ID.String(), ack.RemoteID)
	assert.True(t, ack.Duplicate)
}

func TestFromBundleRejects(t *testing.T) {
	sid := id.NewSessionID()
	tests := []struct {
		name    string
		payload []byte
		device  string
		code    dErrors.Code
	}{
		{name: "malformed", payload: []byte("{"), code: dErrors.CodeBadRequest},
		{name: "path mismatch", payload: bundleFor(id.NewSessionID(), nil), code: dErrors.CodeValidation},
		{name: "other device", payload: bundleFor(sid, nil), device: "device-2", code: dErrors.CodeForbidden},
		{name: "failed session", payload: bundleFor(sid, func(b *vmodels.Bundle) { b.Session.Status = vmodels.SessionFailed }), code: dErrors.CodeValidation},
		{name: "no face", payload: bundleFor(sid, func(b *vmodels.Bundle) { b.Face = nil }), code: dErrors.CodeValidation},
		{name: "unmatched face", payload: bundleFor(sid, func(b *vmodels.Bundle) { b.Face.MatchScore = nil }), code: dErrors.CodeValidation},
		{name: "no overall", payload: bundleFor(sid, func(b *vmodels.Bundle) { b.Session.OverallScore = nil }), code: dErrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromBundle(sid, tt.payload, tt.device, "", time.Now())
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}
