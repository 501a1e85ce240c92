package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/backend/models"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

func newVerification() *models.Verification {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &models.Verification{
		ID:           uuid.New(),
		SessionID:    id.NewSessionID(),
		DeviceID:     "device-1",
		DocumentType: id.DocumentPassport,
		OverallScore: 0.9,
		Grade:        "Excellent",
		Challenges:   []string{"blink", "turn_left"},
		Payload:      json.RawMessage(`{}`),
		CompletedAt:  now,
		ReceivedAt:   now,
	}
}

func TestInMemoryInsertIsUniquePerSession(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	v := newVerification()

	require.NoError(t, s.Insert(ctx, v))

	replay := *v
	replay.ID = uuid.New()
	err := s.Insert(ctx, &replay)
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	got, err := s.FindBySessionID(ctx, v.SessionID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID, "the first row wins")

	entries, err := s.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "a rejected replay writes no event")
}

func TestInMemoryFindMissing(t *testing.T) {
	_, err := NewInMemory().FindBySessionID(context.Background(), id.NewSessionID())
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestInMemoryOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	for range 3 {
		require.NoError(t, s.Insert(ctx, newVerification()))
	}

	first, err := s.FetchUnpublished(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, models.EventVerificationIngested, first[0].EventType)

	var event models.IngestedEvent
	require.NoError(t, json.Unmarshal(first[0].Payload, &event))
	assert.Equal(t, first[0].AggregateID, event.SessionID)

	require.NoError(t, s.MarkPublished(ctx, []uuid.UUID{first[0].ID, first[1].ID}, time.Now()))

	rest, err := s.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	assert.NotEqual(t, first[0].ID, rest[0].ID)
}
