package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"kycflow/internal/backend/models"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

// InMemory is the test and single-process implementation.
type InMemory struct {
	mu            sync.RWMutex
	verifications map[id.SessionID]*models.Verification
	outbox        []*models.OutboxEntry
}

func NewInMemory() *InMemory {
	return &InMemory{verifications: make(map[id.SessionID]*models.Verification)}
}

func (s *InMemory) Insert(_ context.Context, v *models.Verification) error {
	payload, err := json.Marshal(v.Event())
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.verifications[v.SessionID]; ok {
		return ErrDuplicateSession
	}
	s.verifications[v.SessionID] = clone(v)
	s.outbox = append(s.outbox, &models.OutboxEntry{
		ID:          uuid.New(),
		AggregateID: v.SessionID.String(),
		EventType:   models.EventVerificationIngested,
		Payload:     payload,
		CreatedAt:   v.ReceivedAt,
	})
	return nil
}

func (s *InMemory) FindBySessionID(_ context.Context, sessionID id.SessionID) (*models.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verifications[sessionID]
	if !ok {
		return nil, fmt.Errorf("verification %s: %w", sessionID, sentinel.ErrNotFound)
	}
	return clone(v), nil
}

func (s *InMemory) FetchUnpublished(_ context.Context, limit int) ([]*models.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.OutboxEntry
	for _, e := range s.outbox {
		if e.PublishedAt != nil {
			continue
		}
		cp := *e
		cp.Payload = slices.Clone(e.Payload)
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemory) MarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.outbox {
		if e.PublishedAt == nil && slices.Contains(ids, e.ID) {
			t := at
			e.PublishedAt = &t
		}
	}
	return nil
}

func clone(v *models.Verification) *models.Verification {
	out := *v
	out.Challenges = slices.Clone(v.Challenges)
	out.Payload = slices.Clone(v.Payload)
	return &out
}
