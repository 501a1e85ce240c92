package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"kycflow/internal/verification/models"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

// InMemory is a RecordStore for tests and ephemeral runs. All reads return
// deep copies so callers never observe a half-applied write.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*models.Session
	docs     map[id.SessionID]*models.DocumentRecord
	faces    map[id.SessionID]*models.FaceRecord
	tasks    map[id.SessionID]*models.SyncTask
	now      func() time.Time
}

type MemoryOption func(*InMemory)

// WithMemoryClock injects the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *InMemory) {
		s.now = now
	}
}

func NewInMemory(opts ...MemoryOption) *InMemory {
	s := &InMemory{
		sessions: make(map[id.SessionID]*models.Session),
		docs:     make(map[id.SessionID]*models.DocumentRecord),
		faces:    make(map[id.SessionID]*models.FaceRecord),
		tasks:    make(map[id.SessionID]*models.SyncTask),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) CreateSession(_ context.Context, docType id.DocumentType, lang id.Language) (id.SessionID, error) {
	session, err := models.NewSession(id.NewSessionID(), docType, lang, s.now().UTC())
	if err != nil {
		return id.SessionID{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return session.ID, nil
}

func (s *InMemory) GetSession(_ context.Context, sessionID id.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, notFound("session", sessionID)
	}
	return session.Clone(), nil
}

func (s *InMemory) ListSessions(_ context.Context, filter models.SessionFilter) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if filter.Status != "" && session.Status != filter.Status {
			continue
		}
		out = append(out, session.Clone())
	}
	slices.SortFunc(out, func(a, b *models.Session) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *InMemory) SaveChallenges(_ context.Context, sessionID id.SessionID, challenges []models.ChallengeID) error {
	if err := validateChallenges(challenges); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.liveSession(sessionID)
	if err != nil {
		return err
	}
	if len(session.Challenges) > 0 {
		if slices.Equal(session.Challenges, challenges) {
			return nil
		}
		return ErrChallengesFixed
	}
	session.Challenges = slices.Clone(challenges)
	return nil
}

func (s *InMemory) PutDocumentRecord(_ context.Context, sessionID id.SessionID, record *models.DocumentRecord) error {
	if record == nil {
		return errNilRecord
	}
	rec := record.Clone()
	rec.SessionID = sessionID
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.liveSession(sessionID); err != nil {
		return err
	}
	s.docs[sessionID] = rec
	return nil
}

func (s *InMemory) PutFaceRecord(_ context.Context, sessionID id.SessionID, record *models.FaceRecord) error {
	if record == nil {
		return errNilRecord
	}
	rec := record.Clone()
	rec.SessionID = sessionID
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.liveSession(sessionID); err != nil {
		return err
	}
	if _, ok := s.docs[sessionID]; !ok {
		return fmt.Errorf("face record before document record: %w", ErrInvalidTransition)
	}
	s.faces[sessionID] = rec
	return nil
}

func (s *InMemory) GetDocumentRecord(_ context.Context, sessionID id.SessionID) (*models.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[sessionID]
	if !ok {
		return nil, notFound("document record", sessionID)
	}
	return rec.Clone(), nil
}

func (s *InMemory) GetFaceRecord(_ context.Context, sessionID id.SessionID) (*models.FaceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.faces[sessionID]
	if !ok {
		return nil, notFound("face record", sessionID)
	}
	return rec.Clone(), nil
}

func (s *InMemory) UpdateSessionStatus(_ context.Context, sessionID id.SessionID, status models.SessionStatus, overall *float64, reason models.FailureReason) error {
	if overall != nil && !models.ValidScore(*overall) {
		return fmt.Errorf("overall score %v: %w", *overall, ErrInvalidTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return notFound("session", sessionID)
	}
	if !session.Status.CanTransitionTo(status) {
		return fmt.Errorf("session %s %s -> %s: %w", sessionID, session.Status, status, ErrInvalidTransition)
	}
	if status == models.SessionCompleted {
		if err := s.checkCompletable(sessionID); err != nil {
			return err
		}
	}
	applyTerminal(session, status, overall, reason, s.now().UTC())
	return nil
}

func (s *InMemory) CompleteSession(_ context.Context, sessionID id.SessionID, overall float64, task *models.SyncTask) error {
	if !models.ValidScore(overall) {
		return fmt.Errorf("overall score %v: %w", overall, ErrInvalidTransition)
	}
	if task == nil || task.SessionID != sessionID {
		return fmt.Errorf("sync task does not belong to session %s: %w", sessionID, ErrInvalidTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return notFound("session", sessionID)
	}
	if !session.Status.CanTransitionTo(models.SessionCompleted) {
		return fmt.Errorf("session %s %s -> completed: %w", sessionID, session.Status, ErrInvalidTransition)
	}
	if err := s.checkCompletable(sessionID); err != nil {
		return err
	}
	if _, exists := s.tasks[sessionID]; exists {
		return fmt.Errorf("sync task for %s: %w", sessionID, sentinel.ErrConflict)
	}
	now := s.now().UTC()
	applyTerminal(session, models.SessionCompleted, &overall, models.FailureNone, now)
	stored := task.Clone()
	stored.Status = models.SyncTaskPending
	session.SyncStatus = models.SyncPending
	s.tasks[sessionID] = stored
	return nil
}

func (s *InMemory) ListPendingSyncTasks(ctx context.Context) ([]*models.SyncTask, error) {
	return s.ListSyncTasks(ctx, models.SyncFilter{Status: models.SyncTaskPending})
}

func (s *InMemory) ListSyncTasks(_ context.Context, filter models.SyncFilter) ([]*models.SyncTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.SyncTask
	for _, task := range s.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.SessionID != nil && task.SessionID != *filter.SessionID {
			continue
		}
		out = append(out, task.Clone())
	}
	slices.SortFunc(out, func(a, b *models.SyncTask) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *InMemory) GetSyncTask(_ context.Context, sessionID id.SessionID) (*models.SyncTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[sessionID]
	if !ok {
		return nil, notFound("sync task", sessionID)
	}
	return task.Clone(), nil
}

func (s *InMemory) ListDueSyncTasks(_ context.Context, now time.Time, limit int) ([]*models.SyncTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.SyncTask
	for _, task := range s.tasks {
		if task.Status == models.SyncTaskPending && !task.NextAttemptAt.After(now) {
			out = append(out, task.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.SyncTask) int { return a.NextAttemptAt.Compare(b.NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) MarkSyncUploading(_ context.Context, sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[sessionID]
	if !ok {
		return notFound("sync task", sessionID)
	}
	if task.Status != models.SyncTaskPending {
		return fmt.Errorf("sync task %s %s -> uploading: %w", sessionID, task.Status, ErrInvalidTransition)
	}
	task.Attempts++
	s.setTaskStatus(task, models.SyncTaskUploading, s.now().UTC())
	return nil
}

func (s *InMemory) MarkSyncSynced(_ context.Context, sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[sessionID]
	if !ok {
		return notFound("sync task", sessionID)
	}
	switch task.Status {
	case models.SyncTaskSynced:
		return nil
	case models.SyncTaskFailed:
		return fmt.Errorf("sync task %s failed -> synced: %w", sessionID, ErrInvalidTransition)
	}
	now := s.now().UTC()
	task.SyncedAt = &now
	task.LastError = ""
	s.setTaskStatus(task, models.SyncTaskSynced, now)
	return nil
}

func (s *InMemory) MarkSyncFailedAttempt(_ context.Context, sessionID id.SessionID, attempts int, lastErr string, nextAttemptAt time.Time, park bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[sessionID]
	if !ok {
		return notFound("sync task", sessionID)
	}
	if task.Status == models.SyncTaskSynced {
		return fmt.Errorf("sync task %s already synced: %w", sessionID, ErrInvalidTransition)
	}
	if attempts < task.Attempts {
		return fmt.Errorf("sync task %s attempts %d < %d: %w", sessionID, attempts, task.Attempts, ErrInvalidTransition)
	}
	task.Attempts = attempts
	task.LastError = lastErr
	task.NextAttemptAt = nextAttemptAt.UTC()
	status := models.SyncTaskPending
	if park {
		status = models.SyncTaskFailed
	}
	s.setTaskStatus(task, status, s.now().UTC())
	return nil
}

func (s *InMemory) RequeueSyncTasks(_ context.Context, filter models.SyncFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	n := 0
	for _, task := range s.tasks {
		if task.Status != models.SyncTaskFailed {
			continue
		}
		if filter.SessionID != nil && task.SessionID != *filter.SessionID {
			continue
		}
		if !filter.ParkedBefore.IsZero() && !task.UpdatedAt.Before(filter.ParkedBefore) {
			continue
		}
		task.NextAttemptAt = now
		s.setTaskStatus(task, models.SyncTaskPending, now)
		n++
	}
	return n, nil
}

func (s *InMemory) ResetStuckUploads(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	n := 0
	for _, task := range s.tasks {
		if task.Status == models.SyncTaskUploading {
			s.setTaskStatus(task, models.SyncTaskPending, now)
			n++
		}
	}
	return n, nil
}

// liveSession returns the stored in_progress session. Terminal sessions are
// reported as not found for record writes.
func (s *InMemory) liveSession(sessionID id.SessionID) (*models.Session, error) {
	session, ok := s.sessions[sessionID]
	if !ok || session.IsTerminal() {
		return nil, notFound("in-progress session", sessionID)
	}
	return session, nil
}

func (s *InMemory) checkCompletable(sessionID id.SessionID) error {
	if _, ok := s.docs[sessionID]; !ok {
		return fmt.Errorf("complete %s without document record: %w", sessionID, ErrInvalidTransition)
	}
	face, ok := s.faces[sessionID]
	if !ok || face.MatchScore == nil {
		return fmt.Errorf("complete %s without matched face record: %w", sessionID, ErrInvalidTransition)
	}
	return nil
}

func (s *InMemory) setTaskStatus(task *models.SyncTask, status models.SyncTaskStatus, now time.Time) {
	task.Status = status
	task.UpdatedAt = now
	if session, ok := s.sessions[task.SessionID]; ok {
		session.SyncStatus = status.SyncStatus()
	}
}

func applyTerminal(session *models.Session, status models.SessionStatus, overall *float64, reason models.FailureReason, now time.Time) {
	session.Status = status
	session.CompletedAt = &now
	if overall != nil {
		v := *overall
		session.OverallScore = &v
	}
	if status == models.SessionFailed {
		session.FailureReason = reason
	}
}

func validateChallenges(challenges []models.ChallengeID) error {
	if len(challenges) == 0 {
		return fmt.Errorf("empty challenge sequence: %w", ErrInvalidTransition)
	}
	seen := make(map[models.ChallengeID]bool, len(challenges))
	for _, c := range challenges {
		if !c.IsValid() || seen[c] {
			return fmt.Errorf("invalid challenge sequence %v: %w", challenges, ErrInvalidTransition)
		}
		seen[c] = true
	}
	return nil
}

func notFound(kind string, sessionID id.SessionID) error {
	return fmt.Errorf("%s %s: %w", kind, sessionID, sentinel.ErrNotFound)
}
