package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kycflow/internal/verification/models"
	"kycflow/internal/verification/ports"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// RecordStoreSuite is run against every RecordStore implementation.
type RecordStoreSuite struct {
	suite.Suite
	newStore func(t *testing.T, now func() time.Time) ports.RecordStore
	store    ports.RecordStore
	clock    *clock
	ctx      context.Context
}

func (s *RecordStoreSuite) SetupTest() {
	s.clock = &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s.store = s.newStore(s.T(), s.clock.Now)
	s.ctx = context.Background()
}

func TestInMemoryRecordStore(t *testing.T) {
	suite.Run(t, &RecordStoreSuite{newStore: func(_ *testing.T, now func() time.Time) ports.RecordStore {
		return NewInMemory(WithMemoryClock(now))
	}})
}

func TestSQLiteRecordStore(t *testing.T) {
	suite.Run(t, &RecordStoreSuite{newStore: func(t *testing.T, now func() time.Time) ports.RecordStore {
		st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "kyc.db"), WithSQLiteClock(now))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	}})
}

func (s *RecordStoreSuite) newSession() id.SessionID {
	sid, err := s.store.CreateSession(s.ctx, id.DocumentAadhaar, id.LanguageTamil)
	s.Require().NoError(err)
	return sid
}

func (s *RecordStoreSuite) doc(score float64) *models.DocumentRecord {
	return &models.DocumentRecord{
		DocumentType:    id.DocumentAadhaar,
		ImageRef:        "media/doc-1.jpg",
		ExtractedFields: map[string]string{"name": "A. Kumar", "number": "XXXX-1234"},
		QualityScore:    score,
		ProcessedAt:     s.clock.Now(),
	}
}

func (s *RecordStoreSuite) face(match *float64) *models.FaceRecord {
	return &models.FaceRecord{
		ImageRef:      "media/face-1.jpg",
		LivenessScore: 0.9,
		MatchScore:    match,
		Challenges:    []models.ChallengeID{models.ChallengeBlink, models.ChallengeSmile, models.ChallengeTurnLeft},
		ProcessedAt:   s.clock.Now(),
	}
}

// completeSession drives sid to completed with a pending sync task.
func (s *RecordStoreSuite) completeSession(sid id.SessionID) {
	match := 0.8
	s.Require().NoError(s.store.PutDocumentRecord(s.ctx, sid, s.doc(0.85)))
	s.Require().NoError(s.store.PutFaceRecord(s.ctx, sid, s.face(&match)))
	task, err := models.NewSyncTask(&models.Bundle{SessionID: sid}, s.clock.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.CompleteSession(s.ctx, sid, 0.85, task))
}

func (s *RecordStoreSuite) TestSessionLifecycle() {
	s.Run("creates in_progress session", func() {
		sid := s.newSession()
		got, err := s.store.GetSession(s.ctx, sid)
		s.Require().NoError(err)
		s.Equal(models.SessionInProgress, got.Status)
		s.Equal(id.DocumentAadhaar, got.DocumentType)
		s.Equal(id.LanguageTamil, got.Language)
		s.Equal(models.SyncNone, got.SyncStatus)
		s.Nil(got.CompletedAt)
		s.Nil(got.OverallScore)
	})

	s.Run("unknown session is not found", func() {
		_, err := s.store.GetSession(s.ctx, id.NewSessionID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("failed is terminal", func() {
		sid := s.newSession()
		s.Require().NoError(s.store.UpdateSessionStatus(s.ctx, sid, models.SessionFailed, nil, models.FailureOracle))

		got, err := s.store.GetSession(s.ctx, sid)
		s.Require().NoError(err)
		s.Equal(models.SessionFailed, got.Status)
		s.Equal(models.FailureOracle, got.FailureReason)
		s.NotNil(got.CompletedAt)

		err = s.store.UpdateSessionStatus(s.ctx, sid, models.SessionCompleted, nil, models.FailureNone)
		s.ErrorIs(err, ErrInvalidTransition)
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("completed requires both records", func() {
		sid := s.newSession()
		score := 0.9
		err := s.store.UpdateSessionStatus(s.ctx, sid, models.SessionCompleted, &score, models.FailureNone)
		s.ErrorIs(err, ErrInvalidTransition)

		s.Require().NoError(s.store.PutDocumentRecord(s.ctx, sid, s.doc(0.8)))
		s.Require().NoError(s.store.PutFaceRecord(s.ctx, sid, s.face(nil)))
		err = s.store.UpdateSessionStatus(s.ctx, sid, models.SessionCompleted, &score, models.FailureNone)
		s.ErrorIs(err, ErrInvalidTransition, "face record still lacks a match score")
	})
}

func (s *RecordStoreSuite) TestRecords() {
	s.Run("document upsert replaces the previous record", func() {
		sid := s.newSession()
		s.Require().NoError(s.store.PutDocumentRecord(s.ctx, sid, s.doc(0.72)))
		replacement := s.doc(0.91)
		replacement.ImageRef = "media/doc-2.jpg"
		s.Require().NoError(s.store.PutDocumentRecord(s.ctx, sid, replacement))

		got, err := s.store.GetDocumentRecord(s.ctx, sid)
		s.Require().NoError(err)
		s.Equal(0.91, got.QualityScore)
		s.Equal(models.ImageRef("media/doc-2.jpg"), got.ImageRef)
		s.Equal("A. Kumar", got.ExtractedFields["name"])
		s.Equal(sid, got.SessionID)
		s.True(got.ProcessedAt.Equal(s.clock.Now()))
	})

	s.Run("face record requires a document record first", func() {
		sid := s.newSession()
		err := s.store.PutFaceRecord(s.ctx, sid, s.face(nil))
		s.ErrorIs(err, ErrInvalidTransition)
	})

	s.Run("face record keeps challenge order and optional match", func() {
		sid := s.newSession()
		s.Require().NoError(s.store.PutDocumentRecord(s.ctx, sid, s.doc(0.8)))
		s.Require().NoError(s.store.PutFaceRecord(s.ctx, sid, s.face(nil)))

		got, err := s.store.GetFaceRecord(s.ctx, sid)
		s.Require().NoError(err)
		s.Nil(got.MatchScore)
		s.Equal([]models.ChallengeID{models.ChallengeBlink, models.ChallengeSmile, models.ChallengeTurnLeft}, got.Challenges)

		match := 0.77
		s.Require().NoError(s.store.PutFaceRecord(s.ctx, sid, s.face(&match)))
		got, err = s.store.GetFaceRecord(s.ctx, sid)
		s.Require().NoError(err)
		s.Require().NotNil(got.MatchScore)
		s.Equal(0.77, *got.MatchScore)
	})

	s.Run("writes to unknown or terminal sessions are not found", func() {
		err := s.store.PutDocumentRecord(s.ctx, id.NewSessionID(), s.doc(0.8))
		s.ErrorIs(err, sentinel.ErrNotFound)

		sid := s.newSession()
		s.Require().NoError(s.store.UpdateSessionStatus(s.ctx, sid, models.SessionFailed, nil, models.FailureVerdict))
		err = s.store.PutDocumentRecord(s.ctx, sid, s.doc(0.8))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("out of range scores are rejected", func() {
		sid := s.newSession()
		s.Error(s.store.PutDocumentRecord(s.ctx, sid, s.doc(1.5)))
		_, err := s.store.GetDocumentRecord(s.ctx, sid)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned records are snapshots", func() {
		sid := s.newSession()
		s.Require().NoError(s.store.PutDocumentRecord(s.ctx, sid, s.doc(0.8)))
		got, err := s.store.GetDocumentRecord(s.ctx, sid)
		s.Require().NoError(err)
		got.ExtractedFields["name"] = "tampered"

		again, err := s.store.GetDocumentRecord(s.ctx, sid)
		s.Require().NoError(err)
		s.Equal("A. Kumar", again.ExtractedFields["name"])
	})
}

func (s *RecordStoreSuite) TestChallenges() {
	sid := s.newSession()
	seq := []models.ChallengeID{models.ChallengeSmile, models.ChallengeBlink, models.ChallengeTurnRight}
	s.Require().NoError(s.store.SaveChallenges(s.ctx, sid, seq))
	s.Require().NoError(s.store.SaveChallenges(s.ctx, sid, seq), "saving the same sequence is idempotent")

	err := s.store.SaveChallenges(s.ctx, sid, []models.ChallengeID{models.ChallengeBlink, models.ChallengeSmile, models.ChallengeTurnRight})
	s.ErrorIs(err, ErrChallengesFixed)

	err = s.store.SaveChallenges(s.ctx, s.newSession(), []models.ChallengeID{models.ChallengeBlink, models.ChallengeBlink})
	s.ErrorIs(err, ErrInvalidTransition)

	got, err := s.store.GetSession(s.ctx, sid)
	s.Require().NoError(err)
	s.Equal(seq, got.Challenges)
}

func (s *RecordStoreSuite) TestCompleteSessionEnqueuesTask() {
	sid := s.newSession()
	s.completeSession(sid)

	session, err := s.store.GetSession(s.ctx, sid)
	s.Require().NoError(err)
	s.Equal(models.SessionCompleted, session.Status)
	s.Require().NotNil(session.OverallScore)
	s.Equal(0.85, *session.OverallScore)
	s.Equal(models.SyncPending, session.SyncStatus)

	task, err := s.store.GetSyncTask(s.ctx, sid)
	s.Require().NoError(err)
	s.Equal(models.SyncTaskPending, task.Status)
	s.Equal(0, task.Attempts)
	s.Contains(string(task.Payload), sid.String())

	pending, err := s.store.ListPendingSyncTasks(s.ctx)
	s.Require().NoError(err)
	s.Len(pending, 1)

	task2, err := models.NewSyncTask(&models.Bundle{SessionID: sid}, s.clock.Now())
	s.Require().NoError(err)
	s.ErrorIs(s.store.CompleteSession(s.ctx, sid, 0.85, task2), ErrInvalidTransition)
}

func (s *RecordStoreSuite) TestSyncTaskTransitions() {
	sid := s.newSession()
	s.completeSession(sid)

	s.Run("due tasks respect next_attempt_at", func() {
		due, err := s.store.ListDueSyncTasks(s.ctx, s.clock.Now(), 10)
		s.Require().NoError(err)
		s.Len(due, 1)

		s.Require().NoError(s.store.MarkSyncUploading(s.ctx, sid))
		s.ErrorIs(s.store.MarkSyncUploading(s.ctx, sid), ErrInvalidTransition)
		task, err := s.store.GetSyncTask(s.ctx, sid)
		s.Require().NoError(err)
		s.Equal(1, task.Attempts, "starting an upload counts as an attempt")

		next := s.clock.Now().Add(time.Minute)
		s.Require().NoError(s.store.MarkSyncFailedAttempt(s.ctx, sid, 1, "connection refused", next, false))

		due, err = s.store.ListDueSyncTasks(s.ctx, s.clock.Now(), 10)
		s.Require().NoError(err)
		s.Empty(due)
		due, err = s.store.ListDueSyncTasks(s.ctx, next, 10)
		s.Require().NoError(err)
		s.Len(due, 1)
		s.Equal(1, due[0].Attempts)
		s.Equal("connection refused", due[0].LastError)
	})

	s.Run("attempts never decrease", func() {
		err := s.store.MarkSyncFailedAttempt(s.ctx, sid, 0, "x", s.clock.Now(), false)
		s.ErrorIs(err, ErrInvalidTransition)
	})

	s.Run("parked tasks requeue with attempts preserved", func() {
		s.Require().NoError(s.store.MarkSyncUploading(s.ctx, sid))
		s.Require().NoError(s.store.MarkSyncFailedAttempt(s.ctx, sid, 2, "503", s.clock.Now(), true))

		session, err := s.store.GetSession(s.ctx, sid)
		s.Require().NoError(err)
		s.Equal(models.SyncFailed, session.SyncStatus)

		n, err := s.store.RequeueSyncTasks(s.ctx, models.SyncFilter{ParkedBefore: s.clock.Now()})
		s.Require().NoError(err)
		s.Equal(0, n, "parked at exactly now is not older than now")

		s.clock.Advance(time.Hour)
		n, err = s.store.RequeueSyncTasks(s.ctx, models.SyncFilter{ParkedBefore: s.clock.Now()})
		s.Require().NoError(err)
		s.Equal(1, n)

		task, err := s.store.GetSyncTask(s.ctx, sid)
		s.Require().NoError(err)
		s.Equal(models.SyncTaskPending, task.Status)
		s.Equal(2, task.Attempts)
		s.True(task.NextAttemptAt.Equal(s.clock.Now()))
	})

	s.Run("stuck uploads reset to pending", func() {
		s.Require().NoError(s.store.MarkSyncUploading(s.ctx, sid))
		n, err := s.store.ResetStuckUploads(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, n)

		task, err := s.store.GetSyncTask(s.ctx, sid)
		s.Require().NoError(err)
		s.Equal(models.SyncTaskPending, task.Status)
	})

	s.Run("synced is final and idempotent", func() {
		s.Require().NoError(s.store.MarkSyncUploading(s.ctx, sid))
		s.Require().NoError(s.store.MarkSyncSynced(s.ctx, sid))
		s.Require().NoError(s.store.MarkSyncSynced(s.ctx, sid))

		task, err := s.store.GetSyncTask(s.ctx, sid)
		s.Require().NoError(err)
		s.Equal(models.SyncTaskSynced, task.Status)
		s.NotNil(task.SyncedAt)
		s.Empty(task.LastError)
		s.Equal(4, task.Attempts)

		session, err := s.store.GetSession(s.ctx, sid)
		s.Require().NoError(err)
		s.Equal(models.SyncSynced, session.SyncStatus)
		s.ErrorIs(s.store.MarkSyncFailedAttempt(s.ctx, sid, 3, "late", s.clock.Now(), false), ErrInvalidTransition)
	})
}

func (s *RecordStoreSuite) TestListSessions() {
	first := s.newSession()
	s.clock.Advance(time.Second)
	second := s.newSession()
	s.Require().NoError(s.store.UpdateSessionStatus(s.ctx, second, models.SessionFailed, nil, models.FailureOracle))

	all, err := s.store.ListSessions(s.ctx, models.SessionFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(second, all[0].ID, "newest first")

	live, err := s.store.ListSessions(s.ctx, models.SessionFilter{Status: models.SessionInProgress})
	s.Require().NoError(err)
	s.Require().Len(live, 1)
	s.Equal(first, live[0].ID)

	limited, err := s.store.ListSessions(s.ctx, models.SessionFilter{Limit: 1})
	s.Require().NoError(err)
	s.Len(limited, 1)
}
