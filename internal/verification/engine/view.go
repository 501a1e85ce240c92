package engine

import (
	"context"
	"errors"
	"slices"
	"time"

	"kycflow/internal/verification/models"
	"kycflow/internal/verification/quality"
	"kycflow/internal/verification/scoring"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

// StageResult is the gate decision for one evaluated stage.
type StageResult struct {
	Kind     models.ScoreKind       `json:"kind"`
	Stage    models.State           `json:"stage"`
	Outcome  quality.Outcome        `json:"outcome"`
	Score    *float64               `json:"score,omitempty"`
	Feedback []quality.FeedbackCode `json:"feedback,omitempty"`
	// TimedOut is set when the oracle did not answer in time.
	TimedOut    bool          `json:"timed_out,omitempty"`
	RetriesLeft int           `json:"retries_left"`
	Grade       scoring.Grade `json:"grade,omitempty"`
}

// Result is what a capture operation produced. Submitting a face photo can
// evaluate liveness, matching and the overall verdict in one call.
type Result struct {
	Steps []StageResult `json:"steps"`
	View  *View         `json:"session"`
}

func (r *Result) add(step StageResult) {
	r.Steps = append(r.Steps, step)
}

// Scores holds the persisted stage scores known so far.
type Scores struct {
	Document *float64 `json:"document,omitempty"`
	Liveness *float64 `json:"liveness,omitempty"`
	Match    *float64 `json:"match,omitempty"`
	Overall  *float64 `json:"overall,omitempty"`
}

// View is a read-only snapshot of a session for callers.
type View struct {
	SessionID     id.SessionID             `json:"session_id"`
	DocumentType  id.DocumentType          `json:"document_type"`
	Language      id.Language              `json:"language"`
	Status        models.SessionStatus     `json:"status"`
	State         models.State             `json:"state"`
	Challenges    []models.ChallengeID     `json:"challenges,omitempty"`
	Acknowledged  int                      `json:"acknowledged"`
	NextChallenge models.ChallengeID       `json:"next_challenge,omitempty"`
	Retries       map[models.ScoreKind]int `json:"retries,omitempty"`
	LastStep      *StageResult             `json:"last_step,omitempty"`
	Scores        Scores                   `json:"scores"`
	Grade         scoring.Grade            `json:"grade,omitempty"`
	FailureReason models.FailureReason     `json:"failure_reason,omitempty"`
	SyncStatus    models.SyncStatus        `json:"sync_status"`
	CreatedAt     time.Time                `json:"created_at"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
}

// view reads the persisted session and overlays the live flow, if any.
func (e *Engine) view(ctx context.Context, sessionID id.SessionID, f *flow) (*View, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	v := &View{
		SessionID:     session.ID,
		DocumentType:  session.DocumentType,
		Language:      session.Language,
		Status:        session.Status,
		Challenges:    slices.Clone(session.Challenges),
		Scores:        Scores{Overall: session.OverallScore},
		FailureReason: session.FailureReason,
		SyncStatus:    session.SyncStatus,
		CreatedAt:     session.CreatedAt,
		CompletedAt:   session.CompletedAt,
	}
	if session.OverallScore != nil {
		v.Grade = scoring.GradeFor(*session.OverallScore)
	}
	if err := e.scoresFromStore(ctx, sessionID, v); err != nil {
		return nil, err
	}

	switch {
	case session.Status == models.SessionCompleted:
		v.State = models.StateCompleted
	case session.Status == models.SessionFailed:
		v.State = models.StateFailed
	case f != nil && f.currentState() != "":
		f.mu.RLock()
		v.State = f.state
		v.Challenges = slices.Clone(f.challenges)
		v.Acknowledged = f.acked
		if f.acked < len(f.challenges) && f.state == models.StateFaceCapture {
			v.NextChallenge = f.challenges[f.acked]
		}
		if len(f.retries) > 0 {
			v.Retries = make(map[models.ScoreKind]int, len(f.retries))
			for k, n := range f.retries {
				v.Retries[k] = n
			}
		}
		if f.lastStep != nil {
			step := *f.lastStep
			step.Feedback = slices.Clone(f.lastStep.Feedback)
			v.LastStep = &step
		}
		f.mu.RUnlock()
	default:
		v.State = derivedState(v)
	}
	return v, nil
}

func (e *Engine) scoresFromStore(ctx context.Context, sessionID id.SessionID, v *View) error {
	doc, err := e.store.GetDocumentRecord(ctx, sessionID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	docScore := doc.QualityScore
	v.Scores.Document = &docScore

	face, err := e.store.GetFaceRecord(ctx, sessionID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	live := face.LivenessScore
	v.Scores.Liveness = &live
	v.Scores.Match = face.MatchScore
	return nil
}

// derivedState is the position an unloaded in_progress session would resume at.
func derivedState(v *View) models.State {
	switch {
	case v.Scores.Document == nil:
		return models.StateDocumentCapture
	case v.Scores.Liveness == nil:
		return models.StateFaceCapture
	case v.Scores.Match == nil:
		return models.StateMatching
	default:
		return models.StateFinalizing
	}
}

// withView attaches the current view to res and passes stepErr through.
func (e *Engine) withView(ctx context.Context, f *flow, res *Result, stepErr error) (*Result, error) {
	v, err := e.view(context.WithoutCancel(ctx), f.sessionID, f)
	if err != nil && stepErr == nil {
		return nil, err
	}
	res.View = v
	return res, stepErr
}
