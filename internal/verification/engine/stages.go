package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"kycflow/internal/verification/models"
	"kycflow/internal/verification/ports"
	"kycflow/internal/verification/quality"
	"kycflow/internal/verification/scoring"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// SubmitDocument evaluates a captured document image.
func (e *Engine) SubmitDocument(ctx context.Context, sessionID id.SessionID, ref models.ImageRef) (*Result, error) {
	if ref == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "image reference is required")
	}
	f, err := e.acquire(ctx, sessionID)
	if err != nil {
		e.discard(ctx, sessionID, ref)
		return nil, err
	}
	defer f.unlock()

	res := &Result{}
	err = e.evaluateDocument(ctx, f, ref, res)
	e.settle(ctx, f, ref)
	return e.withView(ctx, f, res, err)
}

// CaptureDocument pulls a document image from the capture provider and evaluates it.
func (e *Engine) CaptureDocument(ctx context.Context, sessionID id.SessionID) (*Result, error) {
	f, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer f.unlock()

	if state := f.currentState(); state != models.StateDocumentCapture {
		return nil, fmt.Errorf("capture document in %s: %w", state, ErrWrongStage)
	}
	ref, err := e.captureImage(ctx, f, ports.CaptureHint{SessionID: f.sessionID, Stage: models.StateDocumentCapture, DocumentType: f.docType})
	if err != nil {
		return nil, err
	}
	res := &Result{}
	err = e.evaluateDocument(ctx, f, ref, res)
	e.settle(ctx, f, ref)
	return e.withView(ctx, f, res, err)
}

// AcknowledgeChallenge records that the user performed the next challenge.
// The last acknowledgement unlocks the face photo.
func (e *Engine) AcknowledgeChallenge(ctx context.Context, sessionID id.SessionID, challenge models.ChallengeID) (*View, error) {
	if !challenge.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown challenge: "+string(challenge))
	}
	f, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer f.unlock()

	f.mu.Lock()
	if f.state != models.StateFaceCapture {
		state := f.state
		f.mu.Unlock()
		return nil, fmt.Errorf("acknowledge challenge in %s: %w", state, ErrWrongStage)
	}
	if expected := f.challenges[f.acked]; challenge != expected {
		f.mu.Unlock()
		return nil, fmt.Errorf("expected %s, got %s: %w", expected, challenge, ErrChallengeOutOfOrder)
	}
	f.acked++
	var next models.ChallengeID
	if f.acked == len(f.challenges) {
		f.state = models.StateLivenessCheck
	} else {
		next = f.challenges[f.acked]
	}
	f.mu.Unlock()

	if next != "" {
		e.narrate(ctx, f, challengeKey(next), nil)
	}
	return e.view(ctx, sessionID, f)
}

// SubmitFace evaluates the live face photo. On a liveness pass the match and
// the overall verdict run in the same call.
func (e *Engine) SubmitFace(ctx context.Context, sessionID id.SessionID, ref models.ImageRef) (*Result, error) {
	if ref == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "image reference is required")
	}
	f, err := e.acquire(ctx, sessionID)
	if err != nil {
		e.discard(ctx, sessionID, ref)
		return nil, err
	}
	defer f.unlock()

	res := &Result{}
	err = e.evaluateFace(ctx, f, ref, res)
	e.settle(ctx, f, ref)
	return e.withView(ctx, f, res, err)
}

// CaptureFace pulls the live photo from the capture provider and evaluates it.
func (e *Engine) CaptureFace(ctx context.Context, sessionID id.SessionID) (*Result, error) {
	f, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer f.unlock()

	if err := checkFaceReady(f); err != nil {
		return nil, err
	}
	ref, err := e.captureImage(ctx, f, ports.CaptureHint{SessionID: f.sessionID, Stage: models.StateLivenessCheck, DocumentType: f.docType})
	if err != nil {
		return nil, err
	}
	res := &Result{}
	err = e.evaluateFace(ctx, f, ref, res)
	e.settle(ctx, f, ref)
	return e.withView(ctx, f, res, err)
}

func (e *Engine) captureImage(ctx context.Context, f *flow, hint ports.CaptureHint) (models.ImageRef, error) {
	if e.capture == nil {
		return "", ErrNoCaptureProvider
	}
	f.stopAdvisory()
	stageCtx, release := f.cancellable(ctx)
	ref, err := e.capture.Capture(stageCtx, hint)
	cancelled := stageCtx.Err() != nil && ctx.Err() == nil
	release()
	if cancelled {
		if ref != "" {
			e.discard(ctx, f.sessionID, ref)
		}
		return "", ErrStageCancelled
	}
	if err == nil && ref == "" {
		err = fmt.Errorf("capture provider returned an empty reference")
	}
	if err != nil {
		e.logger.WarnContext(ctx, "capture failed",
			"session_id", f.sessionID.String(),
			"stage", hint.Stage,
			"error", err,
		)
		return "", &Failure{Kind: KindCapture, Stage: hint.Stage, Err: err}
	}
	return ref, nil
}

func checkFaceReady(f *flow) error {
	switch state := f.currentState(); state {
	case models.StateLivenessCheck:
		return nil
	case models.StateFaceCapture:
		return ErrChallengesPending
	default:
		return fmt.Errorf("submit face in %s: %w", state, ErrWrongStage)
	}
}

func (e *Engine) evaluateDocument(ctx context.Context, f *flow, ref models.ImageRef, res *Result) error {
	const stage = models.StateDocumentCapture
	if state := f.currentState(); state != stage {
		return fmt.Errorf("submit document in %s: %w", state, ErrWrongStage)
	}
	f.stopAdvisory()
	e.narrate(ctx, f, "processing", nil)

	analysis, status, err := invoke(ctx, e, f, "document.analyze", func(ctx context.Context) (*ports.DocumentAnalysis, error) {
		a, err := e.docOracle.Analyze(ctx, ref, f.docType)
		if err != nil {
			return nil, err
		}
		if a == nil || !models.ValidScore(a.QualityScore) {
			return nil, fmt.Errorf("document analysis: %w", quality.ErrScoreOutOfRange)
		}
		return a, nil
	})
	step := StageResult{Kind: models.KindDocument, Stage: stage}
	switch status {
	case callCancelled:
		return ErrStageCancelled
	case callFailed:
		return e.failOracle(ctx, f, stage, err)
	case callTimedOut:
		step.Outcome, step.TimedOut = quality.OutcomeRetry, true
		return e.retry(ctx, f, step, res, stage)
	}

	score := analysis.QualityScore
	step, err = e.classify(step, score)
	if err != nil {
		return e.failOracle(ctx, f, stage, err)
	}
	e.logger.InfoContext(ctx, "document evaluated",
		"session_id", f.sessionID.String(),
		"score", score,
		"outcome", step.Outcome,
	)

	switch step.Outcome {
	case quality.OutcomePass:
		res.add(step)
		record := &models.DocumentRecord{
			SessionID:       f.sessionID,
			DocumentType:    f.docType,
			ImageRef:        ref,
			ExtractedFields: analysis.ExtractedFields,
			QualityScore:    score,
			ProcessedAt:     e.now(),
		}
		if err := e.store.PutDocumentRecord(context.WithoutCancel(ctx), f.sessionID, record); err != nil {
			return e.failPersistence(ctx, f, stage, err)
		}
		f.mu.Lock()
		f.docRef, f.docScore = ref, score
		f.state = models.StateDocumentVerified
		f.lastStep = &step
		f.mu.Unlock()
		e.narrate(ctx, f, "documentCaptured", nil)
		if err := e.enterFaceCapture(context.WithoutCancel(ctx), f); err != nil {
			return e.failPersistence(ctx, f, models.StateDocumentVerified, err)
		}
		return nil
	case quality.OutcomeRetry:
		return e.retry(ctx, f, step, res, stage)
	default:
		res.add(step)
		return e.fail(ctx, f, stage, models.FailureQualityBelowFloor, nil)
	}
}

func (e *Engine) evaluateFace(ctx context.Context, f *flow, ref models.ImageRef, res *Result) error {
	const stage = models.StateLivenessCheck
	if err := checkFaceReady(f); err != nil {
		return err
	}
	f.stopAdvisory()
	e.narrate(ctx, f, "processing", nil)

	f.mu.RLock()
	challenges := slices.Clone(f.challenges)
	f.mu.RUnlock()

	analysis, status, err := invoke(ctx, e, f, "face.liveness", func(ctx context.Context) (*ports.LivenessAnalysis, error) {
		a, err := e.faceOracle.AnalyzeLiveness(ctx, ref, challenges)
		if err != nil {
			return nil, err
		}
		if a == nil || !models.ValidScore(a.LivenessScore) {
			return nil, fmt.Errorf("liveness analysis: %w", quality.ErrScoreOutOfRange)
		}
		return a, nil
	})
	step := StageResult{Kind: models.KindLiveness, Stage: stage}
	switch status {
	case callCancelled:
		return ErrStageCancelled
	case callFailed:
		return e.failOracle(ctx, f, stage, err)
	case callTimedOut:
		step.Outcome, step.TimedOut = quality.OutcomeRetry, true
		return e.retry(ctx, f, step, res, models.StateFaceCapture)
	}

	score := analysis.LivenessScore
	step, err = e.classify(step, score)
	if err != nil {
		return e.failOracle(ctx, f, stage, err)
	}
	e.logger.InfoContext(ctx, "liveness evaluated",
		"session_id", f.sessionID.String(),
		"score", score,
		"outcome", step.Outcome,
		"checks", analysis.Checks,
	)

	switch step.Outcome {
	case quality.OutcomePass:
		res.add(step)
		record := &models.FaceRecord{
			SessionID:     f.sessionID,
			ImageRef:      ref,
			LivenessScore: score,
			Challenges:    challenges,
			ProcessedAt:   e.now(),
		}
		if err := e.store.PutFaceRecord(context.WithoutCancel(ctx), f.sessionID, record); err != nil {
			return e.failPersistence(ctx, f, stage, err)
		}
		f.mu.Lock()
		previous := f.faceRef
		f.faceRef, f.livenessScore = ref, score
		f.state = models.StateFaceVerified
		f.lastStep = &step
		f.mu.Unlock()
		if previous != "" && previous != ref {
			e.discard(ctx, f.sessionID, previous)
		}
		e.narrate(ctx, f, "faceCaptured", nil)
		return e.runMatching(ctx, f, res)
	case quality.OutcomeRetry:
		return e.retry(ctx, f, step, res, models.StateFaceCapture)
	default:
		res.add(step)
		return e.fail(ctx, f, stage, models.FailureQualityBelowFloor, nil)
	}
}

// runMatching compares the document photo with the live photo. A retry sends
// the user back to face capture with the same challenge sequence.
func (e *Engine) runMatching(ctx context.Context, f *flow, res *Result) error {
	const stage = models.StateMatching
	f.mu.Lock()
	f.state = stage
	docRef, faceRef := f.docRef, f.faceRef
	f.mu.Unlock()

	score, status, err := invoke(ctx, e, f, "face.match", func(ctx context.Context) (float64, error) {
		s, err := e.faceOracle.Match(ctx, docRef, faceRef)
		if err != nil {
			return 0, err
		}
		if !models.ValidScore(s) {
			return 0, fmt.Errorf("match score %v: %w", s, quality.ErrScoreOutOfRange)
		}
		return s, nil
	})
	step := StageResult{Kind: models.KindMatch, Stage: stage}
	switch status {
	case callCancelled:
		return ErrStageCancelled
	case callFailed:
		return e.failOracle(ctx, f, stage, err)
	case callTimedOut:
		step.Outcome, step.TimedOut = quality.OutcomeRetry, true
		return e.retry(ctx, f, step, res, models.StateFaceCapture)
	}

	step, err = e.classify(step, score)
	if err != nil {
		return e.failOracle(ctx, f, stage, err)
	}
	e.logger.InfoContext(ctx, "face match evaluated",
		"session_id", f.sessionID.String(),
		"score", score,
		"outcome", step.Outcome,
	)

	switch step.Outcome {
	case quality.OutcomePass:
		res.add(step)
		persistCtx := context.WithoutCancel(ctx)
		face, err := e.store.GetFaceRecord(persistCtx, f.sessionID)
		if err != nil {
			return e.failPersistence(ctx, f, stage, err)
		}
		face.MatchScore = &score
		if err := e.store.PutFaceRecord(persistCtx, f.sessionID, face); err != nil {
			return e.failPersistence(ctx, f, stage, err)
		}
		f.mu.Lock()
		f.matchScore = score
		f.lastStep = &step
		f.mu.Unlock()
		return e.finalize(ctx, f, res)
	case quality.OutcomeRetry:
		return e.retry(ctx, f, step, res, models.StateFaceCapture)
	default:
		res.add(step)
		return e.fail(ctx, f, stage, models.FailureQualityBelowFloor, nil)
	}
}

// finalize aggregates the three stage scores. A passing verdict completes the
// session and enqueues the upload in the same store transaction.
func (e *Engine) finalize(ctx context.Context, f *flow, res *Result) error {
	const stage = models.StateFinalizing
	f.mu.Lock()
	f.state = stage
	scores := []models.StageScore{
		{Kind: models.KindDocument, Score: f.docScore},
		{Kind: models.KindLiveness, Score: f.livenessScore},
		{Kind: models.KindMatch, Score: f.matchScore},
	}
	f.mu.Unlock()

	verdict, err := e.aggregator.Aggregate(scores)
	if err != nil {
		return e.failPersistence(ctx, f, stage, err)
	}
	overall := verdict.Overall
	step := StageResult{Kind: models.KindOverall, Stage: stage, Score: &overall, Grade: verdict.Grade, Outcome: quality.OutcomeFail}
	if verdict.Pass {
		step.Outcome = quality.OutcomePass
	}
	res.add(step)
	e.metrics.IncrementStageOutcome(string(models.KindOverall), string(step.Outcome))
	f.mu.Lock()
	f.lastStep = &step
	f.mu.Unlock()

	if !verdict.Pass {
		return e.fail(ctx, f, stage, models.FailureVerdict, &overall)
	}

	persistCtx := context.WithoutCancel(ctx)
	bundle, err := e.bundle(persistCtx, f, overall, verdict.Grade)
	if err != nil {
		return e.failPersistence(ctx, f, stage, err)
	}
	task, err := models.NewSyncTask(bundle, e.now())
	if err != nil {
		return e.failPersistence(ctx, f, stage, err)
	}
	if err := e.store.CompleteSession(persistCtx, f.sessionID, overall, task); err != nil {
		return e.failPersistence(ctx, f, stage, err)
	}

	f.setState(models.StateCompleted)
	e.forget(f)
	if e.notifier != nil {
		e.notifier.Notify()
	}
	e.metrics.IncrementSessionFinished(string(models.SessionCompleted), "")
	e.narrate(ctx, f, "success", map[string]string{"grade": string(verdict.Grade)})
	e.logger.InfoContext(ctx, "verification session completed",
		"session_id", f.sessionID.String(),
		"overall", overall,
		"grade", verdict.Grade,
	)
	return nil
}

func (e *Engine) bundle(ctx context.Context, f *flow, overall float64, grade scoring.Grade) (*models.Bundle, error) {
	session, err := e.store.GetSession(ctx, f.sessionID)
	if err != nil {
		return nil, err
	}
	doc, err := e.store.GetDocumentRecord(ctx, f.sessionID)
	if err != nil {
		return nil, err
	}
	face, err := e.store.GetFaceRecord(ctx, f.sessionID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	session.Status = models.SessionCompleted
	session.CompletedAt = &now
	session.OverallScore = &overall
	session.SyncStatus = models.SyncPending
	return &models.Bundle{
		SessionID: f.sessionID,
		DeviceID:  e.deviceID,
		Session:   session,
		Document:  doc,
		Face:      face,
		Grade:     string(grade),
		CreatedAt: now,
	}, nil
}

func (e *Engine) classify(step StageResult, score float64) (StageResult, error) {
	verdict, err := e.gate.Classify(score, step.Kind)
	if err != nil {
		return step, err
	}
	step.Score = &score
	step.Outcome = verdict.Outcome
	step.Feedback = verdict.Feedback
	e.metrics.IncrementStageOutcome(string(step.Kind), string(step.Outcome))
	return step, nil
}

// retry spends one retry of the stage budget and returns the flow to back.
// An exhausted budget fails the session instead.
func (e *Engine) retry(ctx context.Context, f *flow, step StageResult, res *Result, back models.State) error {
	f.mu.Lock()
	used := f.retries[step.Kind]
	exhausted := used >= e.cfg.StageRetries
	if !exhausted {
		f.retries[step.Kind] = used + 1
		step.RetriesLeft = e.cfg.StageRetries - used - 1
	}
	f.lastStep = &step
	stage := f.state
	f.mu.Unlock()
	res.add(step)
	if step.TimedOut {
		e.metrics.IncrementStageOutcome(string(step.Kind), "timeout")
	}

	if exhausted {
		return e.fail(ctx, f, stage, models.FailureRetryBudgetExhausted, nil)
	}
	codes := make([]string, 0, len(step.Feedback))
	for _, c := range step.Feedback {
		codes = append(codes, string(c))
	}
	e.narrate(ctx, f, "retry", map[string]string{"feedback": strings.Join(codes, ",")})

	if back == models.StateFaceCapture {
		if err := e.enterFaceCapture(context.WithoutCancel(ctx), f); err != nil {
			return e.failPersistence(ctx, f, stage, err)
		}
		return nil
	}
	f.setState(back)
	return nil
}

func (e *Engine) enterDocumentCapture(ctx context.Context, f *flow) {
	f.setState(models.StateDocumentCapture)
	e.narrate(ctx, f, "captureDocument", nil)
}

// enterFaceCapture selects and persists the challenge sequence on first entry
// and resets acknowledgements on every entry.
func (e *Engine) enterFaceCapture(ctx context.Context, f *flow) error {
	f.mu.RLock()
	challenges := f.challenges
	f.mu.RUnlock()

	if len(challenges) == 0 {
		selected, err := e.selector.Select()
		if err != nil {
			return fmt.Errorf("select challenges: %w", err)
		}
		if err := e.store.SaveChallenges(ctx, f.sessionID, selected); err != nil {
			return fmt.Errorf("save challenges: %w", err)
		}
		challenges = selected
	}

	f.mu.Lock()
	f.challenges = challenges
	f.acked = 0
	f.state = models.StateFaceCapture
	f.mu.Unlock()

	e.narrate(ctx, f, "captureFace", nil)
	e.narrate(ctx, f, challengeKey(challenges[0]), nil)
	return nil
}

// fail moves the session to failed. Store errors surface as a persistence
// failure but the flow is dropped either way.
func (e *Engine) fail(ctx context.Context, f *flow, stage models.State, reason models.FailureReason, overall *float64) error {
	f.interrupt()
	err := e.store.UpdateSessionStatus(context.WithoutCancel(ctx), f.sessionID, models.SessionFailed, overall, reason)
	if err == nil && e.images != nil {
		if derr := e.images.DeleteSession(f.sessionID); derr != nil {
			e.logger.WarnContext(ctx, "failed to delete session images",
				"session_id", f.sessionID.String(),
				"error", derr,
			)
		}
	}

	f.mu.Lock()
	f.state = models.StateFailed
	f.failure = reason
	f.mu.Unlock()
	e.forget(f)

	e.metrics.IncrementSessionFinished(string(models.SessionFailed), string(reason))
	e.narrate(ctx, f, "failure", map[string]string{"reason": string(reason)})
	e.logger.InfoContext(ctx, "verification session failed",
		"session_id", f.sessionID.String(),
		"stage", stage,
		"reason", reason,
	)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to persist session failure",
			"session_id", f.sessionID.String(),
			"error", err,
		)
		return &Failure{Kind: KindPersistence, Stage: stage, Err: err}
	}
	return nil
}

func (e *Engine) failOracle(ctx context.Context, f *flow, stage models.State, cause error) error {
	if err := e.fail(ctx, f, stage, models.FailureOracle, nil); err != nil {
		return err
	}
	return &Failure{Kind: KindOracle, Stage: stage, Err: cause}
}

func (e *Engine) failPersistence(ctx context.Context, f *flow, stage models.State, cause error) error {
	e.logger.ErrorContext(ctx, "record store write failed",
		"session_id", f.sessionID.String(),
		"stage", stage,
		"error", cause,
	)
	_ = e.fail(ctx, f, stage, models.FailurePersistence, nil)
	return &Failure{Kind: KindPersistence, Stage: stage, Err: cause}
}

// settle drops ref unless the flow kept it as the document or face image.
func (e *Engine) settle(ctx context.Context, f *flow, ref models.ImageRef) {
	f.mu.RLock()
	kept := ref == f.docRef || ref == f.faceRef
	f.mu.RUnlock()
	if !kept {
		e.discard(ctx, f.sessionID, ref)
	}
}

func (e *Engine) discard(ctx context.Context, sessionID id.SessionID, ref models.ImageRef) {
	if e.images == nil {
		return
	}
	if err := e.images.Remove(ref); err != nil {
		e.logger.WarnContext(ctx, "failed to discard image",
			"session_id", sessionID.String(),
			"image_ref", ref,
			"error", err,
		)
	}
}

func challengeKey(c models.ChallengeID) string {
	return "challenge." + string(c)
}
