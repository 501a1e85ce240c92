// Package engine implements the verification session state machine.
//
// Each session is driven by a flow: an in-memory object holding the current
// state, the fixed challenge sequence, retry counters and the advisory poller.
// Flows are rebuilt from the record store after a restart (Resume), so the
// store is the only source of truth for anything that must survive a crash.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"kycflow/internal/verification/advisory"
	"kycflow/internal/verification/liveness"
	"kycflow/internal/verification/metrics"
	"kycflow/internal/verification/models"
	"kycflow/internal/verification/ports"
	"kycflow/internal/verification/quality"
	"kycflow/internal/verification/scoring"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

// Config bounds retries and oracle calls.
type Config struct {
	// StageRetries is the number of retry outcomes tolerated per stage. The
	// next non-pass outcome fails the session.
	StageRetries int
	// OracleAttempts is how many times an erroring oracle call is tried per capture.
	OracleAttempts int
	// OracleTimeout bounds a single oracle call. Expiry counts as a retry.
	OracleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{StageRetries: 3, OracleAttempts: 2, OracleTimeout: 20 * time.Second}
}

// ImageStore holds the captured images. The engine removes images it rejects
// and every image of a failed session.
type ImageStore interface {
	Remove(ref models.ImageRef) error
	DeleteSession(sessionID id.SessionID) error
}

// SyncNotifier is woken when a session is enqueued for upload.
type SyncNotifier interface {
	Notify()
}

// Engine orchestrates verification sessions.
type Engine struct {
	store      ports.RecordStore
	docOracle  ports.DocumentOracle
	faceOracle ports.FaceOracle
	capture    ports.CaptureProvider
	narrator   ports.Narrator
	notifier   SyncNotifier
	images     ImageStore
	gate       *quality.Gate
	selector   *liveness.Selector
	aggregator *scoring.Aggregator
	poller     *advisory.Poller
	cfg        Config
	deviceID   string

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	mu    sync.Mutex
	flows map[id.SessionID]*flow
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithCaptureProvider(p ports.CaptureProvider) Option {
	return func(e *Engine) {
		e.capture = p
	}
}

func WithNarrator(n ports.Narrator) Option {
	return func(e *Engine) {
		e.narrator = n
	}
}

func WithSyncNotifier(n SyncNotifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

func WithImageStore(s ImageStore) Option {
	return func(e *Engine) {
		e.images = s
	}
}

func WithGate(g *quality.Gate) Option {
	return func(e *Engine) {
		e.gate = g
	}
}

func WithSelector(s *liveness.Selector) Option {
	return func(e *Engine) {
		e.selector = s
	}
}

func WithPoller(p *advisory.Poller) Option {
	return func(e *Engine) {
		e.poller = p
	}
}

func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		if cfg.StageRetries >= 0 {
			e.cfg.StageRetries = cfg.StageRetries
		}
		if cfg.OracleAttempts > 0 {
			e.cfg.OracleAttempts = cfg.OracleAttempts
		}
		if cfg.OracleTimeout > 0 {
			e.cfg.OracleTimeout = cfg.OracleTimeout
		}
	}
}

func WithDeviceID(deviceID string) Option {
	return func(e *Engine) {
		e.deviceID = deviceID
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New constructs an Engine. Gate, selector and poller default to production settings.
func New(store ports.RecordStore, docOracle ports.DocumentOracle, faceOracle ports.FaceOracle, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:      store,
		docOracle:  docOracle,
		faceOracle: faceOracle,
		cfg:        DefaultConfig(),
		logger:     slog.Default(),
		tracer:     otel.Tracer("kycflow/verification/engine"),
		now:        time.Now,
		flows:      make(map[id.SessionID]*flow),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.gate == nil {
		e.gate = quality.DefaultGate()
	}
	if e.selector == nil {
		sel, err := liveness.NewSelector(liveness.DefaultCount)
		if err != nil {
			return nil, err
		}
		e.selector = sel
	}
	if e.poller == nil {
		e.poller = advisory.NewPoller(nil, e.gate)
	}
	e.aggregator = scoring.NewAggregator(e.gate)
	return e, nil
}

// Start creates a session and enters document capture.
func (e *Engine) Start(ctx context.Context, docType id.DocumentType, lang id.Language) (*View, error) {
	sessionID, err := e.store.CreateSession(ctx, docType, lang)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	e.metrics.IncrementSessionStarted()

	f := newFlow(sessionID)
	f.docType, f.lang, f.loaded = docType, lang, true
	f.op <- struct{}{}
	e.mu.Lock()
	e.flows[sessionID] = f
	e.mu.Unlock()
	defer f.unlock()

	f.setState(models.StateInit)
	e.enterDocumentCapture(ctx, f)
	e.logger.InfoContext(ctx, "verification session started",
		"session_id", sessionID.String(),
		"document_type", docType,
		"language", lang,
	)
	return e.view(ctx, sessionID, f)
}

// Get returns the current view of a session without changing it.
func (e *Engine) Get(ctx context.Context, sessionID id.SessionID) (*View, error) {
	e.mu.Lock()
	f := e.flows[sessionID]
	e.mu.Unlock()
	return e.view(ctx, sessionID, f)
}

// Resume rebuilds the flow of an in_progress session from the store and runs
// any stage that needs no user input (matching, finalizing).
func (e *Engine) Resume(ctx context.Context, sessionID id.SessionID) (*Result, error) {
	f, err := e.acquire(ctx, sessionID)
	if errors.Is(err, ErrSessionNotActive) {
		v, verr := e.view(ctx, sessionID, nil)
		if verr != nil {
			return nil, verr
		}
		return &Result{View: v}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.unlock()

	res := &Result{}
	var stepErr error
	switch f.currentState() {
	case models.StateMatching:
		stepErr = e.runMatching(ctx, f, res)
	case models.StateFinalizing:
		stepErr = e.finalize(ctx, f, res)
	}
	return e.withView(ctx, f, res, stepErr)
}

// StartStage begins advisory polling for the current capture stage.
func (e *Engine) StartStage(ctx context.Context, sessionID id.SessionID) (*View, error) {
	f, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer f.unlock()

	state := f.currentState()
	if !state.IsCapture() {
		return nil, fmt.Errorf("start %s: %w", state, ErrWrongStage)
	}
	f.mu.Lock()
	f.advisory.Stop()
	f.advisory = e.poller.Start(context.WithoutCancel(ctx), state)
	f.mu.Unlock()
	return e.view(ctx, sessionID, f)
}

// StopStage cancels advisory polling and any in-flight capture or oracle call
// for the session. Partial results of a cancelled call are discarded.
func (e *Engine) StopStage(ctx context.Context, sessionID id.SessionID) (*View, error) {
	e.mu.Lock()
	f := e.flows[sessionID]
	e.mu.Unlock()
	if f != nil {
		f.interrupt()
	}
	return e.view(ctx, sessionID, f)
}

// Preview returns the advisory state of the running stage.
func (e *Engine) Preview(ctx context.Context, sessionID id.SessionID) (advisory.Preview, error) {
	e.mu.Lock()
	f := e.flows[sessionID]
	e.mu.Unlock()
	if f == nil {
		if _, err := e.store.GetSession(ctx, sessionID); err != nil {
			return advisory.Preview{}, err
		}
		return advisory.Preview{}, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.advisory.Preview(), nil
}

// acquire returns the flow for sessionID with its op lock held, loading it
// from the store on first use. Terminal sessions yield ErrSessionNotActive.
// Waiting for the lock ends with ctx.
func (e *Engine) acquire(ctx context.Context, sessionID id.SessionID) (*flow, error) {
	e.mu.Lock()
	f, ok := e.flows[sessionID]
	if !ok {
		f = newFlow(sessionID)
		e.flows[sessionID] = f
	}
	e.mu.Unlock()

	if err := f.lock(ctx); err != nil {
		return nil, fmt.Errorf("session %s is busy: %w", sessionID, err)
	}
	if !f.loaded {
		if err := e.load(ctx, f); err != nil {
			e.forget(f)
			f.unlock()
			return nil, err
		}
	}
	if f.currentState().IsTerminal() {
		e.forget(f)
		f.unlock()
		return nil, ErrSessionNotActive
	}
	return f, nil
}

// load derives the flow position from what the store holds.
func (e *Engine) load(ctx context.Context, f *flow) error {
	session, err := e.store.GetSession(ctx, f.sessionID)
	if err != nil {
		return err
	}
	f.docType, f.lang = session.DocumentType, session.Language
	f.loaded = true
	switch session.Status {
	case models.SessionCompleted:
		f.setState(models.StateCompleted)
		return nil
	case models.SessionFailed:
		f.setState(models.StateFailed)
		return nil
	}

	doc, err := e.store.GetDocumentRecord(ctx, f.sessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		e.enterDocumentCapture(ctx, f)
		return nil
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.docRef, f.docScore = doc.ImageRef, doc.QualityScore
	f.challenges = session.Challenges
	f.mu.Unlock()

	face, err := e.store.GetFaceRecord(ctx, f.sessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return e.enterFaceCapture(ctx, f)
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.faceRef, f.livenessScore = face.ImageRef, face.LivenessScore
	if len(face.Challenges) > 0 {
		f.challenges = face.Challenges
	}
	f.acked = len(f.challenges)
	f.mu.Unlock()

	if face.MatchScore == nil {
		f.setState(models.StateMatching)
		return nil
	}
	f.mu.Lock()
	f.matchScore = *face.MatchScore
	f.mu.Unlock()
	f.setState(models.StateFinalizing)
	return nil
}

func (e *Engine) forget(f *flow) {
	e.mu.Lock()
	if e.flows[f.sessionID] == f {
		delete(e.flows, f.sessionID)
	}
	e.mu.Unlock()
}

func (e *Engine) narrate(ctx context.Context, f *flow, key string, params map[string]string) {
	if e.narrator == nil {
		return
	}
	if err := e.narrator.Speak(ctx, key, f.lang, params); err != nil {
		e.logger.DebugContext(ctx, "narration failed", "key", key, "error", err)
	}
}

// flow is the in-memory state of one session. op serializes operations; mu
// guards the fields so views can be read while an oracle call is running.
type flow struct {
	sessionID id.SessionID
	op        chan struct{}

	mu            sync.RWMutex
	loaded        bool // guarded by op
	docType       id.DocumentType
	lang          id.Language
	state         models.State
	challenges    []models.ChallengeID
	acked         int
	retries       map[models.ScoreKind]int
	lastStep      *StageResult
	docRef        models.ImageRef
	faceRef       models.ImageRef
	docScore      float64
	livenessScore float64
	matchScore    float64
	failure       models.FailureReason
	advisory      *advisory.Handle
	cancelCall    context.CancelFunc
}

func newFlow(sessionID id.SessionID) *flow {
	return &flow{sessionID: sessionID, op: make(chan struct{}, 1), retries: make(map[models.ScoreKind]int)}
}

// lock takes the op lock unless ctx ends first.
func (f *flow) lock(ctx context.Context) error {
	select {
	case f.op <- struct{}{}:
		return nil
	default:
	}
	select {
	case f.op <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *flow) unlock() {
	<-f.op
}

// cancellable derives the context of a stage action and registers its
// cancel func with the flow so StopStage can end it.
func (f *flow) cancellable(ctx context.Context) (context.Context, func()) {
	stageCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancelCall = cancel
	f.mu.Unlock()
	return stageCtx, func() {
		f.mu.Lock()
		f.cancelCall = nil
		f.mu.Unlock()
		cancel()
	}
}

func (f *flow) currentState() models.State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

func (f *flow) setState(s models.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// interrupt stops the advisory loop and cancels the in-flight capture or oracle call.
func (f *flow) interrupt() {
	f.mu.Lock()
	h, cancel := f.advisory, f.cancelCall
	f.advisory, f.cancelCall = nil, nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.Stop()
}

// stopAdvisory stops only the preview loop, as a capture action begins.
func (f *flow) stopAdvisory() {
	f.mu.Lock()
	h := f.advisory
	f.advisory = nil
	f.mu.Unlock()
	h.Stop()
}
