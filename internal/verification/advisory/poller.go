// Package advisory runs the preview checks shown while a capture screen is
// open. Results are ephemeral and never reach the record store.
package advisory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"kycflow/internal/verification/models"
	"kycflow/internal/verification/ports"
	"kycflow/internal/verification/quality"
)

// Preview is the latest advisory state for one capture stage.
type Preview struct {
	Stage         models.State           `json:"stage"`
	DocumentScore *float64               `json:"document_score,omitempty"`
	Feedback      []quality.FeedbackCode `json:"feedback,omitempty"`
	FacePresent   *bool                  `json:"face_present,omitempty"`
	Error         string                 `json:"error,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Poller starts advisory loops for capture stages.
type Poller struct {
	checker          ports.PreviewChecker
	gate             *quality.Gate
	documentInterval time.Duration
	faceInterval     time.Duration
	maxDuration      time.Duration
	logger           *slog.Logger
}

type Option func(*Poller)

func WithIntervals(document, face time.Duration) Option {
	return func(p *Poller) {
		if document > 0 {
			p.documentInterval = document
		}
		if face > 0 {
			p.faceInterval = face
		}
	}
}

// WithMaxDuration bounds how long a loop polls before it stops on its own.
// A capture screen left open longer has to start its stage again.
func WithMaxDuration(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.maxDuration = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// NewPoller checks document previews every second and face presence every
// 500ms for at most two minutes by default. A nil checker yields handles that
// never poll.
func NewPoller(checker ports.PreviewChecker, gate *quality.Gate, opts ...Option) *Poller {
	p := &Poller{
		checker:          checker,
		gate:             gate,
		documentInterval: time.Second,
		faceInterval:     500 * time.Millisecond,
		maxDuration:      2 * time.Minute,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle controls one running advisory loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu      sync.RWMutex
	preview Preview
}

// Start launches the loop for stage. Non-capture stages get an idle handle.
func (p *Poller) Start(parent context.Context, stage models.State) *Handle {
	ctx, cancel := context.WithTimeout(parent, p.maxDuration)
	h := &Handle{cancel: cancel, done: make(chan struct{}), preview: Preview{Stage: stage}}

	var (
		interval time.Duration
		check    func(context.Context)
	)
	switch {
	case p.checker == nil:
	case stage == models.StateDocumentCapture:
		interval, check = p.documentInterval, func(ctx context.Context) { p.checkDocument(ctx, h) }
	case stage == models.StateFaceCapture || stage == models.StateLivenessCheck:
		interval, check = p.faceInterval, func(ctx context.Context) { p.checkFace(ctx, h) }
	}
	if check == nil {
		cancel()
		close(h.done)
		return h
	}

	go func() {
		defer close(h.done)
		defer cancel()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					p.logger.Debug("advisory loop reached its time limit", "stage", stage)
				}
				return
			case <-ticker.C:
				check(ctx)
			}
		}
	}()
	return h
}

// Stop cancels the loop and waits for an in-flight check to return. Safe to call twice.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(h.cancel)
	<-h.done
}

// Preview returns a copy of the latest state.
func (h *Handle) Preview() Preview {
	if h == nil {
		return Preview{}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := h.preview
	out.Feedback = append([]quality.FeedbackCode(nil), h.preview.Feedback...)
	return out
}

func (p *Poller) checkDocument(ctx context.Context, h *Handle) {
	score, err := p.checker.CheckDocumentPreview(ctx)
	if ctx.Err() != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.preview.UpdatedAt = time.Now()
	if err != nil {
		p.logger.DebugContext(ctx, "document preview check failed", "error", err)
		h.preview.Error = err.Error()
		return
	}
	res, err := p.gate.Classify(score, models.KindDocument)
	if err != nil {
		h.preview.Error = err.Error()
		return
	}
	h.preview.Error = ""
	h.preview.DocumentScore = &score
	h.preview.Feedback = res.Feedback
}

func (p *Poller) checkFace(ctx context.Context, h *Handle) {
	present, err := p.checker.CheckFacePresence(ctx)
	if ctx.Err() != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.preview.UpdatedAt = time.Now()
	if err != nil {
		p.logger.DebugContext(ctx, "face presence check failed", "error", err)
		h.preview.Error = err.Error()
		return
	}
	h.preview.Error = ""
	h.preview.FacePresent = &present
}
