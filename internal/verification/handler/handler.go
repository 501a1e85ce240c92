// Package handler serves the local JSON API the capture UI drives the
// verification engine through.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kycflow/internal/media"
	"kycflow/internal/platform/metrics"
	"kycflow/internal/preferences"
	"kycflow/internal/verification/advisory"
	"kycflow/internal/verification/engine"
	"kycflow/internal/verification/models"
	"kycflow/internal/verification/ports"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/httputil"
	request "kycflow/pkg/platform/middleware/request"
)

// Engine is the part of the verification engine the API exposes.
type Engine interface {
	Start(ctx context.Context, docType id.DocumentType, lang id.Language) (*engine.View, error)
	Get(ctx context.Context, sessionID id.SessionID) (*engine.View, error)
	Resume(ctx context.Context, sessionID id.SessionID) (*engine.Result, error)
	StartStage(ctx context.Context, sessionID id.SessionID) (*engine.View, error)
	StopStage(ctx context.Context, sessionID id.SessionID) (*engine.View, error)
	Preview(ctx context.Context, sessionID id.SessionID) (advisory.Preview, error)
	SubmitDocument(ctx context.Context, sessionID id.SessionID, ref models.ImageRef) (*engine.Result, error)
	CaptureDocument(ctx context.Context, sessionID id.SessionID) (*engine.Result, error)
	AcknowledgeChallenge(ctx context.Context, sessionID id.SessionID, challenge models.ChallengeID) (*engine.View, error)
	SubmitFace(ctx context.Context, sessionID id.SessionID, ref models.ImageRef) (*engine.Result, error)
	CaptureFace(ctx context.Context, sessionID id.SessionID) (*engine.Result, error)
}

// MediaStore keeps uploaded image bodies.
type MediaStore interface {
	Put(ctx context.Context, sessionID id.SessionID, kind media.Kind, r io.Reader) (models.ImageRef, error)
}

type Handler struct {
	engine  Engine
	media   MediaStore
	prefs   ports.PreferenceStore
	logger  *slog.Logger
	metrics *metrics.HTTP
}

type Option func(*Handler)

func WithMetrics(m *metrics.HTTP) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func New(e Engine, mediaStore MediaStore, prefs ports.PreferenceStore, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{engine: e, media: mediaStore, prefs: prefs, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Use(middleware.Recoverer)
	r.Use(request.RequestID)
	r.Use(h.metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/sessions", h.handleStart)
		v1.Route("/sessions/{sessionID}", func(s chi.Router) {
			s.Get("/", h.handleGet)
			s.Post("/resume", h.handleResume)
			s.Post("/stage/start", h.handleStartStage)
			s.Post("/stage/stop", h.handleStopStage)
			s.Get("/preview", h.handlePreview)
			s.Post("/document", h.handleDocument)
			s.Post("/challenges/{challenge}", h.handleChallenge)
			s.Post("/face", h.handleFace)
		})
		v1.Get("/preferences/language", h.handleGetLanguage)
		v1.Put("/preferences/language", h.handleSetLanguage)
	})
}

type startRequest struct {
	DocumentType string `json:"document_type"`
	Language     string `json:"language,omitempty"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req startRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	docType, err := id.ParseDocumentType(req.DocumentType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	lang := preferences.Language(ctx, h.prefs)
	if req.Language != "" {
		if lang, err = id.ParseLanguage(req.Language); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	view, err := h.engine.Start(ctx, docType, lang)
	if err != nil {
		h.writeEngineError(w, r, nil, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.viewOp(w, r, h.engine.Get)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.resultOp(w, r, h.engine.Resume)
}

func (h *Handler) handleStartStage(w http.ResponseWriter, r *http.Request) {
	h.viewOp(w, r, h.engine.StartStage)
}

func (h *Handler) handleStopStage(w http.ResponseWriter, r *http.Request) {
	h.viewOp(w, r, h.engine.StopStage)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}
	preview, err := h.engine.Preview(r.Context(), sid)
	if err != nil {
		h.writeEngineError(w, r, nil, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, preview)
}

func (h *Handler) handleDocument(w http.ResponseWriter, r *http.Request) {
	h.imageOp(w, r, media.KindDocument, h.engine.SubmitDocument, h.engine.CaptureDocument)
}

func (h *Handler) handleFace(w http.ResponseWriter, r *http.Request) {
	h.imageOp(w, r, media.KindFace, h.engine.SubmitFace, h.engine.CaptureFace)
}

func (h *Handler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}
	view, err := h.engine.AcknowledgeChallenge(r.Context(), sid, models.ChallengeID(chi.URLParam(r, "challenge")))
	if err != nil {
		h.writeEngineError(w, r, nil, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

type languageBody struct {
	Language string `json:"language"`
}

func (h *Handler) handleGetLanguage(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, languageBody{Language: preferences.Language(r.Context(), h.prefs).String()})
}

func (h *Handler) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var body languageBody
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	lang, err := id.ParseLanguage(body.Language)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.prefs.Set(r.Context(), preferences.KeyLanguage, lang.String()); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to store language preference", "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store preference"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, languageBody{Language: lang.String()})
}

func (h *Handler) viewOp(w http.ResponseWriter, r *http.Request, op func(context.Context, id.SessionID) (*engine.View, error)) {
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}
	view, err := op(r.Context(), sid)
	if err != nil {
		h.writeEngineError(w, r, nil, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) resultOp(w http.ResponseWriter, r *http.Request, op func(context.Context, id.SessionID) (*engine.Result, error)) {
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}
	res, err := op(r.Context(), sid)
	if err != nil {
		h.writeEngineError(w, r, res, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// imageOp evaluates the request body as an image, or asks the capture
// provider for one when the body is empty. Bodies are only written to disk
// for a live session waiting on that image; the engine discards the ones it
// rejects.
func (h *Handler) imageOp(
	w http.ResponseWriter,
	r *http.Request,
	kind media.Kind,
	submit func(context.Context, id.SessionID, models.ImageRef) (*engine.Result, error),
	capture func(context.Context, id.SessionID) (*engine.Result, error),
) {
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var (
		res *engine.Result
		err error
	)
	if r.ContentLength == 0 {
		res, err = capture(ctx, sid)
	} else {
		var ref models.ImageRef
		if err = h.admit(ctx, sid, kind); err == nil {
			ref, err = h.media.Put(ctx, sid, kind, r.Body)
		}
		if err == nil {
			res, err = submit(ctx, sid, ref)
		}
	}
	if err != nil {
		h.writeEngineError(w, r, res, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// admit rejects an upload the session cannot take in its current stage.
func (h *Handler) admit(ctx context.Context, sid id.SessionID, kind media.Kind) error {
	view, err := h.engine.Get(ctx, sid)
	if err != nil {
		return err
	}
	switch {
	case view.State.IsTerminal():
		return engine.ErrSessionNotActive
	case kind == media.KindDocument && view.State == models.StateDocumentCapture:
		return nil
	case kind == media.KindFace && view.State == models.StateLivenessCheck:
		return nil
	case kind == media.KindFace && view.State == models.StateFaceCapture:
		return engine.ErrChallengesPending
	default:
		return fmt.Errorf("upload %s in %s: %w", kind, view.State, engine.ErrWrongStage)
	}
}

type failureBody struct {
	Kind        engine.FailureKind `json:"kind"`
	Stage       models.State       `json:"stage,omitempty"`
	Message     string             `json:"message"`
	Recoverable bool               `json:"recoverable"`
}

type failedResult struct {
	*engine.Result
	Failure failureBody `json:"failure"`
}

// writeEngineError reports stage failures with the session as it now stands.
// Anything else goes through the generic error mapping.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, res *engine.Result, err error) {
	ctx := r.Context()
	var failure *engine.Failure
	switch {
	case errors.As(err, &failure):
		h.logger.WarnContext(ctx, "stage failure",
			"request_id", request.GetRequestID(ctx),
			"kind", failure.Kind,
			"stage", failure.Stage,
			"error", failure.Err,
		)
		body := failureBody{Kind: failure.Kind, Stage: failure.Stage, Message: failure.Error(), Recoverable: failure.Recoverable()}
		if res == nil {
			res = &engine.Result{}
		}
		status := http.StatusOK
		if failure.Recoverable() {
			status = http.StatusUnprocessableEntity
		}
		httputil.WriteJSON(w, status, failedResult{Result: res, Failure: body})
	case errors.Is(err, engine.ErrStageCancelled):
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeConflict, "stage was cancelled"))
	case errors.Is(err, context.DeadlineExceeded):
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeTimeout, "operation timed out"))
	default:
		if code, _ := dErrors.CodeOf(err); code == "" || code == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "engine operation failed",
				"request_id", request.GetRequestID(ctx),
				"path", r.URL.Path,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
	}
}

func sessionID(w http.ResponseWriter, r *http.Request) (id.SessionID, bool) {
	sid, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.SessionID{}, false
	}
	return sid, true
}
