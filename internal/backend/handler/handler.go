// Package handler exposes the verification ingest API to devices.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kycflow/internal/backend/models"
	"kycflow/internal/backend/service"
	"kycflow/internal/platform/metrics"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/httputil"
	"kycflow/pkg/platform/middleware/admin"
	"kycflow/pkg/platform/middleware/auth"
	"kycflow/pkg/platform/middleware/device"
	"kycflow/pkg/platform/middleware/metadata"
	request "kycflow/pkg/platform/middleware/request"
	"kycflow/pkg/platform/middleware/requesttime"
)

const maxBundleBytes = 1 << 20

type Service interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*models.Ack, bool, error)
	Get(ctx context.Context, sessionID id.SessionID, deviceID string) (*models.Verification, error)
}

// OutboxDrainer is the publisher, triggered by operators after an outage.
type OutboxDrainer interface {
	PublishPending(ctx context.Context) (int, error)
}

type Handler struct {
	svc            Service
	drainer        OutboxDrainer
	validator      auth.JWTValidator
	adminTokenHash string
	logger         *slog.Logger
	metrics        *metrics.HTTP
}

type Option func(*Handler)

func WithMetrics(m *metrics.HTTP) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithAdmin enables POST /admin/outbox/publish for callers presenting the
// token behind tokenHash.
func WithAdmin(tokenHash string, drainer OutboxDrainer) Option {
	return func(h *Handler) {
		h.adminTokenHash = tokenHash
		h.drainer = drainer
	}
}

func New(svc Service, validator auth.JWTValidator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{svc: svc, validator: validator, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(h.metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1/verifications", func(v1 chi.Router) {
		v1.Use(auth.RequireDevice(h.validator, h.logger))
		v1.Put("/{sessionID}", h.handleIngest)
		v1.Get("/{sessionID}", h.handleGet)
	})

	if h.drainer != nil {
		r.Route("/admin", func(ar chi.Router) {
			ar.Use(admin.RequireAdminToken(h.adminTokenHash, h.logger))
			ar.Post("/outbox/publish", h.handlePublish)
		})
	}
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && key != sid.String() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Idempotency-Key must equal the session id"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBundleBytes+1))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read body"))
		return
	}
	if len(body) > maxBundleBytes {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "bundle too large"))
		return
	}

	ack, created, err := h.svc.Ingest(ctx, service.IngestRequest{
		SessionID:  sid,
		DeviceID:   auth.DeviceIDFrom(ctx),
		Platform:   device.GetPlatform(ctx),
		Payload:    body,
		ReceivedAt: requesttime.Now(ctx),
	})
	if err != nil {
		h.logFailure(ctx, "ingest rejected", sid, err)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, ack)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Get(ctx, sid, auth.DeviceIDFrom(ctx))
	if err != nil {
		h.logFailure(ctx, "verification lookup failed", sid, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	n, err := h.drainer.PublishPending(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "manual outbox publish failed",
			"request_id", request.GetRequestID(r.Context()),
			"published", n,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "outbox publish failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"published": n})
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (id.SessionID, bool) {
	sid, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid session id"))
		return id.SessionID{}, false
	}
	return sid, true
}

func (h *Handler) logFailure(ctx context.Context, msg string, sid id.SessionID, err error) {
	level := slog.LevelWarn
	if code, _ := dErrors.CodeOf(err); code == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", request.GetRequestID(ctx),
		"session_id", sid.String(),
		"error", err,
	)
}
