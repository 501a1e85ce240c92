// Package service implements the idempotent verification ingest.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kycflow/internal/backend/metrics"
	"kycflow/internal/backend/models"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/sentinel"
)

type Store interface {
	Insert(ctx context.Context, v *models.Verification) error
	FindBySessionID(ctx context.Context, sessionID id.SessionID) (*models.Verification, error)
}

// IdempotencyCache remembers which sessions have been stored. Failures are
// logged and ignored.
type IdempotencyCache interface {
	Lookup(ctx context.Context, sessionID id.SessionID) (string, error)
	Remember(ctx context.Context, sessionID id.SessionID, verificationID string) error
}

// Publisher is woken after a new row commits so the outbox drains promptly.
type Publisher interface {
	Notify()
}

// IngestRequest is one upload as received by the handler.
type IngestRequest struct {
	SessionID id.SessionID
	DeviceID  string
	Platform  string
	Payload   []byte
	// ReceivedAt defaults to the service clock.
	ReceivedAt time.Time
}

type Service struct {
	store     Store
	cache     IdempotencyCache
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithCache(c IdempotencyCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest stores the bundle once per session id. A replay returns the
// original row's ack with Duplicate set; created reports a fresh insert.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (ack *models.Ack, created bool, err error) {
	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	v, err := models.FromBundle(req.SessionID, req.Payload, req.DeviceID, req.Platform, receivedAt)
	if err != nil {
		s.metrics.IncrementIngested("rejected")
		return nil, false, err
	}

	if existing, ok := s.cached(ctx, req); ok {
		return s.duplicate(ctx, req, existing)
	}

	err = s.store.Insert(ctx, v)
	if errors.Is(err, sentinel.ErrConflict) {
		existing, findErr := s.store.FindBySessionID(ctx, req.SessionID)
		if findErr != nil {
			s.metrics.IncrementIngested("error")
			return nil, false, dErrors.Wrap(findErr, dErrors.CodeInternal, "failed to load existing verification")
		}
		s.remember(ctx, existing)
		return s.duplicate(ctx, req, existing)
	}
	if err != nil {
		s.metrics.IncrementIngested("error")
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store verification")
	}

	s.remember(ctx, v)
	if s.publisher != nil {
		s.publisher.Notify()
	}
	s.metrics.IncrementIngested("created")
	s.logger.InfoContext(ctx, "verification ingested",
		"session_id", v.SessionID.String(),
		"verification_id", v.ID.String(),
		"device_id", v.DeviceID,
		"platform", v.Platform,
	)
	return v.Ack(false), true, nil
}

// Get returns the stored verification if it belongs to deviceID.
func (s *Service) Get(ctx context.Context, sessionID id.SessionID, deviceID string) (*models.Verification, error) {
	v, err := s.store.FindBySessionID(ctx, sessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "verification not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification")
	}
	if deviceID != "" && v.DeviceID != deviceID {
		return nil, dErrors.New(dErrors.CodeNotFound, "verification not found")
	}
	return v, nil
}

func (s *Service) duplicate(ctx context.Context, req IngestRequest, existing *models.Verification) (*models.Ack, bool, error) {
	if req.DeviceID != "" && existing.DeviceID != req.DeviceID {
		s.metrics.IncrementIngested("rejected")
		return nil, false, dErrors.New(dErrors.CodeForbidden, "session was uploaded by another device")
	}
	s.metrics.IncrementIngested("duplicate")
	s.logger.InfoContext(ctx, "duplicate verification upload",
		"session_id", req.SessionID.String(),
		"verification_id", existing.ID.String(),
	)
	return existing.Ack(true), false, nil
}

// cached resolves a replay through the cache. A miss, a cache error or a
// stale entry all fall through to the store.
func (s *Service) cached(ctx context.Context, req IngestRequest) (*models.Verification, bool) {
	if s.cache == nil {
		return nil, false
	}
	ref, err := s.cache.Lookup(ctx, req.SessionID)
	if err != nil {
		s.metrics.IncrementCacheLookup("error")
		s.logger.WarnContext(ctx, "idempotency cache lookup failed", "error", err)
		return nil, false
	}
	if ref == "" {
		s.metrics.IncrementCacheLookup("miss")
		return nil, false
	}
	existing, err := s.store.FindBySessionID(ctx, req.SessionID)
	if err != nil {
		s.metrics.IncrementCacheLookup("error")
		s.logger.WarnContext(ctx, "cached verification missing from store",
			"session_id", req.SessionID.String(), "error", err)
		return nil, false
	}
	s.metrics.IncrementCacheLookup("hit")
	return existing, true
}

func (s *Service) remember(ctx context.Context, v *models.Verification) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Remember(ctx, v.SessionID, v.ID.String()); err != nil {
		s.logger.WarnContext(ctx, "idempotency cache write failed",
			"session_id", v.SessionID.String(), "error", err)
	}
}
