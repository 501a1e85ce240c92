// Package outbox uploads completed sessions to the remote verification
// service. The worker reads due tasks from the record store, so nothing about
// the schedule lives only in memory.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kycflow/internal/outbox/metrics"
	"kycflow/internal/verification/models"
	"kycflow/internal/verification/ports"
	"kycflow/pkg/platform/circuit"
)

// Config controls the worker schedule.
type Config struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxAttempts     int
	ReactivateAfter time.Duration
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:    5 * time.Second,
		BatchSize:       16,
		MaxAttempts:     10,
		ReactivateAfter: 6 * time.Hour,
		InitialBackoff:  2 * time.Second,
		MaxBackoff:      15 * time.Minute,
	}
}

// Worker drains the sync queue.
type Worker struct {
	store    ports.SyncTaskStore
	uploader ports.Uploader
	breaker  *circuit.Breaker
	cfg      Config
	wake     chan struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(w *Worker) {
		w.breaker = b
	}
}

func WithConfig(cfg Config) Option {
	return func(w *Worker) {
		w.cfg = cfg
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

func NewWorker(store ports.SyncTaskStore, uploader ports.Uploader, opts ...Option) *Worker {
	w := &Worker{
		store:    store,
		uploader: uploader,
		cfg:      DefaultConfig(),
		wake:     make(chan struct{}, 1),
		logger:   slog.Default(),
		tracer:   otel.Tracer("kycflow/outbox"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.breaker == nil {
		w.breaker = circuit.New("sync-upload", circuit.WithClock(w.now))
	}
	return w
}

// Notify wakes the worker without blocking. Extra wake-ups coalesce.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run recovers interrupted uploads, then drains the queue on every tick or
// notification until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	n, err := w.store.ResetStuckUploads(ctx)
	if err != nil {
		return fmt.Errorf("reset stuck uploads: %w", err)
	}
	w.metrics.AddRequeued("stuck", n)
	if n > 0 {
		w.logger.InfoContext(ctx, "recovered interrupted uploads", "count", n)
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
			w.logger.ErrorContext(ctx, "sync drain failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// Drain uploads every due task and returns how many were synced. It stops
// early while the circuit breaker is open.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	if err := w.reactivate(ctx); err != nil {
		return 0, err
	}
	synced := 0
	for {
		if !w.breaker.Allow() {
			return synced, nil
		}
		tasks, err := w.store.ListDueSyncTasks(ctx, w.now(), w.cfg.BatchSize)
		if err != nil {
			return synced, fmt.Errorf("list due tasks: %w", err)
		}
		if len(tasks) == 0 {
			return synced, nil
		}
		for _, task := range tasks {
			if ctx.Err() != nil {
				return synced, ctx.Err()
			}
			if !w.breaker.Allow() {
				return synced, nil
			}
			ok, err := w.process(ctx, task)
			if err != nil {
				return synced, err
			}
			if ok {
				synced++
			}
		}
	}
}

// reactivate gives parked tasks another round once they have rested long enough.
func (w *Worker) reactivate(ctx context.Context) error {
	if w.cfg.ReactivateAfter <= 0 {
		return nil
	}
	n, err := w.store.RequeueSyncTasks(ctx, models.SyncFilter{ParkedBefore: w.now().Add(-w.cfg.ReactivateAfter)})
	if err != nil {
		return fmt.Errorf("reactivate parked tasks: %w", err)
	}
	w.metrics.AddRequeued("reactivated", n)
	if n > 0 {
		w.logger.InfoContext(ctx, "reactivated parked sync tasks", "count", n)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, task *models.SyncTask) (bool, error) {
	sid := task.SessionID
	if err := w.store.MarkSyncUploading(ctx, sid); err != nil {
		return false, fmt.Errorf("mark %s uploading: %w", sid, err)
	}
	attempts := task.Attempts + 1

	spanCtx, span := w.tracer.Start(ctx, "sync.upload", trace.WithAttributes(
		attribute.String("session_id", sid.String()),
		attribute.Int("attempt", attempts),
	))
	start := time.Now()
	ack, err := w.uploader.Upload(spanCtx, sid, task.Payload)
	w.metrics.ObserveUploadLatency(time.Since(start))

	if err == nil {
		span.End()
		if err := w.store.MarkSyncSynced(ctx, sid); err != nil {
			return false, fmt.Errorf("mark %s synced: %w", sid, err)
		}
		w.recordSuccess()
		result := "synced"
		if ack != nil && ack.Duplicate {
			result = "duplicate"
		}
		w.metrics.IncrementUpload(result)
		w.logger.InfoContext(ctx, "session synced",
			"session_id", sid.String(),
			"attempts", attempts,
			"duplicate", ack != nil && ack.Duplicate,
		)
		return true, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()

	park := attempts >= w.cfg.MaxAttempts
	next := w.now().Add(w.delay(attempts))
	if err := w.store.MarkSyncFailedAttempt(ctx, sid, attempts, err.Error(), next, park); err != nil {
		return false, fmt.Errorf("record failed attempt for %s: %w", sid, err)
	}
	w.recordFailure()
	if park {
		w.metrics.IncrementUpload("parked")
		w.logger.WarnContext(ctx, "sync task parked",
			"session_id", sid.String(),
			"attempts", attempts,
			"error", err,
		)
		return false, nil
	}
	w.metrics.IncrementUpload("failed")
	w.logger.WarnContext(ctx, "sync upload failed",
		"session_id", sid.String(),
		"attempts", attempts,
		"next_attempt_at", next,
		"error", err,
	)
	return false, nil
}

func (w *Worker) recordSuccess() {
	if _, change := w.breaker.RecordSuccess(); change.Closed {
		w.metrics.SetBreakerOpen(false)
		w.logger.Info("sync circuit breaker closed", "breaker", w.breaker.Name())
	}
}

func (w *Worker) recordFailure() {
	if _, change := w.breaker.RecordFailure(); change.Opened {
		w.metrics.SetBreakerOpen(true)
		w.logger.Warn("sync circuit breaker opened", "breaker", w.breaker.Name())
	}
}

// delay is the wait before attempt+1: InitialBackoff doubled per attempt with
// 20% jitter, capped at MaxBackoff.
func (w *Worker) delay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = w.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
