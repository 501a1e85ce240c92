// Package publisher drains the backend outbox into Kafka.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kycflow/internal/backend/metrics"
	"kycflow/internal/backend/models"
)

type Outbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]*models.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Producer is satisfied by platform/kafka.Producer.
type Producer interface {
	Produce(ctx context.Context, key, value []byte, headers map[string]string) error
}

// Publisher delivers each outbox entry at least once. Entries are produced
// in creation order and marked only after the broker acked them.
type Publisher struct {
	outbox    Outbox
	producer  Producer
	interval  time.Duration
	batchSize int
	wake      chan struct{}
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func New(outbox Outbox, producer Producer, opts ...Option) *Publisher {
	p := &Publisher{
		outbox:    outbox,
		producer:  producer,
		interval:  2 * time.Second,
		batchSize: 100,
		wake:      make(chan struct{}, 1),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Notify requests an immediate drain without blocking the caller.
func (p *Publisher) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox on every tick or notification until ctx ends.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.PublishPending(ctx); err != nil && ctx.Err() == nil {
			p.logger.WarnContext(ctx, "outbox publish failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// PublishPending produces one batch and returns how many entries were
// marked. It stops at the first produce error so ordering is preserved.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	entries, err := p.outbox.FetchUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}

	var (
		done    []uuid.UUID
		prodErr error
	)
	for _, e := range entries {
		headers := map[string]string{
			"event-type": e.EventType,
			"event-id":   e.ID.String(),
		}
		if prodErr = p.producer.Produce(ctx, []byte(e.AggregateID), e.Payload, headers); prodErr != nil {
			p.metrics.IncrementPublishFailure()
			break
		}
		done = append(done, e.ID)
	}

	if len(done) > 0 {
		if err := p.outbox.MarkPublished(ctx, done, p.now()); err != nil {
			return 0, err
		}
		p.metrics.AddPublished(len(done))
		p.logger.DebugContext(ctx, "outbox entries published", "count", len(done))
	}
	return len(done), prodErr
}
