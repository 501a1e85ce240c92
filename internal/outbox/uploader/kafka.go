package uploader

import (
	"context"
	"time"

	"kycflow/internal/verification/models"
	id "kycflow/pkg/domain"
)

// Producer is the subset of the platform Kafka producer the uploader needs.
type Producer interface {
	Produce(ctx context.Context, key, value []byte, headers map[string]string) error
	Topic() string
}

// Kafka publishes bundles keyed by session id. Consumers deduplicate on the
// key, and the idempotent producer keeps broker retries from duplicating.
type Kafka struct {
	producer Producer
	deviceID string
}

func NewKafka(producer Producer, deviceID string) *Kafka {
	return &Kafka{producer: producer, deviceID: deviceID}
}

func (u *Kafka) Upload(ctx context.Context, sessionID id.SessionID, payload []byte) (*models.Ack, error) {
	headers := map[string]string{
		"content-type":    "application/json",
		"idempotency-key": sessionID.String(),
	}
	if u.deviceID != "" {
		headers["device-id"] = u.deviceID
	}
	if err := u.producer.Produce(ctx, []byte(sessionID.String()), payload, headers); err != nil {
		return nil, err
	}
	return &models.Ack{SessionID: sessionID, RemoteID: u.producer.Topic(), ReceivedAt: time.Now().UTC()}, nil
}
