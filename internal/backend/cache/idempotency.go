// Package cache short-circuits replayed uploads before they reach Postgres.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "kycflow/pkg/domain"
)

const keyPrefix = "kyc:ingest:"

// Idempotency maps a session id to the verification id it was stored under.
// It is an optimisation only: Postgres' unique constraint stays authoritative.
type Idempotency struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotency(client *redis.Client, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Idempotency{client: client, ttl: ttl}
}

// Lookup returns the remembered verification id, or "" on a miss.
func (c *Idempotency) Lookup(ctx context.Context, sessionID id.SessionID) (string, error) {
	v, err := c.client.Get(ctx, keyPrefix+sessionID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("idempotency lookup: %w", err)
	}
	return v, nil
}

// Remember records verificationID for sessionID unless a value exists already.
func (c *Idempotency) Remember(ctx context.Context, sessionID id.SessionID, verificationID string) error {
	if err := c.client.SetNX(ctx, keyPrefix+sessionID.String(), verificationID, c.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency remember: %w", err)
	}
	return nil
}
