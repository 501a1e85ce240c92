package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	jwttoken "kycflow/internal/jwt_token"
	"kycflow/internal/outbox/uploader"
	"kycflow/internal/platform/config"
	"kycflow/internal/platform/kafka"
	"kycflow/internal/verification/ports"
)

const (
	keyDeviceID   = "deviceID"
	tokenIssuer   = "kycflow-device"
	tokenAudience = "kycflow-backend"
	tokenTTL      = 15 * time.Minute
)

// resolveDeviceID prefers the configured id, then the one stored on a
// previous run, and otherwise mints and stores a new one.
func resolveDeviceID(ctx context.Context, configured string, prefs ports.PreferenceStore) (string, error) {
	if configured != "" {
		return configured, nil
	}
	stored, ok, err := prefs.Get(ctx, keyDeviceID)
	if err != nil {
		return "", err
	}
	if ok && stored != "" {
		return stored, nil
	}
	minted := uuid.NewString()
	if err := prefs.Set(ctx, keyDeviceID, minted); err != nil {
		return "", err
	}
	return minted, nil
}

// buildUploader picks the sync transport. The returned func releases it.
func buildUploader(ctx context.Context, cfg config.Sync, deviceID string, log *slog.Logger) (ports.Uploader, func(), error) {
	switch cfg.Transport {
	case "http":
		tokens := jwttoken.NewJWTService(cfg.JWTSigningKey, tokenIssuer, tokenAudience).TokenSource(deviceID, tokenTTL)
		return uploader.NewHTTP(cfg.BackendURL, tokens), func() {}, nil
	case "kafka":
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		// Unreachable brokers are not fatal: uploads retry through the outbox.
		ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := producer.EnsureTopic(ensureCtx, 3, 1); err != nil {
			log.WarnContext(ctx, "ensure sync topic", "topic", cfg.KafkaTopic, "error", err)
		}
		return uploader.NewKafka(producer, deviceID), producer.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown sync transport %q", cfg.Transport)
	}
}
