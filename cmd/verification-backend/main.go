package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"kycflow/internal/backend/cache"
	"kycflow/internal/backend/handler"
	backendmetrics "kycflow/internal/backend/metrics"
	"kycflow/internal/backend/publisher"
	"kycflow/internal/backend/service"
	"kycflow/internal/backend/store"
	jwttoken "kycflow/internal/jwt_token"
	"kycflow/internal/platform/config"
	"kycflow/internal/platform/httpserver"
	"kycflow/internal/platform/kafka"
	"kycflow/internal/platform/logger"
	"kycflow/internal/platform/metrics"
	"kycflow/internal/platform/postgres"
	"kycflow/internal/platform/redis"
	"kycflow/pkg/platform/secrets"
)

const (
	tokenIssuer   = "kycflow-device"
	tokenAudience = "kycflow-backend"
)

// backendStore is what both the service and the outbox publisher need.
type backendStore interface {
	service.Store
	publisher.Outbox
}

func main() {
	cfg := config.BackendFromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("verification backend stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Backend, log *slog.Logger) error {
	records, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	m := backendmetrics.New()
	svcOpts := []service.Option{service.WithLogger(log), service.WithMetrics(m)}

	redisClient, err := redis.Open(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		svcOpts = append(svcOpts, service.WithCache(cache.NewIdempotency(redisClient, cfg.IdempotentTTL)))
	}

	var pub *publisher.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer producer.Close()
		ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := producer.EnsureTopic(ensureCtx, 3, 1); err != nil {
			log.WarnContext(ctx, "ensure outbox topic", "topic", cfg.KafkaTopic, "error", err)
		}
		cancel()
		pub = publisher.New(records, producer,
			publisher.WithLogger(log),
			publisher.WithMetrics(m),
			publisher.WithInterval(cfg.PublishEvery),
		)
		svcOpts = append(svcOpts, service.WithPublisher(pub))
	} else {
		log.Warn("no kafka brokers configured, outbox events stay unpublished")
	}

	svc := service.New(records, svcOpts...)
	validator := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.JWTSigningKey, tokenIssuer, tokenAudience))

	handlerOpts := []handler.Option{handler.WithMetrics(metrics.NewHTTP("kyc_backend"))}
	if pub != nil {
		tokenHash, err := adminTokenHash(cfg, log)
		if err != nil {
			return err
		}
		handlerOpts = append(handlerOpts, handler.WithAdmin(tokenHash, pub))
	}
	router := chi.NewRouter()
	handler.New(svc, validator, log, handlerOpts...).Register(router)
	router.Handle("/metrics", metrics.Handler())
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting verification backend", "addr", cfg.Addr, "cache", redisClient != nil, "publisher", pub != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if pub != nil {
		g.Go(func() error {
			return pub.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore uses Postgres when DATABASE_URL is set and an in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Backend, log *slog.Logger) (backendStore, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewInMemory(), func() {}, nil
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgres(db)
	if err := pg.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return pg, func() { db.Close() }, nil
}

// adminTokenHash prefers the configured hash and otherwise hashes a plaintext
// ADMIN_TOKEN. No token leaves the admin routes disabled.
func adminTokenHash(cfg config.Backend, log *slog.Logger) (string, error) {
	if cfg.AdminTokenHash != "" || cfg.AdminToken == "" {
		return cfg.AdminTokenHash, nil
	}
	log.Warn("ADMIN_TOKEN is set in plaintext, prefer ADMIN_TOKEN_HASH")
	hash, err := secrets.Hash(cfg.AdminToken)
	if err != nil {
		return "", fmt.Errorf("hash admin token: %w", err)
	}
	return hash, nil
}
