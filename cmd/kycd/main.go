package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"kycflow/internal/media"
	"kycflow/internal/narration"
	"kycflow/internal/oracle"
	"kycflow/internal/outbox"
	outboxmetrics "kycflow/internal/outbox/metrics"
	"kycflow/internal/platform/config"
	"kycflow/internal/platform/httpserver"
	"kycflow/internal/platform/logger"
	"kycflow/internal/platform/metrics"
	"kycflow/internal/preferences"
	"kycflow/internal/verification/advisory"
	"kycflow/internal/verification/engine"
	"kycflow/internal/verification/handler"
	"kycflow/internal/verification/liveness"
	vmetrics "kycflow/internal/verification/metrics"
	"kycflow/internal/verification/quality"
	"kycflow/internal/verification/store"
	"kycflow/pkg/platform/circuit"
)

// main wires the on-device daemon: record store, engine, local API and the
// sync worker. Everything shuts down together on SIGINT or SIGTERM.
func main() {
	cfg := config.DeviceFromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("kycd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Device, log *slog.Logger) error {
	records, err := store.OpenSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer records.Close()

	prefs := preferences.NewFile(cfg.PreferencesFile)
	deviceID, err := resolveDeviceID(ctx, cfg.DeviceID, prefs)
	if err != nil {
		return err
	}

	thresholds, err := quality.LoadThresholds(cfg.ThresholdsFile)
	if err != nil {
		return err
	}
	gate, err := quality.NewGate(thresholds)
	if err != nil {
		return err
	}
	selector, err := liveness.NewSelector(cfg.ChallengeCount)
	if err != nil {
		return err
	}

	mediaStore, err := media.NewStore(cfg.MediaDir)
	if err != nil {
		return err
	}
	spool, err := media.NewSpool(cfg.SpoolDir, mediaStore, media.WithLogger(log))
	if err != nil {
		return err
	}

	uploader, closeUploader, err := buildUploader(ctx, cfg.Sync, deviceID, log)
	if err != nil {
		return err
	}
	defer closeUploader()

	breaker := circuit.New("sync-upload",
		circuit.WithFailureThreshold(cfg.Sync.BreakerThreshold),
		circuit.WithCooldown(cfg.Sync.BreakerCooldown),
	)
	worker := outbox.NewWorker(records, uploader,
		outbox.WithLogger(log),
		outbox.WithMetrics(outboxmetrics.New()),
		outbox.WithBreaker(breaker),
		outbox.WithConfig(outbox.Config{
			PollInterval:    cfg.Sync.PollInterval,
			BatchSize:       cfg.Sync.BatchSize,
			MaxAttempts:     cfg.Sync.MaxAttempts,
			ReactivateAfter: cfg.Sync.ReactivateAfter,
			InitialBackoff:  cfg.Sync.InitialBackoff,
			MaxBackoff:      cfg.Sync.MaxBackoff,
		}),
	)

	oracles := oracle.New(cfg.DocumentOracleURL, cfg.FaceOracleURL)
	narrator := narration.NewAsync(narration.NewLog(log), narration.WithLogger(log))
	defer narrator.Close()

	eng, err := engine.New(records, oracles, oracles,
		engine.WithLogger(log),
		engine.WithMetrics(vmetrics.New()),
		engine.WithCaptureProvider(spool),
		engine.WithNarrator(narrator),
		engine.WithSyncNotifier(worker),
		engine.WithGate(gate),
		engine.WithSelector(selector),
		engine.WithImageStore(mediaStore),
		engine.WithPoller(advisory.NewPoller(oracles, gate,
			advisory.WithMaxDuration(cfg.PreviewLimit),
			advisory.WithLogger(log),
		)),
		engine.WithConfig(engine.Config{
			StageRetries:   cfg.StageRetries,
			OracleAttempts: cfg.OracleAttempts,
			OracleTimeout:  cfg.OracleTimeout,
		}),
		engine.WithDeviceID(deviceID),
	)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	handler.New(eng, mediaStore, prefs, log, handler.WithMetrics(metrics.NewHTTP("kyc_device"))).Register(router)
	router.Handle("/metrics", metrics.Handler())
	srv := httpserver.New(cfg.Addr, router, httpserver.WithTimeouts(2*time.Minute, 0))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting kycd", "addr", cfg.Addr, "device_id", deviceID, "sync_transport", cfg.Sync.Transport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
