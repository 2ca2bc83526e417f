// Package main is the entry point for the FormBridge submission server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/formbridge/formbridge/internal/config"
	"github.com/formbridge/formbridge/internal/delivery"
	"github.com/formbridge/formbridge/internal/intake"
	"github.com/formbridge/formbridge/internal/observability"
	"github.com/formbridge/formbridge/internal/submission"
	"github.com/formbridge/formbridge/internal/transport"
	"github.com/formbridge/formbridge/internal/upload"
	"github.com/formbridge/formbridge/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "formbridge", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load intake definitions, validate, build registry.
	loader := intake.NewLoader()
	intakes, err := loader.LoadAll(cfg.Intakes.Directories)
	if err != nil {
		logger.Error("intake loading failed", zap.Error(err))
		return 1
	}

	validator := intake.NewValidator()
	verrs := validator.Validate(intakes)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("intake validation error", zap.String("error", ve.Error()))
		}
		logger.Error("intake validation failed", zap.Int("errors", len(verrs)))
		return 1
	}

	registry := intake.NewRegistry(intakes)
	metrics.SetIntakesLoaded(float64(registry.Len()))

	// Step 5: Initialize stores.
	store, storeCloser, err := buildStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("submission store initialization failed", zap.Error(err))
		return 1
	}

	idemStore, idemCloser := buildIdempotencyStore(cfg.Idempotency, logger)

	// Step 6: Build the delivery engine.
	sink := observability.NewEventMetricsSink(metrics)
	deliverer := delivery.NewEngine(store, registry, model.DeliveryPolicy{
		MaxAttempts:       cfg.Delivery.MaxAttempts,
		InitialDelay:      cfg.Delivery.InitialDelay,
		BackoffMultiplier: cfg.Delivery.BackoffMultiplier,
		MaxDelay:          cfg.Delivery.MaxDelay,
	},
		delivery.WithHTTPClient(&http.Client{Timeout: cfg.Delivery.RequestTimeout}),
		delivery.WithLogger(logger.Named("delivery")),
		delivery.WithSink(sink),
	)

	// Step 7: Build the submission engine.
	uploads := upload.NewMemoryBackend(cfg.Uploads.BaseURL)
	engine := submission.NewEngine(registry, store,
		submission.WithIdempotencyStore(idemStore),
		submission.WithUploadBackend(uploads),
		submission.WithDispatcher(deliverer),
		submission.WithSink(sink),
		submission.WithLogger(logger.Named("submission")),
		submission.WithDefaultTTL(cfg.Submission.DefaultTTL),
	)

	// Step 8: Build HTTP router.
	readinessChecks := observability.ReadinessChecks{
		IntakesLoaded: func() bool { return registry.Len() > 0 },
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readinessChecks.SubmissionStore = hc
	}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		readinessChecks.IdempotencyStore = hc
	}

	handoffSigner := transport.NewHandoffSigner(
		os.Getenv(cfg.Handoff.SecretEnv),
		cfg.Handoff.LinkTTL,
		cfg.Handoff.BaseURL,
	)

	router := transport.NewRouter(transport.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Engine:    engine,
		Delivery:  deliverer,
		Intakes:   registry,
		Handoff:   handoffSigner,
		Metrics:   metrics,
		Readiness: readinessChecks,
		APIKeys:   apiKeys(cfg.Auth),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go runExpirySweeper(bgCtx, engine, cfg.Submission.ExpirySweepInterval, logger)

	// Step 10: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("intakes", registry.Len()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Let in-flight deliveries finish.
	if err := deliverer.Shutdown(shutdownCtx); err != nil {
		logger.Error("delivery shutdown error", zap.Error(err))
	}

	// Cancel background tasks.
	bgCancel()

	// Close stores.
	if storeCloser != nil {
		storeCloser()
	}
	if idemCloser != nil {
		idemCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStore creates the submission store based on config.
func buildStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (submission.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory submission store")
		return submission.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("submission store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("submission store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("submission store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("submission store: ping: %w", err)
		}

		return submission.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported submission store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the creation dedup store based on config.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (submission.IdempotencyStore, func()) {
	switch cfg.Driver {
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			logger.Warn("redis address not configured, using in-memory idempotency store")
			return submission.NewMemoryIdempotencyStore(), nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		return submission.NewRedisIdempotencyStore(client), func() { client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return submission.NewMemoryIdempotencyStore(), nil
	}
}

// apiKeys reads the configured API keys from the environment. Keys are comma
// separated.
func apiKeys(cfg config.AuthConfig) []string {
	if cfg.APIKeysEnv == "" {
		return nil
	}
	raw := os.Getenv(cfg.APIKeysEnv)
	if raw == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// runExpirySweeper periodically expires submissions whose TTL has elapsed.
func runExpirySweeper(ctx context.Context, engine *submission.Engine, interval time.Duration, logger *zap.Logger) {
	if interval == 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.ProcessExpirations(ctx); err != nil {
				logger.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}
