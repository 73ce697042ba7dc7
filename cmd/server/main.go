// Package main provides the entry point for the submission dedup HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/submission-dedup-service/internal/auth"
	"github.com/helixir/submission-dedup-service/internal/config"
	"github.com/helixir/submission-dedup-service/internal/database"
	"github.com/helixir/submission-dedup-service/internal/dedup"
	"github.com/helixir/submission-dedup-service/internal/events"
	"github.com/helixir/submission-dedup-service/internal/observability"
	"github.com/helixir/submission-dedup-service/internal/repository"
	httpserver "github.com/helixir/submission-dedup-service/internal/server/http"
	"github.com/helixir/submission-dedup-service/internal/similarity"
	"github.com/helixir/submission-dedup-service/internal/workflow"
)

// tokenPurgeInterval is how often expired API tokens are deleted.
const tokenPurgeInterval = time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the environment may already be populated.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = observability.WithComponent(logger, "server")
	logger.Info().Msg("submission-dedup-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Set up tracing.
	tracerProvider, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("create tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("tracer provider shutdown error")
		}
	}()
	tracer := tracerProvider.Tracer()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		if err := migrate(db, cfg.Database.MigrationPath, logger); err != nil {
			return err
		}
	}

	// Create repositories.
	submissionRepo := repository.NewPgSubmissionRepository(db)
	recordRepo := repository.NewPgRecordRepository(db)
	decisionRepo := repository.NewPgDecisionRepository(db)
	authRepo := repository.NewPgAuthRepository(db)

	// Similarity engine behind the limiter.
	signatureEngine, err := similarity.NewSignatureEngine(recordRepo, similarity.SignaturesFromConfig(cfg.Dedup.Signatures))
	if err != nil {
		return fmt.Errorf("create similarity engine: %w", err)
	}
	engine := similarity.NewLimitedEngine(signatureEngine, similarity.LimitConfig{
		Timeout:       cfg.Dedup.SimilarityTimeout,
		RatePerSecond: cfg.Dedup.SimilarityRateLimit,
		Burst:         cfg.Dedup.SimilarityBurst,
	}, metrics, tracer)

	// Decision event publisher.
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Kafka.Enabled {
		kafkaPublisher, err := events.NewKafkaPublisher(events.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			WriteTimeout: cfg.Kafka.WriteTimeout,
			QueueSize:    cfg.Kafka.QueueSize,
			Source:       cfg.Tracing.ServiceName,
		}, metrics, logger)
		if err != nil {
			return fmt.Errorf("create kafka publisher: %w", err)
		}
		publisher = kafkaPublisher
		logger.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("kafka publisher enabled")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close event publisher")
		}
	}()

	workflowService := workflow.NewService(db, submissionRepo, logger)
	authService := auth.NewService(authRepo, cfg.Auth.TokenTTL, logger)

	registry := dedup.NewRegistry(
		dedup.PolicyFromConfig(cfg.Dedup),
		submissionRepo,
		recordRepo,
		engine,
		decisionRepo,
		workflowService,
		dedup.WithPublisher(publisher),
		dedup.WithLogger(logger),
		dedup.WithMetrics(metrics),
		dedup.WithTracer(tracer),
	)

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, registry, workflowService, authService, db, metrics, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	// Start HTTP REST API server in background.
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Start metrics server if configured.
	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	go purgeExpiredTokens(ctx, authService, logger)

	readyLog := logger.Info().Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("submission-dedup-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down submission-dedup-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("submission-dedup-service shutdown complete")
	return nil
}

// migrate applies all pending migrations.
func migrate(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// purgeExpiredTokens deletes expired API tokens until ctx is cancelled.
func purgeExpiredTokens(ctx context.Context, authService *auth.Service, logger zerolog.Logger) {
	ticker := time.NewTicker(tokenPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := authService.PurgeExpired(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to purge expired tokens")
				continue
			}
			if n > 0 {
				logger.Debug().Int64("deleted", n).Msg("purged expired tokens")
			}
		}
	}
}
