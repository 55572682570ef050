// Package main runs one pipeline worker process: it leases jobs from
// Postgres, drives them through the stage machine, and exposes a
// health-check endpoint for the surrounding deployment to poll.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/ingestpipe/pipeline"
	"github.com/ingestpipe/pipeline/blob"
	"github.com/ingestpipe/pipeline/blob/memory"
	"github.com/ingestpipe/pipeline/blob/s3"
	"github.com/ingestpipe/pipeline/chunk"
	"github.com/ingestpipe/pipeline/config"
	"github.com/ingestpipe/pipeline/external/embedding"
	"github.com/ingestpipe/pipeline/external/parser"
	"github.com/ingestpipe/pipeline/store/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var configPath string
	flag.StringVar(&configPath, "config", "", "path to an optional YAML config file")
	flag.Parse()

	if err := run(configPath, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DatabaseDSN)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	if err := postgres.InitSchema(ctx, db); err != nil {
		return err
	}

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	parserClient := parser.New(parser.Config{
		BaseURL:          cfg.ParserBaseURL,
		APIKey:           cfg.ParserAPIKey,
		WebhookSecret:    cfg.ParserWebhookSecret,
		FailureThreshold: cfg.CircuitFailureThreshold,
		RecoveryTimeout:  cfg.CircuitRecoveryTimeout,
	})

	embeddingClient := embedding.New(embedding.Config{
		BaseURL:           cfg.EmbeddingBaseURL,
		APIKey:            cfg.EmbeddingAPIKey,
		Model:             cfg.EmbedModel,
		VectorDim:         cfg.VectorDim,
		MaxBatchSize:      cfg.EmbedMaxBatchSize,
		MaxBatchTokens:    cfg.EmbedMaxBatchTokens,
		RequestsPerMinute: cfg.EmbedRequestsPerMinute,
		TokensPerMinute:   cfg.EmbedTokensPerMinute,
		FailureThreshold:  cfg.CircuitFailureThreshold,
		RecoveryTimeout:   cfg.CircuitRecoveryTimeout,
	})

	jobs := postgres.NewJobStore(db)
	documents := postgres.NewDocumentStore(db)
	chunks := postgres.NewChunkStore(db)

	worker := pipeline.NewWorker(jobs, documents, pipeline.NewStageDeps(
		documents, chunks, blobStore, parserClient, embeddingClient, chunk.MarkdownSimple{},
		cfg.EmbedModel, cfg.EmbedVersion, cfg.VectorDim, cfg.ParserWebhookURL,
	), pipeline.WorkerConfig{
		TerminalStage:           cfg.TerminalStage,
		PollInterval:            cfg.PollInterval,
		MaxRetries:              cfg.MaxRetries,
		RetryBaseDelay:          cfg.RetryBaseDelay,
		RetryJitter:             cfg.RetryJitter,
		CircuitFailureThreshold: cfg.CircuitFailureThreshold,
		CircuitRecoveryTimeout:  cfg.CircuitRecoveryTimeout,
	}, logger)

	if err := worker.Start(ctx); err != nil {
		return err
	}

	srv := newHealthServer(worker)
	go func() {
		if err := srv.Start(cfg.HealthAddr); err != nil && err != http.ErrServerClosed {
			logger.Error("health server exited with error", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if err := worker.Stop(10 * time.Second); err != nil {
		logger.Error("worker did not stop cleanly", "err", err)
	}
	return nil
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.BlobBackend == "s3" {
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	}
	return memory.New(), nil
}

// newHealthServer wires the only HTTP surface this process owns: GET
// /healthz, backed by pipeline.Worker.Health. The upload HTTP surface
// that consumes intake.Service lives outside this binary.
func newHealthServer(worker *pipeline.Worker) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/healthz", func(c echo.Context) error {
		health := worker.Health(c.Request().Context())
		status := http.StatusOK
		if health.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, health)
	})
	return e
}
