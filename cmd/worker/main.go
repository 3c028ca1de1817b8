package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"report-pipeline/internal/artifact"
	"report-pipeline/internal/config"
	"report-pipeline/internal/download"
	"report-pipeline/internal/logging"
	"report-pipeline/internal/notify"
	"report-pipeline/internal/queue"
	"report-pipeline/internal/render"
	"report-pipeline/internal/report"
	"report-pipeline/internal/store"
	"report-pipeline/internal/telemetry"
	"report-pipeline/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.New(cfg.Env, "report-worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	q := queue.New(redisClient, cfg.VisibilityTimeout, cfg.DLQName)

	artifacts, err := artifact.NewFromConfig(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("init artifact store")
	}

	registry := report.NewRegistry(logger,
		report.NewJobHistoryStrategy(st.Pool()),
		report.NewThresholdAuditStrategy(st.Pool()),
	)
	downloads := download.NewService(st, cfg.DownloadTokenTTL, logger)
	notifier := notify.New(st, cfg.NotifyWebhookURL, cfg.NotifyTimeout, cfg.NotifyRetryLimit, logger)

	consumer := worker.NewConsumer(cfg, q, st, registry, render.CSV{},
		artifacts, downloads, notifier, downloads, logger)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	logger.Info().
		Dur("visibility", cfg.VisibilityTimeout).
		Dur("poll", cfg.WorkerPollInterval).
		Msg("worker started")
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped")
	}
}
