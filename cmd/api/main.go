package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"report-pipeline/internal/api"
	"report-pipeline/internal/artifact"
	"report-pipeline/internal/config"
	"report-pipeline/internal/download"
	"report-pipeline/internal/logging"
	"report-pipeline/internal/orchestrator"
	"report-pipeline/internal/queue"
	"report-pipeline/internal/ratelimit"
	"report-pipeline/internal/report"
	"report-pipeline/internal/router"
	"report-pipeline/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.New(cfg.Env, "report-api")

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
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	artifacts, err := artifact.NewFromConfig(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("init artifact store")
	}

	registry := report.NewRegistry(logger,
		report.NewJobHistoryStrategy(st.Pool()),
		report.NewThresholdAuditStrategy(st.Pool()),
	)
	decider := router.New(st, cfg.DefaultMaxRecords, cfg.DefaultMaxDuration, cfg.ThresholdCacheTTL, logger)
	orch := orchestrator.New(registry, decider, st, q, cfg.QueuedTimeAllowance, logger)
	downloads := download.NewService(st, cfg.DownloadTokenTTL, logger)

	server := api.New(cfg, st, orch, downloads, artifacts, q, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info().Msg("api stopped")
}
