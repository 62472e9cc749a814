package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/dental-collections/cmd/mainconfig"
	"github.com/wolfman30/dental-collections/internal/app/bootstrap"
	"github.com/wolfman30/dental-collections/internal/events"
	"github.com/wolfman30/dental-collections/internal/observability/metrics"
	collectionsworker "github.com/wolfman30/dental-collections/internal/worker/collections"
)

func main() {
	cfg := mainconfig.Load()
	logger := mainconfig.Logger(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" || cfg.RedisAddr == "" {
		logger.Error("collections worker requires DATABASE_URL and REDIS_ADDR")
		os.Exit(1)
	}

	pool, err := bootstrap.BuildPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	collectionsMetrics := metrics.NewCollectionsMetrics(prometheus.DefaultRegisterer)

	ses, err := mainconfig.SESClient(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	notifiers, err := bootstrap.BuildNotifierRegistry(cfg, bootstrap.NotifierDeps{
		Observer: collectionsMetrics,
		SES:      ses,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to build notifiers", "error", err)
		os.Exit(1)
	}

	runtime, err := bootstrap.BuildRuntime(cfg, pool, redisClient, notifiers, collectionsMetrics, logger)
	if err != nil {
		logger.Error("failed to build collections runtime", "error", err)
		os.Exit(1)
	}

	client, err := collectionsworker.NewClient(cfg)
	if err != nil {
		logger.Error("failed to create task client", "error", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	var handler events.DeliveryHandler = events.NewLogHandler(logger)
	if cfg.EventsQueueURL != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		handler = events.NewSQSHandler(sqs.NewFromConfig(awsCfg), cfg.EventsQueueURL)
	}
	deliverer := events.NewDeliverer(runtime.Outbox, handler, logger).
		WithInterval(cfg.OutboxPollInterval).
		WithMaxAttempts(cfg.OutboxMaxAttempts).
		WithRetention(cfg.OutboxRetention)
	go deliverer.Start(ctx)

	handlers := collectionsworker.NewHandlers(runtime.Engine, runtime.Store, client, cfg.BatchSize, logger)
	worker := collectionsworker.NewWorker(cfg, handlers, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := worker.Run(ctx); err != nil {
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}
	logger.Info("collections worker shutting down")
	cancel()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("collections worker shutdown timed out")
	}
}
