package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/dental-collections/cmd/mainconfig"
	"github.com/wolfman30/dental-collections/internal/api/router"
	"github.com/wolfman30/dental-collections/internal/app/bootstrap"
	"github.com/wolfman30/dental-collections/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/dental-collections/internal/http/middleware"
	"github.com/wolfman30/dental-collections/internal/observability/metrics"
	collectionsworker "github.com/wolfman30/dental-collections/internal/worker/collections"
)

func main() {
	cfg := mainconfig.Load()
	logger := mainconfig.Logger(cfg)
	logger.Info("starting collections API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.AdminJWTSecret == "" {
		logger.Error("collections API requires ADMIN_JWT_SECRET")
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collectionsMetrics := metrics.NewCollectionsMetrics(reg)

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

	var queue handlers.BatchEnqueuer
	if redisClient != nil {
		client, err := collectionsworker.NewClient(cfg)
		if err != nil {
			logger.Error("failed to create task client", "error", err)
			os.Exit(1)
		}
		defer func() { _ = client.Close() }()
		queue = client
	} else {
		logger.Warn("redis unavailable; admin batch runs execute inline")
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.AdminRateLimit, cfg.AdminRateBurst)
	go evictIdleClients(ctx, limiter)

	r := router.New(&router.Config{
		Logger:          logger,
		Collections:     handlers.NewAdminCollectionsHandler(runtime.Engine, queue, cfg.BatchSize, logger),
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Database:        pool,
		RateLimiter:     limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

func evictIdleClients(ctx context.Context, limiter *httpmiddleware.RateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Evict(10 * time.Minute)
		}
	}
}
