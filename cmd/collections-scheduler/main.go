package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wolfman30/dental-collections/cmd/mainconfig"
	collectionsworker "github.com/wolfman30/dental-collections/internal/worker/collections"
)

func main() {
	cfg := mainconfig.Load()
	logger := mainconfig.Logger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler, err := collectionsworker.NewScheduler(cfg, logger)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Run(ctx); err != nil {
		logger.Error("scheduler stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("collections scheduler exited")
}
