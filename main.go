package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mediasearch/backend/internal/app"
	"mediasearch/backend/internal/config"
	"mediasearch/backend/internal/logger"
)

func main() {
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("app exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()
	defer deps.NSQProducer.Stop()

	application, err := app.New(cfg, deps.DB, deps.IndexStore, deps.NSQProducer, log, nil)
	if err != nil {
		return err
	}
	log.Info("sync engine starting", "queues", cfg.SyncQueues, "workers", cfg.SyncWorkerConcurrency,
		"api", cfg.EnableAPI, "sync_worker", cfg.EnableSyncWorker)
	return application.Run(ctx)
}
