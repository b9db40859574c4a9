// Package main runs the ShopMind background worker without the HTTP API.
// It advances the analysis job, executes approved actions, and runs due
// scheduled tasks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiranshivaraju/shopmind/internal/app"
	"github.com/kiranshivaraju/shopmind/internal/config"
)

func main() {
	app.SetupLogging(slog.LevelInfo)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app.SetupLogging(cfg.Server.LogLevel)
	if cfg.Worker.Enabled {
		slog.Warn("WORKER_ENABLED is set; the server also runs a worker and both will tick")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Worker.Run(ctx)
	return nil
}
