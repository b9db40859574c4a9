// Package main is the entrypoint for the ShopMind API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/app"
	"github.com/kiranshivaraju/shopmind/internal/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	app.SetupLogging(slog.LevelInfo)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app.SetupLogging(cfg.Server.LogLevel)
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// The in-process worker is off when a dedicated worker binary runs.
	var wg sync.WaitGroup
	if cfg.Worker.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Worker.Run(ctx)
		}()
	}
	defer wg.Wait()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
