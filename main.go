// Command workbench-server runs the workbench backend: multi-tenant app
// workspaces, a process supervisor for each app's dev server, an
// AI-assisted streaming generation pipeline, a preview reverse proxy, and a
// WebSocket log subscription fabric.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/workbench/server/internal/config"
	"github.com/workbench/server/internal/logging"
	"github.com/workbench/server/internal/persistence"
	"github.com/workbench/server/internal/server"
)

func main() {
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	store, err := persistence.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open persistence store", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, store)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("server error", "error", err)
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		slog.Error("error during shutdown", "error", err)
	}

	slog.Info("workbench server stopped")
}
