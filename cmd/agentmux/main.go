// Agentmux orchestrator server: hosts assistant workers in detached tmux
// sessions, exposes the HTTP control API, and runs the lifecycle,
// diagnostics, and retention loops.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentmux/agentmux/pkg/api"
	"github.com/agentmux/agentmux/pkg/backend"
	"github.com/agentmux/agentmux/pkg/config"
	"github.com/agentmux/agentmux/pkg/deps"
	"github.com/agentmux/agentmux/pkg/events"
	"github.com/agentmux/agentmux/pkg/manager"
	"github.com/agentmux/agentmux/pkg/output"
	"github.com/agentmux/agentmux/pkg/ralph"
	"github.com/agentmux/agentmux/pkg/ratelimit"
	"github.com/agentmux/agentmux/pkg/sentinel"
	"github.com/agentmux/agentmux/pkg/tmux"
	"github.com/agentmux/agentmux/pkg/worker"
)

func main() {
	envPath := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting agentmux",
		"http_port", cfg.HTTPPort,
		"max_concurrent", cfg.MaxConcurrent,
		"session_prefix", cfg.SessionPrefix,
		"backend", cfg.BackendCommand)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Core state.
	registry := worker.NewRegistry()
	graph := deps.NewGraph()
	bus := events.NewBus()
	activity := worker.NewActivityLog()
	limiter := ratelimit.NewLimiter()

	// tmux and the output store.
	mux := tmux.NewClient()
	store, err := output.OpenStore(cfg.OutputDBPath)
	if err != nil {
		slog.Error("Failed to open output store", "path", cfg.OutputDBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing output store", "error", err)
		}
	}()
	go store.RunSweeper(rootCtx, cfg.OutputRetentionDays)

	// Completion signalling.
	tokens := ralph.NewTokenStore()
	ralphSvc := ralph.NewService(tokens, registry, bus)
	go ralphSvc.RunTokenSweeper(rootCtx)

	// Backends.
	backends := backend.NewRegistry(&backend.Claude{CommandPath: cfg.BackendCommand})

	// Optional local summariser.
	var provider backend.ApiProvider
	if cfg.OllamaURL != "" {
		provider = backend.NewOllama(cfg.OllamaURL, os.Getenv("OLLAMA_MODEL"))
		slog.Info("Summariser provider configured", "url", cfg.OllamaURL)
	}

	// Lifecycle manager: restores the snapshot, adopts orphaned sessions,
	// and starts the periodic cleanup loop.
	mgr := manager.New(cfg, registry, graph, bus, mux, store, ralphSvc, backends, activity)
	mgr.Start(rootCtx)

	// Sentinel diagnostics.
	sent := sentinel.New(registry, mux, cfg.SessionPrefix, backends)
	go sent.Run(rootCtx, cfg.SentinelInterval)

	// Rate-limit bucket pruning.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				limiter.Prune(time.Hour)
			}
		}
	}()

	// HTTP server.
	server := api.NewServer(cfg, mgr, registry, graph, bus, store, ralphSvc,
		sent, activity, limiter, provider)
	httpServer := server.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop the HTTP surface first so no new work arrives, then the
	// lifecycle loops. Worker tmux sessions are left running; the next
	// start reattaches them from the snapshot.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		mgr.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Lifecycle manager stopped gracefully")
	case <-time.After(10 * time.Second):
		slog.Warn("Lifecycle manager shutdown timeout exceeded")
	}

	rootCancel()
	slog.Info("Shutdown complete")
}
