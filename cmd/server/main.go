package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pageturner/internal/api"
	"pageturner/internal/config"
	"pageturner/internal/pipeline"
	"pageturner/internal/store"
	"pageturner/internal/transcribe"
	"pageturner/internal/viewer"
)

func main() {
	// Local development convenience; a missing .env is fine.
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(cfg.DataDir)
	if err != nil {
		log.Error("store init failed", "error", err)
		os.Exit(1)
	}

	// Initialize clients.
	vision := transcribe.NewVisionClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	launcher := viewer.NewLauncher(cfg, log)

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, launcher, vision, st, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, vision, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		vision.Close()
	}()

	log.Info("starting pageturner",
		"port", cfg.Port, "data_dir", cfg.DataDir, "workers", cfg.WorkerCount)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
