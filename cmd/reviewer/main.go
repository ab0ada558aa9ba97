package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"frigate-reviewer-go/internal/api"
	"frigate-reviewer-go/internal/config"
	"frigate-reviewer-go/internal/logging"
	"frigate-reviewer-go/internal/services"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg := config.Load()

	if cfg.WorkerID == "" {
		cfg.WorkerID = "reviewer-" + uuid.NewString()[:8]
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Optionally tee logs into the embedded Logdy web UI
	if cfg.LogdyEnabled {
		ldWriter, url, err := logging.StartLogdy(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to start Logdy, continuing with console logging")
		} else {
			console := zerolog.ConsoleWriter{Out: os.Stderr}
			log.Logger = log.Output(io.MultiWriter(console, ldWriter))
			log.Info().Str("url", url).Msg("Log tee to Logdy enabled")
		}
	}

	log.Info().
		Str("worker_id", cfg.WorkerID).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Str("frigate_url", cfg.FrigateURL).
		Str("detector_url", cfg.DetectorURL).
		Int("workers", cfg.ReviewWorkers).
		Msg("Starting Frigate false-positive reviewer")

	// Build services
	container, err := services.NewServiceContainer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}

	// Start the review pipeline
	if err := container.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start review pipeline")
	}

	// Start the operator API
	server := api.NewServer(cfg, container)
	if err := server.Setup(); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up API server")
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("Operator API listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	// Wait for interrupt signal or an unrecoverable pipeline error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-container.ReviewSvc.Fatal():
		log.Error().Err(err).Msg("Unrecoverable pipeline error, shutting down")
		exitCode = 1
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("API server forced to shutdown")
	}

	if err := container.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Service shutdown error")
	} else {
		log.Info().Msg("Shutdown complete")
	}

	os.Exit(exitCode)
}
