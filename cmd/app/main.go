package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"quotaledger/internal/api/v1/router"
	"quotaledger/internal/config"
	"quotaledger/internal/logger"

	"github.com/joho/godotenv"
)

// @title Quota Ledger API
// @version 1.0
// @description Plan entitlements, usage bookkeeping and subscription transitions
// @host localhost:8080
// @BasePath /v1
// @Schemes http https

func main() {
	// Load .env first so the logger sees ENV and LOG_LEVEL from it.
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logger.New()
		bootLogger.Fatal().Msgf("Error loading config: %v", err)
	}
	logger := logger.FromConfig(cfg)
	if envErr != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	handler, cleanup, err := router.New(cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to build router: %v", err)
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Upgrade confirmation waits on the payment provider.
		WriteTimeout: cfg.PaymentVerifyTimeout() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("environment", cfg.Environment).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server stopped unexpectedly")
			return
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
		return
	}
	logger.Info().Msg("Server shut down gracefully")
}
