package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"quotaledger/internal/api/v1/router"
	"quotaledger/internal/config"
	"quotaledger/internal/logger"
	"quotaledger/internal/model"
	"quotaledger/internal/orchestrator/export"
	"quotaledger/internal/orchestrator/reconcile"
	"quotaledger/internal/orchestrator/scheduler"

	"github.com/joho/godotenv"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "", "Worker mode: reconcile|scheduler")
	flag.Parse()

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

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := router.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to initialize backend: %v", err)
	}
	defer rt.Close()

	// Dispatch to the selected worker
	var runErr error
	switch *mode {
	case "reconcile":
		if rt.Queue == nil {
			logger.Fatal().Msg("reconcile mode requires the postgres storage backend")
		}
		w := reconcile.NewWorker(rt.Queue, rt.Services.Usage, rt.Metrics, reconcile.OptionsFromConfig(cfg), logger)
		runErr = w.Run(ctx)
	case "scheduler":
		var exporter scheduler.Exporter
		if cfg.S3Bucket != "" {
			window, err := model.ParseTimeRange(cfg.ExportRange)
			if err != nil {
				logger.Fatal().Msgf("Invalid EXPORT_RANGE: %v", err)
			}
			putter, err := export.NewS3Putter(ctx, cfg)
			if err != nil {
				logger.Fatal().Msgf("Failed to initialize S3 client: %v", err)
			}
			exporter = export.NewExporter(rt.Services.Analytics, putter, cfg.S3Prefix, window, logger)
		} else {
			logger.Warn().Msg("S3_BUCKET not set; analytics export is disabled")
		}
		s, err := scheduler.New(rt.Services.Plans, exporter, scheduler.Options{
			SweepSchedule:  cfg.SweepSchedule,
			ExportSchedule: cfg.ExportSchedule,
		}, logger)
		if err != nil {
			logger.Fatal().Msgf("Failed to build scheduler: %v", err)
		}
		runErr = s.Run(ctx)
	default:
		logger.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	if runErr != nil {
		logger.Fatal().Msgf("%s worker failed: %v", *mode, runErr)
	}

	logger.Info().Msgf("%s worker stopped gracefully", *mode)
}
