package main

import (
	"context"
	"flag"
	"time"

	"quotaledger/internal/config"
	"quotaledger/internal/logger"
	"quotaledger/internal/model"
	"quotaledger/internal/pgmq"
	"quotaledger/internal/repository"

	"github.com/joho/godotenv"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Only report how many accounts still need migrating")
	skipQueues := flag.Bool("skip-queues", false, "Do not create the pgmq usage retry queues")
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := repository.OpenDB(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
	}
	defer db.Close()

	repo := repository.NewMigrationRepo(db)

	if *dryRun {
		n, err := repo.CountUnmigrated(ctx)
		if err != nil {
			logger.Fatal().Msgf("Failed to count unmigrated accounts: %v", err)
		}
		logger.Info().Int64("unmigrated", n).Msg("Dry run complete")
		return
	}

	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal().Msgf("Failed to apply schema: %v", err)
	}
	logger.Info().Msg("Schema is up to date")

	if !*skipQueues {
		q := pgmq.New(db)
		for _, name := range []string{cfg.UsageRetryQueueName, cfg.UsageDeadLetterQueueName} {
			if err := q.CreateQueue(ctx, name); err != nil {
				logger.Fatal().Msgf("Failed to create queue %s: %v", name, err)
			}
			logger.Info().Str("queue", name).Msg("Queue ready")
		}
	}

	free := model.Limits{MessageLimit: cfg.FreeMessageLimit, DocumentLimit: cfg.FreeDocumentLimit}
	n, err := repo.BackfillAccounts(ctx, free, time.Now().UTC())
	if err != nil {
		logger.Fatal().Msgf("Failed to backfill accounts: %v", err)
	}
	remaining, err := repo.CountUnmigrated(ctx)
	if err != nil {
		logger.Fatal().Msgf("Failed to count unmigrated accounts: %v", err)
	}
	if remaining > 0 {
		logger.Fatal().Int64("backfilled", n).Int64("remaining", remaining).Msg("Accounts still missing required fields after backfill")
	}
	logger.Info().Int64("backfilled", n).Msg("Account migration complete")
}
