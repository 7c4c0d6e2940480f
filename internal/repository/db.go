package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"quotaledger/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// Stores groups the ledger repositories behind one backend.
type Stores struct {
	Accounts AccountRepository
	Usage    UsageRepository
	Feedback FeedbackRepository
	Plans    PlanRepository
	Payments PaymentEventRepository
}

func NewPostgresStores(db *sql.DB) Stores {
	return Stores{
		Accounts: NewAccountRepo(db),
		Usage:    NewUsageRepo(db),
		Feedback: NewFeedbackRepo(db),
		Plans:    NewPlanRepo(db),
		Payments: NewPaymentEventRepo(db),
	}
}

func NewMemoryStores(m *MemoryStore) Stores {
	return Stores{Accounts: m, Usage: m, Feedback: m, Plans: m, Payments: m}
}

// OpenDB opens and pings the Postgres pool through the pgx stdlib driver.
func OpenDB(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*sql.DB, error) {
	if cfg.DBConnectionString == "" {
		return nil, fmt.Errorf("DB_CONNECTION_STRING is required for the postgres backend")
	}
	dsn := cfg.DBConnectionString
	// In a development environment, we want to ensure that SSL is disabled for
	// local testing. In production, the connection string should be provided
	// with the correct SSL settings.
	if cfg.Environment == "development" && !strings.Contains(dsn, "sslmode") {
		dsn = appendParam(dsn, "sslmode=disable")
	}
	// Transaction poolers like pgbouncer cannot hold server-side prepared statements.
	if cfg.Environment != "development" && !strings.Contains(dsn, "default_query_exec_mode") {
		dsn = appendParam(dsn, "default_query_exec_mode=simple_protocol")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)
	logger.Info().Msg("Database connection successful")
	return db, nil
}

func appendParam(dsn, param string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if strings.Contains(dsn, "?") {
			return dsn + "&" + param
		}
		return dsn + "?" + param
	}
	return dsn + " " + param
}
