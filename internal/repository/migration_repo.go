package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"quotaledger/internal/model"
)

// schemaStatements create the ledger tables. Columns filled by the backfill stay nullable so
// rows written by older releases can be loaded before migration.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT,
		plan TEXT,
		messages_sent BIGINT,
		documents_uploaded BIGINT,
		message_limit INTEGER,
		document_limit INTEGER,
		stripe_customer_id TEXT,
		stripe_subscription_id TEXT,
		subscription_status TEXT,
		subscription_period_end TIMESTAMPTZ,
		schema_version INTEGER NOT NULL DEFAULT 1,
		last_active_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ,
		plan_changed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT accounts_counters_non_negative CHECK (messages_sent >= 0 AND documents_uploaded >= 0)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS accounts_stripe_customer_idx ON accounts (stripe_customer_id) WHERE stripe_customer_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS usage_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES accounts (id),
		event_type TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS usage_events_occurred_at_idx ON usage_events (occurred_at)`,
	`CREATE TABLE IF NOT EXISTS performance_records (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		latency_ms DOUBLE PRECISION NOT NULL,
		success BOOLEAN NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rating_events (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		score SMALLINT NOT NULL CHECK (score BETWEEN 1 AND 5),
		rated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES accounts (id),
		converted_at TIMESTAMPTZ NOT NULL,
		plan_before TEXT NOT NULL,
		plan_after TEXT NOT NULL,
		external_session_id TEXT NOT NULL UNIQUE,
		amount_paid NUMERIC(12, 2) NOT NULL,
		currency TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ,
		processing_error TEXT
	)`,
}

// MigrationRepository owns schema creation and the versioned account backfill.
type MigrationRepository interface {
	EnsureSchema(ctx context.Context) error
	// BackfillAccounts fills defaults on rows below model.CurrentSchemaVersion and stamps
	// them with it, so each row is migrated exactly once. Returns the rows touched.
	BackfillAccounts(ctx context.Context, free model.Limits, at time.Time) (int64, error)
	// CountUnmigrated returns rows still missing required fields.
	CountUnmigrated(ctx context.Context) (int64, error)
}

type migrationRepo struct {
	db *sql.DB
}

func NewMigrationRepo(db *sql.DB) MigrationRepository {
	return &migrationRepo{db: db}
}

func (r *migrationRepo) EnsureSchema(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}

func (r *migrationRepo) BackfillAccounts(ctx context.Context, free model.Limits, at time.Time) (int64, error) {
	const q = `
		UPDATE accounts
		SET plan = COALESCE(plan, 'free'),
		    role = COALESCE(role, 'user'),
		    messages_sent = COALESCE(messages_sent, 0),
		    documents_uploaded = COALESCE(documents_uploaded, 0),
		    message_limit = CASE WHEN COALESCE(plan, 'free') = 'premium' THEN -1 ELSE COALESCE(message_limit, $1) END,
		    document_limit = CASE WHEN COALESCE(plan, 'free') = 'premium' THEN -1 ELSE COALESCE(document_limit, $2) END,
		    created_at = COALESCE(created_at, $3),
		    last_active_at = COALESCE(last_active_at, created_at, $3),
		    plan_changed_at = COALESCE(plan_changed_at, created_at, $3),
		    schema_version = $4,
		    updated_at = $3
		WHERE schema_version < $4
	`
	res, err := r.db.ExecContext(ctx, q, free.MessageLimit, free.DocumentLimit, at, model.CurrentSchemaVersion)
	if err != nil {
		return 0, fmt.Errorf("backfill accounts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected by backfill: %w", err)
	}
	return n, nil
}

func (r *migrationRepo) CountUnmigrated(ctx context.Context) (int64, error) {
	const q = `
		SELECT COUNT(*)
		FROM accounts
		WHERE schema_version < $1
		   OR plan IS NULL
		   OR messages_sent IS NULL
		   OR documents_uploaded IS NULL
		   OR message_limit IS NULL
		   OR document_limit IS NULL
		   OR last_active_at IS NULL
	`
	var n int64
	if err := r.db.QueryRowContext(ctx, q, model.CurrentSchemaVersion).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unmigrated accounts: %w", err)
	}
	return n, nil
}
