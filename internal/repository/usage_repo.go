package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"quotaledger/internal/model"

	"github.com/google/uuid"
)

// UsageRepository owns the usage counters and the append-only usage log.
type UsageRepository interface {
	// RecordUsage increments the counter for action in storage and appends one usage
	// event in the same transaction. It is a plain increment, so a replayed call counts twice.
	RecordUsage(ctx context.Context, userID string, action model.ActionType, at time.Time) error
	// ListUsageEvents returns events at or after since, or every event when since is nil.
	ListUsageEvents(ctx context.Context, since *time.Time) ([]model.UsageEvent, error)
}

type usageRepo struct {
	db *sql.DB
}

func NewUsageRepo(db *sql.DB) UsageRepository {
	return &usageRepo{db: db}
}

// The column is chosen from a fixed set so the increment stays a single statement.
const (
	incrementMessagesQ = `
		UPDATE accounts
		SET messages_sent = messages_sent + 1,
		    last_active_at = GREATEST(last_active_at, $2),
		    updated_at = NOW()
		WHERE id = $1
	`
	incrementDocumentsQ = `
		UPDATE accounts
		SET documents_uploaded = documents_uploaded + 1,
		    last_active_at = GREATEST(last_active_at, $2),
		    updated_at = NOW()
		WHERE id = $1
	`
	insertUsageEventQ = `INSERT INTO usage_events (id, user_id, event_type, occurred_at) VALUES ($1, $2, $3, $4)`
)

func (r *usageRepo) RecordUsage(ctx context.Context, userID string, action model.ActionType, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction for usage of user %s: %w", userID, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	q := incrementMessagesQ
	if action == model.ActionDocument {
		q = incrementDocumentsQ
	}
	res, err := tx.ExecContext(ctx, q, userID, at)
	if err != nil {
		return fmt.Errorf("incrementing %s counter for user %s: %w", action, userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for user %s: %w", userID, err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}

	if _, err := tx.ExecContext(ctx, insertUsageEventQ, uuid.NewString(), userID, string(action.EventType()), at); err != nil {
		return fmt.Errorf("recording usage event for user %s: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing usage for user %s: %w", userID, err)
	}
	return nil
}

func (r *usageRepo) ListUsageEvents(ctx context.Context, since *time.Time) ([]model.UsageEvent, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if since == nil {
		const q = `SELECT id, user_id, event_type, occurred_at FROM usage_events ORDER BY occurred_at`
		rows, err = r.db.QueryContext(ctx, q)
	} else {
		const q = `SELECT id, user_id, event_type, occurred_at FROM usage_events WHERE occurred_at >= $1 ORDER BY occurred_at`
		rows, err = r.db.QueryContext(ctx, q, *since)
	}
	if err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}
	defer rows.Close()

	var out []model.UsageEvent
	for rows.Next() {
		var ev model.UsageEvent
		var evType string
		if err := rows.Scan(&ev.ID, &ev.UserID, &evType, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		ev.EventType = model.UsageEventType(evType)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage events: %w", err)
	}
	return out, nil
}
