package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"quotaledger/internal/model"
)

// FeedbackRepository stores the performance and rating streams used by analytics.
type FeedbackRepository interface {
	AppendPerformance(ctx context.Context, rec model.PerformanceRecord) error
	AppendRating(ctx context.Context, ev model.RatingEvent) error
	ListPerformance(ctx context.Context, since *time.Time) ([]model.PerformanceRecord, error)
	ListRatings(ctx context.Context, since *time.Time) ([]model.RatingEvent, error)
}

type feedbackRepo struct {
	db *sql.DB
}

func NewFeedbackRepo(db *sql.DB) FeedbackRepository {
	return &feedbackRepo{db: db}
}

func (r *feedbackRepo) AppendPerformance(ctx context.Context, rec model.PerformanceRecord) error {
	const q = `INSERT INTO performance_records (user_id, latency_ms, success, recorded_at) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, q, rec.UserID, rec.LatencyMs, rec.Success, rec.Timestamp); err != nil {
		return fmt.Errorf("insert performance record for user %s: %w", rec.UserID, err)
	}
	return nil
}

func (r *feedbackRepo) AppendRating(ctx context.Context, ev model.RatingEvent) error {
	const q = `INSERT INTO rating_events (user_id, score, rated_at) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, q, ev.UserID, ev.Score, ev.Timestamp); err != nil {
		return fmt.Errorf("insert rating for user %s: %w", ev.UserID, err)
	}
	return nil
}

func (r *feedbackRepo) ListPerformance(ctx context.Context, since *time.Time) ([]model.PerformanceRecord, error) {
	q := `SELECT user_id, latency_ms, success, recorded_at FROM performance_records`
	args := sinceArgs(&q, "recorded_at", since)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list performance records: %w", err)
	}
	defer rows.Close()

	var out []model.PerformanceRecord
	for rows.Next() {
		var rec model.PerformanceRecord
		if err := rows.Scan(&rec.UserID, &rec.LatencyMs, &rec.Success, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan performance record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *feedbackRepo) ListRatings(ctx context.Context, since *time.Time) ([]model.RatingEvent, error) {
	q := `SELECT user_id, score, rated_at FROM rating_events`
	args := sinceArgs(&q, "rated_at", since)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()

	var out []model.RatingEvent
	for rows.Next() {
		var ev model.RatingEvent
		if err := rows.Scan(&ev.UserID, &ev.Score, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// sinceArgs appends a lower bound on column to q when since is set. column is always a literal.
func sinceArgs(q *string, column string, since *time.Time) []any {
	if since == nil {
		*q += ` ORDER BY ` + column
		return nil
	}
	*q += ` WHERE ` + column + ` >= $1 ORDER BY ` + column
	return []any{*since}
}
