package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quotaledger/internal/model"
)

// PaymentEventRepository keeps the raw webhook log used to deduplicate provider deliveries.
type PaymentEventRepository interface {
	// SavePaymentEvent stores ev and reports whether it still needs processing. Events that
	// were already processed successfully report false.
	SavePaymentEvent(ctx context.Context, ev *model.PaymentEvent) (bool, error)
	MarkPaymentEventProcessed(ctx context.Context, eventID string, procErr error, at time.Time) error
}

type paymentEventRepo struct {
	db *sql.DB
}

func NewPaymentEventRepo(db *sql.DB) PaymentEventRepository {
	return &paymentEventRepo{db: db}
}

func (r *paymentEventRepo) SavePaymentEvent(ctx context.Context, ev *model.PaymentEvent) (bool, error) {
	const q = `
		INSERT INTO payment_events (event_id, event_type, payload, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO UPDATE
		SET received_at = EXCLUDED.received_at
		WHERE payment_events.processed_at IS NULL OR payment_events.processing_error IS NOT NULL
		RETURNING event_id
	`
	var id string
	err := r.db.QueryRowContext(ctx, q, ev.EventID, ev.EventType, ev.Payload, ev.ReceivedAt).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("save payment event %s: %w", ev.EventID, err)
	}
	return true, nil
}

func (r *paymentEventRepo) MarkPaymentEventProcessed(ctx context.Context, eventID string, procErr error, at time.Time) error {
	var msg *string
	if procErr != nil {
		s := procErr.Error()
		msg = &s
	}
	const q = `UPDATE payment_events SET processed_at = $2, processing_error = $3 WHERE event_id = $1`
	if _, err := r.db.ExecContext(ctx, q, eventID, at, msg); err != nil {
		return fmt.Errorf("mark payment event %s processed: %w", eventID, err)
	}
	return nil
}
