package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quotaledger/internal/model"
)

// PlanRepository applies plan transitions and exposes the conversion log.
type PlanRepository interface {
	// ConversionExists reports whether sessionRef already produced a conversion.
	ConversionExists(ctx context.Context, sessionRef string) (bool, error)
	// ApplyUpgrade moves the account to Premium and writes the conversion record in one
	// transaction scoped to the account row. Returns ErrDuplicateTransition when the
	// session was already applied or the account is already Premium.
	ApplyUpgrade(ctx context.Context, p model.UpgradeParams) (*model.ConversionRecord, error)
	// ApplyDowngrade moves a Premium account back to Free with the given limits. Counters are
	// kept. Reports false when the account was already Free.
	ApplyDowngrade(ctx context.Context, userID string, limits model.Limits, status model.SubscriptionStatus, at time.Time) (bool, error)
	// UpdateSubscriptionState records provider status changes that do not move the plan.
	UpdateSubscriptionState(ctx context.Context, userID string, status model.SubscriptionStatus, periodEnd *time.Time) error
	// ListExpiredPremium returns Premium accounts whose paid period ended before cutoff.
	ListExpiredPremium(ctx context.Context, cutoff time.Time) ([]string, error)
	ListConversions(ctx context.Context, since *time.Time) ([]model.ConversionRecord, error)
}

type planRepo struct {
	db *sql.DB
}

func NewPlanRepo(db *sql.DB) PlanRepository {
	return &planRepo{db: db}
}

const lockAccountQ = `SELECT plan, COALESCE(stripe_subscription_id, '') FROM accounts WHERE id = $1 FOR UPDATE`

func (r *planRepo) ConversionExists(ctx context.Context, sessionRef string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM conversions WHERE external_session_id = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, q, sessionRef).Scan(&exists); err != nil {
		return false, fmt.Errorf("check conversion for session %s: %w", sessionRef, err)
	}
	return exists, nil
}

func (r *planRepo) ApplyUpgrade(ctx context.Context, p model.UpgradeParams) (*model.ConversionRecord, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("starting upgrade transaction for user %s: %w", p.UserID, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var plan, currentSubID string
	if err := tx.QueryRowContext(ctx, lockAccountQ, p.UserID).Scan(&plan, &currentSubID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("locking account %s: %w", p.UserID, err)
	}

	const existsQ = `SELECT EXISTS (SELECT 1 FROM conversions WHERE external_session_id = $1)`
	var seen bool
	if err := tx.QueryRowContext(ctx, existsQ, p.SessionRef).Scan(&seen); err != nil {
		return nil, fmt.Errorf("checking conversion for session %s: %w", p.SessionRef, err)
	}
	if seen {
		return nil, ErrDuplicateTransition
	}

	if model.Plan(plan) == model.PlanPremium {
		// Premium to Premium keeps plan_changed_at. A new subscription id only refreshes the link.
		if p.SubscriptionID != "" && p.SubscriptionID != currentSubID {
			const relinkQ = `
				UPDATE accounts
				SET stripe_customer_id = COALESCE(NULLIF($2, ''), stripe_customer_id),
				    stripe_subscription_id = $3,
				    subscription_status = 'active',
				    subscription_period_end = COALESCE($4::timestamptz, subscription_period_end),
				    updated_at = $5
				WHERE id = $1
			`
			if _, err := tx.ExecContext(ctx, relinkQ, p.UserID, p.CustomerID, p.SubscriptionID, p.PeriodEnd, p.At); err != nil {
				return nil, fmt.Errorf("relinking subscription for user %s: %w", p.UserID, err)
			}
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("committing relink for user %s: %w", p.UserID, err)
			}
		}
		return nil, ErrDuplicateTransition
	}

	const upgradeQ = `
		UPDATE accounts
		SET plan = 'premium',
		    message_limit = -1,
		    document_limit = -1,
		    stripe_customer_id = COALESCE(NULLIF($2, ''), stripe_customer_id),
		    stripe_subscription_id = NULLIF($3, ''),
		    subscription_status = 'active',
		    subscription_period_end = $4,
		    plan_changed_at = $5,
		    updated_at = $5
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, upgradeQ, p.UserID, p.CustomerID, p.SubscriptionID, p.PeriodEnd, p.At); err != nil {
		return nil, fmt.Errorf("upgrading account %s: %w", p.UserID, err)
	}

	rec := &model.ConversionRecord{
		ID:                p.ConversionID,
		UserID:            p.UserID,
		ConvertedAt:       p.At,
		PlanBefore:        model.Plan(plan),
		PlanAfter:         model.PlanPremium,
		ExternalSessionID: p.SessionRef,
		AmountPaid:        p.AmountPaid,
		Currency:          p.Currency,
	}
	const insertQ = `
		INSERT INTO conversions (id, user_id, converted_at, plan_before, plan_after, external_session_id, amount_paid, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.ExecContext(ctx, insertQ,
		rec.ID, rec.UserID, rec.ConvertedAt, string(rec.PlanBefore), string(rec.PlanAfter),
		rec.ExternalSessionID, rec.AmountPaid.String(), rec.Currency,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateTransition
		}
		return nil, fmt.Errorf("recording conversion for user %s: %w", p.UserID, err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateTransition
		}
		return nil, fmt.Errorf("committing upgrade for user %s: %w", p.UserID, err)
	}
	return rec, nil
}

func (r *planRepo) ApplyDowngrade(ctx context.Context, userID string, limits model.Limits, status model.SubscriptionStatus, at time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return false, fmt.Errorf("starting downgrade transaction for user %s: %w", userID, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var plan, subID string
	if err := tx.QueryRowContext(ctx, lockAccountQ, userID).Scan(&plan, &subID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrAccountNotFound
		}
		return false, fmt.Errorf("locking account %s: %w", userID, err)
	}
	if model.Plan(plan) != model.PlanPremium {
		return false, nil
	}

	const downgradeQ = `
		UPDATE accounts
		SET plan = 'free',
		    message_limit = $2,
		    document_limit = $3,
		    stripe_subscription_id = NULL,
		    subscription_status = $4,
		    subscription_period_end = NULL,
		    plan_changed_at = $5,
		    updated_at = $5
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, downgradeQ, userID, limits.MessageLimit, limits.DocumentLimit, string(status), at); err != nil {
		return false, fmt.Errorf("downgrading account %s: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing downgrade for user %s: %w", userID, err)
	}
	return true, nil
}

func (r *planRepo) UpdateSubscriptionState(ctx context.Context, userID string, status model.SubscriptionStatus, periodEnd *time.Time) error {
	const q = `
		UPDATE accounts
		SET subscription_status = $2,
		    subscription_period_end = COALESCE($3::timestamptz, subscription_period_end),
		    updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, q, userID, string(status), periodEnd)
	if err != nil {
		return fmt.Errorf("update subscription state for user %s: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *planRepo) ListExpiredPremium(ctx context.Context, cutoff time.Time) ([]string, error) {
	const q = `
		SELECT id
		FROM accounts
		WHERE plan = 'premium'
		  AND subscription_period_end IS NOT NULL
		  AND subscription_period_end < $1
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired premium accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *planRepo) ListConversions(ctx context.Context, since *time.Time) ([]model.ConversionRecord, error) {
	q := `SELECT id, user_id, converted_at, plan_before, plan_after, external_session_id, amount_paid, currency FROM conversions`
	args := sinceArgs(&q, "converted_at", since)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()

	var out []model.ConversionRecord
	for rows.Next() {
		var rec model.ConversionRecord
		var before, after string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ConvertedAt, &before, &after,
			&rec.ExternalSessionID, &rec.AmountPaid, &rec.Currency); err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		rec.PlanBefore = model.Plan(before)
		rec.PlanAfter = model.Plan(after)
		out = append(out, rec)
	}
	return out, rows.Err()
}
