package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quotaledger/internal/lock"
	"quotaledger/internal/metrics"
	"quotaledger/internal/model"
	"quotaledger/internal/money"
	"quotaledger/internal/pubsub"
	"quotaledger/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PaymentConfirmation is the provider's server-side view of a checkout session.
type PaymentConfirmation struct {
	SessionRef     string
	UserID         string
	CustomerID     string
	SubscriptionID string
	Paid           bool
	AmountTotal    int64
	Currency       string
	PeriodEnd      *time.Time
}

// PaymentVerifier asks the payment provider whether a checkout session was paid.
type PaymentVerifier interface {
	VerifyCheckoutSession(ctx context.Context, sessionRef string) (*PaymentConfirmation, error)
}

type TransitionOutcome string

const (
	OutcomeCommitted TransitionOutcome = "committed"
	OutcomeDuplicate TransitionOutcome = "duplicate"
)

type TransitionResult struct {
	Outcome    TransitionOutcome        `json:"outcome"`
	Conversion *model.ConversionRecord `json:"conversion,omitempty"`
}

// ConversionNotice is published after an upgrade commits.
type ConversionNotice struct {
	ConversionID string       `json:"conversion_id"`
	UserID       string       `json:"user_id"`
	PlanBefore   model.Plan   `json:"plan_before"`
	PlanAfter    model.Plan   `json:"plan_after"`
	AmountPaid   money.Amount `json:"amount_paid"`
	Currency     string       `json:"currency"`
	ConvertedAt  time.Time    `json:"converted_at"`
}

type PlanService interface {
	// Upgrade moves userID to Premium once sessionRef is confirmed paid. Replays of the same
	// session report OutcomeDuplicate. Refusals are *RejectedError and leave the plan untouched.
	Upgrade(ctx context.Context, userID, sessionRef string) (*TransitionResult, error)
	// Downgrade moves a Premium account back to Free. Reports false for accounts already on Free.
	Downgrade(ctx context.Context, userID string, status model.SubscriptionStatus) (bool, error)
	UpdateSubscriptionState(ctx context.Context, userID string, status model.SubscriptionStatus, periodEnd *time.Time) error
	// SweepExpired downgrades Premium accounts whose paid period ended more than the grace window ago.
	SweepExpired(ctx context.Context) (int, error)
}

// minLockTTL is the floor for PlanOptions.LockTTL.
const minLockTTL = time.Second

type PlanOptions struct {
	FreeLimits      model.Limits
	Currency        string
	VerifyTimeout   time.Duration
	LockTTL         time.Duration
	LockWait        time.Duration
	ExpiryGrace     time.Duration
	ConversionTopic string
	PublishTimeout  time.Duration
}

type planService struct {
	repo      repository.PlanRepository
	verifier  PaymentVerifier
	locker    lock.Locker
	publisher pubsub.Publisher
	metrics   *metrics.Metrics
	opts      PlanOptions
	logger    zerolog.Logger
	now       func() time.Time
}

// NewPlanService wires the transition handler. locker and publisher may be nil.
func NewPlanService(repo repository.PlanRepository, verifier PaymentVerifier, locker lock.Locker, publisher pubsub.Publisher, m *metrics.Metrics, opts PlanOptions, logger zerolog.Logger) PlanService {
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 10 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.LockTTL < minLockTTL {
		opts.LockTTL = minLockTTL
	}
	return &planService{
		repo:      repo,
		verifier:  verifier,
		locker:    locker,
		publisher: publisher,
		metrics:   m,
		opts:      opts,
		logger:    logger.With().Str("service", "PlanService").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *planService) Upgrade(ctx context.Context, userID, sessionRef string) (*TransitionResult, error) {
	userID = strings.TrimSpace(userID)
	sessionRef = strings.TrimSpace(sessionRef)
	if userID == "" || sessionRef == "" {
		return nil, ErrInvalidInput
	}
	log := s.logger.With().Str("user_id", userID).Str("session_ref", sessionRef).Logger()

	seen, err := s.repo.ConversionExists(ctx, sessionRef)
	if err != nil {
		log.Error().Err(err).Msg("Failed to check prior conversion")
		return nil, err
	}
	if seen {
		log.Info().Msg("Upgrade already applied for session")
		s.metrics.RecordTransition("upgrade", string(OutcomeDuplicate))
		return &TransitionResult{Outcome: OutcomeDuplicate}, nil
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "transition:"+userID, s.opts.LockTTL, s.opts.LockWait)
		if err != nil {
			if errors.Is(err, lock.ErrLockHeld) {
				return nil, s.reject(log, RejectInProgress, err)
			}
			log.Error().Err(err).Msg("Failed to acquire transition lock")
			return nil, err
		}
		defer release()
	}

	conf, err := s.verify(ctx, sessionRef)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, s.reject(log, RejectTimeout, err)
		}
		return nil, s.reject(log, RejectVerificationFailed, err)
	}
	if !conf.Paid {
		return nil, s.reject(log, RejectPaymentUnverified, nil)
	}
	if conf.UserID != "" && conf.UserID != userID {
		log.Warn().Str("session_user_id", conf.UserID).Msg("Checkout session belongs to another user")
		return nil, s.reject(log, RejectUserMismatch, nil)
	}

	currency := conf.Currency
	if currency == "" {
		currency = s.opts.Currency
	}
	rec, err := s.repo.ApplyUpgrade(ctx, model.UpgradeParams{
		ConversionID:   uuid.NewString(),
		UserID:         userID,
		SessionRef:     sessionRef,
		CustomerID:     conf.CustomerID,
		SubscriptionID: conf.SubscriptionID,
		PeriodEnd:      conf.PeriodEnd,
		AmountPaid:     money.FromMinorUnits(conf.AmountTotal, currency),
		Currency:       strings.ToLower(currency),
		At:             s.now(),
	})
	switch {
	case errors.Is(err, repository.ErrDuplicateTransition):
		log.Info().Msg("Upgrade is a no-op")
		s.metrics.RecordTransition("upgrade", string(OutcomeDuplicate))
		return &TransitionResult{Outcome: OutcomeDuplicate}, nil
	case errors.Is(err, repository.ErrAccountNotFound):
		return nil, s.reject(log, RejectAccountNotFound, err)
	case err != nil:
		log.Error().Err(err).Msg("Failed to apply upgrade")
		s.metrics.RecordTransition("upgrade", "error")
		return nil, err
	}

	log.Info().Str("conversion_id", rec.ID).Str("plan_before", string(rec.PlanBefore)).Msg("Account upgraded to premium")
	s.metrics.RecordTransition("upgrade", string(OutcomeCommitted))
	s.publishConversion(ctx, rec)
	return &TransitionResult{Outcome: OutcomeCommitted, Conversion: rec}, nil
}

func (s *planService) verify(ctx context.Context, sessionRef string) (*PaymentConfirmation, error) {
	vctx, cancel := context.WithTimeout(ctx, s.opts.VerifyTimeout)
	defer cancel()
	start := time.Now()
	conf, err := s.verifier.VerifyCheckoutSession(vctx, sessionRef)
	outcome := "ok"
	switch {
	case err != nil && vctx.Err() != nil:
		outcome = "timeout"
		err = fmt.Errorf("verify session %s: %w", sessionRef, context.DeadlineExceeded)
	case err != nil:
		outcome = "error"
	case conf == nil:
		outcome = "error"
		err = fmt.Errorf("verify session %s: empty response", sessionRef)
	case !conf.Paid:
		outcome = "unpaid"
	}
	s.metrics.RecordPaymentVerification(outcome, time.Since(start))
	return conf, err
}

func (s *planService) reject(log zerolog.Logger, reason RejectReason, err error) error {
	ev := log.Warn().Str("reason", string(reason))
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("Upgrade rejected")
	s.metrics.RecordTransition("upgrade", "rejected_"+string(reason))
	return &RejectedError{Reason: reason, Err: err}
}

func (s *planService) publishConversion(ctx context.Context, rec *model.ConversionRecord) {
	if s.publisher == nil || s.opts.ConversionTopic == "" {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.PublishTimeout)
	defer cancel()
	notice := ConversionNotice{
		ConversionID: rec.ID,
		UserID:       rec.UserID,
		PlanBefore:   rec.PlanBefore,
		PlanAfter:    rec.PlanAfter,
		AmountPaid:   rec.AmountPaid,
		Currency:     rec.Currency,
		ConvertedAt:  rec.ConvertedAt,
	}
	if _, err := pubsub.PublishJSON(pctx, s.publisher, s.opts.ConversionTopic, notice, map[string]string{"user_id": rec.UserID}); err != nil {
		s.logger.Warn().Err(err).Str("conversion_id", rec.ID).Msg("Failed to publish conversion notice")
	}
}

func (s *planService) Downgrade(ctx context.Context, userID string, status model.SubscriptionStatus) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, ErrInvalidInput
	}
	changed, err := s.repo.ApplyDowngrade(ctx, userID, s.opts.FreeLimits, status, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return false, ErrUserNotFound
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to downgrade account")
		s.metrics.RecordTransition("downgrade", "error")
		return false, err
	}
	if changed {
		s.logger.Info().Str("user_id", userID).Str("status", string(status)).Msg("Account downgraded to free")
		s.metrics.RecordTransition("downgrade", string(OutcomeCommitted))
	} else {
		s.metrics.RecordTransition("downgrade", string(OutcomeDuplicate))
	}
	return changed, nil
}

func (s *planService) UpdateSubscriptionState(ctx context.Context, userID string, status model.SubscriptionStatus, periodEnd *time.Time) error {
	if err := s.repo.UpdateSubscriptionState(ctx, userID, status, periodEnd); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return ErrUserNotFound
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to update subscription state")
		return err
	}
	return nil
}

func (s *planService) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.opts.ExpiryGrace)
	ids, err := s.repo.ListExpiredPremium(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired premium accounts: %w", err)
	}
	var (
		downgraded int
		errs       []error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		changed, err := s.Downgrade(ctx, id, model.SubscriptionExpired)
		if err != nil {
			errs = append(errs, fmt.Errorf("downgrade %s: %w", id, err))
			continue
		}
		if changed {
			downgraded++
		}
	}
	s.logger.Info().Int("candidates", len(ids)).Int("downgraded", downgraded).Time("cutoff", cutoff).Msg("Expiry sweep finished")
	return downgraded, errors.Join(errs...)
}
