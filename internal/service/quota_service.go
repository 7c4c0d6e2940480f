package service

import (
	"context"

	"quotaledger/internal/metrics"
	"quotaledger/internal/model"
	"quotaledger/internal/repository"

	"github.com/rs/zerolog"
)

// Entitlement is the answer to "may this user perform this action now".
// Remaining and Limit are -1 for unlimited plans.
type Entitlement struct {
	Allowed   bool  `json:"allowed"`
	Remaining int64 `json:"remaining"`
	Limit     int64 `json:"limit"`
}

// CanPerform evaluates action against user's plan and counters. A nil user is denied.
// Remaining may be negative when a counter already overshot its limit.
func CanPerform(user *model.UserAccount, action model.ActionType) Entitlement {
	if user == nil {
		return Entitlement{}
	}
	if user.Plan == model.PlanPremium {
		return Entitlement{Allowed: true, Remaining: model.Unlimited, Limit: model.Unlimited}
	}
	limit := int64(user.EffectiveLimits().For(action))
	if limit == model.Unlimited {
		return Entitlement{Allowed: true, Remaining: model.Unlimited, Limit: model.Unlimited}
	}
	remaining := limit - user.Used(action)
	return Entitlement{Allowed: remaining > 0, Remaining: remaining, Limit: limit}
}

type QuotaService interface {
	Check(ctx context.Context, userID string, action model.ActionType) (Entitlement, error)
	// Require returns a *QuotaExceededError when the action is not allowed, otherwise the
	// entitlement it was granted under.
	Require(ctx context.Context, userID string, action model.ActionType) (Entitlement, error)
}

type quotaService struct {
	repo    repository.AccountRepository
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewQuotaService(repo repository.AccountRepository, m *metrics.Metrics, logger zerolog.Logger) QuotaService {
	return &quotaService{
		repo:    repo,
		metrics: m,
		logger:  logger.With().Str("service", "QuotaService").Logger(),
	}
}

// Check fails closed: a storage error or a missing account yields a denied entitlement.
func (s *quotaService) Check(ctx context.Context, userID string, action model.ActionType) (Entitlement, error) {
	u, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("action", string(action)).Msg("Failed to load account for quota check")
		s.metrics.RecordQuotaCheck(string(action), false)
		return Entitlement{}, err
	}
	ent := CanPerform(u, action)
	if u == nil {
		s.logger.Warn().Str("user_id", userID).Msg("Quota check for unknown account")
	}
	s.metrics.RecordQuotaCheck(string(action), ent.Allowed)
	return ent, nil
}

func (s *quotaService) Require(ctx context.Context, userID string, action model.ActionType) (Entitlement, error) {
	ent, err := s.Check(ctx, userID, action)
	if err != nil {
		return Entitlement{}, err
	}
	if !ent.Allowed {
		return ent, &QuotaExceededError{Action: action, Used: ent.Limit - ent.Remaining, Limit: int(ent.Limit)}
	}
	return ent, nil
}
