package service

import (
	"context"
	"strings"
	"time"

	"quotaledger/internal/model"
	"quotaledger/internal/repository"

	"github.com/rs/zerolog"
)

type AccountService interface {
	// Signup creates a Free account with zero counters. Existing accounts are returned unchanged.
	Signup(ctx context.Context, id, email, fullName string) (*model.UserAccount, bool, error)
	Get(ctx context.Context, id string) (*model.UserAccount, error)
}

type accountService struct {
	repo       repository.AccountRepository
	freeLimits model.Limits
	logger     zerolog.Logger
	now        func() time.Time
}

func NewAccountService(repo repository.AccountRepository, freeLimits model.Limits, logger zerolog.Logger) AccountService {
	return &accountService{
		repo:       repo,
		freeLimits: freeLimits,
		logger:     logger.With().Str("service", "AccountService").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *accountService) Signup(ctx context.Context, id, email, fullName string) (*model.UserAccount, bool, error) {
	if strings.TrimSpace(id) == "" {
		return nil, false, ErrInvalidInput
	}
	u := model.NewFreeAccount(id, strings.TrimSpace(email), strings.TrimSpace(fullName), s.freeLimits, s.now())
	created, err := s.repo.CreateAccount(ctx, u)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", id).Msg("Failed to create account")
		return nil, false, err
	}
	if created {
		s.logger.Info().Str("user_id", id).Msg("Account created on free plan")
		return u, true, nil
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *accountService) Get(ctx context.Context, id string) (*model.UserAccount, error) {
	u, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", id).Msg("Failed to fetch account")
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}
