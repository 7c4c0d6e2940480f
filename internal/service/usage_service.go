package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quotaledger/internal/metrics"
	"quotaledger/internal/model"
	"quotaledger/internal/repository"

	"github.com/rs/zerolog"
)

// RetryQueue accepts usage jobs that could not be written inline.
type RetryQueue interface {
	SendJSON(ctx context.Context, queue string, v any) (int64, error)
}

type UsageService interface {
	// RecordUsage books one action that has already been dispatched. Delivery is
	// at-least-once: a write that fails inline is queued and replayed by the reconciler.
	RecordUsage(ctx context.Context, userID string, action model.ActionType) error
	// ApplyQueued replays a queued job with its original timestamp.
	ApplyQueued(ctx context.Context, job model.UsageRetryJob) error
	TrackPerformance(ctx context.Context, userID string, latencyMs float64, success bool) error
	TrackRating(ctx context.Context, userID string, score int) error
}

// UsageOptions tunes the inline retry loop.
type UsageOptions struct {
	Attempts       int
	Backoff        time.Duration
	RetryQueueName string
}

type usageService struct {
	repo     repository.UsageRepository
	feedback repository.FeedbackRepository
	queue    RetryQueue
	metrics  *metrics.Metrics
	opts     UsageOptions
	logger   zerolog.Logger
	now      func() time.Time
}

func NewUsageService(repo repository.UsageRepository, feedback repository.FeedbackRepository, queue RetryQueue, m *metrics.Metrics, opts UsageOptions, logger zerolog.Logger) UsageService {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &usageService{
		repo:     repo,
		feedback: feedback,
		queue:    queue,
		metrics:  m,
		opts:     opts,
		logger:   logger.With().Str("service", "UsageService").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *usageService) RecordUsage(ctx context.Context, userID string, action model.ActionType) error {
	at := s.now()
	backoff := s.opts.Backoff
	var lastErr error
	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		lastErr = s.repo.RecordUsage(ctx, userID, action, at)
		if lastErr == nil {
			s.metrics.RecordUsage(string(action))
			return nil
		}
		if errors.Is(lastErr, repository.ErrAccountNotFound) {
			s.logger.Warn().Str("user_id", userID).Str("action", string(action)).Msg("Usage recorded for unknown account")
			s.metrics.RecordRecordingError(string(action), false)
			return &RecordingError{UserID: userID, Action: action, Err: fmt.Errorf("%w: %w", ErrUserNotFound, lastErr)}
		}
		s.logger.Warn().Err(lastErr).Str("user_id", userID).Int("attempt", attempt).Msg("Usage write failed, retrying")
		if attempt == s.opts.Attempts || !sleepCtx(ctx, backoff) {
			break
		}
		backoff *= 2
	}

	queued := s.enqueue(ctx, model.UsageRetryJob{UserID: userID, Action: action, OccurredAt: at, LastError: lastErr.Error()})
	s.metrics.RecordRecordingError(string(action), queued)
	s.logger.Error().Err(lastErr).Str("user_id", userID).Str("action", string(action)).Bool("queued", queued).Msg("Failed to record usage inline")
	return &RecordingError{UserID: userID, Action: action, Queued: queued, Err: lastErr}
}

func (s *usageService) enqueue(ctx context.Context, job model.UsageRetryJob) bool {
	if s.queue == nil || s.opts.RetryQueueName == "" {
		return false
	}
	// The action already happened, so the job is queued even if the request was cancelled.
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.queue.SendJSON(qctx, s.opts.RetryQueueName, job); err != nil {
		s.logger.Error().Err(err).Str("user_id", job.UserID).Msg("Failed to enqueue usage retry job")
		return false
	}
	return true
}

func (s *usageService) ApplyQueued(ctx context.Context, job model.UsageRetryJob) error {
	if job.UserID == "" {
		return ErrInvalidInput
	}
	if _, err := model.ParseAction(string(job.Action)); err != nil {
		return ErrInvalidInput
	}
	at := job.OccurredAt
	if at.IsZero() {
		at = s.now()
	}
	if err := s.repo.RecordUsage(ctx, job.UserID, job.Action, at); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return fmt.Errorf("%w: %w", ErrUserNotFound, err)
		}
		return err
	}
	s.metrics.RecordUsage(string(job.Action))
	return nil
}

func (s *usageService) TrackPerformance(ctx context.Context, userID string, latencyMs float64, success bool) error {
	if strings.TrimSpace(userID) == "" || latencyMs < 0 {
		return ErrInvalidInput
	}
	rec := model.PerformanceRecord{UserID: userID, LatencyMs: latencyMs, Success: success, Timestamp: s.now()}
	if err := s.feedback.AppendPerformance(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to record performance")
		return err
	}
	return nil
}

func (s *usageService) TrackRating(ctx context.Context, userID string, score int) error {
	if score < model.MinRating || score > model.MaxRating {
		return ErrInvalidRating
	}
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidInput
	}
	ev := model.RatingEvent{UserID: userID, Score: score, Timestamp: s.now()}
	if err := s.feedback.AppendRating(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to record rating")
		return err
	}
	return nil
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
