package service

import (
	"context"
	"fmt"
	"time"

	"quotaledger/internal/model"
	"quotaledger/internal/money"
	"quotaledger/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// MetricsInput is everything ComputeSnapshot reads. Event streams are already
// filtered to the requested range; Accounts is the full population.
type MetricsInput struct {
	Accounts    []model.UserAccount
	Usage       []model.UsageEvent
	Performance []model.PerformanceRecord
	Ratings     []model.RatingEvent
	Conversions []model.ConversionRecord
}

type AnalyticsService interface {
	ComputeMetrics(ctx context.Context, r model.TimeRange) (*model.MetricsSnapshot, error)
}

type AnalyticsOptions struct {
	MonthlyPrice money.Amount
	LTVMonths    int
}

type analyticsService struct {
	accounts repository.AccountRepository
	usage    repository.UsageRepository
	feedback repository.FeedbackRepository
	plans    repository.PlanRepository
	opts     AnalyticsOptions
	logger   zerolog.Logger
	now      func() time.Time
}

func NewAnalyticsService(accounts repository.AccountRepository, usage repository.UsageRepository, feedback repository.FeedbackRepository, plans repository.PlanRepository, opts AnalyticsOptions, logger zerolog.Logger) AnalyticsService {
	return &analyticsService{
		accounts: accounts,
		usage:    usage,
		feedback: feedback,
		plans:    plans,
		opts:     opts,
		logger:   logger.With().Str("service", "AnalyticsService").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *analyticsService) ComputeMetrics(ctx context.Context, r model.TimeRange) (*model.MetricsSnapshot, error) {
	now := s.now()
	since := r.Since(now)

	var in MetricsInput
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		in.Accounts, err = s.accounts.ListAccounts(gctx)
		return err
	})
	g.Go(func() (err error) {
		in.Usage, err = s.usage.ListUsageEvents(gctx, since)
		return err
	})
	g.Go(func() (err error) {
		in.Performance, err = s.feedback.ListPerformance(gctx, since)
		return err
	})
	g.Go(func() (err error) {
		in.Ratings, err = s.feedback.ListRatings(gctx, since)
		return err
	})
	g.Go(func() (err error) {
		in.Conversions, err = s.plans.ListConversions(gctx, since)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Str("range", r.String()).Msg("Failed to load analytics streams")
		return nil, fmt.Errorf("load analytics data: %w", err)
	}

	snap := ComputeSnapshot(now, r, in, s.opts.MonthlyPrice, s.opts.LTVMonths)
	s.logger.Debug().Str("range", r.String()).Int("users", snap.TotalUsers).Int("events", len(in.Usage)).Msg("Computed metrics snapshot")
	return snap, nil
}

// ComputeSnapshot derives the dashboard figures from in. It never fails; an empty
// input yields a zeroed snapshot.
func ComputeSnapshot(now time.Time, r model.TimeRange, in MetricsInput, price money.Amount, ltvMonths int) *model.MetricsSnapshot {
	now = now.UTC()
	sevenDays := now.Add(-7 * 24 * time.Hour)
	thirtyDays := now.Add(-30 * 24 * time.Hour)
	since := r.Since(now)

	snap := &model.MetricsSnapshot{
		Range:       r.String(),
		GeneratedAt: now,
		TotalUsers:  len(in.Accounts),
	}

	for i := range in.Accounts {
		u := &in.Accounts[i]
		if !u.LastActiveAt.IsZero() {
			if !u.LastActiveAt.Before(sevenDays) {
				snap.ActiveUsers7++
			}
			if !u.LastActiveAt.Before(thirtyDays) {
				snap.ActiveUsers30++
			}
			if u.LastActiveAt.Before(sevenDays) && !u.LastActiveAt.Before(thirtyDays) {
				snap.ChurnedUsers++
			}
		}
		if since == nil || (!u.CreatedAt.IsZero() && !u.CreatedAt.Before(*since)) {
			snap.NewUsers++
		}
		if u.Plan == model.PlanPremium {
			snap.PremiumUsers++
		}
	}
	snap.FreeUsers = snap.TotalUsers - snap.PremiumUsers
	population := max(snap.TotalUsers, 1)
	snap.ChurnRate = ratio(snap.ChurnedUsers, max(snap.ActiveUsers30, 1))
	snap.GrowthRate = ratio(snap.NewUsers, max(snap.TotalUsers-snap.NewUsers, 1))

	var hours [24]int
	for _, e := range in.Usage {
		switch e.EventType {
		case model.EventMessageSent:
			snap.TotalMessages++
			if !e.Timestamp.IsZero() {
				hours[e.Timestamp.UTC().Hour()]++
			}
		case model.EventDocumentUploaded:
			snap.TotalDocuments++
		}
	}
	snap.AvgMessagesPerUser = ratio(snap.TotalMessages, population)
	snap.AvgDocumentsPerUser = ratio(snap.TotalDocuments, population)
	for h, c := range hours {
		if c > snap.PeakHourMessages {
			snap.PeakHour, snap.PeakHourMessages = h, c
		}
	}

	snap.MRR = price.MulInt(int64(snap.PremiumUsers))
	snap.ARPU = snap.MRR.DivInt(int64(population)).Round(2)
	snap.EstimatedLTV = price.MulInt(int64(ltvMonths))
	snap.ConversionRate = ratio(snap.PremiumUsers, population)

	snap.Conversions = len(in.Conversions)
	revenue := money.FromInt64(0)
	for _, c := range in.Conversions {
		revenue = revenue.Add(c.AmountPaid)
	}
	snap.Revenue = revenue

	if n := len(in.Performance); n > 0 {
		var total float64
		var ok int
		for _, p := range in.Performance {
			total += p.LatencyMs
			if p.Success {
				ok++
			}
		}
		snap.Requests = n
		snap.AvgResponseMs = total / float64(n)
		snap.SuccessRate = ratio(ok, n)
		snap.ErrorRate = 1 - snap.SuccessRate
	}

	if n := len(in.Ratings); n > 0 {
		var sum int
		for _, rt := range in.Ratings {
			sum += rt.Score
		}
		snap.Ratings = n
		snap.AvgSatisfaction = float64(sum) / float64(n)
	}
	return snap
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
