// Package scheduler runs the periodic ledger maintenance jobs: expiring lapsed
// premium plans and exporting analytics snapshots.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper downgrades premium accounts whose paid period has lapsed.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Exporter uploads one analytics snapshot.
type Exporter interface {
	Export(ctx context.Context) (string, error)
}

type Options struct {
	SweepSchedule  string
	ExportSchedule string
	// JobTimeout bounds a single run of any job.
	JobTimeout time.Duration
}

type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	exporter Exporter
	timeout  time.Duration
	logger   zerolog.Logger
}

// New registers the sweep job and, when exporter is non-nil, the export job.
func New(sweeper Sweeper, exporter Exporter, opts Options, logger zerolog.Logger) (*Scheduler, error) {
	logger = logger.With().Str("orchestrator", "scheduler").Logger()
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		sweeper:  sweeper,
		exporter: exporter,
		timeout:  opts.JobTimeout,
		logger:   logger,
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Minute
	}
	if _, err := s.cron.AddFunc(opts.SweepSchedule, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", opts.SweepSchedule, err)
	}
	if exporter != nil {
		if _, err := s.cron.AddFunc(opts.ExportSchedule, func() { s.ExportSnapshot(context.Background()) }); err != nil {
			return nil, fmt.Errorf("schedule export %q: %w", opts.ExportSchedule, err)
		}
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx is cancelled and running jobs finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
	<-ctx.Done()
	s.logger.Info().Msg("Shutting down scheduler")
	<-s.cron.Stop().Done()
	return nil
}

// Sweep runs one expiry pass.
func (s *Scheduler) Sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	n, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int("downgraded", n).Msg("Expiry sweep finished with errors")
		return
	}
	s.logger.Info().Int("downgraded", n).Dur("took", time.Since(start)).Msg("Expiry sweep completed")
}

// ExportSnapshot runs one analytics export.
func (s *Scheduler) ExportSnapshot(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.exporter.Export(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Analytics export failed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
