// Package reconcile drains the usage retry queue and replays each queued write
// against the ledger.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"quotaledger/internal/config"
	"quotaledger/internal/metrics"
	"quotaledger/internal/model"
	"quotaledger/internal/pgmq"
	"quotaledger/internal/service"

	"github.com/rs/zerolog"
)

// Queue is the subset of the pgmq client the worker needs.
type Queue interface {
	ReadWithPoll(ctx context.Context, queue string, visibility, pollTimeout time.Duration, maxMessages int) ([]*pgmq.Message, error)
	SetVisibility(ctx context.Context, queue string, msgID int64, d time.Duration) error
	Delete(ctx context.Context, queue string, msgID int64) error
	SendJSON(ctx context.Context, queue string, v any) (int64, error)
}

type Options struct {
	QueueName      string
	DeadLetterName string
	Visibility     time.Duration
	PollTimeout    time.Duration
	MaxMessages    int
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// OptionsFromConfig maps the RECONCILE_* settings.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		QueueName:      cfg.UsageRetryQueueName,
		DeadLetterName: cfg.UsageDeadLetterQueueName,
		Visibility:     time.Duration(cfg.ReconcileVisibilitySec) * time.Second,
		PollTimeout:    time.Duration(cfg.ReconcilePollTimeoutSec) * time.Second,
		MaxMessages:    cfg.ReconcilePollMaxMsg,
		MaxRetries:     cfg.ReconcileMaxRetries,
		BackoffInitial: time.Duration(cfg.ReconcileBackoffInitSec) * time.Second,
		BackoffMax:     time.Duration(cfg.ReconcileBackoffMaxSec) * time.Second,
	}
}

// deadLetter is what lands in the DLQ: the original job plus why it was given up on.
type deadLetter struct {
	MessageID int64           `json:"message_id"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error"`
	Job       json.RawMessage `json:"job"`
	FailedAt  time.Time       `json:"failed_at"`
}

type Worker struct {
	queue   Queue
	usage   service.UsageService
	metrics *metrics.Metrics
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time
}

func NewWorker(queue Queue, usage service.UsageService, m *metrics.Metrics, opts Options, logger zerolog.Logger) *Worker {
	if opts.MaxMessages < 1 {
		opts.MaxMessages = 1
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	return &Worker{
		queue:   queue,
		usage:   usage,
		metrics: m,
		opts:    opts,
		logger:  logger.With().Str("orchestrator", "reconcile").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Str("queue", w.opts.QueueName).Str("dlq", w.opts.DeadLetterName).Msg("Starting reconcile orchestrator")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Shutting down reconcile orchestrator")
			return nil
		default:
		}
		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error().Err(err).Msg("Error reading usage retry queue")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// Poll reads one batch and settles every message in it. It returns how many
// messages were read.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	msgs, err := w.queue.ReadWithPoll(ctx, w.opts.QueueName, w.opts.Visibility, w.opts.PollTimeout, w.opts.MaxMessages)
	if err != nil {
		return 0, err
	}
	for _, msg := range msgs {
		w.handle(ctx, msg)
	}
	return len(msgs), nil
}

func (w *Worker) handle(ctx context.Context, msg *pgmq.Message) {
	log := w.logger.With().Int64("msg_id", msg.ID).Int("read_count", msg.ReadCount).Logger()

	var job model.UsageRetryJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal usage retry job; moving to DLQ")
		w.deadLetter(ctx, msg, err)
		return
	}
	log = log.With().Str("user_id", job.UserID).Str("action", string(job.Action)).Logger()

	err := w.usage.ApplyQueued(ctx, job)
	switch {
	case err == nil:
		if derr := w.queue.Delete(ctx, w.opts.QueueName, msg.ID); derr != nil {
			log.Error().Err(derr).Msg("Error deleting applied usage job")
		}
		w.metrics.RecordRetryJob("applied")
		log.Info().Msg("Queued usage applied")
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrUserNotFound):
		log.Warn().Err(err).Msg("Usage job cannot be applied; moving to DLQ")
		w.deadLetter(ctx, msg, err)
	case msg.ReadCount >= w.opts.MaxRetries:
		log.Warn().Err(err).Int("attempts", msg.ReadCount).Msg("Exhausted usage job retries; moving to DLQ")
		w.deadLetter(ctx, msg, err)
	default:
		delay := w.backoff(msg.ReadCount)
		if verr := w.queue.SetVisibility(ctx, w.opts.QueueName, msg.ID, delay); verr != nil {
			log.Error().Err(verr).Msg("Failed to delay usage job")
		}
		w.metrics.RecordRetryJob("retried")
		log.Warn().Err(err).Dur("retry_in", delay).Msg("Usage job failed, retrying")
	}
}

// backoff doubles from BackoffInitial per delivery, capped at BackoffMax.
func (w *Worker) backoff(readCount int) time.Duration {
	d := w.opts.BackoffInitial
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < readCount; i++ {
		d *= 2
		if w.opts.BackoffMax > 0 && d >= w.opts.BackoffMax {
			return w.opts.BackoffMax
		}
	}
	if w.opts.BackoffMax > 0 && d > w.opts.BackoffMax {
		return w.opts.BackoffMax
	}
	return d
}

func (w *Worker) deadLetter(ctx context.Context, msg *pgmq.Message, cause error) {
	entry := deadLetter{
		MessageID: msg.ID,
		Attempts:  msg.ReadCount,
		Error:     cause.Error(),
		Job:       json.RawMessage(msg.Data),
		FailedAt:  w.now(),
	}
	if !json.Valid(msg.Data) {
		raw, _ := json.Marshal(string(msg.Data))
		entry.Job = raw
	}
	if _, err := w.queue.SendJSON(ctx, w.opts.DeadLetterName, entry); err != nil {
		// Leave the message on the queue; it reappears after the visibility timeout.
		w.logger.Error().Err(err).Int64("msg_id", msg.ID).Str("dlq", w.opts.DeadLetterName).Msg("Failed to send message to dead-letter queue")
		return
	}
	if err := w.queue.Delete(ctx, w.opts.QueueName, msg.ID); err != nil {
		w.logger.Error().Err(err).Int64("msg_id", msg.ID).Msg("Error deleting usage job after failure")
	}
	w.metrics.RecordRetryJob("dead_lettered")
}
