package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketbook/internal/clock"
	"marketbook/internal/domain"
	"marketbook/internal/events"
	"marketbook/internal/logging"
	"marketbook/internal/metrics"
	"marketbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// OutboxStore is the slice of the database the worker drains.
type OutboxStore interface {
	GetPendingOutbox(ctx context.Context, now time.Time, limit int) ([]models.OutboxEntry, error)
	UpdateOutboxStatus(ctx context.Context, id int64, status models.OutboxStatus, errMsg string, nextRetryAt *time.Time) error
	PurgeCompletedOutbox(ctx context.Context, cutoff time.Time) (int64, error)
}

type OutboxOptions struct {
	PollInterval  time.Duration
	BatchSize     int
	DeadLetterKey string
	// Delivered entries older than this are purged; 0 keeps them forever.
	KeepDelivered time.Duration
}

// OutboxWorker delivers persisted feed events to an EventSink with
// exponential backoff. Entries that exhaust their retries are marked failed
// and copied to a Redis dead-letter list.
type OutboxWorker struct {
	store       OutboxStore
	sink        domain.EventSink
	redis       *redis.Client
	retryPolicy RetryPolicy
	opts        OutboxOptions
	wake        chan struct{}
	clock       clock.Clock
	logger      *zerolog.Logger
	lastPurge   time.Time
}

// NewOutboxWorker builds a worker with sane defaults. redisClient may be nil,
// which disables the dead-letter list.
func NewOutboxWorker(store OutboxStore, sink domain.EventSink, redisClient *redis.Client, retry RetryPolicy, opts OutboxOptions, clk clock.Clock, logger *zerolog.Logger) *OutboxWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 5 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = models.DefaultOutboxBatchSize
	}
	if opts.DeadLetterKey == "" {
		opts.DeadLetterKey = "marketbook:outbox:dead_letter"
	}
	if clk == nil {
		clk = clock.NewSystem()
	}

	return &OutboxWorker{
		store:       store,
		sink:        sink,
		redis:       redisClient,
		retryPolicy: retry,
		opts:        opts,
		wake:        make(chan struct{}, 1),
		clock:       clk,
		logger:      logging.Component(logger, "outbox_worker"),
	}
}

// Notify wakes the worker ahead of its next poll. It never blocks.
func (w *OutboxWorker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start runs the delivery loop until ctx is done.
func (w *OutboxWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("poll_interval", w.opts.PollInterval).Msg("Outbox worker started")
	defer w.logger.Info().Msg("Outbox worker stopped")

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		n, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("Outbox poll failed")
		}
		if n == w.opts.BatchSize {
			// Backlog: keep draining without waiting for the ticker.
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		w.purge(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// RunOnce delivers one batch of due entries and returns how many it handled.
func (w *OutboxWorker) RunOnce(ctx context.Context) (int, error) {
	entries, err := w.store.GetPendingOutbox(ctx, w.clock.Now(), w.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending: %w", err)
	}
	for i := range entries {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		w.processEntry(ctx, &entries[i])
	}
	return len(entries), nil
}

func (w *OutboxWorker) processEntry(ctx context.Context, entry *models.OutboxEntry) {
	event, err := events.Unmarshal([]byte(entry.Payload))
	if err != nil {
		w.failEntry(ctx, entry, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.sink.Deliver(ctx, event); err != nil {
		w.retryOrFail(ctx, entry, err)
		return
	}

	metrics.IncOutboxDelivery("delivered")
	if err := w.store.UpdateOutboxStatus(ctx, entry.ID, models.OutboxCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("entry_id", entry.ID).Msg("Failed to mark outbox entry completed")
	}
}

func (w *OutboxWorker) retryOrFail(ctx context.Context, entry *models.OutboxEntry, cause error) {
	attempt := entry.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failEntry(ctx, entry, cause)
		return
	}

	metrics.IncOutboxDelivery("retry")
	nextTime := w.clock.Now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).
		Int64("entry_id", entry.ID).
		Int("attempt", attempt).
		Time("next_retry_at", nextTime).
		Msg("Outbox delivery failed, will retry")
	if err := w.store.UpdateOutboxStatus(ctx, entry.ID, models.OutboxRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("entry_id", entry.ID).Msg("Failed to mark outbox entry for retry")
	}
}

func (w *OutboxWorker) failEntry(ctx context.Context, entry *models.OutboxEntry, cause error) {
	metrics.IncOutboxDelivery("failed")
	w.logger.Error().Err(cause).Int64("entry_id", entry.ID).Str("event_id", entry.EventID).Msg("Outbox entry failed permanently")
	if err := w.store.UpdateOutboxStatus(ctx, entry.ID, models.OutboxFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("entry_id", entry.ID).Msg("Failed to mark outbox entry failed")
	}
	entry.LastError = cause.Error()
	w.pushDeadLetter(ctx, entry)
}

func (w *OutboxWorker) pushDeadLetter(ctx context.Context, entry *models.OutboxEntry) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		w.logger.Error().Err(err).Int64("entry_id", entry.ID).Msg("Failed to encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, w.opts.DeadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("entry_id", entry.ID).Msg("Failed to push dead letter")
	}
}

func (w *OutboxWorker) purge(ctx context.Context) {
	if w.opts.KeepDelivered <= 0 {
		return
	}
	now := w.clock.Now()
	if now.Sub(w.lastPurge) < w.opts.KeepDelivered/24 {
		return
	}
	w.lastPurge = now
	n, err := w.store.PurgeCompletedOutbox(ctx, now.Add(-w.opts.KeepDelivered))
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to purge delivered outbox entries")
		return
	}
	if n > 0 {
		w.logger.Debug().Int64("purged", n).Msg("Purged delivered outbox entries")
	}
}
