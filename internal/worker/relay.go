package worker

import (
	"context"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/outbox"
	"github.com/cassiomorais/eventpay/internal/infrastructure/observability"
	"github.com/cassiomorais/eventpay/internal/service"
	"github.com/rs/zerolog"
)

// Publisher appends a relayed outbox entry to the notification stream.
type Publisher interface {
	Publish(ctx context.Context, e *outbox.Entry) error
}

// OutboxRelay moves committed outbox entries to the notification stream.
type OutboxRelay struct {
	tx        service.TransactionManager
	repo      outbox.Repository
	publisher Publisher
	batchSize int
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewOutboxRelay(tx service.TransactionManager, repo outbox.Repository, publisher Publisher, batchSize int, logger zerolog.Logger, metrics *observability.Metrics) *OutboxRelay {
	return &OutboxRelay{
		tx:        tx,
		repo:      repo,
		publisher: publisher,
		batchSize: batchSize,
		logger:    logger,
		metrics:   metrics,
	}
}

// RelayOnce publishes one batch of pending entries and returns how many were
// published. Entries stay locked by the transaction while they are published.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		published = 0
		entries, err := r.repo.GetPending(txCtx, r.batchSize)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			start := time.Now()
			if err := r.publisher.Publish(ctx, entry); err != nil {
				r.logger.Error().Err(err).
					Str("outbox_id", entry.ID.String()).
					Str("event_type", entry.EventType).
					Int("retry_count", entry.RetryCount).
					Msg("Failed to publish outbox entry")
				r.metrics.ObserveWorkerMessage("outbox", "failed", time.Since(start).Seconds())
				if err := r.repo.MarkFailed(txCtx, entry.ID); err != nil {
					return err
				}
				continue
			}
			if err := r.repo.MarkPublished(txCtx, entry.ID); err != nil {
				return err
			}
			r.metrics.ObserveWorkerMessage("outbox", "published", time.Since(start).Seconds())
			published++
		}
		return nil
	})
	return published, err
}

// Run relays every interval until ctx is done.
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) error {
	return every(ctx, interval, func(ctx context.Context) {
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("Outbox relay error")
		}
	})
}
