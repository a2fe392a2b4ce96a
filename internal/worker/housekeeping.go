package worker

import (
	"context"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/outbox"
	"github.com/rs/zerolog"
)

// IdempotencyCleaner is implemented by postgres.IdempotencyRepository.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Housekeeper deletes expired idempotency responses and relayed outbox rows.
type Housekeeper struct {
	idempotency IdempotencyCleaner
	outbox      outbox.Repository
	retention   time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

func NewHousekeeper(idempotency IdempotencyCleaner, outboxRepo outbox.Repository, retention time.Duration, logger zerolog.Logger) *Housekeeper {
	return &Housekeeper{
		idempotency: idempotency,
		outbox:      outboxRepo,
		retention:   retention,
		now:         time.Now,
		logger:      logger,
	}
}

func (h *Housekeeper) RunOnce(ctx context.Context) {
	if n, err := h.idempotency.Cleanup(ctx); err != nil {
		h.logger.Error().Err(err).Msg("Idempotency cleanup failed")
	} else if n > 0 {
		h.logger.Info().Int64("deleted", n).Msg("Expired idempotency keys removed")
	}

	if n, err := h.outbox.DeletePublishedBefore(ctx, h.now().Add(-h.retention)); err != nil {
		h.logger.Error().Err(err).Msg("Outbox purge failed")
	} else if n > 0 {
		h.logger.Info().Int64("deleted", n).Msg("Published outbox entries removed")
	}
}

func (h *Housekeeper) Run(ctx context.Context, interval time.Duration) error {
	return every(ctx, interval, h.RunOnce)
}
