package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Expirer is implemented by service.OrderService.
type Expirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// ExclusiveRunner runs fn only if the named lock is free, reporting whether it ran.
type ExclusiveRunner func(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error)

const sweepLockName = "payment-expiry-sweep"

// ExpirySweeper expires orders whose payment window elapsed. Only one worker
// instance sweeps at a time.
type ExpirySweeper struct {
	orders    Expirer
	exclusive ExclusiveRunner
	lockTTL   time.Duration
	batchSize int
	logger    zerolog.Logger
}

func NewExpirySweeper(orders Expirer, exclusive ExclusiveRunner, lockTTL time.Duration, batchSize int, logger zerolog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		orders:    orders,
		exclusive: exclusive,
		lockTTL:   lockTTL,
		batchSize: batchSize,
		logger:    logger,
	}
}

// SweepOnce expires batches until none are left, the lock TTL runs out or ctx
// is done. It returns how many orders it expired.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	total := 0
	ran, err := s.exclusive(ctx, sweepLockName, s.lockTTL, func(ctx context.Context) error {
		for {
			n, err := s.orders.ExpireStale(ctx, s.batchSize)
			total += n
			if err != nil {
				return err
			}
			if n < s.batchSize {
				return nil
			}
		}
	})
	if !ran && err == nil {
		s.logger.Debug().Msg("Expiry sweep held by another worker")
	}
	if total > 0 {
		s.logger.Info().Int("expired", total).Msg("Expired stale payment orders")
	}
	return total, err
}

func (s *ExpirySweeper) Run(ctx context.Context, interval time.Duration) error {
	return every(ctx, interval, func(ctx context.Context) {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Expiry sweep failed")
		}
	})
}
