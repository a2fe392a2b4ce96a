package worker

import (
	"context"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	"github.com/cassiomorais/eventpay/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/eventpay/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// AuditReplayer re-appends a dead-lettered entry. It is implemented by
// service.AuditService.
type AuditReplayer interface {
	Replay(ctx context.Context, e *audit.Entry) error
}

// AuditDeadLetterConsumer writes parked audit entries back to the audit log.
// Entries keep their id, so a replay that raced a late original write is a no-op.
type AuditDeadLetterConsumer struct {
	stream       MessageStream
	replayer     AuditReplayer
	reclaimAfter time.Duration
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

func NewAuditDeadLetterConsumer(stream MessageStream, replayer AuditReplayer, reclaimAfter time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *AuditDeadLetterConsumer {
	return &AuditDeadLetterConsumer{
		stream:       stream,
		replayer:     replayer,
		reclaimAfter: reclaimAfter,
		logger:       logger,
		metrics:      metrics,
	}
}

func (c *AuditDeadLetterConsumer) Run(ctx context.Context) error {
	return consume(ctx, c.stream, c.reclaimAfter, func(err error) {
		c.logger.Error().Err(err).Str("stream", c.stream.Stream()).Msg("Failed to read from stream")
	}, c.Handle)
}

// Handle replays one batch. Entries that still cannot be written stay
// pending and are retried after reclaimAfter.
func (c *AuditDeadLetterConsumer) Handle(ctx context.Context, msgs []redis.XMessage) {
	for _, raw := range msgs {
		start := time.Now()
		status := "replayed"

		e, err := infraRedis.DecodeAuditEntry(raw)
		switch {
		case err != nil:
			c.logger.Error().Err(err).Str("message_id", raw.ID).Msg("Dropping malformed audit dead letter")
			status = "malformed"
		default:
			if err := c.replayer.Replay(ctx, e); err != nil {
				c.logger.Error().Err(err).
					Str("audit_id", e.ID.String()).
					Str("action", e.Action).
					Msg("Audit replay failed")
				c.metrics.ObserveWorkerMessage(c.stream.Stream(), "retry", time.Since(start).Seconds())
				continue
			}
		}

		if err := c.stream.Ack(ctx, raw.ID); err != nil {
			c.logger.Error().Err(err).Str("message_id", raw.ID).Msg("Failed to ack message")
		}
		c.metrics.ObserveWorkerMessage(c.stream.Stream(), status, time.Since(start).Seconds())
	}
}
