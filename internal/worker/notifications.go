package worker

import (
	"context"
	"time"

	"github.com/cassiomorais/eventpay/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/eventpay/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Dispatcher delivers one notification message. It is implemented by
// service.NotificationService.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]any) error
}

// NotificationDeadLetter parks messages that could not be delivered.
type NotificationDeadLetter interface {
	PublishToDLQ(ctx context.Context, msg infraRedis.NotificationMessage, reason string) error
}

// NotificationConsumer drains the notification stream. A failed delivery is
// dead-lettered and acknowledged; payment state is never touched.
type NotificationConsumer struct {
	stream       MessageStream
	dispatcher   Dispatcher
	dlq          NotificationDeadLetter
	reclaimAfter time.Duration
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

func NewNotificationConsumer(stream MessageStream, dispatcher Dispatcher, dlq NotificationDeadLetter, reclaimAfter time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *NotificationConsumer {
	return &NotificationConsumer{
		stream:       stream,
		dispatcher:   dispatcher,
		dlq:          dlq,
		reclaimAfter: reclaimAfter,
		logger:       logger,
		metrics:      metrics,
	}
}

func (c *NotificationConsumer) Run(ctx context.Context) error {
	return consume(ctx, c.stream, c.reclaimAfter, func(err error) {
		c.logger.Error().Err(err).Str("stream", c.stream.Stream()).Msg("Failed to read from stream")
	}, c.Handle)
}

// Handle processes one batch of stream messages.
func (c *NotificationConsumer) Handle(ctx context.Context, msgs []redis.XMessage) {
	for _, raw := range msgs {
		start := time.Now()
		status := c.handleOne(ctx, raw)
		c.metrics.ObserveWorkerMessage(c.stream.Stream(), status, time.Since(start).Seconds())
	}
}

func (c *NotificationConsumer) handleOne(ctx context.Context, raw redis.XMessage) string {
	msg, err := infraRedis.DecodeNotification(raw)
	if err != nil {
		c.logger.Error().Err(err).Str("message_id", raw.ID).Msg("Dropping malformed notification")
		c.ack(ctx, raw.ID)
		return "malformed"
	}

	if err := c.dispatcher.Dispatch(ctx, msg.EventType, msg.Payload); err != nil {
		if dlqErr := c.dlq.PublishToDLQ(ctx, msg, err.Error()); dlqErr != nil {
			// Left pending: reclaimed and retried later.
			c.logger.Error().Err(dlqErr).Str("outbox_id", msg.OutboxID).Msg("Failed to dead-letter notification")
			return "retry"
		}
		c.logger.Warn().Err(err).
			Str("outbox_id", msg.OutboxID).
			Str("event_type", msg.EventType).
			Msg("Notification dead-lettered")
		c.ack(ctx, raw.ID)
		return "dead_lettered"
	}

	c.ack(ctx, raw.ID)
	return "success"
}

func (c *NotificationConsumer) ack(ctx context.Context, id string) {
	if err := c.stream.Ack(ctx, id); err != nil {
		c.logger.Error().Err(err).Str("message_id", id).Msg("Failed to ack message")
	}
}
