package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	"github.com/cassiomorais/eventpay/internal/domain/outbox"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	NotificationStream = "notifications:outbound"
	NotificationDLQ    = "notifications:dlq"
	DefaultAuditDLQ    = "audit:dlq"
)

// Stream length caps. Trimming is approximate.
const (
	maxNotificationLen = 100_000
	maxDLQLen          = 50_000
)

// ErrMalformedMessage is returned for stream messages that cannot be decoded.
var ErrMalformedMessage = errors.New("malformed stream message")

// StreamProducer appends outbox messages to the notification stream.
type StreamProducer struct {
	client redis.Cmdable
}

func NewStreamProducer(client redis.Cmdable) *StreamProducer {
	return &StreamProducer{client: client}
}

// Publish appends e to the notification stream.
func (p *StreamProducer) Publish(ctx context.Context, e *outbox.Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: NotificationStream,
		MaxLen: maxNotificationLen,
		Approx: true,
		Values: map[string]any{
			"outbox_id":    e.ID.String(),
			"aggregate_id": e.AggregateID.String(),
			"event_type":   e.EventType,
			"payload":      string(payload),
			"timestamp":    e.CreatedAt.Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// PublishToDLQ parks a notification that could not be delivered.
func (p *StreamProducer) PublishToDLQ(ctx context.Context, msg NotificationMessage, reason string) error {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ data: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: NotificationDLQ,
		MaxLen: maxDLQLen,
		Approx: true,
		Values: map[string]any{
			"outbox_id":  msg.OutboxID,
			"event_type": msg.EventType,
			"reason":     reason,
			"payload":    string(payload),
			"timestamp":  time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	return nil
}

// NotificationMessage is a decoded notification stream entry.
type NotificationMessage struct {
	StreamID  string
	OutboxID  string
	EventType string
	Payload   map[string]any
}

// DecodeNotification parses a message written by StreamProducer.Publish.
func DecodeNotification(msg redis.XMessage) (NotificationMessage, error) {
	out := NotificationMessage{StreamID: msg.ID}
	out.OutboxID, _ = msg.Values["outbox_id"].(string)
	out.EventType, _ = msg.Values["event_type"].(string)
	raw, _ := msg.Values["payload"].(string)
	if out.EventType == "" || raw == "" {
		return out, fmt.Errorf("%w: %s", ErrMalformedMessage, msg.ID)
	}
	if err := json.Unmarshal([]byte(raw), &out.Payload); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, msg.ID, err)
	}
	return out, nil
}

// AuditDeadLetters stores audit entries the database refused, for replay by
// the worker. It implements service.AuditDeadLetter.
type AuditDeadLetters struct {
	client redis.Cmdable
	stream string
}

func NewAuditDeadLetters(client redis.Cmdable, stream string) *AuditDeadLetters {
	if stream == "" {
		stream = DefaultAuditDLQ
	}
	return &AuditDeadLetters{client: client, stream: stream}
}

// Stream returns the stream name the entries are written to.
func (d *AuditDeadLetters) Stream() string {
	return d.stream
}

// DeadLetter appends e with the error that prevented its write.
func (d *AuditDeadLetters) DeadLetter(ctx context.Context, e *audit.Entry, cause error) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}

	err = d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		MaxLen: maxDLQLen,
		Approx: true,
		Values: map[string]any{
			"entry_id": e.ID.String(),
			"entry":    string(body),
			"reason":   reason,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to dead-letter audit entry %s: %w", e.ID, err)
	}
	return nil
}

// DecodeAuditEntry parses a message written by DeadLetter.
func DecodeAuditEntry(msg redis.XMessage) (*audit.Entry, error) {
	raw, _ := msg.Values["entry"].(string)
	if raw == "" {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, msg.ID)
	}
	e := &audit.Entry{}
	if err := json.Unmarshal([]byte(raw), e); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, msg.ID, err)
	}
	if e.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: %s: entry without id", ErrMalformedMessage, msg.ID)
	}
	return e, nil
}

// StreamConsumer reads a stream as a member of a consumer group.
type StreamConsumer struct {
	client        redis.Cmdable
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client redis.Cmdable,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

// Stream returns the stream this consumer reads.
func (c *StreamConsumer) Stream() string {
	return c.stream
}

// CreateGroup creates the group and the stream if missing.
func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Read returns new messages, blocking up to the configured duration.
func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// ClaimStale takes over messages another consumer read but never acknowledged.
func (c *StreamConsumer) ClaimStale(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}
	return msgs, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, messageID).Err(); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}
