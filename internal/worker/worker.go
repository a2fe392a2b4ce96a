// Package worker holds the background loops run by cmd/worker: the outbox
// relay, the notification and audit dead-letter consumers, the expiry sweeper
// and housekeeping.
package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// MessageStream is a consumer-group view of one Redis stream.
type MessageStream interface {
	Stream() string
	Read(ctx context.Context) ([]redis.XMessage, error)
	ClaimStale(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error)
	Ack(ctx context.Context, messageID string) error
}

// every calls fn once per interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// consume reads stream until ctx is done, handing each batch to handle.
// Messages left unacknowledged by a crashed or failing handler are reclaimed
// once they have been idle for reclaimAfter.
func consume(ctx context.Context, stream MessageStream, reclaimAfter time.Duration, onErr func(error), handle func(ctx context.Context, msgs []redis.XMessage)) error {
	lastReclaim := time.Time{}
	for {
		if ctx.Err() != nil {
			return nil
		}

		if time.Since(lastReclaim) >= reclaimAfter {
			lastReclaim = time.Now()
			stale, err := stream.ClaimStale(ctx, reclaimAfter)
			if err != nil {
				onErr(err)
			} else if len(stale) > 0 {
				handle(ctx, stale)
			}
		}

		msgs, err := stream.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			onErr(err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if len(msgs) > 0 {
			handle(ctx, msgs)
		}
	}
}
