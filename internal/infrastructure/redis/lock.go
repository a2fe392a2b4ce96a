package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned when the lock expired or belongs to another owner.
var ErrLockNotHeld = errors.New("lock not held")

var (
	// Only the owner may release or extend.
	releaseLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	extendLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// DistributedLock is a single-owner lease on a Redis key. It guards
// background jobs such as the expiry sweep so one worker instance runs them
// at a time; it is never held across a gateway call.
type DistributedLock struct {
	client   redis.Cmdable
	key      string
	owner    string
	ttl      time.Duration
	acquired bool
}

// NewDistributedLock creates a lock on "lock:<name>" owned by a fresh token.
func NewDistributedLock(client redis.Cmdable, name string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    "lock:" + name,
		owner:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire takes the lock if it is free. It does not wait.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	l.acquired = ok
	return ok, nil
}

// Extend pushes the expiry of a held lock to ttl from now.
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.acquired {
		return ErrLockNotHeld
	}
	n, err := extendLockScript.Run(ctx, l.client, []string{l.key}, l.owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		l.acquired = false
		return ErrLockNotHeld
	}
	return nil
}

// Release frees the lock if this owner still holds it.
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	l.acquired = false
	n, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.owner).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// keepAlive extends the lease at half its ttl until ctx ends. Losing the
// lease calls lost so the holder stops working.
func (l *DistributedLock) keepAlive(ctx context.Context, lost context.CancelFunc) {
	ticker := time.NewTicker(max(l.ttl/2, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Extend(ctx, l.ttl); err != nil {
				lost()
				return
			}
		}
	}
}

// RunExclusive runs fn while holding the named lock, extending it for as long
// as fn runs. It reports false without calling fn when another owner holds it.
func RunExclusive(ctx context.Context, client redis.Cmdable, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	lock := NewDistributedLock(client, name, ttl)
	ok, err := lock.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		lock.keepAlive(runCtx, cancel)
	}()

	err = fn(runCtx)
	cancel()
	<-done

	if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil && !errors.Is(relErr, ErrLockNotHeld) {
		err = errors.Join(err, relErr)
	}
	return true, err
}
