package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	"github.com/cassiomorais/eventpay/internal/domain/outbox"
	infraRedis "github.com/cassiomorais/eventpay/internal/infrastructure/redis"
	"github.com/cassiomorais/eventpay/internal/testutil"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeStream struct {
	mu    sync.Mutex
	acked []string
}

func (s *fakeStream) Stream() string { return "test:stream" }
func (s *fakeStream) Read(ctx context.Context) ([]redis.XMessage, error) {
	return nil, nil
}
func (s *fakeStream) ClaimStale(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error) {
	return nil, nil
}
func (s *fakeStream) Ack(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, id)
	return nil
}

type fakePublisher struct {
	published []*outbox.Entry
	failFor   map[uuid.UUID]bool
}

func (p *fakePublisher) Publish(ctx context.Context, e *outbox.Entry) error {
	if p.failFor[e.ID] {
		return errors.New("redis: connection refused")
	}
	p.published = append(p.published, e)
	return nil
}

type fakeDispatcher struct {
	err   error
	calls []string
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, eventType string, payload map[string]any) error {
	d.calls = append(d.calls, eventType)
	return d.err
}

type fakeDLQ struct {
	err     error
	reasons []string
}

func (d *fakeDLQ) PublishToDLQ(ctx context.Context, msg infraRedis.NotificationMessage, reason string) error {
	if d.err != nil {
		return d.err
	}
	d.reasons = append(d.reasons, reason)
	return nil
}

type fakeReplayer struct {
	err      error
	replayed []*audit.Entry
}

func (r *fakeReplayer) Replay(ctx context.Context, e *audit.Entry) error {
	if r.err != nil {
		return r.err
	}
	r.replayed = append(r.replayed, e)
	return nil
}

func notificationMessage(id, eventType string) redis.XMessage {
	return redis.XMessage{ID: id, Values: map[string]any{
		"outbox_id":  uuid.NewString(),
		"event_type": eventType,
		"payload":    `{"registration_code":"REG-7KQ2XM","email":"asha@example.com","amount":40000}`,
	}}
}

// --- outbox relay ---

func TestOutboxRelay_PublishesPending(t *testing.T) {
	repo := testutil.NewMockOutboxRepository()
	a := outbox.NewEntry(outbox.AggregateRegistration, uuid.New(), outbox.EventRegistrationConfirmed, map[string]any{"amount": 1})
	b := outbox.NewEntry(outbox.AggregateRegistration, uuid.New(), outbox.EventPaymentFailed, map[string]any{"amount": 2})
	require.NoError(t, repo.Insert(context.Background(), a))
	require.NoError(t, repo.Insert(context.Background(), b))

	pub := &fakePublisher{}
	relay := NewOutboxRelay(testutil.NewMockTransactionManager(), repo, pub, 10, zerolog.Nop(), nil)

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, pub.published, 2)
	for _, e := range repo.Entries() {
		assert.Equal(t, outbox.StatusPublished, e.Status)
	}

	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxRelay_FailedPublishIsRetriedThenGivenUp(t *testing.T) {
	repo := testutil.NewMockOutboxRepository()
	e := outbox.NewEntry(outbox.AggregateRegistration, uuid.New(), outbox.EventPaymentExpired, map[string]any{})
	e.MaxRetries = 2
	require.NoError(t, repo.Insert(context.Background(), e))

	pub := &fakePublisher{failFor: map[uuid.UUID]bool{e.ID: true}}
	relay := NewOutboxRelay(testutil.NewMockTransactionManager(), repo, pub, 10, zerolog.Nop(), nil)

	_, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusPending, repo.Entries()[0].Status)

	_, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusFailed, repo.Entries()[0].Status)
	assert.Empty(t, pub.published)
}

// --- notification consumer ---

func TestNotificationConsumer_AcksDelivered(t *testing.T) {
	stream := &fakeStream{}
	dispatcher := &fakeDispatcher{}
	c := NewNotificationConsumer(stream, dispatcher, &fakeDLQ{}, time.Minute, zerolog.Nop(), nil)

	c.Handle(context.Background(), []redis.XMessage{
		notificationMessage("1-0", outbox.EventRegistrationConfirmed),
		notificationMessage("2-0", outbox.EventPaymentFailed),
	})

	assert.Equal(t, []string{outbox.EventRegistrationConfirmed, outbox.EventPaymentFailed}, dispatcher.calls)
	assert.Equal(t, []string{"1-0", "2-0"}, stream.acked)
}

func TestNotificationConsumer_FailureIsDeadLettered(t *testing.T) {
	stream := &fakeStream{}
	dlq := &fakeDLQ{}
	c := NewNotificationConsumer(stream, &fakeDispatcher{err: errors.New("whatsapp: notification rejected")}, dlq, time.Minute, zerolog.Nop(), nil)

	c.Handle(context.Background(), []redis.XMessage{notificationMessage("1-0", outbox.EventPaymentExpired)})

	assert.Equal(t, []string{"whatsapp: notification rejected"}, dlq.reasons)
	assert.Equal(t, []string{"1-0"}, stream.acked)
}

func TestNotificationConsumer_DeadLetterFailureLeavesPending(t *testing.T) {
	stream := &fakeStream{}
	c := NewNotificationConsumer(stream, &fakeDispatcher{err: errors.New("relay down")}, &fakeDLQ{err: errors.New("redis down")}, time.Minute, zerolog.Nop(), nil)

	c.Handle(context.Background(), []redis.XMessage{notificationMessage("1-0", outbox.EventPaymentExpired)})

	assert.Empty(t, stream.acked)
}

func TestNotificationConsumer_MalformedIsDropped(t *testing.T) {
	stream := &fakeStream{}
	dispatcher := &fakeDispatcher{}
	c := NewNotificationConsumer(stream, dispatcher, &fakeDLQ{}, time.Minute, zerolog.Nop(), nil)

	c.Handle(context.Background(), []redis.XMessage{{ID: "9-0", Values: map[string]any{"event_type": "payment.failed"}}})

	assert.Empty(t, dispatcher.calls)
	assert.Equal(t, []string{"9-0"}, stream.acked)
}

// --- audit dead letters ---

func auditMessage(t *testing.T, id string) (redis.XMessage, *audit.Entry) {
	t.Helper()
	e := audit.NewEntry(audit.EventPayment, "order_confirmed", audit.ResourceOrder, uuid.NewString())
	body, err := json.Marshal(e)
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]any{"entry": string(body)}}, e
}

func TestAuditDeadLetterConsumer_Replays(t *testing.T) {
	stream := &fakeStream{}
	replayer := &fakeReplayer{}
	c := NewAuditDeadLetterConsumer(stream, replayer, time.Minute, zerolog.Nop(), nil)

	msg, e := auditMessage(t, "1-0")
	c.Handle(context.Background(), []redis.XMessage{msg})

	require.Len(t, replayer.replayed, 1)
	assert.Equal(t, e.ID, replayer.replayed[0].ID)
	assert.Equal(t, []string{"1-0"}, stream.acked)
}

func TestAuditDeadLetterConsumer_FailedReplayStaysPending(t *testing.T) {
	stream := &fakeStream{}
	c := NewAuditDeadLetterConsumer(stream, &fakeReplayer{err: errors.New("db down")}, time.Minute, zerolog.Nop(), nil)

	msg, _ := auditMessage(t, "1-0")
	c.Handle(context.Background(), []redis.XMessage{msg, {ID: "2-0", Values: map[string]any{}}})

	// The malformed message is dropped, the unreplayed one is not.
	assert.Equal(t, []string{"2-0"}, stream.acked)
}

// --- expiry sweeper ---

type fakeExpirer struct {
	batches []int
	calls   int
}

func (f *fakeExpirer) ExpireStale(ctx context.Context, limit int) (int, error) {
	if f.calls >= len(f.batches) {
		return 0, nil
	}
	n := f.batches[f.calls]
	f.calls++
	return n, nil
}

func alwaysFree(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	return true, fn(ctx)
}

func TestExpirySweeper_DrainsFullBatches(t *testing.T) {
	orders := &fakeExpirer{batches: []int{2, 2, 1}}
	s := NewExpirySweeper(orders, alwaysFree, time.Minute, 2, zerolog.Nop())

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 3, orders.calls)
}

func TestExpirySweeper_SkipsWhenLockHeld(t *testing.T) {
	orders := &fakeExpirer{batches: []int{1}}
	held := func(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
		assert.Equal(t, sweepLockName, name)
		return false, nil
	}
	s := NewExpirySweeper(orders, held, time.Minute, 10, zerolog.Nop())

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, orders.calls)
}

// --- housekeeping ---

type fakeCleaner struct{ calls int }

func (c *fakeCleaner) Cleanup(ctx context.Context) (int64, error) {
	c.calls++
	return 3, nil
}

func TestHousekeeper_PurgesPublishedOutbox(t *testing.T) {
	repo := testutil.NewMockOutboxRepository()
	published := outbox.NewEntry(outbox.AggregateRegistration, uuid.New(), outbox.EventPaymentFailed, nil)
	pending := outbox.NewEntry(outbox.AggregateRegistration, uuid.New(), outbox.EventPaymentFailed, nil)
	require.NoError(t, repo.Insert(context.Background(), published))
	require.NoError(t, repo.Insert(context.Background(), pending))
	require.NoError(t, repo.MarkPublished(context.Background(), published.ID))

	cleaner := &fakeCleaner{}
	h := NewHousekeeper(cleaner, repo, time.Hour, zerolog.Nop())

	h.RunOnce(context.Background())
	assert.Len(t, repo.Entries(), 2)

	h.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	h.RunOnce(context.Background())

	assert.Equal(t, 2, cleaner.calls)
	entries := repo.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, pending.ID, entries[0].ID)
}
