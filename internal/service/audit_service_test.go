package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	"github.com/cassiomorais/eventpay/internal/domain/coupon"
	domainErrors "github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
	"github.com/cassiomorais/eventpay/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuditService(repo *testutil.MockAuditRepository, dlq *testutil.MockAuditDeadLetter) *AuditService {
	return NewAuditService(repo, dlq, fastRetry(), zerolog.Nop(), nil)
}

func TestAuditService_Record_UsesActorFromContext(t *testing.T) {
	repo := testutil.NewMockAuditRepository()
	svc := newAuditService(repo, nil)

	ctx := audit.ContextWithActor(context.Background(), audit.Actor{
		ID:        "op-7",
		Email:     "ops@example.com",
		IPAddress: "203.0.113.9",
		UserAgent: "curl/8.0",
	})
	svc.Record(ctx, audit.NewEntry(audit.EventDataAccess, "registration_viewed", audit.ResourceRegistration, "r1"))

	entries := repo.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "op-7", entries[0].ActorID)
	assert.Equal(t, "ops@example.com", entries[0].ActorEmail)
	assert.Equal(t, "203.0.113.9", entries[0].IPAddress)
	assert.Equal(t, "curl/8.0", entries[0].UserAgent)
	assert.Equal(t, int64(1), entries[0].Sequence)
}

func TestAuditService_Record_DefaultsToSystemActor(t *testing.T) {
	repo := testutil.NewMockAuditRepository()
	svc := newAuditService(repo, nil)

	svc.Record(context.Background(), audit.NewEntry(audit.EventPayment, "order_expired", audit.ResourceOrder, "o1"))

	entries := repo.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActorSystem, entries[0].ActorEmail)
	assert.Empty(t, entries[0].ActorID)
}

func TestAuditService_Record_RetriesTransientFailure(t *testing.T) {
	repo := testutil.NewMockAuditRepository()
	dlq := &testutil.MockAuditDeadLetter{}
	svc := newAuditService(repo, dlq)

	var calls atomic.Int32
	repo.AppendFunc = func(ctx context.Context, e *audit.Entry) error {
		if calls.Add(1) < 3 {
			return errors.New("connection reset")
		}
		repo.AppendFunc = nil
		return repo.Append(ctx, e)
	}

	svc.Record(context.Background(), audit.NewEntry(audit.EventCoupon, "coupon_applied", audit.ResourceRegistration, "r1"))

	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, repo.Entries(), 1)
	assert.Empty(t, dlq.Entries)
}

func TestAuditService_Record_DeadLettersAfterRetries(t *testing.T) {
	repo := testutil.NewMockAuditRepository()
	dlq := &testutil.MockAuditDeadLetter{}
	svc := newAuditService(repo, dlq)

	var calls atomic.Int32
	repo.AppendFunc = func(ctx context.Context, e *audit.Entry) error {
		calls.Add(1)
		return errors.New("database is down")
	}

	e := audit.NewEntry(audit.EventPayment, "order_confirmed", audit.ResourceOrder, "o1")
	svc.Record(context.Background(), e)

	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, dlq.Entries, 1)
	assert.Equal(t, e.ID, dlq.Entries[0].ID)
}

func TestAuditService_Record_SurvivesDeadLetterFailure(t *testing.T) {
	repo := testutil.NewMockAuditRepository()
	dlq := &testutil.MockAuditDeadLetter{
		DeadLetterFunc: func(ctx context.Context, e *audit.Entry, cause error) error {
			return errors.New("redis is down")
		},
	}
	repo.AppendFunc = func(ctx context.Context, e *audit.Entry) error {
		return errors.New("database is down")
	}
	svc := newAuditService(repo, dlq)

	assert.NotPanics(t, func() {
		svc.Record(context.Background(), audit.NewEntry(audit.EventPayment, "order_failed", audit.ResourceOrder, "o1"))
	})
}

func TestAuditService_Record_WritesAfterCallerCancels(t *testing.T) {
	repo := testutil.NewMockAuditRepository()
	svc := newAuditService(repo, nil)

	var sawCanceled bool
	repo.AppendFunc = func(ctx context.Context, e *audit.Entry) error {
		sawCanceled = ctx.Err() != nil
		repo.AppendFunc = nil
		return repo.Append(ctx, e)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Record(ctx, audit.NewEntry(audit.EventWebhook, "webhook_received", audit.ResourceTransaction, "t1"))

	assert.False(t, sawCanceled)
	assert.Len(t, repo.Entries(), 1)
}

func TestAuditService_Record_NilService(t *testing.T) {
	var svc *AuditService
	assert.NotPanics(t, func() {
		svc.Record(context.Background(), audit.NewEntry(audit.EventPayment, "order_confirmed", audit.ResourceOrder, "o1"))
	})
}

func TestAuditService_FailingStoreNeverBreaksPayments(t *testing.T) {
	env := newTestEnv(t)
	env.auditRepo.AppendFunc = func(ctx context.Context, e *audit.Entry) error {
		return errors.New("audit store unavailable")
	}

	reg := env.seedRegistration(50000, registration.TypeStudent)
	o, err := env.orderSvc.CreateOrder(context.Background(), CreateOrderRequest{RegistrationID: reg.ID})
	require.NoError(t, err)

	_, err = env.orderSvc.Confirm(context.Background(), o.ID, Trigger{Origin: "webhook"})
	require.NoError(t, err)

	assert.Equal(t, payment.StatusConfirmed, env.reload(t, o).Status)
	assert.NotEmpty(t, env.dlq.Entries)
}

func TestAuditService_Query_Validation(t *testing.T) {
	svc := newAuditService(testutil.NewMockAuditRepository(), nil)
	now := time.Now()
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name   string
		filter audit.Filter
	}{
		{"no criteria", audit.Filter{}},
		{"resource id without type", audit.Filter{ResourceID: "r1"}},
		{"to before from", audit.Filter{From: &now, To: &earlier}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Query(context.Background(), tt.filter)
			var validationErr *domainErrors.ValidationError
			assert.True(t, errors.As(err, &validationErr))
		})
	}
}

func TestAuditService_Query_PagesWithCursor(t *testing.T) {
	repo := testutil.NewMockAuditRepository()
	svc := newAuditService(repo, nil)

	// Same timestamp for all entries so ordering falls back to sequence.
	ts := time.Now().UTC()
	for i := range 7 {
		e := audit.NewEntry(audit.EventPayment, fmt.Sprintf("step_%d", i), audit.ResourceOrder, "o1")
		e.Timestamp = ts
		svc.Record(context.Background(), e)
	}

	filter := audit.Filter{ResourceType: audit.ResourceOrder, ResourceID: "o1", Limit: 3}
	var actions []string
	pages := 0
	for {
		page, err := svc.Query(context.Background(), filter)
		require.NoError(t, err)
		pages++
		for _, e := range page.Entries {
			actions = append(actions, e.Action)
		}
		if page.NextCursor == "" {
			break
		}
		filter.After, err = audit.DecodeCursor(page.NextCursor)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{"step_0", "step_1", "step_2", "step_3", "step_4", "step_5", "step_6"}, actions)
}

func TestAuditService_ReplayKeepsOriginalTimestamp(t *testing.T) {
	repo := testutil.NewMockAuditRepository()
	svc := newAuditService(repo, nil)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	late := audit.NewEntry(audit.EventPayment, "order_created", audit.ResourceOrder, "o1")
	late.Timestamp = base
	replayed := audit.NewEntry(audit.EventPayment, "order_awaiting_payment", audit.ResourceOrder, "o1")
	replayed.Timestamp = base.Add(time.Second)
	after := audit.NewEntry(audit.EventPayment, "order_confirmed", audit.ResourceOrder, "o1")
	after.Timestamp = base.Add(2 * time.Second)

	svc.Record(context.Background(), late)
	svc.Record(context.Background(), after)

	filter := audit.Filter{ResourceType: audit.ResourceOrder, ResourceID: "o1", Limit: 2}
	first, err := svc.Query(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	cursor := audit.CursorAfter(first.Entries[1])

	require.NoError(t, svc.Replay(context.Background(), replayed))

	// A cursor issued before the replay has already passed its timestamp.
	filter.After = &cursor
	next, err := svc.Query(context.Background(), filter)
	require.NoError(t, err)
	assert.Empty(t, next.Entries)

	// A fresh read shows it at its original position.
	full, err := svc.Query(context.Background(), audit.Filter{ResourceType: audit.ResourceOrder, ResourceID: "o1"})
	require.NoError(t, err)
	var actions []string
	for _, e := range full.Entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"order_created", "order_awaiting_payment", "order_confirmed"}, actions)
	assert.Equal(t, base.Add(time.Second), full.Entries[1].Timestamp)
	assert.Greater(t, full.Entries[1].Sequence, full.Entries[2].Sequence)
}

func TestAuditService_Query_ClampsLimit(t *testing.T) {
	repo := testutil.NewMockAuditRepository()
	svc := newAuditService(repo, nil)
	for range defaultAuditPageSize + 5 {
		svc.Record(context.Background(), audit.NewEntry(audit.EventPayment, "order_confirmed", audit.ResourceOrder, "o1"))
	}

	page, err := svc.Query(context.Background(), audit.Filter{ResourceType: audit.ResourceOrder, ResourceID: "o1"})
	require.NoError(t, err)
	assert.Len(t, page.Entries, defaultAuditPageSize)
	assert.NotEmpty(t, page.NextCursor)
}

func TestAuditService_Query_BySubject(t *testing.T) {
	repo := testutil.NewMockAuditRepository()
	svc := newAuditService(repo, nil)

	ops := audit.ContextWithActor(context.Background(), audit.Actor{ID: "op-1", Email: "ops@example.com"})
	svc.Record(ops, audit.NewEntry(audit.EventDataAccess, "registration_viewed", audit.ResourceRegistration, "r1"))
	svc.Record(context.Background(), audit.NewEntry(audit.EventPayment, "order_expired", audit.ResourceOrder, "o1"))

	page, err := svc.Query(context.Background(), audit.Filter{Subject: "ops@example.com"})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "registration_viewed", page.Entries[0].Action)
	assert.Empty(t, page.NextCursor)
}

func TestAuditService_RedactSubject(t *testing.T) {
	repo := testutil.NewMockAuditRepository()
	svc := newAuditService(repo, nil)

	self := audit.ContextWithActor(context.Background(), audit.Actor{Email: "asha@example.com", IPAddress: "198.51.100.4"})
	svc.Record(self, audit.NewEntry(audit.EventRegistration, "registration_created", audit.ResourceRegistration, "r1").
		WithDetail(map[string]any{"event_id": "e1"}))
	svc.Record(context.Background(), audit.NewEntry(audit.EventPayment, "order_confirmed", audit.ResourceOrder, "o9"))

	n, err := svc.RedactSubject(context.Background(), "asha@example.com", audit.Ref{Type: audit.ResourceRegistration, ID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries := repo.Entries()
	assert.Empty(t, entries[0].ActorEmail)
	assert.Empty(t, entries[0].IPAddress)
	assert.NotNil(t, entries[0].RedactedAt)
	assert.Equal(t, "registration_created", entries[0].Action)
	assert.Nil(t, entries[1].RedactedAt)
}

func TestAuditService_Helpers(t *testing.T) {
	repo := testutil.NewMockAuditRepository()
	svc := newAuditService(repo, nil)
	ctx := context.Background()

	svc.ConsentRecorded(ctx, "r1", "marketing", "v2", false)
	svc.NotificationSent(ctx, "email", "r1", "payment_failed", errors.New("bounced"))

	consent := repo.ByAction("consent_withdrawn")
	require.Len(t, consent, 1)
	assert.Equal(t, audit.EventConsent, consent[0].EventType)
	assert.Equal(t, false, consent[0].Detail["given"])

	sent := repo.ByAction("email_sent")
	require.Len(t, sent, 1)
	assert.Equal(t, audit.OutcomeFailure, sent[0].Outcome)
	assert.Equal(t, "bounced", sent[0].ErrorMessage)
}

// Every business operation leaves a trail: one transition entry per order
// state change plus the coupon and webhook receipts around it.
func TestAuditTrail_CouponOrderWebhookFlow(t *testing.T) {
	env := newTestEnv(t)
	reg := env.seedRegistration(50000, registration.TypeStudent)
	env.seedCoupon("EARLY20", coupon.KindPercentage, 20, nil)

	o := env.openOrder(t, reg, "EARLY20")
	raw, headers := env.signedWebhook(t, "success", o.GatewayOrderRef, "pay_9", o.Amount)
	_, err := env.webhooks.Handle(context.Background(), "mock", raw, headers)
	require.NoError(t, err)

	var actions []string
	for _, e := range env.auditRepo.Entries() {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"coupon_applied", "order_awaiting_payment", "webhook_received", "order_confirmed"}, actions)

	confirmed := env.auditRepo.ByAction("order_confirmed")[0]
	assert.Equal(t, int64(40000), confirmed.Detail["amount"])
	assert.Equal(t, "EARLY20", confirmed.Detail["coupon"])
	assert.Equal(t, "webhook", confirmed.Detail["origin"])
	assert.Equal(t, "pay_9", confirmed.Detail["payment_ref"])
}
