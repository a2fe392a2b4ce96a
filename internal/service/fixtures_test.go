package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	"github.com/cassiomorais/eventpay/internal/domain/coupon"
	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
	"github.com/cassiomorais/eventpay/internal/gateway"
	"github.com/cassiomorais/eventpay/internal/infrastructure/observability"
	"github.com/cassiomorais/eventpay/internal/testutil"
	"github.com/cassiomorais/eventpay/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// --- Test Helpers ---

type testEnv struct {
	orders    *testutil.MockOrderRepository
	txs       *testutil.MockTransactionRepository
	coupons   *testutil.MockCouponRepository
	regs      *testutil.MockRegistrationRepository
	events    *testutil.MockEventRepository
	outbox    *testutil.MockOutboxRepository
	auditRepo *testutil.MockAuditRepository
	dlq       *testutil.MockAuditDeadLetter
	txManager *testutil.MockTransactionManager
	processor *testutil.MockProcessor
	registry  *gateway.Registry
	metrics   *observability.Metrics

	audit    *AuditService
	orderSvc *OrderService
	webhooks *WebhookReconciler
	regSvc   *RegistrationService
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		orders:    testutil.NewMockOrderRepository(),
		txs:       testutil.NewMockTransactionRepository(),
		coupons:   testutil.NewMockCouponRepository(),
		regs:      testutil.NewMockRegistrationRepository(),
		events:    testutil.NewMockEventRepository(),
		outbox:    testutil.NewMockOutboxRepository(),
		auditRepo: testutil.NewMockAuditRepository(),
		dlq:       &testutil.MockAuditDeadLetter{},
		txManager: testutil.NewMockTransactionManager(),
		processor: testutil.NewMockProcessor(gateway.MockName),
		metrics:   observability.NewMetrics("test", prometheus.NewRegistry()),
	}
	env.registry = gateway.NewRegistry(gateway.MockName)
	env.registry.Register(env.processor)

	logger := zerolog.Nop()
	env.audit = NewAuditService(env.auditRepo, env.dlq, fastRetry(), logger, env.metrics)
	env.orderSvc = NewOrderService(OrderDeps{
		Orders:        env.orders,
		Transactions:  env.txs,
		Coupons:       env.coupons,
		Registrations: env.regs,
		Events:        env.events,
		Outbox:        env.outbox,
		TxManager:     env.txManager,
		Gateways:      env.registry,
		Audit:         env.audit,
		Logger:        logger,
		Metrics:       env.metrics,
	}, OrderConfig{
		Currency:      "INR",
		OrderTimeout:  30 * time.Minute,
		CreateTimeout: time.Second,
		CreateRetry:   fastRetry(),
	})
	env.webhooks = NewWebhookReconciler(env.registry, env.orders, env.txs, env.orderSvc, env.audit, logger, env.metrics)
	env.regSvc = NewRegistrationService(env.regs, env.events, env.orders, env.txs, env.audit, logger)
	return env
}

// seedRegistration stores an event with fee and a pending registration for it.
func (env *testEnv) seedRegistration(fee int64, regType registration.Type) *registration.Registration {
	event := testutil.NewTestEvent(fee)
	env.events.AddEvent(event)
	reg := testutil.NewTestRegistration(event.ID, regType)
	env.regs.AddRegistration(reg)
	return reg
}

func (env *testEnv) seedCoupon(code string, kind coupon.DiscountKind, value int64, maxRedemptions *int) *coupon.Coupon {
	c := testutil.NewTestCoupon(code, kind, value, maxRedemptions)
	env.coupons.AddCoupon(c)
	return c
}

// openOrder creates an order awaiting payment for reg.
func (env *testEnv) openOrder(t *testing.T, reg *registration.Registration, code string) *payment.Order {
	t.Helper()
	o, err := env.orderSvc.CreateOrder(context.Background(), CreateOrderRequest{RegistrationID: reg.ID, CouponCode: code})
	require.NoError(t, err)
	require.Equal(t, payment.StatusAwaitingPayment, o.Status)
	return o
}

// signedWebhook builds a mock gateway delivery with a valid signature.
func (env *testEnv) signedWebhook(t *testing.T, event, orderRef, paymentRef string, amount int64) ([]byte, http.Header) {
	t.Helper()
	raw, err := json.Marshal(gateway.MockWebhook{Event: event, OrderRef: orderRef, PaymentRef: paymentRef, Amount: amount})
	require.NoError(t, err)
	return raw, env.processor.SignWebhook(raw)
}

// reload returns the stored state of o.
func (env *testEnv) reload(t *testing.T, o *payment.Order) *payment.Order {
	t.Helper()
	stored, err := env.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	return stored
}

func (env *testEnv) reloadRegistration(t *testing.T, reg *registration.Registration) *registration.Registration {
	t.Helper()
	r, err := env.regs.GetByID(context.Background(), reg.ID)
	require.NoError(t, err)
	return r
}

// transitionEntries returns the audit entries recording a transition of o.
func (env *testEnv) transitionEntries(o *payment.Order) []*audit.Entry {
	var result []*audit.Entry
	for _, e := range env.auditRepo.ForResource(audit.ResourceOrder, o.ID.String()) {
		if e.EventType == audit.EventPayment {
			result = append(result, e)
		}
	}
	return result
}

func (env *testEnv) outboxEvents() []string {
	var result []string
	for _, e := range env.outbox.Entries() {
		result = append(result, e.EventType)
	}
	return result
}
