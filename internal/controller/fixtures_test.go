package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
	"github.com/cassiomorais/eventpay/internal/gateway"
	"github.com/cassiomorais/eventpay/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/eventpay/internal/middleware"
	"github.com/cassiomorais/eventpay/internal/service"
	"github.com/cassiomorais/eventpay/internal/testutil"
	"github.com/cassiomorais/eventpay/pkg/retry"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "controller-test-secret"

type apiEnv struct {
	orders    *testutil.MockOrderRepository
	regs      *testutil.MockRegistrationRepository
	events    *testutil.MockEventRepository
	coupons   *testutil.MockCouponRepository
	auditRepo *testutil.MockAuditRepository
	idem      *testutil.MockIdempotencyStore
	processor *testutil.MockProcessor

	router *chi.Mux
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	env := &apiEnv{
		orders:    testutil.NewMockOrderRepository(),
		regs:      testutil.NewMockRegistrationRepository(),
		events:    testutil.NewMockEventRepository(),
		coupons:   testutil.NewMockCouponRepository(),
		auditRepo: testutil.NewMockAuditRepository(),
		idem:      testutil.NewMockIdempotencyStore(),
		processor: testutil.NewMockProcessor(gateway.MockName),
	}
	registry := gateway.NewRegistry(gateway.MockName)
	registry.Register(env.processor)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)
	logger := zerolog.Nop()
	fast := retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	txs := testutil.NewMockTransactionRepository()

	auditSvc := service.NewAuditService(env.auditRepo, &testutil.MockAuditDeadLetter{}, fast, logger, metrics)
	orderSvc := service.NewOrderService(service.OrderDeps{
		Orders:        env.orders,
		Transactions:  txs,
		Coupons:       env.coupons,
		Registrations: env.regs,
		Events:        env.events,
		Outbox:        testutil.NewMockOutboxRepository(),
		TxManager:     testutil.NewMockTransactionManager(),
		Gateways:      registry,
		Audit:         auditSvc,
		Logger:        logger,
		Metrics:       metrics,
	}, service.OrderConfig{
		Currency:      "INR",
		OrderTimeout:  30 * time.Minute,
		CreateTimeout: time.Second,
		CreateRetry:   fast,
	})

	env.router = NewRouter(RouterDeps{
		HealthChecks:        []HealthCheck{{Name: "database", Ping: func(context.Context) error { return nil }}},
		OrderService:        orderSvc,
		WebhookReconciler:   service.NewWebhookReconciler(registry, env.orders, txs, orderSvc, auditSvc, logger, metrics),
		RegistrationService: service.NewRegistrationService(env.regs, env.events, env.orders, txs, auditSvc, logger),
		AuditService:        auditSvc,
		IdempotencyStore:    env.idem,
		IdempotencyTTL:      time.Hour,
		Metrics:             metrics,
		Gatherer:            reg,
		Currency:            "INR",
		JWTSecret:           testJWTSecret,
	})
	return env
}

func (env *apiEnv) seedRegistration(fee int64, regType registration.Type) *registration.Registration {
	event := testutil.NewTestEvent(fee)
	env.events.AddEvent(event)
	reg := testutil.NewTestRegistration(event.ID, regType)
	env.regs.AddRegistration(reg)
	return reg
}

func (env *apiEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.([]byte); ok {
			buf.Write(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *apiEnv) admin(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, customMW.Claims{
		UserID: "op-1",
		Email:  "ops@example.com",
		Role:   customMW.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return env.do(t, method, path, nil, map[string]string{"Authorization": "Bearer " + token})
}

// openOrder creates an order for reg through the API.
func (env *apiEnv) openOrder(t *testing.T, reg *registration.Registration) OrderResponse {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/orders", CreateOrderRequest{RegistrationID: reg.ID.String()}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[OrderResponse](t, rec)
	require.Equal(t, string(payment.StatusAwaitingPayment), resp.Status)
	return resp
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}
