package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/google/uuid"
)

// MockName identifies the development gateway.
const MockName = "mock"

const mockSignatureHeader = "X-Mock-Signature"

// MockProcessor is an in-process gateway for local development.
type MockProcessor struct {
	name        string
	secret      string
	failureRate float64 // 0.0 to 1.0, surfaces as Unavailable
	rejectRate  float64 // 0.0 to 1.0, surfaces as Rejected
	latency     time.Duration
}

type MockOption func(*MockProcessor)

func WithFailureRate(rate float64) MockOption {
	return func(p *MockProcessor) { p.failureRate = rate }
}

func WithRejectRate(rate float64) MockOption {
	return func(p *MockProcessor) { p.rejectRate = rate }
}

func WithLatency(d time.Duration) MockOption {
	return func(p *MockProcessor) { p.latency = d }
}

func WithSecret(secret string) MockOption {
	return func(p *MockProcessor) { p.secret = secret }
}

func NewMockProcessor(name string, opts ...MockOption) *MockProcessor {
	p := &MockProcessor{
		name:    name,
		secret:  "mock_secret",
		latency: 50 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *MockProcessor) Name() string { return p.name }

func (p *MockProcessor) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	select {
	case <-time.After(p.latency):
	case <-ctx.Done():
		return nil, errors.NewGatewayError(errors.ErrGatewayUnavailable, p.name, "timeout", ctx.Err())
	}

	if rand.Float64() < p.failureRate {
		return nil, errors.NewGatewayError(errors.ErrGatewayUnavailable, p.name, "simulated outage", nil)
	}
	if rand.Float64() < p.rejectRate {
		return nil, errors.NewGatewayError(errors.ErrGatewayRejected, p.name, fmt.Sprintf("simulated rejection for %s", req.IdempotencyKey), nil)
	}

	ref := fmt.Sprintf("%s_order_%s", p.name, uuid.New().String()[:8])
	return &CreateOrderResult{
		GatewayOrderRef: ref,
		ClientPayload: map[string]any{
			"gateway":  p.name,
			"order_id": ref,
			"amount":   req.Amount,
			"currency": req.Currency,
		},
	}, nil
}

func (p *MockProcessor) VerifySignature(orderRef, paymentRef, signature string) bool {
	if orderRef == "" || paymentRef == "" || signature == "" {
		return false
	}
	return hmacEqual(p.Sign(orderRef, paymentRef), signature)
}

// Sign returns the payment signature a real checkout would hand the client.
func (p *MockProcessor) Sign(orderRef, paymentRef string) string {
	return PaymentSignature(p.secret, orderRef, paymentRef)
}

// MockWebhook is the body accepted by MockProcessor.ParseWebhook.
type MockWebhook struct {
	Event      string `json:"event"`
	OrderRef   string `json:"order_ref"`
	PaymentRef string `json:"payment_ref"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency,omitempty"`
}

// SignWebhook returns the header value that authenticates raw.
func (p *MockProcessor) SignWebhook(raw []byte) http.Header {
	h := http.Header{}
	h.Set(mockSignatureHeader, hmacHex([]byte(p.secret), raw))
	return h
}

func (p *MockProcessor) ParseWebhook(raw []byte, headers http.Header) (*WebhookEvent, error) {
	var wh MockWebhook
	if err := json.Unmarshal(raw, &wh); err != nil || wh.Event == "" {
		return nil, errors.NewValidationError("payload", "malformed mock webhook")
	}
	evt := &WebhookEvent{
		Gateway:         p.name,
		Name:            wh.Event,
		GatewayOrderRef: wh.OrderRef,
		PaymentRef:      wh.PaymentRef,
		Amount:          wh.Amount,
		Currency:        strings.ToUpper(wh.Currency),
		Signature:       headers.Get(mockSignatureHeader),
	}
	switch wh.Event {
	case "success":
		evt.Kind = payment.EventSuccess
	case "failure":
		evt.Kind = payment.EventFailure
	case "refund":
		evt.Kind = payment.EventRefund
	default:
		evt.Kind = payment.EventOther
	}
	if evt.Signature == "" || !hmacEqual(hmacHex([]byte(p.secret), raw), evt.Signature) {
		return evt, errors.NewGatewayError(errors.ErrInvalidSignature, p.name, "webhook signature mismatch", nil)
	}
	evt.Verified = true
	return evt, nil
}
