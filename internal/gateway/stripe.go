package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/webhook"
)

// StripeName identifies the Stripe adapter.
const StripeName = "stripe"

const stripeSignatureHeader = "Stripe-Signature"

// StripeConfig carries the credentials of one Stripe account.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

// Stripe creates PaymentIntents and verifies Stripe webhooks.
type Stripe struct {
	cfg     StripeConfig
	intents paymentintent.Client
}

// NewStripe creates a Stripe adapter with its own backend. Nothing is set on
// the stripe package globals.
func NewStripe(cfg StripeConfig, client *http.Client) *Stripe {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        client,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.BaseURL, "/"))
	}
	return &Stripe{
		cfg: cfg,
		intents: paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
	}
}

func (p *Stripe) Name() string { return StripeName }

// CreateOrder creates a PaymentIntent keyed by the order idempotency key.
func (p *Stripe) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("order_id", req.OrderID.String())

	pi, err := p.intents.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	return &CreateOrderResult{
		GatewayOrderRef: pi.ID,
		ClientPayload: map[string]any{
			"gateway":       StripeName,
			"intent_id":     pi.ID,
			"client_secret": pi.ClientSecret,
			"amount":        req.Amount,
			"currency":      req.Currency,
		},
	}, nil
}

func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if stderrors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == 0 {
			return errors.NewGatewayError(errors.ErrGatewayUnavailable, StripeName, stripeErr.Msg, err)
		}
		return classifyStatus(StripeName, stripeErr.HTTPStatusCode, stripeErr.Msg)
	}
	return errors.NewGatewayError(errors.ErrGatewayUnavailable, StripeName, "request failed", err)
}

// VerifySignature checks hex(HMAC_SHA256(secret_key, intent_id|charge_id)).
func (p *Stripe) VerifySignature(orderRef, paymentRef, signature string) bool {
	if orderRef == "" || paymentRef == "" || signature == "" {
		return false
	}
	return hmacEqual(PaymentSignature(p.cfg.SecretKey, orderRef, paymentRef), signature)
}

type stripeCharge struct {
	ID             string          `json:"id"`
	Amount         int64           `json:"amount"`
	AmountRefunded int64           `json:"amount_refunded"`
	Currency       string          `json:"currency"`
	PaymentIntent  json.RawMessage `json:"payment_intent"`
}

// intentID reads payment_intent whether it is expanded or not.
func (c stripeCharge) intentID() string {
	var id string
	if json.Unmarshal(c.PaymentIntent, &id) == nil {
		return id
	}
	var pi struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(c.PaymentIntent, &pi) == nil {
		return pi.ID
	}
	return ""
}

// ParseWebhook verifies the Stripe-Signature header and maps the event.
func (p *Stripe) ParseWebhook(raw []byte, headers http.Header) (*WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(raw, &event); err != nil || event.Type == "" || event.Data == nil {
		return nil, errors.NewValidationError("payload", "malformed stripe webhook")
	}

	evt := &WebhookEvent{
		Gateway:   StripeName,
		Name:      string(event.Type),
		Signature: headers.Get(stripeSignatureHeader),
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, errors.NewValidationError("payload", "malformed payment intent")
		}
		evt.GatewayOrderRef = pi.ID
		evt.Amount = pi.Amount
		evt.Currency = strings.ToUpper(string(pi.Currency))
		if pi.LatestCharge != nil {
			evt.PaymentRef = pi.LatestCharge.ID
		}
		evt.Kind = payment.EventSuccess
		if event.Type == "payment_intent.payment_failed" {
			evt.Kind = payment.EventFailure
		}
	case "charge.refunded":
		var ch stripeCharge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, errors.NewValidationError("payload", "malformed charge")
		}
		evt.Kind = payment.EventRefund
		evt.GatewayOrderRef = ch.intentID()
		evt.PaymentRef = ch.ID
		evt.Amount = ch.AmountRefunded
		evt.Currency = strings.ToUpper(ch.Currency)
	default:
		evt.Kind = payment.EventOther
	}

	if err := webhook.ValidatePayload(raw, evt.Signature, p.cfg.WebhookSecret); err != nil {
		return evt, errors.NewGatewayError(errors.ErrInvalidSignature, StripeName, "webhook signature mismatch", err)
	}
	evt.Verified = true
	return evt, nil
}
