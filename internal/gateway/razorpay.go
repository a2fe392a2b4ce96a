package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/payment"
	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
)

// RazorpayName identifies the Razorpay adapter.
const RazorpayName = "razorpay"

const razorpaySignatureHeader = "X-Razorpay-Signature"

// RazorpayConfig carries the credentials of one Razorpay account.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

// Razorpay talks to the Razorpay orders API through the official SDK.
type Razorpay struct {
	cfg    RazorpayConfig
	client *http.Client
}

// NewRazorpay creates a Razorpay adapter. A nil client gets one with
// cfg.Timeout; its Transport and Timeout are used for every SDK call.
func NewRazorpay(cfg RazorpayConfig, client *http.Client) *Razorpay {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.razorpay.com"
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Razorpay{cfg: cfg, client: client}
}

func (p *Razorpay) Name() string { return RazorpayName }

// sdk builds an SDK client bound to ctx. The SDK takes no context, so ctx
// reaches the request through the transport.
func (p *Razorpay) sdk(ctx context.Context) *razorpay.Client {
	c := razorpay.NewClient(p.cfg.KeyID, p.cfg.KeySecret)
	c.Order.Request.BaseURL = strings.TrimRight(p.cfg.BaseURL, "/")
	c.Order.Request.HTTPClient = &http.Client{
		Transport: &razorpayTransport{ctx: ctx, base: p.client.Transport},
	}
	return c
}

// razorpayTransport binds requests to the caller's context and turns error
// statuses into classified gateway errors before the SDK sees them.
type razorpayTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *razorpayTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req.WithContext(t.ctx))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	return nil, classifyStatus(RazorpayName, resp.StatusCode, razorpayErrorReason(body))
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func razorpayErrorReason(body []byte) string {
	var e razorpayErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error.Description != "" {
		return e.Error.Description
	}
	return ""
}

// CreateOrder creates a Razorpay order. The idempotency key is sent as the
// receipt so a replayed attempt maps to the same order on their side.
func (p *Razorpay) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if p.client.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.client.Timeout)
		defer cancel()
	}

	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.IdempotencyKey,
	}
	if len(req.Metadata) > 0 {
		data["notes"] = req.Metadata
	}

	out, err := p.sdk(ctx).Order.Create(data, nil)
	if err != nil {
		var gwErr *errors.GatewayError
		if stderrors.As(err, &gwErr) {
			return nil, gwErr
		}
		return nil, errors.NewGatewayError(errors.ErrGatewayUnavailable, RazorpayName, "request failed", err)
	}

	id, _ := out["id"].(string)
	if id == "" {
		return nil, errors.NewGatewayError(errors.ErrGatewayUnavailable, RazorpayName, "malformed order response", nil)
	}
	amount, _ := out["amount"].(float64)
	currency, _ := out["currency"].(string)

	return &CreateOrderResult{
		GatewayOrderRef: id,
		ClientPayload: map[string]any{
			"gateway":  RazorpayName,
			"key_id":   p.cfg.KeyID,
			"order_id": id,
			"amount":   int64(amount),
			"currency": currency,
		},
	}, nil
}

// VerifySignature checks hex(HMAC_SHA256(key_secret, order_id|payment_id)).
func (p *Razorpay) VerifySignature(orderRef, paymentRef, signature string) bool {
	if orderRef == "" || paymentRef == "" || signature == "" {
		return false
	}
	return utils.VerifyPaymentSignature(map[string]interface{}{
		"razorpay_order_id":   orderRef,
		"razorpay_payment_id": paymentRef,
	}, signature, p.cfg.KeySecret)
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
				Amount    int64  `json:"amount"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

type razorpayPayment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// ParseWebhook verifies X-Razorpay-Signature = hex(HMAC_SHA256(webhook_secret, raw)).
func (p *Razorpay) ParseWebhook(raw []byte, headers http.Header) (*WebhookEvent, error) {
	var wh razorpayWebhook
	if err := json.Unmarshal(raw, &wh); err != nil || wh.Event == "" {
		return nil, errors.NewValidationError("payload", "malformed razorpay webhook")
	}

	evt := &WebhookEvent{
		Gateway:   RazorpayName,
		Name:      wh.Event,
		Signature: headers.Get(razorpaySignatureHeader),
	}
	if wh.Payload.Payment != nil {
		pay := wh.Payload.Payment.Entity
		evt.GatewayOrderRef = pay.OrderID
		evt.PaymentRef = pay.ID
		evt.Amount = pay.Amount
		evt.Currency = strings.ToUpper(pay.Currency)
	}

	switch wh.Event {
	case "payment.captured":
		evt.Kind = payment.EventSuccess
	case "payment.failed":
		evt.Kind = payment.EventFailure
	case "refund.processed":
		evt.Kind = payment.EventRefund
		if wh.Payload.Refund != nil {
			evt.Amount = wh.Payload.Refund.Entity.Amount
			if evt.PaymentRef == "" {
				evt.PaymentRef = wh.Payload.Refund.Entity.PaymentID
			}
		}
	default:
		evt.Kind = payment.EventOther
	}

	if evt.Signature == "" || !utils.VerifyWebhookSignature(string(raw), evt.Signature, p.cfg.WebhookSecret) {
		return evt, errors.NewGatewayError(errors.ErrInvalidSignature, RazorpayName, "webhook signature mismatch", nil)
	}
	evt.Verified = true
	return evt, nil
}
