// Package gateway adapts external payment gateways to a single capability set.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/google/uuid"
)

// Processor is implemented by every gateway adapter.
type Processor interface {
	// Name returns the gateway identifier stored on orders.
	Name() string
	// CreateOrder opens a checkout at the gateway.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error)
	// VerifySignature checks the payment signature returned to the client.
	VerifySignature(orderRef, paymentRef, signature string) bool
	// ParseWebhook verifies the transport signature and decodes the event.
	// On a bad signature the decoded claim is still returned, unverified,
	// together with an errors.ErrInvalidSignature gateway error.
	ParseWebhook(raw []byte, headers http.Header) (*WebhookEvent, error)
}

// CreateOrderRequest contains the data needed to open a gateway order.
type CreateOrderRequest struct {
	OrderID        uuid.UUID
	IdempotencyKey string
	Amount         int64 // minor units
	Currency       string
	Metadata       map[string]string
}

// CreateOrderResult is what the client needs to finish checkout.
type CreateOrderResult struct {
	GatewayOrderRef string
	ClientPayload   map[string]any
}

// WebhookEvent is a gateway callback normalized to the payment domain.
type WebhookEvent struct {
	Gateway         string
	Name            string
	Kind            payment.EventKind
	GatewayOrderRef string
	PaymentRef      string
	Amount          int64
	Currency        string
	Signature       string
	Verified        bool
}

func hmacHex(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacEqual(expectedHex, gotHex string) bool {
	return hmac.Equal([]byte(expectedHex), []byte(gotHex))
}

// PaymentSignature is the signature scheme shared by the adapters for
// client-side verification: hex(HMAC_SHA256(secret, orderRef|paymentRef)).
func PaymentSignature(secret, orderRef, paymentRef string) string {
	return hmacHex([]byte(secret), []byte(orderRef+"|"+paymentRef))
}

// classifyStatus maps an HTTP status from a gateway to an error kind.
// 5xx and 429 are retryable; other 4xx are rejections.
func classifyStatus(gateway string, status int, reason string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.NewGatewayError(errors.ErrGatewayUnavailable, gateway, fmt.Sprintf("status %d %s", status, reason), nil)
	default:
		return errors.NewGatewayError(errors.ErrGatewayRejected, gateway, fmt.Sprintf("status %d %s", status, reason), nil)
	}
}
