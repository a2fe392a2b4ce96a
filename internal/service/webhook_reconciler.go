package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	domainErrors "github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/cassiomorais/eventpay/internal/gateway"
	"github.com/cassiomorais/eventpay/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WebhookOutcome says what a delivery did to the order it claims.
type WebhookOutcome string

const (
	WebhookApplied         WebhookOutcome = "applied"
	WebhookDuplicate       WebhookOutcome = "duplicate"
	WebhookUnknownOrder    WebhookOutcome = "unknown_order"
	WebhookIgnored         WebhookOutcome = "ignored"
	WebhookRejected        WebhookOutcome = "rejected"
	WebhookCouponExhausted WebhookOutcome = "coupon_exhausted"
	WebhookMalformed       WebhookOutcome = "malformed"
)

// WebhookResult is returned for every delivery that was parsed.
type WebhookResult struct {
	Outcome       WebhookOutcome
	OrderID       *uuid.UUID
	TransactionID uuid.UUID
}

// WebhookReconciler applies gateway callbacks to orders. Deliveries may
// repeat or race the client callback; the order state machine absorbs both.
type WebhookReconciler struct {
	gateways     Gateways
	orders       payment.Repository
	transactions payment.TransactionRepository
	orderSvc     *OrderService
	audit        *AuditService
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

// NewWebhookReconciler creates a new WebhookReconciler.
func NewWebhookReconciler(
	gateways Gateways,
	orders payment.Repository,
	transactions payment.TransactionRepository,
	orderSvc *OrderService,
	auditSvc *AuditService,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *WebhookReconciler {
	return &WebhookReconciler{
		gateways:     gateways,
		orders:       orders,
		transactions: transactions,
		orderSvc:     orderSvc,
		audit:        auditSvc,
		logger:       logger.With().Str("component", "webhooks").Logger(),
		metrics:      metrics,
	}
}

// Handle verifies, records and applies one delivery. A nil error means the
// gateway should get a 2xx whatever the business outcome; errors are
// malformed payloads, bad signatures or infrastructure failures.
func (r *WebhookReconciler) Handle(ctx context.Context, gatewayName string, raw []byte, headers http.Header) (*WebhookResult, error) {
	processor, err := r.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}
	gatewayName = processor.Name()

	ev, parseErr := processor.ParseWebhook(raw, headers)
	sigErr := signatureError(parseErr)
	if parseErr != nil && (sigErr == nil || ev == nil) {
		r.metrics.ObserveWebhook(gatewayName, string(WebhookMalformed))
		r.audit.Record(ctx, audit.NewEntry(audit.EventWebhook, "webhook_malformed", audit.ResourceTransaction, payment.HashPayload(raw)).
			WithDetail(map[string]any{"gateway": gatewayName, "size": len(raw)}).
			Fail(parseErr.Error()))
		return nil, parseErr
	}

	o, err := r.orders.GetByGatewayRef(ctx, gatewayName, ev.GatewayOrderRef)
	if err != nil && !errors.Is(err, domainErrors.ErrOrderNotFound) {
		return nil, fmt.Errorf("lookup order: %w", err)
	}
	var orderID *uuid.UUID
	if o != nil {
		orderID = &o.ID
	}

	tx := payment.NewTransaction(orderID, gatewayName, ev.Kind, payment.SourceWebhook, raw)
	tx.GatewayOrderRef = ev.GatewayOrderRef
	tx.PaymentRef = ev.PaymentRef
	tx.Signature = ev.Signature
	tx.Amount = ev.Amount
	tx.Verified = ev.Verified && sigErr == nil
	if err := r.transactions.Append(ctx, tx); err != nil {
		return nil, fmt.Errorf("record webhook transaction: %w", err)
	}

	receipt := audit.NewEntry(audit.EventWebhook, "webhook_received", audit.ResourceTransaction, tx.ID.String()).
		WithDetail(map[string]any{
			"gateway":           gatewayName,
			"event":             ev.Name,
			"kind":              string(ev.Kind),
			"gateway_order_ref": ev.GatewayOrderRef,
			"payment_ref":       ev.PaymentRef,
			"amount":            ev.Amount,
			"verified":          tx.Verified,
			"payload_hash":      tx.PayloadHash,
		})
	if orderID != nil {
		receipt.WithDetail(map[string]any{"order_id": orderID.String()})
	}
	if sigErr != nil {
		receipt.Fail(sigErr.Error()).Flag()
	}
	r.audit.Record(ctx, receipt)

	result := &WebhookResult{OrderID: orderID, TransactionID: tx.ID}

	if sigErr != nil {
		r.logger.Warn().
			Str("gateway", gatewayName).
			Str("gateway_order_ref", ev.GatewayOrderRef).
			Str("transaction_id", tx.ID.String()).
			Msg("Webhook signature rejected")
		if o != nil && o.Status == payment.StatusAwaitingPayment {
			_, _ = r.apply(ctx, r.orderSvc.Fail, o, Trigger{
				Origin:        "webhook",
				TransactionID: &tx.ID,
				PaymentRef:    ev.PaymentRef,
				Reason:        "invalid webhook signature",
				Security:      true,
			})
		}
		result.Outcome = WebhookRejected
		r.metrics.ObserveWebhook(gatewayName, string(result.Outcome))
		return result, sigErr
	}

	if o == nil {
		r.logger.Warn().
			Str("gateway", gatewayName).
			Str("gateway_order_ref", ev.GatewayOrderRef).
			Msg("Webhook for unknown order")
		result.Outcome = WebhookUnknownOrder
		r.metrics.ObserveWebhook(gatewayName, string(result.Outcome))
		return result, nil
	}

	trigger := Trigger{Origin: "webhook", TransactionID: &tx.ID, PaymentRef: ev.PaymentRef}
	var applyErr error
	switch ev.Kind {
	case payment.EventSuccess:
		if reason := settlementMismatch(o, ev); reason != "" {
			trigger.Reason = reason
			trigger.Security = true
			result.Outcome, applyErr = r.apply(ctx, r.orderSvc.Fail, o, trigger)
			if result.Outcome == WebhookApplied {
				result.Outcome = WebhookRejected
			}
			break
		}
		result.Outcome, applyErr = r.apply(ctx, r.orderSvc.Confirm, o, trigger)
	case payment.EventFailure:
		trigger.Reason = "gateway reported failure"
		result.Outcome, applyErr = r.apply(ctx, r.orderSvc.Fail, o, trigger)
	case payment.EventRefund:
		r.logger.Info().
			Str("order_id", o.ID.String()).
			Str("payment_ref", ev.PaymentRef).
			Msg("Refund notification recorded")
		result.Outcome = WebhookIgnored
	default:
		result.Outcome = WebhookIgnored
	}

	if applyErr != nil {
		r.metrics.ObserveWebhook(gatewayName, "error")
		return result, applyErr
	}
	r.metrics.ObserveWebhook(gatewayName, string(result.Outcome))
	return result, nil
}

// settlementMismatch compares what the gateway says was paid with the
// order. Every adapter reports the captured amount on success, so a zero
// amount is a mismatch. Currency is compared when the gateway reports one.
func settlementMismatch(o *payment.Order, ev *gateway.WebhookEvent) string {
	if ev.Amount != o.Amount {
		return fmt.Sprintf("amount mismatch: order %d, webhook %d", o.Amount, ev.Amount)
	}
	if ev.Currency != "" && !strings.EqualFold(ev.Currency, o.Currency) {
		return fmt.Sprintf("currency mismatch: order %s, webhook %s", o.Currency, ev.Currency)
	}
	return ""
}

type transitionFunc func(ctx context.Context, orderID uuid.UUID, t Trigger) (*TransitionResult, error)

// apply runs a transition and folds business errors into an outcome. The
// returned error is an infrastructure failure the gateway should retry.
func (r *WebhookReconciler) apply(ctx context.Context, fn transitionFunc, o *payment.Order, t Trigger) (WebhookOutcome, error) {
	res, err := fn(ctx, o.ID, t)
	if err == nil {
		if res.Duplicate {
			return WebhookDuplicate, nil
		}
		return WebhookApplied, nil
	}

	var couponErr *domainErrors.CouponError
	var stateErr *domainErrors.StateError
	switch {
	case errors.As(err, &couponErr):
		return WebhookCouponExhausted, nil
	case errors.As(err, &stateErr):
		return WebhookIgnored, nil
	}

	r.logger.Error().Err(err).Str("order_id", o.ID.String()).Msg("Failed to apply webhook")
	return "", err
}

func signatureError(err error) error {
	var gwErr *domainErrors.GatewayError
	if errors.As(err, &gwErr) && errors.Is(gwErr.Kind, domainErrors.ErrInvalidSignature) {
		return gwErr
	}
	return nil
}

var _ Gateways = (*gateway.Registry)(nil)
