package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	"github.com/cassiomorais/eventpay/internal/domain/coupon"
	domainErrors "github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/outbox"
	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
	"github.com/cassiomorais/eventpay/internal/gateway"
	"github.com/cassiomorais/eventpay/internal/infrastructure/observability"
	"github.com/cassiomorais/eventpay/pkg/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Gateways resolves payment processors by name. *gateway.Registry satisfies it.
type Gateways interface {
	Default() string
	Get(name string) (gateway.Processor, error)
	CreateOrder(ctx context.Context, name string, req gateway.CreateOrderRequest) (*gateway.CreateOrderResult, error)
}

// OrderDeps groups the collaborators of OrderService.
type OrderDeps struct {
	Orders        payment.Repository
	Transactions  payment.TransactionRepository
	Coupons       coupon.Repository
	Registrations registration.Repository
	Events        registration.EventRepository
	Outbox        outbox.Repository
	TxManager     TransactionManager
	Gateways      Gateways
	Audit         *AuditService
	Logger        zerolog.Logger
	Metrics       *observability.Metrics
}

// OrderConfig tunes order creation and expiry.
type OrderConfig struct {
	Currency      string
	OrderTimeout  time.Duration
	CreateTimeout time.Duration
	CreateRetry   retry.Config
}

// OrderService drives payment orders through their state machine.
type OrderService struct {
	OrderDeps
	cfg      OrderConfig
	resolver *coupon.Resolver
	now      func() time.Time
}

// NewOrderService creates a new OrderService.
func NewOrderService(deps OrderDeps, cfg OrderConfig) *OrderService {
	deps.Logger = deps.Logger.With().Str("component", "orders").Logger()
	return &OrderService{
		OrderDeps: deps,
		cfg:       cfg,
		resolver:  coupon.NewResolver(deps.Coupons),
		now:       time.Now,
	}
}

// WithClock overrides the clock used for expiry and coupon validity.
func (s *OrderService) WithClock(now func() time.Time) *OrderService {
	s.now = now
	s.resolver.WithClock(now)
	return s
}

// CreateOrderRequest holds the input for opening a payment order.
type CreateOrderRequest struct {
	RegistrationID uuid.UUID
	CouponCode     string
	Gateway        string
}

// Trigger describes what caused a transition.
type Trigger struct {
	Origin        string // client, webhook, sweeper, create_order
	TransactionID *uuid.UUID
	PaymentRef    string
	Reason        string
	Security      bool
}

// TransitionResult is the order after a transition request. Duplicate is set
// when the order was already terminal and nothing changed.
type TransitionResult struct {
	Order     *payment.Order
	Duplicate bool
}

// GetOrder returns an order by ID.
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*payment.Order, error) {
	return s.Orders.GetByID(ctx, id)
}

// PreviewFee resolves the fee a registration would pay with code.
func (s *OrderService) PreviewFee(ctx context.Context, registrationID uuid.UUID, code string) (coupon.ResolvedFee, error) {
	reg, err := s.Registrations.GetByID(ctx, registrationID)
	if err != nil {
		return coupon.ResolvedFee{}, err
	}
	fee, _, err := s.resolveFee(ctx, reg, code)
	return fee, err
}

func (s *OrderService) resolveFee(ctx context.Context, reg *registration.Registration, code string) (coupon.ResolvedFee, *registration.Event, error) {
	event, err := s.Events.GetByID(ctx, reg.EventID)
	if err != nil {
		return coupon.ResolvedFee{}, nil, err
	}

	fee, err := s.resolver.Resolve(ctx, code, event.Fee(), coupon.Context{
		RegistrationType: reg.Type,
		EventID:          reg.EventID,
	})

	normalized := coupon.NormalizeCode(code)
	if err != nil {
		var couponErr *domainErrors.CouponError
		if errors.As(err, &couponErr) {
			s.Metrics.ObserveCoupon(couponResultLabel(err))
			s.Audit.Record(ctx, audit.NewEntry(audit.EventCoupon, "coupon_rejected", audit.ResourceRegistration, reg.ID.String()).
				WithDetail(map[string]any{"coupon": normalized, "base_amount": event.Fee()}).
				Fail(couponErr.Error()))
		}
		return coupon.ResolvedFee{}, nil, err
	}

	switch {
	case fee.FeeWaiver != "":
		s.Metrics.ObserveCoupon("fee_waiver")
		s.Audit.Record(ctx, audit.NewEntry(audit.EventCoupon, "fee_waived", audit.ResourceRegistration, reg.ID.String()).
			WithDetail(map[string]any{"fee_waiver": fee.FeeWaiver, "base_amount": fee.BaseAmount, "ignored_coupon": normalized}))
	case fee.Coupon != nil:
		s.Metrics.ObserveCoupon("applied")
		s.Audit.Record(ctx, audit.NewEntry(audit.EventCoupon, "coupon_applied", audit.ResourceRegistration, reg.ID.String()).
			WithDetail(map[string]any{
				"coupon":       fee.Coupon.Code,
				"coupon_id":    fee.Coupon.ID.String(),
				"base_amount":  fee.BaseAmount,
				"discount":     fee.Discount,
				"final_amount": fee.FinalAmount,
			}))
	default:
		s.Metrics.ObserveCoupon("none")
	}
	return fee, event, nil
}

func couponResultLabel(err error) string {
	switch {
	case errors.Is(err, domainErrors.ErrCouponNotFound):
		return "not_found"
	case errors.Is(err, domainErrors.ErrCouponExpired):
		return "expired"
	case errors.Is(err, domainErrors.ErrCouponNotApplicable):
		return "not_applicable"
	case errors.Is(err, domainErrors.ErrCouponExhausted):
		return "exhausted"
	default:
		return "error"
	}
}

// CreateOrder opens a payment order for a registration, or returns the one
// already awaiting payment. Zero-amount fees confirm immediately without a gateway.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*payment.Order, error) {
	reg, err := s.Registrations.GetByID(ctx, req.RegistrationID)
	if err != nil {
		return nil, err
	}
	if reg.IsErased() {
		return nil, domainErrors.ErrRegistrationErased
	}
	if reg.Status == registration.StatusConfirmed {
		return nil, domainErrors.ErrRegistrationConfirmed
	}

	active, err := s.Orders.GetActiveByRegistration(ctx, reg.ID)
	if err != nil && !errors.Is(err, domainErrors.ErrOrderNotFound) {
		return nil, err
	}
	if active != nil {
		if !active.IsExpired(s.now(), s.cfg.OrderTimeout) {
			return active, nil
		}
		if _, err := s.Expire(ctx, active.ID); err != nil {
			return nil, fmt.Errorf("expire stale order: %w", err)
		}
	}

	fee, event, err := s.resolveFee(ctx, reg, req.CouponCode)
	if err != nil {
		return nil, err
	}

	latest, err := s.Orders.LatestAttempt(ctx, reg.ID)
	if err != nil {
		return nil, err
	}

	currency := event.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	o, err := payment.NewOrder(reg.ID, latest+1, fee.BaseAmount, fee.Discount, currency)
	if err != nil {
		return nil, err
	}
	if fee.Coupon != nil {
		o.SetCoupon(fee.Coupon.ID, fee.Coupon.Code)
	}
	o.FeeWaiver = fee.FeeWaiver

	if o.IsZeroAmount() {
		return s.confirmZero(ctx, reg, o)
	}
	return s.openGatewayOrder(ctx, reg, o, req.Gateway)
}

func (s *OrderService) confirmZero(ctx context.Context, reg *registration.Registration, o *payment.Order) (*payment.Order, error) {
	if err := o.MarkConfirmed(); err != nil {
		return nil, err
	}

	err := s.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.Orders.Create(txCtx, o); err != nil {
			return err
		}
		if err := s.redeemCoupon(txCtx, o); err != nil {
			return err
		}
		if err := s.Registrations.MarkConfirmed(txCtx, o.RegistrationID); err != nil {
			return err
		}
		return s.Outbox.Insert(txCtx, outbox.NewNotificationEntry(outbox.EventRegistrationConfirmed, notificationFor(reg, o, "confirmed")))
	})
	if err != nil {
		s.Audit.Record(ctx, audit.NewEntry(audit.EventPayment, "order_confirmed", audit.ResourceRegistration, reg.ID.String()).
			WithDetail(map[string]any{"amount": int64(0), "coupon": o.CouponCode, "attempt": o.Attempt}).
			Fail(err.Error()))
		return nil, err
	}

	detail := map[string]any{
		"amount": int64(0),
		"coupon": o.CouponCode,
		"from":   string(payment.StatusCreated),
		"to":     string(payment.StatusConfirmed),
	}
	if o.FeeWaiver != "" {
		detail["fee_waiver"] = o.FeeWaiver
	}
	s.Audit.Record(ctx, audit.NewEntry(audit.EventPayment, "order_confirmed", audit.ResourceOrder, o.ID.String()).WithDetail(detail))
	s.Metrics.ObserveOrderCreated("none", "zero_amount")
	s.Metrics.ObserveTransition(string(payment.StatusCreated), string(payment.StatusConfirmed))

	s.Logger.Info().
		Str("order_id", o.ID.String()).
		Str("registration_id", reg.ID.String()).
		Str("coupon", o.CouponCode).
		Msg("Zero-amount order confirmed")
	return o, nil
}

func (s *OrderService) openGatewayOrder(ctx context.Context, reg *registration.Registration, o *payment.Order, gatewayName string) (*payment.Order, error) {
	if gatewayName == "" {
		gatewayName = s.Gateways.Default()
	}
	if _, err := s.Gateways.Get(gatewayName); err != nil {
		return nil, err
	}

	result, err := s.createGatewayOrder(ctx, gatewayName, o)
	if err != nil {
		// No row is written: the next attempt reuses this attempt number and
		// idempotency key, so the gateway deduplicates an order it did create.
		s.Audit.Record(ctx, audit.NewEntry(audit.EventPayment, "order_create_failed", audit.ResourceRegistration, reg.ID.String()).
			WithDetail(map[string]any{
				"gateway":         gatewayName,
				"attempt":         o.Attempt,
				"idempotency_key": o.IdempotencyKey,
				"amount":          o.Amount,
				"retryable":       domainErrors.IsRetryable(err),
			}).
			Fail(err.Error()))
		s.Logger.Warn().Err(err).
			Str("registration_id", reg.ID.String()).
			Str("gateway", gatewayName).
			Msg("Gateway order creation failed")
		return nil, err
	}

	if err := o.MarkAwaitingPayment(gatewayName, result.GatewayOrderRef, result.ClientPayload); err != nil {
		return nil, err
	}

	if err := s.Orders.Create(ctx, o); err != nil {
		if errors.Is(err, domainErrors.ErrActiveOrderExists) || errors.Is(err, domainErrors.ErrDuplicateIdempotencyKey) {
			// A concurrent request opened the order first.
			existing, getErr := s.Orders.GetActiveByRegistration(ctx, reg.ID)
			if getErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	s.recordTransition(ctx, o, payment.StatusCreated, Trigger{Origin: "create_order"})
	s.Metrics.ObserveOrderCreated(gatewayName, "gateway")
	return o, nil
}

func (s *OrderService) createGatewayOrder(ctx context.Context, gatewayName string, o *payment.Order) (*gateway.CreateOrderResult, error) {
	cfg := s.cfg.CreateRetry
	cfg.RetryIf = domainErrors.IsRetryable
	cfg.OnRetry = func(attempt uint, err error) {
		s.Metrics.ObserveGatewayRetry(gatewayName)
		s.Logger.Warn().Err(err).
			Uint("attempt", attempt+1).
			Str("order_id", o.ID.String()).
			Msg("Retrying gateway order creation")
	}

	req := gateway.CreateOrderRequest{
		OrderID:        o.ID,
		IdempotencyKey: o.IdempotencyKey,
		Amount:         o.Amount,
		Currency:       o.Currency,
		Metadata: map[string]string{
			"registration_id": o.RegistrationID.String(),
			"attempt":         fmt.Sprintf("%d", o.Attempt),
		},
	}

	return retry.DoWithResult(ctx, cfg, func() (*gateway.CreateOrderResult, error) {
		callCtx := ctx
		if s.cfg.CreateTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.cfg.CreateTimeout)
			defer cancel()
		}

		start := time.Now()
		result, err := s.Gateways.CreateOrder(callCtx, gatewayName, req)
		label := "success"
		if err != nil {
			label = "error"
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !domainErrors.IsRetryable(err) {
				err = domainErrors.NewGatewayError(domainErrors.ErrGatewayUnavailable, gatewayName, "timeout", err)
			}
		}
		s.Metrics.ObserveGatewayCall(gatewayName, label, time.Since(start).Seconds())
		return result, err
	})
}

// VerifyPayment handles the client callback after checkout. A bad signature
// fails the order and is flagged in the audit trail.
func (s *OrderService) VerifyPayment(ctx context.Context, orderID uuid.UUID, paymentRef, signature string) (*TransitionResult, error) {
	o, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Gateway == "" {
		return nil, domainErrors.NewStateError(domainErrors.ErrInvalidStateTransition, string(o.Status), string(payment.StatusConfirmed))
	}

	processor, err := s.Gateways.Get(o.Gateway)
	if err != nil {
		return nil, err
	}
	valid := processor.VerifySignature(o.GatewayOrderRef, paymentRef, signature)

	tx := payment.NewTransaction(&o.ID, o.Gateway, payment.EventSuccess, payment.SourceClient, []byte(o.GatewayOrderRef+"|"+paymentRef+"|"+signature))
	tx.GatewayOrderRef = o.GatewayOrderRef
	tx.PaymentRef = paymentRef
	tx.Signature = signature
	tx.Amount = o.Amount
	tx.Verified = valid
	if err := s.Transactions.Append(ctx, tx); err != nil {
		return nil, fmt.Errorf("record client transaction: %w", err)
	}

	if !valid {
		if _, failErr := s.Fail(ctx, o.ID, Trigger{
			Origin:        "client",
			TransactionID: &tx.ID,
			PaymentRef:    paymentRef,
			Reason:        "payment signature mismatch",
			Security:      true,
		}); failErr != nil {
			s.Logger.Error().Err(failErr).Str("order_id", o.ID.String()).Msg("Failed to fail order after signature mismatch")
		}
		return nil, domainErrors.NewGatewayError(domainErrors.ErrSignatureMismatch, o.Gateway, "client callback", nil)
	}

	return s.Confirm(ctx, o.ID, Trigger{Origin: "client", TransactionID: &tx.ID, PaymentRef: paymentRef})
}

// Confirm moves an order to confirmed, redeeming its coupon, confirming the
// registration and queueing the notification in one transaction.
func (s *OrderService) Confirm(ctx context.Context, orderID uuid.UUID, t Trigger) (*TransitionResult, error) {
	res, err := s.transition(ctx, orderID, payment.StatusConfirmed, t)
	if err == nil || !errors.Is(err, domainErrors.ErrCouponExhausted) {
		return res, err
	}

	// The last slot went to another registration between resolve and confirm.
	s.Logger.Error().Err(err).
		Str("order_id", orderID.String()).
		Str("payment_ref", t.PaymentRef).
		Msg("Coupon exhausted at confirmation, payment captured and needs a refund")
	if _, failErr := s.transition(ctx, orderID, payment.StatusFailed, Trigger{
		Origin:        t.Origin,
		TransactionID: t.TransactionID,
		PaymentRef:    t.PaymentRef,
		Reason:        "coupon exhausted",
	}); failErr != nil {
		s.Logger.Error().Err(failErr).Str("order_id", orderID.String()).Msg("Failed to fail order after coupon exhaustion")
	}
	return nil, err
}

// Fail moves an order awaiting payment to failed.
func (s *OrderService) Fail(ctx context.Context, orderID uuid.UUID, t Trigger) (*TransitionResult, error) {
	return s.transition(ctx, orderID, payment.StatusFailed, t)
}

// Expire moves an order awaiting payment to expired.
func (s *OrderService) Expire(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error) {
	return s.transition(ctx, orderID, payment.StatusExpired, Trigger{Origin: "sweeper", Reason: "payment window elapsed"})
}

// ExpireStale expires up to limit orders whose payment window elapsed and
// returns how many it expired.
func (s *OrderService) ExpireStale(ctx context.Context, limit int) (int, error) {
	cutoff := s.now().Add(-s.cfg.OrderTimeout)
	stale, err := s.Orders.ListAwaitingBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale orders: %w", err)
	}

	expired := 0
	for _, o := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		res, err := s.Expire(ctx, o.ID)
		if err != nil {
			s.Logger.Error().Err(err).Str("order_id", o.ID.String()).Msg("Failed to expire order")
			continue
		}
		if !res.Duplicate {
			expired++
		}
	}
	return expired, nil
}

func (s *OrderService) transition(ctx context.Context, orderID uuid.UUID, to payment.Status, t Trigger) (*TransitionResult, error) {
	o, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.IsTerminal() {
		return s.duplicate(ctx, o, to, t), nil
	}

	reg, err := s.Registrations.GetByID(ctx, o.RegistrationID)
	if err != nil {
		return nil, err
	}

	from := o.Status
	next := *o
	err = s.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var eventType, outcome string
		switch to {
		case payment.StatusConfirmed:
			if err := next.MarkConfirmed(); err != nil {
				return err
			}
			eventType, outcome = outbox.EventRegistrationConfirmed, "confirmed"
		case payment.StatusFailed:
			if err := next.MarkFailed(t.Reason); err != nil {
				return err
			}
			eventType, outcome = outbox.EventPaymentFailed, "failed"
		case payment.StatusExpired:
			if err := next.MarkExpired(); err != nil {
				return err
			}
			eventType, outcome = outbox.EventPaymentExpired, "expired"
		default:
			return domainErrors.NewStateError(domainErrors.ErrInvalidStateTransition, string(from), string(to))
		}

		if err := s.Orders.UpdateStatus(txCtx, &next, from); err != nil {
			return err
		}
		if to == payment.StatusConfirmed {
			if err := s.redeemCoupon(txCtx, &next); err != nil {
				return err
			}
			if err := s.Registrations.MarkConfirmed(txCtx, next.RegistrationID); err != nil {
				return err
			}
		}
		return s.Outbox.Insert(txCtx, outbox.NewNotificationEntry(eventType, notificationFor(reg, &next, outcome)))
	})

	if err != nil {
		if errors.Is(err, domainErrors.ErrConcurrentModification) {
			current, getErr := s.Orders.GetByID(ctx, orderID)
			if getErr == nil && current.IsTerminal() {
				return s.duplicate(ctx, current, to, t), nil
			}
		}
		var stateErr *domainErrors.StateError
		if errors.As(err, &stateErr) {
			s.Logger.Error().Err(err).
				Str("order_id", orderID.String()).
				Str("origin", t.Origin).
				Msg("Rejected order transition")
		}
		return nil, err
	}

	s.recordTransition(ctx, &next, from, t)
	return &TransitionResult{Order: &next}, nil
}

func (s *OrderService) redeemCoupon(ctx context.Context, o *payment.Order) error {
	if o.CouponID == nil {
		return nil
	}
	if err := s.Coupons.IncrementRedemption(ctx, *o.CouponID); err != nil {
		if errors.Is(err, domainErrors.ErrCouponExhausted) {
			return domainErrors.NewCouponError(domainErrors.ErrCouponExhausted, o.CouponCode)
		}
		return fmt.Errorf("redeem coupon: %w", err)
	}
	return nil
}

// duplicate records a transition request that lost to an earlier one.
func (s *OrderService) duplicate(ctx context.Context, o *payment.Order, requested payment.Status, t Trigger) *TransitionResult {
	resourceType, resourceID := audit.ResourceOrder, o.ID.String()
	if t.TransactionID != nil {
		resourceType, resourceID = audit.ResourceTransaction, t.TransactionID.String()
	}
	s.Audit.Record(ctx, audit.NewEntry(audit.EventPayment, "transition_duplicate", resourceType, resourceID).
		WithDetail(map[string]any{
			"order_id":    o.ID.String(),
			"status":      string(o.Status),
			"requested":   string(requested),
			"origin":      t.Origin,
			"payment_ref": t.PaymentRef,
		}))
	s.Logger.Info().
		Str("order_id", o.ID.String()).
		Str("status", string(o.Status)).
		Str("requested", string(requested)).
		Str("origin", t.Origin).
		Msg("Duplicate transition ignored")
	return &TransitionResult{Order: o, Duplicate: true}
}

func (s *OrderService) recordTransition(ctx context.Context, o *payment.Order, from payment.Status, t Trigger) {
	detail := map[string]any{
		"from":    string(from),
		"to":      string(o.Status),
		"amount":  o.Amount,
		"attempt": o.Attempt,
		"gateway": o.Gateway,
		"origin":  t.Origin,
	}
	if o.CouponCode != "" {
		detail["coupon"] = o.CouponCode
	}
	if o.GatewayOrderRef != "" {
		detail["gateway_order_ref"] = o.GatewayOrderRef
	}
	if t.TransactionID != nil {
		detail["transaction_id"] = t.TransactionID.String()
	}
	if t.PaymentRef != "" {
		detail["payment_ref"] = t.PaymentRef
	}

	e := audit.NewEntry(audit.EventPayment, "order_"+string(o.Status), audit.ResourceOrder, o.ID.String()).WithDetail(detail)
	if o.Status == payment.StatusFailed {
		e.Fail(t.Reason)
	} else if t.Reason != "" {
		e.WithDetail(map[string]any{"reason": t.Reason})
	}
	if t.Security {
		e.Flag()
	}
	s.Audit.Record(ctx, e)
	s.Metrics.ObserveTransition(string(from), string(o.Status))

	s.Logger.Info().
		Str("order_id", o.ID.String()).
		Str("from", string(from)).
		Str("to", string(o.Status)).
		Str("origin", t.Origin).
		Msg("Order transitioned")
}

func notificationFor(reg *registration.Registration, o *payment.Order, outcome string) outbox.Notification {
	return outbox.Notification{
		RegistrationID:   reg.ID,
		RegistrationCode: reg.Code,
		OrderID:          o.ID,
		Outcome:          outcome,
		Amount:           o.Amount,
		Currency:         o.Currency,
		Email:            reg.Email,
		Mobile:           reg.Mobile,
		FullName:         reg.FullName,
	}
}
