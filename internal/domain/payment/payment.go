package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/google/uuid"
)

// Status represents the order status in the state machine
type Status string

const (
	StatusCreated         Status = "created"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusConfirmed       Status = "confirmed"
	StatusFailed          Status = "failed"
	StatusExpired         Status = "expired"
)

var transitions = map[Status][]Status{
	StatusCreated: {
		StatusAwaitingPayment,
		StatusConfirmed, // zero amount only
	},
	StatusAwaitingPayment: {
		StatusConfirmed,
		StatusFailed,
		StatusExpired,
	},
	StatusConfirmed: {}, // Terminal state
	StatusFailed:    {}, // Terminal state
	StatusExpired:   {}, // Terminal state
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusExpired
}

// Order is one attempt to collect a registration fee through a gateway.
type Order struct {
	ID              uuid.UUID
	RegistrationID  uuid.UUID
	Attempt         int
	IdempotencyKey  string
	BaseAmount      int64
	Discount        int64
	Amount          int64 // minor units
	Currency        string
	CouponID        *uuid.UUID
	CouponCode      string
	FeeWaiver       string
	Gateway         string
	GatewayOrderRef string
	ClientPayload   map[string]any
	Status          Status
	Version         int
	LastError       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// IdempotencyKeyFor derives the order idempotency key from registration and attempt.
func IdempotencyKeyFor(registrationID uuid.UUID, attempt int) string {
	return fmt.Sprintf("reg_%s_attempt_%d", registrationID, attempt)
}

// NewOrder creates an order in the created state
func NewOrder(registrationID uuid.UUID, attempt int, baseAmount, discount int64, currency string) (*Order, error) {
	if attempt < 1 {
		return nil, errors.NewValidationError("attempt", "must be at least 1")
	}
	if baseAmount < 0 {
		return nil, errors.NewValidationError("base_amount", "cannot be negative")
	}
	if discount < 0 || discount > baseAmount {
		return nil, errors.NewValidationError("discount", "must be between 0 and base amount")
	}
	if len(currency) != 3 {
		return nil, errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}

	now := time.Now()
	return &Order{
		ID:             uuid.New(),
		RegistrationID: registrationID,
		Attempt:        attempt,
		IdempotencyKey: IdempotencyKeyFor(registrationID, attempt),
		BaseAmount:     baseAmount,
		Discount:       discount,
		Amount:         baseAmount - discount,
		Currency:       currency,
		Status:         StatusCreated,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// SetCoupon records the coupon that produced the discount.
func (o *Order) SetCoupon(id uuid.UUID, code string) {
	o.CouponID = &id
	o.CouponCode = code
}

// IsZeroAmount reports whether the order needs no gateway.
func (o *Order) IsZeroAmount() bool {
	return o.Amount == 0
}

// CanTransitionTo checks if the order can transition to the given status
func (o *Order) CanTransitionTo(newStatus Status) bool {
	if o.Status == StatusCreated && newStatus == StatusConfirmed && !o.IsZeroAmount() {
		return false
	}
	if o.Status == StatusCreated && newStatus == StatusAwaitingPayment && o.IsZeroAmount() {
		return false
	}
	for _, allowed := range transitions[o.Status] {
		if allowed == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo transitions the order to a new status and bumps its version.
func (o *Order) TransitionTo(newStatus Status) error {
	if !o.CanTransitionTo(newStatus) {
		return errors.NewStateError(errors.ErrInvalidStateTransition, string(o.Status), string(newStatus))
	}

	now := time.Now()
	o.Status = newStatus
	o.Version++
	o.UpdatedAt = now
	if newStatus.IsTerminal() {
		o.CompletedAt = &now
	}
	return nil
}

// MarkAwaitingPayment records the gateway order and waits for payment.
func (o *Order) MarkAwaitingPayment(gateway, gatewayOrderRef string, clientPayload map[string]any) error {
	if err := o.TransitionTo(StatusAwaitingPayment); err != nil {
		return err
	}
	o.Gateway = gateway
	o.GatewayOrderRef = gatewayOrderRef
	o.ClientPayload = clientPayload
	return nil
}

// MarkConfirmed transitions the order to confirmed status
func (o *Order) MarkConfirmed() error {
	return o.TransitionTo(StatusConfirmed)
}

// MarkFailed transitions the order to failed status
func (o *Order) MarkFailed(reason string) error {
	if err := o.TransitionTo(StatusFailed); err != nil {
		return err
	}
	o.LastError = &reason
	return nil
}

// MarkExpired transitions the order to expired status
func (o *Order) MarkExpired() error {
	return o.TransitionTo(StatusExpired)
}

// IsTerminal checks if the order is in a terminal state
func (o *Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// IsExpired reports whether an order awaiting payment has outlived timeout.
func (o *Order) IsExpired(now time.Time, timeout time.Duration) bool {
	return o.Status == StatusAwaitingPayment && !now.Before(o.CreatedAt.Add(timeout))
}

// EventKind is the normalized outcome a gateway reports.
type EventKind string

const (
	EventSuccess EventKind = "success"
	EventFailure EventKind = "failure"
	EventRefund  EventKind = "refund"
	EventOther   EventKind = "other"
)

// Source says who reported a transaction.
type Source string

const (
	SourceClient  Source = "client"
	SourceWebhook Source = "webhook"
)

// Transaction is an immutable record of a gateway-reported payment event.
type Transaction struct {
	ID              uuid.UUID
	OrderID         *uuid.UUID
	Gateway         string
	Kind            EventKind
	GatewayOrderRef string
	PaymentRef      string
	Signature       string
	PayloadHash     string
	Amount          int64
	Verified        bool
	Source          Source
	ReceivedAt      time.Time
}

// NewTransaction creates a transaction record for raw.
func NewTransaction(orderID *uuid.UUID, gateway string, kind EventKind, source Source, raw []byte) *Transaction {
	return &Transaction{
		ID:          uuid.New(),
		OrderID:     orderID,
		Gateway:     gateway,
		Kind:        kind,
		Source:      source,
		PayloadHash: HashPayload(raw),
		ReceivedAt:  time.Now(),
	}
}

// HashPayload returns the hex SHA-256 of raw.
func HashPayload(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
