package errors

import (
	"errors"
	"fmt"
)

var (
	// Registration errors
	ErrRegistrationNotFound  = errors.New("registration not found")
	ErrRegistrationConfirmed = errors.New("registration already confirmed")
	ErrRegistrationErased    = errors.New("registration has been erased")
	ErrEventNotFound         = errors.New("event not found")

	// Order errors
	ErrOrderNotFound           = errors.New("payment order not found")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrActiveOrderExists       = errors.New("registration already has an active payment order")

	// Gateway errors
	ErrGatewayNotFound = errors.New("payment gateway not found")

	// Audit errors
	ErrInvalidCursor = errors.New("invalid cursor")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Coupon error kinds. User-correctable, surfaced verbatim.
var (
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrCouponExpired       = errors.New("coupon has expired")
	ErrCouponNotApplicable = errors.New("coupon not applicable")
	ErrCouponExhausted     = errors.New("coupon usage limit reached")
)

// Gateway error kinds.
var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment rejected by gateway")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrSignatureMismatch  = errors.New("payment signature mismatch")
)

// State error kinds. Always a race or a bug.
var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// CouponError carries the failing coupon code alongside its kind.
type CouponError struct {
	Kind error
	Code string
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Code)
}

func (e *CouponError) Unwrap() error {
	return e.Kind
}

// NewCouponError creates a coupon error of the given kind.
func NewCouponError(kind error, code string) *CouponError {
	return &CouponError{Kind: kind, Code: code}
}

// GatewayError classifies a failure reported by (or while talking to) a
// payment gateway. Only ErrGatewayUnavailable is retryable.
type GatewayError struct {
	Kind    error
	Gateway string
	Reason  string
	Err     error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Gateway, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

func (e *GatewayError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Retryable reports whether the caller may retry the operation.
func (e *GatewayError) Retryable() bool {
	return e.Kind == ErrGatewayUnavailable
}

// SecurityRelevant reports whether the failure must be flagged in the audit trail.
func (e *GatewayError) SecurityRelevant() bool {
	return e.Kind == ErrInvalidSignature || e.Kind == ErrSignatureMismatch
}

// NewGatewayError creates a gateway error of the given kind.
func NewGatewayError(kind error, gateway, reason string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Gateway: gateway, Reason: reason, Err: err}
}

// IsRetryable reports whether err is a retryable gateway failure.
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Retryable()
	}
	return false
}

// StateError describes a rejected order transition.
type StateError struct {
	Kind error
	From string
	To   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", e.Kind, e.From, e.To)
}

func (e *StateError) Unwrap() error {
	return e.Kind
}

// NewStateError creates a state error of the given kind.
func NewStateError(kind error, from, to string) *StateError {
	return &StateError{Kind: kind, From: from, To: to}
}
