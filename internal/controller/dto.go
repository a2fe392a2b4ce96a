package controller

import (
	"strings"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	"github.com/cassiomorais/eventpay/internal/domain/coupon"
	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
	"github.com/cassiomorais/eventpay/internal/service"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (string ids, validation tags).
// Amounts are never accepted from clients; they are always resolved server side.

// CreateOrderRequest holds the input for opening a payment order.
type CreateOrderRequest struct {
	RegistrationID string `json:"registration_id" validate:"required,uuid"`
	CouponCode     string `json:"coupon_code" validate:"omitempty,max=64"`
	Gateway        string `json:"gateway" validate:"omitempty,oneof=razorpay stripe mock"`
}

// VerifyPaymentRequest is the client callback after checkout.
type VerifyPaymentRequest struct {
	PaymentRef string `json:"payment_ref" validate:"required,max=255"`
	Signature  string `json:"signature" validate:"required,max=512"`
}

// ResolveCouponRequest asks for a fee preview.
type ResolveCouponRequest struct {
	RegistrationID string `json:"registration_id" validate:"required,uuid"`
	CouponCode     string `json:"coupon_code" validate:"omitempty,max=64"`
}

// ConsentRequest is one consent checkbox.
type ConsentRequest struct {
	Type    string `json:"type" validate:"required,max=64"`
	Given   bool   `json:"given"`
	Version string `json:"version" validate:"required,max=32"`
}

// RegisterRequest holds the input for a new registration.
type RegisterRequest struct {
	EventID    string           `json:"event_id" validate:"required,uuid"`
	Type       string           `json:"type" validate:"required,oneof=student school"`
	FullName   string           `json:"full_name" validate:"required,max=200"`
	Email      string           `json:"email" validate:"required,email"`
	Mobile     string           `json:"mobile" validate:"omitempty,e164"`
	SchoolName string           `json:"school_name" validate:"required_if=Type school,max=200"`
	Consents   []ConsentRequest `json:"consents" validate:"required,min=1,dive"`
}

func (r RegisterRequest) toService() service.RegisterRequest {
	return service.RegisterRequest{
		EventID:    uuid.MustParse(r.EventID),
		Type:       registration.Type(r.Type),
		FullName:   strings.TrimSpace(r.FullName),
		Email:      strings.ToLower(strings.TrimSpace(r.Email)),
		Mobile:     r.Mobile,
		SchoolName: strings.TrimSpace(r.SchoolName),
		Consents: lo.Map(r.Consents, func(c ConsentRequest, _ int) registration.Consent {
			return registration.Consent{Type: c.Type, Given: c.Given, Version: c.Version}
		}),
	}
}

// --- Response DTOs ---

// OrderResponse represents a payment order in API responses. Amounts are in
// minor units; display_amount is the same value in major units.
type OrderResponse struct {
	ID              string         `json:"id"`
	RegistrationID  string         `json:"registration_id"`
	Attempt         int            `json:"attempt"`
	Status          string         `json:"status"`
	BaseAmount      int64          `json:"base_amount"`
	Discount        int64          `json:"discount"`
	Amount          int64          `json:"amount"`
	DisplayAmount   string         `json:"display_amount"`
	Currency        string         `json:"currency"`
	CouponCode      string         `json:"coupon_code,omitempty"`
	FeeWaiver       string         `json:"fee_waiver,omitempty"`
	Gateway         string         `json:"gateway,omitempty"`
	GatewayOrderRef string         `json:"gateway_order_ref,omitempty"`
	Checkout        map[string]any `json:"checkout,omitempty"`
	LastError       *string        `json:"last_error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// FeeResponse is a fee preview.
type FeeResponse struct {
	BaseAmount    int64  `json:"base_amount"`
	Discount      int64  `json:"discount"`
	FinalAmount   int64  `json:"final_amount"`
	DisplayAmount string `json:"display_amount"`
	Currency      string `json:"currency"`
	CouponCode    string `json:"coupon_code,omitempty"`
	FeeWaiver     string `json:"fee_waiver,omitempty"`
}

// RegistrationResponse represents a registration in API responses.
type RegistrationResponse struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	Type        string     `json:"type"`
	Code        string     `json:"code"`
	FullName    string     `json:"full_name"`
	Email       string     `json:"email"`
	Mobile      string     `json:"mobile,omitempty"`
	SchoolName  string     `json:"school_name,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	ErasedAt    *time.Time `json:"erased_at,omitempty"`
}

// AuditEntryResponse represents an audit entry in API responses.
type AuditEntryResponse struct {
	ID               string         `json:"id"`
	Sequence         int64          `json:"sequence"`
	EventType        string         `json:"event_type"`
	Action           string         `json:"action"`
	Outcome          string         `json:"outcome"`
	ActorID          string         `json:"actor_id,omitempty"`
	ActorEmail       string         `json:"actor_email,omitempty"`
	ResourceType     string         `json:"resource_type"`
	ResourceID       string         `json:"resource_id"`
	IPAddress        string         `json:"ip_address,omitempty"`
	UserAgent        string         `json:"user_agent,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	Detail           map[string]any `json:"detail,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	SecurityRelevant bool           `json:"security_relevant"`
	RedactedAt       *time.Time     `json:"redacted_at,omitempty"`
}

// AuditPageResponse is one page of audit entries.
type AuditPageResponse struct {
	Entries    []*AuditEntryResponse `json:"entries"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

// ExportResponse bundles everything stored about a registration.
type ExportResponse struct {
	Registration *RegistrationResponse `json:"registration"`
	Orders       []*OrderResponse      `json:"orders"`
	AuditTrail   []*AuditEntryResponse `json:"audit_trail"`
}

// ErasureResponse reports an erasure.
type ErasureResponse struct {
	RegistrationID  string `json:"registration_id"`
	RedactedEntries int64  `json:"redacted_entries"`
}

// WebhookResponse acknowledges a gateway delivery.
type WebhookResponse struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromOrder converts a domain order to API response.
func FromOrder(o *payment.Order) *OrderResponse {
	return &OrderResponse{
		ID:              o.ID.String(),
		RegistrationID:  o.RegistrationID.String(),
		Attempt:         o.Attempt,
		Status:          string(o.Status),
		BaseAmount:      o.BaseAmount,
		Discount:        o.Discount,
		Amount:          o.Amount,
		DisplayAmount:   displayAmount(o.Amount, o.Currency),
		Currency:        o.Currency,
		CouponCode:      o.CouponCode,
		FeeWaiver:       o.FeeWaiver,
		Gateway:         o.Gateway,
		GatewayOrderRef: o.GatewayOrderRef,
		Checkout:        o.ClientPayload,
		LastError:       o.LastError,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		CompletedAt:     o.CompletedAt,
	}
}

// FromFee converts a resolved fee to API response.
func FromFee(f coupon.ResolvedFee, currency string) *FeeResponse {
	return &FeeResponse{
		BaseAmount:    f.BaseAmount,
		Discount:      f.Discount,
		FinalAmount:   f.FinalAmount,
		DisplayAmount: displayAmount(f.FinalAmount, currency),
		Currency:      currency,
		CouponCode:    f.CouponCode(),
		FeeWaiver:     f.FeeWaiver,
	}
}

// FromRegistration converts a domain registration to API response.
func FromRegistration(r *registration.Registration) *RegistrationResponse {
	return &RegistrationResponse{
		ID:          r.ID.String(),
		EventID:     r.EventID.String(),
		Type:        string(r.Type),
		Code:        r.Code,
		FullName:    r.FullName,
		Email:       r.Email,
		Mobile:      r.Mobile,
		SchoolName:  r.SchoolName,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
		ConfirmedAt: r.ConfirmedAt,
		ErasedAt:    r.ErasedAt,
	}
}

// FromAuditEntry converts an audit entry to API response.
func FromAuditEntry(e *audit.Entry) *AuditEntryResponse {
	return &AuditEntryResponse{
		ID:               e.ID.String(),
		Sequence:         e.Sequence,
		EventType:        string(e.EventType),
		Action:           e.Action,
		Outcome:          string(e.Outcome),
		ActorID:          e.ActorID,
		ActorEmail:       e.ActorEmail,
		ResourceType:     e.ResourceType,
		ResourceID:       e.ResourceID,
		IPAddress:        e.IPAddress,
		UserAgent:        e.UserAgent,
		Timestamp:        e.Timestamp,
		Detail:           e.Detail,
		ErrorMessage:     e.ErrorMessage,
		SecurityRelevant: e.SecurityRelevant,
		RedactedAt:       e.RedactedAt,
	}
}

func fromAuditEntries(entries []*audit.Entry) []*AuditEntryResponse {
	return lo.Map(entries, func(e *audit.Entry, _ int) *AuditEntryResponse { return FromAuditEntry(e) })
}

// FromExport converts a registration export to API response.
func FromExport(x *service.RegistrationExport) *ExportResponse {
	return &ExportResponse{
		Registration: FromRegistration(x.Registration),
		Orders:       lo.Map(x.Orders, func(o *payment.Order, _ int) *OrderResponse { return FromOrder(o) }),
		AuditTrail:   fromAuditEntries(x.AuditTrail),
	}
}

// zeroDecimalCurrencies have no minor unit.
var zeroDecimalCurrencies = []string{"BIF", "CLP", "DJF", "GNF", "JPY", "KMF", "KRW", "MGA", "PYG", "RWF", "UGX", "VND", "VUV", "XAF", "XOF", "XPF"}

// displayAmount renders minor units in major units, e.g. 40000 INR is "400.00".
func displayAmount(minor int64, currency string) string {
	exp := int32(2)
	if lo.Contains(zeroDecimalCurrencies, strings.ToUpper(currency)) {
		exp = 0
	}
	return decimal.New(minor, -exp).StringFixed(exp)
}
