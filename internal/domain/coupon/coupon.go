package coupon

import (
	"strings"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
	"github.com/google/uuid"
)

// DiscountKind represents how a coupon reduces the fee
type DiscountKind string

const (
	KindPercentage DiscountKind = "percentage"
	KindFixed      DiscountKind = "fixed"
	KindFullWaiver DiscountKind = "full_waiver"
)

// ApplicableAll makes a coupon valid for every registration type.
const ApplicableAll = "all"

// Coupon is a named discount rule with applicability constraints and a redemption cap.
type Coupon struct {
	ID              uuid.UUID
	Code            string
	Kind            DiscountKind
	Value           int64 // percent for KindPercentage, minor units for KindFixed
	ApplicableTo    string
	EventID         *uuid.UUID
	ValidFrom       time.Time
	ValidUntil      time.Time
	MaxRedemptions  *int
	RedemptionCount int
	MinAmount       int64
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Context describes the registration a coupon is being applied to.
type Context struct {
	RegistrationType registration.Type
	EventID          uuid.UUID
}

// ResolvedFee is the outcome of fee resolution.
type ResolvedFee struct {
	BaseAmount  int64
	Discount    int64
	FinalAmount int64
	Coupon      *Coupon
	FeeWaiver   string
}

// CouponCode returns the applied coupon code or "".
func (f ResolvedFee) CouponCode() string {
	if f.Coupon == nil {
		return ""
	}
	return f.Coupon.Code
}

// NormalizeCode canonicalizes a code for case-insensitive lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewCoupon creates a new active coupon
func NewCoupon(code string, kind DiscountKind, value int64, validFrom, validUntil time.Time) (*Coupon, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, errors.NewValidationError("code", "cannot be empty")
	}
	switch kind {
	case KindPercentage:
		if value <= 0 || value > 100 {
			return nil, errors.NewValidationError("value", "percentage must be between 1 and 100")
		}
	case KindFixed:
		if value <= 0 {
			return nil, errors.NewValidationError("value", "must be greater than 0")
		}
	case KindFullWaiver:
	default:
		return nil, errors.NewValidationError("kind", "unknown discount kind")
	}
	if !validUntil.After(validFrom) {
		return nil, errors.NewValidationError("valid_until", "must be after valid_from")
	}

	now := time.Now()
	return &Coupon{
		ID:           uuid.New(),
		Code:         code,
		Kind:         kind,
		Value:        value,
		ApplicableTo: ApplicableAll,
		ValidFrom:    validFrom,
		ValidUntil:   validUntil,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Check runs the eligibility checks in order, short-circuiting on the first failure:
// validity window, applicability, redemption cap.
func (c *Coupon) Check(baseAmount int64, rctx Context, now time.Time) error {
	if !c.IsActive {
		return errors.NewCouponError(errors.ErrCouponNotFound, c.Code)
	}
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return errors.NewCouponError(errors.ErrCouponExpired, c.Code)
	}
	if c.ApplicableTo != "" && c.ApplicableTo != ApplicableAll && c.ApplicableTo != string(rctx.RegistrationType) {
		return errors.NewCouponError(errors.ErrCouponNotApplicable, c.Code)
	}
	if c.EventID != nil && *c.EventID != rctx.EventID {
		return errors.NewCouponError(errors.ErrCouponNotApplicable, c.Code)
	}
	if c.MinAmount > 0 && baseAmount < c.MinAmount {
		return errors.NewCouponError(errors.ErrCouponNotApplicable, c.Code)
	}
	if !c.HasRedemptionsLeft() {
		return errors.NewCouponError(errors.ErrCouponExhausted, c.Code)
	}
	return nil
}

// HasRedemptionsLeft reports whether the cap has not been reached.
func (c *Coupon) HasRedemptionsLeft() bool {
	return c.MaxRedemptions == nil || c.RedemptionCount < *c.MaxRedemptions
}

// Discount computes the discount for baseAmount. Never exceeds baseAmount.
func (c *Coupon) Discount(baseAmount int64) int64 {
	if baseAmount <= 0 {
		return 0
	}
	var d int64
	switch c.Kind {
	case KindPercentage:
		d = baseAmount * c.Value / 100
	case KindFixed:
		d = min(c.Value, baseAmount)
	case KindFullWaiver:
		d = baseAmount
	}
	return max(0, min(d, baseAmount))
}

// Apply checks c against the context and computes the resolved fee.
func Apply(c *Coupon, baseAmount int64, rctx Context, now time.Time) (ResolvedFee, error) {
	if err := c.Check(baseAmount, rctx, now); err != nil {
		return ResolvedFee{}, err
	}
	discount := c.Discount(baseAmount)
	return ResolvedFee{
		BaseAmount:  baseAmount,
		Discount:    discount,
		FinalAmount: max(0, baseAmount-discount),
		Coupon:      c,
	}, nil
}
