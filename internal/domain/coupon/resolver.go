package coupon

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
)

// FeeWaiverSchool marks fees waived because the registrant is a school.
const FeeWaiverSchool = "school"

// Resolver turns (code, base amount, context) into a final fee. It only reads
// coupons; redemption counts are incremented at order confirmation.
type Resolver struct {
	finder Finder
	now    func() time.Time
}

// NewResolver creates a new Resolver.
func NewResolver(finder Finder) *Resolver {
	return &Resolver{finder: finder, now: time.Now}
}

// WithClock overrides the clock used for validity window checks.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve computes the final amount for a registration.
func (r *Resolver) Resolve(ctx context.Context, code string, baseAmount int64, rctx Context) (ResolvedFee, error) {
	if baseAmount < 0 {
		return ResolvedFee{}, errors.NewValidationError("base_amount", "cannot be negative")
	}

	// Schools never pay, whatever coupon they send.
	if rctx.RegistrationType == registration.TypeSchool {
		return ResolvedFee{
			BaseAmount:  baseAmount,
			Discount:    baseAmount,
			FinalAmount: 0,
			FeeWaiver:   FeeWaiverSchool,
		}, nil
	}

	code = NormalizeCode(code)
	if code == "" {
		return ResolvedFee{BaseAmount: baseAmount, FinalAmount: baseAmount}, nil
	}

	c, err := r.finder.GetByCode(ctx, code)
	if err != nil {
		if stderrors.Is(err, errors.ErrCouponNotFound) {
			return ResolvedFee{}, errors.NewCouponError(errors.ErrCouponNotFound, code)
		}
		return ResolvedFee{}, err
	}
	if c == nil {
		return ResolvedFee{}, errors.NewCouponError(errors.ErrCouponNotFound, code)
	}

	return Apply(c, baseAmount, rctx, r.now())
}
