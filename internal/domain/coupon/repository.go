package coupon

import (
	"context"

	"github.com/google/uuid"
)

// Finder looks coupons up by normalized code. Returns errors.ErrCouponNotFound when missing.
type Finder interface {
	GetByCode(ctx context.Context, code string) (*Coupon, error)
}

// Repository defines the interface for coupon persistence
type Repository interface {
	Finder

	// Create creates a new coupon
	Create(ctx context.Context, c *Coupon) error

	// GetByID retrieves a coupon by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Coupon, error)

	// IncrementRedemption atomically increments the redemption count, re-checking the
	// cap. Returns errors.ErrCouponExhausted when no slot is left.
	IncrementRedemption(ctx context.Context, id uuid.UUID) error
}
