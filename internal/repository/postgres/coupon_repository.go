package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cassiomorais/eventpay/internal/domain/coupon"
	domainErrors "github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const couponColumns = `id, code, kind, value, applicable_to, event_id, valid_from, valid_until,
	max_redemptions, redemption_count, min_amount, is_active, created_at, updated_at`

// CouponRepository implements coupon.Repository using PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

func (r *CouponRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO coupons (`+couponColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		c.ID, c.Code, string(c.Kind), c.Value, c.ApplicableTo, c.EventID, c.ValidFrom, c.ValidUntil,
		c.MaxRedemptions, c.RedemptionCount, c.MinAmount, c.IsActive, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return domainErrors.NewValidationError("code", "already exists")
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// GetByCode looks a coupon up case-insensitively.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return scanCoupon(r.db(ctx).QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE UPPER(code) = UPPER($1)`, code))
}

func (r *CouponRepository) GetByID(ctx context.Context, id uuid.UUID) (*coupon.Coupon, error) {
	return scanCoupon(r.db(ctx).QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id))
}

// IncrementRedemption takes one redemption slot. The cap is re-checked in the
// UPDATE itself so two confirmations cannot both take the last slot.
func (r *CouponRepository) IncrementRedemption(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE coupons SET redemption_count = redemption_count + 1, updated_at = NOW()
		 WHERE id = $1 AND (max_redemptions IS NULL OR redemption_count < max_redemptions)`, id)
	if err != nil {
		return fmt.Errorf("increment coupon redemption: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domainErrors.ErrCouponExhausted
	}
	return nil
}

func scanCoupon(s scanner) (*coupon.Coupon, error) {
	c := &coupon.Coupon{}
	var kind string
	err := s.Scan(
		&c.ID, &c.Code, &kind, &c.Value, &c.ApplicableTo, &c.EventID, &c.ValidFrom, &c.ValidUntil,
		&c.MaxRedemptions, &c.RedemptionCount, &c.MinAmount, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrCouponNotFound
		}
		return nil, fmt.Errorf("scan coupon: %w", err)
	}
	c.Kind = coupon.DiscountKind(kind)
	return c, nil
}
