package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `id, registration_id, attempt, idempotency_key, base_amount, discount, amount, currency,
	coupon_id, coupon_code, fee_waiver, gateway, gateway_order_ref, client_payload,
	status, version, last_error, created_at, updated_at, completed_at`

// OrderRepository implements payment.Repository using PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Create inserts a new order.
func (r *OrderRepository) Create(ctx context.Context, o *payment.Order) error {
	payload, err := json.Marshal(o.ClientPayload)
	if err != nil {
		return fmt.Errorf("marshal client payload: %w", err)
	}

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO payment_orders (`+orderColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		o.ID, o.RegistrationID, o.Attempt, o.IdempotencyKey, o.BaseAmount, o.Discount, o.Amount, o.Currency,
		o.CouponID, o.CouponCode, o.FeeWaiver, o.Gateway, nullString(o.GatewayOrderRef), payload,
		string(o.Status), o.Version, o.LastError, o.CreatedAt, o.UpdatedAt, o.CompletedAt,
	)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			if constraint == "idx_payment_orders_one_active" {
				return domainErrors.ErrActiveOrderExists
			}
			return domainErrors.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert payment order: %w", err)
	}
	return nil
}

// GetByID retrieves an order by its ID.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Order, error) {
	return scanOrder(r.db(ctx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM payment_orders WHERE id = $1`, id))
}

// GetByGatewayRef retrieves an order by the gateway's order reference.
func (r *OrderRepository) GetByGatewayRef(ctx context.Context, gateway, ref string) (*payment.Order, error) {
	return scanOrder(r.db(ctx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM payment_orders WHERE gateway = $1 AND gateway_order_ref = $2`, gateway, ref))
}

// GetActiveByRegistration returns the live order of a registration.
func (r *OrderRepository) GetActiveByRegistration(ctx context.Context, registrationID uuid.UUID) (*payment.Order, error) {
	return scanOrder(r.db(ctx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM payment_orders
		 WHERE registration_id = $1 AND status IN ('created', 'awaiting_payment')`, registrationID))
}

// LatestAttempt returns the highest attempt number of a registration.
func (r *OrderRepository) LatestAttempt(ctx context.Context, registrationID uuid.UUID) (int, error) {
	var attempt int
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(attempt), 0) FROM payment_orders WHERE registration_id = $1`, registrationID,
	).Scan(&attempt)
	if err != nil {
		return 0, fmt.Errorf("latest attempt: %w", err)
	}
	return attempt, nil
}

// ListByRegistration lists every order of a registration, oldest first.
func (r *OrderRepository) ListByRegistration(ctx context.Context, registrationID uuid.UUID) ([]*payment.Order, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+orderColumns+` FROM payment_orders WHERE registration_id = $1 ORDER BY attempt ASC`, registrationID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return collectOrders(rows)
}

// UpdateStatus persists a transition if the row is still at (expected, version-1).
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *payment.Order, expected payment.Status) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payment_orders SET
		  status = $1, version = $2, last_error = $3, updated_at = $4, completed_at = $5
		 WHERE id = $6 AND status = $7 AND version = $8`,
		string(o.Status), o.Version, o.LastError, o.UpdatedAt, o.CompletedAt,
		o.ID, string(expected), o.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.NewStateError(domainErrors.ErrConcurrentModification, string(expected), string(o.Status))
	}
	return nil
}

// ListAwaitingBefore lists orders awaiting payment created before cutoff, oldest first.
func (r *OrderRepository) ListAwaitingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+orderColumns+` FROM payment_orders
		 WHERE status = 'awaiting_payment' AND created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list awaiting orders: %w", err)
	}
	return collectOrders(rows)
}

// --- scanning helpers ---

func collectOrders(rows pgx.Rows) ([]*payment.Order, error) {
	defer rows.Close()
	var orders []*payment.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(s scanner) (*payment.Order, error) {
	o := &payment.Order{}
	var (
		gatewayRef *string
		payload    []byte
		status     string
	)
	err := s.Scan(
		&o.ID, &o.RegistrationID, &o.Attempt, &o.IdempotencyKey, &o.BaseAmount, &o.Discount, &o.Amount, &o.Currency,
		&o.CouponID, &o.CouponCode, &o.FeeWaiver, &o.Gateway, &gatewayRef, &payload,
		&status, &o.Version, &o.LastError, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan payment order: %w", err)
	}

	o.Status = payment.Status(status)
	if gatewayRef != nil {
		o.GatewayOrderRef = *gatewayRef
	}
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &o.ClientPayload); err != nil {
			return nil, fmt.Errorf("unmarshal client payload: %w", err)
		}
	}
	return o, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
