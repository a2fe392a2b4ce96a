package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for payment order persistence
type Repository interface {
	// Create inserts a new order. Returns errors.ErrActiveOrderExists when the
	// registration already has a non-terminal order and
	// errors.ErrDuplicateIdempotencyKey when the key is taken.
	Create(ctx context.Context, o *Order) error

	// GetByID retrieves an order by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)

	// GetByGatewayRef retrieves an order by the gateway's order reference
	GetByGatewayRef(ctx context.Context, gateway, ref string) (*Order, error)

	// GetActiveByRegistration returns the non-terminal order of a registration
	GetActiveByRegistration(ctx context.Context, registrationID uuid.UUID) (*Order, error)

	// LatestAttempt returns the highest attempt number used by a registration, 0 if none
	LatestAttempt(ctx context.Context, registrationID uuid.UUID) (int, error)

	// ListByRegistration lists every order of a registration, oldest first
	ListByRegistration(ctx context.Context, registrationID uuid.UUID) ([]*Order, error)

	// UpdateStatus persists a transition. The row must still be at
	// (expected, o.Version-1); otherwise errors.ErrConcurrentModification.
	UpdateStatus(ctx context.Context, o *Order, expected Status) error

	// ListAwaitingBefore lists orders awaiting payment created before cutoff
	ListAwaitingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error)
}

// TransactionRepository stores append-only gateway transactions
type TransactionRepository interface {
	// Append inserts a transaction
	Append(ctx context.Context, tx *Transaction) error

	// ListByOrder returns the transactions of an order, oldest first
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Transaction, error)
}
