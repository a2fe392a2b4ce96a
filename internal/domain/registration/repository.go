package registration

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for registration persistence
type Repository interface {
	// Create creates a new registration
	Create(ctx context.Context, r *Registration) error

	// GetByID retrieves a registration by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Registration, error)

	// MarkConfirmed sets status to confirmed if it is still pending.
	// Returns errors.ErrRegistrationConfirmed when it already is.
	MarkConfirmed(ctx context.Context, id uuid.UUID) error

	// Redact overwrites personal fields and sets erased_at.
	Redact(ctx context.Context, r *Registration) error
}

// EventRepository reads events owned by the content service.
type EventRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
}
