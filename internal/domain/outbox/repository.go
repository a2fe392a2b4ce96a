package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository stores messages written alongside order transitions.
type Repository interface {
	// Insert joins the caller's transaction when ctx carries one.
	Insert(ctx context.Context, entry *Entry) error

	// GetPending locks up to limit pending entries, oldest first, for the
	// duration of the caller's transaction.
	GetPending(ctx context.Context, limit int) ([]*Entry, error)

	MarkPublished(ctx context.Context, id uuid.UUID) error

	// MarkFailed counts a failed relay attempt and gives up after MaxRetries.
	MarkFailed(ctx context.Context, id uuid.UUID) error

	// DeletePublishedBefore removes relayed entries older than cutoff.
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
