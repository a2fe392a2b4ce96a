package audit

import (
	"context"
	"time"
)

// Repository defines the interface for audit log persistence
type Repository interface {
	// Append stores e and assigns its Sequence.
	Append(ctx context.Context, e *Entry) error

	// Query returns up to filter.Limit entries after filter.After.
	Query(ctx context.Context, filter Filter) ([]*Entry, error)

	// RedactSubject removes personal fields from entries performed by
	// subject or about any of resources. Returns the number of redacted
	// entries.
	RedactSubject(ctx context.Context, subject string, resources []Ref, at time.Time) (int64, error)
}
