package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Event types written by the payment core.
const (
	EventRegistrationConfirmed = "registration.confirmed"
	EventPaymentFailed         = "payment.failed"
	EventPaymentExpired        = "payment.expired"
)

// AggregateRegistration is the aggregate every notification hangs off.
const AggregateRegistration = "registration"

// Entry is a message written in the same transaction as the state change
// that caused it, and relayed later by the worker.
type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       map[string]any
	Status        Status
	RetryCount    int
	MaxRetries    int
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

func NewEntry(aggregateType string, aggregateID uuid.UUID, eventType string, payload map[string]any) *Entry {
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		Status:        StatusPending,
		MaxRetries:    5,
		CreatedAt:     time.Now(),
	}
}

// Notification is the payload of a registration outcome message.
type Notification struct {
	RegistrationID   uuid.UUID
	RegistrationCode string
	OrderID          uuid.UUID
	Outcome          string
	Amount           int64
	Currency         string
	Email            string
	Mobile           string
	FullName         string
}

// NewNotificationEntry builds the outbox entry for a registration outcome.
func NewNotificationEntry(eventType string, n Notification) *Entry {
	return NewEntry(AggregateRegistration, n.RegistrationID, eventType, map[string]any{
		"registration_id":   n.RegistrationID.String(),
		"registration_code": n.RegistrationCode,
		"order_id":          n.OrderID.String(),
		"outcome":           n.Outcome,
		"amount":            n.Amount,
		"currency":          n.Currency,
		"email":             n.Email,
		"mobile":            n.Mobile,
		"full_name":         n.FullName,
	})
}

// CanRetry reports whether the entry may be relayed again.
func (e *Entry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}
