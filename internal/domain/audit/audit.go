package audit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/google/uuid"
)

// EventType groups audit entries by what happened.
type EventType string

const (
	EventRegistration EventType = "registration"
	EventConsent      EventType = "consent"
	EventCoupon       EventType = "coupon"
	EventPayment      EventType = "payment"
	EventWebhook      EventType = "webhook"
	EventDataAccess   EventType = "data_access"
	EventDataDeletion EventType = "data_deletion"
	EventNotification EventType = "notification"
)

// Outcome is success or failure.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Resource types referenced by entries.
const (
	ResourceRegistration = "registration"
	ResourceOrder        = "payment_order"
	ResourceTransaction  = "payment_transaction"
	ResourceCoupon       = "coupon"
	ResourceAuditLog     = "audit_log"
)

// Ref names one resource an entry can be about.
type Ref struct {
	Type string
	ID   string
}

// ActorSystem identifies entries not caused by a person.
const ActorSystem = "system"

// Entry is an immutable audit log record. Resources are referenced by id only.
type Entry struct {
	ID               uuid.UUID
	Sequence         int64
	EventType        EventType
	Action           string
	Outcome          Outcome
	ActorID          string
	ActorEmail       string
	ResourceType     string
	ResourceID       string
	IPAddress        string
	UserAgent        string
	Timestamp        time.Time
	Detail           map[string]any
	ErrorMessage     string
	SecurityRelevant bool
	RedactedAt       *time.Time
}

// NewEntry creates a successful entry attributed to the system actor.
func NewEntry(eventType EventType, action, resourceType, resourceID string) *Entry {
	return &Entry{
		ID:           uuid.New(),
		EventType:    eventType,
		Action:       action,
		Outcome:      OutcomeSuccess,
		ActorEmail:   ActorSystem,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Timestamp:    time.Now().UTC(),
		Detail:       map[string]any{},
	}
}

// WithActor sets who performed the action.
func (e *Entry) WithActor(a Actor) *Entry {
	if a.ID != "" {
		e.ActorID = a.ID
	}
	if a.Email != "" {
		e.ActorEmail = a.Email
	}
	e.IPAddress = a.IPAddress
	e.UserAgent = a.UserAgent
	return e
}

// WithDetail merges kv into the entry detail.
func (e *Entry) WithDetail(kv map[string]any) *Entry {
	if e.Detail == nil {
		e.Detail = map[string]any{}
	}
	for k, v := range kv {
		e.Detail[k] = v
	}
	return e
}

// Fail marks the entry as a failure with msg.
func (e *Entry) Fail(msg string) *Entry {
	e.Outcome = OutcomeFailure
	e.ErrorMessage = msg
	return e
}

// Flag marks the entry security-relevant.
func (e *Entry) Flag() *Entry {
	e.SecurityRelevant = true
	return e
}

// Actor identifies the caller of an operation along with its transport metadata.
type Actor struct {
	ID        string
	Email     string
	IPAddress string
	UserAgent string
}

// SystemActor is used for worker and webhook driven actions.
var SystemActor = Actor{Email: ActorSystem}

// Filter selects entries. At least one of Subject, Resource or time range
// should be set; results are ordered by (timestamp, sequence) ascending.
type Filter struct {
	Subject      string // actor id or email
	ResourceType string
	ResourceID   string
	From         *time.Time
	To           *time.Time
	After        *Cursor
	Limit        int
}

// Page is one page of query results.
type Page struct {
	Entries    []*Entry
	NextCursor string
}

// Cursor is the position of the last returned entry.
type Cursor struct {
	Timestamp time.Time `json:"t"`
	Sequence  int64     `json:"s"`
}

// CursorAfter returns the cursor positioned at e.
func CursorAfter(e *Entry) Cursor {
	return Cursor{Timestamp: e.Timestamp, Sequence: e.Sequence}
}

// Encode renders the cursor as an opaque token.
func (c Cursor) Encode() string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a token produced by Encode.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.ErrInvalidCursor
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil || c.Timestamp.IsZero() {
		return nil, errors.ErrInvalidCursor
	}
	return &c, nil
}

// Less orders entries by (timestamp, sequence).
func Less(a, b *Entry) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.Sequence < b.Sequence
	}
	return a.Timestamp.Before(b.Timestamp)
}

// Precedes reports whether e sorts strictly after c.
func (c Cursor) Precedes(e *Entry) bool {
	if e.Timestamp.Equal(c.Timestamp) {
		return e.Sequence > c.Sequence
	}
	return e.Timestamp.After(c.Timestamp)
}

type actorKey struct{}

// ContextWithActor attaches the caller identity to ctx.
func ContextWithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the caller identity, or SystemActor.
func ActorFromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		if a.ID == "" && a.Email == "" {
			a.Email = ActorSystem
		}
		return a
	}
	return SystemActor
}
