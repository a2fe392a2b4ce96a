package registration

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/google/uuid"
)

// Type distinguishes student and school registrations
type Type string

const (
	TypeStudent Type = "student"
	TypeSchool  Type = "school"
)

// Status represents the registration status
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// RedactedValue replaces personal fields after erasure.
const RedactedValue = "[redacted]"

// Event is the read-only slice of an event the payment core needs.
type Event struct {
	ID              uuid.UUID
	Title           string
	RegistrationFee int64 // minor units
	Currency        string
	IsFree          bool
}

// Fee returns the base registration fee in minor units.
func (e *Event) Fee() int64 {
	if e.IsFree {
		return 0
	}
	return e.RegistrationFee
}

// Registration is a student's or school's enrollment for an event.
type Registration struct {
	ID          uuid.UUID
	EventID     uuid.UUID
	Type        Type
	Code        string
	FullName    string
	Email       string
	Mobile      string
	SchoolName  string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	ErasedAt    *time.Time
}

// NewRegistration creates a pending registration
func NewRegistration(eventID uuid.UUID, regType Type, fullName, email, mobile, schoolName string) (*Registration, error) {
	if regType != TypeStudent && regType != TypeSchool {
		return nil, errors.NewValidationError("type", "must be student or school")
	}
	if strings.TrimSpace(fullName) == "" {
		return nil, errors.NewValidationError("full_name", "cannot be empty")
	}
	if strings.TrimSpace(email) == "" {
		return nil, errors.NewValidationError("email", "cannot be empty")
	}

	prefix := "REG"
	if regType == TypeSchool {
		prefix = "SCH"
	}

	now := time.Now()
	return &Registration{
		ID:         uuid.New(),
		EventID:    eventID,
		Type:       regType,
		Code:       GenerateCode(prefix),
		FullName:   fullName,
		Email:      strings.ToLower(strings.TrimSpace(email)),
		Mobile:     mobile,
		SchoolName: schoolName,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode returns a tracking code like REG-7K2M9QXA.
func GenerateCode(prefix string) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return prefix + "-" + string(b)
}

// Confirm marks the registration confirmed.
func (r *Registration) Confirm() error {
	if r.ErasedAt != nil {
		return errors.ErrRegistrationErased
	}
	if r.Status == StatusConfirmed {
		return errors.ErrRegistrationConfirmed
	}
	if r.Status != StatusPending {
		return errors.NewStateError(errors.ErrInvalidStateTransition, string(r.Status), string(StatusConfirmed))
	}
	now := time.Now()
	r.Status = StatusConfirmed
	r.ConfirmedAt = &now
	r.UpdatedAt = now
	return nil
}

// IsErased reports whether personal data has been redacted.
func (r *Registration) IsErased() bool {
	return r.ErasedAt != nil
}

// Erase redacts personal fields in place. The record itself is kept.
func (r *Registration) Erase() {
	now := time.Now()
	r.FullName = RedactedValue
	r.Email = RedactedValue
	r.Mobile = RedactedValue
	r.SchoolName = RedactedValue
	r.ErasedAt = &now
	r.UpdatedAt = now
}

// Consent is one checkbox state captured at intake.
type Consent struct {
	Type    string
	Given   bool
	Version string
}
