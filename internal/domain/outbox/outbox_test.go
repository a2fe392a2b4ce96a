package outbox

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry(t *testing.T) {
	aggregateID := uuid.New()
	payload := map[string]any{"outcome": "confirmed"}

	entry := NewEntry(AggregateRegistration, aggregateID, EventRegistrationConfirmed, payload)

	require.NotNil(t, entry)
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Equal(t, AggregateRegistration, entry.AggregateType)
	assert.Equal(t, aggregateID, entry.AggregateID)
	assert.Equal(t, EventRegistrationConfirmed, entry.EventType)
	assert.Equal(t, payload, entry.Payload)
	assert.Equal(t, StatusPending, entry.Status)
	assert.Equal(t, 0, entry.RetryCount)
	assert.Equal(t, 5, entry.MaxRetries)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.Nil(t, entry.PublishedAt)
}

func TestNewNotificationEntry(t *testing.T) {
	n := Notification{
		RegistrationID:   uuid.New(),
		RegistrationCode: "REG-ABCDEFGH",
		OrderID:          uuid.New(),
		Outcome:          "confirmed",
		Amount:           9900,
		Currency:         "INR",
		Email:            "a@example.com",
		Mobile:           "+919800000000",
		FullName:         "Asha",
	}

	entry := NewNotificationEntry(EventRegistrationConfirmed, n)

	assert.Equal(t, n.RegistrationID, entry.AggregateID)
	assert.Equal(t, AggregateRegistration, entry.AggregateType)
	assert.Equal(t, "REG-ABCDEFGH", entry.Payload["registration_code"])
	assert.Equal(t, n.OrderID.String(), entry.Payload["order_id"])
	assert.Equal(t, int64(9900), entry.Payload["amount"])
	assert.Equal(t, "a@example.com", entry.Payload["email"])
}

func TestEntry_CanRetry(t *testing.T) {
	entry := NewEntry(AggregateRegistration, uuid.New(), EventPaymentFailed, nil)
	assert.True(t, entry.CanRetry())
	entry.RetryCount = entry.MaxRetries
	assert.False(t, entry.CanRetry())
}

func TestEntry_UniqueIDs(t *testing.T) {
	aggregateID := uuid.New()
	entry1 := NewEntry(AggregateRegistration, aggregateID, EventPaymentExpired, nil)
	entry2 := NewEntry(AggregateRegistration, aggregateID, EventPaymentExpired, nil)

	assert.NotEqual(t, entry1.ID, entry2.ID)
	assert.Equal(t, entry1.AggregateID, entry2.AggregateID)
}
