package registration_test

import (
	"regexp"
	"testing"

	"github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^(REG|SCH)-[A-Z2-9]{8}$`)

func TestNewRegistration_Valid(t *testing.T) {
	r, err := registration.NewRegistration(uuid.New(), registration.TypeStudent, "Asha Rao", " Asha@Example.com ", "+919800000000", "")
	require.NoError(t, err)
	assert.Equal(t, registration.StatusPending, r.Status)
	assert.Equal(t, "asha@example.com", r.Email)
	assert.Regexp(t, codePattern, r.Code)
	assert.Equal(t, "REG-", r.Code[:4])
}

func TestNewRegistration_SchoolCode(t *testing.T) {
	r, err := registration.NewRegistration(uuid.New(), registration.TypeSchool, "Principal", "office@school.in", "", "Green Valley")
	require.NoError(t, err)
	assert.Equal(t, "SCH-", r.Code[:4])
}

func TestNewRegistration_Invalid(t *testing.T) {
	_, err := registration.NewRegistration(uuid.New(), registration.Type("parent"), "A", "a@b.c", "", "")
	assert.Error(t, err)
	_, err = registration.NewRegistration(uuid.New(), registration.TypeStudent, " ", "a@b.c", "", "")
	assert.Error(t, err)
	_, err = registration.NewRegistration(uuid.New(), registration.TypeStudent, "A", "", "", "")
	assert.Error(t, err)
}

func TestConfirm(t *testing.T) {
	r, err := registration.NewRegistration(uuid.New(), registration.TypeStudent, "A", "a@b.c", "", "")
	require.NoError(t, err)

	require.NoError(t, r.Confirm())
	assert.Equal(t, registration.StatusConfirmed, r.Status)
	assert.NotNil(t, r.ConfirmedAt)
	assert.ErrorIs(t, r.Confirm(), errors.ErrRegistrationConfirmed)
}

func TestErase(t *testing.T) {
	r, err := registration.NewRegistration(uuid.New(), registration.TypeStudent, "A", "a@b.c", "123", "")
	require.NoError(t, err)
	id, code := r.ID, r.Code

	r.Erase()
	assert.True(t, r.IsErased())
	assert.Equal(t, registration.RedactedValue, r.FullName)
	assert.Equal(t, registration.RedactedValue, r.Email)
	assert.Equal(t, registration.RedactedValue, r.Mobile)
	assert.Equal(t, id, r.ID)
	assert.Equal(t, code, r.Code)
	assert.ErrorIs(t, r.Confirm(), errors.ErrRegistrationErased)
}

func TestEvent_Fee(t *testing.T) {
	e := &registration.Event{RegistrationFee: 9900, Currency: "INR"}
	assert.Equal(t, int64(9900), e.Fee())
	e.IsFree = true
	assert.Equal(t, int64(0), e.Fee())
}

func TestGenerateCode_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		c := registration.GenerateCode("REG")
		assert.False(t, seen[c])
		seen[c] = true
	}
}
