package testutil

import (
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/coupon"
	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
	"github.com/google/uuid"
)

func NewTestEvent(fee int64) *registration.Event {
	return &registration.Event{
		ID:              uuid.New(),
		Title:           "Regional Science Olympiad",
		RegistrationFee: fee,
		Currency:        "INR",
	}
}

func NewTestRegistration(eventID uuid.UUID, regType registration.Type) *registration.Registration {
	now := time.Now()
	code := registration.GenerateCode("REG")
	school := ""
	if regType == registration.TypeSchool {
		code = registration.GenerateCode("SCH")
		school = "Green Valley High"
	}
	return &registration.Registration{
		ID:         uuid.New(),
		EventID:    eventID,
		Type:       regType,
		Code:       code,
		FullName:   "Asha Rao",
		Email:      "asha@example.com",
		Mobile:     "+919800000001",
		SchoolName: school,
		Status:     registration.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func NewTestCoupon(code string, kind coupon.DiscountKind, value int64, maxRedemptions *int) *coupon.Coupon {
	now := time.Now()
	return &coupon.Coupon{
		ID:             uuid.New(),
		Code:           coupon.NormalizeCode(code),
		Kind:           kind,
		Value:          value,
		ApplicableTo:   coupon.ApplicableAll,
		ValidFrom:      now.Add(-24 * time.Hour),
		ValidUntil:     now.Add(30 * 24 * time.Hour),
		MaxRedemptions: maxRedemptions,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewAwaitingOrder returns an order already handed to gatewayName.
func NewAwaitingOrder(registrationID uuid.UUID, amount int64, gatewayName, ref string) *payment.Order {
	o, err := payment.NewOrder(registrationID, 1, amount, 0, "INR")
	if err != nil {
		panic(err)
	}
	if err := o.MarkAwaitingPayment(gatewayName, ref, map[string]any{"order_id": ref}); err != nil {
		panic(err)
	}
	return o
}

func IntPtr(v int) *int {
	return &v
}

func UUIDPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
