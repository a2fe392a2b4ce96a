package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
	domainErrors "github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
	"github.com/cassiomorais/eventpay/internal/gateway"
	"github.com/cassiomorais/eventpay/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func operatorCtx() context.Context {
	return audit.ContextWithActor(context.Background(), audit.Actor{
		ID:        "op-1",
		Email:     "ops@example.com",
		IPAddress: "10.0.0.5",
	})
}

func registerStudent(t *testing.T, env *testEnv) *registration.Registration {
	t.Helper()
	event := testutil.NewTestEvent(50000)
	env.events.AddEvent(event)

	reg, err := env.regSvc.Register(context.Background(), RegisterRequest{
		EventID:  event.ID,
		Type:     registration.TypeStudent,
		FullName: "Asha Rao",
		Email:    "asha@example.com",
		Mobile:   "+919800000001",
		Consents: []registration.Consent{{Type: "data_processing", Given: true, Version: "v1"}},
	})
	require.NoError(t, err)
	return reg
}

func TestRegister_CreatesPendingRegistration(t *testing.T) {
	env := newTestEnv(t)
	reg := registerStudent(t, env)

	assert.Equal(t, registration.StatusPending, reg.Status)
	assert.NotEmpty(t, reg.Code)

	stored := env.reloadRegistration(t, reg)
	assert.Equal(t, "asha@example.com", stored.Email)

	entries := env.auditRepo.ForResource(audit.ResourceRegistration, reg.ID.String())
	require.Len(t, entries, 2)
	assert.Equal(t, "registration_created", entries[0].Action)
	assert.Equal(t, "consent_given", entries[1].Action)
	assert.Equal(t, "data_processing", entries[1].Detail["consent_type"])
	for _, e := range entries {
		assert.Equal(t, "asha@example.com", e.ActorEmail)
	}
}

func TestRegister_UnknownEvent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.regSvc.Register(context.Background(), RegisterRequest{
		EventID:  uuid.New(),
		Type:     registration.TypeStudent,
		FullName: "Asha Rao",
		Email:    "asha@example.com",
	})
	assert.ErrorIs(t, err, domainErrors.ErrEventNotFound)
	assert.Empty(t, env.auditRepo.Entries())
}

func TestRegister_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	event := testutil.NewTestEvent(50000)
	env.events.AddEvent(event)

	_, err := env.regSvc.Register(context.Background(), RegisterRequest{
		EventID:  event.ID,
		Type:     registration.TypeStudent,
		FullName: "Asha Rao",
	})
	var validationErr *domainErrors.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "email", validationErr.Field)
}

func TestGetRegistration_RecordsAccess(t *testing.T) {
	env := newTestEnv(t)
	reg := registerStudent(t, env)

	got, err := env.regSvc.Get(operatorCtx(), reg.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, got.ID)

	viewed := env.auditRepo.ByAction("registration_viewed")
	require.Len(t, viewed, 1)
	assert.Equal(t, audit.EventDataAccess, viewed[0].EventType)
	assert.Equal(t, "op-1", viewed[0].ActorID)
	assert.Equal(t, "10.0.0.5", viewed[0].IPAddress)
}

func TestExport_IncludesOrdersAndAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	reg := registerStudent(t, env)
	o := env.openOrder(t, reg, "")

	export, err := env.regSvc.Export(operatorCtx(), reg.ID)
	require.NoError(t, err)

	assert.Equal(t, reg.ID, export.Registration.ID)
	require.Len(t, export.Orders, 1)
	assert.Equal(t, o.ID, export.Orders[0].ID)

	var actions []string
	for _, e := range export.AuditTrail {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"registration_created", "consent_given"}, actions)
	assert.Len(t, env.auditRepo.ByAction("registration_exported"), 1)
}

func TestErase_RedactsRegistrationAndTrail(t *testing.T) {
	env := newTestEnv(t)
	reg := registerStudent(t, env)

	desk := audit.ContextWithActor(context.Background(), audit.Actor{
		ID:        "desk-1",
		Email:     "desk@example.com",
		IPAddress: "203.0.113.7",
		UserAgent: "kiosk/2.1",
	})
	o, err := env.orderSvc.CreateOrder(desk, CreateOrderRequest{RegistrationID: reg.ID})
	require.NoError(t, err)

	raw, headers := env.signedWebhook(t, "success", o.GatewayOrderRef, "pay_1", o.Amount)
	hook := audit.ContextWithActor(context.Background(), audit.Actor{IPAddress: "198.51.100.20", UserAgent: "gateway-hooks"})
	res, err := env.webhooks.Handle(hook, gateway.MockName, raw, headers)
	require.NoError(t, err)
	require.Equal(t, WebhookApplied, res.Outcome)

	about := func() []*audit.Entry {
		var entries []*audit.Entry
		entries = append(entries, env.auditRepo.ForResource(audit.ResourceRegistration, reg.ID.String())...)
		entries = append(entries, env.auditRepo.ForResource(audit.ResourceOrder, o.ID.String())...)
		entries = append(entries, env.auditRepo.ForResource(audit.ResourceTransaction, res.TransactionID.String())...)
		return entries
	}
	orderEntries := env.auditRepo.ForResource(audit.ResourceOrder, o.ID.String())
	require.NotEmpty(t, orderEntries)
	assert.Equal(t, "203.0.113.7", orderEntries[0].IPAddress)
	// plus erasure_requested
	want := int64(len(about()) + 1)

	erased, err := env.regSvc.Erase(operatorCtx(), reg.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, erased.RegistrationID)
	assert.Equal(t, want, erased.RedactedEntries)

	stored := env.reloadRegistration(t, reg)
	assert.True(t, stored.IsErased())
	assert.Equal(t, registration.RedactedValue, stored.Email)
	assert.Equal(t, registration.RedactedValue, stored.FullName)
	assert.Equal(t, registration.RedactedValue, stored.Mobile)

	for _, e := range env.auditRepo.Entries() {
		assert.NotEqual(t, "asha@example.com", e.ActorEmail)
	}
	for _, e := range about() {
		if e.Action == "erasure_completed" {
			continue
		}
		assert.NotNil(t, e.RedactedAt, e.Action)
		assert.Empty(t, e.IPAddress, e.Action)
		assert.Empty(t, e.UserAgent, e.Action)
		assert.Empty(t, e.ActorEmail, e.Action)
	}

	completed := env.auditRepo.ByAction("erasure_completed")
	require.Len(t, completed, 1)
	assert.Nil(t, completed[0].RedactedAt)
	assert.Equal(t, want, completed[0].Detail["redacted_entries"])
	assert.Equal(t, "ops@example.com", completed[0].ActorEmail)

	// Payment records are kept.
	assert.Len(t, env.orders.All(), 1)
	assert.Equal(t, payment.StatusConfirmed, env.reload(t, o).Status)
	assert.Len(t, env.txs.All(), 1)
}

func TestErase_AuditRedactionFailureCanBeRetried(t *testing.T) {
	env := newTestEnv(t)
	reg := registerStudent(t, env)

	fail := true
	env.auditRepo.RedactSubjectFunc = func(ctx context.Context, subject string, resources []audit.Ref, at time.Time) (int64, error) {
		if fail {
			fail = false
			return 0, errors.New("audit store unavailable")
		}
		env.auditRepo.RedactSubjectFunc = nil
		return env.auditRepo.RedactSubject(ctx, subject, resources, at)
	}

	_, err := env.regSvc.Erase(operatorCtx(), reg.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redact audit trail")

	stored := env.reloadRegistration(t, reg)
	assert.False(t, stored.IsErased())
	assert.Equal(t, "asha@example.com", stored.Email)
	assert.Empty(t, env.auditRepo.ByAction("erasure_completed"))

	res, err := env.regSvc.Erase(operatorCtx(), reg.ID)
	require.NoError(t, err)
	assert.Positive(t, res.RedactedEntries)
	assert.True(t, env.reloadRegistration(t, reg).IsErased())
	for _, e := range env.auditRepo.ForResource(audit.ResourceRegistration, reg.ID.String()) {
		assert.NotEqual(t, "asha@example.com", e.ActorEmail)
	}
}

func TestErase_RegistrationStoreFailureKeepsRegistrationErasable(t *testing.T) {
	env := newTestEnv(t)
	reg := registerStudent(t, env)

	env.regs.RedactFunc = func(ctx context.Context, r *registration.Registration) error {
		return errors.New("connection reset")
	}
	_, err := env.regSvc.Erase(operatorCtx(), reg.ID)
	require.Error(t, err)
	assert.False(t, env.reloadRegistration(t, reg).IsErased())

	env.regs.RedactFunc = nil
	_, err = env.regSvc.Erase(operatorCtx(), reg.ID)
	require.NoError(t, err)
	assert.True(t, env.reloadRegistration(t, reg).IsErased())
}

func TestErase_Twice(t *testing.T) {
	env := newTestEnv(t)
	reg := registerStudent(t, env)

	_, err := env.regSvc.Erase(operatorCtx(), reg.ID)
	require.NoError(t, err)

	_, err = env.regSvc.Erase(operatorCtx(), reg.ID)
	assert.ErrorIs(t, err, domainErrors.ErrRegistrationErased)
}

func TestErase_BlocksNewOrders(t *testing.T) {
	env := newTestEnv(t)
	reg := registerStudent(t, env)

	_, err := env.regSvc.Erase(operatorCtx(), reg.ID)
	require.NoError(t, err)

	_, err = env.orderSvc.CreateOrder(context.Background(), CreateOrderRequest{RegistrationID: reg.ID})
	assert.ErrorIs(t, err, domainErrors.ErrRegistrationErased)
	assert.Equal(t, 0, env.processor.Calls())
}

func TestErase_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.regSvc.Erase(operatorCtx(), uuid.New())
	assert.ErrorIs(t, err, domainErrors.ErrRegistrationNotFound)
}
