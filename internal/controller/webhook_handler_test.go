package controller

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cassiomorais/eventpay/internal/domain/payment"
	"github.com/cassiomorais/eventpay/internal/domain/registration"
	"github.com/cassiomorais/eventpay/internal/gateway"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (env *apiEnv) postWebhook(t *testing.T, gatewayName string, raw []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	headers := map[string]string{}
	for k := range header {
		headers[k] = header.Get(k)
	}
	return env.do(t, http.MethodPost, "/api/v1/webhooks/"+gatewayName, raw, headers)
}

func mockDelivery(t *testing.T, event, orderRef string, amount int64) []byte {
	t.Helper()
	raw, err := json.Marshal(gateway.MockWebhook{Event: event, OrderRef: orderRef, PaymentRef: "pay_wh_1", Amount: amount})
	require.NoError(t, err)
	return raw
}

func TestWebhookController_AppliesSuccess(t *testing.T) {
	env := newAPIEnv(t)
	reg := env.seedRegistration(50000, registration.TypeStudent)
	o := env.openOrder(t, reg)

	raw := mockDelivery(t, "success", o.GatewayOrderRef, 50000)
	rec := env.postWebhook(t, gateway.MockName, raw, env.processor.SignWebhook(raw))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, WebhookResponse{Status: "ok", Outcome: "applied"}, decode[WebhookResponse](t, rec))

	// Redelivery is acknowledged without a second transition.
	rec = env.postWebhook(t, gateway.MockName, raw, env.processor.SignWebhook(raw))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", decode[WebhookResponse](t, rec).Outcome)

	stored, err := env.orders.GetByID(t.Context(), uuid.MustParse(o.ID))
	require.NoError(t, err)
	assert.Equal(t, payment.StatusConfirmed, stored.Status)
}

func TestWebhookController_UnknownOrderIsAcknowledged(t *testing.T) {
	env := newAPIEnv(t)

	raw := mockDelivery(t, "success", "mock_order_missing", 50000)
	rec := env.postWebhook(t, gateway.MockName, raw, env.processor.SignWebhook(raw))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unknown_order", decode[WebhookResponse](t, rec).Outcome)
}

func TestWebhookController_Rejections(t *testing.T) {
	tests := []struct {
		name         string
		gateway      string
		raw          []byte
		signed       bool
		expectedCode int
		expectedErr  string
	}{
		{
			name:         "bad signature",
			gateway:      gateway.MockName,
			raw:          []byte(`{"event":"success","order_ref":"mock_order_1","payment_ref":"pay_1","amount":100}`),
			expectedCode: http.StatusUnauthorized,
			expectedErr:  "invalid_signature",
		},
		{
			name:         "malformed payload",
			gateway:      gateway.MockName,
			raw:          []byte(`not json`),
			signed:       true,
			expectedCode: http.StatusBadRequest,
			expectedErr:  "validation_error",
		},
		{
			name:         "unknown gateway",
			gateway:      "paypal",
			raw:          []byte(`{}`),
			expectedCode: http.StatusNotFound,
			expectedErr:  "unknown_gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAPIEnv(t)
			header := http.Header{}
			if tt.signed {
				header = env.processor.SignWebhook(tt.raw)
			}

			rec := env.postWebhook(t, tt.gateway, tt.raw, header)

			assert.Equal(t, tt.expectedCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.expectedErr, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestWebhookController_InvalidSignatureFailsAwaitingOrder(t *testing.T) {
	env := newAPIEnv(t)
	reg := env.seedRegistration(50000, registration.TypeStudent)
	o := env.openOrder(t, reg)

	raw := mockDelivery(t, "success", o.GatewayOrderRef, 50000)
	rec := env.postWebhook(t, gateway.MockName, raw, http.Header{"X-Mock-Signature": []string{"deadbeef"}})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	stored, err := env.orders.GetByID(t.Context(), uuid.MustParse(o.ID))
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, stored.Status)

	flagged := env.auditRepo.ByAction("webhook_received")
	require.Len(t, flagged, 1)
	assert.True(t, flagged[0].SecurityRelevant)
}
