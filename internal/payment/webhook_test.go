package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-yatri/internal/gateway"
)

const testWebhookSecret = "test-webhook-secret"

func newWebhook(t *testing.T) (Webhook, *fixture) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, 72*time.Hour)
	return Webhook{
		Service:   f.service,
		Secret:    testWebhookSecret,
		Replay:    client,
		ReplayTTL: time.Minute,
		Logger:    zerolog.Nop(),
	}, f
}

func deliver(t *testing.T, h Webhook, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Razorpay-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func capturedBody(t *testing.T, orderID string) []byte {
	t.Helper()
	payload, err := json.Marshal(capturedPayload{OrderID: orderID, PaymentID: "pay_wh_1", Amount: 100000})
	require.NoError(t, err)
	body, err := json.Marshal(webhookEnvelope{Event: EventPaymentCaptured, Payload: payload})
	require.NoError(t, err)
	return body
}

func TestWebhookHandleSettlesPayment(t *testing.T) {
	h, f := newWebhook(t)
	p, order, err := f.service.CreatePayment(context.Background(), f.userID, f.booking, MethodUPI)
	require.NoError(t, err)

	body := capturedBody(t, order.ID)
	rec := deliver(t, h, body, gateway.ComputeHMAC(testWebhookSecret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	got, err := f.ledger.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	assert.Equal(t, 1, f.bookings.markPaidCalls)
}

func TestWebhookHandleRejectsBadSignature(t *testing.T) {
	h, f := newWebhook(t)
	p, order, err := f.service.CreatePayment(context.Background(), f.userID, f.booking, MethodUPI)
	require.NoError(t, err)

	body := capturedBody(t, order.ID)
	rec := deliver(t, h, body, gateway.ComputeHMAC("wrong-secret", body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = deliver(t, h, body, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	got, err := f.ledger.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestWebhookHandleDeduplicatesDeliveries(t *testing.T) {
	h, f := newWebhook(t)
	_, order, err := f.service.CreatePayment(context.Background(), f.userID, f.booking, MethodUPI)
	require.NoError(t, err)

	body := capturedBody(t, order.ID)
	sig := gateway.ComputeHMAC(testWebhookSecret, body)

	first := deliver(t, h, body, sig)
	assert.Equal(t, http.StatusOK, first.Code)

	second := deliver(t, h, body, sig)
	assert.Equal(t, http.StatusOK, second.Code, "duplicates are acknowledged, not errored")
	assert.Contains(t, second.Body.String(), "duplicate")
	assert.Equal(t, 1, f.bookings.markPaidCalls)
}

func TestWebhookHandleMalformedEnvelope(t *testing.T) {
	h, _ := newWebhook(t)
	body := []byte(`{"event":`)
	rec := deliver(t, h, body, gateway.ComputeHMAC(testWebhookSecret, body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookHandleUnknownOrderAnswers500(t *testing.T) {
	h, f := newWebhook(t)

	// a capture can outrun the local insert; 500 makes the gateway redeliver
	// once the pending row is committed
	body := capturedBody(t, "order_unseen")
	sig := gateway.ComputeHMAC(testWebhookSecret, body)
	rec := deliver(t, h, body, sig)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	p := Payment{
		ID:             uuid.New(),
		BookingID:      f.booking,
		UserID:         f.userID,
		Amount:         900,
		PlatformFee:    100,
		TotalAmount:    1000,
		Method:         MethodUPI,
		Status:         StatusPending,
		GatewayOrderID: "order_unseen",
	}
	require.NoError(t, f.ledger.Create(context.Background(), &p))

	// the failed delivery must not poison the replay guard
	rec = deliver(t, h, body, sig)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := f.ledger.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
}

func TestWebhookHandleAcksUnknownEvent(t *testing.T) {
	h, _ := newWebhook(t)
	body := []byte(`{"event":"subscription.activated","payload":{}}`)
	rec := deliver(t, h, body, gateway.ComputeHMAC(testWebhookSecret, body))
	assert.Equal(t, http.StatusOK, rec.Code)
}
