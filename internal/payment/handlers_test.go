package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-yatri/internal/common"
)

func newHandlerFixture(t *testing.T, startAhead time.Duration) (*fixture, http.Handler) {
	t.Helper()
	f := newFixture(t, startAhead)
	h := Handlers{Service: f.service, Validate: validator.New(), KeyID: "rzp_test_key"}

	r := chi.NewRouter()
	r.Get("/payments/methods", h.Methods)
	r.Post("/payments/create", h.Create)
	r.Post("/payments/verify", h.Verify)
	r.Get("/payments/{paymentId}", h.Get)
	r.Get("/payments", h.List)
	r.Post("/payments/{paymentId}/refund", h.Refund)
	return f, r
}

func doJSON(t *testing.T, handler http.Handler, ctx context.Context, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func authedCtx(f *fixture) context.Context {
	return common.WithUserID(context.Background(), f.userID.String())
}

func TestHandlersMethodsIsPublic(t *testing.T) {
	_, handler := newHandlerFixture(t, 72*time.Hour)

	rec := doJSON(t, handler, context.Background(), http.MethodGet, "/payments/methods", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(MethodUPI))
}

func TestHandlersCreateRequiresAuth(t *testing.T) {
	f, handler := newHandlerFixture(t, 72*time.Hour)

	rec := doJSON(t, handler, context.Background(), http.MethodPost, "/payments/create",
		map[string]string{"bookingId": f.booking.String(), "method": "upi"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlersCreate(t *testing.T) {
	f, handler := newHandlerFixture(t, 72*time.Hour)

	rec := doJSON(t, handler, authedCtx(f), http.MethodPost, "/payments/create",
		map[string]string{"bookingId": f.booking.String(), "method": "upi"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Payment Payment `json:"payment"`
		Order   struct {
			ID       string `json:"id"`
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			KeyID    string `json:"keyId"`
		} `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusPending, resp.Payment.Status)
	assert.Equal(t, int64(100000), resp.Order.Amount)
	assert.Equal(t, "rzp_test_key", resp.Order.KeyID)
	assert.NotEmpty(t, resp.Order.ID)
}

func TestHandlersCreateRejectsUnknownMethod(t *testing.T) {
	f, handler := newHandlerFixture(t, 72*time.Hour)

	rec := doJSON(t, handler, authedCtx(f), http.MethodPost, "/payments/create",
		map[string]string{"bookingId": f.booking.String(), "method": "cheque"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), common.CodeBadRequest)
}

func TestHandlersCreateValidation(t *testing.T) {
	f, handler := newHandlerFixture(t, 72*time.Hour)

	rec := doJSON(t, handler, authedCtx(f), http.MethodPost, "/payments/create",
		map[string]string{"bookingId": "not-a-uuid", "method": "upi"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlersGetAndList(t *testing.T) {
	f, handler := newHandlerFixture(t, 72*time.Hour)
	paid := f.createPaid(t)

	rec := doJSON(t, handler, authedCtx(f), http.MethodGet, "/payments/"+paid.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), paid.ID.String())

	rec = doJSON(t, handler, authedCtx(f), http.MethodGet, "/payments?status=paid", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_items":1`)

	rec = doJSON(t, handler, authedCtx(f), http.MethodGet, "/payments?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlersRefundOverrideNeedsOperatorRole(t *testing.T) {
	f, handler := newHandlerFixture(t, time.Hour)
	paid := f.createPaid(t)

	// without the operator role the override flag is ignored and the policy
	// ceiling (0 at one hour before start) rejects the refund
	rec := doJSON(t, handler, authedCtx(f), http.MethodPost, "/payments/"+paid.ID.String()+"/refund",
		map[string]any{"override": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), common.CodeInvalidAmount)

	ctx := common.WithRoles(authedCtx(f), []string{RoleOperator})
	rec = doJSON(t, handler, ctx, http.MethodPost, "/payments/"+paid.ID.String()+"/refund",
		map[string]any{"override": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), string(StatusRefunded))
}
