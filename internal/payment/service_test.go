package payment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-yatri/internal/common"
	"github.com/noah-isme/backend-yatri/internal/gateway"
)

type stubLedger struct {
	mu       sync.Mutex
	payments map[uuid.UUID]Payment
	events   []Status
}

func newStubLedger() *stubLedger {
	return &stubLedger{payments: map[uuid.UUID]Payment{}}
}

func (l *stubLedger) Create(_ context.Context, p *Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.payments {
		if existing.BookingID == p.BookingID && (existing.Status == StatusPending || existing.Status == StatusPaid) {
			return ErrDuplicateActive
		}
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	l.payments[p.ID] = *p
	return nil
}

func (l *stubLedger) Get(_ context.Context, id uuid.UUID) (Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (l *stubLedger) GetByGatewayOrderID(_ context.Context, gatewayOrderID string) (Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.payments {
		if p.GatewayOrderID == gatewayOrderID {
			return p, nil
		}
	}
	return Payment{}, ErrNotFound
}

func (l *stubLedger) GetActiveByBooking(_ context.Context, bookingID uuid.UUID) (Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.payments {
		if p.BookingID == bookingID && (p.Status == StatusPending || p.Status == StatusPaid) {
			return p, nil
		}
	}
	return Payment{}, ErrNotFound
}

func (l *stubLedger) GetLatestByBooking(_ context.Context, bookingID uuid.UUID) (Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var (
		latest Payment
		found  bool
	)
	for _, p := range l.payments {
		if p.BookingID != bookingID {
			continue
		}
		if !found || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
			found = true
		}
	}
	if !found {
		return Payment{}, ErrNotFound
	}
	return latest, nil
}

func (l *stubLedger) ListByUser(_ context.Context, userID uuid.UUID, status Status, limit, offset int) ([]Payment, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Payment
	for _, p := range l.payments {
		if p.UserID != userID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (l *stubLedger) MarkPaid(_ context.Context, id uuid.UUID, gatewayPaymentID, signature, transactionID string, _ json.RawMessage) (Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok || p.Status != StatusPending {
		return Payment{}, ErrStatusConflict
	}
	p.Status = StatusPaid
	p.GatewayPaymentID = gatewayPaymentID
	p.GatewaySignature = signature
	p.TransactionID = transactionID
	p.UpdatedAt = time.Now()
	l.payments[id] = p
	return p, nil
}

func (l *stubLedger) MarkFailed(_ context.Context, id uuid.UUID, reason string, _ json.RawMessage) (Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok || p.Status != StatusPending {
		return Payment{}, ErrStatusConflict
	}
	p.Status = StatusFailed
	p.FailureReason = reason
	l.payments[id] = p
	return p, nil
}

func (l *stubLedger) MarkRefunded(_ context.Context, id uuid.UUID, amount int64, reason string, refundedAt time.Time) (Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok || p.Status != StatusPaid {
		return Payment{}, ErrStatusConflict
	}
	p.Status = StatusRefunded
	p.RefundAmount = amount
	p.RefundReason = reason
	p.RefundedAt = &refundedAt
	l.payments[id] = p
	return p, nil
}

func (l *stubLedger) AppendEvent(_ context.Context, _ uuid.UUID, status Status, _ json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, status)
	return nil
}

type stubBookings struct {
	mu            sync.Mutex
	bookings      map[uuid.UUID]BookingInfo
	linked        map[uuid.UUID]uuid.UUID
	markPaidCalls int
	statusWrites  []Status
}

func newStubBookings() *stubBookings {
	return &stubBookings{bookings: map[uuid.UUID]BookingInfo{}, linked: map[uuid.UUID]uuid.UUID{}}
}

func (b *stubBookings) Get(_ context.Context, id uuid.UUID) (BookingInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.bookings[id]
	if !ok {
		return BookingInfo{}, errors.New("booking: not found")
	}
	return info, nil
}

func (b *stubBookings) GetForUser(_ context.Context, id, userID uuid.UUID) (BookingInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.bookings[id]
	if !ok || info.UserID != userID {
		return BookingInfo{}, errors.New("booking: not found")
	}
	return info, nil
}

func (b *stubBookings) LinkPayment(_ context.Context, bookingID, paymentID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.linked[bookingID] = paymentID
	return nil
}

func (b *stubBookings) MarkPaid(_ context.Context, bookingID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	info := b.bookings[bookingID]
	info.PaymentStatus = string(StatusPaid)
	info.Status = "confirmed"
	b.bookings[bookingID] = info
	b.markPaidCalls++
	return nil
}

func (b *stubBookings) SetPaymentStatus(_ context.Context, bookingID uuid.UUID, status Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	info := b.bookings[bookingID]
	info.PaymentStatus = string(status)
	b.bookings[bookingID] = info
	b.statusWrites = append(b.statusWrites, status)
	return nil
}

const testCheckoutSecret = "test-checkout-secret"

type fixture struct {
	service  *Service
	ledger   *stubLedger
	bookings *stubBookings
	mock     *gateway.Mock
	userID   uuid.UUID
	booking  uuid.UUID
}

func newFixture(t *testing.T, startAhead time.Duration) *fixture {
	t.Helper()
	ledger := newStubLedger()
	bookings := newStubBookings()
	mock := &gateway.Mock{}
	userID := uuid.New()
	bookingID := uuid.New()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	bookings.bookings[bookingID] = BookingInfo{
		ID:          bookingID,
		UserID:      userID,
		Amount:      900,
		PlatformFee: 100,
		TotalAmount: 1000,
		ServiceType: ServicePooling,
		StartTime:   now.Add(startAhead),
		Status:      "created",
	}
	return &fixture{
		service: &Service{
			Ledger:         ledger,
			Bookings:       bookings,
			Gateway:        mock,
			CheckoutSecret: testCheckoutSecret,
			Currency:       "INR",
			Now:            func() time.Time { return now },
		},
		ledger:   ledger,
		bookings: bookings,
		mock:     mock,
		userID:   userID,
		booking:  bookingID,
	}
}

func (f *fixture) createPaid(t *testing.T) Payment {
	t.Helper()
	ctx := context.Background()
	p, order, err := f.service.CreatePayment(ctx, f.userID, f.booking, MethodUPI)
	require.NoError(t, err)
	sig := gateway.ComputeHMAC(testCheckoutSecret, []byte(order.ID+"|pay_test_1"))
	paid, err := f.service.VerifyPayment(ctx, f.userID, order.ID, "pay_test_1", sig)
	require.NoError(t, err)
	require.Equal(t, p.ID, paid.ID)
	return paid
}

func appErrCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

func TestCreatePayment(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	p, order, err := f.service.CreatePayment(context.Background(), f.userID, f.booking, MethodUPI)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, int64(1000), p.TotalAmount)
	assert.Equal(t, order.ID, p.GatewayOrderID)
	assert.Equal(t, int64(100000), order.Amount, "gateway order amount is in paise")
	assert.Equal(t, p.ID, f.bookings.linked[f.booking])
	assert.Equal(t, []Status{StatusPending}, f.ledger.events)
}

func TestCreatePaymentRejectsSecondActive(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	_, _, err := f.service.CreatePayment(context.Background(), f.userID, f.booking, MethodUPI)
	require.NoError(t, err)

	_, _, err = f.service.CreatePayment(context.Background(), f.userID, f.booking, MethodCard)
	assert.Equal(t, common.CodeConflict, appErrCode(t, err))
}

func TestCreatePaymentAllowsRetryAfterFailure(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()
	p, order, err := f.service.CreatePayment(ctx, f.userID, f.booking, MethodUPI)
	require.NoError(t, err)

	failed, _ := json.Marshal(failedPayload{OrderID: order.ID, Reason: "card declined"})
	require.NoError(t, f.service.ReconcileWebhookEvent(ctx, EventPaymentFailed, failed))

	got, err := f.ledger.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)

	_, _, err = f.service.CreatePayment(ctx, f.userID, f.booking, MethodCard)
	assert.NoError(t, err, "a failed payment must not block a new attempt")
}

func TestCreatePaymentUnknownBooking(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	_, _, err := f.service.CreatePayment(context.Background(), f.userID, uuid.New(), MethodUPI)
	assert.Equal(t, common.CodeNotFound, appErrCode(t, err))
}

func TestCreatePaymentGatewayUnavailable(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	f.mock.CreateOrderErr = gateway.ErrUnavailable

	_, _, err := f.service.CreatePayment(context.Background(), f.userID, f.booking, MethodUPI)
	assert.Equal(t, common.CodeGatewayUnavailable, appErrCode(t, err))
	assert.Empty(t, f.ledger.payments, "no pending row without a gateway order")
}

func TestVerifyPayment(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	paid := f.createPaid(t)

	assert.Equal(t, StatusPaid, paid.Status)
	assert.Equal(t, "pay_test_1", paid.GatewayPaymentID)
	assert.Equal(t, 1, f.bookings.markPaidCalls)
	assert.Equal(t, "confirmed", f.bookings.bookings[f.booking].Status)
}

func TestVerifyPaymentBadSignature(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()
	p, order, err := f.service.CreatePayment(ctx, f.userID, f.booking, MethodUPI)
	require.NoError(t, err)

	_, err = f.service.VerifyPayment(ctx, f.userID, order.ID, "pay_test_1", "deadbeef")
	assert.Equal(t, common.CodeInvalidSignature, appErrCode(t, err))

	got, err := f.ledger.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status, "a forged proof must not settle the payment")
	assert.Zero(t, f.bookings.markPaidCalls)
}

func TestVerifyPaymentNotCaptured(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()
	_, order, err := f.service.CreatePayment(ctx, f.userID, f.booking, MethodUPI)
	require.NoError(t, err)
	f.mock.SetPaymentStatus("pay_test_1", "authorized")

	sig := gateway.ComputeHMAC(testCheckoutSecret, []byte(order.ID+"|pay_test_1"))
	_, err = f.service.VerifyPayment(ctx, f.userID, order.ID, "pay_test_1", sig)
	assert.Equal(t, "PAYMENT_NOT_CAPTURED", appErrCode(t, err))
}

func TestVerifyPaymentWrongUser(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()
	_, order, err := f.service.CreatePayment(ctx, f.userID, f.booking, MethodUPI)
	require.NoError(t, err)

	sig := gateway.ComputeHMAC(testCheckoutSecret, []byte(order.ID+"|pay_test_1"))
	_, err = f.service.VerifyPayment(ctx, uuid.New(), order.ID, "pay_test_1", sig)
	assert.Equal(t, common.CodeNotFound, appErrCode(t, err))
}

func TestVerifyPaymentTwice(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	f.createPaid(t)

	active, err := f.ledger.GetActiveByBooking(context.Background(), f.booking)
	require.NoError(t, err)
	sig := gateway.ComputeHMAC(testCheckoutSecret, []byte(active.GatewayOrderID+"|pay_test_1"))
	_, err = f.service.VerifyPayment(context.Background(), f.userID, active.GatewayOrderID, "pay_test_1", sig)
	assert.Equal(t, common.CodeConflict, appErrCode(t, err))
	assert.Equal(t, 1, f.bookings.markPaidCalls)
}

func TestWebhookCapturedIsIdempotent(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()
	p, order, err := f.service.CreatePayment(ctx, f.userID, f.booking, MethodUPI)
	require.NoError(t, err)

	payload, _ := json.Marshal(capturedPayload{OrderID: order.ID, PaymentID: "pay_wh_1", Amount: 100000})
	for i := 0; i < 3; i++ {
		require.NoError(t, f.service.ReconcileWebhookEvent(ctx, EventPaymentCaptured, payload))
	}

	got, err := f.ledger.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	assert.Equal(t, "pay_wh_1", got.GatewayPaymentID)
	assert.Equal(t, 1, f.bookings.markPaidCalls, "replays must produce exactly one effective booking update")
	assert.Equal(t, []Status{StatusPending, StatusPaid}, f.ledger.events)
}

func TestWebhookFailed(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()
	p, order, err := f.service.CreatePayment(ctx, f.userID, f.booking, MethodUPI)
	require.NoError(t, err)

	payload, _ := json.Marshal(failedPayload{OrderID: order.ID, Reason: "insufficient funds"})
	require.NoError(t, f.service.ReconcileWebhookEvent(ctx, EventPaymentFailed, payload))

	got, err := f.ledger.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "insufficient funds", got.FailureReason)
	assert.Equal(t, []Status{StatusFailed}, f.bookings.statusWrites)
}

func TestWebhookIgnoresSettledPayment(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	paid := f.createPaid(t)

	payload, _ := json.Marshal(failedPayload{OrderID: paid.GatewayOrderID, Reason: "late failure"})
	require.NoError(t, f.service.ReconcileWebhookEvent(context.Background(), EventPaymentFailed, payload))

	got, _ := f.ledger.Get(context.Background(), paid.ID)
	assert.Equal(t, StatusPaid, got.Status, "a failed event must not regress a paid payment")
}

func TestWebhookUnknownEvent(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	err := f.service.ReconcileWebhookEvent(context.Background(), "refund.speed_changed", json.RawMessage(`{}`))
	assert.NoError(t, err)
}

func TestWebhookUnknownOrder(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	payload, _ := json.Marshal(capturedPayload{OrderID: "order_unknown", PaymentID: "pay_x"})
	err := f.service.ReconcileWebhookEvent(context.Background(), EventPaymentCaptured, payload)
	assert.Equal(t, common.CodeNotFound, appErrCode(t, err))
}

func TestRefundFullByDefault(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	paid := f.createPaid(t)

	refunded, err := f.service.ProcessRefund(context.Background(), f.userID, paid.ID, RefundRequest{Reason: "plans changed"})
	require.NoError(t, err)

	assert.Equal(t, StatusRefunded, refunded.Status)
	assert.Equal(t, int64(1000), refunded.RefundAmount)
	require.NotNil(t, refunded.RefundedAt)
	assert.Equal(t, []string{"refund-" + paid.ID.String()}, f.mock.RefundKeys)
	assert.Equal(t, []Status{StatusRefunded}, f.bookings.statusWrites)
}

func TestRefundPartial(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	paid := f.createPaid(t)

	amount := int64(400)
	refunded, err := f.service.ProcessRefund(context.Background(), f.userID, paid.ID, RefundRequest{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, int64(400), refunded.RefundAmount)
}

func TestRefundDeniedByPolicy(t *testing.T) {
	// 18h before a pooling ride only half is refundable
	f := newFixture(t, 18*time.Hour)
	paid := f.createPaid(t)

	_, err := f.service.ProcessRefund(context.Background(), f.userID, paid.ID, RefundRequest{})
	assert.Equal(t, common.CodeInvalidAmount, appErrCode(t, err))
	assert.Zero(t, f.mock.Refunds(), "no gateway refund when policy denies")

	half := int64(500)
	refunded, err := f.service.ProcessRefund(context.Background(), f.userID, paid.ID, RefundRequest{Amount: &half})
	require.NoError(t, err)
	assert.Equal(t, int64(500), refunded.RefundAmount)
}

func TestRefundOverrideBypassesPolicy(t *testing.T) {
	f := newFixture(t, time.Hour)
	paid := f.createPaid(t)

	refunded, err := f.service.ProcessRefund(context.Background(), f.userID, paid.ID, RefundRequest{Override: true, Reason: "driver no-show"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), refunded.RefundAmount)
}

func TestRefundAmountExceedsTotal(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	paid := f.createPaid(t)

	amount := int64(1001)
	_, err := f.service.ProcessRefund(context.Background(), f.userID, paid.ID, RefundRequest{Amount: &amount})
	assert.Equal(t, common.CodeInvalidAmount, appErrCode(t, err))
}

func TestRefundPendingPayment(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	p, _, err := f.service.CreatePayment(context.Background(), f.userID, f.booking, MethodUPI)
	require.NoError(t, err)

	_, err = f.service.ProcessRefund(context.Background(), f.userID, p.ID, RefundRequest{})
	assert.Equal(t, common.CodeConflict, appErrCode(t, err))
}

func TestRefundTwice(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	paid := f.createPaid(t)

	_, err := f.service.ProcessRefund(context.Background(), f.userID, paid.ID, RefundRequest{})
	require.NoError(t, err)
	_, err = f.service.ProcessRefund(context.Background(), f.userID, paid.ID, RefundRequest{})
	assert.Equal(t, common.CodeConflict, appErrCode(t, err))
	assert.Equal(t, 1, f.mock.Refunds())
}

func TestSyncBooking(t *testing.T) {
	f := newFixture(t, 72*time.Hour)
	ctx := context.Background()

	require.NoError(t, f.service.SyncBooking(ctx, uuid.New()), "no payments is a no-op")

	paid := f.createPaid(t)
	calls := f.bookings.markPaidCalls
	require.NoError(t, f.service.SyncBooking(ctx, paid.BookingID))
	assert.Equal(t, calls+1, f.bookings.markPaidCalls)
	assert.Equal(t, "confirmed", f.bookings.bookings[f.booking].Status)
}
