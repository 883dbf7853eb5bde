package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-yatri/internal/common"
	"github.com/noah-isme/backend-yatri/internal/events"
	"github.com/noah-isme/backend-yatri/internal/gateway"
	"github.com/noah-isme/backend-yatri/internal/lock"
	"github.com/noah-isme/backend-yatri/internal/obs"
)

// Ledger is the payment persistence surface the service depends on. Store
// implements it; tests substitute stubs.
type Ledger interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id uuid.UUID) (Payment, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (Payment, error)
	GetActiveByBooking(ctx context.Context, bookingID uuid.UUID) (Payment, error)
	GetLatestByBooking(ctx context.Context, bookingID uuid.UUID) (Payment, error)
	ListByUser(ctx context.Context, userID uuid.UUID, status Status, limit, offset int) ([]Payment, int, error)
	MarkPaid(ctx context.Context, id uuid.UUID, gatewayPaymentID, signature, transactionID string, metadata json.RawMessage) (Payment, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, metadata json.RawMessage) (Payment, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, amount int64, reason string, refundedAt time.Time) (Payment, error)
	AppendEvent(ctx context.Context, paymentID uuid.UUID, status Status, payload json.RawMessage) error
}

// BookingInfo is the view of a booking the payment engine consumes.
type BookingInfo struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Amount        int64
	PlatformFee   int64
	TotalAmount   int64
	ServiceType   ServiceType
	StartTime     time.Time
	PaymentStatus string
	Status        string
}

// Bookings is the booking collaborator surface. The engine owns only the
// payment projection fields on the booking.
type Bookings interface {
	Get(ctx context.Context, id uuid.UUID) (BookingInfo, error)
	GetForUser(ctx context.Context, id, userID uuid.UUID) (BookingInfo, error)
	LinkPayment(ctx context.Context, bookingID, paymentID uuid.UUID) error
	MarkPaid(ctx context.Context, bookingID uuid.UUID) error
	SetPaymentStatus(ctx context.Context, bookingID uuid.UUID, status Status) error
}

// TxRunner executes fn with ledger and booking surfaces bound to one database
// transaction, so the payment write and the booking write commit or roll back
// together.
type TxRunner interface {
	InTx(ctx context.Context, fn func(Ledger, Bookings) error) error
}

// SyncScheduler enqueues booking projection syncs processed by the worker.
type SyncScheduler interface {
	EnqueueBookingSync(ctx context.Context, bookingID uuid.UUID) error
}

// RefundRequest carries caller-supplied refund parameters. Amount nil means
// refund the full total. Override bypasses the cancellation-policy ceiling and
// is only granted to operator roles at the HTTP layer.
type RefundRequest struct {
	Amount   *int64
	Reason   string
	Override bool
}

// Service orchestrates the payment lifecycle: creation, client verification,
// webhook reconciliation and refunds.
type Service struct {
	Ledger         Ledger
	Bookings       Bookings
	Tx             TxRunner
	Gateway        gateway.Client
	CheckoutSecret string
	Currency       string
	Events         *events.Bus
	Sync           SyncScheduler
	// Locks serialises concurrent refund requests for the same payment so the
	// gateway refund call happens at most once per attempt window.
	Locks *lock.Locker
	Now   func() time.Time
}

// CreatePayment opens a gateway order for the booking total and records a
// pending payment. The gateway order is created before the local row is
// persisted, so a gateway failure never leaves an orphan payment without a
// gateway order id.
func (s *Service) CreatePayment(ctx context.Context, userID, bookingID uuid.UUID, method Method) (Payment, gateway.Order, error) {
	var zeroOrder gateway.Order
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreatePayment")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID.String()))

	result := "error"
	defer func() {
		if obs.PaymentCreateTotal != nil {
			obs.PaymentCreateTotal.WithLabelValues(string(method), result).Inc()
		}
	}()

	b, err := s.Bookings.GetForUser(ctx, bookingID, userID)
	if err != nil {
		return Payment{}, zeroOrder, common.NotFoundError("booking not found")
	}
	if b.TotalAmount != b.Amount+b.PlatformFee {
		return Payment{}, zeroOrder, common.InvalidAmountError("booking total does not match amount plus platform fee")
	}
	if _, err := s.Ledger.GetActiveByBooking(ctx, bookingID); err == nil {
		result = "conflict"
		return Payment{}, zeroOrder, common.ConflictError("an active payment already exists for this booking")
	} else if !errors.Is(err, ErrNotFound) {
		return Payment{}, zeroOrder, err
	}

	paymentID := uuid.New()
	order, err := s.Gateway.CreateOrder(ctx, common.ToMinorUnits(b.TotalAmount), s.currency(), paymentID.String(), map[string]string{
		"bookingId": bookingID.String(),
		"userId":    userID.String(),
	})
	if err != nil {
		span.RecordError(err)
		return Payment{}, zeroOrder, mapGatewayError(err)
	}

	p := Payment{
		ID:             paymentID,
		BookingID:      bookingID,
		UserID:         userID,
		Amount:         b.Amount,
		PlatformFee:    b.PlatformFee,
		TotalAmount:    b.TotalAmount,
		Method:         method,
		Status:         StatusPending,
		GatewayOrderID: order.ID,
	}
	err = s.inTx(ctx, func(l Ledger, bk Bookings) error {
		if err := l.Create(ctx, &p); err != nil {
			if errors.Is(err, ErrDuplicateActive) {
				return common.ConflictError("an active payment already exists for this booking")
			}
			return err
		}
		if err := bk.LinkPayment(ctx, bookingID, p.ID); err != nil {
			return err
		}
		return l.AppendEvent(ctx, p.ID, StatusPending, toJSON(map[string]any{"gatewayOrderId": order.ID}))
	})
	if err != nil {
		return Payment{}, zeroOrder, err
	}
	result = "success"
	s.emit(ctx, events.TopicPaymentCreated, p)
	return p, order, nil
}

// VerifyPayment handles the client's post-checkout proof of payment. The
// signature proves the tuple came from the gateway checkout, and the
// authoritative fetch confirms capture. The client's assertion alone is never
// trusted.
func (s *Service) VerifyPayment(ctx context.Context, userID uuid.UUID, orderID, gatewayPaymentID, signature string) (Payment, error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.VerifyPayment")
	defer span.End()

	result := "error"
	defer func() {
		if obs.PaymentVerifyTotal != nil {
			obs.PaymentVerifyTotal.WithLabelValues(result).Inc()
		}
	}()

	if !gateway.VerifyCheckout(s.CheckoutSecret, orderID, gatewayPaymentID, signature) {
		result = "invalid_signature"
		return Payment{}, common.InvalidSignatureError()
	}
	p, err := s.Ledger.GetByGatewayOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Payment{}, common.NotFoundError("payment not found")
		}
		return Payment{}, err
	}
	if p.UserID != userID {
		return Payment{}, common.NotFoundError("payment not found")
	}
	switch p.Status {
	case StatusPending:
	case StatusPaid:
		result = "already_paid"
		return Payment{}, common.ConflictError("payment already verified")
	default:
		return Payment{}, common.ConflictError(fmt.Sprintf("payment is %s", p.Status))
	}

	record, err := s.Gateway.FetchPayment(ctx, gatewayPaymentID)
	if err != nil {
		span.RecordError(err)
		return Payment{}, mapGatewayError(err)
	}
	if record.Status != gateway.StatusCaptured {
		result = "not_captured"
		return Payment{}, common.NewAppError("PAYMENT_NOT_CAPTURED",
			fmt.Sprintf("gateway reports payment status %q", record.Status), 400, nil)
	}

	var updated Payment
	err = s.inTx(ctx, func(l Ledger, bk Bookings) error {
		var txErr error
		updated, txErr = l.MarkPaid(ctx, p.ID, gatewayPaymentID, signature, record.ID, nil)
		if txErr != nil {
			if errors.Is(txErr, ErrStatusConflict) {
				// a webhook won the race; the payment is already settled
				return common.ConflictError("payment already verified")
			}
			return txErr
		}
		if txErr := bk.MarkPaid(ctx, p.BookingID); txErr != nil {
			return txErr
		}
		return l.AppendEvent(ctx, p.ID, StatusPaid, toJSON(map[string]any{
			"source":           "client_verify",
			"gatewayPaymentId": gatewayPaymentID,
		}))
	})
	if err != nil {
		return Payment{}, err
	}
	result = "success"
	s.emit(ctx, events.TopicPaymentPaid, updated)
	s.emitBookingConfirmed(ctx, updated)
	s.scheduleSync(ctx, updated.BookingID)
	return updated, nil
}

// Webhook event types understood by the reconciler. Anything else is
// acknowledged and ignored for forward compatibility.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

type capturedPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
}

type failedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"error_description"`
}

// ReconcileWebhookEvent applies an authenticated gateway notification to the
// ledger. Delivering the same event any number of times produces the same
// final state and exactly one effective booking update: replays observe a
// non-pending payment and fall through to the no-op path.
func (s *Service) ReconcileWebhookEvent(ctx context.Context, event string, payload json.RawMessage) error {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.ReconcileWebhookEvent")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.event", event))

	result := "error"
	defer func() {
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(event, result).Inc()
		}
	}()

	switch event {
	case EventPaymentCaptured:
		var data capturedPayload
		if err := json.Unmarshal(payload, &data); err != nil {
			result = "bad_payload"
			return common.NewAppError(common.CodeBadRequest, "malformed captured payload", 400, err)
		}
		if err := s.reconcileCaptured(ctx, data, payload); err != nil {
			return err
		}
		result = "success"
		return nil
	case EventPaymentFailed:
		var data failedPayload
		if err := json.Unmarshal(payload, &data); err != nil {
			result = "bad_payload"
			return common.NewAppError(common.CodeBadRequest, "malformed failed payload", 400, err)
		}
		if err := s.reconcileFailed(ctx, data, payload); err != nil {
			return err
		}
		result = "success"
		return nil
	default:
		result = "ignored"
		return nil
	}
}

func (s *Service) reconcileCaptured(ctx context.Context, data capturedPayload, raw json.RawMessage) error {
	p, err := s.Ledger.GetByGatewayOrderID(ctx, data.OrderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return common.NotFoundError("payment not found for gateway order")
		}
		return err
	}
	if p.Status != StatusPending {
		// already settled, duplicate delivery or client verify won
		return nil
	}
	var updated Payment
	err = s.inTx(ctx, func(l Ledger, bk Bookings) error {
		var txErr error
		updated, txErr = l.MarkPaid(ctx, p.ID, data.PaymentID, "", data.PaymentID, raw)
		if txErr != nil {
			if errors.Is(txErr, ErrStatusConflict) {
				// lost the race to a concurrent delivery
				updated = Payment{}
				return nil
			}
			return txErr
		}
		if txErr := bk.MarkPaid(ctx, p.BookingID); txErr != nil {
			return txErr
		}
		return l.AppendEvent(ctx, p.ID, StatusPaid, raw)
	})
	if err != nil {
		return err
	}
	if updated.ID != uuid.Nil {
		s.emit(ctx, events.TopicPaymentPaid, updated)
		s.emitBookingConfirmed(ctx, updated)
		s.scheduleSync(ctx, p.BookingID)
	}
	return nil
}

func (s *Service) reconcileFailed(ctx context.Context, data failedPayload, raw json.RawMessage) error {
	p, err := s.Ledger.GetByGatewayOrderID(ctx, data.OrderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return common.NotFoundError("payment not found for gateway order")
		}
		return err
	}
	if p.Status != StatusPending {
		return nil
	}
	reason := data.Reason
	if reason == "" {
		reason = "payment failed at gateway"
	}
	var updated Payment
	err = s.inTx(ctx, func(l Ledger, bk Bookings) error {
		var txErr error
		updated, txErr = l.MarkFailed(ctx, p.ID, reason, raw)
		if txErr != nil {
			if errors.Is(txErr, ErrStatusConflict) {
				updated = Payment{}
				return nil
			}
			return txErr
		}
		if txErr := bk.SetPaymentStatus(ctx, p.BookingID, StatusFailed); txErr != nil {
			return txErr
		}
		return l.AppendEvent(ctx, p.ID, StatusFailed, raw)
	})
	if err != nil {
		return err
	}
	if updated.ID != uuid.Nil {
		s.emit(ctx, events.TopicPaymentFailed, updated)
	}
	return nil
}

// ProcessRefund refunds a paid payment. The amount defaults to the full total,
// must not exceed it, and is capped by the cancellation-policy ceiling unless
// the request carries an operator override.
func (s *Service) ProcessRefund(ctx context.Context, userID, paymentID uuid.UUID, req RefundRequest) (Payment, error) {
	if s.Locks == nil {
		return s.processRefund(ctx, userID, paymentID, req)
	}
	var out Payment
	err := s.Locks.WithLock(ctx, "payment:refund:"+paymentID.String(), 30*time.Second, func(ctx context.Context) error {
		var lockErr error
		out, lockErr = s.processRefund(ctx, userID, paymentID, req)
		return lockErr
	})
	return out, err
}

func (s *Service) processRefund(ctx context.Context, userID, paymentID uuid.UUID, req RefundRequest) (Payment, error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.ProcessRefund")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", paymentID.String()))

	result := "error"
	defer func() {
		if obs.PaymentRefundTotal != nil {
			obs.PaymentRefundTotal.WithLabelValues(result).Inc()
		}
	}()

	p, err := s.Ledger.Get(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Payment{}, common.NotFoundError("payment not found")
		}
		return Payment{}, err
	}
	if p.UserID != userID && !req.Override {
		return Payment{}, common.NotFoundError("payment not found")
	}
	switch p.Status {
	case StatusPaid:
	case StatusRefunded:
		result = "already_refunded"
		return Payment{}, common.ConflictError("payment already refunded")
	default:
		return Payment{}, common.ConflictError(fmt.Sprintf("payment is %s, only paid payments can be refunded", p.Status))
	}
	if p.GatewayPaymentID == "" {
		return Payment{}, common.ConflictError("payment has no gateway capture to refund")
	}

	amount := p.TotalAmount
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 {
		return Payment{}, common.InvalidAmountError("refund amount must be positive")
	}
	if amount > p.TotalAmount {
		return Payment{}, common.InvalidAmountError("refund amount exceeds payment total")
	}
	if !req.Override {
		b, err := s.Bookings.Get(ctx, p.BookingID)
		if err != nil {
			return Payment{}, err
		}
		ceiling := EligibleRefund(p.TotalAmount, b.StartTime, b.ServiceType, s.now())
		if amount > ceiling {
			result = "policy_denied"
			return Payment{}, common.InvalidAmountError(
				fmt.Sprintf("refund amount %d exceeds policy ceiling %d", amount, ceiling))
		}
	}

	// retries reuse the same key so the gateway never refunds twice
	idemKey := "refund-" + p.ID.String()
	refund, err := s.Gateway.IssueRefund(ctx, p.GatewayPaymentID, common.ToMinorUnits(amount), map[string]string{
		"paymentId": p.ID.String(),
		"reason":    req.Reason,
	}, idemKey)
	if err != nil {
		span.RecordError(err)
		return Payment{}, mapGatewayError(err)
	}

	var updated Payment
	err = s.inTx(ctx, func(l Ledger, bk Bookings) error {
		var txErr error
		updated, txErr = l.MarkRefunded(ctx, p.ID, amount, req.Reason, s.now())
		if txErr != nil {
			if errors.Is(txErr, ErrStatusConflict) {
				return common.ConflictError("payment already refunded")
			}
			return txErr
		}
		if txErr := bk.SetPaymentStatus(ctx, p.BookingID, StatusRefunded); txErr != nil {
			return txErr
		}
		return l.AppendEvent(ctx, p.ID, StatusRefunded, toJSON(map[string]any{
			"refundId": refund.ID,
			"amount":   amount,
			"reason":   req.Reason,
		}))
	})
	if err != nil {
		return Payment{}, err
	}
	result = "success"
	s.emit(ctx, events.TopicPaymentRefunded, updated)
	s.scheduleSync(ctx, updated.BookingID)
	return updated, nil
}

// GetForUser returns a payment when it belongs to the user.
func (s *Service) GetForUser(ctx context.Context, userID, paymentID uuid.UUID) (Payment, error) {
	p, err := s.Ledger.Get(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Payment{}, common.NotFoundError("payment not found")
		}
		return Payment{}, err
	}
	if p.UserID != userID {
		return Payment{}, common.NotFoundError("payment not found")
	}
	return p, nil
}

// ListForUser returns the user's payments with the total row count.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, status Status, page, perPage int) ([]Payment, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return s.Ledger.ListByUser(ctx, userID, status, perPage, (page-1)*perPage)
}

// SyncBooking recomputes the booking's payment projection from the latest
// ledger entry. Safe to run any number of times; implements reconcile.Syncer.
func (s *Service) SyncBooking(ctx context.Context, bookingID uuid.UUID) error {
	result := "error"
	defer func() {
		if obs.BookingSyncTotal != nil {
			obs.BookingSyncTotal.WithLabelValues(result).Inc()
		}
	}()
	p, err := s.Ledger.GetLatestByBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			result = "noop"
			return nil
		}
		return err
	}
	switch p.Status {
	case StatusPaid:
		err = s.Bookings.MarkPaid(ctx, bookingID)
	default:
		err = s.Bookings.SetPaymentStatus(ctx, bookingID, p.Status)
	}
	if err != nil {
		return err
	}
	result = "success"
	return nil
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return "INR"
	}
	return s.Currency
}

func (s *Service) inTx(ctx context.Context, fn func(Ledger, Bookings) error) error {
	if s.Tx == nil {
		return fn(s.Ledger, s.Bookings)
	}
	return s.Tx.InTx(ctx, fn)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) emit(ctx context.Context, topic string, p Payment) {
	if s.Events == nil {
		return
	}
	_, _ = s.Events.Emit(ctx, topic, p.ID, map[string]any{
		"paymentId": p.ID.String(),
		"bookingId": p.BookingID.String(),
		"userId":    p.UserID.String(),
		"status":    string(p.Status),
		"amount":    p.TotalAmount,
	})
}

func (s *Service) emitBookingConfirmed(ctx context.Context, p Payment) {
	if s.Events == nil {
		return
	}
	_, _ = s.Events.Emit(ctx, events.TopicBookingConfirmed, p.BookingID, map[string]any{
		"bookingId": p.BookingID.String(),
		"paymentId": p.ID.String(),
		"userId":    p.UserID.String(),
	})
}

func (s *Service) scheduleSync(ctx context.Context, bookingID uuid.UUID) {
	if s.Sync == nil {
		return
	}
	_ = s.Sync.EnqueueBookingSync(ctx, bookingID)
}

func mapGatewayError(err error) error {
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		return common.NotFoundError("gateway does not know this payment")
	case errors.Is(err, gateway.ErrRejected):
		return common.GatewayRejectedError(err)
	default:
		return common.GatewayUnavailableError(err)
	}
}

func toJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
