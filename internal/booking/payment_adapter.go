package booking

import (
	"context"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-yatri/internal/payment"
)

// PaymentAdapter exposes a Store as the payment engine's booking collaborator.
type PaymentAdapter struct {
	Store Store
}

var _ payment.Bookings = PaymentAdapter{}

func (a PaymentAdapter) Get(ctx context.Context, id uuid.UUID) (payment.BookingInfo, error) {
	b, err := a.Store.Get(ctx, id)
	if err != nil {
		return payment.BookingInfo{}, err
	}
	return toInfo(b), nil
}

func (a PaymentAdapter) GetForUser(ctx context.Context, id, userID uuid.UUID) (payment.BookingInfo, error) {
	b, err := a.Store.GetForUser(ctx, id, userID)
	if err != nil {
		return payment.BookingInfo{}, err
	}
	return toInfo(b), nil
}

func (a PaymentAdapter) LinkPayment(ctx context.Context, bookingID, paymentID uuid.UUID) error {
	return a.Store.LinkPayment(ctx, bookingID, paymentID)
}

func (a PaymentAdapter) MarkPaid(ctx context.Context, bookingID uuid.UUID) error {
	return a.Store.MarkPaid(ctx, bookingID)
}

func (a PaymentAdapter) SetPaymentStatus(ctx context.Context, bookingID uuid.UUID, status payment.Status) error {
	return a.Store.SetPaymentStatus(ctx, bookingID, status)
}

func toInfo(b Booking) payment.BookingInfo {
	return payment.BookingInfo{
		ID:            b.ID,
		UserID:        b.UserID,
		Amount:        b.Amount,
		PlatformFee:   b.PlatformFee,
		TotalAmount:   b.TotalAmount,
		ServiceType:   b.ServiceType,
		StartTime:     b.StartTime,
		PaymentStatus: b.PaymentStatus,
		Status:        b.Status,
	}
}
