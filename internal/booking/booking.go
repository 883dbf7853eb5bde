package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/backend-yatri/internal/payment"
)

// ErrNotFound is returned when the referenced booking does not exist.
var ErrNotFound = errors.New("booking: not found")

// Booking is the collaborator record owned by the booking subsystem. The
// payment engine reads pricing/ownership fields and mutates only the payment
// projection (payment_id, payment_status, status).
type Booking struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Amount        int64
	PlatformFee   int64
	TotalAmount   int64
	ServiceType   payment.ServiceType
	StartTime     time.Time
	PaymentID     *uuid.UUID
	PaymentStatus string
	Status        string
}

// DBTX is the subset of pgx operations the store needs, satisfied by both
// *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and mutates bookings through pgx.
type Store struct {
	DB DBTX
}

// WithTx returns a store bound to the provided transaction.
func (s Store) WithTx(tx pgx.Tx) Store {
	return Store{DB: tx}
}

const bookingColumns = `id, user_id, amount, platform_fee, total_amount, service_type, start_time, payment_id, payment_status, status`

// Get returns a booking by id.
func (s Store) Get(ctx context.Context, id uuid.UUID) (Booking, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

// GetForUser returns a booking only when it belongs to userID.
func (s Store) GetForUser(ctx context.Context, id, userID uuid.UUID) (Booking, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND user_id = $2`, id, userID)
	return scanBooking(row)
}

// LinkPayment records the active payment on the booking.
func (s Store) LinkPayment(ctx context.Context, bookingID, paymentID uuid.UUID) error {
	tag, err := s.DB.Exec(ctx,
		`UPDATE bookings SET payment_id = $2, payment_status = 'pending', updated_at = now() WHERE id = $1`,
		bookingID, paymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaid flips the booking to confirmed with a paid payment projection.
func (s Store) MarkPaid(ctx context.Context, bookingID uuid.UUID) error {
	tag, err := s.DB.Exec(ctx,
		`UPDATE bookings SET payment_status = 'paid', status = 'confirmed', updated_at = now() WHERE id = $1`,
		bookingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPaymentStatus mirrors a payment status onto the booking without touching
// the booking status itself.
func (s Store) SetPaymentStatus(ctx context.Context, bookingID uuid.UUID, status payment.Status) error {
	tag, err := s.DB.Exec(ctx,
		`UPDATE bookings SET payment_status = $2, updated_at = now() WHERE id = $1`,
		bookingID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBooking(row pgx.Row) (Booking, error) {
	var b Booking
	var paymentID uuid.NullUUID
	err := row.Scan(&b.ID, &b.UserID, &b.Amount, &b.PlatformFee, &b.TotalAmount,
		&b.ServiceType, &b.StartTime, &paymentID, &b.PaymentStatus, &b.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	if err != nil {
		return Booking{}, err
	}
	if paymentID.Valid {
		id := paymentID.UUID
		b.PaymentID = &id
	}
	return b, nil
}
