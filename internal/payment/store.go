package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when no payment matches the lookup.
	ErrNotFound = errors.New("payment: not found")
	// ErrDuplicateActive is returned when a pending or paid payment already
	// exists for the booking (partial unique index violation).
	ErrDuplicateActive = errors.New("payment: active payment already exists for booking")
	// ErrStatusConflict is returned when a conditional status update matched no
	// row, i.e. the payment moved out of the expected state concurrently.
	ErrStatusConflict = errors.New("payment: status changed concurrently")
)

const uniqueViolation = "23505"

// DBTX is the subset of pgx operations the store needs, satisfied by both
// *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists payments through pgx. Every status mutation is a single
// conditional UPDATE keyed on (id, expected current status); there is no
// read-then-write anywhere in this store.
type Store struct {
	DB DBTX
}

// WithTx returns a store bound to the provided transaction.
func (s Store) WithTx(tx pgx.Tx) Store {
	return Store{DB: tx}
}

const paymentColumns = `id, booking_id, user_id, amount, platform_fee, total_amount, method, status,
	gateway_order_id, gateway_payment_id, gateway_signature, transaction_id, failure_reason,
	refund_amount, refund_reason, refunded_at, metadata, created_at, updated_at`

// Create inserts a new pending payment. The partial unique index on
// (booking_id) WHERE status IN ('pending','paid') turns a concurrent duplicate
// into ErrDuplicateActive.
func (s Store) Create(ctx context.Context, p *Payment) error {
	row := s.DB.QueryRow(ctx, `
		INSERT INTO payments (id, booking_id, user_id, amount, platform_fee, total_amount, method, status, gateway_order_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		p.ID, p.BookingID, p.UserID, p.Amount, p.PlatformFee, p.TotalAmount,
		string(p.Method), string(p.Status), nullable(p.GatewayOrderID), metadataOrEmpty(p.Metadata))
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateActive
		}
		return err
	}
	return nil
}

// Get returns a payment by id.
func (s Store) Get(ctx context.Context, id uuid.UUID) (Payment, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

// GetByGatewayOrderID locates the payment created for a gateway order.
func (s Store) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (Payment, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id = $1`, gatewayOrderID)
	return scanPayment(row)
}

// GetActiveByBooking returns the pending or paid payment for a booking, if any.
func (s Store) GetActiveByBooking(ctx context.Context, bookingID uuid.UUID) (Payment, error) {
	row := s.DB.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1 AND status IN ('pending','paid')`,
		bookingID)
	return scanPayment(row)
}

// GetLatestByBooking returns the most recently created payment for a booking
// regardless of status. Used by the projection sync.
func (s Store) GetLatestByBooking(ctx context.Context, bookingID uuid.UUID) (Payment, error) {
	row := s.DB.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1 ORDER BY created_at DESC LIMIT 1`,
		bookingID)
	return scanPayment(row)
}

// ListByUser returns the user's payments newest first, optionally filtered by
// status, with the total count for pagination.
func (s Store) ListByUser(ctx context.Context, userID uuid.UUID, status Status, limit, offset int) ([]Payment, int, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status != "" {
		rows, err = s.DB.Query(ctx, `SELECT `+paymentColumns+`, count(*) OVER() AS total
			FROM payments WHERE user_id = $1 AND status = $2
			ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
			userID, string(status), limit, offset)
	} else {
		rows, err = s.DB.Query(ctx, `SELECT `+paymentColumns+`, count(*) OVER() AS total
			FROM payments WHERE user_id = $1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			userID, limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		out   []Payment
		total int
	)
	for rows.Next() {
		p, n, err := scanPaymentWithTotal(rows)
		if err != nil {
			return nil, 0, err
		}
		total = n
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// MarkPaid transitions pending->paid recording the gateway evidence. Returns
// ErrStatusConflict when the payment is no longer pending.
func (s Store) MarkPaid(ctx context.Context, id uuid.UUID, gatewayPaymentID, signature, transactionID string, metadata json.RawMessage) (Payment, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE payments
		SET status = 'paid', gateway_payment_id = $2, gateway_signature = $3,
			transaction_id = $4, metadata = COALESCE($5, metadata), updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+paymentColumns,
		id, gatewayPaymentID, nullable(signature), nullable(transactionID), metadata)
	p, err := scanPayment(row)
	if errors.Is(err, ErrNotFound) {
		return Payment{}, ErrStatusConflict
	}
	return p, err
}

// MarkFailed transitions pending->failed with the gateway failure reason.
func (s Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string, metadata json.RawMessage) (Payment, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE payments
		SET status = 'failed', failure_reason = $2, metadata = COALESCE($3, metadata), updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+paymentColumns,
		id, nullable(reason), metadata)
	p, err := scanPayment(row)
	if errors.Is(err, ErrNotFound) {
		return Payment{}, ErrStatusConflict
	}
	return p, err
}

// MarkRefunded transitions paid->refunded recording the refund details.
func (s Store) MarkRefunded(ctx context.Context, id uuid.UUID, amount int64, reason string, refundedAt time.Time) (Payment, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE payments
		SET status = 'refunded', refund_amount = $2, refund_reason = $3, refunded_at = $4, updated_at = now()
		WHERE id = $1 AND status = 'paid'
		RETURNING `+paymentColumns,
		id, amount, nullable(reason), refundedAt)
	p, err := scanPayment(row)
	if errors.Is(err, ErrNotFound) {
		return Payment{}, ErrStatusConflict
	}
	return p, err
}

// AppendEvent records a row in the append-only payment journal.
func (s Store) AppendEvent(ctx context.Context, paymentID uuid.UUID, status Status, payload json.RawMessage) error {
	_, err := s.DB.Exec(ctx,
		`INSERT INTO payment_events (payment_id, status, payload) VALUES ($1, $2, $3)`,
		paymentID, string(status), metadataOrEmpty(payload))
	return err
}

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p                Payment
		gatewayOrderID   *string
		gatewayPaymentID *string
		signature        *string
		transactionID    *string
		failureReason    *string
		refundAmount     *int64
		refundReason     *string
		refundedAt       *time.Time
	)
	err := row.Scan(&p.ID, &p.BookingID, &p.UserID, &p.Amount, &p.PlatformFee, &p.TotalAmount,
		&p.Method, &p.Status, &gatewayOrderID, &gatewayPaymentID, &signature, &transactionID,
		&failureReason, &refundAmount, &refundReason, &refundedAt, &p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	applyOptional(&p, gatewayOrderID, gatewayPaymentID, signature, transactionID, failureReason, refundAmount, refundReason, refundedAt)
	return p, nil
}

func scanPaymentWithTotal(rows pgx.Rows) (Payment, int, error) {
	var (
		p                Payment
		gatewayOrderID   *string
		gatewayPaymentID *string
		signature        *string
		transactionID    *string
		failureReason    *string
		refundAmount     *int64
		refundReason     *string
		refundedAt       *time.Time
		total            int
	)
	err := rows.Scan(&p.ID, &p.BookingID, &p.UserID, &p.Amount, &p.PlatformFee, &p.TotalAmount,
		&p.Method, &p.Status, &gatewayOrderID, &gatewayPaymentID, &signature, &transactionID,
		&failureReason, &refundAmount, &refundReason, &refundedAt, &p.Metadata, &p.CreatedAt, &p.UpdatedAt, &total)
	if err != nil {
		return Payment{}, 0, err
	}
	applyOptional(&p, gatewayOrderID, gatewayPaymentID, signature, transactionID, failureReason, refundAmount, refundReason, refundedAt)
	return p, total, nil
}

func applyOptional(p *Payment, gatewayOrderID, gatewayPaymentID, signature, transactionID, failureReason *string, refundAmount *int64, refundReason *string, refundedAt *time.Time) {
	if gatewayOrderID != nil {
		p.GatewayOrderID = *gatewayOrderID
	}
	if gatewayPaymentID != nil {
		p.GatewayPaymentID = *gatewayPaymentID
	}
	if signature != nil {
		p.GatewaySignature = *signature
	}
	if transactionID != nil {
		p.TransactionID = *transactionID
	}
	if failureReason != nil {
		p.FailureReason = *failureReason
	}
	if refundAmount != nil {
		p.RefundAmount = *refundAmount
	}
	if refundReason != nil {
		p.RefundReason = *refundReason
	}
	if refundedAt != nil {
		t := *refundedAt
		p.RefundedAt = &t
	}
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func metadataOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
