package gateway

import (
	"context"
	"errors"
)

// Order is the gateway-side record of intent to collect a specific amount.
// Amounts are expressed in minor units (paise).
type Order struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
}

// PaymentRecord is the gateway's authoritative view of a payment attempt.
type PaymentRecord struct {
	ID      string
	OrderID string
	Amount  int64
	Status  string
}

// Refund references a refund issued against a captured payment.
type Refund struct {
	ID     string
	Amount int64
	Status string
}

// StatusCaptured is the gateway status confirming funds have been collected.
const StatusCaptured = "captured"

var (
	// ErrUnavailable marks transient gateway failures (timeouts, 5xx, open breaker).
	// Callers may retry; local state is unchanged.
	ErrUnavailable = errors.New("gateway: unavailable")
	// ErrRejected marks a business rejection by the gateway. Not retryable.
	ErrRejected = errors.New("gateway: request rejected")
	// ErrNotFound is returned when the gateway does not know the referenced payment.
	ErrNotFound = errors.New("gateway: not found")
)

// Client abstracts the operations required from the upstream payment gateway.
type Client interface {
	// CreateOrder opens an order for the given amount in minor units.
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (Order, error)
	// FetchPayment returns the authoritative payment record. Read-only, safe to retry.
	FetchPayment(ctx context.Context, gatewayPaymentID string) (PaymentRecord, error)
	// IssueRefund refunds amount minor units against a captured payment. Callers must
	// pass an idempotency key derived from the local payment id so retries never
	// produce duplicate gateway-side refunds.
	IssueRefund(ctx context.Context, gatewayPaymentID string, amount int64, notes map[string]string, idemKey string) (Refund, error)
}
