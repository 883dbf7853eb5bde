package payment

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status enumerates payment lifecycle states. Transitions only move forward:
// pending->paid, pending->failed, paid->refunded.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transition is valid from s.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

// Method enumerates supported payment methods.
type Method string

const (
	MethodUPI         Method = "upi"
	MethodCard        Method = "card"
	MethodWallet      Method = "wallet"
	MethodNetBanking  Method = "net_banking"
	MethodOfflineCash Method = "offline_cash"
)

// Methods returns the canonical list of supported payment methods.
func Methods() []Method {
	return []Method{MethodUPI, MethodCard, MethodWallet, MethodNetBanking, MethodOfflineCash}
}

// ParseMethod normalises and validates a payment method string.
func ParseMethod(value string) (Method, bool) {
	m := Method(strings.ToLower(strings.TrimSpace(value)))
	switch m {
	case MethodUPI, MethodCard, MethodWallet, MethodNetBanking, MethodOfflineCash:
		return m, true
	}
	return "", false
}

// ServiceType distinguishes the two booking products with different refund windows.
type ServiceType string

const (
	ServicePooling ServiceType = "pooling"
	ServiceRental  ServiceType = "rental"
)

// Payment is the persisted record of a payment attempt. Amounts are whole
// rupees; conversion to paise happens only at the gateway boundary. Rows are
// never deleted; the table is an append-only audit trail.
type Payment struct {
	ID               uuid.UUID       `json:"paymentId"`
	BookingID        uuid.UUID       `json:"bookingId"`
	UserID           uuid.UUID       `json:"userId"`
	Amount           int64           `json:"amount"`
	PlatformFee      int64           `json:"platformFee"`
	TotalAmount      int64           `json:"totalAmount"`
	Method           Method          `json:"paymentMethod"`
	Status           Status          `json:"status"`
	GatewayOrderID   string          `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string          `json:"gatewayPaymentId,omitempty"`
	GatewaySignature string          `json:"-"`
	TransactionID    string          `json:"transactionId,omitempty"`
	FailureReason    string          `json:"failureReason,omitempty"`
	RefundAmount     int64           `json:"refundAmount,omitempty"`
	RefundReason     string          `json:"refundReason,omitempty"`
	RefundedAt       *time.Time      `json:"refundedAt,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}
