package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a deterministic in-memory gateway used by tests and the sandbox
// configuration. Payments fetched from it report "captured" unless a status
// was seeded explicitly.
type Mock struct {
	mu       sync.Mutex
	orders   int
	refunds  int
	statuses map[string]string

	CreateOrderErr error
	FetchErr       error
	RefundErr      error

	// RefundKeys records the idempotency keys passed to IssueRefund.
	RefundKeys []string
}

// CreateOrder returns a synthetic order id derived from the receipt.
func (m *Mock) CreateOrder(_ context.Context, amount int64, currency, receipt string, _ map[string]string) (Order, error) {
	if m.CreateOrderErr != nil {
		return Order{}, m.CreateOrderErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders++
	return Order{
		ID:       fmt.Sprintf("order_mock_%d", m.orders),
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	}, nil
}

// FetchPayment reports the seeded status, defaulting to captured.
func (m *Mock) FetchPayment(_ context.Context, gatewayPaymentID string) (PaymentRecord, error) {
	if m.FetchErr != nil {
		return PaymentRecord{}, m.FetchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	status := StatusCaptured
	if m.statuses != nil {
		if s, ok := m.statuses[gatewayPaymentID]; ok {
			status = s
		}
	}
	return PaymentRecord{ID: gatewayPaymentID, Status: status}, nil
}

// IssueRefund records the call and returns a synthetic refund reference.
func (m *Mock) IssueRefund(_ context.Context, gatewayPaymentID string, amount int64, _ map[string]string, idemKey string) (Refund, error) {
	if m.RefundErr != nil {
		return Refund{}, m.RefundErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds++
	m.RefundKeys = append(m.RefundKeys, idemKey)
	return Refund{ID: fmt.Sprintf("rfnd_mock_%d", m.refunds), Amount: amount, Status: "processed"}, nil
}

// SetPaymentStatus seeds the status FetchPayment reports for a payment id.
func (m *Mock) SetPaymentStatus(gatewayPaymentID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuses == nil {
		m.statuses = map[string]string{}
	}
	m.statuses[gatewayPaymentID] = status
}

// Refunds returns the number of refunds issued.
func (m *Mock) Refunds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refunds
}
