package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-yatri/internal/resilience"
)

// Razorpay implements Client against the Razorpay REST API using basic auth.
// Outbound calls go through the resilience wrapper so every request carries a
// bounded timeout and the shared circuit breaker.
type Razorpay struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	HTTP      *resilience.HTTPClient
	// FetchHTTP, when set, is used for read-only payment fetches and may carry a
	// more aggressive retry policy than the write paths.
	FetchHTTP *resilience.HTTPClient
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder opens a gateway order. The order must exist before any local
// payment row is persisted.
func (r Razorpay) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (Order, error) {
	if amount <= 0 {
		return Order{}, fmt.Errorf("%w: order amount must be positive", ErrRejected)
	}
	body := map[string]any{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		body["notes"] = notes
	}
	var resp struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Receipt  string `json:"receipt"`
	}
	if err := r.call(ctx, r.HTTP, http.MethodPost, "/v1/orders", body, "", &resp); err != nil {
		return Order{}, err
	}
	return Order{ID: resp.ID, Amount: resp.Amount, Currency: resp.Currency, Receipt: resp.Receipt}, nil
}

// FetchPayment returns the authoritative payment state from the gateway.
func (r Razorpay) FetchPayment(ctx context.Context, gatewayPaymentID string) (PaymentRecord, error) {
	id := strings.TrimSpace(gatewayPaymentID)
	if id == "" {
		return PaymentRecord{}, fmt.Errorf("%w: payment id is required", ErrRejected)
	}
	client := r.FetchHTTP
	if client == nil {
		client = r.HTTP
	}
	var resp struct {
		ID      string `json:"id"`
		OrderID string `json:"order_id"`
		Amount  int64  `json:"amount"`
		Status  string `json:"status"`
	}
	if err := r.call(ctx, client, http.MethodGet, "/v1/payments/"+id, nil, "", &resp); err != nil {
		return PaymentRecord{}, err
	}
	return PaymentRecord{ID: resp.ID, OrderID: resp.OrderID, Amount: resp.Amount, Status: strings.ToLower(resp.Status)}, nil
}

// IssueRefund refunds against a captured payment. idemKey deduplicates retries
// on the gateway side.
func (r Razorpay) IssueRefund(ctx context.Context, gatewayPaymentID string, amount int64, notes map[string]string, idemKey string) (Refund, error) {
	id := strings.TrimSpace(gatewayPaymentID)
	if id == "" {
		return Refund{}, fmt.Errorf("%w: payment id is required", ErrRejected)
	}
	if amount <= 0 {
		return Refund{}, fmt.Errorf("%w: refund amount must be positive", ErrRejected)
	}
	body := map[string]any{"amount": amount}
	if len(notes) > 0 {
		body["notes"] = notes
	}
	var resp struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
		Status string `json:"status"`
	}
	if err := r.call(ctx, r.HTTP, http.MethodPost, "/v1/payments/"+id+"/refund", body, idemKey, &resp); err != nil {
		return Refund{}, err
	}
	return Refund{ID: resp.ID, Amount: resp.Amount, Status: resp.Status}, nil
}

func (r Razorpay) call(ctx context.Context, client *resilience.HTTPClient, method, path string, body any, idemKey string, out any) error {
	if client == nil {
		return errors.New("gateway: http client not configured")
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.host()+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(r.KeyID, r.KeySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("X-Idempotency-Key", idemKey)
	}

	resp, err := client.Do(ctx, req)
	if err != nil {
		// Timeouts, connection failures and exhausted retries on 5xx all
		// surface as transient: local state is unchanged and a retry is safe.
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, gatewayMessage(data))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s", ErrRejected, gatewayMessage(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("gateway: decode response: %w", err)
		}
	}
	return nil
}

func (r Razorpay) host() string {
	host := strings.TrimRight(strings.TrimSpace(r.BaseURL), "/")
	if host == "" {
		host = "https://api.razorpay.com"
	}
	return host
}

func gatewayMessage(data []byte) string {
	var parsed razorpayError
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Description != "" {
		return parsed.Error.Description
	}
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	if trimmed == "" {
		return "no detail"
	}
	return trimmed
}
