package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ComputeHMAC returns the hex encoded HMAC-SHA256 of payload under secret.
func ComputeHMAC(secret string, payload []byte) string {
	key := strings.TrimSpace(secret)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCheckout validates the signature returned by the client after checkout.
// The canonical payload is "orderID|gatewayPaymentID" signed with the checkout
// key secret. Comparison is constant-time.
func VerifyCheckout(secret, orderID, gatewayPaymentID, provided string) bool {
	expected := ComputeHMAC(secret, []byte(orderID+"|"+gatewayPaymentID))
	provided = strings.TrimSpace(provided)
	if expected == "" || provided == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(provided))
}

// VerifyWebhook validates a gateway notification signature computed over the raw
// request body with the dedicated webhook secret. The webhook secret must differ
// from the checkout secret: the webhook path is the sole authority for
// server-initiated transitions while the checkout path carries client-controlled
// data.
func VerifyWebhook(secret string, body []byte, provided string) bool {
	expected := ComputeHMAC(secret, body)
	provided = strings.TrimSpace(provided)
	if expected == "" || provided == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(provided))
}
