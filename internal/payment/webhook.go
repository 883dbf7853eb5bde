package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-yatri/internal/common"
	"github.com/noah-isme/backend-yatri/internal/gateway"
)

// Webhook receives gateway notifications. The signature is verified over the
// raw body before any parsing, and a short-lived SetNX key collapses duplicate
// deliveries before they reach the reconciler.
type Webhook struct {
	Service   *Service
	Secret    string
	Replay    *redis.Client
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

type webhookEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Handle processes a gateway webhook delivery. Successfully processed events
// and recognised no-ops (duplicates, already-settled payments, unknown event
// types) are all acknowledged with 200 so the gateway stops redelivering.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil || h.Secret == "" {
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	signature := r.Header.Get("X-Razorpay-Signature")
	if !gateway.VerifyWebhook(h.Secret, body, signature) {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidSignature, "signature verification failed", nil)
		return
	}
	ctx := r.Context()
	replayKey := "wh:razorpay:" + common.Sha256Hex(string(body))
	if h.Replay != nil && h.ReplayTTL > 0 {
		fresh, err := h.Replay.SetNX(ctx, replayKey, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !fresh {
			// same body already processed; ack so the gateway stops retrying
			common.JSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "malformed webhook envelope", nil)
		return
	}
	if err := h.Service.ReconcileWebhookEvent(ctx, envelope.Event, envelope.Payload); err != nil {
		h.Logger.Error().Err(err).Str("event", envelope.Event).Msg("webhook reconciliation failed")
		// anything past the signature check answers 500 so the gateway
		// redelivers; a capture racing the local insert succeeds on retry.
		// The replay key is released so the retry is not mistaken for a
		// duplicate of a processed delivery.
		if h.Replay != nil {
			_ = h.Replay.Del(ctx, replayKey).Err()
		}
		code := "RECONCILE_ERROR"
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			code = appErr.Code
		}
		common.JSONError(w, http.StatusInternalServerError, code, "webhook processing failed", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
