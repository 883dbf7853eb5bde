package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":            "postgres://localhost:5432/yatri",
		"REDIS_URL":               "redis://localhost:6379/0",
		"JWT_SECRET":              "test-secret",
		"APP_ENV":                 "",
		"PORT":                    "",
		"PAYMENT_CURRENCY":        "",
		"GATEWAY_TIMEOUT":         "",
		"WEBHOOK_REPLAY_TTL":      "",
		"RAZORPAY_KEY_ID":         "",
		"RAZORPAY_KEY_SECRET":     "",
		"RAZORPAY_WEBHOOK_SECRET": "",
		"CORS_ALLOWED_ORIGINS":    "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, ":8080", cfg.HTTPAddr())
	assert.Equal(t, "INR", cfg.Currency)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 24*time.Hour, cfg.WebhookReplayTTL)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PORT"] = "9090"
	env["PAYMENT_CURRENCY"] = "INR"
	env["GATEWAY_TIMEOUT"] = "3s"
	env["WEBHOOK_REPLAY_TTL"] = "1h"
	env["RAZORPAY_KEY_ID"] = "rzp_test_key"
	env["RAZORPAY_KEY_SECRET"] = "checkout-secret"
	env["RAZORPAY_WEBHOOK_SECRET"] = "webhook-secret"
	env["CORS_ALLOWED_ORIGINS"] = "https://app.example.com, https://admin.example.com"

	cfg, err := LoadForTests(env)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr())
	assert.Equal(t, 3*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, time.Hour, cfg.WebhookReplayTTL)
	assert.Equal(t, "rzp_test_key", cfg.RazorpayKeyID)
	assert.NotEqual(t, cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSAllowedOrigins)
}

func TestLoadRequiresCoreSettings(t *testing.T) {
	for _, missing := range []string{"DATABASE_URL", "REDIS_URL", "JWT_SECRET"} {
		env := baseEnv()
		env[missing] = ""
		_, err := LoadForTests(env)
		require.Error(t, err, missing)
	}
}
