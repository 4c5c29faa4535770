package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAYMENT_EXPIRY_MINUTES", "")
	t.Setenv("WEBHOOK_API_KEYS", "")
	t.Setenv("STORE_BACKEND", "")

	cfg := Load()

	assert.Equal(t, 15*time.Minute, cfg.Business.PaymentTTL)
	assert.Equal(t, "DH", cfg.Business.CodePrefix)
	assert.Equal(t, "PAY", cfg.Business.CodeSuffix)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Empty(t, cfg.Auth.WebhookKeys)
	assert.Equal(t, "sepay", cfg.Auth.WebhookProvider)
	assert.Equal(t, "checkout-service", cfg.Observ.ServiceName)
	assert.Empty(t, cfg.Observ.LogLevel)
	assert.Equal(t, 1.0, cfg.Observ.TraceSampleRatio)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PAYMENT_EXPIRY_MINUTES", "30")
	t.Setenv("EXPIRY_SWEEP_INTERVAL_SECONDS", "-5")
	t.Setenv("WEBHOOK_API_KEYS", " key-a , ,key-b")
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("TRACE_SAMPLE_RATIO", "0.25")

	cfg := Load()

	assert.Equal(t, 30*time.Minute, cfg.Business.PaymentTTL)
	assert.Equal(t, 60*time.Second, cfg.Business.ExpirySweepInterval)
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.Auth.WebhookKeys)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "warn", cfg.Observ.LogLevel)
	assert.Equal(t, 0.25, cfg.Observ.TraceSampleRatio)
}
