package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, "localhost:9092", cfg.KafkaBrokers)
	assert.False(t, cfg.TrustClientPricing)
	assert.Equal(t, 7.0, cfg.DefaultTaxRate)
	assert.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, 50, cfg.OutboxBatchSize)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ORDER_SERVICE_PORT", "9000")
	t.Setenv("TRUST_CLIENT_PRICING", "true")
	t.Setenv("DEFAULT_TAX_RATE", "11")
	t.Setenv("OUTBOX_POLL_INTERVAL", "500ms")
	t.Setenv("OUTBOX_BATCH_SIZE", "10")

	cfg := Load()

	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.True(t, cfg.TrustClientPricing)
	assert.Equal(t, 11.0, cfg.DefaultTaxRate)
	assert.Equal(t, 500*time.Millisecond, cfg.OutboxPollInterval)
	assert.Equal(t, 10, cfg.OutboxBatchSize)
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("TRUST_CLIENT_PRICING", "definitely")
	t.Setenv("OUTBOX_BATCH_SIZE", "lots")

	cfg := Load()

	assert.False(t, cfg.TrustClientPricing)
	assert.Equal(t, 50, cfg.OutboxBatchSize)
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "db",
		DBPort:     "5432",
		DBUser:     "orderservice",
		DBPassword: "secret",
		DBName:     "orders",
	}

	assert.Equal(t, "host=db port=5432 user=orderservice password=secret dbname=orders sslmode=disable", cfg.DSN())
}
