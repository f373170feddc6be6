package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Orders.IdempotencyWindow)
	assert.True(t, cfg.Orders.EnforceCatalogPrice)
	assert.Equal(t, "200.00", cfg.Orders.CODAdvanceAmount.StringFixed(2))
	assert.Equal(t, 10*time.Second, cfg.Payments.VerifyTimeout)
	assert.Equal(t, time.Hour, cfg.Cleanup.OlderThan)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Search.URL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", "/tmp/orders.db")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("ORDER_IDEMPOTENCY_WINDOW", "5m")
	t.Setenv("ORDER_ENFORCE_CATALOG_PRICE", "false")
	t.Setenv("COD_ADVANCE_AMOUNT", "150.50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Minute, cfg.Orders.IdempotencyWindow)
	assert.False(t, cfg.Orders.EnforceCatalogPrice)
	assert.Equal(t, "150.50", cfg.Orders.CODAdvanceAmount.StringFixed(2))
	assert.Contains(t, cfg.GetDBConnString(), "file:/tmp/orders.db")
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"PORT":                     "eighty",
		"DB_DRIVER":                "mysql",
		"ORDER_IDEMPOTENCY_WINDOW": "-1m",
		"COD_ADVANCE_AMOUNT":       "abc",
		"OUTBOX_BATCH_SIZE":        "ten",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(key, value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
