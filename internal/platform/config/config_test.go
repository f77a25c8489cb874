package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sandbox", cfg.Payout.Rail)
	assert.Equal(t, time.Minute, cfg.Payout.ApprovalGrace)
	assert.Equal(t, 72*time.Hour, cfg.Reconciliation.OrphanRetention)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("PAYOUT_MAX_ATTEMPTS", "5")
	t.Setenv("PAYOUT_DISPATCH_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, uint64(5), cfg.Payout.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Payout.DispatchTimeout)
}

func TestValidate(t *testing.T) {
	t.Run("flutterwave rail needs a secret key", func(t *testing.T) {
		t.Setenv("PAYOUT_RAIL", "flutterwave")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "FLUTTERWAVE_SECRET_KEY")
	})

	t.Run("unknown rail", func(t *testing.T) {
		t.Setenv("PAYOUT_RAIL", "carrier-pigeon")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("zero attempts", func(t *testing.T) {
		t.Setenv("PAYOUT_MAX_ATTEMPTS", "0")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PAYOUT_MAX_ATTEMPTS")
	})
}
