package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RELAYER_SECRETS", "secret-a,secret-b")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.devnet.solana.com", cfg.RPC.URL)
	assert.Equal(t, 10.0, cfg.RPC.RequestsPerSec)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "data/roster.yaml", cfg.Store.RosterPath)
	assert.Equal(t, 10, cfg.Pool.TargetCount)
	assert.Equal(t, uint64(50_000_000), cfg.Pool.TargetBalance)
	assert.Equal(t, uint64(20_000_000), cfg.Pool.MinBalance)
	assert.Equal(t, 4, cfg.Pool.MaxTranches)
	assert.Equal(t, 30*time.Second, cfg.Pool.ConfirmTimeout)
	assert.Equal(t, 100, cfg.Pool.VerifyToleranceBps)
	assert.Equal(t, []string{"secret-a", "secret-b"}, cfg.Pool.RelayerSecrets)
	assert.False(t, cfg.Burner.Enabled)
	assert.Equal(t, 50, cfg.Burner.TxCap)
	assert.Equal(t, 5000, cfg.Burner.AvailableRatioBps)
	assert.Equal(t, 8000, cfg.Burner.EmergencyRatioBps)
	assert.Equal(t, 5, cfg.Breaker.MaxConsecutiveFailures)
	assert.Equal(t, 20, cfg.Breaker.WindowSize)
	assert.Equal(t, 5000, cfg.Breaker.MaxFailureRateBps)
	assert.Equal(t, 2000, cfg.Breaker.MaxDrawdownBps)
	assert.Equal(t, uint64(50_000_000), cfg.Rebalance.Target)
	assert.Equal(t, 1000, cfg.Rebalance.RetentionMaxBps)
	assert.Equal(t, 8080, cfg.Server.HealthPort)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RELAYER_SECRETS", "secret-a")
	t.Setenv("RPC_URL", "https://mainnet.example")
	t.Setenv("ROSTER_BACKEND", "postgres")
	t.Setenv("DB_URL", "postgres://fleet:fleet@db:5432/fleet")
	t.Setenv("POOL_TARGET_COUNT", "25")
	t.Setenv("POOL_TARGET_BALANCE_LAMPORTS", "75000000")
	t.Setenv("FUND_VERIFY_TOLERANCE_BPS", "250")
	t.Setenv("BURNER_ENABLED", "true")
	t.Setenv("BURNER_RELAYER_SECRETS", "burner-secret")
	t.Setenv("SINK_ADDRESS", "SinkAddr")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://mainnet.example", cfg.RPC.URL)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 25, cfg.Pool.TargetCount)
	assert.Equal(t, uint64(75_000_000), cfg.Pool.TargetBalance)
	assert.Equal(t, 250, cfg.Pool.VerifyToleranceBps)
	assert.True(t, cfg.Burner.Enabled)
	assert.Equal(t, []string{"burner-secret"}, cfg.Burner.RelayerSecrets)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Validation(t *testing.T) {
	t.Run("missing relayers", func(t *testing.T) {
		t.Setenv("RELAYER_SECRETS", "")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RELAYER_SECRETS")
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("RELAYER_SECRETS", "s")
		t.Setenv("ROSTER_BACKEND", "etcd")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ROSTER_BACKEND")
	})

	t.Run("postgres backend needs db url", func(t *testing.T) {
		t.Setenv("RELAYER_SECRETS", "s")
		t.Setenv("ROSTER_BACKEND", "postgres")
		t.Setenv("DB_URL", "")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DB_URL")
	})

	t.Run("burners need a sink", func(t *testing.T) {
		t.Setenv("RELAYER_SECRETS", "s")
		t.Setenv("BURNER_ENABLED", "true")
		t.Setenv("SINK_ADDRESS", "")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SINK_ADDRESS")
	})

	t.Run("floor above target", func(t *testing.T) {
		t.Setenv("RELAYER_SECRETS", "s")
		t.Setenv("REBALANCE_FLOOR_LAMPORTS", "90000000")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "REBALANCE_FLOOR_LAMPORTS")
	})
}
