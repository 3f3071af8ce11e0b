package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/verify")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("AUTH_SECRET", "secret")
	t.Setenv("RPC_URL", "https://rpc.example.com")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 20, cfg.SweepBatchSize)
	assert.Equal(t, 5, cfg.SweepMaxConcurrent)
	assert.Equal(t, []string{"https://rpc.example.com"}, cfg.RPCURLs)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresSomeRPC(t *testing.T) {
	setRequired(t)
	t.Setenv("RPC_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestRPCURLSOverridesSingle(t *testing.T) {
	setRequired(t)
	t.Setenv("RPC_URLS", "https://a.example.com, https://b.example.com ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.RPCURLs)
}

func TestSweeperTuningFromEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("PROGRAM_STATUS_UPDATE_INTERVAL_SECONDS", "60")
	t.Setenv("PROGRAM_STATUS_BATCH_SIZE", "7")
	t.Setenv("PROGRAM_STATUS_MAX_CONCURRENT", "bogus")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 7, cfg.SweepBatchSize)
	assert.Equal(t, 5, cfg.SweepMaxConcurrent)
}
