package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/settlrhq/settlr/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/settlr")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SESSION_TTL", "")
	t.Setenv("SOLANA_NETWORK", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "devnet", cfg.SolanaNetwork)
	require.Equal(t, "30m0s", cfg.SessionTTL.String())
	require.Equal(t, 6, cfg.WebhookMaxAttempts)
}

func TestLoadRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownNetwork(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/settlr")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SOLANA_NETWORK", "testnet-x")

	_, err := config.Load()
	require.Error(t, err)
}

func TestRelayRequiresURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/settlr")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SOLANA_NETWORK", "devnet")
	t.Setenv("RELAY_ENABLED", "true")
	t.Setenv("RELAY_URL", "")

	_, err := config.Load()
	require.Error(t, err)
}
