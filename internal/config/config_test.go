package config

import (
	"testing"
	"time"

	"github.com/payment-ledger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, float64(5), cfg.Rates.BaseCreditsPerUnit)
	assert.Equal(t, 1.2, cfg.Rates.NFTMultiplier)
	assert.Equal(t, 5*time.Minute, cfg.Entitlement.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.Dedup.Window)
	assert.Equal(t, time.Hour, cfg.Payment.MaxTxAge)
	assert.Equal(t, 0.01, cfg.Payment.AmountTolerance)
	assert.Equal(t, 20, cfg.Database.Postgres.MaxConnections)
	assert.Equal(t, 2, cfg.Database.Postgres.MinConnections)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("RATE_BASE_CREDITS_PER_UNIT", "7.5")
	t.Setenv("DEDUP_WINDOW", "45s")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7.5, cfg.Rates.BaseCreditsPerUnit)
	assert.Equal(t, 45*time.Second, cfg.Dedup.Window)
	assert.True(t, cfg.Database.Redis.Enabled)
}

func TestLoadChainAndTokenConfig(t *testing.T) {
	t.Setenv("ENABLED_EVM_CHAINS", "ethereum, base")
	t.Setenv("ETHEREUM_RPC_ENDPOINTS", "https://rpc1.example, https://rpc2.example")
	t.Setenv("BASE_RPC_ENDPOINTS", "https://base.example")
	t.Setenv("SOLANA_RPC_ENDPOINTS", "https://sol1.example,https://sol2.example")
	t.Setenv("TOKEN_CONTRACTS", "ethereum=0xA0b8,base=0xd9aa")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"https://rpc1.example", "https://rpc2.example"},
		cfg.Chains.EVM[types.ChainEthereum])
	assert.Len(t, cfg.Chains.SolanaEndpoints, 2)
	assert.Equal(t, "0xA0b8", cfg.Payment.EVMTokenContract[types.ChainEthereum])
	assert.NotContains(t, cfg.Chains.EVM, types.ChainPolygon,
		"chains without endpoints are skipped")
}

func TestLoadCollections(t *testing.T) {
	t.Setenv("QUALIFYING_COLLECTIONS",
		"apes:ethereum:0xBC4C;gov:polygon:0xD1e2:100.5; :bad")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Len(t, cfg.Entitlement.Collections, 2)
	assert.Equal(t, "apes", cfg.Entitlement.Collections[0].Name)
	assert.Zero(t, cfg.Entitlement.Collections[0].MinBalance)
	assert.Equal(t, 100.5, cfg.Entitlement.Collections[1].MinBalance)
	assert.Equal(t, types.ChainPolygon, cfg.Entitlement.Collections[1].ChainID)
}
