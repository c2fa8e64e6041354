package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "memory", cfg.Store.KVBackend)
	assert.Equal(t, []string{"ckUSDT", "ICP"}, cfg.Settlement.BridgeTokens)
	assert.Equal(t, uint32(200), cfg.Settlement.DefaultMaxSlippageBps)
	assert.Equal(t, time.Minute, cfg.Claims.Interval)
	assert.Equal(t, 10, cfg.Claims.MaxAttempts)
	assert.Empty(t, cfg.Security.AdminPrincipals)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.Security.CORSAllowedOrigins)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KONG_BRIDGE_TOKENS", "ICP, ckBTC")
	t.Setenv("KONG_ADMIN_PRINCIPALS", "admin-a,admin-b")
	t.Setenv("KONG_CLAIMS_INTERVAL", "15s")
	t.Setenv("KONG_MAINTENANCE_MODE", "true")
	t.Setenv("KONG_LEDGER_BACKEND", "rpc")
	t.Setenv("KONG_LEDGER_RPC_URL", "http://gateway:9000")

	cfg, err := load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, []string{"ICP", "ckBTC"}, cfg.Settlement.BridgeTokens)
	assert.Equal(t, []string{"admin-a", "admin-b"}, cfg.Security.AdminPrincipals)
	assert.Equal(t, 15*time.Second, cfg.Claims.Interval)
	assert.True(t, cfg.Settlement.MaintenanceMode)
	assert.Equal(t, "http://gateway:9000", cfg.Ledger.RPCURL)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"one bridge", map[string]string{"KONG_BRIDGE_TOKENS": "ICP"}, "exactly two"},
		{"same bridges", map[string]string{"KONG_BRIDGE_TOKENS": "ICP,ICP"}, "two different"},
		{"bad kv backend", map[string]string{"KONG_KV_BACKEND": "etcd"}, "KONG_KV_BACKEND"},
		{"rpc without url", map[string]string{"KONG_LEDGER_BACKEND": "rpc"}, "KONG_LEDGER_RPC_URL"},
		{"memory ledger in prod", map[string]string{"KONG_ENV": "prod", "KONG_JWT_SECRET": "s"}, "not allowed in prod"},
		{"prod without secret", map[string]string{"KONG_ENV": "prod", "KONG_LEDGER_BACKEND": "rpc", "KONG_LEDGER_RPC_URL": "http://x"}, "KONG_JWT_SECRET"},
		{"slippage too high", map[string]string{"KONG_DEFAULT_MAX_SLIPPAGE_BPS": "10001"}, "at most 10000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := load(viper.New())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
