package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, names := range legacyEnv {
		for _, n := range names {
			t.Setenv(n, "")
			os.Unsetenv(n)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 4.0, cfg.Explorer.QPS)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Chains.ETH.RPC)
	assert.False(t, cfg.ProbeEnabled())
	assert.Empty(t, cfg.Code.Enabled)
	assert.Empty(t, cfg.Code.Disabled)
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEB3_PROVIDER", "https://fallback.example")
	t.Setenv("WEB3_PROVIDER_BSC", "https://bsc-a.example, https://bsc-b.example")
	t.Setenv("ETHERSCAN_API_KEY", "ekey")
	t.Setenv("BSCSCAN_API_KEY", "bkey")
	t.Setenv("HONEYPOT_PROBE", "yes")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://fallback.example"}, cfg.Chains.ETH.RPC)
	assert.Equal(t, []string{"https://bsc-a.example", "https://bsc-b.example"}, cfg.Chains.BSC.RPC)
	assert.True(t, cfg.ProbeEnabled())

	keys := cfg.ExplorerKeys("bsc")
	assert.Equal(t, "ekey", keys.Multichain)
	assert.Equal(t, "bkey", keys.Legacy)
	assert.Empty(t, cfg.ExplorerKeys("eth").Legacy)
}

func TestLoad_ChainSpecificProviderWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEB3_PROVIDER_ETH", "https://eth.example")
	t.Setenv("WEB3_PROVIDER", "https://fallback.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://eth.example"}, cfg.Chains.ETH.RPC)
}

func TestLoad_PrefixedEnvAndFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "riskradar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
concurrency: 6
chains:
  eth:
    rpc:
      - https://one.example
      - https://two.example
    rpc_qps: 10
log:
  format: json
code:
  enabled: [SelfDestruct, DelegateCall]
`), 0o600))
	t.Setenv("RISKRADAR_CONCURRENCY", "2")
	t.Setenv("RISKRADAR_CODE_DISABLED", "DelegateCall, Stateless")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, []string{"https://one.example", "https://two.example"}, cfg.Chains.ETH.RPC)
	assert.Equal(t, 10.0, cfg.Chains.ETH.RPCQPS)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"SelfDestruct", "DelegateCall"}, cfg.Code.Enabled)
	assert.Equal(t, []string{"DelegateCall", "Stateless"}, cfg.Code.Disabled)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: "development",
			Explorer:    ExplorerConfig{QPS: 4},
			Concurrency: 4,
			Log:         LogConfig{Level: "info", Format: "text"},
			Server:      ServerConfig{Port: 8000},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantMsg string
	}{
		{"bad environment", func(c *Config) { c.Environment = "qa" }, "Config.Environment must be one of"},
		{"zero qps", func(c *Config) { c.Explorer.QPS = 0 }, "Config.Explorer.QPS must be greater than 0"},
		{"concurrency too high", func(c *Config) { c.Concurrency = 9 }, "Config.Concurrency must be at most 8"},
		{"concurrency too low", func(c *Config) { c.Concurrency = 0 }, "Config.Concurrency must be at least 1"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "Config.Server.Port must be at most 65535"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "Config.Log.Format must be one of"},
		{"negative rpc qps", func(c *Config) { c.Chains.BSC.RPCQPS = -1 }, "Config.Chains.BSC.RPCQPS must be at least 0"},
		{"bad multichain base", func(c *Config) { c.Explorer.MultichainBase = "not a url" }, "must be a valid URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestHoneypotSwitch(t *testing.T) {
	for in, want := range map[string]bool{
		"": false, "0": false, "false": false, "No": false, " off ": false,
		"1": true, "true": true, "on": true, "yes": true,
	} {
		c := Config{HoneypotProbe: in}
		assert.Equal(t, want, c.ProbeEnabled(), "input %q", in)
	}
}

func TestPresence(t *testing.T) {
	c := Config{Explorer: ExplorerConfig{MultichainKey: "k"}}
	c.Chains.ETH.RPC = []string{"https://x"}
	p := c.Presence()
	assert.Equal(t, "yes", p["eth_rpc"])
	assert.Equal(t, "no", p["bsc_rpc"])
	assert.Equal(t, "yes", p["etherscan_api_key"])
	assert.Equal(t, false, p["honeypot_probe"])
}
