package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
rpc_list:
  - "http://localhost:8545"
websocket_url: "ws://localhost:8546/ws"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"http://localhost:8545"}, cfg.RPCList)
	assert.Equal(t, DefaultReferenceRate, cfg.ReferenceRate)
	assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout)
	assert.Equal(t, DefaultReconcileInterval, cfg.ReconcileInterval)
	assert.Equal(t, DefaultReadRetries, cfg.ReadRetries)

	conv, err := cfg.Converter()
	require.NoError(t, err)
	assert.Equal(t, "4000000000000", conv.BaseUnitsPerCent().String())
	assert.Equal(t, DefaultMinUnitPrice, conv.Minimum().String())

	lc := cfg.LedgerConfig()
	assert.Equal(t, DefaultFeeBuffer, lc.FeeBuffer.String())
	assert.Equal(t, "1.2", lc.IssueCostMultiplier.String())
	assert.Equal(t, "1.1", lc.AcquireCostMultiplier.String())

	rc := cfg.RPCConfig()
	assert.Equal(t, uint(3), rc.MaxTries)
	assert.Equal(t, "ws://localhost:8546/ws", rc.WSEndpoint)
}

func TestLoadConfigReadsValues(t *testing.T) {
	path := writeConfig(t, `
rpc_list: ["https://a.example", "https://b.example"]
reference_rate: "3000"
min_unit_price: "5"
write_timeout: 45s
confirm_poll_interval: 500ms
reconcile_interval: 0s
issue_gas_multiplier: 1.5
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.ConfirmConfig().PollInterval)
	assert.Equal(t, 45*time.Second, cfg.ConfirmConfig().ConfirmationTime)
	assert.Zero(t, cfg.SyncConfig().ReconcileInterval)
	assert.Equal(t, "1.5", cfg.LedgerConfig().IssueCostMultiplier.String())

	conv, err := cfg.Converter()
	require.NoError(t, err)
	assert.Equal(t, "3000", conv.Rate().String())
	assert.Equal(t, "5", conv.Minimum().String())
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `rpc_list: ["http://file.example"]`)
	t.Setenv("AGRO_LEDGER_RPC_LIST", " http://env-a.example , ,http://env-b.example")
	t.Setenv("AGRO_LEDGER_PRIVATE_KEY", "secret")
	t.Setenv("AGRO_LEDGER_POSTGRES_URL", "postgres://ledger@db/ledger")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://env-a.example", "http://env-b.example"}, cfg.RPCList)
	assert.Equal(t, "secret", cfg.PrivateKey)
	assert.Equal(t, "postgres://ledger@db/ledger", cfg.PostgresURL)
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.RPCList = []string{"http://localhost:8545"}
		return cfg
	}
	require.NoError(t, validateConfig(valid()))

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no endpoints", func(c *Config) { c.RPCList = nil }, "rpc_list is empty"},
		{"bad rpc scheme", func(c *Config) { c.RPCList = []string{"ftp://x"} }, "invalid RPC URL protocol"},
		{"bad ws scheme", func(c *Config) { c.WebSocketURL = "http://x" }, "invalid WebSocket URL protocol"},
		{"bad rate", func(c *Config) { c.ReferenceRate = "-1" }, "rate"},
		{"bad fee buffer", func(c *Config) { c.FeeBuffer = "0.5" }, "fee_buffer"},
		{"multiplier below one", func(c *Config) { c.AcquireGasMultiplier = 0.9 }, "acquire_gas_multiplier"},
		{"poll longer than timeout", func(c *Config) { c.ConfirmPollInterval = 5 * time.Minute }, "confirm_poll_interval"},
		{"no retries", func(c *Config) { c.ReadRetries = 0 }, "read_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestCatalogFromForecastsFile(t *testing.T) {
	cfg := Default()
	c, err := cfg.Catalog()
	require.NoError(t, err)
	assert.Len(t, c.Categories(), 5)

	forecasts := filepath.Join(t.TempDir(), "forecasts.yaml")
	require.NoError(t, os.WriteFile(forecasts, []byte(`
outlooks:
  - category: cafe
    reference: "300.00"
    forecasts:
      - {month: "2027-01", price: "310.00", confidence: 80, trend: up}
`), 0o600))
	path := writeConfig(t, `
rpc_list: ["http://localhost:8545"]
forecasts_file: "`+forecasts+`"
`)
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	c, err = cfg.Catalog()
	require.NoError(t, err)
	assert.Equal(t, "CAFE", string(c.Categories()[0]))
	assert.Len(t, c.Categories(), 1)
}
