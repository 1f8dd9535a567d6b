package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swapctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "log_level: info\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultEndpoint}, cfg.Endpoints)
	assert.Equal(t, time.Second, cfg.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 60*time.Second, cfg.ConfirmTimeout)
	assert.True(t, cfg.DustThreshold.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, 50, cfg.SlippageBps)
	assert.Nil(t, cfg.PriorityFee)
	assert.False(t, cfg.RequireConfirmation)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Error(t, cfg.RequireWallet())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
endpoints:
  - https://a.example
  - https://b.example
base_delay: 250ms
max_delay: 4s
confirm_timeout: 0s
dust_threshold: "0.5"
require_confirmation: true
priority_fee: 5000
private_key: abc
assets:
  - symbol: BONK
    mint: DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263
    decimals: 5
    dust_threshold: "1000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Endpoints)
	assert.Equal(t, 250*time.Millisecond, cfg.BaseDelay)
	assert.Equal(t, 4*time.Second, cfg.MaxDelay)
	assert.Equal(t, time.Duration(0), cfg.ConfirmTimeout)
	assert.True(t, cfg.RequireConfirmation)
	require.NotNil(t, cfg.PriorityFee)
	assert.Equal(t, uint64(5000), *cfg.PriorityFee)
	assert.NoError(t, cfg.RequireWallet())

	require.Len(t, cfg.Assets, 1)
	assert.Equal(t, "BONK", cfg.Assets[0].Symbol)
	assert.Equal(t, uint8(5), cfg.Assets[0].Decimals)
	assert.True(t, cfg.Assets[0].DustThreshold.Equal(decimal.NewFromInt(1000)))
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "endpoints: [https://file.example]\n")
	t.Setenv("SWAPCTL_ENDPOINTS", "https://env-a.example, https://env-b.example")
	t.Setenv("SWAPCTL_SLIPPAGE_BPS", "100")
	t.Setenv("SWAPCTL_PRIVATE_KEY", " key ")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://env-a.example", "https://env-b.example"}, cfg.Endpoints)
	assert.Equal(t, 100, cfg.SlippageBps)
	assert.Equal(t, "key", cfg.PrivateKey)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"max below base":     "base_delay: 5s\nmax_delay: 1s\n",
		"bad dust":           "dust_threshold: lots\n",
		"negative dust":      "dust_threshold: \"-1\"\n",
		"slippage too large": "slippage_bps: 20000\n",
		"bad asset dust":     "assets:\n  - symbol: X\n    mint: m\n    dust_threshold: nope\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
