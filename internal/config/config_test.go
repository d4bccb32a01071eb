package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		APIBaseURL:        "https://api.kraken.com",
		Pair:              "XXBTZEUR",
		Asset:             "XBT",
		Allocations:       map[string]float64{"HODL": 0.85, "YIELD": 0.0, "TRADING": 0.15},
		MinTradeVolume:    0.0001,
		Cooldown:          5 * time.Minute,
		CycleInterval:     5 * time.Minute,
		ErrorInterval:     time.Minute,
		RefreshInterval:   10 * time.Minute,
		OrderType:         "market",
		LimitOffset:       0.001,
		FeePercent:        0.26,
		MAWindow:          7,
		RSIWindow:         14,
		MACDShort:         12,
		MACDLong:          26,
		MACDSignal:        9,
		OHLCInterval:      60,
		Feed:              "poll",
		DryRun:            true,
	}
}

func TestValidateAcceptsDryRunWithoutCredentials(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateRequiresCredentialsWhenLive(t *testing.T) {
	cfg := validConfig()
	cfg.DryRun = false
	assert.Error(t, Validate(cfg))

	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	assert.NoError(t, Validate(cfg))
}

func TestValidateRejectsMalformedAllocations(t *testing.T) {
	cfg := validConfig()
	cfg.Allocations = map[string]float64{"HODL": 0.5, "TRADING": 0.3}
	assert.Error(t, Validate(cfg))

	cfg.Allocations = map[string]float64{"HODL": 1.5, "TRADING": -0.5}
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsBadOrderType(t *testing.T) {
	cfg := validConfig()
	cfg.OrderType = "iceberg"
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsInvertedMACDWindows(t *testing.T) {
	cfg := validConfig()
	cfg.MACDShort = 26
	cfg.MACDLong = 12
	assert.Error(t, Validate(cfg))
}

func TestValidateRequiresSentimentURLWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.SentimentEnabled = true
	assert.Error(t, Validate(cfg))

	cfg.SentimentURL = "https://news.example/api"
	assert.NoError(t, Validate(cfg))
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DRY_RUN", "true")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "XXBTZEUR", cfg.Pair)
	assert.Equal(t, 5*time.Minute, cfg.CycleInterval)
	assert.Equal(t, time.Minute, cfg.ErrorInterval)
	assert.Equal(t, 5*time.Minute, cfg.Cooldown)
	assert.Equal(t, "market", cfg.OrderType)
	assert.InDelta(t, 0.001, cfg.LimitOffset, 1e-9)
	assert.InDelta(t, 1.0, cfg.Allocations["HODL"]+cfg.Allocations["YIELD"]+cfg.Allocations["TRADING"], 1e-9)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DRY_RUN", "true")
	t.Setenv("PAIR", "XETHZEUR")
	t.Setenv("GLOBAL_TRADE_COOLDOWN", "3600")
	t.Setenv("ORDER_TYPE", "limit")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "XETHZEUR", cfg.Pair)
	assert.Equal(t, time.Hour, cfg.Cooldown)
	assert.Equal(t, "limit", cfg.OrderType)
}
