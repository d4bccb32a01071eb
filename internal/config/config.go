// Package config loads and validates the bot configuration from a .env
// file and the environment. A validation failure is fatal at startup; the
// process must not trade on a partial configuration.
package config

import (
	"fmt"
	"math"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	APIBaseURL string
	WSURL      string
	APIKey     string
	APISecret  string

	Pair  string `validate:"required"`
	Asset string `validate:"required"`

	Allocations  map[string]float64
	TotalBalance float64 `validate:"gte=0"`

	MinTradeVolume    float64 `validate:"gt=0"`
	MarketVolumeFloor float64 `validate:"gte=0"`

	Cooldown        time.Duration `validate:"gte=0"`
	CycleInterval   time.Duration `validate:"gt=0"`
	ErrorInterval   time.Duration `validate:"gt=0"`
	RefreshInterval time.Duration `validate:"gt=0"`

	OrderType   string  `validate:"oneof=market limit"`
	LimitOffset float64 `validate:"gte=0,lt=1"`
	FeePercent  float64 `validate:"gte=0"`

	MAWindow     int `validate:"gt=0"`
	RSIWindow    int `validate:"gt=1"`
	MACDShort    int `validate:"gt=0"`
	MACDLong     int `validate:"gt=0"`
	MACDSignal   int `validate:"gt=0"`
	OHLCInterval int `validate:"gt=0"`

	PriceCachePath string
	TradeLogPath   string

	SentimentEnabled bool
	SentimentURL     string
	SentimentTTL     time.Duration

	BaselineHolding      float64 `validate:"gte=0"`
	ApplyExchangeBalance bool

	Feed     string `validate:"oneof=poll stream"`
	LogLevel string
	DryRun   bool
}

// Load reads .env (when present) and the environment, applies defaults and
// validates the result.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	v.SetDefault("API_BASE_URL", "https://api.kraken.com")
	v.SetDefault("WS_URL", "wss://ws.kraken.com")
	v.SetDefault("PAIR", "XXBTZEUR")
	v.SetDefault("ASSET", "XBT")
	v.SetDefault("ALLOC_HODL", 0.85)
	v.SetDefault("ALLOC_YIELD", 0.0)
	v.SetDefault("ALLOC_TRADING", 0.15)
	v.SetDefault("TOTAL_BALANCE", 0.0)
	v.SetDefault("MIN_TRADE_VOLUME", 0.0001)
	v.SetDefault("MARKET_VOLUME_FLOOR", 100.0)
	v.SetDefault("GLOBAL_TRADE_COOLDOWN", 300)
	v.SetDefault("SLEEP_DURATION", 300)
	v.SetDefault("ERROR_SLEEP_DURATION", 60)
	v.SetDefault("BALANCE_REFRESH_INTERVAL", 600)
	v.SetDefault("ORDER_TYPE", "market")
	v.SetDefault("LIMIT_OFFSET", 0.001)
	v.SetDefault("FEE_PERCENT", 0.26)
	v.SetDefault("MA_WINDOW", 7)
	v.SetDefault("RSI_WINDOW", 14)
	v.SetDefault("MACD_SHORT", 12)
	v.SetDefault("MACD_LONG", 26)
	v.SetDefault("MACD_SIGNAL", 9)
	v.SetDefault("OHLC_INTERVAL", 60)
	v.SetDefault("PRICE_CACHE_PATH", "historical_prices.json")
	v.SetDefault("TRADE_LOG_PATH", "trades.ndjson")
	v.SetDefault("SENTIMENT_ENABLED", false)
	v.SetDefault("SENTIMENT_URL", "")
	v.SetDefault("SENTIMENT_TTL", 1500)
	v.SetDefault("BASELINE_HOLDING", 0.0)
	v.SetDefault("APPLY_EXCHANGE_BALANCE", false)
	v.SetDefault("FEED", "poll")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DRY_RUN", false)

	cfg := Config{
		APIBaseURL: v.GetString("API_BASE_URL"),
		WSURL:      v.GetString("WS_URL"),
		APIKey:     v.GetString("API_KEY"),
		APISecret:  v.GetString("API_SECRET"),
		Pair:       v.GetString("PAIR"),
		Asset:      v.GetString("ASSET"),
		Allocations: map[string]float64{
			"HODL":    v.GetFloat64("ALLOC_HODL"),
			"YIELD":   v.GetFloat64("ALLOC_YIELD"),
			"TRADING": v.GetFloat64("ALLOC_TRADING"),
		},
		TotalBalance:         v.GetFloat64("TOTAL_BALANCE"),
		MinTradeVolume:       v.GetFloat64("MIN_TRADE_VOLUME"),
		MarketVolumeFloor:    v.GetFloat64("MARKET_VOLUME_FLOOR"),
		Cooldown:             time.Duration(v.GetInt("GLOBAL_TRADE_COOLDOWN")) * time.Second,
		CycleInterval:        time.Duration(v.GetInt("SLEEP_DURATION")) * time.Second,
		ErrorInterval:        time.Duration(v.GetInt("ERROR_SLEEP_DURATION")) * time.Second,
		RefreshInterval:      time.Duration(v.GetInt("BALANCE_REFRESH_INTERVAL")) * time.Second,
		OrderType:            v.GetString("ORDER_TYPE"),
		LimitOffset:          v.GetFloat64("LIMIT_OFFSET"),
		FeePercent:           v.GetFloat64("FEE_PERCENT"),
		MAWindow:             v.GetInt("MA_WINDOW"),
		RSIWindow:            v.GetInt("RSI_WINDOW"),
		MACDShort:            v.GetInt("MACD_SHORT"),
		MACDLong:             v.GetInt("MACD_LONG"),
		MACDSignal:           v.GetInt("MACD_SIGNAL"),
		OHLCInterval:         v.GetInt("OHLC_INTERVAL"),
		PriceCachePath:       v.GetString("PRICE_CACHE_PATH"),
		TradeLogPath:         v.GetString("TRADE_LOG_PATH"),
		SentimentEnabled:     v.GetBool("SENTIMENT_ENABLED"),
		SentimentURL:         v.GetString("SENTIMENT_URL"),
		SentimentTTL:         time.Duration(v.GetInt("SENTIMENT_TTL")) * time.Second,
		BaselineHolding:      v.GetFloat64("BASELINE_HOLDING"),
		ApplyExchangeBalance: v.GetBool("APPLY_EXCHANGE_BALANCE"),
		Feed:                 v.GetString("FEED"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		DryRun:               v.GetBool("DRY_RUN"),
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var structValidator = validator.New()

// Validate checks the configuration. Errors here are configuration errors:
// the caller treats them as fatal.
func Validate(cfg Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !cfg.DryRun && (cfg.APIKey == "" || cfg.APISecret == "") {
		return fmt.Errorf("config: API_KEY and API_SECRET are required unless DRY_RUN is set")
	}
	sum := 0.0
	for category, weight := range cfg.Allocations {
		if weight < 0 {
			return fmt.Errorf("config: negative allocation weight for %s", category)
		}
		sum += weight
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("config: allocation weights sum to %f, want 1.0", sum)
	}
	if cfg.MACDLong <= cfg.MACDShort {
		return fmt.Errorf("config: MACD_LONG must exceed MACD_SHORT")
	}
	if cfg.SentimentEnabled && cfg.SentimentURL == "" {
		return fmt.Errorf("config: SENTIMENT_URL is required when sentiment is enabled")
	}
	return nil
}
