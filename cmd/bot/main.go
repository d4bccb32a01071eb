package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"cryptobot/internal/config"
	"cryptobot/internal/engine"
	"cryptobot/internal/kraken"
	"cryptobot/internal/logx"
	"cryptobot/internal/md"
	"cryptobot/internal/portfolio"
	"cryptobot/internal/sentiment"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logx.Setup("info")
		log.Fatal().Err(err).Msg("configuration error")
	}
	logx.Setup(cfg.LogLevel)

	client, err := kraken.New(cfg.APIBaseURL, cfg.APIKey, cfg.APISecret)
	if err != nil {
		log.Fatal().Err(err).Msg("kraken client error")
	}

	ledger, err := portfolio.NewLedger(cfg.Allocations, cfg.TotalBalance)
	if err != nil {
		log.Fatal().Err(err).Msg("portfolio error")
	}

	tradeLog, err := engine.NewTradeLog(cfg.TradeLogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("trade log error")
	}
	defer func() {
		if err := tradeLog.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close trade log")
		}
	}()

	var provider sentiment.Provider
	if cfg.SentimentEnabled {
		provider = sentiment.NewClient(cfg.SentimentURL, cfg.SentimentTTL)
	}

	eng := engine.New(cfg, client, ledger, provider, tradeLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	seedPrices(ctx, cfg, client, eng)

	if !cfg.DryRun {
		go engine.BalanceRefreshLoop(ctx, cfg, client, eng, ledger)
	}

	log.Info().Str("pair", cfg.Pair).Str("feed", cfg.Feed).Bool("dry_run", cfg.DryRun).
		Msg("starting trading bot")

	switch cfg.Feed {
	case "stream":
		err = runStream(ctx, cfg, eng, ledger)
	default:
		err = engine.NewScheduler(cfg, eng, ledger, client).Run(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("trading loop stopped")
	}

	if prices := eng.Prices(); len(prices) > 0 {
		if err := md.SaveCache(cfg.PriceCachePath, prices); err != nil {
			log.Warn().Err(err).Msg("failed to save price cache")
		}
	}
	log.Info().Msg("bot shutdown complete")
}

// seedPrices warms the indicator window from the on-disk cache, falling
// back to exchange OHLC history. An empty window is not fatal; it fills up
// as cycles run.
func seedPrices(ctx context.Context, cfg config.Config, client *kraken.Client, eng *engine.Engine) {
	if prices, err := md.LoadCache(cfg.PriceCachePath); err == nil && len(prices) > 0 {
		eng.Seed(prices)
		log.Info().Int("prices", len(prices)).Str("path", cfg.PriceCachePath).
			Msg("seeded price window from cache")
		return
	}

	since := time.Now().Add(-time.Duration(cfg.OHLCInterval*md.DefaultMaxLen) * time.Minute).Unix()
	closes, err := client.HistoricalCloses(ctx, cfg.Pair, cfg.OHLCInterval, since)
	if err != nil {
		log.Warn().Err(err).Msg("historical close fetch failed, starting with empty window")
		return
	}
	eng.Seed(closes)
	if err := md.SaveCache(cfg.PriceCachePath, closes); err != nil {
		log.Warn().Err(err).Msg("failed to save price cache")
	}
	log.Info().Int("prices", len(closes)).Msg("seeded price window from exchange history")
}

// runStream steps the engine on every websocket tick. Rebalancing still
// happens per tick so bucket proportions track the configured weights.
func runStream(ctx context.Context, cfg config.Config, eng *engine.Engine, ledger *portfolio.Ledger) error {
	return kraken.StreamTicker(ctx, cfg.WSURL, cfg.Pair, func(price float64) {
		ledger.Rebalance()
		outcome, err := eng.Step(ctx, price)
		switch {
		case err == nil:
			log.Info().Str("action", string(outcome.Action)).Str("result", outcome.Result).
				Float64("price", price).Msg("tick outcome")
		case errors.Is(err, engine.ErrInsufficientData):
		default:
			log.Warn().Err(err).Float64("price", price).Msg("tick step failed")
		}
	})
}
