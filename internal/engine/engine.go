// Package engine contains the trading core: the per-tick state machine
// that turns the price series and derived indicators into buy/sell/hold
// actions, the execution path with its risk controls, and the cycle
// scheduler that drives it.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"cryptobot/internal/config"
	"cryptobot/internal/indicator"
	"cryptobot/internal/kraken"
	"cryptobot/internal/md"
	"cryptobot/internal/portfolio"
	"cryptobot/internal/risk"
	"cryptobot/internal/sentiment"
)

type TradeRecord struct {
	Type      Action    `json:"type"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
	Reason    Reason    `json:"reason"`
}

// Engine owns the position/risk state for one traded pair. It is driven by
// a single goroutine; only UpdateExternalHoldings may be called from
// elsewhere.
type Engine struct {
	cfg       config.Config
	gateway   Gateway
	ledger    *portfolio.Ledger
	sentiment sentiment.Provider
	tradeLog  *TradeLog

	series     *md.Series
	thresholds risk.Thresholds

	lastTradeType Action
	lastBuyPrice  float64
	lastSellPrice float64
	cooldownEnd   time.Time

	history          []TradeRecord
	totalTrades      int
	profitableTrades int

	holdingsMu      sync.Mutex
	externalTotal   float64
	externalDevPct  float64

	now func() time.Time
}

func New(cfg config.Config, gateway Gateway, ledger *portfolio.Ledger, provider sentiment.Provider, tradeLog *TradeLog) *Engine {
	if provider == nil {
		provider = sentiment.Static(0)
	}
	return &Engine{
		cfg:        cfg,
		gateway:    gateway,
		ledger:     ledger,
		sentiment:  provider,
		tradeLog:   tradeLog,
		series:     md.NewSeries(md.DefaultMaxLen),
		thresholds: risk.Defaults(),
		now:        time.Now,
	}
}

// Seed primes the price series with historical closes.
func (e *Engine) Seed(prices []float64) {
	e.series = md.NewSeriesFrom(prices, md.DefaultMaxLen)
}

// Step processes one price tick: ingest, threshold recompute, indicator
// evaluation, decision, execution. One tick is fully processed before the
// next is considered.
func (e *Engine) Step(ctx context.Context, currentPrice float64) (Outcome, error) {
	e.series.Append(currentPrice)
	e.thresholds = risk.Compute(e.series.Trailing(risk.VolatilityWindow))

	prices := e.series.Values()
	rsi, rsiOK := indicator.RSI(prices, e.cfg.RSIWindow)
	macd, signal, histogram, macdOK := indicator.MACD(prices, e.cfg.MACDShort, e.cfg.MACDLong, e.cfg.MACDSignal)
	if !rsiOK || !macdOK {
		log.Info().Int("series_len", e.series.Len()).Msg("indicators not ready, skipping cycle")
		e.record(Outcome{Action: Hold, Reason: ReasonInsufficientData, Result: ResultSkipped, Price: currentPrice}, stepMetrics{})
		return Outcome{}, ErrInsufficientData
	}

	metrics := stepMetrics{RSI: rsi, MACD: macd, Signal: signal, Histogram: histogram}

	now := e.now()
	if now.Before(e.cooldownEnd) {
		log.Info().Time("cooldown_end", e.cooldownEnd).Msg("cooldown active, skipping trade action")
		outcome := Outcome{Action: Hold, Reason: ReasonCooldown, Result: ResultHold, Price: currentPrice}
		e.record(outcome, metrics)
		return outcome, nil
	}

	// protective exits short-circuit the indicator signals
	if e.lastTradeType == Buy && e.lastBuyPrice > 0 {
		pl := indicator.ProfitLossPercent(currentPrice, e.lastBuyPrice)
		if pl <= -e.thresholds.StopLossPct*100 {
			log.Warn().Float64("pl_pct", pl).Float64("price", currentPrice).Msg("stop loss triggered")
			outcome, err := e.executeSell(ctx, currentPrice, ReasonStopLoss)
			e.record(outcome, metrics)
			return outcome, err
		}
		if pl >= e.thresholds.TakeProfitPct*100 {
			log.Info().Float64("pl_pct", pl).Float64("price", currentPrice).Msg("take profit triggered")
			outcome, err := e.executeSell(ctx, currentPrice, ReasonTakeProfit)
			e.record(outcome, metrics)
			return outcome, err
		}
	}

	movingAvg, maOK := indicator.MovingAverage(prices, e.cfg.MAWindow, indicator.Simple)
	if !maOK {
		log.Info().Int("series_len", e.series.Len()).Msg("moving average not ready, skipping cycle")
		e.record(Outcome{Action: Hold, Reason: ReasonInsufficientData, Result: ResultSkipped, Price: currentPrice}, metrics)
		return Outcome{}, ErrInsufficientData
	}
	metrics.MovingAverage = movingAvg

	score := 0.0
	if e.cfg.SentimentEnabled {
		score = e.sentiment.Score(ctx)
	}
	metrics.Sentiment = score
	adjusted := risk.Adjust(e.thresholds, score)

	log.Info().
		Float64("price", currentPrice).
		Float64("ma", movingAvg).
		Float64("rsi", rsi).
		Float64("macd", macd).
		Float64("signal", signal).
		Float64("sentiment", score).
		Float64("buy_rsi", adjusted.BuyRSI).
		Float64("sell_rsi", adjusted.SellRSI).
		Msg("cycle indicators")

	var outcome Outcome
	var err error
	switch {
	case macd > signal*adjusted.MACDBuyFactor && rsi < adjusted.BuyRSI && currentPrice > movingAvg:
		outcome, err = e.executeBuy(ctx, currentPrice)
	case macd < signal*adjusted.MACDSellFactor && rsi > adjusted.SellRSI && currentPrice < movingAvg:
		outcome, err = e.executeSell(ctx, currentPrice, ReasonTechnicalSignal)
	default:
		outcome = Outcome{Action: Hold, Reason: ReasonNoSignal, Result: ResultHold, Price: currentPrice}
	}
	e.record(outcome, metrics)
	return outcome, err
}

func (e *Engine) executeBuy(ctx context.Context, price float64) (Outcome, error) {
	outcome := Outcome{Action: Buy, Reason: ReasonTechnicalSignal, Price: price}

	// never issue a buy immediately following another buy
	if e.lastTradeType == Buy {
		log.Info().Msg("buy suppressed: previous trade was a buy")
		outcome.Result = ResultSameSideSuppressed
		return outcome, nil
	}

	if e.lastSellPrice > 0 {
		pl := indicator.ProfitLossPercent(price, e.lastSellPrice)
		if !indicator.IsProfitableAfterFees(pl, e.cfg.FeePercent) {
			log.Info().Float64("pl_pct", pl).Msg("buy skipped: move since last sell does not clear fees")
			outcome.Result = ResultFeeUnprofitable
			return outcome, nil
		}
	}

	if e.cfg.MarketVolumeFloor > 0 {
		volume, err := e.gateway.MarketVolume(ctx, e.cfg.Pair)
		if err != nil {
			log.Warn().Err(err).Msg("market volume unavailable, proceeding without floor check")
		} else if volume < e.cfg.MarketVolumeFloor {
			log.Info().Float64("market_volume", volume).Float64("floor", e.cfg.MarketVolumeFloor).
				Msg("buy skipped: market volume too low")
			outcome.Result = ResultLowMarketVolume
			return outcome, nil
		}
	}

	return e.submit(ctx, outcome, kraken.Buy, price)
}

func (e *Engine) executeSell(ctx context.Context, price float64, reason Reason) (Outcome, error) {
	outcome := Outcome{Action: Sell, Reason: reason, Price: price}

	// never issue a sell immediately following another sell
	if e.lastTradeType == Sell {
		log.Info().Msg("sell suppressed: previous trade was a sell")
		outcome.Result = ResultSameSideSuppressed
		return outcome, nil
	}

	// the fee guard applies to signal-driven sells only; protective exits
	// must fire regardless of profitability
	if reason == ReasonTechnicalSignal && e.lastBuyPrice > 0 {
		pl := indicator.ProfitLossPercent(price, e.lastBuyPrice)
		if !indicator.IsProfitableAfterFees(pl, e.cfg.FeePercent) {
			log.Info().Float64("pl_pct", pl).Msg("sell skipped: move since last buy does not clear fees")
			outcome.Result = ResultFeeUnprofitable
			return outcome, nil
		}
	}

	return e.submit(ctx, outcome, kraken.Sell, price)
}

// submit places the order for the full TRADING bucket and, on success,
// commits the state transition. Failure leaves all state unchanged.
func (e *Engine) submit(ctx context.Context, outcome Outcome, side kraken.Side, price float64) (Outcome, error) {
	volume, err := e.ledger.Balance(portfolio.Trading)
	if err != nil {
		outcome.Result = ResultSkipped
		return outcome, fmt.Errorf("read trading balance: %w", err)
	}
	if volume < e.cfg.MinTradeVolume {
		log.Warn().Float64("volume", volume).Float64("min", e.cfg.MinTradeVolume).
			Msg("trade volume below minimum, aborting")
		outcome.Result = ResultInsufficientVolume
		return outcome, ErrInsufficientVolume
	}

	req := kraken.OrderRequest{
		Pair:      e.cfg.Pair,
		Side:      side,
		OrderType: kraken.OrderType(e.cfg.OrderType),
		Volume:    volume,
	}
	if req.OrderType == kraken.Limit {
		if side == kraken.Buy {
			req.LimitPrice = price * (1 - e.cfg.LimitOffset)
		} else {
			req.LimitPrice = price * (1 + e.cfg.LimitOffset)
		}
	}

	if e.cfg.DryRun {
		log.Info().Str("side", string(side)).Float64("volume", volume).Float64("price", price).
			Msg("dry run: order not submitted")
		outcome.Result = ResultDryRun
		return outcome, nil
	}

	if _, err := e.gateway.PlaceOrder(ctx, req); err != nil {
		log.Error().Err(err).Str("side", string(side)).Float64("volume", volume).
			Msg("order placement failed, state unchanged")
		outcome.Result = ResultOrderFailed
		return outcome, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}

	e.commit(outcome.Action, price, volume, outcome.Reason)
	outcome.Result = ResultExecuted
	return outcome, nil
}

func (e *Engine) commit(action Action, price, volume float64, reason Reason) {
	now := e.now()
	switch action {
	case Buy:
		e.lastBuyPrice = price
	case Sell:
		if e.lastBuyPrice > 0 && indicator.ProfitLossPercent(price, e.lastBuyPrice) > 0 {
			e.profitableTrades++
		}
		e.lastSellPrice = price
	}
	e.lastTradeType = action
	e.totalTrades++
	e.cooldownEnd = now.Add(e.cfg.Cooldown)
	e.history = append(e.history, TradeRecord{
		Type:      action,
		Price:     price,
		Volume:    volume,
		Timestamp: now,
		Reason:    reason,
	})
	log.Info().Str("action", string(action)).Float64("price", price).Float64("volume", volume).
		Str("reason", string(reason)).Time("cooldown_end", e.cooldownEnd).Msg("trade executed")
}

// UpdateExternalHoldings records the exchange-reported total holdings and
// deviation from the configured baseline. Safe for concurrent use.
func (e *Engine) UpdateExternalHoldings(total, deviationPct float64) {
	e.holdingsMu.Lock()
	defer e.holdingsMu.Unlock()
	e.externalTotal = total
	e.externalDevPct = deviationPct
	log.Info().Float64("total", total).Float64("deviation_pct", deviationPct).
		Msg("external holdings updated")
}

// ExternalHoldings returns the last externally reported total and
// deviation.
func (e *Engine) ExternalHoldings() (total, deviationPct float64) {
	e.holdingsMu.Lock()
	defer e.holdingsMu.Unlock()
	return e.externalTotal, e.externalDevPct
}

// History returns a copy of the executed trades.
func (e *Engine) History() []TradeRecord {
	out := make([]TradeRecord, len(e.history))
	copy(out, e.history)
	return out
}

// Prices returns a copy of the retained price window, oldest first.
func (e *Engine) Prices() []float64 {
	return e.series.Values()
}

// Stats returns the total and profitable executed trade counts.
func (e *Engine) Stats() (total, profitable int) {
	return e.totalTrades, e.profitableTrades
}

// Thresholds returns the thresholds from the most recent step.
func (e *Engine) Thresholds() risk.Thresholds {
	return e.thresholds
}

type stepMetrics struct {
	RSI           float64
	MACD          float64
	Signal        float64
	Histogram     float64
	MovingAverage float64
	Sentiment     float64
}

func (e *Engine) record(outcome Outcome, metrics stepMetrics) {
	if e.tradeLog == nil {
		return
	}
	e.tradeLog.Append(Entry{
		Timestamp:     e.now().UTC(),
		Pair:          e.cfg.Pair,
		Price:         outcome.Price,
		Action:        outcome.Action,
		Reason:        outcome.Reason,
		Result:        outcome.Result,
		RSI:           metrics.RSI,
		MACD:          metrics.MACD,
		Signal:        metrics.Signal,
		MovingAverage: metrics.MovingAverage,
		Sentiment:     metrics.Sentiment,
	})
}
