package engine

import (
	"context"
	"errors"

	"cryptobot/internal/kraken"
)

type Action string

const (
	Hold Action = "HOLD"
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

type Reason string

const (
	ReasonCooldown         Reason = "cooldown"
	ReasonNoSignal         Reason = "no_signal"
	ReasonStopLoss         Reason = "stop_loss"
	ReasonTakeProfit       Reason = "take_profit"
	ReasonTechnicalSignal  Reason = "technical_signal"
	ReasonInsufficientData Reason = "insufficient_data"
)

// Result records what became of a decided action.
const (
	ResultHold               = "hold"
	ResultExecuted           = "executed"
	ResultDryRun             = "dry_run"
	ResultSameSideSuppressed = "suppressed_same_side"
	ResultFeeUnprofitable    = "skipped_fee_unprofitable"
	ResultLowMarketVolume    = "skipped_low_market_volume"
	ResultInsufficientVolume = "skipped_insufficient_volume"
	ResultOrderFailed        = "order_failed"
	ResultSkipped            = "skipped"
)

// Outcome describes one engine step: the decided action, why it was
// decided, and what happened to it.
type Outcome struct {
	Action Action
	Reason Reason
	Result string
	Price  float64
}

var (
	// ErrInsufficientData: the price window is not yet long enough for
	// the indicators; the cycle's trade decision is skipped.
	ErrInsufficientData = errors.New("insufficient price data for indicators")

	// ErrInsufficientVolume: the TRADING bucket is below the configured
	// minimum trade volume; no order is submitted.
	ErrInsufficientVolume = errors.New("trade volume below configured minimum")

	// ErrExecutionFailed: the gateway rejected or failed the order; the
	// engine state is left unchanged.
	ErrExecutionFailed = errors.New("order execution failed")
)

// Gateway is the order-placement capability set the engine consumes.
type Gateway interface {
	PlaceOrder(ctx context.Context, req kraken.OrderRequest) (kraken.OrderRef, error)
	MarketVolume(ctx context.Context, pair string) (float64, error)
}

// HoldingsUpdater is implemented by engines that accept externally fetched
// holdings (exchange balance refresh). Callers invoke it unconditionally
// through this interface.
type HoldingsUpdater interface {
	UpdateExternalHoldings(total, deviationPct float64)
}
