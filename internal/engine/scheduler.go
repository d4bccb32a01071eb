package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"cryptobot/internal/config"
	"cryptobot/internal/portfolio"
)

// PriceSource supplies the current market price for a pair.
type PriceSource interface {
	CurrentPrice(ctx context.Context, pair string) (float64, error)
}

// Scheduler drives the engine serially: rebalance, one step, sleep,
// repeat. A failed cycle sleeps the shorter error interval and the loop
// continues indefinitely; this is the system's sole retry mechanism.
type Scheduler struct {
	cfg    config.Config
	engine *Engine
	ledger *portfolio.Ledger
	prices PriceSource

	// CycleError, when set, observes cycle failures with the current
	// consecutive-failure count. Intended for alerting hooks; the loop
	// itself never gives up.
	CycleError func(consecutive int, err error)
}

func NewScheduler(cfg config.Config, eng *Engine, ledger *portfolio.Ledger, prices PriceSource) *Scheduler {
	return &Scheduler{cfg: cfg, engine: eng, ledger: ledger, prices: prices}
}

// Run loops until the context is cancelled. Shutdown happens between
// cycles, never mid-step.
func (s *Scheduler) Run(ctx context.Context) error {
	consecutive := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.Cycle(ctx)
		sleep := s.cfg.CycleInterval
		if err != nil {
			consecutive++
			sleep = s.cfg.ErrorInterval
			log.Error().Err(err).Int("consecutive_failures", consecutive).
				Dur("retry_in", sleep).Msg("trading cycle failed")
			if s.CycleError != nil {
				s.CycleError(consecutive, err)
			}
		} else {
			consecutive = 0
			log.Debug().Dur("sleep", sleep).Msg("cycle complete, waiting for next")
		}

		if err := waitForContext(ctx, sleep); err != nil {
			return err
		}
	}
}

// Cycle runs one rebalance-and-step pass. Engine-local conditions
// (insufficient data or volume, a failed order) are handled here and do
// not count as cycle failures; only an unreachable market does.
func (s *Scheduler) Cycle(ctx context.Context) error {
	s.ledger.Rebalance()

	price, err := s.prices.CurrentPrice(ctx, s.cfg.Pair)
	if err != nil {
		return fmt.Errorf("fetch current price: %w", err)
	}

	outcome, err := s.engine.Step(ctx, price)
	switch {
	case err == nil:
		log.Info().Str("action", string(outcome.Action)).Str("reason", string(outcome.Reason)).
			Str("result", outcome.Result).Float64("price", price).Msg("cycle outcome")
	case errors.Is(err, ErrInsufficientData):
		// recoverable: the window fills up over the next cycles
	case errors.Is(err, ErrInsufficientVolume):
		log.Warn().Err(err).Msg("trade skipped this cycle")
	case errors.Is(err, ErrExecutionFailed):
		log.Error().Err(err).Msg("order failed, state unchanged, continuing")
	default:
		return err
	}
	return nil
}

// BalanceRefresher is the account capability set the refresh loop needs.
type BalanceRefresher interface {
	AccountBalance(ctx context.Context) (map[string]float64, error)
	AssetKey(ctx context.Context, altname string) (string, error)
}

// BalanceRefreshLoop periodically fetches the exchange balance, pushes the
// total through the HoldingsUpdater, and (when configured) makes it the
// ledger's authoritative total.
func BalanceRefreshLoop(ctx context.Context, cfg config.Config, src BalanceRefresher, updater HoldingsUpdater, ledger *portfolio.Ledger) {
	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()

	assetKey := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if assetKey == "" {
				key, err := src.AssetKey(ctx, cfg.Asset)
				if err != nil {
					log.Warn().Err(err).Str("asset", cfg.Asset).Msg("asset key lookup failed")
					continue
				}
				assetKey = key
			}
			refreshOnce(ctx, cfg, src, updater, ledger, assetKey)
		}
	}
}

func refreshOnce(ctx context.Context, cfg config.Config, src BalanceRefresher, updater HoldingsUpdater, ledger *portfolio.Ledger, assetKey string) {
	balances, err := src.AccountBalance(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("balance refresh failed")
		return
	}
	total, ok := balances[assetKey]
	if !ok {
		log.Warn().Str("asset_key", assetKey).Msg("asset balance not present in account data")
		return
	}

	deviation := 0.0
	if cfg.BaselineHolding > 0 {
		deviation = (total - cfg.BaselineHolding) / cfg.BaselineHolding * 100.0
	}
	updater.UpdateExternalHoldings(total, deviation)

	if cfg.ApplyExchangeBalance {
		ledger.SetTotal(total)
	}
}

func waitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
