package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptobot/internal/portfolio"
)

type fakePriceSource struct {
	prices []float64
	index  int
	err    error
}

func (f *fakePriceSource) CurrentPrice(context.Context, string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	price := f.prices[f.index%len(f.prices)]
	f.index++
	return price, nil
}

type fakeAccount struct {
	balances map[string]float64
	assetKey string
	err      error
}

func (f *fakeAccount) AccountBalance(context.Context) (map[string]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.balances, nil
}

func (f *fakeAccount) AssetKey(context.Context, string) (string, error) {
	return f.assetKey, nil
}

func TestCycleTreatsInsufficientDataAsRecoverable(t *testing.T) {
	cfg := testConfig()
	gw := &fakeGateway{}
	eng, _ := newTestEngine(t, cfg, gw)
	ledger := testLedger(t)
	sched := NewScheduler(cfg, eng, ledger, &fakePriceSource{prices: []float64{100}})

	// one price is nowhere near the indicator windows, but the cycle
	// itself succeeds
	assert.NoError(t, sched.Cycle(context.Background()))
}

func TestCycleReportsPriceFetchFailure(t *testing.T) {
	cfg := testConfig()
	eng, _ := newTestEngine(t, cfg, &fakeGateway{})
	sched := NewScheduler(cfg, eng, testLedger(t), &fakePriceSource{err: errors.New("connection reset")})

	assert.Error(t, sched.Cycle(context.Background()))
}

func TestCycleSwallowsExecutionFailure(t *testing.T) {
	cfg := testConfig()
	gw := &fakeGateway{placeErr: errors.New("gateway timeout")}
	eng, _ := newTestEngine(t, cfg, gw)
	eng.Seed([]float64{100, 97, 94})
	sched := NewScheduler(cfg, eng, testLedger(t), &fakePriceSource{prices: []float64{95}})

	// the buy signal fires, the order fails, the cycle still succeeds:
	// order failures never escalate past one cycle
	assert.NoError(t, sched.Cycle(context.Background()))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.CycleInterval = 10 * time.Millisecond
	cfg.ErrorInterval = 10 * time.Millisecond
	eng, _ := newTestEngine(t, cfg, &fakeGateway{})
	sched := NewScheduler(cfg, eng, testLedger(t), &fakePriceSource{prices: []float64{100}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestRunInvokesCycleErrorHook(t *testing.T) {
	cfg := testConfig()
	cfg.CycleInterval = 5 * time.Millisecond
	cfg.ErrorInterval = 5 * time.Millisecond
	eng, _ := newTestEngine(t, cfg, &fakeGateway{})
	sched := NewScheduler(cfg, eng, testLedger(t), &fakePriceSource{err: errors.New("down")})

	counts := make(chan int, 8)
	sched.CycleError = func(consecutive int, err error) {
		counts <- consecutive
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sched.Run(ctx) }()

	first := <-counts
	second := <-counts
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestRefreshOnceUpdatesHoldingsAndLedger(t *testing.T) {
	cfg := testConfig()
	cfg.BaselineHolding = 1.0
	cfg.ApplyExchangeBalance = true
	eng, _ := newTestEngine(t, cfg, &fakeGateway{})
	ledger := testLedger(t)
	account := &fakeAccount{balances: map[string]float64{"XXBT": 1.25}, assetKey: "XXBT"}

	refreshOnce(context.Background(), cfg, account, eng, ledger, "XXBT")

	total, deviation := eng.ExternalHoldings()
	assert.Equal(t, 1.25, total)
	assert.InDelta(t, 25.0, deviation, 1e-9)
	assert.InDelta(t, 1.25, ledger.Total(), 1e-9)

	trading, err := ledger.Balance(portfolio.Trading)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, trading, 1e-9)
}

func TestRefreshOnceIgnoresMissingAsset(t *testing.T) {
	cfg := testConfig()
	cfg.ApplyExchangeBalance = true
	eng, _ := newTestEngine(t, cfg, &fakeGateway{})
	ledger := testLedger(t)
	account := &fakeAccount{balances: map[string]float64{"ZEUR": 100}}

	refreshOnce(context.Background(), cfg, account, eng, ledger, "XXBT")
	assert.InDelta(t, 1.0, ledger.Total(), 1e-9)
}
