// Package risk derives the engine's trade thresholds. Thresholds are
// recomputed every cycle from recent volatility and optionally adjusted by
// the news sentiment score before the signal checks run.
package risk

import "math"

// VolatilityWindow is the trailing price count used for threshold scaling.
const VolatilityWindow = 30

// Fallback calibration, used until the trailing window fills.
const (
	DefaultBuyRSI        = 40.0
	DefaultSellRSI       = 60.0
	DefaultStopLossPct   = 0.05
	DefaultTakeProfitPct = 0.10
)

// Clamp bounds for the volatility-scaled thresholds.
const (
	minBuyRSI        = 30.0
	maxBuyRSI        = 40.0
	minSellRSI       = 60.0
	maxSellRSI       = 75.0
	minStopLossPct   = 0.03
	maxStopLossPct   = 0.10
	minTakeProfitPct = 0.10
	maxTakeProfitPct = 0.20
)

type Thresholds struct {
	BuyRSI        float64
	SellRSI       float64
	StopLossPct   float64
	TakeProfitPct float64
}

func Defaults() Thresholds {
	return Thresholds{
		BuyRSI:        DefaultBuyRSI,
		SellRSI:       DefaultSellRSI,
		StopLossPct:   DefaultStopLossPct,
		TakeProfitPct: DefaultTakeProfitPct,
	}
}

// Compute scales the default thresholds by the coefficient of variation
// (stddev/mean) of the trailing window. Volatile markets widen the RSI
// bands and both protective stops; quiet markets keep the defaults. Fewer
// than VolatilityWindow prices, or a non-positive mean, fall back to the
// defaults.
func Compute(trailing []float64) Thresholds {
	if len(trailing) < VolatilityWindow {
		return Defaults()
	}
	mean := 0.0
	for _, p := range trailing {
		mean += p
	}
	mean /= float64(len(trailing))
	if mean <= 0 {
		return Defaults()
	}

	variance := 0.0
	for _, p := range trailing {
		variance += (p - mean) * (p - mean)
	}
	cv := math.Sqrt(variance/float64(len(trailing))) / mean

	return Thresholds{
		BuyRSI:        clamp(DefaultBuyRSI*(1-cv), minBuyRSI, maxBuyRSI),
		SellRSI:       clamp(DefaultSellRSI*(1+cv), minSellRSI, maxSellRSI),
		StopLossPct:   clamp(DefaultStopLossPct*(1+2*cv), minStopLossPct, maxStopLossPct),
		TakeProfitPct: clamp(DefaultTakeProfitPct*(1+2*cv), minTakeProfitPct, maxTakeProfitPct),
	}
}

// Sentiment bands.
const (
	strongPositive   = 0.5
	moderatePositive = 0.1
	moderateNegative = -0.1
	strongNegative   = -0.5
)

// Adjusted carries thresholds after sentiment adjustment plus the MACD
// crossover strictness factors. A buy factor below 1 accepts a slight
// crossover lag on the buy side; a sell factor above 1 does the same for
// sells.
type Adjusted struct {
	Thresholds
	MACDBuyFactor  float64
	MACDSellFactor float64
}

// Adjust applies the sentiment score to the thresholds: positive sentiment
// relaxes the buy side, negative sentiment relaxes the sell side, and the
// strong bands additionally loosen the MACD crossover requirement.
func Adjust(th Thresholds, score float64) Adjusted {
	adj := Adjusted{Thresholds: th, MACDBuyFactor: 1.0, MACDSellFactor: 1.0}
	switch {
	case score > strongPositive:
		adj.BuyRSI += 10
		adj.MACDBuyFactor = 0.9
	case score > moderatePositive:
		adj.BuyRSI += 5
	case score < strongNegative:
		adj.SellRSI -= 10
		adj.MACDSellFactor = 1.1
	case score < moderateNegative:
		adj.SellRSI -= 5
	}
	return adj
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
