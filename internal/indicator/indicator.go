// Package indicator provides the pure indicator math used by the trading
// engine: moving averages, RSI, MACD, Bollinger bands and the profit/fee
// helpers. Inputs are time-ascending close prices; functions return an ok
// bool of false when the series is shorter than the required window.
package indicator

import "math"

type Mode string

const (
	Simple      Mode = "simple"
	Exponential Mode = "exponential"
)

// MovingAverage returns the moving average of the last window prices.
// Unknown modes fall back to simple.
func MovingAverage(prices []float64, window int, mode Mode) (float64, bool) {
	if window <= 0 || len(prices) < window {
		return 0, false
	}
	if mode == Exponential {
		ema := emaSeries(prices, window)
		return ema[len(ema)-1], true
	}
	sum := 0.0
	for _, p := range prices[len(prices)-window:] {
		sum += p
	}
	return sum / float64(window), true
}

// RSI returns the Relative Strength Index over the last window deltas,
// in [0,100]. With zero average loss and any gain the index saturates at
// 100; a fully flat window reads 50.
func RSI(prices []float64, window int) (float64, bool) {
	if window <= 0 || len(prices) < window+1 {
		return 0, false
	}
	var avgGain, avgLoss float64
	deltas := prices[len(prices)-window-1:]
	for i := 1; i < len(deltas); i++ {
		d := deltas[i] - deltas[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss += -d
		}
	}
	avgGain /= float64(window)
	avgLoss /= float64(window)

	if avgLoss == 0 {
		if avgGain > 0 {
			return 100, true
		}
		return 50, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// MACD returns the MACD line, signal line and histogram for the series.
// Requires at least long prices.
func MACD(prices []float64, short, long, signalWindow int) (macd, signal, histogram float64, ok bool) {
	if len(prices) < long || short <= 0 || long <= short || signalWindow <= 0 {
		return 0, 0, 0, false
	}
	shortEMA := emaSeries(prices, short)
	longEMA := emaSeries(prices, long)
	macdSeries := make([]float64, len(prices))
	for i := range prices {
		macdSeries[i] = shortEMA[i] - longEMA[i]
	}
	signalSeries := emaSeries(macdSeries, signalWindow)

	macd = macdSeries[len(macdSeries)-1]
	signal = signalSeries[len(signalSeries)-1]
	return macd, signal, macd - signal, true
}

type Bands struct {
	Middle float64
	Upper  float64
	Lower  float64
}

// BollingerBands returns the rolling mean band with numStd sample standard
// deviations on either side, over the last window prices.
func BollingerBands(prices []float64, window int, numStd float64) (Bands, bool) {
	if window <= 1 || len(prices) < window {
		return Bands{}, false
	}
	tail := prices[len(prices)-window:]
	mean := 0.0
	for _, p := range tail {
		mean += p
	}
	mean /= float64(window)

	variance := 0.0
	for _, p := range tail {
		variance += (p - mean) * (p - mean)
	}
	std := math.Sqrt(variance / float64(window-1))

	return Bands{
		Middle: mean,
		Upper:  mean + numStd*std,
		Lower:  mean - numStd*std,
	}, true
}

// ProfitLossPercent returns the percentage change from previous to current.
func ProfitLossPercent(current, previous float64) float64 {
	return (current - previous) / previous * 100.0
}

// IsProfitableAfterFees reports whether a profit/loss percentage clears the
// round-trip transaction fee (feePercent charged on both legs).
func IsProfitableAfterFees(plPercent, feePercent float64) bool {
	return plPercent > feePercent*2
}

// emaSeries computes the full exponential moving average series with
// alpha = 2/(window+1), seeded at the first value.
func emaSeries(values []float64, window int) []float64 {
	alpha := 2.0 / (float64(window) + 1.0)
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}
