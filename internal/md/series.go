// Package md holds the engine's market data: a bounded price series and
// the on-disk price cache used to prime it across restarts.
package md

// DefaultMaxLen bounds the retained price history.
const DefaultMaxLen = 300

// Series is an ordered, time-ascending window of trade prices. Append
// evicts the oldest observation once maxLen is reached. A Series is owned
// by a single engine instance and is not safe for concurrent use.
type Series struct {
	prices []float64
	maxLen int
}

func NewSeries(maxLen int) *Series {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Series{
		prices: make([]float64, 0, maxLen),
		maxLen: maxLen,
	}
}

// NewSeriesFrom seeds a series with historical prices, keeping only the
// most recent maxLen of them.
func NewSeriesFrom(prices []float64, maxLen int) *Series {
	s := NewSeries(maxLen)
	for _, p := range prices {
		s.Append(p)
	}
	return s
}

func (s *Series) Append(price float64) {
	if len(s.prices) == s.maxLen {
		copy(s.prices, s.prices[1:])
		s.prices = s.prices[:s.maxLen-1]
	}
	s.prices = append(s.prices, price)
}

func (s *Series) Len() int { return len(s.prices) }

func (s *Series) Last() (float64, bool) {
	if len(s.prices) == 0 {
		return 0, false
	}
	return s.prices[len(s.prices)-1], true
}

// Values returns a copy of the retained prices, oldest first.
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.prices))
	copy(out, s.prices)
	return out
}

// Trailing returns a copy of the most recent n prices, or all of them when
// fewer are retained.
func (s *Series) Trailing(n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n > len(s.prices) {
		n = len(s.prices)
	}
	out := make([]float64, n)
	copy(out, s.prices[len(s.prices)-n:])
	return out
}
