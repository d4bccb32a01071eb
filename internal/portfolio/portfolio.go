// Package portfolio maintains the three-bucket allocation split of total
// holdings (HODL / YIELD / TRADING) and recomputes it on demand.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	HODL    = "HODL"
	Yield   = "YIELD"
	Trading = "TRADING"
)

var ErrUnknownCategory = errors.New("unknown portfolio category")

// allocation weights must sum to 1 within this tolerance
const weightTolerance = 1e-6

// Ledger tracks the total balance and its per-category split. Between
// rebalances a category may drift through UpdateCategory; Rebalance
// restores the weight invariant.
type Ledger struct {
	mu          sync.Mutex
	allocations map[string]float64
	total       float64
	balances    map[string]float64
}

// NewLedger validates the allocation weights and seeds the category
// balances from the initial total.
func NewLedger(allocations map[string]float64, total float64) (*Ledger, error) {
	if len(allocations) == 0 {
		return nil, errors.New("portfolio: no allocation weights configured")
	}
	sum := 0.0
	for category, weight := range allocations {
		if weight < 0 {
			return nil, fmt.Errorf("portfolio: negative weight %f for %s", weight, category)
		}
		sum += weight
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return nil, fmt.Errorf("portfolio: allocation weights sum to %f, want 1.0", sum)
	}
	if total < 0 {
		return nil, fmt.Errorf("portfolio: negative total balance %f", total)
	}

	l := &Ledger{
		allocations: make(map[string]float64, len(allocations)),
		balances:    make(map[string]float64, len(allocations)),
		total:       total,
	}
	for category, weight := range allocations {
		l.allocations[category] = weight
		l.balances[category] = total * weight
	}
	return l, nil
}

// Rebalance recomputes the total as the sum of the current category
// balances and redistributes it by weight. Idempotent: calling it twice in
// a row is a no-op.
func (l *Ledger) Rebalance() {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0.0
	for _, balance := range l.balances {
		total += balance
	}
	l.redistribute(total)
}

// SetTotal overwrites the total with an exchange-authoritative balance and
// redistributes it by weight.
func (l *Ledger) SetTotal(total float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.redistribute(total)
}

func (l *Ledger) redistribute(total float64) {
	l.total = total
	for category, weight := range l.allocations {
		l.balances[category] = total * weight
	}
	log.Debug().Float64("total", total).Fields(map[string]interface{}{"balances": l.balances}).
		Msg("portfolio rebalanced")
}

// UpdateCategory adjusts one bucket by delta and immediately rebalances to
// restore the weight invariant. Unknown categories leave the ledger
// untouched.
func (l *Ledger) UpdateCategory(category string, delta float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.balances[category]; !ok {
		log.Warn().Str("category", category).Msg("update for unknown portfolio category ignored")
		return fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	l.balances[category] += delta
	total := 0.0
	for _, balance := range l.balances {
		total += balance
	}
	l.redistribute(total)
	return nil
}

func (l *Ledger) Balance(category string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[category]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	return balance, nil
}

func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Balances returns a copy of the per-category balances.
func (l *Ledger) Balances() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.balances))
	for category, balance := range l.balances {
		out[category] = balance
	}
	return out
}
