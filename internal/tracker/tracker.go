// Package tracker aggregates realized-P&L and trade events into running
// account statistics: turnover, drawdown, and Welford online Sharpe/Sortino.
// It is a pure sink — it never calls back into the exchange — and works in
// float64 because its outputs are statistics, not money.
package tracker

import (
	"math"

	"github.com/shopspring/decimal"

	"futsim/pkg/types"
)

// AccTracker accumulates statistics over the life of a simulation run.
type AccTracker struct {
	walletBalance float64
	totalRPnL     float64
	numTrades     int64
	numBuys       int64
	totalTurnover float64
	wbHigh        float64
	maxDrawdown   float64

	returns    welford
	posReturns welford
}

// New creates a tracker seeded with the starting wallet balance, the
// reference point for drawdown.
func New(startingBalance decimal.Decimal) *AccTracker {
	wb := startingBalance.InexactFloat64()
	return &AccTracker{walletBalance: wb, wbHigh: wb}
}

// LogTrade records a fill for turnover and buy-ratio statistics.
func (t *AccTracker) LogTrade(side types.Side, size decimal.Decimal) {
	t.totalTurnover += size.Abs().InexactFloat64()
	t.numTrades++
	if side == types.Buy {
		t.numBuys++
	}
}

// LogRealizedPnL records one realized-P&L increment, updating the drawdown
// high-water mark and both Welford accumulators.
func (t *AccTracker) LogRealizedPnL(rpnl decimal.Decimal) {
	x := rpnl.InexactFloat64()
	t.totalRPnL += x
	t.walletBalance += x
	t.returns.add(x)
	if x > 0 {
		t.posReturns.add(x)
	}
	if t.walletBalance > t.wbHigh {
		t.wbHigh = t.walletBalance
	}
	if dd := (t.wbHigh - t.walletBalance) / t.wbHigh; dd > t.maxDrawdown {
		t.maxDrawdown = dd
	}
}

// TotalRPnL returns the cumulative realized P&L.
func (t *AccTracker) TotalRPnL() float64 { return t.totalRPnL }

// NumTrades returns the number of logged fills.
func (t *AccTracker) NumTrades() int64 { return t.numTrades }

// BuyRatio returns the share of fills that were buys.
func (t *AccTracker) BuyRatio() float64 {
	if t.numTrades == 0 {
		return math.NaN()
	}
	return float64(t.numBuys) / float64(t.numTrades)
}

// Turnover returns the cumulative traded quantity.
func (t *AccTracker) Turnover() float64 { return t.totalTurnover }

// MaxDrawdown returns the largest observed (high - current) / high. It is
// non-decreasing over time.
func (t *AccTracker) MaxDrawdown() float64 { return t.maxDrawdown }

// Sharpe is total realized P&L over the standard deviation of all increments.
// NaN with fewer than two samples.
func (t *AccTracker) Sharpe() float64 { return t.totalRPnL / t.returns.stdDev() }

// Sortino is total realized P&L over the standard deviation of the positive
// increments only. NaN with fewer than two positive samples.
func (t *AccTracker) Sortino() float64 { return t.totalRPnL / t.posReturns.stdDev() }

// Nop is a tracker that discards every event, for runs without statistics.
type Nop struct{}

// LogTrade implements the tracker interface.
func (Nop) LogTrade(types.Side, decimal.Decimal) {}

// LogRealizedPnL implements the tracker interface.
func (Nop) LogRealizedPnL(decimal.Decimal) {}
