// Package money defines the typed fixed-point amounts the simulator is built
// on. Base and Quote are distinct types over shopspring/decimal so that a
// base-denominated quantity can never be added to a quote-denominated one by
// accident. Prices are always Quote.
//
// All arithmetic is exact; division rounds with banker's rounding at Scale
// decimal places. Because decimal is arbitrary-precision there is no overflow;
// dividing by zero panics, which halts the simulator.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places carried through division (DivBank).
// Tick rounding rounds to whole multiples of the tick instead.
const Scale = 8

// Base is an amount denominated in the base asset of the pair (e.g. BTC in
// BTCUSD). Contract quantities of linear futures are Base; margin and P&L of
// inverse futures are Base.
type Base decimal.Decimal

// Quote is an amount denominated in the quote asset of the pair (e.g. USD in
// BTCUSD). Prices are always Quote. Margin and P&L of linear futures are Quote.
type Quote decimal.Decimal

// Currency is the sealed set of money kinds. Generic components are
// monomorphized over it, so there is no runtime dispatch on the hot path.
type Currency interface {
	Base | Quote
}

// ErrZeroQuantity is returned by WeightedPrice when both quantities are zero.
var ErrZeroQuantity = errors.New("weighted price over zero total quantity")

// Dec unwraps any currency amount to its raw decimal.
func Dec[C Currency](c C) decimal.Decimal { return decimal.Decimal(c) }

// As wraps a raw decimal into the requested currency kind.
func As[C Currency](d decimal.Decimal) C { return C(d) }

// Zero returns the zero amount of a currency kind.
func Zero[C Currency]() C { return C(decimal.Decimal{}) }

// Add returns a + b.
func Add[C Currency](a, b C) C { return C(decimal.Decimal(a).Add(decimal.Decimal(b))) }

// Sub returns a - b.
func Sub[C Currency](a, b C) C { return C(decimal.Decimal(a).Sub(decimal.Decimal(b))) }

// Neg returns -a.
func Neg[C Currency](a C) C { return C(decimal.Decimal(a).Neg()) }

// Abs returns |a|.
func Abs[C Currency](a C) C { return C(decimal.Decimal(a).Abs()) }

// MulDec scales an amount by a dimensionless decimal.
func MulDec[C Currency](a C, d decimal.Decimal) C { return C(decimal.Decimal(a).Mul(d)) }

// Cmp compares two amounts of the same kind: -1 if a < b, 0 if equal, +1 if a > b.
func Cmp[C Currency](a, b C) int { return decimal.Decimal(a).Cmp(decimal.Decimal(b)) }

// Sign reports -1, 0 or +1.
func Sign[C Currency](a C) int { return decimal.Decimal(a).Sign() }

// IsZero reports whether the amount is zero.
func IsZero[C Currency](a C) bool { return decimal.Decimal(a).IsZero() }

// IsNegative reports whether the amount is below zero.
func IsNegative[C Currency](a C) bool { return decimal.Decimal(a).IsNegative() }

// DivBank divides a by b with banker's rounding at Scale places.
// Panics if b is zero; arithmetic faults are not recoverable.
func DivBank(a, b decimal.Decimal) decimal.Decimal {
	return a.Div(b).RoundBank(Scale)
}

// WeightedPrice returns (p1*q1 + p2*q2) / (q1 + q2) with banker's rounding.
// The quantities are dimensionless magnitudes of the same contract currency.
func WeightedPrice(p1 Quote, q1 decimal.Decimal, p2 Quote, q2 decimal.Decimal) (Quote, error) {
	total := q1.Add(q2)
	if total.IsZero() {
		return Quote{}, ErrZeroQuantity
	}
	sum := decimal.Decimal(p1).Mul(q1).Add(decimal.Decimal(p2).Mul(q2))
	return Quote(DivBank(sum, total)), nil
}

// RoundToTick rounds a price to the nearest multiple of tick using banker's
// rounding. A zero tick leaves the price untouched.
func RoundToTick(p Quote, tick decimal.Decimal) Quote {
	if tick.IsZero() {
		return p
	}
	steps := decimal.Decimal(p).Div(tick).RoundBank(0)
	return Quote(steps.Mul(tick))
}

// MidPrice returns (bid+ask)/2 rounded to the price tick.
func MidPrice(bid, ask Quote, tick decimal.Decimal) Quote {
	two := decimal.NewFromInt(2)
	mid := decimal.Decimal(bid).Add(decimal.Decimal(ask)).Div(two)
	return RoundToTick(Quote(mid), tick)
}

func (b Base) String() string  { return decimal.Decimal(b).String() + " BASE" }
func (q Quote) String() string { return decimal.Decimal(q).String() + " QUOTE" }
