// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the simulator — order sides and
// states, fills, and risk notifications. It depends only on pkg/money, so it
// can be imported by any layer.
package types

import "futsim/pkg/money"

// Side represents the direction of an order or fill: BUY or SELL.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus enumerates the order lifecycle. Filled and Cancelled are
// terminal and absorbing.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderActive    OrderStatus = "ACTIVE"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether the status is absorbing.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// Fill records one execution of a resting order at its limit price. OrderID
// is that order's id; Maker reports whether the filled liquidity was resting.
// Immediate executions of an aggressing order are not reported as fills.
type Fill[Q money.Currency] struct {
	OrderID   uint64
	Side      Side
	Price     money.Quote
	Qty       Q
	Maker     bool
	Timestamp int64
}

// Liquidation is the notification emitted when maintenance margin is breached
// and the position is force-closed. It is not an error: the market event that
// triggered it still completes.
type Liquidation[M money.Currency] struct {
	RemainingWallet M
	Price           money.Quote
	Timestamp       int64
}
