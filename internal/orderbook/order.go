package orderbook

import (
	"futsim/pkg/money"
	"futsim/pkg/types"
)

// Order is a resting limit order. Qty is the remaining quantity and shrinks as
// fills occur; the order is removed from the book when it reaches zero.
type Order[Q money.Currency] struct {
	ID        uint64
	Side      types.Side
	Price     money.Quote
	Qty       Q
	Timestamp int64
	Status    types.OrderStatus

	// seq is the book-wide insertion sequence number, assigned on insertion.
	// Fill order within a price level is the level's FIFO list order.
	seq uint64
}
