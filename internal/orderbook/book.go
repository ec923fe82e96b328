// Package orderbook keeps the user's resting limit orders and matches them
// against market events. Bids are held in descending price order, asks
// ascending; within a price level orders fill FIFO by insertion, with the
// monotonic order id breaking timestamp ties. Level lookup is a binary search
// over the sorted levels; cancellation unlinks from an intrusive list in O(1).
package orderbook

import (
	"container/list"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"futsim/pkg/money"
	"futsim/pkg/types"
)

type level[Q money.Currency] struct {
	price  money.Quote
	orders *list.List // of *Order[Q], FIFO
}

type restingRef[Q money.Currency] struct {
	order *Order[Q]
	lvl   *level[Q]
	elem  *list.Element
	isBid bool
}

// Book holds both resting sides of one user's orders.
type Book[Q money.Currency] struct {
	bids []*level[Q] // price descending
	asks []*level[Q] // price ascending

	byID     map[uint64]*restingRef[Q]
	terminal map[uint64]types.OrderStatus
	nextSeq  uint64
}

// NewBook returns an empty book.
func NewBook[Q money.Currency]() *Book[Q] {
	return &Book[Q]{
		byID:     make(map[uint64]*restingRef[Q]),
		terminal: make(map[uint64]types.OrderStatus),
	}
}

// Insert rests an order at the tail of its price level and activates it.
func (b *Book[Q]) Insert(o *Order[Q]) {
	b.nextSeq++
	o.seq = b.nextSeq
	o.Status = types.OrderActive

	isBid := o.Side == types.Buy
	lvl := b.levelFor(o.Price, isBid)
	elem := lvl.orders.PushBack(o)
	b.byID[o.ID] = &restingRef[Q]{order: o, lvl: lvl, elem: elem, isBid: isBid}
}

func (b *Book[Q]) levelFor(price money.Quote, isBid bool) *level[Q] {
	side := &b.asks
	if isBid {
		side = &b.bids
	}
	idx := sort.Search(len(*side), func(i int) bool {
		c := money.Cmp((*side)[i].price, price)
		if isBid {
			return c <= 0
		}
		return c >= 0
	})
	if idx < len(*side) && money.Cmp((*side)[idx].price, price) == 0 {
		return (*side)[idx]
	}
	lvl := &level[Q]{price: price, orders: list.New()}
	*side = append(*side, nil)
	copy((*side)[idx+1:], (*side)[idx:])
	(*side)[idx] = lvl
	return lvl
}

// Cancel removes a resting order. Cancelling an id that already reached a
// terminal state fails ErrOrderAlreadyTerminal; an id the book has never
// seen fails ErrUnknownOrder.
func (b *Book[Q]) Cancel(id uint64) error {
	ref, ok := b.byID[id]
	if !ok {
		if st, was := b.terminal[id]; was {
			return fmt.Errorf("%w: order %d is %s", types.ErrOrderAlreadyTerminal, id, st)
		}
		return fmt.Errorf("%w: order %d", types.ErrUnknownOrder, id)
	}
	b.remove(ref, types.OrderCancelled)
	return nil
}

func (b *Book[Q]) remove(ref *restingRef[Q], status types.OrderStatus) {
	ref.order.Status = status
	ref.lvl.orders.Remove(ref.elem)
	delete(b.byID, ref.order.ID)
	b.terminal[ref.order.ID] = status
	if ref.lvl.orders.Len() == 0 {
		b.dropLevel(ref.lvl, ref.isBid)
	}
}

func (b *Book[Q]) dropLevel(lvl *level[Q], isBid bool) {
	side := &b.asks
	if isBid {
		side = &b.bids
	}
	for i, l := range *side {
		if l == lvl {
			*side = append((*side)[:i], (*side)[i+1:]...)
			return
		}
	}
}

// BestBid returns the highest resting bid price.
func (b *Book[Q]) BestBid() (money.Quote, bool) {
	if len(b.bids) == 0 {
		return money.Quote{}, false
	}
	return b.bids[0].price, true
}

// BestAsk returns the lowest resting ask price.
func (b *Book[Q]) BestAsk() (money.Quote, bool) {
	if len(b.asks) == 0 {
		return money.Quote{}, false
	}
	return b.asks[0].price, true
}

// Len reports the number of resting orders on a side.
func (b *Book[Q]) Len(side types.Side) int {
	n := 0
	for _, ref := range b.byID {
		if ref.order.Side == side {
			n++
		}
	}
	return n
}

// ActiveOrders returns copies of all resting orders, ordered by id.
func (b *Book[Q]) ActiveOrders() []Order[Q] {
	out := make([]Order[Q], 0, len(b.byID))
	for _, ref := range b.byID {
		out = append(out, *ref.order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MatchTaker consumes resting liquidity on the side opposite the aggressor,
// greedily from the best level outward, as long as the level is crossed by
// the limit. Fills are at the resting price. It returns the maker-side fills
// and the unmatched remainder of the aggressing quantity.
func (b *Book[Q]) MatchTaker(aggressor types.Side, limit money.Quote, qty Q, ts int64) ([]types.Fill[Q], Q) {
	remaining := money.Dec(qty)
	var fills []types.Fill[Q]

	crossed := func(levelPrice money.Quote) bool {
		if aggressor == types.Buy {
			return money.Cmp(levelPrice, limit) <= 0
		}
		return money.Cmp(levelPrice, limit) >= 0
	}
	opposite := func() []*level[Q] {
		if aggressor == types.Buy {
			return b.asks
		}
		return b.bids
	}

	for remaining.Sign() > 0 {
		side := opposite()
		if len(side) == 0 || !crossed(side[0].price) {
			break
		}
		lvl := side[0]
		for elem := lvl.orders.Front(); elem != nil && remaining.Sign() > 0; {
			o := elem.Value.(*Order[Q])
			next := elem.Next()
			fillQty := decimal.Min(remaining, money.Dec(o.Qty))
			fills = append(fills, b.fill(o, money.As[Q](fillQty), ts))
			remaining = remaining.Sub(fillQty)
			elem = next
		}
	}
	return fills, money.As[Q](remaining)
}

// MatchQuote fills resting orders touched or crossed by a new top of book:
// bids whose limit is at or above the new ask, and asks whose limit is at or
// below the new bid, fill fully at their limit price.
func (b *Book[Q]) MatchQuote(bid, ask money.Quote, ts int64) []types.Fill[Q] {
	var fills []types.Fill[Q]
	for len(b.bids) > 0 && money.Cmp(b.bids[0].price, ask) >= 0 {
		fills = append(fills, b.fillLevel(b.bids[0], nil, ts)...)
	}
	for len(b.asks) > 0 && money.Cmp(b.asks[0].price, bid) <= 0 {
		fills = append(fills, b.fillLevel(b.asks[0], nil, ts)...)
	}
	return fills
}

// MatchTrade treats a trade print as aggressive liquidity: resting orders
// whose limit is touched or crossed by the trade price fill FIFO, capped at
// the cumulative print size.
func (b *Book[Q]) MatchTrade(price money.Quote, size Q, ts int64) []types.Fill[Q] {
	budget := money.Dec(size)
	var fills []types.Fill[Q]

	for len(b.bids) > 0 && budget.Sign() > 0 && money.Cmp(b.bids[0].price, price) >= 0 {
		fills = append(fills, b.fillLevel(b.bids[0], &budget, ts)...)
	}
	for len(b.asks) > 0 && budget.Sign() > 0 && money.Cmp(b.asks[0].price, price) <= 0 {
		fills = append(fills, b.fillLevel(b.asks[0], &budget, ts)...)
	}
	return fills
}

// fillLevel fills the front orders of a level. With a nil budget the whole
// level fills; otherwise fills stop when the budget runs out. The level is
// dropped by fill/remove when it empties, so callers loop on the side slice.
func (b *Book[Q]) fillLevel(lvl *level[Q], budget *decimal.Decimal, ts int64) []types.Fill[Q] {
	var fills []types.Fill[Q]
	for elem := lvl.orders.Front(); elem != nil; {
		o := elem.Value.(*Order[Q])
		next := elem.Next()
		fillQty := money.Dec(o.Qty)
		if budget != nil {
			if budget.Sign() <= 0 {
				break
			}
			fillQty = decimal.Min(fillQty, *budget)
			*budget = budget.Sub(fillQty)
		}
		fills = append(fills, b.fill(o, money.As[Q](fillQty), ts))
		elem = next
	}
	return fills
}

// fill reduces an order by qty and removes it when exhausted, returning the
// maker fill record at the order's limit price.
func (b *Book[Q]) fill(o *Order[Q], qty Q, ts int64) types.Fill[Q] {
	o.Qty = money.Sub(o.Qty, qty)
	if money.IsZero(o.Qty) {
		b.remove(b.byID[o.ID], types.OrderFilled)
	}
	return types.Fill[Q]{
		OrderID:   o.ID,
		Side:      o.Side,
		Price:     o.Price,
		Qty:       qty,
		Maker:     true,
		Timestamp: ts,
	}
}
