// Package market tracks the simulated top-of-book and last trade. The state
// is fed from the historical event stream and is the only notion of time the
// simulator has.
package market

import (
	"fmt"

	"github.com/shopspring/decimal"

	"futsim/pkg/money"
	"futsim/pkg/types"
)

// State holds the current bid, ask, last trade and event timestamp for one
// market. Q is the contract-quantity currency of the market.
type State[Q money.Currency] struct {
	bid            money.Quote
	ask            money.Quote
	lastTradePrice money.Quote
	lastTradeSize  Q
	ts             int64

	hasQuote bool
	hasTrade bool
	hasTS    bool
}

// NewState returns an empty market state.
func NewState[Q money.Currency]() *State[Q] {
	return &State[Q]{}
}

// ApplyQuote updates the top of book. Timestamps must be non-decreasing.
func (s *State[Q]) ApplyQuote(bid, ask money.Quote, ts int64) error {
	if money.Sign(bid) <= 0 || money.Sign(ask) <= 0 {
		return fmt.Errorf("%w: quote %s / %s", types.ErrInvalidPrice, bid, ask)
	}
	if money.Cmp(bid, ask) > 0 {
		return fmt.Errorf("%w: bid %s above ask %s", types.ErrCrossedBook, bid, ask)
	}
	if err := s.advance(ts); err != nil {
		return err
	}
	s.bid, s.ask = bid, ask
	s.hasQuote = true
	return nil
}

// ApplyTrade records a trade print.
func (s *State[Q]) ApplyTrade(price money.Quote, size Q, ts int64) error {
	if money.Sign(price) <= 0 {
		return fmt.Errorf("%w: trade at %s", types.ErrInvalidPrice, price)
	}
	if money.Sign(size) <= 0 {
		return fmt.Errorf("%w: trade size %s", types.ErrInvalidQuantity, money.Dec(size))
	}
	if err := s.advance(ts); err != nil {
		return err
	}
	s.lastTradePrice, s.lastTradeSize = price, size
	s.hasTrade = true
	return nil
}

func (s *State[Q]) advance(ts int64) error {
	if s.hasTS && ts < s.ts {
		return fmt.Errorf("%w: %d after %d", types.ErrOutOfOrderTimestamp, ts, s.ts)
	}
	s.ts = ts
	s.hasTS = true
	return nil
}

// Bid returns the current best bid, if a quote has been seen.
func (s *State[Q]) Bid() (money.Quote, bool) { return s.bid, s.hasQuote }

// Ask returns the current best ask, if a quote has been seen.
func (s *State[Q]) Ask() (money.Quote, bool) { return s.ask, s.hasQuote }

// LastTrade returns the most recent trade print.
func (s *State[Q]) LastTrade() (price money.Quote, size Q, ok bool) {
	return s.lastTradePrice, s.lastTradeSize, s.hasTrade
}

// Timestamp returns the wall timestamp of the last applied event.
func (s *State[Q]) Timestamp() int64 { return s.ts }

// Mid returns (bid+ask)/2 rounded to the price tick with banker's rounding.
func (s *State[Q]) Mid(tick decimal.Decimal) (money.Quote, bool) {
	if !s.hasQuote {
		return money.Quote{}, false
	}
	return money.MidPrice(s.bid, s.ask, tick), true
}
