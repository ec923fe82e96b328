package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"

	"futsim/internal/accounting"
	"futsim/internal/market"
	"futsim/internal/orderbook"
	"futsim/internal/position"
	"futsim/pkg/money"
	"futsim/pkg/types"
)

// SubmitLimitOrder validates an order against the contract filters, admits it
// through the risk engine and either executes it immediately (when the limit
// crosses resting orders or the simulated top of book) or rests it. It
// returns the assigned order id.
func (e *Exchange[Q, M]) SubmitLimitOrder(side types.Side, price money.Quote, qty Q) (uint64, error) {
	e.enter()
	defer e.exit()

	if err := e.validatePrice(price); err != nil {
		return 0, err
	}
	if err := e.validateQty(qty); err != nil {
		return 0, err
	}
	if e.book.Len(side) >= e.cfg.MaxOrders {
		return 0, fmt.Errorf("%w: %d resting %s orders", types.ErrMaxActiveOrders, e.cfg.MaxOrders, side)
	}
	if err := e.admit(side, price, qty); err != nil {
		return 0, err
	}

	e.nextOrderID++
	id := e.nextOrderID
	ts := e.state.Timestamp()

	// Price-time matching against own resting orders crossed by the limit.
	// With a single account these are self-trades: the maker and taker legs
	// offset in the position, so only the fees settle.
	selfFills, remaining := e.book.MatchTaker(side, price, qty, ts)
	for _, f := range selfFills {
		notional := e.conv.Notional(f.Qty, f.Price)
		if err := e.settleFeeNow(money.MulDec(notional, e.cfg.FeeMaker)); err != nil {
			return 0, err
		}
		if err := e.settleFeeNow(money.MulDec(notional, e.cfg.FeeTaker)); err != nil {
			return 0, err
		}
		e.tracker.LogTrade(side, money.Dec(f.Qty))
	}

	// Remainder takes the simulated top of book when the limit crosses it.
	if money.Sign(remaining) > 0 {
		if takerPrice, ok := e.takerPrice(side, price); ok {
			if err := e.applyFill(side, takerPrice, remaining, e.cfg.FeeTaker, false); err != nil {
				return 0, err
			}
			e.logger.Debug("taker execution",
				"order_id", id, "side", side, "price", takerPrice.String(),
				"qty", money.Dec(remaining).String(),
			)
			remaining = money.Zero[Q]()
		}
	}

	// Post the residual.
	if money.Sign(remaining) > 0 {
		e.book.Insert(&orderbook.Order[Q]{
			ID:        id,
			Side:      side,
			Price:     price,
			Qty:       remaining,
			Timestamp: ts,
		})
	}
	return id, nil
}

// CancelOrder removes a resting order by id.
func (e *Exchange[Q, M]) CancelOrder(id uint64) error {
	e.enter()
	defer e.exit()
	return e.book.Cancel(id)
}

// takerPrice returns the simulated book price an aggressing order executes
// at, when the limit reaches it: the ask for a buy, the bid for a sell.
func (e *Exchange[Q, M]) takerPrice(side types.Side, limit money.Quote) (money.Quote, bool) {
	if side == types.Buy {
		ask, ok := e.state.Ask()
		if ok && money.Cmp(limit, ask) >= 0 {
			return ask, true
		}
		return money.Quote{}, false
	}
	bid, ok := e.state.Bid()
	if ok && money.Cmp(limit, bid) <= 0 {
		return bid, true
	}
	return money.Quote{}, false
}

// admit runs the initial-margin admission check for the order's worst-case
// notional at its limit price. Margin itself moves only when fills occur.
func (e *Exchange[Q, M]) admit(side types.Side, price money.Quote, qty Q) error {
	notional := e.conv.Notional(qty, price)
	feeRate := e.cfg.FeeMaker
	if _, taker := e.takerPrice(side, price); taker {
		feeRate = e.cfg.FeeTaker
	}
	if feeRate.IsNegative() {
		feeRate = decimal.Decimal{}
	}
	projectedFee := money.MulDec(notional, feeRate)
	_, _, err := e.risk.CheckRequiredMargin(e.ledger, notional, e.cfg.Leverage, projectedFee)
	return err
}

func (e *Exchange[Q, M]) validatePrice(p money.Quote) error {
	if money.Sign(p) <= 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidPrice, p)
	}
	f := e.cfg.Contract.PriceFilter
	d := money.Dec(p)
	switch {
	case d.LessThan(f.Min):
		return fmt.Errorf("%w: price %s below min %s", types.ErrFilterViolation, d, f.Min)
	case d.GreaterThan(f.Max):
		return fmt.Errorf("%w: price %s above max %s", types.ErrFilterViolation, d, f.Max)
	case !d.Mod(f.TickSize).IsZero():
		return fmt.Errorf("%w: price %s not aligned to tick %s", types.ErrFilterViolation, d, f.TickSize)
	}
	return nil
}

func (e *Exchange[Q, M]) validateQty(q Q) error {
	if money.Sign(q) <= 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidQuantity, money.Dec(q))
	}
	f := e.cfg.Contract.QuantityFilter
	d := money.Dec(q)
	switch {
	case d.LessThan(f.Min):
		return fmt.Errorf("%w: quantity %s below min %s", types.ErrFilterViolation, d, f.Min)
	case d.GreaterThan(f.Max):
		return fmt.Errorf("%w: quantity %s above max %s", types.ErrFilterViolation, d, f.Max)
	case !d.Mod(f.StepSize).IsZero():
		return fmt.Errorf("%w: quantity %s not aligned to step %s", types.ErrFilterViolation, d, f.StepSize)
	}
	return nil
}

// Position returns a read-only snapshot of the position.
func (e *Exchange[Q, M]) Position() position.Snapshot[Q, M] { return e.pos.Snapshot() }

// WalletBalance returns the free collateral in the user wallet.
func (e *Exchange[Q, M]) WalletBalance() M { return e.ledger.Balance(accounting.UserWallet) }

// MarginBalance returns the collateral locked against the position.
func (e *Exchange[Q, M]) MarginBalance() M {
	return e.ledger.Balance(accounting.UserPositionMargin)
}

// TotalBalance sums all ledger accounts; it equals the starting balance after
// every completed event.
func (e *Exchange[Q, M]) TotalBalance() M { return e.ledger.TotalBalance() }

// ActiveOrders returns copies of the resting orders, ordered by id.
func (e *Exchange[Q, M]) ActiveOrders() []orderbook.Order[Q] { return e.book.ActiveOrders() }

// MarketState exposes the current market state for read-only use.
func (e *Exchange[Q, M]) MarketState() *market.State[Q] { return e.state }
