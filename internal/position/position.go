// Package position models the single isolated-margin position of the
// simulated account. Every value movement — margin lockup and release,
// realized P&L, accrued fees — is routed through the accounting ledger, never
// applied to balances directly.
package position

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"futsim/internal/accounting"
	"futsim/pkg/money"
)

var (
	// ErrQuantityExceedsPosition is returned when a decrease asks for more
	// contracts than the position holds.
	ErrQuantityExceedsPosition = errors.New("decrease quantity exceeds position")

	// ErrOpposingIncrease is returned when an increase opposes the current
	// position sign; callers must split such fills into decrease and open legs.
	ErrOpposingIncrease = errors.New("increase opposes position direction")
)

// Position is the isolated-margin position. Q is the contract currency, M the
// margin currency. Quantity is signed: positive long, negative short.
// Outstanding fees are the maker fees accrued against the position; rebates
// drive them negative. They settle in full on any reducing fill.
type Position[Q, M money.Currency] struct {
	conv   money.Convertor[Q, M]
	ledger *accounting.Ledger[M]

	qty             Q
	entryPrice      money.Quote
	outstandingFees M
}

// New returns a flat position backed by the given ledger.
func New[Q, M money.Currency](conv money.Convertor[Q, M], ledger *accounting.Ledger[M]) *Position[Q, M] {
	return &Position[Q, M]{conv: conv, ledger: ledger}
}

// Snapshot is a read-only copy of the position state.
type Snapshot[Q, M money.Currency] struct {
	Qty             Q
	EntryPrice      money.Quote
	OutstandingFees M
}

// Snapshot returns a copy of the current state.
func (p *Position[Q, M]) Snapshot() Snapshot[Q, M] {
	return Snapshot[Q, M]{Qty: p.qty, EntryPrice: p.entryPrice, OutstandingFees: p.outstandingFees}
}

// Qty returns the signed contract quantity.
func (p *Position[Q, M]) Qty() Q { return p.qty }

// EntryPrice returns the weighted average entry price. It is meaningless when
// the position is flat.
func (p *Position[Q, M]) EntryPrice() money.Quote { return p.entryPrice }

// OutstandingFees returns the signed accrued maker fees.
func (p *Position[Q, M]) OutstandingFees() M { return p.outstandingFees }

// IsFlat reports whether the quantity is zero.
func (p *Position[Q, M]) IsFlat() bool { return money.IsZero(p.qty) }

// Notional values the absolute position at the given price.
func (p *Position[Q, M]) Notional(price money.Quote) M {
	return p.conv.Notional(money.Abs(p.qty), price)
}

// UnrealizedPnL marks the position to the given price. The sign of the stored
// quantity carries the side.
func (p *Position[Q, M]) UnrealizedPnL(mark money.Quote) M {
	return p.conv.PnL(p.entryPrice, mark, p.qty)
}

// Increase opens or grows the position by a signed quantity at the given
// price: the entry price becomes the weighted average, the maker fee share is
// accrued, and initial margin for the added notional moves from the wallet to
// the position-margin account. A zero quantity accrues the fee and leaves
// price and margin untouched.
func (p *Position[Q, M]) Increase(signedQty Q, price money.Quote, initMarginReq decimal.Decimal, fee M) error {
	cur := money.Dec(p.qty)
	add := money.Dec(signedQty)
	if add.IsZero() {
		p.outstandingFees = money.Add(p.outstandingFees, fee)
		return nil
	}
	if money.Sign(price) <= 0 {
		return fmt.Errorf("increase at non-positive price %s", price)
	}
	if !cur.IsZero() && cur.Sign() != add.Sign() {
		return fmt.Errorf("%w: position %s, increase %s", ErrOpposingIncrease, cur, add)
	}

	value := p.conv.Notional(money.As[Q](add.Abs()), price)
	newEntry := price
	if !cur.IsZero() {
		weighted, err := money.WeightedPrice(p.entryPrice, cur.Abs(), price, add.Abs())
		if err != nil {
			return err
		}
		newEntry = weighted
	}

	margin := money.MulDec(value, initMarginReq)
	if err := p.ledger.Transfer(accounting.UserWallet, accounting.UserPositionMargin, margin); err != nil {
		return err
	}

	p.qty = money.As[Q](cur.Add(add))
	p.entryPrice = newEntry
	p.outstandingFees = money.Add(p.outstandingFees, fee)
	return nil
}

// Decrease reduces the absolute position by qty contracts at the exit price
// and returns the realized P&L. Margin locked at the entry price is released
// before P&L settles against the treasury, so a losing exit is always funded.
// All accrued fees, including the fee passed here, settle in full.
func (p *Position[Q, M]) Decrease(qty Q, exitPrice money.Quote, initMarginReq decimal.Decimal, fee M) (M, error) {
	reduce := money.Dec(qty)
	cur := money.Dec(p.qty)
	if reduce.Sign() <= 0 || reduce.Cmp(cur.Abs()) > 0 {
		return money.Zero[M](), fmt.Errorf("%w: have %s, decrease %s", ErrQuantityExceedsPosition, cur, reduce)
	}
	if money.Sign(exitPrice) <= 0 {
		return money.Zero[M](), fmt.Errorf("decrease at non-positive price %s", exitPrice)
	}

	sideMult := int64(cur.Sign())
	signedReduce := money.As[Q](reduce.Mul(decimal.NewFromInt(sideMult)))
	realized := p.conv.PnL(p.entryPrice, exitPrice, signedReduce)

	// Margin locked at the entry price is released pro rata; a decrease to
	// flat releases whatever remains so rounding residue never sticks to the
	// margin account.
	marginToFree := money.MulDec(p.conv.Notional(money.As[Q](reduce), p.entryPrice), initMarginReq)
	held := p.ledger.Balance(accounting.UserPositionMargin)
	if reduce.Cmp(cur.Abs()) == 0 || money.Cmp(marginToFree, held) > 0 {
		marginToFree = held
	}
	if err := p.ledger.Transfer(accounting.UserPositionMargin, accounting.UserWallet, marginToFree); err != nil {
		return money.Zero[M](), err
	}

	switch money.Sign(realized) {
	case 1:
		if err := p.ledger.Transfer(accounting.Treasury, accounting.UserWallet, realized); err != nil {
			return money.Zero[M](), err
		}
	case -1:
		if err := p.ledger.Transfer(accounting.UserWallet, accounting.Treasury, money.Abs(realized)); err != nil {
			return money.Zero[M](), err
		}
	}

	p.qty = money.As[Q](cur.Sub(money.Dec(signedReduce)))
	p.outstandingFees = money.Add(p.outstandingFees, fee)
	if err := p.settleFees(); err != nil {
		return money.Zero[M](), err
	}
	return realized, nil
}

// Liquidate closes the full position at the given price with no additional
// fee and returns the realized P&L. The position is flat afterwards.
func (p *Position[Q, M]) Liquidate(exitPrice money.Quote, initMarginReq decimal.Decimal) (M, error) {
	return p.Decrease(money.Abs(p.qty), exitPrice, initMarginReq, money.Zero[M]())
}

// settleFees moves the accrued maker fees between the wallet and the exchange
// fee account and zeroes them. Rebates flow back to the wallet.
func (p *Position[Q, M]) settleFees() error {
	switch money.Sign(p.outstandingFees) {
	case 1:
		if err := p.ledger.Transfer(accounting.UserWallet, accounting.ExchangeFee, p.outstandingFees); err != nil {
			return err
		}
	case -1:
		if err := p.ledger.Transfer(accounting.ExchangeFee, accounting.UserWallet, money.Abs(p.outstandingFees)); err != nil {
			return err
		}
	}
	p.outstandingFees = money.Zero[M]()
	return nil
}
