package money

import "github.com/shopspring/decimal"

// Convertor ties a contract-quantity currency Q to the margin currency M of a
// futures market and defines how quantities become notionals and how P&L is
// computed. The two implementations below are zero-size; positions and
// exchanges hold one as a Convertor interface value and call it through the
// interface.
type Convertor[Q, M Currency] interface {
	// Notional converts a contract quantity at a price into the margin
	// currency. The sign of qty is preserved.
	Notional(qty Q, price Quote) M

	// PnL returns the profit or loss realized between entry and exit for a
	// signed quantity: positive qty is a long, negative a short.
	PnL(entry, exit Quote, qty Q) M
}

// Linear futures: quantity in Base, margin and P&L in Quote.
// notional = qty * price, pnl = qty * (exit - entry).
type Linear struct{}

// Notional implements Convertor.
func (Linear) Notional(qty Base, price Quote) Quote {
	return Quote(decimal.Decimal(qty).Mul(decimal.Decimal(price)))
}

// PnL implements Convertor.
func (Linear) PnL(entry, exit Quote, qty Base) Quote {
	move := decimal.Decimal(exit).Sub(decimal.Decimal(entry))
	return Quote(decimal.Decimal(qty).Mul(move))
}

// Inverse futures: quantity in Quote, margin and P&L in Base.
// notional = qty / price, pnl = qty * (1/entry - 1/exit), evaluated as the
// difference of the two notionals so every intermediate stays at Scale.
type Inverse struct{}

// Notional implements Convertor.
func (Inverse) Notional(qty Quote, price Quote) Base {
	return Base(DivBank(decimal.Decimal(qty), decimal.Decimal(price)))
}

// PnL implements Convertor.
func (i Inverse) PnL(entry, exit Quote, qty Quote) Base {
	return Sub(i.Notional(qty, entry), i.Notional(qty, exit))
}
