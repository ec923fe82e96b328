// Package exchange ties the ledger, position, order book, market state and
// risk engine into the single-venue futures simulator facade. The facade is
// single-threaded: one event is processed to completion before the next is
// accepted, and calling back into the exchange from a tracker callback is a
// fatal usage error.
package exchange

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"futsim/internal/accounting"
	"futsim/internal/config"
	"futsim/internal/market"
	"futsim/internal/orderbook"
	"futsim/internal/position"
	"futsim/internal/risk"
	"futsim/internal/tracker"
	"futsim/pkg/money"
	"futsim/pkg/types"
)

// AccountTracker receives realized-P&L and trade events. Implementations must
// be pure sinks: they never call back into the exchange.
type AccountTracker interface {
	LogTrade(side types.Side, size decimal.Decimal)
	LogRealizedPnL(rpnl decimal.Decimal)
}

// UpdateResult carries everything a market event produced: fills of resting
// orders and, if maintenance margin was breached, the liquidation notice.
type UpdateResult[Q, M money.Currency] struct {
	Fills       []types.Fill[Q]
	Liquidation *types.Liquidation[M]
}

// Exchange is the simulator facade for one market. Q is the contract
// currency, M the margin currency. It is not safe for concurrent use.
type Exchange[Q, M money.Currency] struct {
	cfg  config.Config
	conv money.Convertor[Q, M]

	ledger *accounting.Ledger[M]
	pos    *position.Position[Q, M]
	book   *orderbook.Book[Q]
	state  *market.State[Q]
	risk   *risk.Engine[Q, M]

	tracker AccountTracker
	logger  *slog.Logger

	initMarginReq decimal.Decimal
	nextOrderID   uint64
	processing    bool
}

// Linear is a simulator for linear futures: quantities in Base, margin in Quote.
type Linear = Exchange[money.Base, money.Quote]

// Inverse is a simulator for inverse futures: quantities in Quote, margin in Base.
type Inverse = Exchange[money.Quote, money.Base]

// NewLinear builds a linear-futures exchange. A nil tracker disables statistics.
func NewLinear(cfg config.Config, acc AccountTracker, logger *slog.Logger) (*Linear, error) {
	return newExchange[money.Base, money.Quote](money.Linear{}, cfg, acc, logger)
}

// NewInverse builds an inverse-futures exchange.
func NewInverse(cfg config.Config, acc AccountTracker, logger *slog.Logger) (*Inverse, error) {
	return newExchange[money.Quote, money.Base](money.Inverse{}, cfg, acc, logger)
}

func newExchange[Q, M money.Currency](conv money.Convertor[Q, M], cfg config.Config, acc AccountTracker, logger *slog.Logger) (*Exchange[Q, M], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if acc == nil {
		acc = tracker.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ledger := accounting.NewLedger(money.As[M](cfg.StartingBalance))
	return &Exchange[Q, M]{
		cfg:           cfg,
		conv:          conv,
		ledger:        ledger,
		pos:           position.New(conv, ledger),
		book:          orderbook.NewBook[Q](),
		state:         market.NewState[Q](),
		risk:          risk.NewEngine(conv, cfg.Contract, logger),
		tracker:       acc,
		logger:        logger.With("component", "exchange", "ticker", cfg.Contract.Ticker),
		initMarginReq: cfg.InitMarginReq(),
	}, nil
}

func (e *Exchange[Q, M]) enter() {
	if e.processing {
		panic("exchange: reentrant call from within event processing")
	}
	e.processing = true
}

func (e *Exchange[Q, M]) exit() { e.processing = false }

// UpdateQuote applies a bid/ask update, running the full market-event
// sequence: market state, maintenance check (liquidating on breach), matching
// of resting orders against the new top of book, and settlement.
func (e *Exchange[Q, M]) UpdateQuote(bid, ask money.Quote, ts int64) (UpdateResult[Q, M], error) {
	e.enter()
	defer e.exit()

	var res UpdateResult[Q, M]
	if err := e.state.ApplyQuote(bid, ask, ts); err != nil {
		return res, err
	}
	return e.afterMarketEvent(ts, func() []types.Fill[Q] {
		return e.book.MatchQuote(bid, ask, ts)
	})
}

// UpdateTrade applies a trade print; resting orders touched by the print fill
// up to its size.
func (e *Exchange[Q, M]) UpdateTrade(price money.Quote, size Q, ts int64) (UpdateResult[Q, M], error) {
	e.enter()
	defer e.exit()

	var res UpdateResult[Q, M]
	if err := e.state.ApplyTrade(price, size, ts); err != nil {
		return res, err
	}
	return e.afterMarketEvent(ts, func() []types.Fill[Q] {
		return e.book.MatchTrade(price, size, ts)
	})
}

func (e *Exchange[Q, M]) afterMarketEvent(ts int64, match func() []types.Fill[Q]) (UpdateResult[Q, M], error) {
	var res UpdateResult[Q, M]

	if e.risk.CheckMaintenanceMargin(e.state, e.pos, e.ledger) {
		notice, err := e.liquidate(ts)
		if err != nil {
			return res, err
		}
		res.Liquidation = &notice
	}

	fills := match()
	for _, f := range fills {
		feeRate := e.cfg.FeeMaker
		if err := e.applyFill(f.Side, f.Price, f.Qty, feeRate, true); err != nil {
			return res, err
		}
	}
	res.Fills = fills
	return res, nil
}

// liquidate force-closes the full position against the opposite side's best
// price, charging the taker fee.
func (e *Exchange[Q, M]) liquidate(ts int64) (types.Liquidation[M], error) {
	exitPrice, ok := e.liquidationPrice()
	if !ok {
		return types.Liquidation[M]{}, fmt.Errorf("%w: no market price for liquidation", types.ErrInvalidPrice)
	}
	qty := money.Abs(e.pos.Qty())
	notional := e.conv.Notional(qty, exitPrice)
	fee := money.MulDec(notional, e.cfg.FeeTaker)
	side := types.Sell
	if money.Sign(e.pos.Qty()) < 0 {
		side = types.Buy
	}

	realized, err := e.pos.Liquidate(exitPrice, e.initMarginReq)
	if err != nil {
		return types.Liquidation[M]{}, err
	}
	if err := e.settleFeeNow(fee); err != nil {
		return types.Liquidation[M]{}, err
	}

	e.tracker.LogTrade(side, money.Dec(qty))
	e.tracker.LogRealizedPnL(money.Dec(realized))

	remaining := e.ledger.Balance(accounting.UserWallet)
	e.logger.Warn("position liquidated",
		"price", exitPrice.String(),
		"qty", money.Dec(qty).String(),
		"realized", money.Dec(realized).String(),
		"wallet", money.Dec(remaining).String(),
	)
	return types.Liquidation[M]{RemainingWallet: remaining, Price: exitPrice, Timestamp: ts}, nil
}

// liquidationPrice is the opposite best price for a market exit: the bid for
// a long, the ask for a short.
func (e *Exchange[Q, M]) liquidationPrice() (money.Quote, bool) {
	if money.Sign(e.pos.Qty()) > 0 {
		return e.state.Bid()
	}
	return e.state.Ask()
}

// applyFill routes one execution into the position. A fill that flips the
// position sign is split into a decrease leg and an open leg so the weighted
// entry never mixes long and short. Maker fees accrue on the position; taker
// fees settle immediately against the wallet.
func (e *Exchange[Q, M]) applyFill(side types.Side, price money.Quote, qty Q, feeRate decimal.Decimal, maker bool) error {
	notional := e.conv.Notional(qty, price)
	fee := money.MulDec(notional, feeRate)

	if !maker {
		if err := e.settleFeeNow(fee); err != nil {
			return err
		}
		fee = money.Zero[M]()
	}

	signed := money.Dec(qty)
	if side == types.Sell {
		signed = signed.Neg()
	}
	cur := money.Dec(e.pos.Qty())

	if cur.IsZero() || cur.Sign() == signed.Sign() {
		if err := e.pos.Increase(money.As[Q](signed), price, e.initMarginReq, fee); err != nil {
			return err
		}
	} else {
		reduce := decimal.Min(cur.Abs(), signed.Abs())
		remainder := signed.Abs().Sub(reduce)

		// Fee is split pro rata between the two legs of a flip.
		decFee, remFee := fee, money.Zero[M]()
		if remainder.Sign() > 0 {
			decFee = money.As[M](money.Dec(fee).Mul(reduce).Div(signed.Abs()).RoundBank(money.Scale))
			remFee = money.Sub(fee, decFee)
		}

		realized, err := e.pos.Decrease(money.As[Q](reduce), price, e.initMarginReq, decFee)
		if err != nil {
			return err
		}
		e.tracker.LogRealizedPnL(money.Dec(realized))

		if remainder.Sign() > 0 {
			open := remainder
			if signed.Sign() < 0 {
				open = open.Neg()
			}
			if err := e.pos.Increase(money.As[Q](open), price, e.initMarginReq, remFee); err != nil {
				return err
			}
		}
	}

	e.tracker.LogTrade(side, money.Dec(qty))
	return nil
}

// settleFeeNow moves a fee between the wallet and the exchange fee account.
// Negative fees are rebates and flow back to the wallet.
func (e *Exchange[Q, M]) settleFeeNow(fee M) error {
	switch money.Sign(fee) {
	case 1:
		return e.ledger.Transfer(accounting.UserWallet, accounting.ExchangeFee, fee)
	case -1:
		return e.ledger.Transfer(accounting.ExchangeFee, accounting.UserWallet, money.Abs(fee))
	}
	return nil
}
