// Package risk implements the isolated-margin risk engine: initial-margin
// admission for new orders and the maintenance-margin check that triggers
// liquidation.
package risk

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"futsim/internal/accounting"
	"futsim/internal/config"
	"futsim/internal/market"
	"futsim/internal/position"
	"futsim/pkg/money"
	"futsim/pkg/types"
)

// Engine checks margin requirements for one isolated-margin contract.
type Engine[Q, M money.Currency] struct {
	conv            money.Convertor[Q, M]
	maintenanceRate decimal.Decimal
	tick            decimal.Decimal
	markMethod      config.MarkMethod
	logger          *slog.Logger
}

// NewEngine builds a risk engine from the contract specification.
func NewEngine[Q, M money.Currency](conv money.Convertor[Q, M], spec config.ContractSpec, logger *slog.Logger) *Engine[Q, M] {
	return &Engine[Q, M]{
		conv:            conv,
		maintenanceRate: spec.MaintenanceMarginRate,
		tick:            spec.PriceFilter.TickSize,
		markMethod:      spec.MarkMethod,
		logger:          logger.With("component", "risk"),
	}
}

// CheckRequiredMargin returns the initial margin (notional / leverage) and
// maintenance margin (notional * maintenance rate) for a prospective order.
// It fails when the free wallet balance cannot cover the initial margin plus
// the projected fee.
func (e *Engine[Q, M]) CheckRequiredMargin(ledger *accounting.Ledger[M], notional M, leverage int, projectedFee M) (initial, maintenance M, err error) {
	initial = money.As[M](money.DivBank(money.Dec(notional), decimal.NewFromInt(int64(leverage))))
	maintenance = money.MulDec(notional, e.maintenanceRate)

	free := ledger.Balance(accounting.UserWallet)
	needed := money.Add(initial, projectedFee)
	if money.Cmp(free, needed) < 0 {
		return initial, maintenance, fmt.Errorf("%w: free %s, needed %s",
			types.ErrNotEnoughAvailableBalance, money.Dec(free), money.Dec(needed))
	}
	return initial, maintenance, nil
}

// CheckMaintenanceMargin reports whether the position must be liquidated:
// the position equity (locked margin plus unrealized P&L at the mark price)
// has fallen below the maintenance margin on the marked notional. The mark
// price is the mid under the MidPrice method, the only one implemented.
func (e *Engine[Q, M]) CheckMaintenanceMargin(state *market.State[Q], pos *position.Position[Q, M], ledger *accounting.Ledger[M]) bool {
	if pos.IsFlat() {
		return false
	}
	mark, ok := state.Mid(e.tick)
	if !ok {
		return false
	}

	markNotional := pos.Notional(mark)
	maintenance := money.MulDec(markNotional, e.maintenanceRate)
	equity := money.Add(ledger.Balance(accounting.UserPositionMargin), pos.UnrealizedPnL(mark))

	if money.Cmp(equity, maintenance) < 0 {
		e.logger.Debug("maintenance margin breached",
			"mark", mark.String(),
			"equity", money.Dec(equity).String(),
			"maintenance", money.Dec(maintenance).String(),
		)
		return true
	}
	return false
}
