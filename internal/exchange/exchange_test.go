package exchange

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"futsim/internal/config"
	"futsim/internal/tracker"
	"futsim/pkg/money"
	"futsim/pkg/types"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func q(t *testing.T, s string) money.Quote { t.Helper(); return money.Quote(dec(t, s)) }
func b(t *testing.T, s string) money.Base  { t.Helper(); return money.Base(dec(t, s)) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T, feeMaker, feeTaker string, leverage int) config.Config {
	t.Helper()
	cfg, err := config.New(
		dec(t, feeMaker), dec(t, feeTaker), dec(t, "1000"), 200, leverage,
		config.ContractSpec{
			Ticker:                "TESTUSD",
			InitialMarginRate:     dec(t, "0.05"),
			MaintenanceMarginRate: dec(t, "0.02"),
			MarkMethod:            config.MarkMidPrice,
			PriceFilter:           config.PriceFilter{Min: dec(t, "0.1"), Max: dec(t, "1000000"), TickSize: dec(t, "0.1")},
			QuantityFilter:        config.QuantityFilter{Min: dec(t, "0.001"), Max: dec(t, "1000"), StepSize: dec(t, "0.001")},
		},
	)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func newTestExchange(t *testing.T, feeMaker, feeTaker string, leverage int) (*Linear, *tracker.AccTracker) {
	t.Helper()
	cfg := testConfig(t, feeMaker, feeTaker, leverage)
	acc := tracker.New(cfg.StartingBalance)
	ex, err := NewLinear(cfg, acc, testLogger())
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	return ex, acc
}

func mustQuote(t *testing.T, ex *Linear, bid, ask string, ts int64) UpdateResult[money.Base, money.Quote] {
	t.Helper()
	res, err := ex.UpdateQuote(q(t, bid), q(t, ask), ts)
	if err != nil {
		t.Fatalf("UpdateQuote(%s, %s): %v", bid, ask, err)
	}
	return res
}

func assertWallet(t *testing.T, ex *Linear, want string) {
	t.Helper()
	if got := money.Dec(ex.WalletBalance()); !got.Equal(dec(t, want)) {
		t.Errorf("wallet = %s, want %s", got, want)
	}
}

func assertConservation(t *testing.T, ex *Linear) {
	t.Helper()
	if got := money.Dec(ex.TotalBalance()); !got.Equal(dec(t, "1000")) {
		t.Errorf("ledger total = %s, want 1000", got)
	}
}

// Open long 0.5 @ 100, exit at 110, no fees: +5 realized.
func TestOpenLongExitAtProfit(t *testing.T) {
	t.Parallel()
	ex, acc := newTestExchange(t, "0", "0", 1)

	mustQuote(t, ex, "99.9", "100", 1)
	if _, err := ex.SubmitLimitOrder(types.Buy, q(t, "100"), b(t, "0.5")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	pos := ex.Position()
	if !money.Dec(pos.Qty).Equal(dec(t, "0.5")) || !money.Dec(pos.EntryPrice).Equal(dec(t, "100")) {
		t.Errorf("position = %s @ %s", money.Dec(pos.Qty), money.Dec(pos.EntryPrice))
	}
	assertWallet(t, ex, "950")
	assertConservation(t, ex)

	mustQuote(t, ex, "110", "110.1", 2)
	if _, err := ex.SubmitLimitOrder(types.Sell, q(t, "110"), b(t, "0.5")); err != nil {
		t.Fatalf("sell: %v", err)
	}

	if !money.IsZero(ex.Position().Qty) {
		t.Error("position not flat")
	}
	assertWallet(t, ex, "1005")
	assertConservation(t, ex)

	if acc.NumTrades() != 2 {
		t.Errorf("trades = %d, want 2", acc.NumTrades())
	}
	if acc.TotalRPnL() != 5 {
		t.Errorf("total rpnl = %v, want 5", acc.TotalRPnL())
	}
}

// Same setup, exit at 90: -5 realized.
func TestOpenLongExitAtLoss(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExchange(t, "0", "0", 1)

	mustQuote(t, ex, "99.9", "100", 1)
	if _, err := ex.SubmitLimitOrder(types.Buy, q(t, "100"), b(t, "0.5")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	mustQuote(t, ex, "90", "90.1", 2)
	if _, err := ex.SubmitLimitOrder(types.Sell, q(t, "90"), b(t, "0.5")); err != nil {
		t.Fatalf("sell: %v", err)
	}

	if !money.IsZero(ex.Position().Qty) {
		t.Error("position not flat")
	}
	assertWallet(t, ex, "995")
	assertConservation(t, ex)
}

// A round trip at one price with zero fees restores the starting balance.
func TestRoundTripRestoresWallet(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExchange(t, "0", "0", 1)

	mustQuote(t, ex, "100", "100.1", 1)
	if _, err := ex.SubmitLimitOrder(types.Buy, q(t, "100.1"), b(t, "2")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	mustQuote(t, ex, "100.1", "100.2", 2)
	if _, err := ex.SubmitLimitOrder(types.Sell, q(t, "100.1"), b(t, "2")); err != nil {
		t.Fatalf("sell: %v", err)
	}

	assertWallet(t, ex, "1000")
	assertConservation(t, ex)
}

// Buy 0.5 @ 100 then 0.5 @ 150: entry 125, margin 125 at leverage 1.
func TestWeightedAverageEntry(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExchange(t, "0", "0", 1)

	mustQuote(t, ex, "99.9", "100", 1)
	if _, err := ex.SubmitLimitOrder(types.Buy, q(t, "100"), b(t, "0.5")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	mustQuote(t, ex, "149.9", "150", 2)
	if _, err := ex.SubmitLimitOrder(types.Buy, q(t, "150"), b(t, "0.5")); err != nil {
		t.Fatalf("buy: %v", err)
	}

	pos := ex.Position()
	if !money.Dec(pos.Qty).Equal(dec(t, "1")) {
		t.Errorf("qty = %s, want 1", money.Dec(pos.Qty))
	}
	if !money.Dec(pos.EntryPrice).Equal(dec(t, "125")) {
		t.Errorf("entry = %s, want 125", money.Dec(pos.EntryPrice))
	}
	if got := money.Dec(ex.MarginBalance()); !got.Equal(dec(t, "125")) {
		t.Errorf("margin = %s, want 125", got)
	}
	assertConservation(t, ex)
}

// Maker open via a trade print, two taker closes. Maker rebate -0.02%,
// taker fee 0.06%: wallet = 1000 - 0.15 - 0.15 + 0.1.
func TestMakerRebatePartialCloses(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExchange(t, "-0.0002", "0.0006", 1)

	mustQuote(t, ex, "99.9", "100.1", 1)
	id, err := ex.SubmitLimitOrder(types.Buy, q(t, "100"), b(t, "5"))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	// The print at 100 touches the resting bid and fills it as maker.
	res, err := ex.UpdateTrade(q(t, "100"), b(t, "5"), 2)
	if err != nil {
		t.Fatalf("UpdateTrade: %v", err)
	}
	if len(res.Fills) != 1 || res.Fills[0].OrderID != id || !res.Fills[0].Maker {
		t.Fatalf("fills = %+v, want maker fill of order %d", res.Fills, id)
	}
	pos := ex.Position()
	if !money.Dec(pos.Qty).Equal(dec(t, "5")) {
		t.Fatalf("qty = %s, want 5", money.Dec(pos.Qty))
	}
	// The rebate is outstanding on the position, not yet in the wallet.
	if !money.Dec(pos.OutstandingFees).Equal(dec(t, "-0.1")) {
		t.Errorf("outstanding fees = %s, want -0.1", money.Dec(pos.OutstandingFees))
	}

	mustQuote(t, ex, "100", "100.2", 3)
	if _, err := ex.SubmitLimitOrder(types.Sell, q(t, "100"), b(t, "2.5")); err != nil {
		t.Fatalf("first sell: %v", err)
	}
	if _, err := ex.SubmitLimitOrder(types.Sell, q(t, "100"), b(t, "2.5")); err != nil {
		t.Fatalf("second sell: %v", err)
	}

	if !money.IsZero(ex.Position().Qty) {
		t.Error("position not flat")
	}
	if !money.IsZero(ex.Position().OutstandingFees) {
		t.Error("outstanding fees not settled")
	}
	assertWallet(t, ex, "999.8")
	assertConservation(t, ex)
}

// Leverage 5, long 5 @ 100, mark drifts to 81: maintenance margin is
// breached, the position is closed against the bid with the taker fee.
func TestLiquidation(t *testing.T) {
	t.Parallel()
	ex, acc := newTestExchange(t, "0", "0.0006", 5)

	mustQuote(t, ex, "99.9", "100", 1)
	if _, err := ex.SubmitLimitOrder(types.Buy, q(t, "100"), b(t, "5")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	// Taker fee 0.3 and 100 initial margin are gone from the wallet.
	assertWallet(t, ex, "899.7")

	res := mustQuote(t, ex, "81", "81.2", 2)
	if res.Liquidation == nil {
		t.Fatal("expected liquidation notice")
	}
	if !money.Dec(res.Liquidation.Price).Equal(dec(t, "81")) {
		t.Errorf("liquidation price = %s, want bid 81", money.Dec(res.Liquidation.Price))
	}

	if !money.IsZero(ex.Position().Qty) {
		t.Error("position not flat after liquidation")
	}
	// 1000 - 0.3 open fee - 95 loss - 0.243 liquidation fee.
	assertWallet(t, ex, "904.457")
	if !money.Dec(res.Liquidation.RemainingWallet).Equal(dec(t, "904.457")) {
		t.Errorf("notice wallet = %s", money.Dec(res.Liquidation.RemainingWallet))
	}
	assertConservation(t, ex)

	if acc.TotalRPnL() != -95 {
		t.Errorf("tracked rpnl = %v, want -95", acc.TotalRPnL())
	}
}

// A short position liquidates against the ask when the market rallies.
func TestShortLiquidation(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExchange(t, "0", "0", 5)

	mustQuote(t, ex, "100", "100.1", 1)
	if _, err := ex.SubmitLimitOrder(types.Sell, q(t, "100"), b(t, "5")); err != nil {
		t.Fatalf("sell: %v", err)
	}
	res := mustQuote(t, ex, "118.9", "119.1", 2)
	if res.Liquidation == nil {
		t.Fatal("expected liquidation notice")
	}
	if !money.Dec(res.Liquidation.Price).Equal(dec(t, "119.1")) {
		t.Errorf("liquidation price = %s, want ask 119.1", money.Dec(res.Liquidation.Price))
	}
	if !money.IsZero(ex.Position().Qty) {
		t.Error("position not flat")
	}
	assertConservation(t, ex)
}

// A fill through zero splits into a close leg and an open leg, so the entry
// price of the new position is the fill price.
func TestFlipSplitsLegs(t *testing.T) {
	t.Parallel()
	ex, acc := newTestExchange(t, "0", "0", 1)

	mustQuote(t, ex, "99.9", "100", 1)
	if _, err := ex.SubmitLimitOrder(types.Buy, q(t, "100"), b(t, "1")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	mustQuote(t, ex, "110", "110.1", 2)
	if _, err := ex.SubmitLimitOrder(types.Sell, q(t, "110"), b(t, "3")); err != nil {
		t.Fatalf("sell: %v", err)
	}

	pos := ex.Position()
	if !money.Dec(pos.Qty).Equal(dec(t, "-2")) {
		t.Errorf("qty = %s, want -2", money.Dec(pos.Qty))
	}
	if !money.Dec(pos.EntryPrice).Equal(dec(t, "110")) {
		t.Errorf("entry = %s, want 110", money.Dec(pos.EntryPrice))
	}
	// The close leg realized +10.
	if acc.TotalRPnL() != 10 {
		t.Errorf("rpnl = %v, want 10", acc.TotalRPnL())
	}
	// Margin reflects only the new short: 220 at leverage 1.
	if got := money.Dec(ex.MarginBalance()); !got.Equal(dec(t, "220")) {
		t.Errorf("margin = %s, want 220", got)
	}
	assertConservation(t, ex)
}

// An aggressing order that crosses an own resting order trades with itself:
// the position is untouched, both fee legs settle.
func TestSelfTradeSettlesFeesOnly(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExchange(t, "-0.0002", "0.0006", 1)

	mustQuote(t, ex, "99.9", "100.1", 1)
	if _, err := ex.SubmitLimitOrder(types.Sell, q(t, "100.5"), b(t, "0.5")); err != nil {
		t.Fatalf("resting sell: %v", err)
	}
	if _, err := ex.SubmitLimitOrder(types.Buy, q(t, "100.5"), b(t, "0.5")); err != nil {
		t.Fatalf("crossing buy: %v", err)
	}

	if !money.IsZero(ex.Position().Qty) {
		t.Errorf("position = %s, want flat", money.Dec(ex.Position().Qty))
	}
	if len(ex.ActiveOrders()) != 0 {
		t.Errorf("resting orders = %d, want 0", len(ex.ActiveOrders()))
	}
	// Notional 50.25: taker fee 0.03015 paid, maker rebate 0.01005 received.
	assertWallet(t, ex, "999.9799")
	assertConservation(t, ex)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExchange(t, "0", "0", 1)
	mustQuote(t, ex, "99.9", "100", 1)

	cases := []struct {
		name  string
		side  types.Side
		price string
		qty   string
		want  error
	}{
		{"tick misaligned", types.Buy, "99.95", "1", types.ErrFilterViolation},
		{"below price min", types.Buy, "0.05", "1", types.ErrFilterViolation},
		{"step misaligned", types.Buy, "99.9", "0.0015", types.ErrFilterViolation},
		{"above qty max", types.Buy, "99.9", "1001", types.ErrFilterViolation},
		{"zero qty", types.Buy, "99.9", "0", types.ErrInvalidQuantity},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			_, err := ex.SubmitLimitOrder(c.side, q(t, c.price), b(t, c.qty))
			if !errors.Is(err, c.want) {
				t.Errorf("err = %v, want %v", err, c.want)
			}
		})
	}

	// Rejected orders leave no trace.
	if len(ex.ActiveOrders()) != 0 {
		t.Error("rejected orders rested")
	}
	assertWallet(t, ex, "1000")
}

func TestSubmitRejectsWhenMarginTooLarge(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExchange(t, "0", "0", 1)
	mustQuote(t, ex, "99.9", "100", 1)

	_, err := ex.SubmitLimitOrder(types.Buy, q(t, "100"), b(t, "20"))
	if !errors.Is(err, types.ErrNotEnoughAvailableBalance) {
		t.Errorf("err = %v, want ErrNotEnoughAvailableBalance", err)
	}
}

func TestMaxActiveOrders(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, "0", "0", 1)
	cfg.MaxOrders = 2
	ex, err := NewLinear(cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	mustQuote(t, ex, "99.9", "100", 1)

	for i := 0; i < 2; i++ {
		if _, err := ex.SubmitLimitOrder(types.Buy, q(t, "99"), b(t, "0.1")); err != nil {
			t.Fatalf("rest %d: %v", i, err)
		}
	}
	_, err = ex.SubmitLimitOrder(types.Buy, q(t, "98"), b(t, "0.1"))
	if !errors.Is(err, types.ErrMaxActiveOrders) {
		t.Errorf("err = %v, want ErrMaxActiveOrders", err)
	}
	// The opposite side has its own bound.
	if _, err := ex.SubmitLimitOrder(types.Sell, q(t, "105"), b(t, "0.1")); err != nil {
		t.Errorf("sell side rejected: %v", err)
	}
}

func TestCancelLifecycle(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExchange(t, "0", "0", 1)
	mustQuote(t, ex, "99.9", "100", 1)

	id, err := ex.SubmitLimitOrder(types.Buy, q(t, "99"), b(t, "0.1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := ex.CancelOrder(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := ex.CancelOrder(id); !errors.Is(err, types.ErrOrderAlreadyTerminal) {
		t.Errorf("recancel err = %v, want ErrOrderAlreadyTerminal", err)
	}
	if err := ex.CancelOrder(999); !errors.Is(err, types.ErrUnknownOrder) {
		t.Errorf("unknown err = %v, want ErrUnknownOrder", err)
	}
}

func TestUpdateQuoteErrors(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExchange(t, "0", "0", 1)

	if _, err := ex.UpdateQuote(q(t, "101"), q(t, "100"), 1); !errors.Is(err, types.ErrCrossedBook) {
		t.Errorf("err = %v, want ErrCrossedBook", err)
	}
	mustQuote(t, ex, "100", "100.1", 5)
	if _, err := ex.UpdateQuote(q(t, "100"), q(t, "100.1"), 4); !errors.Is(err, types.ErrOutOfOrderTimestamp) {
		t.Errorf("err = %v, want ErrOutOfOrderTimestamp", err)
	}
}

// Resting orders fill when the quote trades through them, and the fills are
// returned from the market update that caused them.
func TestRestingOrderFillsOnQuoteCross(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExchange(t, "0", "0", 1)

	mustQuote(t, ex, "100", "100.2", 1)
	id, err := ex.SubmitLimitOrder(types.Buy, q(t, "99.9"), b(t, "1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	res := mustQuote(t, ex, "99.5", "99.8", 2)
	if len(res.Fills) != 1 || res.Fills[0].OrderID != id {
		t.Fatalf("fills = %+v, want fill of order %d", res.Fills, id)
	}
	pos := ex.Position()
	if !money.Dec(pos.Qty).Equal(dec(t, "1")) || !money.Dec(pos.EntryPrice).Equal(dec(t, "99.9")) {
		t.Errorf("position = %s @ %s, want 1 @ 99.9", money.Dec(pos.Qty), money.Dec(pos.EntryPrice))
	}
	assertConservation(t, ex)
}
