// futsim replay driver — feeds a historical event file through the futures
// exchange simulator with a passive two-sided quoting loop and reports the
// run statistics.
//
// Event file format, one event per line:
//
//	ts,q,bid,ask     — top-of-book update
//	ts,t,price,size  — trade print
//
// The simulator core never depends on this harness.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"futsim/internal/config"
	"futsim/internal/exchange"
	"futsim/internal/tracker"
	"futsim/pkg/money"
	"futsim/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "configs/simulator.yaml", "path to YAML config")
	dataPath := flag.String("data", "", "path to the market event file")
	orderSize := flag.String("size", "0.1", "quote size in contract currency")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	size, err := decimal.NewFromString(*orderSize)
	if err != nil || !size.IsPositive() {
		logger.Error("invalid order size", "size", *orderSize)
		os.Exit(1)
	}

	acc := tracker.New(cfg.StartingBalance)
	ex, err := exchange.NewLinear(*cfg, acc, logger)
	if err != nil {
		logger.Error("failed to create exchange", "error", err)
		os.Exit(1)
	}

	f, err := os.Open(*dataPath)
	if err != nil {
		logger.Error("failed to open event file", "error", err, "path", *dataPath)
		os.Exit(1)
	}
	defer f.Close()

	if err := replay(ex, f, size, logger); err != nil {
		logger.Error("replay aborted", "error", err)
		os.Exit(1)
	}

	logger.Info("run complete",
		"wallet", money.Dec(ex.WalletBalance()).String(),
		"trades", acc.NumTrades(),
		"turnover", acc.Turnover(),
		"total_rpnl", acc.TotalRPnL(),
		"max_drawdown", acc.MaxDrawdown(),
		"sharpe", acc.Sharpe(),
		"sortino", acc.Sortino(),
	)
}

// replay drives the exchange with the event stream, keeping one passive bid
// at the best bid and one passive ask at the best ask whenever flat of orders.
func replay(ex *exchange.Linear, f *os.File, size decimal.Decimal, logger *slog.Logger) error {
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := applyEvent(ex, text, logger); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		requote(ex, size, logger)
	}
	return scanner.Err()
}

func applyEvent(ex *exchange.Linear, text string, logger *slog.Logger) error {
	parts := strings.Split(text, ",")
	if len(parts) != 4 {
		return fmt.Errorf("malformed event %q", text)
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad timestamp %q: %w", parts[0], err)
	}
	a, err := decimal.NewFromString(parts[2])
	if err != nil {
		return err
	}
	b, err := decimal.NewFromString(parts[3])
	if err != nil {
		return err
	}

	var res exchange.UpdateResult[money.Base, money.Quote]
	switch parts[1] {
	case "q":
		res, err = ex.UpdateQuote(money.Quote(a), money.Quote(b), ts)
	case "t":
		res, err = ex.UpdateTrade(money.Quote(a), money.Base(b), ts)
	default:
		return fmt.Errorf("unknown event kind %q", parts[1])
	}
	if err != nil {
		return err
	}
	for _, fill := range res.Fills {
		logger.Info("fill",
			"order_id", fill.OrderID, "side", fill.Side,
			"price", fill.Price.String(), "qty", money.Dec(fill.Qty).String(),
		)
	}
	if res.Liquidation != nil {
		logger.Warn("liquidated",
			"price", res.Liquidation.Price.String(),
			"wallet", res.Liquidation.RemainingWallet.String(),
		)
	}
	return nil
}

func requote(ex *exchange.Linear, size decimal.Decimal, logger *slog.Logger) {
	if len(ex.ActiveOrders()) > 0 {
		return
	}
	bid, ok := ex.MarketState().Bid()
	if !ok {
		return
	}
	ask, _ := ex.MarketState().Ask()

	if _, err := ex.SubmitLimitOrder(types.Buy, bid, money.Base(size)); err != nil {
		logger.Debug("bid rejected", "error", err)
	}
	if _, err := ex.SubmitLimitOrder(types.Sell, ask, money.Base(size)); err != nil {
		logger.Debug("ask rejected", "error", err)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
