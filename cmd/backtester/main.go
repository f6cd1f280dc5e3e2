// Command backtester runs a demo backtest of the SMA-crossover example
// strategy against a synthetic tick feed, using zap for structured logging
// and a progress bar for run feedback.
package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rbasarat/backtester/internal/costmodel"
	"github.com/rbasarat/backtester/internal/engine"
	"github.com/rbasarat/backtester/internal/orderbook"
	"github.com/rbasarat/backtester/strategy/examples"
	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const instrument types.InstrumentID = "AAPL"

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	runID := uuid.NewString()
	log.Info("starting backtest run", zap.String("run_id", runID))

	cfg := engine.DefaultConfig()
	cfg.OrderLatency = 2 * time.Second
	cfg.Logger = log

	eng := engine.New(cfg, costmodel.NewUSEquityModel())
	eng.AddTicks(instrument, syntheticTicks(instrument, 500))
	seedLiquidity(eng.Book(instrument))

	strategyID := types.StrategyID(uuid.NewString())
	eng.RegisterStrategy(strategyID, examples.NewSMAStrategy(10, 30, examples.Close))

	results, err := eng.Run(true)
	if err != nil {
		log.Fatal("backtest run failed", zap.Error(err))
	}

	fmt.Printf("\ntrades=%d winRate=%s totalPnL=%s sharpe=%s maxDrawdown=%s\n",
		results.TotalTrades,
		results.WinRate.StringFixed(4),
		results.TotalPnL.StringFixed(2),
		results.SharpeRatio.StringFixed(4),
		results.MaxDrawdown.StringFixed(2),
	)
}

// seedLiquidity stands in for a real venue's counterparties with a tight
// two-sided quote around the synthetic feed's starting price, so the demo
// strategy's market orders always have something to match against.
func seedLiquidity(book *orderbook.Book) {
	qty := decimal.NewFromInt(1_000_000)
	book.Add(types.Order{ID: 1, Instrument: instrument, Side: types.Buy, Type: types.Limit, LimitPrice: decimal.NewFromFloat(99.99), Quantity: qty})
	book.Add(types.Order{ID: 2, Instrument: instrument, Side: types.Sell, Type: types.Limit, LimitPrice: decimal.NewFromFloat(100.01), Quantity: qty})
}

// syntheticTicks generates a pseudo-random walk of n one-minute ticks
// starting at 100.00, standing in for a real market data feed.
func syntheticTicks(instrument types.InstrumentID, n int) []types.Tick {
	r := rand.New(rand.NewSource(42))
	start := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	price := decimal.NewFromInt(100)

	ticks := make([]types.Tick, 0, n)
	for i := 0; i < n; i++ {
		delta := decimal.NewFromFloat(r.NormFloat64() * 0.25)
		price = price.Add(delta)
		if price.LessThan(decimal.NewFromInt(1)) {
			price = decimal.NewFromInt(1)
		}
		ts := start.Add(time.Duration(i) * time.Minute)
		ticks = append(ticks, types.Tick{
			Timestamp:  ts,
			Instrument: instrument,
			LastPrice:  price,
			Open:       price,
			High:       price,
			Low:        price,
			Close:      price,
			Volume:     decimal.NewFromInt(1000),
		})
	}
	return ticks
}
