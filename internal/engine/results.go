package engine

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
)

// EquityPoint is one sample of total portfolio value at a point in
// simulated time.
type EquityPoint struct {
	Time  time.Time
	Value types.Price
}

// Trade is one completed fill recorded for reporting, independent of the
// FIFO ledger execution uses internally for risk accounting.
type Trade struct {
	Strategy   types.StrategyID
	Instrument types.InstrumentID
	Side       types.Side
	Price      types.Price
	Quantity   types.Volume
	Commission types.Price
	Time       time.Time
	RealizedPnL types.Price
}

// BacktestResults is the full output of one engine run.
type BacktestResults struct {
	Start time.Time
	End   time.Time

	TotalTrades int
	WinningTrades int
	LosingTrades int
	WinRate     types.Price

	TotalPnL        types.Price
	TotalCommission types.Price
	TotalSlippage   types.Price

	MaxDrawdown    types.Price
	MaxDrawdownPct types.Price
	MaxProfit      types.Price

	SharpeRatio  types.Price
	ProfitFactor types.Price

	PnLByStrategy map[types.StrategyID]types.Price
	Trades        []Trade
	EquityCurve   []EquityPoint
}

// EngineStats reports operational counters about a run, independent of
// trading performance.
type EngineStats struct {
	TicksProcessed   int
	SignalsEmitted   int
	OrdersSubmitted  int
	OrdersRejected   int
	FillsExecuted    int
	Duration         time.Duration
}

// computeResults builds a BacktestResults from the trade list and equity
// curve the engine recorded during a run, using parallel goroutines per
// independent metric the way the teacher's reporting pass does.
func computeResults(start, end time.Time, trades []Trade, equity []EquityPoint, riskFreeRate types.Price) *BacktestResults {
	results := &BacktestResults{
		Start:         start,
		End:           end,
		TotalTrades:   len(trades),
		PnLByStrategy: make(map[types.StrategyID]types.Price),
		Trades:        trades,
		EquityCurve:   equity,
	}

	var wg sync.WaitGroup
	wg.Add(6)

	go func() {
		defer wg.Done()
		results.TotalPnL, results.TotalCommission, results.TotalSlippage, results.WinningTrades, results.LosingTrades, results.WinRate = summarizeTrades(trades)
	}()
	go func() {
		defer wg.Done()
		results.PnLByStrategy = pnlByStrategy(trades)
	}()
	go func() {
		defer wg.Done()
		results.MaxDrawdown, results.MaxDrawdownPct = maxDrawdown(equity)
	}()
	go func() {
		defer wg.Done()
		results.MaxProfit = maxProfit(equity)
	}()
	go func() {
		defer wg.Done()
		results.SharpeRatio = sharpeRatio(equity, riskFreeRate)
	}()
	go func() {
		defer wg.Done()
		results.ProfitFactor = profitFactor(trades)
	}()

	wg.Wait()
	return results
}

func summarizeTrades(trades []Trade) (totalPnL, totalCommission, totalSlippage types.Price, wins, losses int, winRate types.Price) {
	totalPnL, totalCommission, totalSlippage = decimal.Zero, decimal.Zero, decimal.Zero

	for _, tr := range trades {
		totalPnL = totalPnL.Add(tr.RealizedPnL)
		totalCommission = totalCommission.Add(tr.Commission)

		switch {
		case tr.RealizedPnL.GreaterThan(decimal.Zero):
			wins++
		case tr.RealizedPnL.LessThan(decimal.Zero):
			losses++
		}
	}

	closed := wins + losses
	if closed > 0 {
		winRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(closed)))
	} else {
		winRate = decimal.Zero
	}
	return
}

func pnlByStrategy(trades []Trade) map[types.StrategyID]types.Price {
	byStrategy := make(map[types.StrategyID]types.Price)
	for _, tr := range trades {
		byStrategy[tr.Strategy] = byStrategy[tr.Strategy].Add(tr.RealizedPnL)
	}
	return byStrategy
}

// maxDrawdown walks the equity curve in order, tracking the running peak
// and the largest peak-to-trough decline seen so far.
func maxDrawdown(equity []EquityPoint) (types.Price, types.Price) {
	if len(equity) == 0 {
		return decimal.Zero, decimal.Zero
	}

	peak := equity[0].Value
	maxDD := decimal.Zero
	maxDDPct := decimal.Zero

	for _, point := range equity {
		if point.Value.GreaterThan(peak) {
			peak = point.Value
		}
		if !peak.GreaterThan(decimal.Zero) {
			continue
		}
		dd := peak.Sub(point.Value)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
			maxDDPct = dd.Div(peak)
		}
	}
	return maxDD, maxDDPct
}

// maxProfit returns the single largest trough-to-peak gain along the equity
// curve: the highest value reached above the running trough before it.
func maxProfit(equity []EquityPoint) types.Price {
	if len(equity) == 0 {
		return decimal.Zero
	}
	trough := equity[0].Value
	best := decimal.Zero
	for _, point := range equity {
		if point.Value.LessThan(trough) {
			trough = point.Value
		}
		gain := point.Value.Sub(trough)
		if gain.GreaterThan(best) {
			best = gain
		}
	}
	return best
}

// sharpeRatio annualizes the excess returns between consecutive
// equity-curve samples (one sample per processed tick) by sqrt(252),
// matching a daily-bar convention rather than the monthly one a
// calendar-based backtester would use. Returns are not computed per trade.
func sharpeRatio(equity []EquityPoint, riskFreeRate types.Price) types.Price {
	if len(equity) < 2 {
		return decimal.Zero
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Value
		if !prev.GreaterThan(decimal.Zero) {
			continue
		}
		r := equity[i].Value.Div(prev).Sub(decimal.NewFromInt(1))
		returns = append(returns, r.InexactFloat64())
	}
	if len(returns) < 2 {
		return decimal.Zero
	}

	perPeriodRiskFree := riskFreeRate.InexactFloat64() / 252.0

	var sum float64
	for _, r := range returns {
		sum += r - perPeriodRiskFree
	}
	mean := sum / float64(len(returns))

	var varianceSum float64
	for _, r := range returns {
		diff := (r - perPeriodRiskFree) - mean
		varianceSum += diff * diff
	}
	stdDev := math.Sqrt(varianceSum / float64(len(returns)-1))
	if stdDev == 0 {
		return decimal.Zero
	}

	sharpe := (mean / stdDev) * math.Sqrt(252.0)
	return decimal.NewFromFloat(sharpe)
}

// profitFactor returns gross profit divided by gross loss (absolute value)
// across every realized trade.
func profitFactor(trades []Trade) types.Price {
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero

	for _, tr := range trades {
		switch {
		case tr.RealizedPnL.GreaterThan(decimal.Zero):
			grossProfit = grossProfit.Add(tr.RealizedPnL)
		case tr.RealizedPnL.LessThan(decimal.Zero):
			grossLoss = grossLoss.Add(tr.RealizedPnL.Abs())
		}
	}

	if grossLoss.IsZero() {
		if grossProfit.IsZero() {
			return decimal.Zero
		}
		return grossProfit
	}
	return grossProfit.Div(grossLoss)
}

// sortTradesByTime orders trades chronologically; used after the run loop,
// before the final results are computed.
func sortTradesByTime(trades []Trade) {
	sort.Slice(trades, func(i, j int) bool { return trades[i].Time.Before(trades[j].Time) })
}
