package examples

import (
	"github.com/rbasarat/backtester/strategy"
	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
)

type donchianHistory struct {
	ticks    []types.Tick
	stopLoss types.Price
}

// DonchianStrategy buys a breakout of the highest high of the preceding
// Period bars and sells a breakout of the lowest low, stopping out a long on
// a close below an ATR-derived trailing stop. Grounded on a weekly-candle
// Donchian channel breakout system, adapted here to run tick-by-tick with a
// configurable lookback instead of a fixed weekly bar.
type DonchianStrategy struct {
	Period       int
	ATRPeriod    int
	ATRMultiple  types.Price

	histories map[types.InstrumentID]*donchianHistory
}

// NewDonchianStrategy returns a DonchianStrategy with the given channel and
// ATR lookback periods and stop-loss multiple.
func NewDonchianStrategy(period, atrPeriod int, atrMultiple types.Price) *DonchianStrategy {
	return &DonchianStrategy{
		Period:      period,
		ATRPeriod:   atrPeriod,
		ATRMultiple: atrMultiple,
		histories:   make(map[types.InstrumentID]*donchianHistory),
	}
}

// OnMarketData implements strategy.Strategy.
func (s *DonchianStrategy) OnMarketData(ctx *strategy.Context, tick types.Tick) {
	h, ok := s.histories[tick.Instrument]
	if !ok {
		h = &donchianHistory{}
		s.histories[tick.Instrument] = h
	}

	pos := ctx.Position(tick.Instrument)
	if pos.Quantity.IsPositive() && !h.stopLoss.IsZero() && tick.Close.LessThan(h.stopLoss) {
		ctx.Close(tick.Instrument)
		h.stopLoss = types.Price{}
	}

	h.ticks = append(h.ticks, tick)
	needed := s.Period + 1
	if len(h.ticks) > needed {
		h.ticks = h.ticks[len(h.ticks)-needed:]
	}
	if len(h.ticks) <= s.Period {
		return
	}

	preceding := h.ticks[:len(h.ticks)-1]
	highestHigh, lowestLow := donchianHighLow(preceding)

	switch {
	case tick.High.GreaterThan(highestHigh):
		ctx.Buy(tick.Instrument)
		h.stopLoss = tick.Close.Sub(averageTrueRange(h.ticks, s.ATRPeriod).Mul(s.ATRMultiple))
	case tick.Low.LessThan(lowestLow):
		ctx.Sell(tick.Instrument)
		h.stopLoss = types.Price{}
	}
}

func donchianHighLow(ticks []types.Tick) (types.Price, types.Price) {
	highest := ticks[0].High
	lowest := ticks[0].Low
	for _, t := range ticks[1:] {
		if t.High.GreaterThan(highest) {
			highest = t.High
		}
		if t.Low.LessThan(lowest) {
			lowest = t.Low
		}
	}
	return highest, lowest
}

// averageTrueRange computes a simple (non-Wilder-smoothed) ATR over the last
// period true ranges in ticks, or zero if there isn't enough history yet.
func averageTrueRange(ticks []types.Tick, period int) types.Price {
	if len(ticks) < period+1 {
		return decimal.Zero
	}
	window := ticks[len(ticks)-period-1:]
	sum := decimal.Zero
	for i := 1; i < len(window); i++ {
		high, low, prevClose := window[i].High, window[i].Low, window[i-1].Close
		tr := decimal.Max(high.Sub(low), high.Sub(prevClose).Abs(), low.Sub(prevClose).Abs())
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}
