// Package examples holds reference strategy implementations that exercise
// the strategy.Strategy interface end to end.
package examples

import (
	"github.com/rbasarat/backtester/strategy"
	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
)

// PriceMode selects which field of a tick an SMA reads as "the" price.
type PriceMode int

const (
	Close PriceMode = iota
	Open
	High
	Low
	HLC3
	OHLC4
)

func (m PriceMode) extract(t types.Tick) types.Price {
	switch m {
	case Open:
		return t.Open
	case High:
		return t.High
	case Low:
		return t.Low
	case HLC3:
		return t.High.Add(t.Low).Add(t.Close).Div(decimal.NewFromInt(3))
	case OHLC4:
		return t.Open.Add(t.High).Add(t.Low).Add(t.Close).Div(decimal.NewFromInt(4))
	default:
		return t.Close
	}
}

type priceHistory struct {
	prices    []types.Price
	hasSignal bool
}

// SMAStrategy buys when the short-period moving average crosses above the
// long-period one and sells when it crosses below, per instrument.
type SMAStrategy struct {
	ShortPeriod int
	LongPeriod  int
	Mode        PriceMode

	histories map[types.InstrumentID]*priceHistory
}

// NewSMAStrategy returns an SMAStrategy comparing a shortPeriod-bar average
// against a longPeriod-bar average of mode's price.
func NewSMAStrategy(shortPeriod, longPeriod int, mode PriceMode) *SMAStrategy {
	return &SMAStrategy{
		ShortPeriod: shortPeriod,
		LongPeriod:  longPeriod,
		Mode:        mode,
		histories:   make(map[types.InstrumentID]*priceHistory),
	}
}

// OnMarketData implements strategy.Strategy.
func (s *SMAStrategy) OnMarketData(ctx *strategy.Context, tick types.Tick) {
	h, ok := s.histories[tick.Instrument]
	if !ok {
		h = &priceHistory{}
		s.histories[tick.Instrument] = h
	}

	price := s.Mode.extract(tick)
	h.prices = append(h.prices, price)
	if len(h.prices) > s.LongPeriod {
		h.prices = h.prices[len(h.prices)-s.LongPeriod:]
	}
	if len(h.prices) < s.LongPeriod {
		return
	}

	shortAvg := average(h.prices[len(h.prices)-s.ShortPeriod:])
	longAvg := average(h.prices)

	bullish := shortAvg.GreaterThan(longAvg)
	if bullish == h.hasSignal {
		return
	}
	h.hasSignal = bullish

	if bullish {
		ctx.Buy(tick.Instrument)
	} else {
		ctx.Sell(tick.Instrument)
	}
}

func average(prices []types.Price) types.Price {
	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.NewFromInt(int64(len(prices))))
}
