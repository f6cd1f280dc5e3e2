package types

import "github.com/shopspring/decimal"

// Tick is one record of market state for a single instrument at a single
// instant. Ticks are immutable once ingested; the tick store never mutates a
// tick after append.
type Tick struct {
	Timestamp  Timestamp
	Instrument InstrumentID
	BidPrice   Price
	AskPrice   Price
	BidSize    Volume
	AskSize    Volume
	LastPrice  Price
	Volume     Volume
	Open       Price
	High       Price
	Low        Price
	Close      Price
	Date       string
}

// Order is a single order submitted by a strategy. FilledQty never exceeds
// Quantity; Status is Filled iff FilledQty == Quantity.
type Order struct {
	ID          OrderID
	Submitted   Timestamp
	Instrument  InstrumentID
	Strategy    StrategyID
	Side        Side
	Type        OrderType
	LimitPrice  Price
	StopPrice   Price
	Quantity    Volume
	FilledQty   Volume
	Status      OrderStatus
}

// Remaining returns the unfilled portion of the order.
func (o Order) Remaining() Volume {
	return o.Quantity.Sub(o.FilledQty)
}

// Fill is one execution against an order. An order yields one or more
// fills; the sum of their quantities never exceeds the order's quantity.
type Fill struct {
	OrderID    OrderID
	Timestamp  Timestamp
	Instrument InstrumentID
	Strategy   StrategyID
	Side       Side
	Price      Price
	Quantity   Volume
	Commission Price
}

// Notional returns price * quantity for this fill.
func (f Fill) Notional() Price {
	return f.Price.Mul(f.Quantity)
}

// Position is the net holding of one instrument by one strategy: signed
// quantity (positive long, negative short), the weighted-average entry
// price of the open quantity, and accumulated realized/unrealized P&L.
type Position struct {
	Strategy     StrategyID
	Instrument   InstrumentID
	Quantity     Volume
	AvgPrice     Price
	RealizedPnL  Price
	UnrealizedPnL Price
}

// IsFlat reports whether the position has no open quantity.
func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// MarkToMarket returns the unrealized P&L of the open quantity at lastPrice.
func (p Position) MarkToMarket(lastPrice Price) Price {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	return lastPrice.Sub(p.AvgPrice).Mul(p.Quantity)
}
