// Package types holds the scalar, identifier, and entity types shared across
// every component of the backtester: ticks, orders, fills, positions and the
// enumerated sets that describe them.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Price is a signed real quantity (a traded price, a P&L figure, a notional
// value). Backed by decimal.Decimal rather than float64 so commission and
// slippage math never accumulates binary-float rounding error across a long
// replay.
type Price = decimal.Decimal

// Volume is a traded or resting quantity. Most instruments trade in integer
// lots but crypto and FX venues quote fractional size, so Volume stays
// decimal rather than narrowing to an integer type.
type Volume = decimal.Decimal

// Timestamp is simulated time, monotonic for the lifetime of a single run.
type Timestamp = time.Time

// Duration is simulated elapsed time.
type Duration = time.Duration

// OrderID uniquely identifies an order within one engine run. Ids are
// allocated by the execution handler and are strictly increasing.
type OrderID uint64

// StrategyID names a registered strategy.
type StrategyID string

// InstrumentID names a tradeable instrument.
type InstrumentID string

// ExchangeID names a venue or broker whose fee schedule applies.
type ExchangeID string

// DefaultExchange is used when a fill or cost lookup does not name a venue.
const DefaultExchange ExchangeID = "default"
