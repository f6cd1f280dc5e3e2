package execution

import (
	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
)

// SizingContext carries everything a Sizer needs to turn a signal into an
// order quantity.
type SizingContext struct {
	Strategy       types.StrategyID
	Instrument     types.InstrumentID
	Side           types.Side
	Strength       types.Price // signal strength exactly as the strategy emitted it
	ReferencePrice types.Price // last observed price for the instrument, zero if none seen yet
}

// Sizer converts a sized signal into an order quantity.
type Sizer interface {
	Size(ctx SizingContext) types.Volume
}

// FixedSizer always orders the same quantity regardless of signal strength.
type FixedSizer struct {
	Quantity types.Volume
}

// NewFixedSizer returns a FixedSizer ordering qty units per signal.
func NewFixedSizer(qty types.Volume) FixedSizer {
	return FixedSizer{Quantity: qty}
}

func (s FixedSizer) Size(ctx SizingContext) types.Volume {
	return s.Quantity
}

// StrengthScaledSizer scales BaseQuantity by the signal's strength, floored
// at a minimum of one unit so a nonzero signal always produces an order.
type StrengthScaledSizer struct {
	BaseQuantity types.Volume
}

// NewStrengthScaledSizer returns a StrengthScaledSizer scaling baseQty by
// signal strength.
func NewStrengthScaledSizer(baseQty types.Volume) StrengthScaledSizer {
	return StrengthScaledSizer{BaseQuantity: baseQty}
}

func (s StrengthScaledSizer) Size(ctx SizingContext) types.Volume {
	strength := ctx.Strength.Abs()
	if strength.IsZero() {
		strength = decimal.NewFromInt(1)
	}
	qty := s.BaseQuantity.Mul(strength)
	if qty.LessThan(decimal.NewFromInt(1)) {
		qty = decimal.NewFromInt(1)
	}
	return qty
}

// CashFractionSizer sizes an order as a fixed fraction of account equity
// divided by the instrument's last observed price, rounded down to a whole
// unit. A zero or unknown reference price sizes to zero, which the handler
// treats as "skip this signal" rather than submitting a no-op order.
type CashFractionSizer struct {
	Equity           types.Price
	FractionOfEquity types.Price
}

// NewCashFractionSizer returns a CashFractionSizer committing fraction of
// equity to each new position.
func NewCashFractionSizer(equity, fraction types.Price) CashFractionSizer {
	return CashFractionSizer{Equity: equity, FractionOfEquity: fraction}
}

func (s CashFractionSizer) Size(ctx SizingContext) types.Volume {
	if ctx.ReferencePrice.IsZero() {
		return types.Volume{}
	}
	cash := s.Equity.Mul(s.FractionOfEquity)
	return cash.Div(ctx.ReferencePrice).Floor()
}
