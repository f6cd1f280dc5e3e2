// Package costmodel computes per-fill transaction cost: a commission table
// resolved instrument-first, exchange-second, default-last, composed with a
// pluggable slippage curve.
package costmodel

import (
	"math"

	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
)

// defaultAvgDailyVolume is used when no average daily volume has been
// configured for an instrument.
var defaultAvgDailyVolume = decimal.NewFromInt(1_000_000)

// CommissionTable is one venue's or instrument's fee schedule.
type CommissionTable struct {
	MakerRate     types.Price
	TakerRate     types.Price
	FixedFee      types.Price
	MinCommission types.Price
	MaxCommission types.Price
}

// DefaultCommissionTable mirrors a conservative default fee schedule: zero
// maker rebate, 10bps taker, no fixed fee, unclamped below, clamped at
// 1,000,000 above.
func DefaultCommissionTable() CommissionTable {
	return CommissionTable{
		MakerRate:     decimal.Zero,
		TakerRate:     decimal.NewFromFloat(0.001),
		FixedFee:      decimal.Zero,
		MinCommission: decimal.Zero,
		MaxCommission: decimal.NewFromInt(1_000_000),
	}
}

// Commission computes clamp(qty*price*rate + fixed, min, max), using the
// maker rate when isMaker, otherwise the taker rate.
func (c CommissionTable) Commission(qty, price types.Price, isMaker bool) types.Price {
	rate := c.TakerRate
	if isMaker {
		rate = c.MakerRate
	}
	raw := qty.Mul(price).Mul(rate).Add(c.FixedFee)
	if raw.LessThan(c.MinCommission) {
		return c.MinCommission
	}
	if raw.GreaterThan(c.MaxCommission) {
		return c.MaxCommission
	}
	return raw
}

// SlippageModel computes a signed (always <= 0) price-impact cost for one
// fill-sized trade against an instrument's typical liquidity.
type SlippageModel interface {
	Slippage(instrument types.InstrumentID, side types.Side, qty, referencePrice, avgDailyVolume types.Price) types.Price
}

// LinearSlippageModel: rate = base + impact*(qty/adv); result = -|rate*reference|.
// Per the specification's literal text, the zero-ADV branch also returns
// -|base*reference| (the original C++ implementation this was ported from
// returns base*reference unmodified, with no sign flip, in that branch —
// this model intentionally does not follow that, since the governing
// specification is explicit here rather than silent).
type LinearSlippageModel struct {
	BaseRate   types.Price
	ImpactRate types.Price
}

// NewLinearSlippageModel returns a LinearSlippageModel with the given
// parameters.
func NewLinearSlippageModel(baseRate, impactRate types.Price) LinearSlippageModel {
	return LinearSlippageModel{BaseRate: baseRate, ImpactRate: impactRate}
}

func (m LinearSlippageModel) Slippage(_ types.InstrumentID, _ types.Side, qty, referencePrice, avgDailyVolume types.Price) types.Price {
	if avgDailyVolume.IsZero() {
		return negAbs(m.BaseRate.Mul(referencePrice))
	}
	volumeRatio := qty.Div(avgDailyVolume)
	rate := m.BaseRate.Add(m.ImpactRate.Mul(volumeRatio))
	return negAbs(rate.Mul(referencePrice))
}

// SqrtSlippageModel: rate = base + coeff*sqrt(qty/adv); same sign handling
// as LinearSlippageModel. More realistic for large orders, where impact
// grows sublinearly with size.
type SqrtSlippageModel struct {
	BaseRate        types.Price
	ImpactCoeff     types.Price
}

// NewSqrtSlippageModel returns a SqrtSlippageModel with the given parameters.
func NewSqrtSlippageModel(baseRate, impactCoeff types.Price) SqrtSlippageModel {
	return SqrtSlippageModel{BaseRate: baseRate, ImpactCoeff: impactCoeff}
}

func (m SqrtSlippageModel) Slippage(_ types.InstrumentID, _ types.Side, qty, referencePrice, avgDailyVolume types.Price) types.Price {
	if avgDailyVolume.IsZero() {
		return negAbs(m.BaseRate.Mul(referencePrice))
	}
	volumeRatio := qty.Div(avgDailyVolume)
	sqrtRatio := decimal.NewFromFloat(math.Sqrt(volumeRatio.InexactFloat64()))
	rate := m.BaseRate.Add(m.ImpactCoeff.Mul(sqrtRatio))
	return negAbs(rate.Mul(referencePrice))
}

func negAbs(v types.Price) types.Price {
	return v.Abs().Neg()
}

// TransactionCost is the result of Model.CostOf.
type TransactionCost struct {
	Commission types.Price
	Slippage   types.Price
	Total      types.Price
}

// Model composes a commission resolution chain with a slippage model.
type Model struct {
	exchangeTables   map[types.ExchangeID]CommissionTable
	instrumentTables map[types.InstrumentID]CommissionTable
	avgDailyVolumes  map[types.InstrumentID]types.Price
	slippage         SlippageModel
	defaultTable     CommissionTable
}

// New returns a Model with DefaultCommissionTable as the fallback and a
// LinearSlippageModel using conservative default parameters.
func New() *Model {
	return &Model{
		exchangeTables:   make(map[types.ExchangeID]CommissionTable),
		instrumentTables: make(map[types.InstrumentID]CommissionTable),
		avgDailyVolumes:  make(map[types.InstrumentID]types.Price),
		slippage:         NewLinearSlippageModel(decimal.NewFromFloat(0.0001), decimal.NewFromFloat(0.01)),
		defaultTable:     DefaultCommissionTable(),
	}
}

// SetExchangeCommission registers a commission table for exchange.
func (m *Model) SetExchangeCommission(exchange types.ExchangeID, table CommissionTable) {
	m.exchangeTables[exchange] = table
}

// SetInstrumentCommission registers a commission table for instrument,
// taking priority over any exchange-level table.
func (m *Model) SetInstrumentCommission(instrument types.InstrumentID, table CommissionTable) {
	m.instrumentTables[instrument] = table
}

// SetSlippageModel overrides the slippage model.
func (m *Model) SetSlippageModel(s SlippageModel) {
	m.slippage = s
}

// SetAvgDailyVolume registers instrument's average daily volume for
// slippage sizing.
func (m *Model) SetAvgDailyVolume(instrument types.InstrumentID, volume types.Price) {
	m.avgDailyVolumes[instrument] = volume
}

// CostOf computes the commission and slippage for a trade. isAggressive
// true means the order took liquidity (taker); false means it added
// liquidity (maker).
func (m *Model) CostOf(instrument types.InstrumentID, exchange types.ExchangeID, side types.Side, qty, price types.Price, isAggressive bool) TransactionCost {
	commission := m.resolveTable(instrument, exchange).Commission(qty, price, !isAggressive)

	adv, ok := m.avgDailyVolumes[instrument]
	if !ok {
		adv = defaultAvgDailyVolume
	}
	slippage := m.slippage.Slippage(instrument, side, qty, price, adv)

	return TransactionCost{Commission: commission, Slippage: slippage, Total: commission.Add(slippage)}
}

// CostOfFill is a convenience wrapper around CostOf for an already-matched
// Fill, treated as an aggressive (taker) trade against exchange.
func (m *Model) CostOfFill(fill types.Fill, exchange types.ExchangeID) TransactionCost {
	return m.CostOf(fill.Instrument, exchange, fill.Side, fill.Quantity, fill.Price, true)
}

func (m *Model) resolveTable(instrument types.InstrumentID, exchange types.ExchangeID) CommissionTable {
	if table, ok := m.instrumentTables[instrument]; ok {
		return table
	}
	if table, ok := m.exchangeTables[exchange]; ok {
		return table
	}
	return m.defaultTable
}

// NewUSEquityModel mirrors a typical zero-commission US retail equity
// broker with modest linear slippage. The zero-commission table is
// registered for exchange "us_equity" only; every other exchange id,
// including types.DefaultExchange, resolves to DefaultCommissionTable.
func NewUSEquityModel() *Model {
	m := New()
	m.SetExchangeCommission("us_equity", CommissionTable{MaxCommission: decimal.NewFromInt(1_000_000)})
	m.SetSlippageModel(NewLinearSlippageModel(decimal.NewFromFloat(0.0001), decimal.NewFromFloat(0.01)))
	return m
}

// NewCryptoModel mirrors a Binance-like maker/taker fee schedule with
// square-root slippage, appropriate for larger, liquidity-sensitive orders.
// The fee table is registered for exchange "crypto" only; other exchange
// ids resolve to DefaultCommissionTable.
func NewCryptoModel() *Model {
	m := New()
	rate := decimal.NewFromFloat(0.001)
	m.SetExchangeCommission("crypto", CommissionTable{MakerRate: rate, TakerRate: rate, MaxCommission: decimal.NewFromInt(1_000_000)})
	m.SetSlippageModel(NewSqrtSlippageModel(decimal.NewFromFloat(0.0005), decimal.NewFromFloat(0.1)))
	return m
}

// NewForexModel mirrors a spread-only forex venue: zero commission, small
// linear slippage standing in for the spread. The zero-commission table is
// registered for exchange "forex" only; other exchange ids resolve to
// DefaultCommissionTable.
func NewForexModel() *Model {
	m := New()
	m.SetExchangeCommission("forex", CommissionTable{MaxCommission: decimal.NewFromInt(1_000_000)})
	m.SetSlippageModel(NewLinearSlippageModel(decimal.NewFromFloat(0.00005), decimal.NewFromFloat(0.005)))
	return m
}

// NewIBKRNetherlandsModel mirrors IBKR's "Fixed - SmartRouting" USD schedule
// for Netherlands-listed equities: 0.05% of trade value, floored at $1.70 and
// capped at $39 per order, with no slippage modeled. The fee table is
// registered for exchange "ibkr_nl" only; other exchange ids resolve to
// DefaultCommissionTable.
func NewIBKRNetherlandsModel() *Model {
	m := New()
	m.SetExchangeCommission("ibkr_nl", CommissionTable{
		MakerRate:     decimal.NewFromFloat(0.0005),
		TakerRate:     decimal.NewFromFloat(0.0005),
		MinCommission: decimal.RequireFromString("1.70"),
		MaxCommission: decimal.RequireFromString("39"),
	})
	m.SetSlippageModel(NewLinearSlippageModel(decimal.Zero, decimal.Zero))
	return m
}
