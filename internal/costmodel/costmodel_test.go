package costmodel

import (
	"testing"

	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// S5 (slippage linear): base=0.0001, impact=0.01, reference=200, qty=1000,
// adv=100000. rate = 0.0001 + 0.01*0.01 = 0.0002; slippage = -|0.0002*200| = -0.04.
func TestLinearSlippage_S5(t *testing.T) {
	model := NewLinearSlippageModel(decimal.NewFromFloat(0.0001), decimal.NewFromFloat(0.01))
	got := model.Slippage("AAPL", types.Buy, decimal.NewFromInt(1000), decimal.NewFromInt(200), decimal.NewFromInt(100000))
	want := decimal.NewFromFloat(-0.04)
	require.True(t, got.Equal(want), "got %s want %s", got, want)
}

func TestLinearSlippage_ZeroADV_FollowsSpecLiteralText(t *testing.T) {
	model := NewLinearSlippageModel(decimal.NewFromFloat(0.0001), decimal.NewFromFloat(0.01))
	got := model.Slippage("AAPL", types.Buy, decimal.NewFromInt(1000), decimal.NewFromInt(200), decimal.Zero)
	want := decimal.NewFromFloat(-0.02) // -|0.0001*200|
	require.True(t, got.Equal(want), "got %s want %s", got, want)
}

func TestSqrtSlippage_Computes(t *testing.T) {
	model := NewSqrtSlippageModel(decimal.NewFromFloat(0.0001), decimal.NewFromFloat(0.1))
	got := model.Slippage("BTC-USD", types.Sell, decimal.NewFromInt(100), decimal.NewFromInt(50000), decimal.NewFromInt(10000))
	require.True(t, got.LessThan(decimal.Zero), "slippage must be negative")
}

// S6 (commission clamp): taker=0.001, fixed=1, min=2, max=5.
// qty=10, price=100: raw = 10*100*0.001 + 1 = 2, clamp -> 2.
// qty=1000: raw = 1000*100*0.001 + 1 = 101, clamp -> 5.
func TestCommissionClamp_S6(t *testing.T) {
	table := CommissionTable{
		TakerRate:     decimal.NewFromFloat(0.001),
		FixedFee:      decimal.NewFromInt(1),
		MinCommission: decimal.NewFromInt(2),
		MaxCommission: decimal.NewFromInt(5),
	}

	got := table.Commission(decimal.NewFromInt(10), decimal.NewFromInt(100), false)
	require.True(t, got.Equal(decimal.NewFromInt(2)), "got %s", got)

	got = table.Commission(decimal.NewFromInt(1000), decimal.NewFromInt(100), false)
	require.True(t, got.Equal(decimal.NewFromInt(5)), "got %s", got)
}

func TestCostOf_ResolvesInstrumentBeforeExchangeBeforeDefault(t *testing.T) {
	m := New()
	m.SetExchangeCommission("nasdaq", CommissionTable{TakerRate: decimal.NewFromFloat(0.002), MaxCommission: decimal.NewFromInt(1_000_000)})
	m.SetInstrumentCommission("AAPL", CommissionTable{TakerRate: decimal.NewFromFloat(0.0005), MaxCommission: decimal.NewFromInt(1_000_000)})

	cost := m.CostOf("AAPL", "nasdaq", types.Buy, decimal.NewFromInt(100), decimal.NewFromInt(10), true)
	want := decimal.NewFromInt(100).Mul(decimal.NewFromInt(10)).Mul(decimal.NewFromFloat(0.0005))
	require.True(t, cost.Commission.Equal(want), "expected instrument-level table to win: got %s want %s", cost.Commission, want)

	cost = m.CostOf("MSFT", "nasdaq", types.Buy, decimal.NewFromInt(100), decimal.NewFromInt(10), true)
	want = decimal.NewFromInt(100).Mul(decimal.NewFromInt(10)).Mul(decimal.NewFromFloat(0.002))
	require.True(t, cost.Commission.Equal(want), "expected exchange-level table for an instrument with no override: got %s want %s", cost.Commission, want)
}

func TestCostOf_DefaultAvgDailyVolume(t *testing.T) {
	m := New()
	cost := m.CostOf("UNSET", types.DefaultExchange, types.Buy, decimal.NewFromInt(1000), decimal.NewFromInt(200), true)
	require.True(t, cost.Slippage.LessThan(decimal.Zero))
}

func TestPresetModels(t *testing.T) {
	for _, m := range []*Model{NewUSEquityModel(), NewCryptoModel(), NewForexModel()} {
		cost := m.CostOf("X", "any", types.Buy, decimal.NewFromInt(10), decimal.NewFromInt(100), true)
		require.True(t, cost.Total.LessThanOrEqual(decimal.Zero) || cost.Commission.GreaterThanOrEqual(decimal.Zero))
	}
}
