package risk

import (
	"testing"
	"time"

	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func order(strategy types.StrategyID, at time.Time) types.Order {
	return types.Order{
		Strategy:   strategy,
		Instrument: "AAPL",
		Side:       types.Buy,
		Type:       types.Market,
		Quantity:   decimal.NewFromInt(1),
		Submitted:  at,
	}
}

// S3 (rate limit): max_orders_per_minute=2. Two orders at T, T+10s consume
// the window; a third at T+30s is rejected; a fourth at T+70s (more than 60s
// past the first) is approved since the window has rolled forward.
func TestRateLimit_S3(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxOrdersPerMinute = 2

	m := NewManager(limits)
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)

	o1 := order("strat", base)
	require.Nil(t, m.Check(o1, base))
	m.OnOrderSubmitted(o1)

	o2 := order("strat", base.Add(10*time.Second))
	require.Nil(t, m.Check(o2, o2.Submitted))
	m.OnOrderSubmitted(o2)

	o3 := order("strat", base.Add(30*time.Second))
	v := m.Check(o3, o3.Submitted)
	require.NotNil(t, v, "third order within the 60s window must be rejected")
	require.Equal(t, types.ViolationRate, v.Kind)

	o4 := order("strat", base.Add(70*time.Second))
	v = m.Check(o4, o4.Submitted)
	require.Nil(t, v, "fourth order after the window rolls forward must be approved")
}

// S4 (loss cooldown): loss_cooldown=30min, significant-loss threshold=-1000.
// A -1500 P&L fill at T triggers a cooldown; an order at T+10min is
// rejected; an order at T+31min is approved.
func TestLossCooldown_S4(t *testing.T) {
	limits := DefaultLimits()
	limits.LossCooldown = 30 * time.Minute

	m := NewManager(limits)
	base := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)

	fill := types.Fill{
		Instrument: "AAPL",
		Strategy:   "strat",
		Side:       types.Sell,
		Price:      decimal.NewFromInt(100),
		Quantity:   decimal.NewFromInt(10),
		Timestamp:  base,
	}
	m.OnFill(fill, decimal.NewFromInt(-1500), base)

	during := order("strat", base.Add(10*time.Minute))
	v := m.Check(during, during.Submitted)
	require.NotNil(t, v, "order during cooldown must be rejected")
	require.Equal(t, types.ViolationCooldown, v.Kind)

	after := order("strat", base.Add(31*time.Minute))
	v = m.Check(after, after.Submitted)
	require.Nil(t, v, "order after cooldown expires must be approved")
}

func TestOrderSizeLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxOrderSize = decimal.NewFromInt(5)
	m := NewManager(limits)

	o := order("strat", time.Now().UTC())
	o.Quantity = decimal.NewFromInt(10)
	v := m.Check(o, o.Submitted)
	require.NotNil(t, v)
	require.Equal(t, types.ViolationOrderSize, v.Kind)
}

func TestPositionLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxPositionSize = decimal.NewFromInt(100)
	m := NewManager(limits)
	now := time.Now().UTC()

	fill := types.Fill{Instrument: "AAPL", Strategy: "strat", Side: types.Buy, Price: decimal.NewFromInt(10), Quantity: decimal.NewFromInt(90), Timestamp: now}
	m.OnFill(fill, decimal.Zero, now)

	o := order("strat", now)
	o.Quantity = decimal.NewFromInt(20)
	v := m.Check(o, now)
	require.NotNil(t, v)
	require.Equal(t, types.ViolationPosition, v.Kind)
}

func TestResetDaily_PreservesCooldownAndTotals(t *testing.T) {
	m := NewManager(DefaultLimits())
	now := time.Now().UTC()
	fill := types.Fill{Instrument: "AAPL", Strategy: "strat", Side: types.Sell, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), Timestamp: now}
	m.OnFill(fill, decimal.NewFromInt(-2000), now)

	require.True(t, m.StrategyPnL("strat").Equal(decimal.NewFromInt(-2000)))
	m.ResetDaily()
	require.True(t, m.StrategyPnL("strat").Equal(decimal.NewFromInt(-2000)), "cumulative total must survive a daily reset")

	v := m.Check(order("strat", now.Add(time.Minute)), now.Add(time.Minute))
	require.NotNil(t, v, "cooldown must survive a daily reset")
	require.Equal(t, types.ViolationCooldown, v.Kind)
}

func TestPortfolioStats(t *testing.T) {
	m := NewManager(DefaultLimits())
	now := time.Now().UTC()
	m.OnFill(types.Fill{Instrument: "AAPL", Strategy: "a", Side: types.Buy, Price: decimal.NewFromInt(10), Quantity: decimal.NewFromInt(5), Timestamp: now}, decimal.NewFromInt(50), now)
	m.OnFill(types.Fill{Instrument: "MSFT", Strategy: "b", Side: types.Sell, Price: decimal.NewFromInt(20), Quantity: decimal.NewFromInt(3), Timestamp: now}, decimal.NewFromInt(-30), now)

	stats := m.PortfolioStats()
	require.True(t, stats.TotalPnL.Equal(decimal.NewFromInt(20)))
	require.Equal(t, 2, stats.ActivePositions)
}

func TestPortfolioExposureLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxPortfolioNotional = decimal.NewFromInt(1000)
	m := NewManager(limits)
	now := time.Now().UTC()

	// Existing exposure across two unrelated strategy/instrument pairs
	// already sits near the portfolio cap.
	m.OnFill(types.Fill{Instrument: "AAPL", Strategy: "a", Side: types.Buy, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(5), Timestamp: now}, decimal.Zero, now)
	m.OnFill(types.Fill{Instrument: "MSFT", Strategy: "b", Side: types.Buy, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(4), Timestamp: now}, decimal.Zero, now)

	o := order("c", now)
	o.Instrument = "GOOG"
	o.LimitPrice = decimal.NewFromInt(100)
	o.Quantity = decimal.NewFromInt(2)

	v := m.Check(o, now)
	require.NotNil(t, v, "a new order's notional pushing aggregate exposure past the portfolio cap must be rejected")
	require.Equal(t, types.ViolationExposure, v.Kind)
}

func TestStrategyOverrideLimits(t *testing.T) {
	m := NewManager(DefaultLimits())
	tight := DefaultLimits()
	tight.MaxOrderSize = decimal.NewFromInt(1)
	m.SetStrategyLimits("tight-strat", tight)

	o := order("tight-strat", time.Now().UTC())
	o.Quantity = decimal.NewFromInt(2)
	v := m.Check(o, o.Submitted)
	require.NotNil(t, v)

	o2 := order("other-strat", time.Now().UTC())
	o2.Quantity = decimal.NewFromInt(2)
	v = m.Check(o2, o2.Submitted)
	require.Nil(t, v, "override must not leak to other strategies")
}
