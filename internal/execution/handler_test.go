package execution

import (
	"testing"
	"time"

	"github.com/rbasarat/backtester/internal/clock"
	"github.com/rbasarat/backtester/internal/costmodel"
	"github.com/rbasarat/backtester/internal/eventbus"
	"github.com/rbasarat/backtester/internal/orderbook"
	"github.com/rbasarat/backtester/internal/risk"
	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSignal_ApprovedOrder_FillsAfterLatency(t *testing.T) {
	bus := eventbus.New()
	riskMgr := risk.NewManager(risk.DefaultLimits())
	start := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	clk := clock.New(start)
	costs := costmodel.New()

	book := orderbook.New("AAPL", types.PriceTime)
	book.Add(types.Order{ID: 1, Instrument: "AAPL", Side: types.Sell, Type: types.Limit, LimitPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(50)})

	latency := 2 * time.Second
	h := NewHandler(bus, riskMgr, clk, costs, latency)
	h.SetBook("AAPL", book)

	var got []types.Fill
	eventbus.Subscribe(bus, func(e eventbus.FillEvent) {
		got = append(got, e.Fill)
	})

	h.Signal("strat", "AAPL", types.SignalBuy, decimal.NewFromInt(1), clk.Now())
	require.Empty(t, got, "fill must not happen before latency elapses")

	require.NoError(t, clk.AdvanceBy(latency))
	require.Len(t, got, 1)
	require.True(t, got[0].Price.Equal(decimal.NewFromInt(100)))
	require.True(t, got[0].Commission.GreaterThanOrEqual(decimal.Zero))
}

func TestSignal_RejectedByRisk_PublishesRiskEventNoFill(t *testing.T) {
	bus := eventbus.New()
	limits := risk.DefaultLimits()
	limits.MaxOrderSize = decimal.NewFromInt(0)
	riskMgr := risk.NewManager(limits)
	clk := clock.New(time.Now().UTC())
	costs := costmodel.New()

	book := orderbook.New("AAPL", types.PriceTime)
	h := NewHandler(bus, riskMgr, clk, costs, time.Second)
	h.SetBook("AAPL", book)

	var riskEvents []eventbus.RiskEvent
	eventbus.Subscribe(bus, func(e eventbus.RiskEvent) { riskEvents = append(riskEvents, e) })
	var fills []eventbus.FillEvent
	eventbus.Subscribe(bus, func(e eventbus.FillEvent) { fills = append(fills, e) })

	h.Signal("strat", "AAPL", types.SignalBuy, decimal.NewFromInt(1), clk.Now())
	require.NoError(t, clk.AdvanceBy(time.Second))

	require.Len(t, riskEvents, 1)
	require.Empty(t, fills)
}

func TestSignal_Close_FlattensExistingPositionOnly(t *testing.T) {
	bus := eventbus.New()
	riskMgr := risk.NewManager(risk.DefaultLimits())
	clk := clock.New(time.Now().UTC())
	costs := costmodel.New()

	book := orderbook.New("AAPL", types.PriceTime)
	h := NewHandler(bus, riskMgr, clk, costs, 0, WithSizer(NewFixedSizer(decimal.NewFromInt(10))))
	h.SetBook("AAPL", book)

	// No position yet: Close must be a no-op.
	var orders []eventbus.OrderEvent
	eventbus.Subscribe(bus, func(e eventbus.OrderEvent) { orders = append(orders, e) })
	h.Signal("strat", "AAPL", types.SignalClose, decimal.NewFromInt(1), clk.Now())
	require.NoError(t, clk.AdvanceBy(0))
	require.Empty(t, orders, "closing with no open position must not submit an order")
}

func TestSignal_Close_CoversShortPositionWithBuy(t *testing.T) {
	bus := eventbus.New()
	riskMgr := risk.NewManager(risk.DefaultLimits())
	clk := clock.New(time.Now().UTC())
	costs := costmodel.New()

	book := orderbook.New("AAPL", types.PriceTime)
	h := NewHandler(bus, riskMgr, clk, costs, 0, WithSizer(NewFixedSizer(decimal.NewFromInt(10))))
	h.SetBook("AAPL", book)
	h.NoteMarketData(types.Tick{Instrument: "AAPL", LastPrice: decimal.NewFromInt(100), Timestamp: clk.Now()})

	riskMgr.OnFill(types.Fill{
		Strategy:   "strat",
		Instrument: "AAPL",
		Side:       types.Sell,
		Price:      decimal.NewFromInt(100),
		Quantity:   decimal.NewFromInt(10),
		Timestamp:  clk.Now(),
	}, decimal.Zero, clk.Now())

	var orders []eventbus.OrderEvent
	eventbus.Subscribe(bus, func(e eventbus.OrderEvent) { orders = append(orders, e) })
	h.Signal("strat", "AAPL", types.SignalClose, decimal.NewFromInt(1), clk.Now())
	require.NoError(t, clk.AdvanceBy(0))

	require.Len(t, orders, 1, "closing a short position must submit an order")
	require.Equal(t, types.Buy, orders[0].Order.Side, "covering a short must buy, not sell")
	require.True(t, orders[0].Order.Quantity.Equal(decimal.NewFromInt(10)))
}
