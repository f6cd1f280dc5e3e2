// Package execution turns strategy signals into orders, gates them through
// risk, schedules their delivery to an order book after a fixed latency,
// and publishes the resulting fills with the cost model's commission set on
// each one; the cost model's slippage is counted only in the trade P&L handed
// to the risk manager, not in the fill. Grounded on the nested ExecutionHandler/OrderRouter classes in
// the reference engine, collapsed into a single component since Go has no
// need for the split the original used to keep translation-unit sizes down.
package execution

import (
	"sync/atomic"

	"github.com/rbasarat/backtester/internal/clock"
	"github.com/rbasarat/backtester/internal/costmodel"
	"github.com/rbasarat/backtester/internal/eventbus"
	"github.com/rbasarat/backtester/internal/orderbook"
	"github.com/rbasarat/backtester/internal/risk"
	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Scheduler is the subset of *clock.SimClock the handler needs to delay
// order delivery by a fixed latency.
type Scheduler interface {
	ScheduleAfter(delay types.Duration, cb clock.Callback)
}

// Handler wires signal intake, risk gating, latency-scheduled order
// delivery, and fill cost application into one component.
type Handler struct {
	bus      *eventbus.Bus
	riskMgr  *risk.Manager
	clock    Scheduler
	costs    *costmodel.Model
	ledger   *LedgerBook
	sizer    Sizer
	log      *zap.Logger

	orderLatency types.Duration
	exchange     types.ExchangeID

	books     map[types.InstrumentID]*orderbook.Book
	lastPrice map[types.InstrumentID]types.Price

	nextOrderID uint64
}

// Option configures a Handler at construction.
type Option func(*Handler)

// WithSizer overrides the default unit sizer.
func WithSizer(s Sizer) Option {
	return func(h *Handler) { h.sizer = s }
}

// WithExchange sets the exchange id used to resolve commission tables.
func WithExchange(id types.ExchangeID) Option {
	return func(h *Handler) { h.exchange = id }
}

// WithLogger overrides the handler's logger.
func WithLogger(log *zap.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// NewHandler constructs a Handler publishing through bus, gating through
// riskMgr, scheduling through clk with orderLatency delay, and pricing fills
// through costs.
func NewHandler(bus *eventbus.Bus, riskMgr *risk.Manager, clk Scheduler, costs *costmodel.Model, orderLatency types.Duration, opts ...Option) *Handler {
	h := &Handler{
		bus:          bus,
		riskMgr:      riskMgr,
		clock:        clk,
		costs:        costs,
		ledger:       NewLedgerBook(),
		sizer:        NewFixedSizer(decimal.NewFromInt(1)),
		log:          zap.NewNop(),
		orderLatency: orderLatency,
		exchange:     types.DefaultExchange,
		books:        make(map[types.InstrumentID]*orderbook.Book),
		lastPrice:    make(map[types.InstrumentID]types.Price),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetBook registers the order book an instrument's orders route to.
func (h *Handler) SetBook(instrument types.InstrumentID, book *orderbook.Book) {
	h.books[instrument] = book
}

// SetOrderLatency overrides the delay between an approved order and its
// delivery to the book. Takes effect on the next Signal call.
func (h *Handler) SetOrderLatency(latency types.Duration) {
	h.orderLatency = latency
}

// SetCostModel swaps the cost model used to price fills.
func (h *Handler) SetCostModel(costs *costmodel.Model) {
	h.costs = costs
}

// NoteMarketData updates the handler's last-seen price for instrument,
// used as the sizer's reference price and as the price behind the risk
// manager's notional-exposure check for the next order.
func (h *Handler) NoteMarketData(tick types.Tick) {
	h.lastPrice[tick.Instrument] = tick.LastPrice
}

// Signal converts a strategy's trading intent into an order: sizes it,
// gates it through the risk manager, and — if approved — schedules its
// delivery to the instrument's book after the configured order latency.
// Rejected orders publish a RiskEvent instead and never reach the book.
func (h *Handler) Signal(strategy types.StrategyID, instrument types.InstrumentID, kind types.SignalKind, strength types.Price, at types.Timestamp) {
	if kind == types.SignalHold {
		return
	}

	side := sideForSignal(kind)
	qty := h.sizer.Size(SizingContext{
		Strategy:       strategy,
		Instrument:     instrument,
		Side:           side,
		Strength:       strength,
		ReferencePrice: h.lastPrice[instrument],
	})

	if kind == types.SignalClose {
		closeSide, closeQty, ok := h.closingOrder(strategy, instrument, qty)
		if !ok {
			return
		}
		side, qty = closeSide, closeQty
	}
	if !qty.IsPositive() {
		return
	}

	order := types.Order{
		ID:         types.OrderID(atomic.AddUint64(&h.nextOrderID, 1)),
		Submitted:  at,
		Instrument: instrument,
		Strategy:   strategy,
		Side:       side,
		Type:       types.Market,
		LimitPrice: h.lastPrice[instrument], // reference price for the risk manager's notional-exposure check; ignored by market matching
		Quantity:   qty,
		Status:     types.OrderPending,
	}

	if violation := h.riskMgr.Check(order, at); violation != nil {
		h.bus.PublishSync(eventbus.RiskEvent{
			Timestamp:     at,
			Strategy:      strategy,
			ViolationKind: violation.Kind,
			Message:       violation.Message,
			Current:       violation.Current,
			Limit:         violation.Limit,
		})
		return
	}

	h.riskMgr.OnOrderSubmitted(order)
	h.bus.PublishSync(eventbus.OrderEvent{Timestamp: at, Order: order})

	h.clock.ScheduleAfter(h.orderLatency, func(due types.Timestamp) {
		h.routeOrder(order, due)
	})
}

// sideForSignal maps a signal kind to its default order side. Close's real
// side is resolved separately by closingOrder once the current position is
// known: covering a short means buying, closing a long means selling, which
// this placeholder (used only for sizing before that lookup) cannot know.
func sideForSignal(kind types.SignalKind) types.Side {
	switch kind {
	case types.SignalSell, types.SignalClose:
		return types.Sell
	default:
		return types.Buy
	}
}

// closingOrder resolves a Close signal to the order that flattens strategy's
// current position in instrument: Buy to cover a short, Sell to close a
// long, with quantity capped at the position's size. ok is false when there
// is no open position to close.
func (h *Handler) closingOrder(strategy types.StrategyID, instrument types.InstrumentID, requested types.Volume) (side types.Side, qty types.Volume, ok bool) {
	byInstrument, exists := h.riskMgr.Positions()[strategy]
	if !exists {
		return side, qty, false
	}
	pos, exists := byInstrument[instrument]
	if !exists || pos.IsFlat() {
		return side, qty, false
	}

	side = types.Sell
	if pos.Quantity.IsNegative() {
		side = types.Buy
	}

	size := pos.Quantity.Abs()
	qty = requested
	if qty.GreaterThan(size) {
		qty = size
	}
	return side, qty, true
}

// routeOrder delivers order to its instrument's book once the configured
// latency has elapsed, applies the cost model to each resulting fill, and
// publishes a FillEvent per fill.
func (h *Handler) routeOrder(order types.Order, due types.Timestamp) {
	book, ok := h.books[order.Instrument]
	if !ok {
		h.log.Warn("order routed with no book registered", zap.String("instrument", string(order.Instrument)))
		return
	}

	var fills []types.Fill
	switch order.Type {
	case types.Market:
		fills = book.MatchMarket(order, due)
	default:
		fills = book.MatchLimit(order, due)
	}

	for _, fill := range fills {
		cost := h.costs.CostOfFill(fill, h.exchange)
		fill.Commission = cost.Commission
		h.lastPrice[fill.Instrument] = fill.Price

		tradePnL := h.ledger.Apply(fill)
		h.riskMgr.OnFill(fill, tradePnL.Add(cost.Slippage).Sub(cost.Commission), due)

		h.bus.PublishSync(eventbus.FillEvent{Timestamp: due, Fill: fill})
	}
}
