// Package strategy defines the callback interface a trading strategy
// implements and the context it uses to act on market data: emit signals,
// place orders, and read its own position and P&L. A strategy never holds a
// reference back to the engine; it only sees what Context exposes.
package strategy

import (
	"github.com/rbasarat/backtester/internal/clock"
	"github.com/rbasarat/backtester/internal/eventbus"
	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
)

// Strategy is the capability every strategy must implement: react to each
// tick of market data the engine replays, for every loaded instrument.
type Strategy interface {
	OnMarketData(ctx *Context, tick types.Tick)
}

// FillObserver is implemented by strategies that want to react to their own
// fills.
type FillObserver interface {
	OnFill(ctx *Context, fill types.Fill)
}

// RiskObserver is implemented by strategies that want to react to risk
// violations raised against their own orders.
type RiskObserver interface {
	OnRiskEvent(ctx *Context, kind types.RiskViolationKind, message string)
}

// TimerObserver is implemented by strategies that schedule and react to
// timer callbacks via Context.ScheduleTimer.
type TimerObserver interface {
	OnTimer(ctx *Context, label string)
}

// Lifecycle is implemented by strategies that need setup/teardown around a
// run.
type Lifecycle interface {
	OnStart(ctx *Context)
	OnStop(ctx *Context)
}

// Emitter is the subset of the execution handler a Context forwards signals
// and orders to. It is satisfied by *execution.Handler; defined here to
// avoid a strategy -> execution import cycle.
type Emitter interface {
	Signal(strategy types.StrategyID, instrument types.InstrumentID, kind types.SignalKind, strength types.Price, at types.Timestamp)
}

// Positions is the subset of position accounting a Context reads from,
// satisfied by *risk.Manager.
type Positions interface {
	Positions() map[types.StrategyID]map[types.InstrumentID]types.Position
	StrategyPnL(strategy types.StrategyID) types.Price
}

// TimerScheduler lets a Context schedule a future callback into itself,
// satisfied by *clock.SimClock.
type TimerScheduler interface {
	ScheduleAfter(delay types.Duration, cb clock.Callback)
}

// Publisher is the subset of *eventbus.Bus a Context uses to route its own
// scheduled timers back through the bus, the same way fills and risk events
// reach a strategy.
type Publisher interface {
	PublishSync(eventbus.Event)
}

// Context is the single object a strategy uses to interact with the rest of
// the system. It carries no reference to the engine itself, only to the
// narrow capabilities a strategy needs.
type Context struct {
	ID       types.StrategyID
	emitter  Emitter
	accounts Positions
	timers   TimerScheduler
	bus      Publisher
	now      types.Timestamp
}

// NewContext constructs a Context for strategy id, wiring in its emitter,
// position/P&L accessor, timer scheduler, and event bus.
func NewContext(id types.StrategyID, emitter Emitter, accounts Positions, timers TimerScheduler, bus Publisher) *Context {
	return &Context{ID: id, emitter: emitter, accounts: accounts, timers: timers, bus: bus}
}

// SetNow updates the context's view of the current simulation time. Called
// by the engine before dispatching each callback.
func (c *Context) SetNow(ts types.Timestamp) { c.now = ts }

// Now returns the current simulation time.
func (c *Context) Now() types.Timestamp { return c.now }

// Emit raises a trading signal of kind for instrument at the given
// strength (a value in [-1, 1] scaling conviction, interpreted by the
// execution handler's sizer).
func (c *Context) Emit(instrument types.InstrumentID, kind types.SignalKind, strength types.Price) {
	c.emitter.Signal(c.ID, instrument, kind, strength, c.now)
}

// Buy emits a full-strength buy signal for instrument.
func (c *Context) Buy(instrument types.InstrumentID) {
	c.Emit(instrument, types.SignalBuy, decimal.NewFromInt(1))
}

// Sell emits a full-strength sell signal for instrument.
func (c *Context) Sell(instrument types.InstrumentID) {
	c.Emit(instrument, types.SignalSell, decimal.NewFromInt(1))
}

// Close emits a close-position signal for instrument.
func (c *Context) Close(instrument types.InstrumentID) {
	c.Emit(instrument, types.SignalClose, decimal.NewFromInt(1))
}

// Position returns the strategy's current position in instrument.
func (c *Context) Position(instrument types.InstrumentID) types.Position {
	byInstrument, ok := c.accounts.Positions()[c.ID]
	if !ok {
		return types.Position{Strategy: c.ID, Instrument: instrument}
	}
	pos, ok := byInstrument[instrument]
	if !ok {
		return types.Position{Strategy: c.ID, Instrument: instrument}
	}
	return pos
}

// PnL returns the strategy's cumulative realized P&L.
func (c *Context) PnL() types.Price {
	return c.accounts.StrategyPnL(c.ID)
}

// ScheduleTimer schedules a TimerEvent labeled label to be published on the
// event bus after delay of simulation time; the engine delivers it only to
// this strategy, via OnTimer if the strategy implements TimerObserver.
func (c *Context) ScheduleTimer(delay types.Duration, label string) {
	c.timers.ScheduleAfter(delay, func(due types.Timestamp) {
		c.bus.PublishSync(eventbus.TimerEvent{Timestamp: due, Strategy: c.ID, Label: label})
	})
}
