package eventbus

import (
	"time"

	"github.com/rbasarat/backtester/types"
)

// EventKind is the closed set of event kinds the bus dispatches.
type EventKind string

const (
	KindMarket EventKind = "MARKET"
	KindSignal EventKind = "SIGNAL"
	KindOrder  EventKind = "ORDER"
	KindFill   EventKind = "FILL"
	KindRisk   EventKind = "RISK"
	KindTimer  EventKind = "TIMER"
)

// Event is satisfied by every event kind the bus carries.
type Event interface {
	Kind() EventKind
	Time() time.Time
}

// MarketEvent announces a tick becoming visible to strategies.
type MarketEvent struct {
	Timestamp time.Time
	Tick      types.Tick
}

func (MarketEvent) Kind() EventKind        { return KindMarket }
func (e MarketEvent) Time() time.Time      { return e.Timestamp }

// SignalEvent is a strategy's trading intent for one instrument.
type SignalEvent struct {
	Timestamp  time.Time
	Strategy   types.StrategyID
	Instrument types.InstrumentID
	Signal     types.SignalKind
	Strength   types.Price
}

func (SignalEvent) Kind() EventKind   { return KindSignal }
func (e SignalEvent) Time() time.Time { return e.Timestamp }

// OrderEvent carries an order through submission and routing.
type OrderEvent struct {
	Timestamp time.Time
	Order     types.Order
}

func (OrderEvent) Kind() EventKind   { return KindOrder }
func (e OrderEvent) Time() time.Time { return e.Timestamp }

// FillEvent announces an execution against an order.
type FillEvent struct {
	Timestamp time.Time
	Fill      types.Fill
}

func (FillEvent) Kind() EventKind   { return KindFill }
func (e FillEvent) Time() time.Time { return e.Timestamp }

// RiskEvent announces a pre-trade rejection or other risk condition.
type RiskEvent struct {
	Timestamp     time.Time
	Strategy      types.StrategyID
	ViolationKind types.RiskViolationKind
	Message       string
	Current       types.Price
	Limit         types.Price
}

func (RiskEvent) Kind() EventKind   { return KindRisk }
func (e RiskEvent) Time() time.Time { return e.Timestamp }

// TimerEvent is delivered when a strategy-requested timer fires.
type TimerEvent struct {
	Timestamp time.Time
	Strategy  types.StrategyID
	Label     string
}

func (TimerEvent) Kind() EventKind   { return KindTimer }
func (e TimerEvent) Time() time.Time { return e.Timestamp }
