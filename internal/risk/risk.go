// Package risk implements pre-trade risk gating and fill-time accounting:
// position/exposure/loss/rate limit groups, a rolling order-rate window, and
// cooldowns after a significant loss.
package risk

import (
	"time"

	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
)

// Limits configures one strategy's (or the global default's) risk gates.
// Each group is independently switchable.
type Limits struct {
	MaxPositionSize    types.Volume
	MaxOrderSize       types.Volume
	MaxNotionalPerPair types.Price
	MaxPortfolioNotional types.Price

	MaxDailyLoss   types.Price // negative
	MaxTotalLoss   types.Price // negative
	MaxDrawdownPct types.Price // negative fraction

	MaxOrdersPerMinute int
	MaxOrdersPerDay    int

	LossCooldown     time.Duration
	DrawdownCooldown time.Duration

	EnablePositionLimits bool
	EnableLossLimits     bool
	EnableExposureLimits bool
	EnableRateLimiting   bool
}

// DefaultLimits mirrors a conservative set of defaults: generous caps, all
// groups enabled.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSize:      decimal.NewFromInt(1_000_000),
		MaxOrderSize:         decimal.NewFromInt(10_000),
		MaxNotionalPerPair:   decimal.NewFromInt(10_000_000),
		MaxPortfolioNotional: decimal.NewFromInt(50_000_000),

		MaxDailyLoss:   decimal.NewFromInt(-10_000),
		MaxTotalLoss:   decimal.NewFromInt(-50_000),
		MaxDrawdownPct: decimal.NewFromFloat(-0.1),

		MaxOrdersPerMinute: 100,
		MaxOrdersPerDay:     10_000,

		LossCooldown:     30 * time.Minute,
		DrawdownCooldown: 60 * time.Minute,

		EnablePositionLimits: true,
		EnableLossLimits:     true,
		EnableExposureLimits: true,
		EnableRateLimiting:   true,
	}
}

// SignificantLossThreshold is the trade P&L below which a cooldown begins.
// Grounded on the source's hard-coded -1000.0 "significant loss" constant.
var SignificantLossThreshold = decimal.NewFromInt(-1000)

// Violation describes why a pre-trade check failed.
type Violation struct {
	Kind    types.RiskViolationKind
	Message string
	Current types.Price
	Limit   types.Price
}

type positionKey struct {
	strategy   types.StrategyID
	instrument types.InstrumentID
}

type rateLimitState struct {
	orderTimes  []time.Time // FIFO, oldest first
	dailyOrders int
}

type pnlState struct {
	dailyPnL     types.Price
	totalPnL     types.Price
	cooldownUntil time.Time
}

// Manager runs pre-trade checks and tracks the accounting they depend on:
// positions, exposures, rolling order rates, and per-strategy P&L.
type Manager struct {
	defaultLimits   Limits
	strategyLimits  map[types.StrategyID]Limits

	positions map[positionKey]types.Position
	exposures map[positionKey]types.Price

	rateLimits map[types.StrategyID]*rateLimitState
	pnl        map[types.StrategyID]*pnlState
}

// NewManager returns a Manager using limits as the global default.
func NewManager(limits Limits) *Manager {
	return &Manager{
		defaultLimits:  limits,
		strategyLimits: make(map[types.StrategyID]Limits),
		positions:      make(map[positionKey]types.Position),
		exposures:      make(map[positionKey]types.Price),
		rateLimits:     make(map[types.StrategyID]*rateLimitState),
		pnl:            make(map[types.StrategyID]*pnlState),
	}
}

// SetLimits replaces the global default limits.
func (m *Manager) SetLimits(limits Limits) {
	m.defaultLimits = limits
}

// SetStrategyLimits overrides limits for one strategy.
func (m *Manager) SetStrategyLimits(strategy types.StrategyID, limits Limits) {
	m.strategyLimits[strategy] = limits
}

func (m *Manager) limitsFor(strategy types.StrategyID) Limits {
	if l, ok := m.strategyLimits[strategy]; ok {
		return l
	}
	return m.defaultLimits
}

// Check runs every enabled risk group in order (order size, rate, position,
// exposure, loss/cooldown), returning the first violation found or nil if
// the order is approved. Check does not record the order or change any
// position or P&L; its only change to state is pruning rolling-window
// entries more than 60s older than the strategy's latest recorded order.
// Call OnOrderSubmitted after an approved order is actually sent.
func (m *Manager) Check(order types.Order, now time.Time) *Violation {
	limits := m.limitsFor(order.Strategy)

	if limits.EnablePositionLimits && order.Quantity.GreaterThan(limits.MaxOrderSize) {
		return &Violation{
			Kind:    types.ViolationOrderSize,
			Message: "order size exceeds maximum allowed",
			Current: order.Quantity,
			Limit:   limits.MaxOrderSize,
		}
	}

	if limits.EnableRateLimiting {
		if v := m.checkRate(order, limits, now); v != nil {
			return v
		}
	}

	if limits.EnablePositionLimits {
		if v := m.checkPosition(order, limits); v != nil {
			return v
		}
	}

	if limits.EnableExposureLimits {
		if v := m.checkExposure(order, limits); v != nil {
			return v
		}
	}

	if limits.EnableLossLimits {
		if v := m.checkLossAndCooldown(order, limits, now); v != nil {
			return v
		}
	}

	return nil
}

func (m *Manager) checkRate(order types.Order, limits Limits, now time.Time) *Violation {
	state := m.rateStateFor(order.Strategy)
	minuteAgo := now.Add(-time.Minute)

	active := 0
	for _, t := range state.orderTimes {
		if !t.Before(minuteAgo) {
			active++
		}
	}

	if active >= limits.MaxOrdersPerMinute {
		return &Violation{
			Kind:    types.ViolationRate,
			Message: "order rate limit exceeded",
			Current: decimal.NewFromInt(int64(active)),
			Limit:   decimal.NewFromInt(int64(limits.MaxOrdersPerMinute)),
		}
	}
	if state.dailyOrders >= limits.MaxOrdersPerDay {
		return &Violation{
			Kind:    types.ViolationRate,
			Message: "daily order limit exceeded",
			Current: decimal.NewFromInt(int64(state.dailyOrders)),
			Limit:   decimal.NewFromInt(int64(limits.MaxOrdersPerDay)),
		}
	}
	return nil
}

func (m *Manager) checkPosition(order types.Order, limits Limits) *Violation {
	key := positionKey{order.Strategy, order.Instrument}
	pos := m.positions[key]

	newQty := pos.Quantity
	if order.Side == types.Buy {
		newQty = newQty.Add(order.Quantity)
	} else {
		newQty = newQty.Sub(order.Quantity)
	}

	if newQty.Abs().GreaterThan(limits.MaxPositionSize) {
		return &Violation{
			Kind:    types.ViolationPosition,
			Message: "position size limit exceeded",
			Current: newQty.Abs(),
			Limit:   limits.MaxPositionSize,
		}
	}
	return nil
}

func (m *Manager) checkExposure(order types.Order, limits Limits) *Violation {
	notional := order.Quantity.Mul(order.LimitPrice)
	if notional.GreaterThan(limits.MaxNotionalPerPair) {
		return &Violation{
			Kind:    types.ViolationExposure,
			Message: "notional exposure limit exceeded",
			Current: notional,
			Limit:   limits.MaxNotionalPerPair,
		}
	}

	portfolioNotional := notional
	for _, exposure := range m.exposures {
		portfolioNotional = portfolioNotional.Add(exposure.Abs())
	}
	if portfolioNotional.GreaterThan(limits.MaxPortfolioNotional) {
		return &Violation{
			Kind:    types.ViolationExposure,
			Message: "portfolio notional exposure limit exceeded",
			Current: portfolioNotional,
			Limit:   limits.MaxPortfolioNotional,
		}
	}
	return nil
}

func (m *Manager) checkLossAndCooldown(order types.Order, limits Limits, now time.Time) *Violation {
	pnl := m.pnlStateFor(order.Strategy)

	if pnl.dailyPnL.LessThan(limits.MaxDailyLoss) {
		return &Violation{Kind: types.ViolationLoss, Message: "daily loss limit exceeded", Current: pnl.dailyPnL, Limit: limits.MaxDailyLoss}
	}
	if pnl.totalPnL.LessThan(limits.MaxTotalLoss) {
		return &Violation{Kind: types.ViolationLoss, Message: "total loss limit exceeded", Current: pnl.totalPnL, Limit: limits.MaxTotalLoss}
	}
	if pnl.cooldownUntil.After(now) {
		return &Violation{
			Kind:    types.ViolationCooldown,
			Message: "strategy in cooldown period",
			Current: decimal.Zero,
			Limit:   decimal.Zero,
		}
	}
	return nil
}

// OnOrderSubmitted records order's submission time in the rolling window
// and increments the strategy's daily order count.
func (m *Manager) OnOrderSubmitted(order types.Order) {
	limits := m.limitsFor(order.Strategy)
	if !limits.EnableRateLimiting {
		return
	}
	state := m.rateStateFor(order.Strategy)
	state.orderTimes = append(state.orderTimes, order.Submitted)
	state.dailyOrders++
}

// OnFill updates position and exposure, adds tradePnL (the P&L of this fill
// as computed by the caller) to the position's realized P&L and to the
// strategy's daily/total P&L, and starts a cooldown if tradePnL falls below
// SignificantLossThreshold.
func (m *Manager) OnFill(fill types.Fill, tradePnL types.Price, now time.Time) {
	key := positionKey{fill.Strategy, fill.Instrument}
	pos := m.positions[key]
	pos.Strategy, pos.Instrument = fill.Strategy, fill.Instrument
	pos.AvgPrice = nextAvgPrice(pos, fill)

	if fill.Side == types.Buy {
		pos.Quantity = pos.Quantity.Add(fill.Quantity)
	} else {
		pos.Quantity = pos.Quantity.Sub(fill.Quantity)
	}
	pos.RealizedPnL = pos.RealizedPnL.Add(tradePnL)
	m.positions[key] = pos

	exposure := m.exposures[key]
	m.exposures[key] = exposure.Add(fill.Quantity.Mul(fill.Price))

	pnl := m.pnlStateFor(fill.Strategy)
	pnl.dailyPnL = pnl.dailyPnL.Add(tradePnL)
	pnl.totalPnL = pnl.totalPnL.Add(tradePnL)

	limits := m.limitsFor(fill.Strategy)
	if limits.EnableLossLimits && tradePnL.LessThan(SignificantLossThreshold) {
		pnl.cooldownUntil = now.Add(limits.LossCooldown)
	}
}

// nextAvgPrice returns pos's weighted-average entry price after fill is
// applied: unchanged when fill only reduces the open position, a size-
// weighted blend when fill adds to it on the same side, and reset to
// fill.Price when fill flips the position to the opposite side.
func nextAvgPrice(pos types.Position, fill types.Fill) types.Price {
	openQty := pos.Quantity.Abs()
	if openQty.IsZero() {
		return fill.Price
	}

	sameSide := (pos.Quantity.IsPositive() && fill.Side == types.Buy) ||
		(pos.Quantity.IsNegative() && fill.Side == types.Sell)

	if sameSide {
		totalQty := openQty.Add(fill.Quantity)
		weighted := pos.AvgPrice.Mul(openQty).Add(fill.Price.Mul(fill.Quantity))
		return weighted.Div(totalQty)
	}

	if fill.Quantity.GreaterThan(openQty) {
		return fill.Price
	}
	return pos.AvgPrice
}

// ResetDaily clears per-day counters and P&L, leaving cumulative totals and
// any active cooldown intact.
func (m *Manager) ResetDaily() {
	for _, state := range m.rateLimits {
		state.orderTimes = nil
		state.dailyOrders = 0
	}
	for _, pnl := range m.pnl {
		pnl.dailyPnL = decimal.Zero
	}
}

// Positions returns a snapshot of every tracked position.
func (m *Manager) Positions() map[types.StrategyID]map[types.InstrumentID]types.Position {
	out := make(map[types.StrategyID]map[types.InstrumentID]types.Position)
	for key, pos := range m.positions {
		if out[key.strategy] == nil {
			out[key.strategy] = make(map[types.InstrumentID]types.Position)
		}
		out[key.strategy][key.instrument] = pos
	}
	return out
}

// StrategyPnL returns strategy's cumulative total P&L.
func (m *Manager) StrategyPnL(strategy types.StrategyID) types.Price {
	if pnl, ok := m.pnl[strategy]; ok {
		return pnl.totalPnL
	}
	return decimal.Zero
}

// PortfolioStats summarizes aggregate risk exposure across every tracked
// strategy.
type PortfolioStats struct {
	TotalPnL        types.Price
	TotalExposure   types.Price
	ActivePositions int
}

// PortfolioStats computes a fresh summary from current state.
func (m *Manager) PortfolioStats() PortfolioStats {
	stats := PortfolioStats{TotalPnL: decimal.Zero, TotalExposure: decimal.Zero}
	for _, pnl := range m.pnl {
		stats.TotalPnL = stats.TotalPnL.Add(pnl.totalPnL)
	}
	for _, exposure := range m.exposures {
		stats.TotalExposure = stats.TotalExposure.Add(exposure.Abs())
	}
	for _, pos := range m.positions {
		if !pos.Quantity.IsZero() {
			stats.ActivePositions++
		}
	}
	return stats
}

func (m *Manager) rateStateFor(strategy types.StrategyID) *rateLimitState {
	state, ok := m.rateLimits[strategy]
	if !ok {
		state = &rateLimitState{}
		m.rateLimits[strategy] = state
	}
	// Evict timestamps older than 60s relative to the most recently seen
	// order time, keeping the window's memory bounded across a long run.
	if len(state.orderTimes) > 0 {
		cutoff := state.orderTimes[len(state.orderTimes)-1].Add(-time.Minute)
		i := 0
		for i < len(state.orderTimes) && state.orderTimes[i].Before(cutoff) {
			i++
		}
		state.orderTimes = state.orderTimes[i:]
	}
	return state
}

func (m *Manager) pnlStateFor(strategy types.StrategyID) *pnlState {
	state, ok := m.pnl[strategy]
	if !ok {
		state = &pnlState{dailyPnL: decimal.Zero, totalPnL: decimal.Zero}
		m.pnl[strategy] = state
	}
	return state
}
