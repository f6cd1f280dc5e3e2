// Package engine wires the tick store, simulation clock, event bus, risk
// manager, cost model, order books, and registered strategies into a single
// runnable backtest, and aggregates the fills it produces into
// BacktestResults.
package engine

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/rbasarat/backtester/internal/clock"
	"github.com/rbasarat/backtester/internal/costmodel"
	"github.com/rbasarat/backtester/internal/eventbus"
	"github.com/rbasarat/backtester/internal/execution"
	"github.com/rbasarat/backtester/internal/orderbook"
	"github.com/rbasarat/backtester/internal/risk"
	"github.com/rbasarat/backtester/internal/ticks"
	"github.com/rbasarat/backtester/strategy"
	"github.com/rbasarat/backtester/types"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

type registration struct {
	id  types.StrategyID
	s   strategy.Strategy
	ctx *strategy.Context
}

// Engine owns one backtest run's components and drives its tick-by-tick
// simulation loop.
type Engine struct {
	cfg Config
	log *zap.Logger

	store   *ticks.Store
	clock   *clock.SimClock
	bus     *eventbus.Bus
	riskMgr *risk.Manager
	costs   *costmodel.Model
	exec    *execution.Handler

	books map[types.InstrumentID]*orderbook.Book

	strategies []registration

	ledger *execution.LedgerBook
	trades []Trade
	equity []EquityPoint

	stats EngineStats

	runMu     sync.Mutex
	pauseCond *sync.Cond
	running   bool
	paused    bool
	stopped   bool

	progressCallback func(fraction float64)
	updateCallback   func(*BacktestResults)
}

// New constructs an Engine from cfg and costs. The tick store and strategies
// are populated via AddTicks/RegisterStrategy before calling Run.
func New(cfg Config, costs *costmodel.Model) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	start := time.Unix(0, 0).UTC()
	bus := eventbus.New(eventbus.WithLogger(cfg.Logger), eventbus.WithQueueCapacity(nonZero(cfg.EventQueueCapacity, 4096)))
	simClock := clock.New(start, clock.WithLogger(cfg.Logger))
	riskMgr := risk.NewManager(cfg.RiskLimits)
	exec := execution.NewHandler(bus, riskMgr, simClock, costs, cfg.OrderLatency, execution.WithLogger(cfg.Logger))

	e := &Engine{
		cfg:     cfg,
		log:     cfg.Logger,
		store:   ticks.New(),
		clock:   simClock,
		bus:     bus,
		riskMgr: riskMgr,
		costs:   costs,
		exec:    exec,
		books:   make(map[types.InstrumentID]*orderbook.Book),
		ledger:  execution.NewLedgerBook(),
	}

	eventbus.Subscribe(bus, e.onMarketEvent)
	eventbus.Subscribe(bus, e.onFillEvent)
	eventbus.Subscribe(bus, e.onRiskEvent)
	eventbus.Subscribe(bus, e.onTimerEvent)

	e.pauseCond = sync.NewCond(&e.runMu)

	return e
}

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// AddTicks registers tick data for instrument and creates its order book if
// absent.
func (e *Engine) AddTicks(instrument types.InstrumentID, tickData []types.Tick) {
	e.store.AppendBatch(instrument, tickData)
	e.ensureBook(instrument)
}

func (e *Engine) ensureBook(instrument types.InstrumentID) *orderbook.Book {
	book, ok := e.books[instrument]
	if !ok {
		book = orderbook.New(instrument, e.cfg.MatchingAlgorithm)
		e.books[instrument] = book
		e.exec.SetBook(instrument, book)
	}
	return book
}

// Book returns instrument's order book, creating it if AddTicks hasn't been
// called for it yet. Exposed so callers can seed standing liquidity before
// Run, since the engine itself never manufactures a counterparty for a
// strategy's orders.
func (e *Engine) Book(instrument types.InstrumentID) *orderbook.Book {
	return e.ensureBook(instrument)
}

// SetAvgDailyVolume forwards to the engine's cost model.
func (e *Engine) SetAvgDailyVolume(instrument types.InstrumentID, volume types.Price) {
	e.costs.SetAvgDailyVolume(instrument, volume)
}

// SetStrategyRiskLimits overrides risk limits for one strategy.
func (e *Engine) SetStrategyRiskLimits(id types.StrategyID, limits risk.Limits) {
	e.riskMgr.SetStrategyLimits(id, limits)
}

// SetRiskLimits replaces the global default risk limits every strategy is
// gated by unless given a per-strategy override.
func (e *Engine) SetRiskLimits(limits risk.Limits) {
	e.cfg.RiskLimits = limits
	e.riskMgr.SetLimits(limits)
}

// ConfigureLatency sets the two simulated delays the engine models:
// marketDataLatency between a tick arriving and strategies observing it, and
// orderLatency between an approved order and its delivery to the book. A
// zero marketDataLatency dispatches MarketEvent synchronously on the tick
// that produced it, matching the engine's default behavior.
func (e *Engine) ConfigureLatency(marketDataLatency, orderLatency time.Duration) {
	e.cfg.MarketDataLatency = marketDataLatency
	e.cfg.OrderLatency = orderLatency
	e.exec.SetOrderLatency(orderLatency)
}

// SetCostModel swaps the cost model used to price fills and compute
// commission/slippage for the rest of the run.
func (e *Engine) SetCostModel(costs *costmodel.Model) {
	e.costs = costs
	e.exec.SetCostModel(costs)
}

// SetProgressCallback registers cb to be invoked after each processed tick
// with the run's completion fraction in [0, 1].
func (e *Engine) SetProgressCallback(cb func(fraction float64)) {
	e.progressCallback = cb
}

// SetUpdateCallback registers cb to be invoked after each processed tick
// with a snapshot of results computed from the trades and equity samples
// booked so far.
func (e *Engine) SetUpdateCallback(cb func(*BacktestResults)) {
	e.updateCallback = cb
}

// RegisterStrategy wires s into the event bus under id, giving it a Context
// backed by this engine's execution handler, risk manager, and clock.
func (e *Engine) RegisterStrategy(id types.StrategyID, s strategy.Strategy) {
	ctx := strategy.NewContext(id, e.exec, e.riskMgr, e.clock, e.bus)
	e.strategies = append(e.strategies, registration{id: id, s: s, ctx: ctx})
}

// Run executes the full loaded tick history in one pass and returns the
// aggregated results. showProgress draws a progress bar over the tick
// count, matching the reference engine's per-minute bar.
func (e *Engine) Run(showProgress bool) (*BacktestResults, error) {
	return e.RunRange(showProgress, time.Time{}, time.Time{})
}

// RunRange executes the loaded tick history restricted to [start, end] and
// returns the aggregated results. A zero start or end leaves that bound
// open. The run may be paused, resumed, or stopped from another goroutine
// via Pause/Resume/Stop while it is in progress.
func (e *Engine) RunRange(showProgress bool, start, end time.Time) (*BacktestResults, error) {
	merged := e.mergeTicksByTime()
	if !start.IsZero() || !end.IsZero() {
		merged = filterTicksByRange(merged, start, end)
	}
	if len(merged) == 0 {
		return nil, fmt.Errorf("engine: no ticks loaded")
	}

	e.runMu.Lock()
	e.running = true
	e.runMu.Unlock()
	defer func() {
		e.runMu.Lock()
		e.running = false
		e.stopped = false
		e.runMu.Unlock()
	}()

	for _, reg := range e.strategies {
		if lifecycle, ok := reg.s.(strategy.Lifecycle); ok {
			reg.ctx.SetNow(merged[0].Timestamp)
			lifecycle.OnStart(reg.ctx)
		}
	}

	var bar *progressbar.ProgressBar
	if showProgress {
		bar = initProgressBar(len(merged))
	}

	lastProcessed := merged[0].Timestamp
	for i, tick := range merged {
		if e.waitWhilePaused() {
			break
		}

		if err := e.clock.AdvanceTo(tick.Timestamp); err != nil {
			return nil, fmt.Errorf("engine: advancing clock: %w", err)
		}
		e.exec.NoteMarketData(tick)
		e.dispatchMarketEvent(tick)
		e.bus.ProcessPending()
		e.stats.TicksProcessed++
		e.recordEquitySample(tick.Timestamp)
		lastProcessed = tick.Timestamp
		if bar != nil {
			bar.Add(1)
		}
		if e.progressCallback != nil {
			e.progressCallback(float64(i+1) / float64(len(merged)))
		}
		if e.updateCallback != nil {
			e.updateCallback(computeResults(merged[0].Timestamp, lastProcessed, e.trades, e.equity, e.cfg.SharpeRiskFreeRate))
		}
	}

	// Advance once to the earliest still-pending scheduled event (e.g. order
	// latency on the final tick) and fire everything due by then. Events
	// due later than that time are not run.
	if next, ok := e.clock.NextEventTime(); ok {
		if err := e.clock.AdvanceTo(next); err != nil {
			return nil, fmt.Errorf("engine: draining residual events: %w", err)
		}
		e.bus.ProcessPending()
	}

	for _, reg := range e.strategies {
		if lifecycle, ok := reg.s.(strategy.Lifecycle); ok {
			lifecycle.OnStop(reg.ctx)
		}
	}

	sortTradesByTime(e.trades)
	return computeResults(merged[0].Timestamp, lastProcessed, e.trades, e.equity, e.cfg.SharpeRiskFreeRate), nil
}

// dispatchMarketEvent publishes tick's MarketEvent immediately when no
// market-data latency is configured (the default), or schedules it to fire
// after MarketDataLatency otherwise. Scheduling unconditionally would add a
// full tick of lag even at zero latency, since a zero-delay ScheduleAfter
// call only fires on the clock's next AdvanceTo.
func (e *Engine) dispatchMarketEvent(tick types.Tick) {
	if e.cfg.MarketDataLatency <= 0 {
		e.bus.PublishSync(eventbus.MarketEvent{Timestamp: tick.Timestamp, Tick: tick})
		return
	}
	e.clock.ScheduleAfter(e.cfg.MarketDataLatency, func(due types.Timestamp) {
		e.bus.PublishSync(eventbus.MarketEvent{Timestamp: due, Tick: tick})
	})
}

// waitWhilePaused blocks the run loop while paused is set, waking on Resume
// or Stop. It returns true when the run should stop immediately.
func (e *Engine) waitWhilePaused() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	for e.paused && !e.stopped {
		e.pauseCond.Wait()
	}
	return e.stopped
}

// Pause suspends the run loop before its next tick. Safe to call from
// another goroutine while RunRange is executing.
func (e *Engine) Pause() {
	e.runMu.Lock()
	e.paused = true
	e.runMu.Unlock()
}

// Resume wakes a paused run loop.
func (e *Engine) Resume() {
	e.runMu.Lock()
	e.paused = false
	e.runMu.Unlock()
	e.pauseCond.Broadcast()
}

// Stop asks the run loop to end after its current tick, even if paused.
// RunRange returns normally, reporting results truncated to the last tick
// actually processed. A Stop issued before RunRange makes that run end
// before its first tick; the flag is cleared when RunRange returns.
func (e *Engine) Stop() {
	e.runMu.Lock()
	e.stopped = true
	e.paused = false
	e.runMu.Unlock()
	e.pauseCond.Broadcast()
}

// IsRunning reports whether RunRange is currently executing.
func (e *Engine) IsRunning() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

// Stats returns operational counters for the run completed so far.
func (e *Engine) Stats() EngineStats {
	return e.stats
}

// filterTicksByRange returns the subsequence of merged with timestamps in
// [start, end], treating a zero start or end as an open bound.
func filterTicksByRange(merged []types.Tick, start, end time.Time) []types.Tick {
	out := make([]types.Tick, 0, len(merged))
	for _, tick := range merged {
		if !start.IsZero() && tick.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && tick.Timestamp.After(end) {
			continue
		}
		out = append(out, tick)
	}
	return out
}

func (e *Engine) onMarketEvent(evt eventbus.MarketEvent) {
	for _, reg := range e.strategies {
		reg.ctx.SetNow(evt.Timestamp)
		reg.s.OnMarketData(reg.ctx, evt.Tick)
	}
}

func (e *Engine) onFillEvent(evt eventbus.FillEvent) {
	e.stats.FillsExecuted++
	realized := e.ledger.Apply(evt.Fill)
	e.trades = append(e.trades, Trade{
		Strategy:    evt.Fill.Strategy,
		Instrument:  evt.Fill.Instrument,
		Side:        evt.Fill.Side,
		Price:       evt.Fill.Price,
		Quantity:    evt.Fill.Quantity,
		Commission:  evt.Fill.Commission,
		Time:        evt.Fill.Timestamp,
		RealizedPnL: realized.Sub(evt.Fill.Commission),
	})

	for _, reg := range e.strategies {
		if reg.id != evt.Fill.Strategy {
			continue
		}
		if observer, ok := reg.s.(strategy.FillObserver); ok {
			reg.ctx.SetNow(evt.Timestamp)
			observer.OnFill(reg.ctx, evt.Fill)
		}
	}
}

func (e *Engine) onRiskEvent(evt eventbus.RiskEvent) {
	e.stats.OrdersRejected++
	for _, reg := range e.strategies {
		if reg.id != evt.Strategy {
			continue
		}
		if observer, ok := reg.s.(strategy.RiskObserver); ok {
			reg.ctx.SetNow(evt.Timestamp)
			observer.OnRiskEvent(reg.ctx, evt.ViolationKind, evt.Message)
		}
	}
}

func (e *Engine) onTimerEvent(evt eventbus.TimerEvent) {
	for _, reg := range e.strategies {
		if reg.id != evt.Strategy {
			continue
		}
		if observer, ok := reg.s.(strategy.TimerObserver); ok {
			reg.ctx.SetNow(evt.Timestamp)
			observer.OnTimer(reg.ctx, evt.Label)
		}
	}
}

// recordEquitySample appends one equity-curve point: cash is not modeled
// separately, so equity is the sum of realized P&L booked so far plus the
// mark-to-market of every open position at its book's mid price. A position
// whose book lacks a bid or an ask is left out of the sample.
func (e *Engine) recordEquitySample(at types.Timestamp) {
	total := types.Price{}
	for _, tr := range e.trades {
		total = total.Add(tr.RealizedPnL)
	}
	for _, byInstrument := range e.riskMgr.Positions() {
		for instrument, pos := range byInstrument {
			if pos.IsFlat() {
				continue
			}
			if book, ok := e.books[instrument]; ok {
				if mid, ok := book.MidPrice(); ok {
					total = total.Add(pos.MarkToMarket(mid))
				}
			}
		}
	}
	e.equity = append(e.equity, EquityPoint{Time: at, Value: total})
}

// tickCursor walks one instrument's sorted tick series during the k-way
// merge below.
type tickCursor struct {
	instrument types.InstrumentID
	ticks      []types.Tick
	index      int
}

// cursorHeap orders tickCursors by their current tick's timestamp, breaking
// ties by instrument id so the merged sequence is deterministic.
type cursorHeap []*tickCursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	a, b := h[i].ticks[h[i].index], h[j].ticks[h[j].index]
	if a.Timestamp.Equal(b.Timestamp) {
		return h[i].instrument < h[j].instrument
	}
	return a.Timestamp.Before(b.Timestamp)
}
func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)   { *h = append(*h, x.(*tickCursor)) }
func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// mergeTicksByTime performs a k-way merge of every instrument's sorted tick
// series into one global chronological sequence, breaking ties between
// equal timestamps by instrument id so the ordering is deterministic.
func (e *Engine) mergeTicksByTime() []types.Tick {
	e.store.SortByTime()
	all := e.store.AllTicks()

	h := &cursorHeap{}
	for instrument, series := range all {
		if len(series) == 0 {
			continue
		}
		heap.Push(h, &tickCursor{instrument: instrument, ticks: series})
	}

	var out []types.Tick
	for h.Len() > 0 {
		c := heap.Pop(h).(*tickCursor)
		out = append(out, c.ticks[c.index])
		c.index++
		if c.index < len(c.ticks) {
			heap.Push(h, c)
		}
	}
	return out
}

func initProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetDescription("Backtesting in progress..."),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}
