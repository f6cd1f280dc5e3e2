// Package clock implements the deterministic simulation clock: monotonic
// simulated time plus a min-heap of callbacks due at or before the current
// time.
package clock

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClockRewind is returned by AdvanceTo when asked to move time backward.
var ErrClockRewind = errors.New("clock: advance_to received a time before now")

// Callback is invoked when its scheduled time has arrived. It runs outside
// any lock the clock holds internally, so it may safely call Schedule or
// AdvanceTo again (reentrant scheduling from within a callback).
type Callback func(due time.Time)

// scheduledEvent pairs a due time with a callback. seq breaks ties between
// events scheduled for the same due time in insertion order, since Go's
// container/heap gives no ordering guarantee among equal keys.
type scheduledEvent struct {
	due      time.Time
	seq      uint64
	callback Callback
}

type eventHeap []*scheduledEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*scheduledEvent)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// SimClock is the single source of simulated time for one engine run. It is
// driven single-threaded by the engine loop; the mutex exists only so a
// callback may call Schedule/AdvanceTo reentrantly, not to support
// concurrent callers from multiple goroutines.
type SimClock struct {
	mu      sync.Mutex
	now     time.Time
	heap    eventHeap
	nextSeq uint64
	log     *zap.Logger
}

// Option configures a SimClock at construction.
type Option func(*SimClock)

// WithLogger overrides the clock's nop default logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *SimClock) { c.log = log }
}

// New returns a clock initialized to start.
func New(start time.Time, opts ...Option) *SimClock {
	c := &SimClock{now: start, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	heap.Init(&c.heap)
	return c
}

// Now returns the current simulated time.
func (c *SimClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Schedule pushes a callback due at t. t before Now() is allowed; the
// callback then fires on the next AdvanceTo/AdvanceBy call rather than
// rewinding the clock.
func (c *SimClock) Schedule(t time.Time, cb Callback) {
	c.mu.Lock()
	c.nextSeq++
	heap.Push(&c.heap, &scheduledEvent{due: t, seq: c.nextSeq, callback: cb})
	c.mu.Unlock()
}

// ScheduleAfter schedules cb to fire delay after Now().
func (c *SimClock) ScheduleAfter(delay time.Duration, cb Callback) {
	c.Schedule(c.Now().Add(delay), cb)
}

// AdvanceTo sets the clock to t and fires every due callback in (due, seq)
// order. Callbacks run outside the internal lock: the lock is released
// before each invocation and re-acquired only to pop the next due event, so
// a callback that schedules more work or re-enters AdvanceTo never
// deadlocks on the heap mutex.
func (c *SimClock) AdvanceTo(t time.Time) error {
	c.mu.Lock()
	if t.Before(c.now) {
		c.mu.Unlock()
		return fmt.Errorf("%w: now=%s requested=%s", ErrClockRewind, c.now, t)
	}
	c.now = t
	c.mu.Unlock()

	for {
		cb, due, ok := c.popDue(t)
		if !ok {
			return nil
		}
		c.invoke(cb, due)
	}
}

// invoke runs cb, recovering and logging a panic rather than letting it
// abort the run, matching how the event bus isolates a panicking subscriber.
func (c *SimClock) invoke(cb Callback, due time.Time) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("clock: scheduled callback panicked", zap.Any("recovered", r))
		}
	}()
	cb(due)
}

// popDue pops and returns the earliest scheduled event if its due time is
// at or before limit.
func (c *SimClock) popDue(limit time.Time) (Callback, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heap.Len() == 0 {
		return nil, time.Time{}, false
	}
	if c.heap[0].due.After(limit) {
		return nil, time.Time{}, false
	}
	ev := heap.Pop(&c.heap).(*scheduledEvent)
	return ev.callback, ev.due, true
}

// AdvanceBy is equivalent to AdvanceTo(Now() + d).
func (c *SimClock) AdvanceBy(d time.Duration) error {
	return c.AdvanceTo(c.Now().Add(d))
}

// Reset clears all scheduled events and sets the clock to t.
func (c *SimClock) Reset(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heap = nil
	heap.Init(&c.heap)
	c.now = t
}

// NextEventTime returns the earliest due time still pending, if any.
func (c *SimClock) NextEventTime() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heap.Len() == 0 {
		return time.Time{}, false
	}
	return c.heap[0].due, true
}

// HasPendingEvents reports whether any scheduled event remains.
func (c *SimClock) HasPendingEvents() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heap.Len() > 0
}
