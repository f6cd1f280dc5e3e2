package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrQueueClosed is returned by Publish once Stop has been called.
var ErrQueueClosed = errors.New("eventbus: queue closed")

// SubscriptionHandle is returned by Subscribe/SubscribeAll and used to
// Unsubscribe later.
type SubscriptionHandle uint64

type subscriber struct {
	handle  SubscriptionHandle
	handler func(Event)
}

// Bus is a typed publish/subscribe event bus. Subscribers register either
// for one event kind (Subscribe) or for every event (SubscribeAll); each
// registration returns an opaque handle used to Unsubscribe. Publication is
// synchronous by default (PublishSync); an optional worker goroutine drains
// an internal bounded queue for asynchronous publication (Publish/Start),
// grounded on the same bounded-channel-plus-atomic-closed-flag shape used
// for the in-memory queue elsewhere in the corpus, adapted here to a
// per-kind subscriber table instead of a single consumer.
type Bus struct {
	log *zap.Logger

	mu          sync.RWMutex
	byKind      map[EventKind][]subscriber
	all         []subscriber
	handleKind  map[SubscriptionHandle]EventKind
	nextHandle  uint64

	queue  chan Event
	closed uint32
	wg     sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger overrides the nop default logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// WithQueueCapacity sets the bounded async queue's capacity (default 1024).
func WithQueueCapacity(n int) Option {
	return func(b *Bus) {
		if n <= 0 {
			n = 1
		}
		b.queue = make(chan Event, n)
	}
}

// New returns a ready-to-use Bus. The async worker is not started; call
// Start to enable it, or use PublishSync/ProcessPending without it.
func New(opts ...Option) *Bus {
	b := &Bus{
		log:        zap.NewNop(),
		byKind:     make(map[EventKind][]subscriber),
		handleKind: make(map[SubscriptionHandle]EventKind),
		queue:      make(chan Event, 1024),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for events of exactly the kind T reports via
// its Kind() method. The type parameter lets call sites register a
// strongly-typed callback without a manual type switch at every call site.
func Subscribe[T Event](b *Bus, handler func(T)) SubscriptionHandle {
	var zero T
	kind := zero.Kind()

	wrapped := func(e Event) {
		if typed, ok := e.(T); ok {
			handler(typed)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextHandle++
	h := SubscriptionHandle(b.nextHandle)
	b.byKind[kind] = append(b.byKind[kind], subscriber{handle: h, handler: wrapped})
	b.handleKind[h] = kind
	return h
}

// kindAll is a sentinel used only as a handleKind entry for all-event
// subscriptions; it never matches a real EventKind.
const kindAll EventKind = ""

// SubscribeAll registers handler for every event published on the bus.
func (b *Bus) SubscribeAll(handler func(Event)) SubscriptionHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextHandle++
	h := SubscriptionHandle(b.nextHandle)
	b.all = append(b.all, subscriber{handle: h, handler: handler})
	b.handleKind[h] = kindAll
	return h
}

// Unsubscribe removes a subscription. An unknown handle is a no-op.
func (b *Bus) Unsubscribe(h SubscriptionHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kind, ok := b.handleKind[h]
	if !ok {
		return
	}
	delete(b.handleKind, h)

	if kind == kindAll {
		b.all = removeHandle(b.all, h)
		return
	}
	b.byKind[kind] = removeHandle(b.byKind[kind], h)
}

func removeHandle(subs []subscriber, h SubscriptionHandle) []subscriber {
	out := subs[:0]
	for _, s := range subs {
		if s.handle != h {
			out = append(out, s)
		}
	}
	return out
}

// PublishSync delivers event immediately on the caller's goroutine. A
// subscriber callback that panics is recovered and logged; other
// subscribers still receive the event.
func (b *Bus) PublishSync(e Event) {
	b.dispatch(e)
}

// Publish enqueues event for asynchronous delivery by the worker started
// with Start. It never blocks: if the queue is full the event is dropped
// and logged, mirroring the bounded non-blocking queue pattern used
// elsewhere for the in-memory async path.
func (b *Bus) Publish(e Event) error {
	if atomic.LoadUint32(&b.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case b.queue <- e:
		return nil
	default:
		b.log.Warn("eventbus: async queue full, dropping event", zap.String("kind", string(e.Kind())))
		return nil
	}
}

// ProcessPending drains whatever is currently queued, dispatching each
// event synchronously on the caller's goroutine, without needing Start's
// worker goroutine running.
func (b *Bus) ProcessPending() {
	for {
		select {
		case e := <-b.queue:
			b.dispatch(e)
		default:
			return
		}
	}
}

// Start launches the worker goroutine that drains the async queue until ctx
// is done or Stop is called.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-b.queue:
				if !ok {
					return
				}
				b.dispatch(e)
			}
		}
	}()
}

// Stop closes the async queue and waits for the worker to drain and exit.
func (b *Bus) Stop() {
	if atomic.CompareAndSwapUint32(&b.closed, 0, 1) {
		close(b.queue)
	}
	b.wg.Wait()
}

// QueueSize reports how many events are currently buffered for async
// delivery.
func (b *Bus) QueueSize() int {
	return len(b.queue)
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	kindSubs := append([]subscriber(nil), b.byKind[e.Kind()]...)
	allSubs := append([]subscriber(nil), b.all...)
	b.mu.RUnlock()

	for _, s := range kindSubs {
		b.invoke(s, e)
	}
	for _, s := range allSubs {
		b.invoke(s, e)
	}
}

func (b *Bus) invoke(s subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus: subscriber panicked",
				zap.Any("recovered", r),
				zap.String("kind", string(e.Kind())),
			)
		}
	}()
	s.handler(e)
}
