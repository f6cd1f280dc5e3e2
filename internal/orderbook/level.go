package orderbook

import (
	"container/list"

	"github.com/rbasarat/backtester/types"
)

// restingOrder is one FIFO entry at a price level: an order id and its
// remaining quantity at that level.
type restingOrder struct {
	orderID  types.OrderID
	quantity types.Volume
}

// Level is one price tick of the book: a FIFO queue of resting orders plus
// a cached total volume kept in sync with the queue so callers never need
// to re-sum it.
type Level struct {
	Price       types.Price
	TotalVolume types.Volume

	queue *list.List
	index map[types.OrderID]*list.Element
}

func newLevel(price types.Price) *Level {
	return &Level{
		Price:       price,
		TotalVolume: types.Volume{},
		queue:       list.New(),
		index:       make(map[types.OrderID]*list.Element),
	}
}

// add appends an order to the back of the FIFO.
func (l *Level) add(id types.OrderID, qty types.Volume) {
	el := l.queue.PushBack(&restingOrder{orderID: id, quantity: qty})
	l.index[id] = el
	l.TotalVolume = l.TotalVolume.Add(qty)
}

// remove takes up to qty from order id, deleting the entry if it's
// fully consumed. Returns the quantity actually removed.
func (l *Level) remove(id types.OrderID, qty types.Volume) types.Volume {
	el, ok := l.index[id]
	if !ok {
		return types.Volume{}
	}
	ro := el.Value.(*restingOrder)

	removed := qty
	if removed.GreaterThan(ro.quantity) {
		removed = ro.quantity
	}
	ro.quantity = ro.quantity.Sub(removed)
	l.TotalVolume = l.TotalVolume.Sub(removed)

	if ro.quantity.IsZero() {
		l.queue.Remove(el)
		delete(l.index, id)
	}
	return removed
}

// empty reports whether the level has no resting quantity.
func (l *Level) empty() bool {
	return l.queue.Len() == 0
}

// front returns the head of the FIFO without removing it.
func (l *Level) front() (*restingOrder, bool) {
	el := l.queue.Front()
	if el == nil {
		return nil, false
	}
	return el.Value.(*restingOrder), true
}

// consumeFront removes qty from the front entry, deleting it if drained.
// Returns the quantity actually consumed.
func (l *Level) consumeFront(qty types.Volume) (types.OrderID, types.Volume) {
	el := l.queue.Front()
	ro := el.Value.(*restingOrder)

	consumed := qty
	if consumed.GreaterThan(ro.quantity) {
		consumed = ro.quantity
	}
	ro.quantity = ro.quantity.Sub(consumed)
	l.TotalVolume = l.TotalVolume.Sub(consumed)

	if ro.quantity.IsZero() {
		l.queue.Remove(el)
		delete(l.index, ro.orderID)
	}
	return ro.orderID, consumed
}
