// Package orderbook implements a two-sided, price-time-priority limit order
// book: bids sorted descending by price, asks ascending, each price level a
// FIFO queue of resting orders.
package orderbook

import (
	"errors"
	"sort"

	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
)

// ErrNotImplemented names the condition of a book built with a matching
// algorithm other than PriceTime. Only PriceTime matching is implemented;
// ProRata and PriceSizeTime are declared so the interface shape matches a
// production venue's. MatchMarket and MatchLimit do not return this error:
// on such a book they return no fills and leave the book unchanged.
var ErrNotImplemented = errors.New("orderbook: matching algorithm not implemented")

// DepthLevel is one row of an L2 depth snapshot.
type DepthLevel struct {
	Price  types.Price
	Volume types.Volume
}

// Stats summarizes the book's current state.
type Stats struct {
	BidLevels      int
	AskLevels      int
	TotalBidVolume types.Volume
	TotalAskVolume types.Volume
	BestBid        *types.Price
	BestAsk        *types.Price
	Spread         *types.Price
}

// side holds one half of the book: levels keyed by price plus a sorted key
// slice giving the book's ordering. Go has no ordered map in the standard
// library, so the key slice is kept sorted with sort.Search for lookups and
// insertion points, and a plain slice delete on removal — the same
// ordering guarantee a balanced tree gives, without pulling one in.
type side struct {
	levels map[string]*Level
	keys   []types.Price // sorted ascending; bids are read in reverse
}

func newSide() *side {
	return &side{levels: make(map[string]*Level)}
}

func priceKey(p types.Price) string { return p.String() }

func (s *side) get(price types.Price) (*Level, bool) {
	lvl, ok := s.levels[priceKey(price)]
	return lvl, ok
}

func (s *side) getOrCreate(price types.Price) *Level {
	key := priceKey(price)
	if lvl, ok := s.levels[key]; ok {
		return lvl
	}
	lvl := newLevel(price)
	s.levels[key] = lvl
	idx := sort.Search(len(s.keys), func(i int) bool { return !s.keys[i].LessThan(price) })
	s.keys = append(s.keys, types.Price{})
	copy(s.keys[idx+1:], s.keys[idx:])
	s.keys[idx] = price
	return lvl
}

func (s *side) remove(price types.Price) {
	key := priceKey(price)
	delete(s.levels, key)
	idx := sort.Search(len(s.keys), func(i int) bool { return !s.keys[i].LessThan(price) })
	if idx < len(s.keys) && s.keys[idx].Equal(price) {
		s.keys = append(s.keys[:idx], s.keys[idx+1:]...)
	}
}

// Book is a single-instrument limit order book.
type Book struct {
	instrument types.InstrumentID
	algo       types.MatchingAlgorithm

	bids *side // keys ascending; best bid is the highest price, i.e. last key
	asks *side // keys ascending; best ask is the lowest price, i.e. first key
}

// New returns an empty book for instrument using algo. Only PriceTime is
// implemented; constructing with ProRata or PriceSizeTime is allowed (the
// book remembers the choice) but its matching calls then produce no fills.
func New(instrument types.InstrumentID, algo types.MatchingAlgorithm) *Book {
	return &Book{
		instrument: instrument,
		algo:       algo,
		bids:       newSide(),
		asks:       newSide(),
	}
}

func (b *Book) sideFor(s types.Side) *side {
	if s == types.Buy {
		return b.bids
	}
	return b.asks
}

// Add appends order to the back of its price level's FIFO, creating the
// level if absent.
func (b *Book) Add(order types.Order) {
	lvl := b.sideFor(order.Side).getOrCreate(order.LimitPrice)
	lvl.add(order.ID, order.Remaining())
}

// Remove takes up to qty off order id's resting entry at price, deleting
// the level if it drains to zero.
func (b *Book) Remove(orderID types.OrderID, s types.Side, price, qty types.Volume) {
	sd := b.sideFor(s)
	lvl, ok := sd.get(price)
	if !ok {
		return
	}
	lvl.remove(orderID, qty)
	if lvl.empty() {
		sd.remove(price)
	}
}

// MatchMarket executes order against the opposite side's best levels until
// order.Quantity is exhausted or the book empties. Each fill's price is the
// level price; quantity is min(remaining, level volume). Fully consumed
// levels are removed. Matching is split into a compute-then-apply pass so
// walking price levels never invalidates the cursor it's iterating.
func (b *Book) MatchMarket(order types.Order, ts types.Timestamp) []types.Fill {
	if b.algo != types.PriceTime {
		return nil
	}
	opposite := b.sideFor(order.Side.Opposite())
	return b.walk(opposite, order, ts, nil)
}

// MatchLimit behaves like MatchMarket but stops crossing once the best
// opposite price no longer satisfies the order's limit (buy <= best ask,
// sell >= best bid); any residual quantity is added to the book on the
// order's own side as a resting order.
func (b *Book) MatchLimit(order types.Order, ts types.Timestamp) []types.Fill {
	if b.algo != types.PriceTime {
		return nil
	}
	opposite := b.sideFor(order.Side.Opposite())

	crosses := func(levelPrice types.Price) bool {
		if order.Side == types.Buy {
			return !levelPrice.GreaterThan(order.LimitPrice)
		}
		return !levelPrice.LessThan(order.LimitPrice)
	}

	fills := b.walk(opposite, order, ts, crosses)

	filled := types.Volume{}
	for _, f := range fills {
		filled = filled.Add(f.Quantity)
	}
	remaining := order.Quantity.Sub(filled)
	if remaining.IsPositive() {
		resting := order
		resting.Quantity = remaining
		resting.FilledQty = types.Volume{}
		b.Add(resting)
	}
	return fills
}

// walk consumes the opposite side's best-to-worst levels, subject to an
// optional crossing predicate (nil means "always crosses", used by
// MatchMarket). Levels are fully drained before being removed from the
// side's key slice, so the two phases below (compute fills, then remove
// emptied levels) never mutate the slice mid-iteration.
func (b *Book) walk(opposite *side, order types.Order, ts types.Timestamp, crosses func(types.Price) bool) []types.Fill {
	var fills []types.Fill
	remaining := order.Quantity

	var drained []types.Price

	for _, price := range opposite.bestToWorstKeys(order.Side) {
		if !remaining.IsPositive() {
			break
		}
		if crosses != nil && !crosses(price) {
			break
		}
		lvl, ok := opposite.get(price)
		if !ok {
			continue
		}
		for !lvl.empty() && remaining.IsPositive() {
			front, _ := lvl.front()
			fillQty := front.quantity
			if fillQty.GreaterThan(remaining) {
				fillQty = remaining
			}
			_, consumed := lvl.consumeFront(fillQty)
			fills = append(fills, types.Fill{
				OrderID:    order.ID,
				Timestamp:  ts,
				Instrument: b.instrument,
				Strategy:   order.Strategy,
				Side:       order.Side,
				Price:      price,
				Quantity:   consumed,
			})
			remaining = remaining.Sub(consumed)
		}
		if lvl.empty() {
			drained = append(drained, price)
		}
	}
	for _, price := range drained {
		opposite.remove(price)
	}
	return fills
}

// bestToWorstKeys returns the opposite side's price keys ordered from best
// (most aggressive fill price for takerSide) to worst. When takerSide is
// Buy the opposite side is asks, walked ascending (cheapest first); when
// takerSide is Sell the opposite side is bids, walked descending (priciest
// first).
func (s *side) bestToWorstKeys(takerSide types.Side) []types.Price {
	out := make([]types.Price, len(s.keys))
	copy(out, s.keys)
	if takerSide == types.Sell {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// BestBid returns the highest resting bid price, if any.
func (b *Book) BestBid() (types.Price, bool) {
	if len(b.bids.keys) == 0 {
		return types.Price{}, false
	}
	return b.bids.keys[len(b.bids.keys)-1], true
}

// BestAsk returns the lowest resting ask price, if any.
func (b *Book) BestAsk() (types.Price, bool) {
	if len(b.asks.keys) == 0 {
		return types.Price{}, false
	}
	return b.asks.keys[0], true
}

// Spread returns BestAsk - BestBid, if both sides are non-empty.
func (b *Book) Spread() (types.Price, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return types.Price{}, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return types.Price{}, false
	}
	return ask.Sub(bid), true
}

// MidPrice returns the midpoint of best bid and best ask, if both exist.
func (b *Book) MidPrice() (types.Price, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return types.Price{}, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return types.Price{}, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// Bids returns up to n best bid levels, highest price first.
func (b *Book) Bids(n int) []DepthLevel {
	return depthFrom(b.bids, n, true)
}

// Asks returns up to n best ask levels, lowest price first.
func (b *Book) Asks(n int) []DepthLevel {
	return depthFrom(b.asks, n, false)
}

func depthFrom(s *side, n int, reverse bool) []DepthLevel {
	if n <= 0 || len(s.keys) == 0 {
		return nil
	}
	if n > len(s.keys) {
		n = len(s.keys)
	}
	out := make([]DepthLevel, 0, n)
	if reverse {
		for i := len(s.keys) - 1; i >= 0 && len(out) < n; i-- {
			lvl := s.levels[priceKey(s.keys[i])]
			out = append(out, DepthLevel{Price: lvl.Price, Volume: lvl.TotalVolume})
		}
		return out
	}
	for i := 0; i < len(s.keys) && len(out) < n; i++ {
		lvl := s.levels[priceKey(s.keys[i])]
		out = append(out, DepthLevel{Price: lvl.Price, Volume: lvl.TotalVolume})
	}
	return out
}

// VolumeAtPrice returns the total resting volume on s at price.
func (b *Book) VolumeAtPrice(s types.Side, price types.Price) types.Volume {
	lvl, ok := b.sideFor(s).get(price)
	if !ok {
		return types.Volume{}
	}
	return lvl.TotalVolume
}

// Clear removes every resting order from both sides.
func (b *Book) Clear() {
	b.bids = newSide()
	b.asks = newSide()
}

// GetStats returns a snapshot of book depth and touch prices.
func (b *Book) GetStats() Stats {
	stats := Stats{BidLevels: len(b.bids.keys), AskLevels: len(b.asks.keys)}
	for _, key := range b.bids.keys {
		lvl := b.bids.levels[priceKey(key)]
		stats.TotalBidVolume = stats.TotalBidVolume.Add(lvl.TotalVolume)
	}
	for _, key := range b.asks.keys {
		lvl := b.asks.levels[priceKey(key)]
		stats.TotalAskVolume = stats.TotalAskVolume.Add(lvl.TotalVolume)
	}
	if bid, ok := b.BestBid(); ok {
		stats.BestBid = &bid
	}
	if ask, ok := b.BestAsk(); ok {
		stats.BestAsk = &ask
	}
	if spread, ok := b.Spread(); ok {
		stats.Spread = &spread
	}
	return stats
}
