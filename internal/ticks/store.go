// Package ticks implements the per-instrument tick store: each series keeps
// a UnixNano timestamp column for binary-searched range scans beside a slice
// of whole Tick records, and bulk loads can reserve capacity up front. The
// other tick fields are not split into columns of their own.
package ticks

import (
	"sort"

	"github.com/rbasarat/backtester/types"
)

// Series is one instrument's tick history: a timestamp column parallel to a
// slice of complete ticks.
type Series struct {
	Timestamps []int64 // UnixNano, parallel to every other column
	Ticks      []types.Tick
}

func (s *Series) Len() int { return len(s.Ticks) }

func (s *Series) append(tick types.Tick) {
	s.Timestamps = append(s.Timestamps, tick.Timestamp.UnixNano())
	s.Ticks = append(s.Ticks, tick)
}

// Store maps instrument to its Series. The zero value is ready to use.
type Store struct {
	data map[types.InstrumentID]*Series
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[types.InstrumentID]*Series)}
}

// Append adds one tick for instrument. Ordering is not enforced here; call
// SortByTime before driving a run from the store.
func (s *Store) Append(instrument types.InstrumentID, tick types.Tick) {
	series := s.seriesFor(instrument)
	series.append(tick)
}

// AppendBatch adds many ticks for instrument in one call, reserving
// capacity up front.
func (s *Store) AppendBatch(instrument types.InstrumentID, ticks []types.Tick) {
	series := s.seriesFor(instrument)
	if cap(series.Ticks)-len(series.Ticks) < len(ticks) {
		grownTimestamps := make([]int64, len(series.Timestamps), len(series.Timestamps)+len(ticks))
		copy(grownTimestamps, series.Timestamps)
		series.Timestamps = grownTimestamps

		grownTicks := make([]types.Tick, len(series.Ticks), len(series.Ticks)+len(ticks))
		copy(grownTicks, series.Ticks)
		series.Ticks = grownTicks
	}
	for _, tick := range ticks {
		series.append(tick)
	}
}

func (s *Store) seriesFor(instrument types.InstrumentID) *Series {
	if s.data == nil {
		s.data = make(map[types.InstrumentID]*Series)
	}
	series, ok := s.data[instrument]
	if !ok {
		series = &Series{}
		s.data[instrument] = series
	}
	return series
}

// Range returns the ticks t for instrument with start <= t.Timestamp <= end,
// where start and end are UnixNano values like Series.Timestamps. The store must be sorted (SortByTime) for the binary-search bounds to be
// meaningful; on an unsorted store the result is unspecified.
func (s *Store) Range(instrument types.InstrumentID, start, end int64) []types.Tick {
	series, ok := s.data[instrument]
	if !ok {
		return nil
	}
	lo := sort.Search(len(series.Timestamps), func(i int) bool { return series.Timestamps[i] >= start })
	hi := sort.Search(len(series.Timestamps), func(i int) bool { return series.Timestamps[i] > end })
	if lo >= hi {
		return nil
	}
	out := make([]types.Tick, hi-lo)
	copy(out, series.Ticks[lo:hi])
	return out
}

// At returns the tick at index for instrument, or false if out of range.
func (s *Store) At(instrument types.InstrumentID, index int) (types.Tick, bool) {
	series, ok := s.data[instrument]
	if !ok || index < 0 || index >= len(series.Ticks) {
		return types.Tick{}, false
	}
	return series.Ticks[index], true
}

// Size returns the number of ticks stored for instrument.
func (s *Store) Size(instrument types.InstrumentID) int {
	series, ok := s.data[instrument]
	if !ok {
		return 0
	}
	return series.Len()
}

// Instruments returns every instrument with at least one stored tick. Order
// is unspecified.
func (s *Store) Instruments() []types.InstrumentID {
	out := make([]types.InstrumentID, 0, len(s.data))
	for instrument := range s.data {
		out = append(out, instrument)
	}
	return out
}

// SortByTime stable-sorts every series by timestamp. Idempotent: sorting an
// already-sorted series leaves it unchanged.
func (s *Store) SortByTime() {
	for _, series := range s.data {
		sortSeries(series)
	}
}

func sortSeries(series *Series) {
	n := series.Len()
	if n < 2 {
		return
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return series.Timestamps[idx[i]] < series.Timestamps[idx[j]]
	})

	sortedTimestamps := make([]int64, n)
	sortedTicks := make([]types.Tick, n)
	for newPos, oldPos := range idx {
		sortedTimestamps[newPos] = series.Timestamps[oldPos]
		sortedTicks[newPos] = series.Ticks[oldPos]
	}
	series.Timestamps = sortedTimestamps
	series.Ticks = sortedTicks
}

// AllTicks returns every instrument's full tick sequence, used by the
// engine to build its k-way merged replay iterator.
func (s *Store) AllTicks() map[types.InstrumentID][]types.Tick {
	out := make(map[types.InstrumentID][]types.Tick, len(s.data))
	for instrument, series := range s.data {
		ticksCopy := make([]types.Tick, series.Len())
		copy(ticksCopy, series.Ticks)
		out[instrument] = ticksCopy
	}
	return out
}
