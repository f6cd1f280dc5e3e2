package ticks

import (
	"testing"
	"time"

	"github.com/rbasarat/backtester/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func tickAt(sec int64) types.Tick {
	return types.Tick{
		Timestamp: time.Unix(sec, 0),
		LastPrice: decimal.NewFromInt(sec),
	}
}

func TestSortByTime_OrdersEachSeriesIndependently(t *testing.T) {
	s := New()
	s.Append("AAPL", tickAt(3))
	s.Append("AAPL", tickAt(1))
	s.Append("AAPL", tickAt(2))
	s.Append("MSFT", tickAt(5))
	s.Append("MSFT", tickAt(4))

	s.SortByTime()

	aapl := s.Range("AAPL", 0, 1e18)
	require.Len(t, aapl, 3)
	for i := 1; i < len(aapl); i++ {
		require.True(t, !aapl[i].Timestamp.Before(aapl[i-1].Timestamp))
	}

	msft := s.Range("MSFT", 0, 1e18)
	require.Len(t, msft, 2)
	require.True(t, msft[0].Timestamp.Before(msft[1].Timestamp))
}

func TestSortByTime_Idempotent(t *testing.T) {
	s := New()
	s.Append("AAPL", tickAt(1))
	s.Append("AAPL", tickAt(2))
	s.Append("AAPL", tickAt(3))

	s.SortByTime()
	first := s.Range("AAPL", 0, 1e18)
	s.SortByTime()
	second := s.Range("AAPL", 0, 1e18)

	require.Equal(t, first, second)
}

// Property 8: range(start, end) returns exactly the ticks t with
// start <= t.ts <= end, in order.
func TestRange_BoundaryProperty(t *testing.T) {
	s := New()
	for sec := int64(0); sec < 10; sec++ {
		s.Append("AAPL", tickAt(sec))
	}
	s.SortByTime()

	got := s.Range("AAPL", time.Unix(3, 0).UnixNano(), time.Unix(6, 0).UnixNano())
	require.Len(t, got, 4)
	for i, tick := range got {
		require.Equal(t, int64(3+i), tick.Timestamp.Unix())
	}
}

func TestRange_UnknownInstrument(t *testing.T) {
	s := New()
	require.Nil(t, s.Range("GHOST", 0, 100))
}

func TestAt_OutOfRange(t *testing.T) {
	s := New()
	s.Append("AAPL", tickAt(1))
	_, ok := s.At("AAPL", 5)
	require.False(t, ok)
	tick, ok := s.At("AAPL", 0)
	require.True(t, ok)
	require.Equal(t, int64(1), tick.Timestamp.Unix())
}

func TestAppendBatch(t *testing.T) {
	s := New()
	s.AppendBatch("AAPL", []types.Tick{tickAt(2), tickAt(1)})
	require.Equal(t, 2, s.Size("AAPL"))
	s.SortByTime()
	got := s.Range("AAPL", 0, 1e18)
	require.Equal(t, int64(1), got[0].Timestamp.Unix())
}

func TestAllTicks(t *testing.T) {
	s := New()
	s.Append("AAPL", tickAt(1))
	s.Append("MSFT", tickAt(2))

	all := s.AllTicks()
	require.Len(t, all, 2)
	require.Len(t, all["AAPL"], 1)
	require.Len(t, all["MSFT"], 1)
}
