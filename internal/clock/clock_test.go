package clock

import (
	"errors"
	"testing"
	"time"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return tm
}

// S7: schedule A at T+5 then B at T+5 (same due time, different insertion
// order). advance_to(T+5) fires A then B; advance_to(T+4) fires neither;
// advance_to(T+10) afterward fires none (already drained).
func TestAdvanceTo_ScheduledCallbackOrdering(t *testing.T) {
	start := mustParse(t, "2024-01-01T00:00:00Z")
	c := New(start)

	var fired []string
	c.Schedule(start.Add(5*time.Second), func(time.Time) { fired = append(fired, "A") })
	c.Schedule(start.Add(5*time.Second), func(time.Time) { fired = append(fired, "B") })

	if err := c.AdvanceTo(start.Add(4 * time.Second)); err != nil {
		t.Fatalf("advance to T+4: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("expected no callbacks fired at T+4, got %v", fired)
	}

	if err := c.AdvanceTo(start.Add(5 * time.Second)); err != nil {
		t.Fatalf("advance to T+5: %v", err)
	}
	if want := []string{"A", "B"}; !equalStrings(fired, want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}

	if err := c.AdvanceTo(start.Add(10 * time.Second)); err != nil {
		t.Fatalf("advance to T+10: %v", err)
	}
	if want := []string{"A", "B"}; !equalStrings(fired, want) {
		t.Fatalf("fired after T+10 = %v, want %v (no new callbacks)", fired, want)
	}
}

func TestAdvanceTo_Rewind(t *testing.T) {
	start := mustParse(t, "2024-01-01T00:00:00Z")
	c := New(start)
	if err := c.AdvanceTo(start.Add(time.Second)); err != nil {
		t.Fatalf("advance forward: %v", err)
	}
	err := c.AdvanceTo(start)
	if !errors.Is(err, ErrClockRewind) {
		t.Fatalf("expected ErrClockRewind, got %v", err)
	}
}

func TestAdvanceTo_ReentrantSchedule(t *testing.T) {
	start := mustParse(t, "2024-01-01T00:00:00Z")
	c := New(start)

	var fired []string
	c.Schedule(start.Add(time.Second), func(due time.Time) {
		fired = append(fired, "first")
		c.Schedule(due, func(time.Time) { fired = append(fired, "reentrant") })
	})

	if err := c.AdvanceTo(start.Add(time.Second)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if want := []string{"first", "reentrant"}; !equalStrings(fired, want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
}

func TestScheduleAfter(t *testing.T) {
	start := mustParse(t, "2024-01-01T00:00:00Z")
	c := New(start)

	fired := false
	c.ScheduleAfter(3*time.Second, func(time.Time) { fired = true })

	if err := c.AdvanceBy(2 * time.Second); err != nil {
		t.Fatalf("advance by 2s: %v", err)
	}
	if fired {
		t.Fatal("callback fired too early")
	}
	if err := c.AdvanceBy(1 * time.Second); err != nil {
		t.Fatalf("advance by 1s: %v", err)
	}
	if !fired {
		t.Fatal("callback never fired")
	}
}

func TestNextEventTimeAndReset(t *testing.T) {
	start := mustParse(t, "2024-01-01T00:00:00Z")
	c := New(start)

	if _, ok := c.NextEventTime(); ok {
		t.Fatal("expected no pending events on fresh clock")
	}

	due := start.Add(time.Minute)
	c.Schedule(due, func(time.Time) {})

	got, ok := c.NextEventTime()
	if !ok || !got.Equal(due) {
		t.Fatalf("NextEventTime = %v, %v; want %v, true", got, ok, due)
	}

	c.Reset(start)
	if c.HasPendingEvents() {
		t.Fatal("expected Reset to clear pending events")
	}
	if !c.Now().Equal(start) {
		t.Fatalf("Now() after reset = %v, want %v", c.Now(), start)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
