package schedule

import (
	"testing"
	"time"
)

func TestSequenceEveryFifteenMinutes(t *testing.T) {
	c, err := New("*/15", "*", "*", "*", "*")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Date(2026, time.March, 5, 10, 7, 0, 0, time.Local)
	seq := c.Start(start)

	want := []time.Time{
		time.Date(2026, time.March, 5, 10, 15, 0, 0, time.Local),
		time.Date(2026, time.March, 5, 10, 30, 0, 0, time.Local),
		time.Date(2026, time.March, 5, 10, 45, 0, 0, time.Local),
		time.Date(2026, time.March, 5, 11, 0, 0, 0, time.Local),
	}
	for i, w := range want {
		got := seq.Next()
		if !got.Equal(w) {
			t.Fatalf("step %d: expected %v, got %v", i, w, got)
		}
	}
}

func TestSequenceStartExactlyOnAFiringInstantYieldsItself(t *testing.T) {
	c, err := New("*/15", "*", "*", "*", "*")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Date(2026, time.March, 5, 10, 30, 0, 0, time.Local)
	got := c.Start(start).Next()
	if !got.Equal(start) {
		t.Fatalf("expected the start instant itself %v, got %v", start, got)
	}
}

func TestSequenceIsMonotoneNonDecreasing(t *testing.T) {
	c, err := New("0,20,40", "*/6", "*", "*", "*")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seq := c.Start(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.Local))
	prev := seq.Next()
	for i := 0; i < 200; i++ {
		next := seq.Next()
		if next.Before(prev) {
			t.Fatalf("sequence went backwards: %v then %v", prev, next)
		}
		prev = next
	}
}

func TestSequenceEveryInstantSatisfiesFieldMembership(t *testing.T) {
	c, err := New("*/10", "9-17", "1-15", "*", "*")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seq := c.Start(time.Date(2026, time.February, 1, 0, 0, 0, 0, time.Local))
	for i := 0; i < 100; i++ {
		got := seq.Next()
		if got.Minute()%10 != 0 {
			t.Fatalf("minute %d not a multiple of 10 at %v", got.Minute(), got)
		}
		if got.Hour() < 9 || got.Hour() > 17 {
			t.Fatalf("hour %d outside 9-17 at %v", got.Hour(), got)
		}
		if got.Day() < 1 || got.Day() > 15 {
			t.Fatalf("day %d outside 1-15 at %v", got.Day(), got)
		}
	}
}

func TestSequenceCrossesMonthBoundary(t *testing.T) {
	c, err := New("0", "0", "31", "*", "*")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.Local)
	got := c.Start(start).Next()
	if got.Month() != time.May || got.Day() != 31 {
		t.Fatalf("expected May 31 (April has no 31st), got %v", got)
	}
}

func TestSequenceCrossesYearBoundary(t *testing.T) {
	c, err := New("0", "0", "1", "1", "*")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.Local)
	got := c.Start(start).Next()
	if got.Year() != 2027 || got.Month() != time.January || got.Day() != 1 {
		t.Fatalf("expected 2027-01-01, got %v", got)
	}
}

func TestNextIsStrictlyAfterT(t *testing.T) {
	c, err := New("*/15", "*", "*", "*", "*")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	on := time.Date(2026, time.March, 5, 10, 30, 0, 0, time.Local)
	got := c.Next(on)
	if !got.After(on) {
		t.Fatalf("expected a strict successor of %v, got %v", on, got)
	}
	if !got.Equal(time.Date(2026, time.March, 5, 10, 45, 0, 0, time.Local)) {
		t.Fatalf("expected 10:45, got %v", got)
	}
}

func TestDayOfWeekDoesNotFilterFirings(t *testing.T) {
	// day_of_week is parsed and validated but never filters instants —
	// an intentional limitation carried over from the original. Confirm
	// it by generating a run of daily firings across a week and checking
	// that both Monday and non-Monday dates show up, even though "1"
	// (Monday) is the only day_of_week value given.
	c, err := New("0", "0", "*", "*", "1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.Local) // a Monday
	seq := c.Start(start)

	sawMonday := false
	sawNonMonday := false
	for i := 0; i < 7; i++ {
		got := seq.Next()
		if got.Weekday() == time.Monday {
			sawMonday = true
		} else {
			sawNonMonday = true
		}
	}
	if !sawMonday {
		t.Fatal("expected at least one Monday firing in a 7-day run")
	}
	if !sawNonMonday {
		t.Fatal("day_of_week=1 filtered out non-Monday firings, but it must not filter")
	}
}
