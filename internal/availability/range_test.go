package availability

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name string
		a, b DateRange
		want bool
	}{
		{"disjoint", NewDateRange(day(2024, 6, 1), day(2024, 6, 5)), NewDateRange(day(2024, 6, 6), day(2024, 6, 10)), false},
		{"nested", NewDateRange(day(2024, 6, 1), day(2024, 6, 30)), NewDateRange(day(2024, 6, 10), day(2024, 6, 12)), true},
		{"partial", NewDateRange(day(2024, 7, 1), day(2024, 7, 5)), NewDateRange(day(2024, 7, 3), day(2024, 7, 7)), true},
		{"same day", NewDateRange(day(2024, 6, 10), day(2024, 6, 10)), NewDateRange(day(2024, 6, 10), day(2024, 6, 10)), true},
		{"shared boundary", NewDateRange(day(2024, 6, 10), day(2024, 6, 15)), NewDateRange(day(2024, 6, 15), day(2024, 6, 20)), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.Overlaps(c.b); got != c.want {
				t.Errorf("Overlaps(a,b) = %v, want %v", got, c.want)
			}
			// symmetry
			if got := c.b.Overlaps(c.a); got != c.want {
				t.Errorf("Overlaps(b,a) = %v, want %v", got, c.want)
			}
		})
	}
}

func TestOverlapsUnbounded(t *testing.T) {
	full := NewDateRange(day(2024, 6, 1), day(2024, 6, 30))
	missing := DateRange{Start: day(2024, 6, 1)} // no end yet

	if full.Overlaps(missing) || missing.Overlaps(full) {
		t.Error("range missing an endpoint must not overlap anything")
	}
	if (DateRange{}).Overlaps(full) {
		t.Error("zero range must not overlap anything")
	}
}

func TestOverlapsIgnoresTimeOfDay(t *testing.T) {
	// a late pickup and an early return on the same calendar day still clash
	a := NewDateRange(
		time.Date(2024, 6, 10, 22, 30, 0, 0, time.UTC),
		time.Date(2024, 6, 15, 23, 59, 0, 0, time.UTC),
	)
	b := NewDateRange(
		time.Date(2024, 6, 15, 0, 1, 0, 0, time.UTC),
		time.Date(2024, 6, 20, 8, 0, 0, 0, time.UTC),
	)
	if !a.Overlaps(b) {
		t.Error("ranges sharing a calendar day must overlap regardless of clock time")
	}
}

func TestContains(t *testing.T) {
	r := NewDateRange(day(2024, 6, 10), day(2024, 6, 15))
	for _, d := range []time.Time{day(2024, 6, 10), day(2024, 6, 12), day(2024, 6, 15)} {
		if !r.Contains(d) {
			t.Errorf("expected %v inside %v..%v", d, r.Start, r.End)
		}
	}
	if r.Contains(day(2024, 6, 16)) {
		t.Error("day after End must be outside")
	}
	if (DateRange{}).Contains(day(2024, 6, 10)) {
		t.Error("unbounded range contains nothing")
	}
}
