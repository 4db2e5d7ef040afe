package availability

import "time"

// DateRange is an inclusive calendar-day interval: a loan that picks up on
// Start and returns on End holds its items on both days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: Day(start), End: Day(end)}
}

// Day normalizes t to midnight UTC. Zero stays zero.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Bounded reports whether both endpoints are set. An unbounded range means
// the caller has no candidate period yet.
func (r DateRange) Bounded() bool {
	return !r.Start.IsZero() && !r.End.IsZero()
}

// Overlaps is the closed-interval test, inclusive on both ends: a pickup on
// the same day as another loan's return still counts (conservative
// allocation). Unbounded ranges never overlap anything.
func (r DateRange) Overlaps(o DateRange) bool {
	if !r.Bounded() || !o.Bounded() {
		return false
	}
	a1, a2 := Day(r.Start), Day(r.End)
	b1, b2 := Day(o.Start), Day(o.End)
	return !a1.After(b2) && !a2.Before(b1)
}

// Contains reports whether day d falls inside the range.
func (r DateRange) Contains(d time.Time) bool {
	if !r.Bounded() {
		return false
	}
	d = Day(d)
	return !d.Before(Day(r.Start)) && !d.After(Day(r.End))
}
