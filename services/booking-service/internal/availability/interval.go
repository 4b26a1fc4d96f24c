package availability

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether a and b share any instant. Touching intervals
// (a.End == b.Start) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// firstOverlap returns the first interval in busy that overlaps c.
func firstOverlap(c Interval, busy []Interval) (Interval, bool) {
	for _, b := range busy {
		if Overlaps(c, b) {
			return b, true
		}
	}
	return Interval{}, false
}

func overlapsAny(c Interval, busy []Interval) bool {
	_, ok := firstOverlap(c, busy)
	return ok
}
