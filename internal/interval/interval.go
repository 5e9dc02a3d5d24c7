// Package interval implements the date-range algebra used to attribute
// accrual amounts across windows that do not line up.
package interval

import (
	"sort"
	"time"
)

// Range is a closed date window [Start, End].
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New returns the range [start, end].
func New(start, end time.Time) Range {
	return Range{Start: start, End: end}
}

// Empty reports whether the range has no length.
func (r Range) Empty() bool {
	return !r.End.After(r.Start)
}

// Days is the number of calendar days from Start to End, zero when empty.
// The calendar days of a partition of r always sum to r's.
func (r Range) Days() int {
	if r.Empty() {
		return 0
	}
	return int(midnight(r.End).Sub(midnight(r.Start)).Hours() / 24)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Contains reports whether other lies entirely inside r.
func (r Range) Contains(other Range) bool {
	return !other.Start.Before(r.Start) && !other.End.After(r.End)
}

// Overlaps reports whether the two ranges share a window of positive length.
func (r Range) Overlaps(other Range) bool {
	_, ok := Intersection(r, other)
	return ok
}

// Intersects reports whether point lies in [r.Start, r.End].
func Intersects(point time.Time, r Range) bool {
	return !point.Before(r.Start) && !point.After(r.End)
}

// Intersection returns the overlapping sub-range of a and b. The second
// result is false when the ranges are disjoint or only touch at a point.
func Intersection(a, b Range) (Range, bool) {
	start := a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	if !end.After(start) {
		return Range{}, false
	}
	return Range{Start: start, End: end}, true
}

// Partition splits the union of ranges into contiguous, pairwise disjoint
// sub-ranges whose boundaries are exactly the sorted input endpoints. Every
// returned sub-range lies inside at least one input; gaps between inputs are
// not covered. Partition(Partition(rs...)...) equals Partition(rs...).
func Partition(ranges ...Range) []Range {
	points := make([]time.Time, 0, 2*len(ranges))
	for _, r := range ranges {
		if r.Empty() {
			continue
		}
		points = append(points, r.Start, r.End)
	}
	if len(points) == 0 {
		return nil
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })

	uniq := []time.Time{points[0]}
	for _, p := range points[1:] {
		if !p.Equal(uniq[len(uniq)-1]) {
			uniq = append(uniq, p)
		}
	}

	var out []Range
	for i := 0; i+1 < len(uniq); i++ {
		sub := Range{Start: uniq[i], End: uniq[i+1]}
		for _, r := range ranges {
			if !r.Empty() && r.Contains(sub) {
				out = append(out, sub)
				break
			}
		}
	}
	return out
}
