package timeutil

import (
	"sort"
	"time"
)

// Interval is a half-specified busy or candidate slot.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two intervals overlap. The comparison is
// deliberately inclusive: slots that merely touch a busy interval at a
// boundary are treated as conflicting.
func Overlaps(a, b Interval) bool {
	return !a.Start.After(b.End) && !b.Start.After(a.End)
}

const maxAlternatives = 4

// SuggestAlternatives proposes up to four alternative slots for a
// conflicted request, in fixed priority order: a 9 AM same-day slot, a
// 5 PM same-day slot, the same slot shifted by one day (always included),
// and gaps between adjacent conflicts large enough for the requested
// duration. A degenerate request degrades to the one-day shift alone.
func SuggestAlternatives(start, end time.Time, conflicts []Interval) []Interval {
	dayShift := Interval{Start: start.AddDate(0, 0, 1), End: end.AddDate(0, 0, 1)}

	duration := end.Sub(start)
	if duration <= 0 {
		return []Interval{dayShift}
	}

	var out []Interval

	morning := time.Date(start.Year(), start.Month(), start.Day(), 9, 0, 0, 0, start.Location())
	if start.After(morning) {
		cand := Interval{Start: morning, End: morning.Add(duration)}
		if !overlapsAny(cand, conflicts) {
			out = append(out, cand)
		}
	}

	evening := time.Date(start.Year(), start.Month(), start.Day(), 17, 0, 0, 0, start.Location())
	if end.Before(evening) {
		cand := Interval{Start: evening, End: evening.Add(duration)}
		if !overlapsAny(cand, conflicts) {
			out = append(out, cand)
		}
	}

	// Guaranteed fallback: the same slot a day later, offered regardless
	// of what else is on the calendar then.
	out = append(out, dayShift)

	sorted := make([]Interval, len(conflicts))
	copy(sorted, conflicts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	for i := 0; i+1 < len(sorted) && len(out) < maxAlternatives; i++ {
		gapStart := sorted[i].End
		gapEnd := sorted[i+1].Start
		if gapEnd.Sub(gapStart) >= duration {
			out = append(out, Interval{Start: gapStart, End: gapStart.Add(duration)})
		}
	}

	if len(out) > maxAlternatives {
		out = out[:maxAlternatives]
	}
	return out
}

func overlapsAny(cand Interval, conflicts []Interval) bool {
	for _, c := range conflicts {
		if Overlaps(cand, c) {
			return true
		}
	}
	return false
}
