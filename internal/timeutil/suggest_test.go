package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slot(day, hour, min int) time.Time {
	return time.Date(2025, 5, day, hour, min, 0, 0, time.UTC)
}

func TestOverlapsIsInclusive(t *testing.T) {
	a := Interval{Start: slot(23, 9, 0), End: slot(23, 10, 0)}
	b := Interval{Start: slot(23, 10, 0), End: slot(23, 11, 0)}

	// Touching boundaries count as a conflict.
	assert.True(t, Overlaps(a, b))
	assert.True(t, Overlaps(b, a))

	c := Interval{Start: slot(23, 10, 1), End: slot(23, 11, 0)}
	assert.False(t, Overlaps(a, c))

	d := Interval{Start: slot(23, 9, 30), End: slot(23, 10, 30)}
	assert.True(t, Overlaps(a, d))
}

func TestSuggestAlternativesAlwaysNonEmpty(t *testing.T) {
	start, end := slot(23, 15, 0), slot(23, 16, 0)

	got := SuggestAlternatives(start, end, nil)
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 4)

	// Degenerate request still yields the day-shift fallback.
	got = SuggestAlternatives(start, start, nil)
	require.Len(t, got, 1)
	assert.Equal(t, start.AddDate(0, 0, 1), got[0].Start)
}

func TestSuggestAlternativesPriorityOrder(t *testing.T) {
	start, end := slot(23, 15, 0), slot(23, 16, 0)
	conflicts := []Interval{
		{Start: slot(23, 15, 0), End: slot(23, 16, 0)},
	}

	got := SuggestAlternatives(start, end, conflicts)
	require.GreaterOrEqual(t, len(got), 3)

	// (a) same day 9 AM, requested start was after 9.
	assert.Equal(t, slot(23, 9, 0), got[0].Start)
	assert.Equal(t, slot(23, 10, 0), got[0].End)
	// (b) same day 5 PM, requested end was before 17:00.
	assert.Equal(t, slot(23, 17, 0), got[1].Start)
	// (c) one-day shift, unconditionally present.
	assert.Equal(t, slot(24, 15, 0), got[2].Start)
	assert.Equal(t, slot(24, 16, 0), got[2].End)
}

func TestSuggestAlternativesSkipsOverlappingCandidates(t *testing.T) {
	start, end := slot(23, 15, 0), slot(23, 16, 0)
	conflicts := []Interval{
		// Busy over the 9 AM candidate.
		{Start: slot(23, 8, 30), End: slot(23, 9, 30)},
		// Busy over the 5 PM candidate.
		{Start: slot(23, 17, 0), End: slot(23, 18, 0)},
	}

	got := SuggestAlternatives(start, end, conflicts)
	require.NotEmpty(t, got)

	// Both same-day candidates were busy, so only the day shift and
	// gap-derived slots remain. None may strictly overlap a conflict; gap
	// slots are allowed to touch the boundary of the busy interval they
	// follow.
	dayShift := Interval{Start: slot(24, 15, 0), End: slot(24, 16, 0)}
	for _, alt := range got {
		if alt == dayShift {
			continue
		}
		for _, c := range conflicts {
			strict := alt.Start.Before(c.End) && c.Start.Before(alt.End)
			assert.False(t, strict, "proposal %v overlaps conflict %v", alt, c)
		}
	}
}

func TestSuggestAlternativesUsesGapsBetweenConflicts(t *testing.T) {
	// Request 10:00-10:30; morning slot overlaps the first conflict.
	start, end := slot(23, 10, 0), slot(23, 10, 30)
	conflicts := []Interval{
		{Start: slot(23, 9, 0), End: slot(23, 10, 30)},
		{Start: slot(23, 12, 0), End: slot(23, 13, 0)},
	}

	got := SuggestAlternatives(start, end, conflicts)

	// The 90-minute gap from 10:30 to 12:00 fits the 30-minute request.
	want := Interval{Start: slot(23, 10, 30), End: slot(23, 11, 0)}
	assert.Contains(t, got, want)
}
