package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
)

func TestFlattenEvents(t *testing.T) {
	items := []*calendar.Event{
		{
			Id:      "ev1",
			Summary: "standup",
			Start:   &calendar.EventDateTime{DateTime: "2025-05-19T15:00:00Z"},
			End:     &calendar.EventDateTime{DateTime: "2025-05-19T16:00:00Z"},
		},
		// All-day events carry a Date instead of a DateTime.
		{
			Id:      "ev2",
			Summary: "offsite",
			Start:   &calendar.EventDateTime{Date: "2025-05-20"},
			End:     &calendar.EventDateTime{Date: "2025-05-21"},
		},
		// An event with no time fields at all must not panic.
		{Id: "ev3", Summary: "draft"},
	}

	out := flattenEvents(items)
	require.Len(t, out, 3)
	assert.Equal(t, "2025-05-19T15:00:00Z", out[0]["start"])
	assert.Equal(t, "2025-05-20", out[1]["start"])
	assert.Equal(t, "", out[2]["start"])
	assert.Equal(t, "", out[2]["end"])
}

func TestBusyIntervalsSkipsPartialEvents(t *testing.T) {
	items := []*calendar.Event{
		{
			Start: &calendar.EventDateTime{DateTime: "2025-05-19T15:00:00Z"},
			End:   &calendar.EventDateTime{DateTime: "2025-05-19T16:00:00Z"},
		},
		{Start: &calendar.EventDateTime{Date: "2025-05-20"}},
		{},
	}

	busy := busyIntervals(items)
	require.Len(t, busy, 1)
	assert.Equal(t, time.Date(2025, 5, 19, 15, 0, 0, 0, time.UTC), busy[0].Start)
}
