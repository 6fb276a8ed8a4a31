package services

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/rahul/concierge/internal/timeutil"
)

// CalendarService adapts the Google Calendar API to the Service contract.
// All external calls pass through a circuit breaker so a flapping API
// degrades into fast per-action errors instead of hung conversations.
type CalendarService struct {
	api        *calendar.Service
	calendarID string
	loc        *time.Location
	cb         *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

func NewCalendarService(ctx context.Context, credentialsPath, calendarID string, loc *time.Location, log zerolog.Logger) (*CalendarService, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read calendar credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse calendar credentials: %w", err)
	}
	api, err := calendar.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create calendar client: %w", err)
	}

	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.Local
	}

	logger := log.With().Str("component", "calendar").Logger()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "calendar-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return &CalendarService{
		api:        api,
		calendarID: calendarID,
		loc:        loc,
		cb:         cb,
		log:        logger,
	}, nil
}

// Execute dispatches a named method. Unknown methods are a per-action
// error, never a panic.
func (s *CalendarService) Execute(ctx context.Context, method string, params map[string]any) (*Result, error) {
	switch method {
	case "list_events":
		return s.listEvents(ctx, params)
	case "create_event":
		return s.createEvent(ctx, params)
	case "update_event":
		return s.updateEvent(ctx, params)
	case "delete_event":
		return s.deleteEvent(ctx, params)
	case "check_conflicts":
		return s.checkConflicts(ctx, params)
	case "search_events":
		return s.searchEvents(ctx, params)
	case "find_free_time":
		return s.findFreeTime(ctx, params)
	case "reschedule_event":
		return s.rescheduleEvent(ctx, params)
	default:
		return Errorf("unknown calendar method: %s", method), nil
	}
}

// EnsureISO coerces a start/end pair into RFC 3339 with an explicit zone,
// assuming the configured location when none is present. It is called by
// the orchestrator immediately before dispatching a create action.
func (s *CalendarService) EnsureISO(startRaw, endRaw string) (string, string, error) {
	start, err := timeutil.ParseISO(startRaw)
	if err != nil {
		return "", "", fmt.Errorf("parse start time %q: %w", startRaw, err)
	}
	end, err := timeutil.ParseISO(endRaw)
	if err != nil {
		return "", "", fmt.Errorf("parse end time %q: %w", endRaw, err)
	}
	if start.Location() == time.UTC && len(startRaw) == len("2006-01-02T15:04:05") {
		start = time.Date(start.Year(), start.Month(), start.Day(), start.Hour(), start.Minute(), start.Second(), 0, s.loc)
	}
	if end.Location() == time.UTC && len(endRaw) == len("2006-01-02T15:04:05") {
		end = time.Date(end.Year(), end.Month(), end.Day(), end.Hour(), end.Minute(), end.Second(), 0, s.loc)
	}
	return start.Format(time.RFC3339), end.Format(time.RFC3339), nil
}

func (s *CalendarService) listEvents(ctx context.Context, params map[string]any) (*Result, error) {
	timeMin := StringParam(params, "time_min")
	timeMax := StringParam(params, "time_max")
	maxResults := IntParam(params, "max_results", 10)

	call := s.api.Events.List(s.calendarID).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(int64(maxResults)).
		Context(ctx)
	if timeMin != "" {
		call = call.TimeMin(timeMin)
	} else {
		call = call.TimeMin(time.Now().In(s.loc).Format(time.RFC3339))
	}
	if timeMax != "" {
		call = call.TimeMax(timeMax)
	}

	resp, err := s.breakered(func() (any, error) { return call.Do() })
	if err != nil {
		return Errorf("failed to list events: %v", err), nil
	}

	events := flattenEvents(resp.(*calendar.Events).Items)
	return Success(fmt.Sprintf("Found %d events", len(events)), map[string]any{
		"events": events,
		"count":  len(events),
	}), nil
}

func (s *CalendarService) createEvent(ctx context.Context, params map[string]any) (*Result, error) {
	summary := StringParam(params, "summary")
	startTime := StringParam(params, "start_time")
	endTime := StringParam(params, "end_time")
	if summary == "" || startTime == "" || endTime == "" {
		return Errorf("create_event requires summary, start_time and end_time"), nil
	}

	if BoolParam(params, "check_for_conflicts", true) {
		res, err := s.checkConflicts(ctx, map[string]any{
			"start_time": startTime,
			"end_time":   endTime,
		})
		if err != nil {
			return nil, err
		}
		if res.Status == StatusSuccess && res.Data != nil {
			if has, _ := res.Data["has_conflicts"].(bool); has {
				return Conflict(
					fmt.Sprintf("'%s' overlaps existing events", summary),
					map[string]any{"conflicts": res.Data["conflicts"]},
				), nil
			}
		}
	}

	event := &calendar.Event{
		Summary:     summary,
		Description: StringParam(params, "description"),
		Location:    StringParam(params, "location"),
		Start:       &calendar.EventDateTime{DateTime: startTime, TimeZone: s.loc.String()},
		End:         &calendar.EventDateTime{DateTime: endTime, TimeZone: s.loc.String()},
	}

	created, err := s.breakered(func() (any, error) {
		return s.api.Events.Insert(s.calendarID, event).Context(ctx).Do()
	})
	if err != nil {
		return Errorf("failed to create event: %v", err), nil
	}

	ev := created.(*calendar.Event)
	s.log.Info().Str("event_id", ev.Id).Str("summary", summary).Msg("event created")
	return Success(fmt.Sprintf("Event '%s' created", summary), map[string]any{
		"event_id": ev.Id,
		"link":     ev.HtmlLink,
		"start":    startTime,
		"end":      endTime,
	}), nil
}

func (s *CalendarService) updateEvent(ctx context.Context, params map[string]any) (*Result, error) {
	eventID := StringParam(params, "event_id")
	if eventID == "" {
		return Errorf("update_event requires event_id"), nil
	}

	patch := &calendar.Event{}
	if v := StringParam(params, "summary"); v != "" {
		patch.Summary = v
	}
	if v := StringParam(params, "description"); v != "" {
		patch.Description = v
	}
	if v := StringParam(params, "location"); v != "" {
		patch.Location = v
	}
	if v := StringParam(params, "start_time"); v != "" {
		patch.Start = &calendar.EventDateTime{DateTime: v, TimeZone: s.loc.String()}
	}
	if v := StringParam(params, "end_time"); v != "" {
		patch.End = &calendar.EventDateTime{DateTime: v, TimeZone: s.loc.String()}
	}

	updated, err := s.breakered(func() (any, error) {
		return s.api.Events.Patch(s.calendarID, eventID, patch).Context(ctx).Do()
	})
	if err != nil {
		return Errorf("failed to update event: %v", err), nil
	}

	ev := updated.(*calendar.Event)
	return Success(fmt.Sprintf("Event '%s' updated", ev.Summary), map[string]any{
		"event_id": ev.Id,
	}), nil
}

func (s *CalendarService) deleteEvent(ctx context.Context, params map[string]any) (*Result, error) {
	eventID := StringParam(params, "event_id")
	if eventID == "" {
		return Errorf("delete_event requires event_id"), nil
	}

	_, err := s.breakered(func() (any, error) {
		return nil, s.api.Events.Delete(s.calendarID, eventID).Context(ctx).Do()
	})
	if err != nil {
		return Errorf("failed to delete event: %v", err), nil
	}
	return Success("Event deleted", map[string]any{"event_id": eventID}), nil
}

func (s *CalendarService) checkConflicts(ctx context.Context, params map[string]any) (*Result, error) {
	startTime := StringParam(params, "start_time")
	endTime := StringParam(params, "end_time")
	if startTime == "" || endTime == "" {
		return Errorf("check_conflicts requires start_time and end_time"), nil
	}

	resp, err := s.breakered(func() (any, error) {
		return s.api.Events.List(s.calendarID).
			TimeMin(startTime).
			TimeMax(endTime).
			SingleEvents(true).
			OrderBy("startTime").
			Context(ctx).
			Do()
	})
	if err != nil {
		return Errorf("failed to check conflicts: %v", err), nil
	}

	conflicts := flattenEvents(resp.(*calendar.Events).Items)
	return Success(fmt.Sprintf("Found %d overlapping events", len(conflicts)), map[string]any{
		"has_conflicts": len(conflicts) > 0,
		"conflicts":     conflicts,
		"count":         len(conflicts),
	}), nil
}

func (s *CalendarService) searchEvents(ctx context.Context, params map[string]any) (*Result, error) {
	query := StringParam(params, "query")
	if query == "" {
		return Errorf("search_events requires query"), nil
	}
	maxResults := IntParam(params, "max_results", 10)

	call := s.api.Events.List(s.calendarID).
		Q(query).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(int64(maxResults)).
		Context(ctx)
	if v := StringParam(params, "time_min"); v != "" {
		call = call.TimeMin(v)
	}
	if v := StringParam(params, "time_max"); v != "" {
		call = call.TimeMax(v)
	}

	resp, err := s.breakered(func() (any, error) { return call.Do() })
	if err != nil {
		return Errorf("failed to search events: %v", err), nil
	}

	events := flattenEvents(resp.(*calendar.Events).Items)
	return Success(fmt.Sprintf("Found %d matching events", len(events)), map[string]any{
		"events": events,
		"count":  len(events),
	}), nil
}

func (s *CalendarService) findFreeTime(ctx context.Context, params map[string]any) (*Result, error) {
	timeMin := StringParam(params, "time_min")
	timeMax := StringParam(params, "time_max")
	if timeMin == "" || timeMax == "" {
		return Errorf("find_free_time requires time_min and time_max"), nil
	}
	duration := time.Duration(IntParam(params, "duration_minutes", 60)) * time.Minute

	rangeStart, err := timeutil.ParseISO(timeMin)
	if err != nil {
		return Errorf("invalid time_min: %v", err), nil
	}
	rangeEnd, err := timeutil.ParseISO(timeMax)
	if err != nil {
		return Errorf("invalid time_max: %v", err), nil
	}

	resp, err := s.breakered(func() (any, error) {
		return s.api.Events.List(s.calendarID).
			TimeMin(timeMin).
			TimeMax(timeMax).
			SingleEvents(true).
			OrderBy("startTime").
			Context(ctx).
			Do()
	})
	if err != nil {
		return Errorf("failed to query calendar: %v", err), nil
	}

	busy := busyIntervals(resp.(*calendar.Events).Items)
	slots := FreeSlots(rangeStart, rangeEnd, duration, busy)

	formatted := make([]map[string]any, 0, len(slots))
	for _, slot := range slots {
		formatted = append(formatted, map[string]any{
			"start": slot.Start.Format(time.RFC3339),
			"end":   slot.End.Format(time.RFC3339),
		})
	}
	return Success(fmt.Sprintf("Found %d free slots", len(formatted)), map[string]any{
		"free_slots": formatted,
		"count":      len(formatted),
	}), nil
}

func (s *CalendarService) rescheduleEvent(ctx context.Context, params map[string]any) (*Result, error) {
	eventID := StringParam(params, "event_id")
	newStart := StringParam(params, "new_start_time")
	if eventID == "" || newStart == "" {
		return Errorf("reschedule_event requires event_id and new_start_time"), nil
	}

	existing, err := s.breakered(func() (any, error) {
		return s.api.Events.Get(s.calendarID, eventID).Context(ctx).Do()
	})
	if err != nil {
		return Errorf("failed to load event: %v", err), nil
	}
	ev := existing.(*calendar.Event)

	newEnd := StringParam(params, "new_end_time")
	if newEnd == "" {
		// Preserve the original duration.
		oldStart, err1 := timeutil.ParseISO(ev.Start.DateTime)
		oldEnd, err2 := timeutil.ParseISO(ev.End.DateTime)
		start, err3 := timeutil.ParseISO(newStart)
		if err1 != nil || err2 != nil || err3 != nil {
			return Errorf("cannot derive new end time for event %s", eventID), nil
		}
		newEnd = start.Add(oldEnd.Sub(oldStart)).Format(time.RFC3339)
	}

	return s.updateEvent(ctx, map[string]any{
		"event_id":   eventID,
		"start_time": newStart,
		"end_time":   newEnd,
	})
}

func (s *CalendarService) breakered(fn func() (any, error)) (any, error) {
	return s.cb.Execute(func() (interface{}, error) { return fn() })
}

func flattenEvents(items []*calendar.Event) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		var start, end string
		if item.Start != nil {
			start = item.Start.DateTime
			if start == "" {
				start = item.Start.Date
			}
		}
		if item.End != nil {
			end = item.End.DateTime
			if end == "" {
				end = item.End.Date
			}
		}
		out = append(out, map[string]any{
			"id":       item.Id,
			"summary":  item.Summary,
			"start":    start,
			"end":      end,
			"location": item.Location,
		})
	}
	return out
}

func busyIntervals(items []*calendar.Event) []timeutil.Interval {
	var busy []timeutil.Interval
	for _, item := range items {
		if item.Start == nil || item.End == nil || item.Start.DateTime == "" || item.End.DateTime == "" {
			continue
		}
		start, err1 := timeutil.ParseISO(item.Start.DateTime)
		end, err2 := timeutil.ParseISO(item.End.DateTime)
		if err1 != nil || err2 != nil {
			continue
		}
		busy = append(busy, timeutil.Interval{Start: start, End: end})
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy
}

// FreeSlots walks a time range and collects sub-intervals of at least the
// requested duration that fall outside every busy interval.
func FreeSlots(rangeStart, rangeEnd time.Time, duration time.Duration, busy []timeutil.Interval) []timeutil.Interval {
	var slots []timeutil.Interval
	cursor := rangeStart
	for _, b := range busy {
		gapEnd := b.Start
		if gapEnd.After(rangeEnd) {
			gapEnd = rangeEnd
		}
		if gapEnd.After(cursor) && gapEnd.Sub(cursor) >= duration {
			slots = append(slots, timeutil.Interval{Start: cursor, End: gapEnd})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
		if !cursor.Before(rangeEnd) {
			return slots
		}
	}
	if rangeEnd.After(cursor) && rangeEnd.Sub(cursor) >= duration {
		slots = append(slots, timeutil.Interval{Start: cursor, End: rangeEnd})
	}
	return slots
}
