package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/rahul/concierge/internal/services"
	"github.com/rahul/concierge/internal/timeutil"
)

// WelcomeMessage greets a sender the gateway has not seen before.
const WelcomeMessage = "Hi! I'm your personal concierge. I can manage your calendar and email for you. " +
	"Try \"schedule a meeting tomorrow at 3pm\" or \"when am I free on Friday?\"."

// ThinkingMessage is sent immediately on receipt so the sender knows the
// request landed while the pipeline runs.
const ThinkingMessage = "On it, give me a moment..."

// FormatEventList renders calendar events as a numbered list. Events are
// maps as returned in a Result's "events" data entry.
func FormatEventList(events []map[string]any) string {
	if len(events) == 0 {
		return "No events found for that period."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d event(s):\n", len(events))
	for i, ev := range events {
		summary := services.StringParam(ev, "summary")
		if summary == "" {
			summary = "(untitled)"
		}
		fmt.Fprintf(&b, "%d. %s", i+1, summary)
		if when := timeutil.FormatRange(services.StringParam(ev, "start"), services.StringParam(ev, "end")); when != "" {
			fmt.Fprintf(&b, " — %s", when)
		}
		if loc := services.StringParam(ev, "location"); loc != "" {
			fmt.Fprintf(&b, " @ %s", loc)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatEmailList renders email summaries as a numbered list.
func FormatEmailList(emails []map[string]any) string {
	if len(emails) == 0 {
		return "No emails found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d email(s):\n", len(emails))
	for i, em := range emails {
		subject := services.StringParam(em, "subject")
		if subject == "" {
			subject = "(no subject)"
		}
		fmt.Fprintf(&b, "%d. %s — from %s\n", i+1, subject, services.StringParam(em, "from"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatFreeSlots renders free time slots as a numbered list.
func FormatFreeSlots(slots []timeutil.Interval) string {
	if len(slots) == 0 {
		return "No free slots in that range."
	}
	var b strings.Builder
	b.WriteString("You're free at:\n")
	for i, slot := range slots {
		fmt.Fprintf(&b, "%d. %s\n", i+1,
			timeutil.FormatRange(slot.Start.Format(time.RFC3339), slot.End.Format(time.RFC3339)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatReminderList renders pending reminders as a numbered list.
func FormatReminderList(reminders []map[string]any) string {
	if len(reminders) == 0 {
		return "No pending reminders."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d pending reminder(s):\n", len(reminders))
	for i, r := range reminders {
		fmt.Fprintf(&b, "%d. %s", i+1, services.StringParam(r, "description"))
		if at, err := timeutil.ParseISO(services.StringParam(r, "remind_at")); err == nil {
			fmt.Fprintf(&b, " — %s", at.Format("Mon Jan 2 3:04 PM"))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatVerificationRequest asks the sender to approve a pending plan.
func FormatVerificationRequest(plan *ActionPlan) string {
	var b strings.Builder
	b.WriteString("Before I go ahead, please confirm:\n\n")
	if plan.Summary != "" {
		b.WriteString(plan.Summary)
		b.WriteString("\n\n")
	}
	for i, action := range plan.Actions {
		fmt.Fprintf(&b, "%d. %s %s", i+1, describeMethod(action.Method), action.Service)
		if summary := services.StringParam(action.Params, "summary"); summary != "" {
			fmt.Fprintf(&b, ": %q", summary)
		}
		if when := timeutil.FormatRange(
			services.StringParam(action.Params, "start_time"),
			services.StringParam(action.Params, "end_time")); when != "" {
			fmt.Fprintf(&b, " (%s)", when)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nReply \"yes\" to proceed or \"no\" to cancel.")
	return b.String()
}

func describeMethod(method string) string {
	parts := strings.SplitN(method, "_", 2)
	switch parts[0] {
	case "create":
		return "Create on"
	case "update":
		return "Update on"
	case "delete":
		return "Delete from"
	case "send":
		return "Send via"
	case "reply":
		return "Reply via"
	case "reschedule":
		return "Reschedule on"
	default:
		if parts[0] == "" {
			return "Run on"
		}
		return strings.ToUpper(parts[0][:1]) + parts[0][1:] + " on"
	}
}

// FormatConflictResponse reports a scheduling conflict and the proposed
// alternative slots, numbered from one so the sender can pick by index.
func FormatConflictResponse(conflicts []map[string]any, alternatives []timeutil.Interval) string {
	var b strings.Builder
	if len(conflicts) == 0 {
		b.WriteString("That time conflicts with an existing event on your calendar.\n")
	} else {
		b.WriteString("That time conflicts with:\n")
		for _, ev := range conflicts {
			summary := services.StringParam(ev, "summary")
			if summary == "" {
				summary = "(untitled)"
			}
			fmt.Fprintf(&b, "• %s — %s\n", summary,
				timeutil.FormatRange(services.StringParam(ev, "start"), services.StringParam(ev, "end")))
		}
	}
	if len(alternatives) > 0 {
		b.WriteString("\nI could schedule it at:\n")
		for i, alt := range alternatives {
			fmt.Fprintf(&b, "%d. %s\n", i+1,
				timeutil.FormatRange(alt.Start.Format(time.RFC3339), alt.End.Format(time.RFC3339)))
		}
		b.WriteString("\nReply with a number to pick one, a different time like \"9am\", \"create anyway\" to keep the original time, or \"cancel\".")
	} else {
		b.WriteString("\nReply \"create anyway\" to keep the original time, or \"cancel\".")
	}
	return b.String()
}

// FormatResultDetails renders the list payloads carried by a result
// batch (events, emails, free slots) so the sender always sees the
// actual items, however the model chose to summarize them.
func FormatResultDetails(results []*services.Result) string {
	var parts []string
	for _, res := range results {
		if res.Status != services.StatusSuccess || res.Data == nil {
			continue
		}
		if evs, ok := mapList(res.Data["events"]); ok {
			parts = append(parts, FormatEventList(evs))
		}
		if ems, ok := mapList(res.Data["emails"]); ok {
			parts = append(parts, FormatEmailList(ems))
		}
		if rems, ok := mapList(res.Data["reminders"]); ok {
			parts = append(parts, FormatReminderList(rems))
		}
		if raw, ok := mapList(res.Data["free_slots"]); ok {
			var slots []timeutil.Interval
			for _, m := range raw {
				start, serr := timeutil.ParseISO(services.StringParam(m, "start"))
				end, eerr := timeutil.ParseISO(services.StringParam(m, "end"))
				if serr != nil || eerr != nil {
					continue
				}
				slots = append(slots, timeutil.Interval{Start: start, End: end})
			}
			parts = append(parts, FormatFreeSlots(slots))
		}
	}
	return strings.Join(parts, "\n\n")
}

// mapList coerces a data entry into a list of maps, tolerating the
// []any shape the entry takes after a JSON round trip. The second
// return reports whether the entry was present at all.
func mapList(v any) ([]map[string]any, bool) {
	switch list := v.(type) {
	case []map[string]any:
		return list, true
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// FormatResults is the deterministic fallback rendering of a result
// batch, used when the response model is unavailable.
func FormatResults(results []*services.Result) string {
	if len(results) == 0 {
		return "Nothing to do."
	}
	var b strings.Builder
	for _, res := range results {
		switch res.Status {
		case services.StatusSuccess:
			fmt.Fprintf(&b, "✅ %s\n", res.Message)
		case services.StatusConflict:
			fmt.Fprintf(&b, "⚠️ %s\n", res.Message)
		default:
			fmt.Fprintf(&b, "❌ %s\n", res.Message)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
