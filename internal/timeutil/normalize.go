package timeutil

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultDuration is assumed when no duration can be parsed from the request.
const DefaultDuration = 60 * time.Minute

// Normalizer resolves natural-language date and time expressions into
// absolute timestamps in a fixed location. It never fails: unparseable
// input degrades to the current date or hour.
type Normalizer struct {
	loc *time.Location
	now func() time.Time
}

func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	n := &Normalizer{loc: loc}
	n.now = func() time.Time { return time.Now().In(n.loc) }
	return n
}

// Now reports the current time in the normalizer's location.
func (n *Normalizer) Now() time.Time {
	return n.now()
}

// Normalize converts a date expression, a time expression and an optional
// duration expression into an absolute (start, end) pair. End is always
// start plus the parsed duration (60 minutes by default).
func (n *Normalizer) Normalize(dateExpr, timeExpr, durationExpr string) (time.Time, time.Time) {
	now := n.now()
	date := n.resolveDate(dateExpr, now)
	hour, minute := resolveTime(timeExpr, now)

	start := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, n.loc)
	end := start.Add(ParseDuration(durationExpr))
	return start, end
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

var (
	monthDayYearRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	monthDayNumRe  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\b`)
	isoDateRe      = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	dayMonthRe     = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+([a-z]+)\b`)
	monthDayRe     = regexp.MustCompile(`\b([a-z]+)\s+(\d{1,2})(?:st|nd|rd|th)?\b`)
)

// resolveDate tries, in order: literal keywords, weekday names, explicit
// date patterns. Anything unrecognized resolves to today.
func (n *Normalizer) resolveDate(expr string, now time.Time) time.Time {
	text := strings.ToLower(strings.TrimSpace(expr))

	switch {
	case strings.Contains(text, "today"):
		return now
	case strings.Contains(text, "tomorrow"):
		return now.AddDate(0, 0, 1)
	}

	for name, wd := range weekdays {
		if strings.Contains(text, name) {
			days := int(wd-now.Weekday()+7) % 7
			// A named weekday matching today means next week, never today.
			if days == 0 {
				days = 7
			}
			return now.AddDate(0, 0, days)
		}
	}

	if m := monthDayYearRe.FindStringSubmatch(text); m != nil {
		return n.dateFrom(atoi(m[3]), atoi(m[1]), atoi(m[2]), now)
	}
	if m := monthDayNumRe.FindStringSubmatch(text); m != nil {
		return n.dateFrom(now.Year(), atoi(m[1]), atoi(m[2]), now)
	}
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		return n.dateFrom(atoi(m[1]), atoi(m[2]), atoi(m[3]), now)
	}
	if m := dayMonthRe.FindStringSubmatch(text); m != nil {
		if mon, ok := monthByPrefix(m[2]); ok {
			return n.dateFrom(now.Year(), int(mon), atoi(m[1]), now)
		}
	}
	if m := monthDayRe.FindStringSubmatch(text); m != nil {
		if mon, ok := monthByPrefix(m[1]); ok {
			return n.dateFrom(now.Year(), int(mon), atoi(m[2]), now)
		}
	}

	return now
}

func (n *Normalizer) dateFrom(year, month, day int, now time.Time) time.Time {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return now
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, n.loc)
}

// monthByPrefix accepts full month names and abbreviations of at least
// three letters ("jan", "sept").
func monthByPrefix(word string) (time.Month, bool) {
	if len(word) < 3 {
		return 0, false
	}
	for name, m := range months {
		if strings.HasPrefix(name, word) {
			return m, true
		}
	}
	return 0, false
}

var (
	ampmTimeRe  = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	clockTimeRe = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
)

var namedTimes = map[string][2]int{
	"noon":      {12, 0},
	"midnight":  {0, 0},
	"morning":   {9, 0},
	"afternoon": {14, 0},
	"evening":   {18, 0},
}

// ClockFromExpr extracts an explicit clock time from free text, trying
// am/pm notation, then 24-hour HH:MM, then named periods. It reports
// false when the text names no recognizable time.
func ClockFromExpr(expr string) (hour, minute int, ok bool) {
	text := strings.ToLower(strings.TrimSpace(expr))

	if m := ampmTimeRe.FindStringSubmatch(text); m != nil {
		hour := atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute = atoi(m[2])
		}
		if m[3] == "pm" && hour != 12 {
			hour += 12
		} else if m[3] == "am" && hour == 12 {
			hour = 0
		}
		if hour < 24 && minute < 60 {
			return hour, minute, true
		}
	}

	if m := clockTimeRe.FindStringSubmatch(text); m != nil {
		hour, minute := atoi(m[1]), atoi(m[2])
		if hour < 24 && minute < 60 {
			return hour, minute, true
		}
	}

	for name, hm := range namedTimes {
		if strings.Contains(text, name) {
			return hm[0], hm[1], true
		}
	}

	return 0, 0, false
}

// resolveTime defaults to (current hour, 0) when no explicit time is
// present.
func resolveTime(expr string, now time.Time) (int, int) {
	if hour, minute, ok := ClockFromExpr(expr); ok {
		return hour, minute
	}
	return now.Hour(), 0
}

var (
	hoursRe   = regexp.MustCompile(`(\d+)\s*h(?:ou)?rs?|(\d+)\s*hour`)
	minutesRe = regexp.MustCompile(`(\d+)\s*m(?:in(?:ute)?s?)?\b`)
)

// ParseDuration extracts independent hour and minute counts from free text
// and sums them; "1 hour 30 minutes" yields 90 minutes. No number at all
// yields the default of 60 minutes.
func ParseDuration(expr string) time.Duration {
	text := strings.ToLower(strings.TrimSpace(expr))
	if text == "" {
		return DefaultDuration
	}

	total := time.Duration(0)
	if m := hoursRe.FindStringSubmatch(text); m != nil {
		n := m[1]
		if n == "" {
			n = m[2]
		}
		total += time.Duration(atoi(n)) * time.Hour
	}
	if m := minutesRe.FindStringSubmatch(text); m != nil {
		total += time.Duration(atoi(m[1])) * time.Minute
	}

	if total == 0 {
		return DefaultDuration
	}
	return total
}

// FormatRange renders two ISO timestamps as a human 12-hour range like
// "3:00 PM to 4:00 PM". Malformed input is echoed back rather than
// failing; empty input renders as empty.
func FormatRange(startISO, endISO string) string {
	if startISO == "" && endISO == "" {
		return ""
	}
	start, err1 := ParseISO(startISO)
	end, err2 := ParseISO(endISO)
	if err1 != nil || err2 != nil {
		return startISO + " to " + endISO
	}
	return start.Format("3:04 PM") + " to " + end.Format("3:04 PM")
}

// ParseISO parses an RFC 3339 timestamp, tolerating a missing zone.
func ParseISO(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
