// Package workhours parses per-day opening hours documents and resolves the
// open windows for a concrete local date.
package workhours

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Clock is a time of day expressed in minutes since midnight.
type Clock int

// EndOfDay is the value "00:00" takes when used as the end of an interval.
const EndOfDay Clock = 23*60 + 59

// ParseClock parses "HH:MM" (also "H:MM").
func ParseClock(v string) (Clock, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("workhours: empty clock")
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("workhours: invalid clock %q: %w", v, err)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

// Hour returns the hour component.
func (c Clock) Hour() int { return int(c) / 60 }

// Minute returns the minute component.
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Interval is an open window within a day. To < From wraps past midnight;
// To == 0 is read as end of day.
type Interval struct {
	From Clock `json:"from"`
	To   Clock `json:"to"`
}

// Wraps reports whether the interval ends on the following calendar day.
func (i Interval) Wraps() bool {
	return i.To != 0 && i.To < i.From
}

// Schedule is the canonical representation of a working-hours document. A day
// missing from the map is closed. A nil Schedule means "not configured"; an
// empty non-nil Schedule is a document with every day closed.
type Schedule map[time.Weekday][]Interval

// IsConfigured reports whether a document was present, even one whose days
// are all closed.
func (s Schedule) IsConfigured() bool {
	return s != nil
}

// Default is used when no document is configured anywhere:
// Monday to Saturday 08:00-22:00, Sunday closed.
func Default() Schedule {
	day := []Interval{{From: 8 * 60, To: 22 * 60}}
	return Schedule{
		time.Monday:    day,
		time.Tuesday:   day,
		time.Wednesday: day,
		time.Thursday:  day,
		time.Friday:    day,
		time.Saturday:  day,
	}
}

// Resolve returns the first configured schedule in priority order, or Default.
func Resolve(candidates ...Schedule) Schedule {
	for _, s := range candidates {
		if s.IsConfigured() {
			return s
		}
	}
	return Default()
}

// Window is an open interval materialised on a concrete date.
type Window struct {
	Start time.Time
	End   time.Time
}

// IsWorkingDay reports whether the schedule has at least one interval on the
// weekday of date.
func (s Schedule) IsWorkingDay(date time.Time) bool {
	return len(s[date.Weekday()]) > 0
}

// OpenWindows returns the open windows on the local date of day, ordered by
// start. The returned times are in loc.
func (s Schedule) OpenWindows(day time.Time, loc *time.Location) []Window {
	if loc == nil {
		loc = day.Location()
	}
	local := day.In(loc)
	y, m, d := local.Date()
	intervals := s[local.Weekday()]
	if len(intervals) == 0 {
		return nil
	}

	windows := make([]Window, 0, len(intervals))
	for _, iv := range intervals {
		start := time.Date(y, m, d, iv.From.Hour(), iv.From.Minute(), 0, 0, loc)
		var end time.Time
		switch {
		case iv.To == 0:
			end = time.Date(y, m, d, EndOfDay.Hour(), EndOfDay.Minute(), 0, 0, loc)
		case iv.Wraps():
			end = time.Date(y, m, d+1, iv.To.Hour(), iv.To.Minute(), 0, 0, loc)
		default:
			end = time.Date(y, m, d, iv.To.Hour(), iv.To.Minute(), 0, 0, loc)
		}
		if !end.After(start) {
			continue
		}
		windows = append(windows, Window{Start: start, End: end})
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start.Before(windows[j].Start) })
	return windows
}

// Summary renders the schedule for prompts, e.g. "lunes 09:00-18:00".
func (s Schedule) Summary() string {
	order := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday}
	var parts []string
	for _, wd := range order {
		intervals := s[wd]
		if len(intervals) == 0 {
			continue
		}
		spans := make([]string, 0, len(intervals))
		for _, iv := range intervals {
			to := iv.To
			if to == 0 {
				to = EndOfDay
			}
			spans = append(spans, iv.From.String()+"-"+to.String())
		}
		parts = append(parts, SpanishDayName(wd)+" "+strings.Join(spans, ", "))
	}
	if len(parts) == 0 {
		return "cerrado"
	}
	return strings.Join(parts, "; ")
}
