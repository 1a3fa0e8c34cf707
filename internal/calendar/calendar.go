// Package calendar reads busy intervals from, and writes events to, the
// external calendar each tenant books against.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps every failure talking to the external calendar.
var ErrUnavailable = errors.New("calendar: unavailable")

// Busy is an occupied interval in the business timezone.
type Busy struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether b intersects [start, end).
func (b Busy) Overlaps(start, end time.Time) bool {
	return b.Start.Before(end) && b.End.After(start)
}

// Event is a booking written to the external calendar.
type Event struct {
	CalendarID  string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Calendar is the external calendar boundary.
type Calendar interface {
	// BusyIntervals lists occupied intervals intersecting [from, to).
	BusyIntervals(ctx context.Context, calendarID string, from, to time.Time) ([]Busy, error)
	// InsertEvent creates an event and returns its provider id.
	InsertEvent(ctx context.Context, ev Event) (string, error)
	// DeleteEvent removes an event; deleting an unknown event is not an error.
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// CountOverlaps returns how many busy intervals intersect [start, end).
func CountOverlaps(busy []Busy, start, end time.Time) int {
	n := 0
	for _, b := range busy {
		if b.Overlaps(start, end) {
			n++
		}
	}
	return n
}

var mockHours = []int{9, 11, 15, 17, 19}

// MockSlots is the deterministic offer used while the calendar is unreachable:
// the next three days (weekdays only) at 09, 11, 15, 17 and 19 hs.
func MockSlots(now time.Time, loc *time.Location) []time.Time {
	if loc == nil {
		loc = now.Location()
	}
	local := now.In(loc)
	y, m, d := local.Date()

	var slots []time.Time
	for offset := 1; offset <= 3; offset++ {
		day := time.Date(y, m, d+offset, 0, 0, 0, 0, loc)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		for _, h := range mockHours {
			slots = append(slots, time.Date(y, m, d+offset, h, 0, 0, 0, loc))
		}
	}
	return slots
}
