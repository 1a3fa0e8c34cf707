package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Calendar used in development (no credentials) and
// tests. Setting a failure makes every call return ErrUnavailable.
type Memory struct {
	mu      sync.Mutex
	events  map[string]map[string]Event
	failure error
}

// NewMemory returns an empty in-memory calendar.
func NewMemory() *Memory {
	return &Memory{events: make(map[string]map[string]Event)}
}

// SetFailure makes subsequent calls fail with err wrapped in ErrUnavailable;
// nil restores normal behaviour.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// Add seeds an existing event and returns its id.
func (m *Memory) Add(calendarID string, start, end time.Time) string {
	id, _ := m.InsertEvent(context.Background(), Event{CalendarID: calendarID, Summary: "busy", Start: start, End: end})
	return id
}

func (m *Memory) BusyIntervals(ctx context.Context, calendarID string, from, to time.Time) ([]Busy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	var busy []Busy
	for _, ev := range m.events[calendarID] {
		b := Busy{Start: ev.Start, End: ev.End}
		if b.Overlaps(from, to) {
			busy = append(busy, b)
		}
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy, nil
}

func (m *Memory) InsertEvent(ctx context.Context, ev Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if m.events[ev.CalendarID] == nil {
		m.events[ev.CalendarID] = make(map[string]Event)
	}
	m.events[ev.CalendarID][id] = ev
	return id, nil
}

func (m *Memory) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	delete(m.events[calendarID], eventID)
	return nil
}

// Events returns a copy of the events stored for a calendar.
func (m *Memory) Events(calendarID string) map[string]Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Event, len(m.events[calendarID]))
	for id, ev := range m.events[calendarID] {
		out[id] = ev
	}
	return out
}

func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if m.failure != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, m.failure)
	}
	return nil
}
