// Package availability computes bookable slot start times from working hours,
// existing calendar events and per-service booking policies.
package availability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/agenda-ai-platform/internal/calendar"
	"github.com/wolfman30/agenda-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-ai-platform/internal/workhours"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

var tracer = otel.Tracer("agenda.internal.availability")

// ErrInvalidDuration is returned for services without a positive duration.
var ErrInvalidDuration = errors.New("availability: service duration must be positive")

const (
	// LeadTime is the minimum distance between now and an offered slot.
	LeadTime = 20 * time.Minute

	DefaultHorizonDays = 14
	DefaultMaxSlots    = 25

	halfHour = 30 * time.Minute
)

// Params describes one slot query.
type Params struct {
	CalendarID     string
	Duration       time.Duration
	Capacity       int
	PartySize      int
	Gap            time.Duration
	ExactHoursOnly bool
	Consecutive    bool
	Schedule       workhours.Schedule
	HorizonDays    int
	MaxSlots       int
	// Day restricts the search to one local date when non-zero.
	Day time.Time
}

// Result is the ordered list of slot starts. Mock is set when the calendar
// could not be read and the deterministic fallback offer was used.
type Result struct {
	Slots []time.Time
	Mock  bool
}

// Generator produces slots against a Calendar.
type Generator struct {
	cal         calendar.Calendar
	loc         *time.Location
	now         func() time.Time
	logger      *logging.Logger
	metrics     *metrics.BookingMetrics
	horizonDays int
	maxSlots    int
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithMetrics records generation runs.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithDefaults sets the horizon and result cap used when Params leave them zero.
func WithDefaults(horizonDays, maxSlots int) Option {
	return func(g *Generator) {
		if horizonDays > 0 {
			g.horizonDays = horizonDays
		}
		if maxSlots > 0 {
			g.maxSlots = maxSlots
		}
	}
}

// NewGenerator builds a generator for the business timezone loc.
func NewGenerator(cal calendar.Calendar, loc *time.Location, logger *logging.Logger, opts ...Option) *Generator {
	if cal == nil {
		panic("availability: calendar required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	g := &Generator{
		cal:         cal,
		loc:         loc,
		now:         time.Now,
		logger:      logger,
		horizonDays: DefaultHorizonDays,
		maxSlots:    DefaultMaxSlots,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Location returns the business timezone.
func (g *Generator) Location() *time.Location { return g.loc }

// Now returns the generator's current time in the business timezone.
func (g *Generator) Now() time.Time { return g.now().In(g.loc) }

// Slots returns the bookable starts for p. Calendar failures are not
// returned: the mock offer is used instead and Result.Mock is set.
func (g *Generator) Slots(ctx context.Context, p Params) (Result, error) {
	if p.Duration <= 0 {
		return Result{}, ErrInvalidDuration
	}
	p = g.withDefaults(p)

	ctx, span := tracer.Start(ctx, "availability.slots")
	defer span.End()
	span.SetAttributes(
		attribute.String("agenda.calendar_id", p.CalendarID),
		attribute.Int("agenda.duration_minutes", int(p.Duration/time.Minute)),
	)

	now := g.Now()
	days := g.days(now, p)
	if len(days) == 0 {
		g.metrics.ObserveSlots("calendar", 0)
		return Result{}, nil
	}

	from := now.Add(-p.Gap)
	if first := days[0]; first.After(now) {
		from = first.Add(-p.Gap)
	}
	to := days[len(days)-1].AddDate(0, 0, 2)

	busy, err := g.cal.BusyIntervals(ctx, p.CalendarID, from, to)
	if err != nil {
		span.RecordError(err)
		g.logger.Warn("availability: calendar unavailable, offering mock slots",
			"calendar_id", p.CalendarID, "error", err)
		slots := g.mock(now, p)
		g.metrics.ObserveSlots("mock", len(slots))
		return Result{Slots: slots, Mock: true}, nil
	}

	slots := Compute(now, days, busy, p, g.loc)
	g.metrics.ObserveSlots("calendar", len(slots))
	span.SetAttributes(attribute.Int("agenda.slots", len(slots)))
	return Result{Slots: slots}, nil
}

func (g *Generator) withDefaults(p Params) Params {
	if p.HorizonDays <= 0 {
		p.HorizonDays = g.horizonDays
	}
	if p.MaxSlots <= 0 {
		p.MaxSlots = g.maxSlots
	}
	if p.Capacity < 1 {
		p.Capacity = 1
	}
	if p.PartySize < 1 {
		p.PartySize = 1
	}
	if p.Gap < 0 {
		p.Gap = 0
	}
	if !p.Schedule.IsConfigured() {
		p.Schedule = workhours.Default()
	}
	return p
}

// days lists the local midnights to scan: the requested day only, or
// [today, today+horizon).
func (g *Generator) days(now time.Time, p Params) []time.Time {
	today := midnight(now, g.loc)
	if !p.Day.IsZero() {
		day := midnight(p.Day, g.loc)
		if day.Before(today) {
			return nil
		}
		return []time.Time{day}
	}
	days := make([]time.Time, 0, p.HorizonDays)
	for i := 0; i < p.HorizonDays; i++ {
		days = append(days, today.AddDate(0, 0, i))
	}
	return days
}

// mock filters the deterministic offer to the requested day when it has
// entries there.
func (g *Generator) mock(now time.Time, p Params) []time.Time {
	all := calendar.MockSlots(now, g.loc)
	slots := all
	if !p.Day.IsZero() {
		day := midnight(p.Day, g.loc)
		var sameDay []time.Time
		for _, s := range all {
			if midnight(s, g.loc).Equal(day) {
				sameDay = append(sameDay, s)
			}
		}
		if len(sameDay) > 0 {
			slots = sameDay
		}
	}
	if len(slots) > p.MaxSlots {
		slots = slots[:p.MaxSlots]
	}
	return slots
}

// Compute runs the slot walk over days with the given busy intervals. It is
// pure: all inputs are explicit.
func Compute(now time.Time, days []time.Time, busy []calendar.Busy, p Params, loc *time.Location) []time.Time {
	if p.Duration <= 0 {
		return nil
	}
	earliest := ceilMinute(now.Add(LeadTime))
	step := advanceStep(p)

	var slots []time.Time
	for _, day := range days {
		for _, w := range p.Schedule.OpenWindows(day, loc) {
			cursor := w.Start
			if cursor.Before(earliest) {
				cursor = earliest
			}
			if p.ExactHoursOnly {
				cursor = ceilHalfHour(cursor, loc)
			}
			for end := cursor.Add(p.Duration); !end.After(w.End); end = cursor.Add(p.Duration) {
				if available(cursor, end, busy, p) {
					slots = append(slots, cursor)
					if len(slots) >= p.MaxSlots {
						return slots
					}
				}
				cursor = cursor.Add(step)
			}
		}
	}
	return slots
}

func available(start, end time.Time, busy []calendar.Busy, p Params) bool {
	if calendar.CountOverlaps(busy, start, end)+p.PartySize > p.Capacity {
		return false
	}
	return !tooClose(start, busy, p.Gap)
}

// tooClose reports whether an event ended within gap before start. Only
// events that already ended count.
func tooClose(start time.Time, busy []calendar.Busy, gap time.Duration) bool {
	if gap <= 0 {
		return false
	}
	for _, b := range busy {
		if b.End.After(start) {
			continue
		}
		since := start.Sub(b.End)
		if since > 0 && since <= gap {
			return true
		}
	}
	return false
}

func advanceStep(p Params) time.Duration {
	switch {
	case p.ExactHoursOnly:
		return halfHour
	case p.Consecutive:
		return p.Duration
	default:
		return p.Duration + p.Gap
	}
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func ceilMinute(t time.Time) time.Time {
	truncated := t.Truncate(time.Minute)
	if truncated.Equal(t) {
		return t
	}
	return truncated.Add(time.Minute)
}

// ceilHalfHour rounds up to the next local :00 or :30.
func ceilHalfHour(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	base := time.Date(y, m, d, local.Hour(), 0, 0, 0, loc)
	for base.Before(local) {
		base = base.Add(halfHour)
	}
	return base
}
