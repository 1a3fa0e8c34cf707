package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

var calendarTracer = otel.Tracer("agenda.internal.calendar")

// GoogleConfig configures the Google Calendar adapter.
type GoogleConfig struct {
	// CredentialsJSON is a service-account key document.
	CredentialsJSON string
	Location        *time.Location
	Timeout         time.Duration
	Logger          *logging.Logger
}

// Google implements Calendar on top of the Google Calendar v3 API.
type Google struct {
	events  *gcal.EventsService
	loc     *time.Location
	timeout time.Duration
	logger  *logging.Logger
}

// NewGoogle authenticates with the service-account document and returns the adapter.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if strings.TrimSpace(cfg.CredentialsJSON) == "" {
		return nil, errors.New("calendar: service account credentials required")
	}
	svc, err := gcal.NewService(ctx,
		option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)),
		option.WithScopes(gcal.CalendarScope),
	)
	if err != nil {
		return nil, fmt.Errorf("calendar: create google service: %w", err)
	}
	return newGoogleWithService(svc, cfg), nil
}

func newGoogleWithService(svc *gcal.Service, cfg GoogleConfig) *Google {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Google{events: svc.Events, loc: loc, timeout: timeout, logger: logger}
}

// BusyIntervals pages through the calendar's single events in [from, to).
func (g *Google) BusyIntervals(ctx context.Context, calendarID string, from, to time.Time) ([]Busy, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.busy_intervals")
	defer span.End()
	span.SetAttributes(attribute.String("agenda.calendar_id", calendarID))

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var busy []Busy
	pageToken := ""
	for {
		call := g.events.List(calendarID).
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(250).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: list events: %v", ErrUnavailable, err)
		}
		for _, item := range page.Items {
			if b, ok := eventToBusy(item, g.loc); ok {
				busy = append(busy, b)
			}
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return busy, nil
}

// InsertEvent writes the booking with start/end in the business timezone.
func (g *Google) InsertEvent(ctx context.Context, ev Event) (string, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.insert_event")
	defer span.End()
	span.SetAttributes(attribute.String("agenda.calendar_id", ev.CalendarID))

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tz := g.loc.String()
	created, err := g.events.Insert(ev.CalendarID, &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.In(g.loc).Format(time.RFC3339), TimeZone: tz},
		End:         &gcal.EventDateTime{DateTime: ev.End.In(g.loc).Format(time.RFC3339), TimeZone: tz},
	}).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: insert event: %v", ErrUnavailable, err)
	}
	return created.Id, nil
}

// DeleteEvent removes the event; 404/410 responses count as already deleted.
func (g *Google) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	ctx, span := calendarTracer.Start(ctx, "calendar.delete_event")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := g.events.Delete(calendarID, eventID).Context(ctx).Do()
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		g.logger.Warn("calendar: event already gone", "calendar_id", calendarID, "event_id", eventID)
		return nil
	}
	span.RecordError(err)
	return fmt.Errorf("%w: delete event: %v", ErrUnavailable, err)
}

// eventToBusy converts an API event. All-day events cover [date 00:00,
// date 23:59]; events without start or end are skipped.
func eventToBusy(item *gcal.Event, loc *time.Location) (Busy, bool) {
	if item == nil || item.Start == nil || item.End == nil || item.Status == "cancelled" {
		return Busy{}, false
	}
	if item.Start.DateTime == "" && item.Start.Date != "" {
		day, err := time.ParseInLocation("2006-01-02", item.Start.Date, loc)
		if err != nil {
			return Busy{}, false
		}
		return Busy{Start: day, End: day.Add(23*time.Hour + 59*time.Minute)}, true
	}
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return Busy{}, false
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return Busy{}, false
	}
	return Busy{Start: start.In(loc), End: end.In(loc)}, true
}
