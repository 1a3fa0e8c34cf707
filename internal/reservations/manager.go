package reservations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/agenda-ai-platform/internal/calendar"
	"github.com/wolfman30/agenda-ai-platform/internal/catalog"
	"github.com/wolfman30/agenda-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-ai-platform/internal/textnorm"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

var tracer = otel.Tracer("agenda.internal.reservations")

const (
	maxCodeAttempts = 5
	historyPast     = 5
)

// Store is the persistence the manager depends on.
type Store interface {
	ActivePartySize(ctx context.Context, calendarID string, start, end time.Time) (int, error)
	Insert(ctx context.Context, res *Reservation) error
	GetByCode(ctx context.Context, code string) (*Reservation, error)
	MarkCancelled(ctx context.Context, code string) (bool, error)
	ListByPhone(ctx context.Context, tenantID int64, phone string, limit int) ([]Reservation, error)
	MarkCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CreateRequest carries everything needed to book one slot.
type CreateRequest struct {
	Tenant      catalog.Tenant
	Service     catalog.Service
	Employee    *catalog.Employee
	Start       time.Time
	ClientName  string
	ClientPhone string
	PartySize   int
}

// Manager books and cancels reservations.
type Manager struct {
	store   Store
	cal     calendar.Calendar
	locker  Locker
	loc     *time.Location
	now     func() time.Time
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithManagerClock overrides the time source.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithManagerMetrics records reservation outcomes.
func WithManagerMetrics(bm *metrics.BookingMetrics) ManagerOption {
	return func(m *Manager) { m.metrics = bm }
}

// NewManager wires the manager. locker may be nil in single-process setups.
func NewManager(store Store, cal calendar.Calendar, locker Locker, loc *time.Location, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if store == nil {
		panic("reservations: store required")
	}
	if cal == nil {
		panic("reservations: calendar required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{store: store, cal: cal, locker: locker, loc: loc, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create re-checks capacity, writes the calendar event and persists the row.
// Any failure after the event is written removes the event again.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Reservation, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "reservations.create")
	defer span.End()

	party := req.PartySize
	if party < 1 {
		party = 1
	}
	start := req.Start.In(m.loc).Truncate(time.Minute)
	end := start.Add(req.Service.Duration())
	calendarID := req.Tenant.CalendarFor(req.Service, req.Employee)
	span.SetAttributes(
		attribute.String("agenda.calendar_id", calendarID),
		attribute.Int64("agenda.service_id", req.Service.ID),
	)

	if m.locker != nil {
		release, err := m.locker.Acquire(ctx, lockKey(calendarID, start))
		switch {
		case errors.Is(err, ErrLockTimeout):
			m.metrics.ObserveReservation("create", "slot_taken")
			return nil, ErrSlotTaken
		case err != nil:
			m.logger.Warn("reservations: slot lock unavailable, continuing without it", "error", err)
		default:
			defer release()
		}
	}

	busy, err := m.cal.BusyIntervals(ctx, calendarID, start, end)
	if err != nil {
		span.RecordError(err)
		m.metrics.ObserveReservation("create", "calendar_unavailable")
		return nil, err
	}
	stored, err := m.store.ActivePartySize(ctx, calendarID, start, end)
	if err != nil {
		m.metrics.ObserveReservation("create", "error")
		return nil, err
	}
	if max(stored, calendar.CountOverlaps(busy, start, end))+party > req.Service.MaxCapacity() {
		m.metrics.ObserveReservation("create", "slot_taken")
		return nil, ErrSlotTaken
	}

	res := &Reservation{
		TenantID:        req.Tenant.ID,
		TenantName:      req.Tenant.Name,
		ServiceID:       req.Service.ID,
		ServiceName:     req.Service.Name,
		CalendarID:      calendarID,
		ClientName:      strings.TrimSpace(req.ClientName),
		ClientPhone:     textnorm.Digits(req.ClientPhone),
		Start:           start.UTC(),
		DurationMinutes: req.Service.DurationMinutes,
		PartySize:       party,
	}
	if req.Employee != nil {
		id := req.Employee.ID
		res.EmployeeID = &id
		res.EmployeeName = req.Employee.Name
	}

	eventID, err := m.cal.InsertEvent(ctx, calendar.Event{
		CalendarID:  calendarID,
		Summary:     fmt.Sprintf("%s - %s", res.ServiceName, res.ClientName),
		Description: eventDescription(res),
		Start:       start,
		End:         end,
	})
	if err != nil {
		span.RecordError(err)
		m.metrics.ObserveReservation("create", "calendar_unavailable")
		return nil, err
	}
	res.EventID = eventID

	if err := m.persist(ctx, res); err != nil {
		span.RecordError(err)
		m.rollbackEvent(ctx, calendarID, eventID)
		m.metrics.ObserveReservation("create", "error")
		return nil, err
	}

	m.metrics.ObserveReservation("create", "created")
	m.logger.Info("reservation created",
		"code", res.Code,
		"tenant_id", res.TenantID,
		"service_id", res.ServiceID,
		"phone", logging.MaskPhone(res.ClientPhone),
		"start", start.Format(time.RFC3339),
	)
	return res, nil
}

func (m *Manager) persist(ctx context.Context, res *Reservation) error {
	var err error
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		res.Code, err = NewCode()
		if err != nil {
			return err
		}
		err = m.store.Insert(ctx, res)
		if !errors.Is(err, errCodeCollision) {
			return err
		}
		m.logger.Warn("reservations: code collision, retrying", "attempt", attempt+1)
	}
	return fmt.Errorf("reservations: no free code after %d attempts: %w", maxCodeAttempts, err)
}

func (m *Manager) rollbackEvent(ctx context.Context, calendarID, eventID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.cal.DeleteEvent(ctx, calendarID, eventID); err != nil {
		m.logger.Error("reservations: rollback event failed", "calendar_id", calendarID, "event_id", eventID, "error", err)
	}
}

// Cancel cancels the reservation identified by code on behalf of phone.
// Cancelling an already cancelled reservation succeeds without side effects.
func (m *Manager) Cancel(ctx context.Context, tenantID int64, code, phone string) (*Reservation, error) {
	ctx, span := tracer.Start(ctx, "reservations.cancel")
	defer span.End()

	code = strings.ToUpper(strings.TrimSpace(code))
	res, err := m.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if res.TenantID != tenantID {
		return nil, ErrNotFound
	}
	if textnorm.Digits(res.ClientPhone) != textnorm.Digits(phone) {
		m.metrics.ObserveReservation("cancel", "forbidden")
		return nil, ErrForbidden
	}
	switch res.Status {
	case StatusCancelled:
		return res, nil
	case StatusCompleted:
		return nil, ErrNotActive
	}

	if res.EventID != "" {
		if err := m.cal.DeleteEvent(ctx, res.CalendarID, res.EventID); err != nil {
			m.logger.Warn("reservations: event delete failed, cancelling anyway",
				"code", res.Code, "event_id", res.EventID, "error", err)
		}
	}
	if _, err := m.store.MarkCancelled(ctx, res.Code); err != nil {
		span.RecordError(err)
		m.metrics.ObserveReservation("cancel", "error")
		return nil, err
	}
	res.Status = StatusCancelled
	m.metrics.ObserveReservation("cancel", "cancelled")
	m.logger.Info("reservation cancelled", "code", res.Code, "tenant_id", res.TenantID)
	return res, nil
}

// History returns the phone's upcoming active reservations (soonest first)
// and its last five past or closed ones.
func (m *Manager) History(ctx context.Context, tenantID int64, phone string) (active, past []Reservation, err error) {
	all, err := m.store.ListByPhone(ctx, tenantID, phone, 50)
	if err != nil {
		return nil, nil, err
	}
	now := m.now()
	for _, r := range all {
		if r.Status == StatusActive && !r.IsPast(now) {
			active = append([]Reservation{r}, active...)
			continue
		}
		if len(past) < historyPast {
			past = append(past, r)
		}
	}
	return active, past, nil
}

// ListByPhone returns every reservation of the phone with the tenant.
func (m *Manager) ListByPhone(ctx context.Context, tenantID int64, phone string) ([]Reservation, error) {
	return m.store.ListByPhone(ctx, tenantID, phone, 50)
}

// CompletePast marks active reservations that already ended as completed.
func (m *Manager) CompletePast(ctx context.Context) (int64, error) {
	n, err := m.store.MarkCompletedBefore(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("reservations marked completed", "count", n)
	}
	return n, nil
}

// RunCompleter calls CompletePast every interval until ctx is done.
func (m *Manager) RunCompleter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.CompletePast(ctx); err != nil {
				m.logger.Error("reservations: complete past failed", "error", err)
			}
		}
	}
}

func validateCreate(req CreateRequest) error {
	switch {
	case req.Service.Informative:
		return fmt.Errorf("%w: service %d is informative", ErrInvalidRequest, req.Service.ID)
	case req.Service.DurationMinutes <= 0:
		return fmt.Errorf("%w: service %d has no duration", ErrInvalidRequest, req.Service.ID)
	case strings.TrimSpace(req.ClientName) == "":
		return fmt.Errorf("%w: client name required", ErrInvalidRequest)
	case textnorm.Digits(req.ClientPhone) == "":
		return fmt.Errorf("%w: client phone required", ErrInvalidRequest)
	case req.Start.IsZero():
		return fmt.Errorf("%w: start required", ErrInvalidRequest)
	}
	return nil
}

func eventDescription(res *Reservation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cliente: %s\nTeléfono: %s\nPersonas: %d", res.ClientName, res.ClientPhone, res.PartySize)
	if res.EmployeeName != "" {
		fmt.Fprintf(&b, "\nEmpleado: %s", res.EmployeeName)
	}
	return b.String()
}
