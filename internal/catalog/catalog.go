// Package catalog holds the per-tenant booking catalog: tenants, their
// services and employees, and the phone blocklist.
package catalog

import (
	"errors"
	"strings"
	"time"

	"github.com/wolfman30/agenda-ai-platform/internal/textnorm"
	"github.com/wolfman30/agenda-ai-platform/internal/workhours"
)

var (
	// ErrTenantNotFound is returned when no tenant owns the requested phone or id.
	ErrTenantNotFound = errors.New("catalog: tenant not found")
	// ErrServiceNotFound is returned when a service id does not belong to the tenant.
	ErrServiceNotFound = errors.New("catalog: service not found")
)

// DefaultGapMinutes is the proximity gap used when a tenant has none stored.
const DefaultGapMinutes = 20

// DirectServiceID identifies the synthetic service built from a tenant's
// direct-booking defaults.
const DirectServiceID int64 = 0

// DirectBooking carries the defaults for tenants that book without a service catalog.
type DirectBooking struct {
	CalendarID      string
	DurationMinutes int
	Price           float64
	ExactHoursOnly  bool
	Consecutive     bool
}

// Tenant is an independent business.
type Tenant struct {
	ID              int64
	Name            string
	Phone           string
	GatewayClientID string
	CalendarID      string
	WorkingHours    workhours.Schedule
	GapMinutes      int
	WelcomeMessage  string
	OperatorPhone   string
	OperatorEmail   string
	Direct          *DirectBooking
}

// Gap returns the tenant's proximity gap.
func (t Tenant) Gap() time.Duration {
	if t.GapMinutes < 0 {
		return DefaultGapMinutes * time.Minute
	}
	return time.Duration(t.GapMinutes) * time.Minute
}

// DirectService builds the synthetic service for direct booking, if configured.
func (t Tenant) DirectService() (Service, bool) {
	if t.Direct == nil || t.Direct.DurationMinutes <= 0 {
		return Service{}, false
	}
	return Service{
		ID:              DirectServiceID,
		TenantID:        t.ID,
		Name:            "Reserva",
		Price:           t.Direct.Price,
		DurationMinutes: t.Direct.DurationMinutes,
		Capacity:        1,
		CalendarID:      t.Direct.CalendarID,
		ExactHoursOnly:  t.Direct.ExactHoursOnly,
		Consecutive:     t.Direct.Consecutive,
	}, true
}

// CalendarFor picks the calendar a booking is written to: the employee's,
// then the service's, then the tenant's general calendar.
func (t Tenant) CalendarFor(svc Service, emp *Employee) string {
	if emp != nil && emp.CalendarID != "" {
		return emp.CalendarID
	}
	if svc.CalendarID != "" {
		return svc.CalendarID
	}
	return t.CalendarID
}

// ScheduleFor resolves working hours in the same priority order as CalendarFor,
// falling back to the default week.
func (t Tenant) ScheduleFor(svc Service, emp *Employee) workhours.Schedule {
	var empHours workhours.Schedule
	if emp != nil {
		empHours = emp.WorkingHours
	}
	return workhours.Resolve(empHours, svc.WorkingHours, t.WorkingHours)
}

// Service is a bookable (or informative) offering of a tenant.
type Service struct {
	ID                 int64
	TenantID           int64
	Name               string
	Price              float64
	DurationMinutes    int
	Capacity           int
	WorkingHours       workhours.Schedule
	CalendarID         string
	ExactHoursOnly     bool
	Consecutive        bool
	Informative        bool
	InformativeMessage string
}

// Duration returns the service length.
func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// MaxCapacity returns the concurrent capacity, at least one.
func (s Service) MaxCapacity() int {
	if s.Capacity < 1 {
		return 1
	}
	return s.Capacity
}

// Employee is a staff member of a tenant.
type Employee struct {
	ID           int64
	TenantID     int64
	Name         string
	CalendarID   string
	WorkingHours workhours.Schedule
	ServiceIDs   []int64
}

// Offers reports whether the employee performs the service. An employee with
// no explicit services performs all of them.
func (e Employee) Offers(serviceID int64) bool {
	if len(e.ServiceIDs) == 0 {
		return true
	}
	for _, id := range e.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

// FindService returns the service with id.
func FindService(services []Service, id int64) (Service, error) {
	for _, s := range services {
		if s.ID == id {
			return s, nil
		}
	}
	return Service{}, ErrServiceNotFound
}

// MatchService resolves user input to a service by 1-based position, exact
// name or name substring, ignoring case and accents.
func MatchService(services []Service, input string) (Service, bool) {
	folded := textnorm.Fold(input)
	if folded == "" {
		return Service{}, false
	}
	if n, ok := position(folded); ok {
		if n >= 1 && n <= len(services) {
			return services[n-1], true
		}
		return Service{}, false
	}
	for _, s := range services {
		if textnorm.Fold(s.Name) == folded {
			return s, true
		}
	}
	for _, s := range services {
		name := textnorm.Fold(s.Name)
		if len(name) >= 3 && strings.Contains(folded, name) {
			return s, true
		}
	}
	for _, s := range services {
		if len(folded) >= 3 && strings.Contains(textnorm.Fold(s.Name), folded) {
			return s, true
		}
	}
	return Service{}, false
}

// MatchEmployee resolves user input to an employee by exact name or by a
// name contained in the message.
func MatchEmployee(employees []Employee, input string) (Employee, bool) {
	folded := textnorm.Fold(input)
	if folded == "" {
		return Employee{}, false
	}
	for _, e := range employees {
		if textnorm.Fold(e.Name) == folded {
			return e, true
		}
	}
	for _, e := range employees {
		name := textnorm.Fold(e.Name)
		if len(name) >= 3 && strings.Contains(folded, name) {
			return e, true
		}
	}
	return Employee{}, false
}

func position(folded string) (int, bool) {
	if folded == "" || len(folded) > 3 {
		return 0, false
	}
	n := 0
	for _, r := range folded {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
