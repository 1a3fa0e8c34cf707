// Package tenantctx loads everything the dialog needs about a tenant and a
// customer phone in one read.
package tenantctx

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/agenda-ai-platform/internal/catalog"
	"github.com/wolfman30/agenda-ai-platform/internal/reservations"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

// CatalogReader is the catalog access the loader needs.
type CatalogReader interface {
	TenantByID(ctx context.Context, id int64) (*catalog.Tenant, error)
	Services(ctx context.Context, tenantID int64) ([]catalog.Service, error)
	Employees(ctx context.Context, tenantID int64) ([]catalog.Employee, error)
	IsBlocked(ctx context.Context, tenantID int64, phone string) (bool, error)
}

// HistoryReader returns a phone's reservations split into upcoming and past.
type HistoryReader interface {
	History(ctx context.Context, tenantID int64, phone string) (active, past []reservations.Reservation, err error)
}

// HumanModeReader reports whether a phone is handed off to an operator.
type HumanModeReader interface {
	HumanMode(ctx context.Context, phone string) (bool, error)
}

// Context is the per-request view of a tenant and a customer.
type Context struct {
	Tenant    catalog.Tenant
	Services  []catalog.Service
	Employees []catalog.Employee
	Active    []reservations.Reservation
	Past      []reservations.Reservation
	Blocked   bool
	HumanMode bool
}

// Bookable returns the services that start a booking flow.
func (c *Context) Bookable() []catalog.Service {
	out := make([]catalog.Service, 0, len(c.Services))
	for _, s := range c.Services {
		if !s.Informative {
			out = append(out, s)
		}
	}
	return out
}

// Employee returns the employee with id.
func (c *Context) Employee(id int64) (catalog.Employee, bool) {
	for _, e := range c.Employees {
		if e.ID == id {
			return e, true
		}
	}
	return catalog.Employee{}, false
}

// Loader builds a Context. It never writes.
type Loader struct {
	catalog CatalogReader
	history HistoryReader
	human   HumanModeReader
	logger  *logging.Logger
}

// NewLoader creates a loader.
func NewLoader(cat CatalogReader, history HistoryReader, human HumanModeReader, logger *logging.Logger) *Loader {
	if cat == nil {
		panic("tenantctx: catalog reader required")
	}
	if history == nil {
		panic("tenantctx: history reader required")
	}
	if human == nil {
		panic("tenantctx: human mode reader required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Loader{catalog: cat, history: history, human: human, logger: logger}
}

// Load reads the tenant context for phone. A blocked phone returns right
// after the blocklist read with Blocked set.
func (l *Loader) Load(ctx context.Context, tenantID int64, phone string) (*Context, error) {
	blocked, err := l.catalog.IsBlocked(ctx, tenantID, phone)
	if err != nil {
		return nil, fmt.Errorf("tenantctx: blocklist: %w", err)
	}
	if blocked {
		return &Context{Tenant: catalog.Tenant{ID: tenantID}, Blocked: true}, nil
	}

	out := &Context{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tenant, err := l.catalog.TenantByID(gctx, tenantID)
		if err != nil {
			return err
		}
		out.Tenant = *tenant
		return nil
	})
	g.Go(func() error {
		services, err := l.catalog.Services(gctx, tenantID)
		if err != nil {
			return err
		}
		out.Services = services
		return nil
	})
	g.Go(func() error {
		employees, err := l.catalog.Employees(gctx, tenantID)
		if err != nil {
			return err
		}
		out.Employees = employees
		return nil
	})
	g.Go(func() error {
		active, past, err := l.history.History(gctx, tenantID, phone)
		if err != nil {
			return err
		}
		out.Active, out.Past = active, past
		return nil
	})
	g.Go(func() error {
		on, err := l.human.HumanMode(gctx, phone)
		if err != nil {
			l.logger.Warn("tenantctx: human mode read failed", "phone", logging.MaskPhone(phone), "error", err)
			return nil
		}
		out.HumanMode = on
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("tenantctx: load tenant %d: %w", tenantID, err)
	}

	if len(out.Services) == 0 {
		if direct, ok := out.Tenant.DirectService(); ok {
			out.Services = []catalog.Service{direct}
		}
	}
	return out, nil
}
