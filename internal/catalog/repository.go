package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/agenda-ai-platform/internal/textnorm"
	"github.com/wolfman30/agenda-ai-platform/internal/workhours"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

// PgxPool is the subset of *pgxpool.Pool the repository needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads the catalog from Postgres.
type Repository struct {
	pool   PgxPool
	logger *logging.Logger
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool PgxPool, logger *logging.Logger) *Repository {
	if pool == nil {
		panic("catalog: pgx pool required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{pool: pool, logger: logger}
}

const tenantColumns = `
	id, name, phone, COALESCE(gateway_client_id, ''), COALESCE(calendar_id, ''),
	COALESCE(working_hours, 'null'::jsonb), gap_minutes, COALESCE(welcome_message, ''),
	COALESCE(operator_phone, ''), COALESCE(operator_email, ''),
	COALESCE(direct_calendar_id, ''), COALESCE(direct_duration_minutes, 0),
	COALESCE(direct_price, 0)::float8, direct_exact_hours_only, direct_consecutive
`

// TenantByPhone returns the tenant owning the contact phone.
func (r *Repository) TenantByPhone(ctx context.Context, phone string) (*Tenant, error) {
	query := `SELECT` + tenantColumns + `FROM tenants WHERE phone = $1`
	return r.scanTenant(r.pool.QueryRow(ctx, query, textnorm.Digits(phone)))
}

// TenantByID returns the tenant with id.
func (r *Repository) TenantByID(ctx context.Context, id int64) (*Tenant, error) {
	query := `SELECT` + tenantColumns + `FROM tenants WHERE id = $1`
	return r.scanTenant(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) scanTenant(row pgx.Row) (*Tenant, error) {
	var (
		t      Tenant
		hours  []byte
		direct DirectBooking
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.Phone, &t.GatewayClientID, &t.CalendarID,
		&hours, &t.GapMinutes, &t.WelcomeMessage,
		&t.OperatorPhone, &t.OperatorEmail,
		&direct.CalendarID, &direct.DurationMinutes,
		&direct.Price, &direct.ExactHoursOnly, &direct.Consecutive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("catalog: load tenant: %w", err)
	}
	t.WorkingHours = r.parseHours(hours, "tenant", t.ID)
	if direct.DurationMinutes > 0 {
		t.Direct = &direct
	}
	return &t, nil
}

// Services lists a tenant's services ordered by id, which is the order the
// numbered menu uses.
func (r *Repository) Services(ctx context.Context, tenantID int64) ([]Service, error) {
	query := `
		SELECT id, tenant_id, name, COALESCE(price, 0)::float8, duration_minutes, capacity,
			COALESCE(working_hours, 'null'::jsonb), COALESCE(calendar_id, ''),
			exact_hours_only, consecutive, informative, COALESCE(informative_message, '')
		FROM services
		WHERE tenant_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list services: %w", err)
	}
	defer rows.Close()

	var services []Service
	for rows.Next() {
		var (
			s     Service
			hours []byte
		)
		if err := rows.Scan(
			&s.ID, &s.TenantID, &s.Name, &s.Price, &s.DurationMinutes, &s.Capacity,
			&hours, &s.CalendarID,
			&s.ExactHoursOnly, &s.Consecutive, &s.Informative, &s.InformativeMessage,
		); err != nil {
			return nil, fmt.Errorf("catalog: scan service: %w", err)
		}
		s.WorkingHours = r.parseHours(hours, "service", s.ID)
		services = append(services, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list services: %w", err)
	}
	return services, nil
}

// Employees lists a tenant's employees with the services each performs.
func (r *Repository) Employees(ctx context.Context, tenantID int64) ([]Employee, error) {
	query := `
		SELECT e.id, e.tenant_id, e.nombre, COALESCE(e.calendar_id, ''),
			COALESCE(e.working_hours, 'null'::jsonb),
			COALESCE(array_agg(es.service_id) FILTER (WHERE es.service_id IS NOT NULL), '{}')
		FROM empleados e
		LEFT JOIN employee_services es ON es.employee_id = e.id
		WHERE e.tenant_id = $1
		GROUP BY e.id
		ORDER BY e.id
	`
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list employees: %w", err)
	}
	defer rows.Close()

	var employees []Employee
	for rows.Next() {
		var (
			e     Employee
			hours []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Name, &e.CalendarID, &hours, &e.ServiceIDs); err != nil {
			return nil, fmt.Errorf("catalog: scan employee: %w", err)
		}
		e.WorkingHours = r.parseHours(hours, "employee", e.ID)
		employees = append(employees, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list employees: %w", err)
	}
	return employees, nil
}

// IsBlocked reports whether the phone is on the tenant's blocklist.
func (r *Repository) IsBlocked(ctx context.Context, tenantID int64, phone string) (bool, error) {
	query := `SELECT 1 FROM blocked_numbers WHERE tenant_id = $1 AND phone = $2`
	var exists int
	if err := r.pool.QueryRow(ctx, query, tenantID, textnorm.Digits(phone)).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("catalog: check blocked: %w", err)
	}
	return true, nil
}

// Block adds the phone to the tenant's blocklist.
func (r *Repository) Block(ctx context.Context, tenantID int64, phone string) error {
	query := `
		INSERT INTO blocked_numbers (tenant_id, phone)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, tenantID, textnorm.Digits(phone)); err != nil {
		return fmt.Errorf("catalog: block number: %w", err)
	}
	return nil
}

// Unblock removes the phone from the tenant's blocklist.
func (r *Repository) Unblock(ctx context.Context, tenantID int64, phone string) error {
	query := `DELETE FROM blocked_numbers WHERE tenant_id = $1 AND phone = $2`
	if _, err := r.pool.Exec(ctx, query, tenantID, textnorm.Digits(phone)); err != nil {
		return fmt.Errorf("catalog: unblock number: %w", err)
	}
	return nil
}

// parseHours turns a stored document into a Schedule; unreadable documents
// are logged and treated as not configured.
func (r *Repository) parseHours(raw []byte, owner string, id int64) workhours.Schedule {
	schedule, err := workhours.Parse(raw, r.logger)
	if err != nil {
		r.logger.Warn("catalog: invalid working hours, using fallback", "owner", owner, "id", id, "error", err)
		return nil
	}
	return schedule
}
