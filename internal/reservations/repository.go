package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/agenda-ai-platform/internal/textnorm"
)

// PgxPool is the subset of *pgxpool.Pool the repository needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists reservations in the reservas table.
type Repository struct {
	pool PgxPool
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool PgxPool) *Repository {
	if pool == nil {
		panic("reservations: pgx pool required")
	}
	return &Repository{pool: pool}
}

const reservationColumns = `
	id, fake_id, tenant_id, tenant_nombre, servicio_id, servicio_nombre,
	COALESCE(empleado_id, 0), COALESCE(empleado_nombre, ''), calendar_id, COALESCE(event_id, ''),
	nombre_cliente, telefono, fecha_hora, duracion_minutos, cantidad, estado, created_at
`

// ActivePartySize sums the party size of active reservations on the calendar
// overlapping [start, end).
func (r *Repository) ActivePartySize(ctx context.Context, calendarID string, start, end time.Time) (int, error) {
	query := `
		SELECT COALESCE(SUM(cantidad), 0)
		FROM reservas
		WHERE calendar_id = $1
			AND estado = 'active'
			AND fecha_hora < $3
			AND fecha_hora + make_interval(mins => duracion_minutos) > $2
	`
	var total int
	if err := r.pool.QueryRow(ctx, query, calendarID, start.UTC(), end.UTC()).Scan(&total); err != nil {
		return 0, fmt.Errorf("reservations: count active: %w", err)
	}
	return total, nil
}

// Insert stores res in a short transaction and fills ID and CreatedAt. A
// duplicate code yields errCodeCollision so the caller can retry.
func (r *Repository) Insert(ctx context.Context, res *Reservation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reservations: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var employeeID *int64
	if res.EmployeeID != nil && *res.EmployeeID != 0 {
		employeeID = res.EmployeeID
	}
	query := `
		INSERT INTO reservas (
			fake_id, tenant_id, tenant_nombre, servicio_id, servicio_nombre,
			empleado_id, empleado_nombre, calendar_id, event_id,
			nombre_cliente, telefono, fecha_hora, duracion_minutos, cantidad, estado
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), $10, $11, $12, $13, $14, 'active')
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, query,
		res.Code, res.TenantID, res.TenantName, res.ServiceID, res.ServiceName,
		employeeID, res.EmployeeName, res.CalendarID, res.EventID,
		res.ClientName, textnorm.Digits(res.ClientPhone), res.Start.UTC(), res.DurationMinutes, res.PartySize,
	).Scan(&res.ID, &res.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errCodeCollision
		}
		return fmt.Errorf("reservations: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reservations: commit: %w", err)
	}
	res.Status = StatusActive
	return nil
}

// GetByCode loads a reservation by its public code.
func (r *Repository) GetByCode(ctx context.Context, code string) (*Reservation, error) {
	query := `SELECT` + reservationColumns + `FROM reservas WHERE fake_id = $1`
	res, err := scanReservation(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reservations: get by code: %w", err)
	}
	return res, nil
}

// MarkCancelled flips an active reservation to cancelled. It reports whether
// a row changed.
func (r *Repository) MarkCancelled(ctx context.Context, code string) (bool, error) {
	query := `UPDATE reservas SET estado = 'cancelled', updated_at = now() WHERE fake_id = $1 AND estado = 'active'`
	tag, err := r.pool.Exec(ctx, query, code)
	if err != nil {
		return false, fmt.Errorf("reservations: mark cancelled: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByPhone returns the tenant's reservations for a phone, newest first.
func (r *Repository) ListByPhone(ctx context.Context, tenantID int64, phone string, limit int) ([]Reservation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT` + reservationColumns + `
		FROM reservas
		WHERE tenant_id = $1 AND telefono = $2
		ORDER BY fecha_hora DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, tenantID, textnorm.Digits(phone), limit)
	if err != nil {
		return nil, fmt.Errorf("reservations: list by phone: %w", err)
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("reservations: scan: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reservations: list by phone: %w", err)
	}
	return out, nil
}

// MarkCompletedBefore moves active reservations that ended before cutoff to
// completed and returns how many changed.
func (r *Repository) MarkCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE reservas
		SET estado = 'completed', updated_at = now()
		WHERE estado = 'active'
			AND fecha_hora + make_interval(mins => duracion_minutos) <= $1
	`
	tag, err := r.pool.Exec(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("reservations: mark completed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var (
		res        Reservation
		employeeID int64
		status     string
	)
	if err := row.Scan(
		&res.ID, &res.Code, &res.TenantID, &res.TenantName, &res.ServiceID, &res.ServiceName,
		&employeeID, &res.EmployeeName, &res.CalendarID, &res.EventID,
		&res.ClientName, &res.ClientPhone, &res.Start, &res.DurationMinutes, &res.PartySize, &status, &res.CreatedAt,
	); err != nil {
		return nil, err
	}
	if employeeID != 0 {
		res.EmployeeID = &employeeID
	}
	res.Status = Status(status)
	res.Start = res.Start.UTC()
	return &res, nil
}
