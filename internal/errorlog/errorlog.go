// Package errorlog persists fatal dialog failures to the error_logs table.
package errorlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

// Entry is one recorded failure.
type Entry struct {
	ID        string
	TenantID  int64
	Phone     string
	Source    string
	Message   string
	Details   map[string]string
	CreatedAt time.Time
}

// Writer inserts entries into error_logs.
type Writer struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewWriter creates a writer on db.
func NewWriter(db *sql.DB, logger *logging.Logger) *Writer {
	if db == nil {
		panic("errorlog: db required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Writer{db: db, logger: logger}
}

// Record stores the entry. Failures are logged and returned.
func (w *Writer) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var details []byte
	if len(e.Details) > 0 {
		details, _ = json.Marshal(e.Details)
	}

	query := `
		INSERT INTO error_logs (id, tenant_id, phone, source, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := w.db.ExecContext(ctx, query,
		e.ID,
		nullInt(e.TenantID),
		nullString(e.Phone),
		e.Source,
		e.Message,
		details,
		e.CreatedAt,
	)
	if err != nil {
		w.logger.Error("errorlog: failed to record error", "source", e.Source, "error", err)
		return fmt.Errorf("errorlog: insert: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
