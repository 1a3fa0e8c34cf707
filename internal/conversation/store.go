package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/agenda-ai-platform/internal/textnorm"
)

const (
	historyTTL   = 24 * time.Hour
	selectionTTL = 30 * time.Minute
	maxHistory   = 50
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the per-phone conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Selection is the service (and optional employee) the user is booking.
type Selection struct {
	TenantID     int64  `json:"tenant_id"`
	ServiceID    int64  `json:"service_id"`
	ServiceName  string `json:"service_name"`
	EmployeeID   *int64 `json:"employee_id,omitempty"`
	EmployeeName string `json:"employee_name,omitempty"`
	PartySize    int    `json:"party_size,omitempty"`
}

// OfferedSlot is one numbered entry of the slot list shown to the user.
type OfferedSlot struct {
	Numero         int       `json:"numero"`
	FechaHora      time.Time `json:"fecha_hora"`
	EmpleadoID     *int64    `json:"empleado_id"`
	EmpleadoNombre string    `json:"empleado_nombre"`
}

// PendingBooking is a picked slot waiting for the client's name.
type PendingBooking struct {
	TenantID     int64     `json:"tenant_id"`
	ServiceID    int64     `json:"service_id"`
	Start        time.Time `json:"start"`
	EmployeeID   *int64    `json:"employee_id,omitempty"`
	EmployeeName string    `json:"employee_name,omitempty"`
	PartySize    int       `json:"party_size,omitempty"`
}

// PendingEmployee is an employee picked by name before the service.
type PendingEmployee struct {
	TenantID   int64 `json:"tenant_id"`
	EmployeeID int64 `json:"employee_id"`
}

// Store is the short-lived per-phone cache backed by Redis.
type Store struct {
	redis  *redis.Client
	tracer trace.Tracer
}

// NewStore wraps a Redis client.
func NewStore(client *redis.Client) *Store {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	return &Store{redis: client, tracer: otel.Tracer("agenda.internal.conversation.store")}
}

func conversationKey(phone string) string { return "conversation:" + textnorm.Digits(phone) }
func selectionKey(phone string) string    { return "servicio_seleccionado:" + textnorm.Digits(phone) }
func pendingKey(phone string) string      { return "pending:" + textnorm.Digits(phone) }
func humanModeKey(phone string) string    { return "human_mode:" + textnorm.Digits(phone) }
func employeeKey(phone string) string     { return "pending_employee:" + textnorm.Digits(phone) }

func slotsKey(phone string, serviceID int64) string {
	return "slots:" + textnorm.Digits(phone) + ":" + strconv.FormatInt(serviceID, 10)
}

func greetedKey(tenantID int64, phone string) string {
	return fmt.Sprintf("greeted:%d:%s", tenantID, textnorm.Digits(phone))
}

// Append pushes msgs (oldest first) to the head of the history list, keeps
// the newest 50 and refreshes the 24h TTL in one transaction.
func (s *Store) Append(ctx context.Context, phone string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "conversation.store.append")
	defer span.End()

	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now().UTC()
		}
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("conversation: marshal message: %w", err)
		}
		values = append(values, data)
	}

	key := conversationKey(phone)
	pipe := s.redis.TxPipeline()
	pipe.LPush(ctx, key, values...)
	pipe.LTrim(ctx, key, 0, maxHistory-1)
	pipe.Expire(ctx, key, historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: append history: %w", err)
	}
	return nil
}

// History returns up to limit most recent messages in chronological order.
func (s *Store) History(ctx context.Context, phone string, limit int) ([]Message, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.store.history")
	defer span.End()

	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}
	raw, err := s.redis.LRange(ctx, conversationKey(phone), 0, int64(limit-1)).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: load history: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m Message
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// SetSelection caches the chosen service for 30 minutes.
func (s *Store) SetSelection(ctx context.Context, phone string, sel Selection) error {
	return s.setJSON(ctx, selectionKey(phone), sel, selectionTTL)
}

// Selection returns the cached selection, or nil.
func (s *Store) Selection(ctx context.Context, phone string) (*Selection, error) {
	var sel Selection
	ok, err := s.getJSON(ctx, selectionKey(phone), &sel)
	if err != nil || !ok {
		return nil, err
	}
	return &sel, nil
}

// SetSlots caches the numbered offer for a service for 30 minutes.
func (s *Store) SetSlots(ctx context.Context, phone string, serviceID int64, slots []OfferedSlot) error {
	return s.setJSON(ctx, slotsKey(phone, serviceID), slots, selectionTTL)
}

// Slots returns the cached offer for the service, or nil.
func (s *Store) Slots(ctx context.Context, phone string, serviceID int64) ([]OfferedSlot, error) {
	var slots []OfferedSlot
	ok, err := s.getJSON(ctx, slotsKey(phone, serviceID), &slots)
	if err != nil || !ok {
		return nil, err
	}
	return slots, nil
}

// ClearSlots drops the cached offer so the user is asked for a day again.
func (s *Store) ClearSlots(ctx context.Context, phone string, serviceID int64) error {
	return s.del(ctx, slotsKey(phone, serviceID))
}

// SetPending caches the picked slot while waiting for the client's name.
func (s *Store) SetPending(ctx context.Context, phone string, p PendingBooking) error {
	return s.setJSON(ctx, pendingKey(phone), p, selectionTTL)
}

// Pending returns the picked slot awaiting a name, or nil.
func (s *Store) Pending(ctx context.Context, phone string) (*PendingBooking, error) {
	var p PendingBooking
	ok, err := s.getJSON(ctx, pendingKey(phone), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// ClearPending drops the picked slot.
func (s *Store) ClearPending(ctx context.Context, phone string) error {
	return s.del(ctx, pendingKey(phone))
}

// SetPendingEmployee remembers an employee chosen ahead of the service.
func (s *Store) SetPendingEmployee(ctx context.Context, phone string, p PendingEmployee) error {
	return s.setJSON(ctx, employeeKey(phone), p, selectionTTL)
}

// PendingEmployee returns the employee chosen ahead of the service, or nil.
func (s *Store) PendingEmployee(ctx context.Context, phone string) (*PendingEmployee, error) {
	var p PendingEmployee
	ok, err := s.getJSON(ctx, employeeKey(phone), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// ResetFlow clears selection, offer, pending booking and pending employee for
// the phone.
func (s *Store) ResetFlow(ctx context.Context, phone string) error {
	keys := []string{selectionKey(phone), pendingKey(phone), employeeKey(phone)}
	if sel, err := s.Selection(ctx, phone); err == nil && sel != nil {
		keys = append(keys, slotsKey(phone, sel.ServiceID))
	}
	return s.del(ctx, keys...)
}

// SetHumanMode turns human handoff on or off for the phone.
func (s *Store) SetHumanMode(ctx context.Context, phone string, on bool) error {
	if !on {
		return s.del(ctx, humanModeKey(phone))
	}
	if err := s.redis.Set(ctx, humanModeKey(phone), "1", 0).Err(); err != nil {
		return fmt.Errorf("conversation: set human mode: %w", err)
	}
	return nil
}

// HumanMode reports whether messages from the phone go to a human.
func (s *Store) HumanMode(ctx context.Context, phone string) (bool, error) {
	n, err := s.redis.Exists(ctx, humanModeKey(phone)).Result()
	if err != nil {
		return false, fmt.Errorf("conversation: read human mode: %w", err)
	}
	return n > 0, nil
}

// MarkGreeted records the greeting and reports whether this was the first
// message from the phone to the tenant in the last 24h.
func (s *Store) MarkGreeted(ctx context.Context, tenantID int64, phone string) (bool, error) {
	first, err := s.redis.SetNX(ctx, greetedKey(tenantID, phone), "1", historyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("conversation: mark greeted: %w", err)
	}
	return first, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("conversation: marshal %s: %w", key, err)
	}
	if err := s.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("conversation: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("conversation: get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("conversation: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) del(ctx context.Context, keys ...string) error {
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("conversation: delete: %w", err)
	}
	return nil
}
