package reservations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/agenda-ai-platform/internal/calendar"
	"github.com/wolfman30/agenda-ai-platform/internal/catalog"
)

var montevideo = time.FixedZone("UTC-3", -3*60*60)

type memoryStore struct {
	mu         sync.Mutex
	byCode     map[string]*Reservation
	nextID     int64
	insertErr  error
	collisions int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{byCode: map[string]*Reservation{}}
}

func (s *memoryStore) ActivePartySize(_ context.Context, calendarID string, start, end time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, r := range s.byCode {
		if r.CalendarID == calendarID && r.Status == StatusActive && r.Start.Before(end) && r.End().After(start) {
			total += r.PartySize
		}
	}
	return total, nil
}

func (s *memoryStore) Insert(_ context.Context, res *Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	if s.collisions > 0 {
		s.collisions--
		return errCodeCollision
	}
	if _, exists := s.byCode[res.Code]; exists {
		return errCodeCollision
	}
	s.nextID++
	res.ID = s.nextID
	res.Status = StatusActive
	res.CreatedAt = time.Now()
	stored := *res
	s.byCode[res.Code] = &stored
	return nil
}

func (s *memoryStore) GetByCode(_ context.Context, code string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	return &out, nil
}

func (s *memoryStore) MarkCancelled(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byCode[code]
	if !ok || r.Status != StatusActive {
		return false, nil
	}
	r.Status = StatusCancelled
	return true, nil
}

func (s *memoryStore) ListByPhone(_ context.Context, tenantID int64, phone string, limit int) ([]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reservation
	for _, r := range s.byCode {
		if r.TenantID == tenantID && r.ClientPhone == phone {
			out = append(out, *r)
		}
	}
	// newest first, matching the SQL ordering
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Start.After(out[i].Start) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) MarkCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.byCode {
		if r.Status == StatusActive && !r.End().After(cutoff) {
			r.Status = StatusCompleted
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.byCode {
		if r.Status == StatusActive {
			n++
		}
	}
	return n
}

type fixture struct {
	store   *memoryStore
	cal     *calendar.Memory
	manager *Manager
	tenant  catalog.Tenant
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 10, 19, 10, 0, 0, 0, montevideo)
	store := newMemoryStore()
	cal := calendar.NewMemory()
	locker := NewRedisLocker(client, 5*time.Second, 2*time.Second)
	return &fixture{
		store:   store,
		cal:     cal,
		manager: NewManager(store, cal, locker, montevideo, nil, WithManagerClock(func() time.Time { return now })),
		tenant:  catalog.Tenant{ID: 1, Name: "Barbería Sur", CalendarID: "general"},
		now:     now,
	}
}

func corte() catalog.Service {
	return catalog.Service{ID: 10, TenantID: 1, Name: "Corte", DurationMinutes: 60, Capacity: 1}
}

func TestCreate_PersistsAndWritesEvent(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 10, 19, 11, 40, 0, 0, montevideo)

	res, err := f.manager.Create(context.Background(), CreateRequest{
		Tenant:      f.tenant,
		Service:     corte(),
		Start:       start,
		ClientName:  "Ana Pérez",
		ClientPhone: "+598 99 123 456",
	})
	require.NoError(t, err)
	assert.True(t, IsCode(res.Code))
	assert.Equal(t, StatusActive, res.Status)
	assert.True(t, res.Start.Equal(start))
	assert.Equal(t, time.UTC, res.Start.Location())
	assert.Equal(t, "59899123456", res.ClientPhone)

	events := f.cal.Events("general")
	require.Len(t, events, 1)
	ev := events[res.EventID]
	assert.Equal(t, "Corte - Ana Pérez", ev.Summary)
	assert.Contains(t, ev.Description, "59899123456")
	assert.True(t, ev.End.Equal(start.Add(time.Hour)))
}

func TestCreate_UsesEmployeeCalendar(t *testing.T) {
	f := newFixture(t)
	emp := &catalog.Employee{ID: 4, Name: "Lucía", CalendarID: "lucia"}

	res, err := f.manager.Create(context.Background(), CreateRequest{
		Tenant:      f.tenant,
		Service:     corte(),
		Employee:    emp,
		Start:       time.Date(2026, 10, 20, 9, 0, 0, 0, montevideo),
		ClientName:  "Ana",
		ClientPhone: "59899123456",
	})
	require.NoError(t, err)
	assert.Equal(t, "lucia", res.CalendarID)
	require.NotNil(t, res.EmployeeID)
	assert.Equal(t, int64(4), *res.EmployeeID)
	assert.Len(t, f.cal.Events("lucia"), 1)
	assert.Empty(t, f.cal.Events("general"))
}

func TestCreate_ConcurrentSameSlotOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 10, 20, 15, 0, 0, 0, montevideo)

	var (
		wg      sync.WaitGroup
		results = make([]error, 2)
	)
	for i, phone := range []string{"59899000001", "59899000002"} {
		wg.Add(1)
		go func(i int, phone string) {
			defer wg.Done()
			_, results[i] = f.manager.Create(context.Background(), CreateRequest{
				Tenant: f.tenant, Service: corte(), Start: start, ClientName: "Cliente", ClientPhone: phone,
			})
		}(i, phone)
	}
	wg.Wait()

	wins, taken := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotTaken):
			taken++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, taken)
	assert.Equal(t, 1, f.store.active())
	assert.Len(t, f.cal.Events("general"), 1)
}

func TestCreate_CapacitySharing(t *testing.T) {
	f := newFixture(t)
	padel := catalog.Service{ID: 20, TenantID: 1, Name: "Pádel", DurationMinutes: 60, Capacity: 4}
	start := time.Date(2026, 10, 19, 19, 0, 0, 0, montevideo)

	for i := 0; i < 4; i++ {
		_, err := f.manager.Create(context.Background(), CreateRequest{
			Tenant: f.tenant, Service: padel, Start: start, ClientName: "Jugador", ClientPhone: "5989900000" + string(rune('1'+i)),
		})
		require.NoError(t, err)
	}
	_, err := f.manager.Create(context.Background(), CreateRequest{
		Tenant: f.tenant, Service: padel, Start: start, ClientName: "Quinto", ClientPhone: "59899000009",
	})
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.Equal(t, 4, f.store.active())
	assert.Len(t, f.cal.Events("general"), 4)
}

func TestCreate_PersistFailureRemovesEvent(t *testing.T) {
	f := newFixture(t)
	f.store.insertErr = errors.New("connection reset")

	_, err := f.manager.Create(context.Background(), CreateRequest{
		Tenant: f.tenant, Service: corte(), Start: time.Date(2026, 10, 20, 9, 0, 0, 0, montevideo),
		ClientName: "Ana", ClientPhone: "59899123456",
	})
	require.Error(t, err)
	assert.Empty(t, f.cal.Events("general"))
	assert.Equal(t, 0, f.store.active())
}

func TestCreate_RetriesCodeCollision(t *testing.T) {
	f := newFixture(t)
	f.store.collisions = 2

	res, err := f.manager.Create(context.Background(), CreateRequest{
		Tenant: f.tenant, Service: corte(), Start: time.Date(2026, 10, 20, 9, 0, 0, 0, montevideo),
		ClientName: "Ana", ClientPhone: "59899123456",
	})
	require.NoError(t, err)
	assert.True(t, IsCode(res.Code))
	assert.Len(t, f.cal.Events("general"), 1)
}

func TestCreate_CalendarOutage(t *testing.T) {
	f := newFixture(t)
	f.cal.SetFailure(errors.New("timeout"))

	_, err := f.manager.Create(context.Background(), CreateRequest{
		Tenant: f.tenant, Service: corte(), Start: time.Date(2026, 10, 20, 9, 0, 0, 0, montevideo),
		ClientName: "Ana", ClientPhone: "59899123456",
	})
	assert.ErrorIs(t, err, calendar.ErrUnavailable)
	assert.Equal(t, 0, f.store.active())
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Create(context.Background(), CreateRequest{
		Tenant: f.tenant, Service: corte(), Start: time.Date(2026, 10, 20, 9, 0, 0, 0, montevideo), ClientPhone: "59899123456",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	info := corte()
	info.Informative = true
	_, err = f.manager.Create(context.Background(), CreateRequest{
		Tenant: f.tenant, Service: info, Start: time.Date(2026, 10, 20, 9, 0, 0, 0, montevideo), ClientName: "Ana", ClientPhone: "1",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCancel_IdempotentAndDeletesEvent(t *testing.T) {
	f := newFixture(t)
	res, err := f.manager.Create(context.Background(), CreateRequest{
		Tenant: f.tenant, Service: corte(), Start: time.Date(2026, 10, 20, 9, 0, 0, 0, montevideo),
		ClientName: "Ana", ClientPhone: "59899123456",
	})
	require.NoError(t, err)

	cancelled, err := f.manager.Cancel(context.Background(), 1, res.Code, "+59899123456")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Empty(t, f.cal.Events("general"))

	again, err := f.manager.Cancel(context.Background(), 1, res.Code, "59899123456")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, again.Status)

	list, err := f.manager.ListByPhone(context.Background(), 1, "59899123456")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StatusCancelled, list[0].Status)
}

func TestCancel_Guards(t *testing.T) {
	f := newFixture(t)
	res, err := f.manager.Create(context.Background(), CreateRequest{
		Tenant: f.tenant, Service: corte(), Start: time.Date(2026, 10, 20, 9, 0, 0, 0, montevideo),
		ClientName: "Ana", ClientPhone: "59899123456",
	})
	require.NoError(t, err)

	_, err = f.manager.Cancel(context.Background(), 1, res.Code, "59899999999")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.manager.Cancel(context.Background(), 2, res.Code, "59899123456")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.manager.Cancel(context.Background(), 1, "ZZZZZZ", "59899123456")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, f.cal.Events("general"), 1)
}

func TestCancel_EventDeleteFailureStillCancels(t *testing.T) {
	f := newFixture(t)
	res, err := f.manager.Create(context.Background(), CreateRequest{
		Tenant: f.tenant, Service: corte(), Start: time.Date(2026, 10, 20, 9, 0, 0, 0, montevideo),
		ClientName: "Ana", ClientPhone: "59899123456",
	})
	require.NoError(t, err)

	f.cal.SetFailure(errors.New("timeout"))
	cancelled, err := f.manager.Cancel(context.Background(), 1, res.Code, "59899123456")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestHistoryAndCompletePast(t *testing.T) {
	f := newFixture(t)
	for _, day := range []int{17, 18, 20, 21} {
		_, err := f.manager.Create(context.Background(), CreateRequest{
			Tenant: f.tenant, Service: corte(), Start: time.Date(2026, 10, day, 9, 0, 0, 0, montevideo),
			ClientName: "Ana", ClientPhone: "59899123456",
		})
		require.NoError(t, err)
	}

	n, err := f.manager.CompletePast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	active, past, err := f.manager.History(context.Background(), 1, "59899123456")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, 20, active[0].Start.In(montevideo).Day())
	assert.Equal(t, 21, active[1].Start.In(montevideo).Day())
	require.Len(t, past, 2)
	assert.Equal(t, StatusCompleted, past[0].Status)
}
