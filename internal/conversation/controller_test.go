package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/agenda-ai-platform/internal/availability"
	"github.com/wolfman30/agenda-ai-platform/internal/calendar"
	"github.com/wolfman30/agenda-ai-platform/internal/catalog"
	"github.com/wolfman30/agenda-ai-platform/internal/errorlog"
	"github.com/wolfman30/agenda-ai-platform/internal/llm"
	"github.com/wolfman30/agenda-ai-platform/internal/reservations"
	"github.com/wolfman30/agenda-ai-platform/internal/tenantctx"
	"github.com/wolfman30/agenda-ai-platform/internal/workhours"
)

var montevideo = time.FixedZone("UTC-3", -3*60*60)

// Monday 2026-10-19 10:00 local.
var testNow = time.Date(2026, 10, 19, 10, 0, 0, 0, montevideo)

var codeInReply = regexp.MustCompile(`Código: ([A-Z0-9]{6})`)

var weekdays = workhours.MustParse(`{
	"monday": [{"from": "09:00", "to": "18:00"}],
	"tuesday": [{"from": "09:00", "to": "18:00"}],
	"wednesday": [{"from": "09:00", "to": "18:00"}],
	"thursday": [{"from": "09:00", "to": "18:00"}],
	"friday": [{"from": "09:00", "to": "18:00"}]
}`)

type fakeCatalog struct {
	mu        sync.Mutex
	tenant    catalog.Tenant
	services  []catalog.Service
	employees []catalog.Employee
	blocked   map[string]bool
}

func (f *fakeCatalog) TenantByID(ctx context.Context, id int64) (*catalog.Tenant, error) {
	if id != f.tenant.ID {
		return nil, catalog.ErrTenantNotFound
	}
	t := f.tenant
	return &t, nil
}

func (f *fakeCatalog) Services(ctx context.Context, tenantID int64) ([]catalog.Service, error) {
	return f.services, nil
}

func (f *fakeCatalog) Employees(ctx context.Context, tenantID int64) ([]catalog.Employee, error) {
	return f.employees, nil
}

func (f *fakeCatalog) IsBlocked(ctx context.Context, tenantID int64, phone string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked[phone], nil
}

type memReservations struct {
	mu     sync.Mutex
	byCode map[string]*reservations.Reservation
	err    error
}

func (s *memReservations) ActivePartySize(_ context.Context, calendarID string, start, end time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, r := range s.byCode {
		if r.CalendarID == calendarID && r.Status == reservations.StatusActive && r.Start.Before(end) && r.End().After(start) {
			total += r.PartySize
		}
	}
	return total, nil
}

func (s *memReservations) Insert(_ context.Context, res *reservations.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	res.ID = int64(len(s.byCode) + 1)
	res.Status = reservations.StatusActive
	stored := *res
	s.byCode[res.Code] = &stored
	return nil
}

func (s *memReservations) GetByCode(_ context.Context, code string) (*reservations.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byCode[code]
	if !ok {
		return nil, reservations.ErrNotFound
	}
	out := *r
	return &out, nil
}

func (s *memReservations) MarkCancelled(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byCode[code]
	if !ok || r.Status != reservations.StatusActive {
		return false, nil
	}
	r.Status = reservations.StatusCancelled
	return true, nil
}

func (s *memReservations) ListByPhone(_ context.Context, tenantID int64, phone string, limit int) ([]reservations.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reservations.Reservation
	for _, r := range s.byCode {
		if r.TenantID == tenantID && r.ClientPhone == phone {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memReservations) MarkCompletedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *memReservations) active() []reservations.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reservations.Reservation
	for _, r := range s.byCode {
		if r.Status == reservations.StatusActive {
			out = append(out, *r)
		}
	}
	return out
}

type scriptedOracle struct {
	mu    sync.Mutex
	resp  llm.Response
	err   error
	calls int
	last  llm.Request
}

func (o *scriptedOracle) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.last = req
	return o.resp, o.err
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) NotifyHandoff(ctx context.Context, tenant catalog.Tenant, phone, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, phone+": "+message)
	return nil
}

type recordingErrors struct {
	entries []errorlog.Entry
}

func (r *recordingErrors) Record(ctx context.Context, e errorlog.Entry) error {
	r.entries = append(r.entries, e)
	return nil
}

type harness struct {
	ctrl     *Controller
	store    *Store
	cal      *calendar.Memory
	catalog  *fakeCatalog
	resv     *memReservations
	oracle   *scriptedOracle
	notifier *recordingNotifier
	errors   *recordingErrors
}

func newHarness(t *testing.T, services ...catalog.Service) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := func() time.Time { return testNow }
	store := NewStore(client)
	cal := calendar.NewMemory()
	cat := &fakeCatalog{
		tenant: catalog.Tenant{
			ID:           1,
			Name:         "Barbería Sur",
			CalendarID:   "cal-1",
			WorkingHours: weekdays,
			GapMinutes:   20,
		},
		services: services,
		blocked:  map[string]bool{},
	}
	resv := &memReservations{byCode: map[string]*reservations.Reservation{}}
	manager := reservations.NewManager(resv, cal, reservations.NewRedisLocker(client, 5*time.Second, 200*time.Millisecond),
		montevideo, nil, reservations.WithManagerClock(clock))
	gen := availability.NewGenerator(cal, montevideo, nil, availability.WithClock(clock))
	loader := tenantctx.NewLoader(cat, manager, store, nil)

	h := &harness{
		store:    store,
		cal:      cal,
		catalog:  cat,
		resv:     resv,
		oracle:   &scriptedOracle{err: llm.ErrUnavailable},
		notifier: &recordingNotifier{},
		errors:   &recordingErrors{},
	}
	h.ctrl = NewController(store, loader, gen, manager, nil,
		WithOracle(h.oracle),
		WithNotifier(h.notifier),
		WithErrorRecorder(h.errors),
	)
	return h
}

func (h *harness) send(phone, text string) string {
	return h.ctrl.Handle(context.Background(), Inbound{TenantID: 1, Phone: phone, Text: text})
}

func corte() catalog.Service {
	return catalog.Service{ID: 3, TenantID: 1, Name: "Corte", DurationMinutes: 60, Capacity: 1, Price: 500}
}

func padel() catalog.Service {
	return catalog.Service{
		ID: 5, TenantID: 1, Name: "Cancha de pádel", DurationMinutes: 60, Capacity: 4,
		CalendarID: "cal-padel", Consecutive: true, ExactHoursOnly: true,
		WorkingHours: workhours.MustParse(`{"monday": [{"from": "08:00", "to": "23:00"}]}`),
	}
}

func TestHappyPath_NewCustomer(t *testing.T) {
	h := newHarness(t, corte())
	phone := "59899111111"

	reply := h.send(phone, "turno")
	assert.Contains(t, reply, "Barbería Sur")
	assert.Contains(t, reply, "1. Corte")

	reply = h.send(phone, "1")
	assert.Contains(t, reply, "Elegiste Corte")
	assert.Contains(t, reply, "¿Qué día")

	reply = h.send(phone, "hoy")
	assert.Contains(t, reply, "lunes 19/10")
	assert.Contains(t, reply, "1. 10:20")
	assert.Contains(t, reply, "2. 11:40")

	reply = h.send(phone, "1")
	assert.Contains(t, reply, "10:20")
	assert.Contains(t, reply, "nombre y apellido")

	reply = h.send(phone, "Ana Pérez")
	assert.Contains(t, reply, "Reserva confirmada")
	m := codeInReply.FindStringSubmatch(reply)
	require.Len(t, m, 2)

	active := h.resv.active()
	require.Len(t, active, 1)
	assert.Equal(t, m[1], active[0].Code)
	assert.Equal(t, "Ana Pérez", active[0].ClientName)
	assert.True(t, active[0].Start.Equal(time.Date(2026, 10, 19, 10, 20, 0, 0, montevideo)))
	assert.Len(t, h.cal.Events("cal-1"), 1)

	sel, err := h.store.Selection(context.Background(), phone)
	require.NoError(t, err)
	assert.Nil(t, sel)

	history, err := h.store.History(context.Background(), phone, 0)
	require.NoError(t, err)
	assert.Len(t, history, 10)
	assert.Equal(t, 0, h.oracle.calls)
}

func TestSlotCollision_OneWinner(t *testing.T) {
	h := newHarness(t, corte())
	phones := []string{"59899000001", "59899000002"}
	for _, p := range phones {
		h.send(p, "Corte")
		h.send(p, "hoy")
		require.Contains(t, h.send(p, "11:40"), "nombre y apellido")
	}

	replies := make([]string, len(phones))
	var wg sync.WaitGroup
	for i, p := range phones {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			replies[i] = h.send(p, fmt.Sprintf("Cliente %c", 'A'+i))
		}(i, p)
	}
	wg.Wait()

	confirmed, taken := 0, 0
	for _, r := range replies {
		switch {
		case strings.Contains(r, "Reserva confirmada"):
			confirmed++
		case strings.Contains(r, "ya fue tomado, elige otro"):
			taken++
		}
	}
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 1, taken)
	assert.Len(t, h.resv.active(), 1)
	assert.Len(t, h.cal.Events("cal-1"), 1)
}

func TestCapacitySharing_FifthIsRejected(t *testing.T) {
	h := newHarness(t, padel())
	var phones []string
	for i := 0; i < 5; i++ {
		p := fmt.Sprintf("5989900010%d", i)
		phones = append(phones, p)
		h.send(p, "pádel")
		h.send(p, "hoy")
		require.Contains(t, h.send(p, "19:00"), "nombre y apellido", p)
	}

	for i, p := range phones[:4] {
		assert.Contains(t, h.send(p, fmt.Sprintf("Jugador %c", 'A'+i)), "Reserva confirmada")
	}
	reply := h.send(phones[4], "Jugador E")
	assert.Contains(t, reply, "ya fue tomado, elige otro")
	assert.NotContains(t, reply, "19:00\n")
	assert.Len(t, h.resv.active(), 4)
	assert.Len(t, h.cal.Events("cal-padel"), 4)
}

func TestCancellationByCode_Idempotent(t *testing.T) {
	h := newHarness(t, corte())
	phone := "59899222222"
	h.send(phone, "1")
	h.send(phone, "hoy")
	h.send(phone, "1")
	code := codeInReply.FindStringSubmatch(h.send(phone, "Ana Pérez"))[1]
	require.Len(t, h.cal.Events("cal-1"), 1)

	reply := h.send(phone, "cancelar "+code)
	assert.Contains(t, reply, "fue cancelada")
	assert.Empty(t, h.cal.Events("cal-1"))
	assert.Empty(t, h.resv.active())

	reply = h.send(phone, "cancelar "+code)
	assert.Contains(t, reply, "fue cancelada")
}

func TestCancellation_OtherPhoneCannotCancel(t *testing.T) {
	h := newHarness(t, corte())
	h.send("59899222222", "1")
	h.send("59899222222", "hoy")
	h.send("59899222222", "1")
	code := codeInReply.FindStringSubmatch(h.send("59899222222", "Ana Pérez"))[1]

	reply := h.send("59899333333", "anular "+code)
	assert.Contains(t, reply, "No encontré una reserva activa")
	assert.Len(t, h.resv.active(), 1)
}

func TestCancellation_WithoutCodeListsActive(t *testing.T) {
	h := newHarness(t, corte())
	phone := "59899222222"
	assert.Contains(t, h.send(phone, "quiero cancelar"), "No tienes reservas activas")

	h.send(phone, "1")
	h.send(phone, "hoy")
	h.send(phone, "1")
	code := codeInReply.FindStringSubmatch(h.send(phone, "Ana Pérez"))[1]

	reply := h.send(phone, "quiero cancelar mi turno")
	assert.Contains(t, reply, code)
	assert.Contains(t, reply, "cancelar <código>")
}

func TestBlockedNumber_ShortCircuits(t *testing.T) {
	h := newHarness(t, corte())
	phone := "59899444444"
	h.catalog.blocked[phone] = true

	for _, msg := range []string{"hola", "1", "cancelar AB12CD"} {
		assert.Equal(t, replyBlocked, h.send(phone, msg))
	}
	assert.Equal(t, 0, h.oracle.calls)
	history, err := h.store.History(context.Background(), phone, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCalendarOutage_MockSlotsThenGracefulFailure(t *testing.T) {
	h := newHarness(t, corte())
	h.cal.SetFailure(errors.New("timeout"))
	phone := "59899555555"

	h.send(phone, "1")
	reply := h.send(phone, "mañana")
	assert.Contains(t, reply, "martes 20/10")
	assert.Contains(t, reply, "1. 09:00")

	assert.Contains(t, h.send(phone, "1"), "nombre y apellido")
	reply = h.send(phone, "Ana Pérez")
	assert.Equal(t, replyCalendarDown, reply)
	assert.Empty(t, h.resv.active())
	assert.Empty(t, h.errors.entries)
}

func TestHumanMode_NotifiesOperator(t *testing.T) {
	h := newHarness(t, corte())
	phone := "59899666666"
	require.NoError(t, h.store.SetHumanMode(context.Background(), phone, true))

	assert.Equal(t, replyHandoff, h.send(phone, "necesito hablar con alguien"))
	require.Len(t, h.notifier.messages, 1)
	assert.Contains(t, h.notifier.messages[0], "necesito hablar con alguien")
	assert.Equal(t, 0, h.oracle.calls)
}

func TestCatalogCommand_ResetsFlow(t *testing.T) {
	h := newHarness(t, corte(), catalog.Service{ID: 4, TenantID: 1, Name: "Barba", DurationMinutes: 30})
	phone := "59899777777"
	h.send(phone, "1")
	h.send(phone, "hoy")

	reply := h.send(phone, "Menú")
	assert.Contains(t, reply, "1. Corte")
	assert.Contains(t, reply, "2. Barba")
	sel, err := h.store.Selection(context.Background(), phone)
	require.NoError(t, err)
	assert.Nil(t, sel)
}

func TestSlotPick_Validation(t *testing.T) {
	h := newHarness(t, corte())
	phone := "59899888888"
	h.send(phone, "1")
	h.send(phone, "hoy")

	assert.Contains(t, h.send(phone, "9"), "Elige un número entre 1 y 6")
	assert.Contains(t, h.send(phone, "a las 12:15"), "No encontré ese horario")
	assert.Contains(t, h.send(phone, "13:00"), "13:00")
	assert.Equal(t, replyAskName, h.send(phone, "Ana 2"))
}

func TestDayPick_InvalidDay(t *testing.T) {
	h := newHarness(t, corte())
	phone := "59899999999"
	h.send(phone, "1")
	assert.Contains(t, h.send(phone, "cuando sea"), "No entendí el día")
	assert.Contains(t, h.send(phone, "domingo"), "No hay horarios disponibles")
}

func TestInformativeService(t *testing.T) {
	h := newHarness(t, corte(), catalog.Service{ID: 9, TenantID: 1, Name: "Ubicación", Informative: true, InformativeMessage: "Estamos en 18 de Julio 1234."})
	assert.Equal(t, "Estamos en 18 de Julio 1234.", h.send("59899123123", "ubicacion"))
}

func TestEmployeeScopedBooking(t *testing.T) {
	h := newHarness(t, corte())
	h.catalog.employees = []catalog.Employee{{ID: 7, TenantID: 1, Name: "Luis", CalendarID: "cal-luis"}}
	phone := "59899121212"

	assert.Contains(t, h.send(phone, "Luis"), "Elegiste Corte con Luis")
	assert.Contains(t, h.send(phone, "hoy"), "con Luis")
	h.send(phone, "1")
	assert.Contains(t, h.send(phone, "Ana Pérez"), "Con: Luis")
	assert.Len(t, h.cal.Events("cal-luis"), 1)
	assert.Empty(t, h.cal.Events("cal-1"))
}

func TestEmployeeScopedBooking_EmployeeWithSeveralServices(t *testing.T) {
	barba := catalog.Service{ID: 4, TenantID: 1, Name: "Barba", DurationMinutes: 30, Capacity: 1, Price: 300}
	h := newHarness(t, corte(), barba)
	h.catalog.employees = []catalog.Employee{{ID: 7, TenantID: 1, Name: "Luis", CalendarID: "cal-luis", ServiceIDs: []int64{3, 4}}}
	phone := "59899121313"

	reply := h.send(phone, "Luis")
	assert.Contains(t, reply, "1. Corte")
	assert.Contains(t, reply, "2. Barba")

	assert.Contains(t, h.send(phone, "1"), "Elegiste Corte con Luis")
	assert.Contains(t, h.send(phone, "hoy"), "con Luis")
	h.send(phone, "1")
	assert.Contains(t, h.send(phone, "Ana Pérez"), "Con: Luis")
	assert.Len(t, h.cal.Events("cal-luis"), 1)
	assert.Empty(t, h.cal.Events("cal-1"))
}

func TestEmployeePickIsDroppedByCatalogCommand(t *testing.T) {
	barba := catalog.Service{ID: 4, TenantID: 1, Name: "Barba", DurationMinutes: 30, Capacity: 1, Price: 300}
	h := newHarness(t, corte(), barba)
	h.catalog.employees = []catalog.Employee{{ID: 7, TenantID: 1, Name: "Luis", CalendarID: "cal-luis", ServiceIDs: []int64{3, 4}}}
	phone := "59899121414"

	h.send(phone, "Luis")
	h.send(phone, "servicios")
	reply := h.send(phone, "1")
	assert.Contains(t, reply, "Elegiste Corte.")
	assert.NotContains(t, reply, "con Luis")
}

func TestHandle_QueuedMessageSharesRequestDeadline(t *testing.T) {
	h := newHarness(t, corte())
	h.ctrl.timeout = 50 * time.Millisecond
	phone := "59899121515"

	unlock, err := h.ctrl.locks.lock(context.Background(), phone)
	require.NoError(t, err)
	defer unlock()

	started := time.Now()
	reply := h.send(phone, "turno")
	assert.Equal(t, replyGenericFailure, reply)
	assert.Less(t, time.Since(started), time.Second)
}

func TestFallback_LLMUnavailableRepliesMenu(t *testing.T) {
	h := newHarness(t, corte())
	phone := "59899131313"
	h.send(phone, "hola")

	reply := h.send(phone, "qué precios tienen?")
	assert.Equal(t, 1, h.oracle.calls)
	assert.Contains(t, reply, "1. Corte")
	assert.Contains(t, reply, "cancelar <código>")
}

func TestFallback_TextReply(t *testing.T) {
	h := newHarness(t, corte())
	phone := "59899141414"
	h.send(phone, "hola")
	h.oracle.err = nil
	h.oracle.resp = llm.Response{Text: "Abrimos de lunes a viernes."}

	assert.Equal(t, "Abrimos de lunes a viernes.", h.send(phone, "qué horario tienen?"))
	assert.Contains(t, h.oracle.last.System, "id=3 Corte")
	require.NotEmpty(t, h.oracle.last.Messages)
	assert.Equal(t, "qué horario tienen?", h.oracle.last.Messages[len(h.oracle.last.Messages)-1].Content)
	assert.Len(t, h.oracle.last.Tools, 4)
}

func TestFallback_ToolSearchThenDeterministicPick(t *testing.T) {
	h := newHarness(t, corte())
	phone := "59899151515"
	h.send(phone, "hola")
	h.oracle.err = nil
	h.oracle.resp = llm.Response{ToolCall: &llm.ToolCall{
		Name:      llm.ToolSearchSlots,
		Arguments: []byte(`{"servicio_id": 3, "preferencia_horario": "tarde", "preferencia_fecha": "hoy"}`),
	}}

	reply := h.send(phone, "tenés algo para la tarde?")
	assert.Contains(t, reply, "1. 13:00")
	assert.NotContains(t, reply, "10:20")

	assert.Contains(t, h.send(phone, "1"), "nombre y apellido")
	assert.Contains(t, h.send(phone, "Ana Pérez"), "Reserva confirmada")
}

func TestFallback_ToolSearchDateExactTime(t *testing.T) {
	h := newHarness(t, corte())
	phone := "59899151616"
	h.send(phone, "hola")
	h.oracle.err = nil

	h.oracle.resp = llm.Response{ToolCall: &llm.ToolCall{
		Name:      llm.ToolSearchDate,
		Arguments: []byte(`{"servicio_id": 3, "fecha_especifica": "2026-10-19", "hora_especifica": "13:00"}`),
	}}
	reply := h.send(phone, "tenés el lunes a las 13?")
	assert.Contains(t, reply, "1. 13:00")
	assert.NotContains(t, reply, "no está disponible")

	h.oracle.resp = llm.Response{ToolCall: &llm.ToolCall{
		Name:      llm.ToolSearchDate,
		Arguments: []byte(`{"servicio_id": 3, "fecha_especifica": "2026-10-19", "hora_especifica": "12:00"}`),
	}}
	reply = h.send(phone, "y a las 12?")
	assert.Contains(t, reply, "Las 12:00 no está disponible")
	assert.Contains(t, reply, "13:00")
}

func TestFallback_ToolCreateValidatesSlot(t *testing.T) {
	h := newHarness(t, corte())
	phone := "59899161616"
	h.send(phone, "hola")
	h.oracle.err = nil

	h.oracle.resp = llm.Response{ToolCall: &llm.ToolCall{
		Name:      llm.ToolCreateBooking,
		Arguments: []byte(`{"servicio_id": 3, "fecha_hora": "2026-10-19 12:00", "nombre_cliente": "Ana Pérez"}`),
	}}
	reply := h.send(phone, "reservame a las 12")
	assert.Contains(t, reply, "Ese horario no está disponible")
	assert.Empty(t, h.resv.active())

	h.oracle.resp = llm.Response{ToolCall: &llm.ToolCall{
		Name:      llm.ToolCreateBooking,
		Arguments: []byte(`{"servicio_id": "3", "fecha_hora": "2026-10-19 13:00", "nombre_cliente": "Ana Pérez"}`),
	}}
	assert.Contains(t, h.send(phone, "entonces a las 13"), "Reserva confirmada")
	require.Len(t, h.resv.active(), 1)

	h.oracle.resp = llm.Response{ToolCall: &llm.ToolCall{
		Name:      llm.ToolCreateBooking,
		Arguments: []byte(`{"servicio_id": 99, "fecha_hora": "2026-10-19 14:20", "nombre_cliente": "Ana Pérez"}`),
	}}
	assert.Contains(t, h.send(phone, "otra más"), "No encontré ese servicio")
}

func TestFallback_ToolCancel(t *testing.T) {
	h := newHarness(t, corte())
	phone := "59899171717"
	h.send(phone, "1")
	h.send(phone, "hoy")
	h.send(phone, "1")
	code := codeInReply.FindStringSubmatch(h.send(phone, "Ana Pérez"))[1]
	h.send(phone, "hola")

	h.oracle.err = nil
	h.oracle.resp = llm.Response{ToolCall: &llm.ToolCall{
		Name:      llm.ToolCancelBooking,
		Arguments: []byte(fmt.Sprintf(`{"codigo_reserva": "%s"}`, strings.ToLower(code))),
	}}
	assert.Contains(t, h.send(phone, "ya no puedo ir"), "fue cancelada")
	assert.Empty(t, h.resv.active())
}

func TestUnknownTenant(t *testing.T) {
	h := newHarness(t, corte())
	reply := h.ctrl.Handle(context.Background(), Inbound{TenantID: 99, Phone: "59899000000", Text: "hola"})
	assert.Equal(t, replyTenantNotFound, reply)
}

func TestPersistFailure_GenericApologyAndErrorLog(t *testing.T) {
	h := newHarness(t, corte())
	h.resv.err = errors.New("connection refused")
	phone := "59899181818"
	h.send(phone, "1")
	h.send(phone, "hoy")
	h.send(phone, "1")

	assert.Equal(t, replyGenericFailure, h.send(phone, "Ana Pérez"))
	require.Len(t, h.errors.entries, 1)
	assert.Equal(t, "dialog", h.errors.entries[0].Source)
	assert.Empty(t, h.cal.Events("cal-1"))
}
