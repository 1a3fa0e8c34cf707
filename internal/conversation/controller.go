package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/agenda-ai-platform/internal/availability"
	"github.com/wolfman30/agenda-ai-platform/internal/calendar"
	"github.com/wolfman30/agenda-ai-platform/internal/catalog"
	"github.com/wolfman30/agenda-ai-platform/internal/errorlog"
	"github.com/wolfman30/agenda-ai-platform/internal/llm"
	"github.com/wolfman30/agenda-ai-platform/internal/reservations"
	"github.com/wolfman30/agenda-ai-platform/internal/tenantctx"
	"github.com/wolfman30/agenda-ai-platform/internal/textnorm"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

var tracer = otel.Tracer("agenda.internal.conversation")

const (
	// DefaultTimeout bounds the handling of one inbound message.
	DefaultTimeout = 30 * time.Second

	llmHistory = 10
)

// ContextLoader loads the tenant context for a phone.
type ContextLoader interface {
	Load(ctx context.Context, tenantID int64, phone string) (*tenantctx.Context, error)
}

// SlotFinder generates bookable slots.
type SlotFinder interface {
	Slots(ctx context.Context, p availability.Params) (availability.Result, error)
	Now() time.Time
	Location() *time.Location
}

// Booker creates and cancels reservations.
type Booker interface {
	Create(ctx context.Context, req reservations.CreateRequest) (*reservations.Reservation, error)
	Cancel(ctx context.Context, tenantID int64, code, phone string) (*reservations.Reservation, error)
}

// HandoffNotifier alerts the tenant's operators about a message in human mode.
type HandoffNotifier interface {
	NotifyHandoff(ctx context.Context, tenant catalog.Tenant, phone, message string) error
}

// ErrorRecorder persists fatal failures.
type ErrorRecorder interface {
	Record(ctx context.Context, e errorlog.Entry) error
}

// Inbound is one customer message addressed to a tenant.
type Inbound struct {
	TenantID int64
	Phone    string
	Text     string
}

// Controller is the per-message dialog state machine.
type Controller struct {
	store    *Store
	loader   ContextLoader
	slots    SlotFinder
	booker   Booker
	oracle   llm.Oracle
	notifier HandoffNotifier
	errors   ErrorRecorder
	locks    *phoneLocks
	loc      *time.Location
	timeout  time.Duration
	logger   *logging.Logger
}

// ControllerOption customises a Controller.
type ControllerOption func(*Controller)

// WithOracle sets the model used for free-text messages. Without one the
// controller answers unmatched messages with the menu.
func WithOracle(o llm.Oracle) ControllerOption {
	return func(c *Controller) { c.oracle = o }
}

// WithNotifier sets the human handoff notifier.
func WithNotifier(n HandoffNotifier) ControllerOption {
	return func(c *Controller) { c.notifier = n }
}

// WithErrorRecorder sets where fatal failures are recorded.
func WithErrorRecorder(r ErrorRecorder) ControllerOption {
	return func(c *Controller) { c.errors = r }
}

// WithTimeout overrides the per-message deadline.
func WithTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewController wires the dialog controller.
func NewController(store *Store, loader ContextLoader, slots SlotFinder, booker Booker, logger *logging.Logger, opts ...ControllerOption) *Controller {
	if store == nil {
		panic("conversation: store required")
	}
	if loader == nil {
		panic("conversation: context loader required")
	}
	if slots == nil {
		panic("conversation: slot finder required")
	}
	if booker == nil {
		panic("conversation: booker required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Controller{
		store:   store,
		loader:  loader,
		slots:   slots,
		booker:  booker,
		locks:   newPhoneLocks(),
		loc:     slots.Location(),
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle processes one inbound message and returns the reply text. Messages
// from the same phone are handled one at a time.
func (c *Controller) Handle(ctx context.Context, in Inbound) string {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "conversation.handle")
	defer span.End()
	span.SetAttributes(attribute.Int64("agenda.tenant_id", in.TenantID))

	// Waiting behind an earlier message of the same phone counts against
	// this message's deadline.
	unlock, err := c.locks.lock(ctx, in.Phone)
	if err != nil {
		span.RecordError(err)
		return c.replyForError(ctx, in, err)
	}
	defer unlock()

	reply, keep, err := c.route(ctx, in)
	if err != nil {
		span.RecordError(err)
		reply = c.replyForError(ctx, in, err)
	}
	if keep {
		c.remember(ctx, in, reply)
	}
	return reply
}

func (c *Controller) route(ctx context.Context, in Inbound) (string, bool, error) {
	tc, err := c.loader.Load(ctx, in.TenantID, in.Phone)
	if err != nil {
		return "", false, err
	}
	if tc.Blocked {
		return replyBlocked, false, nil
	}
	if tc.HumanMode {
		c.notifyHandoff(ctx, tc.Tenant, in)
		return replyHandoff, false, nil
	}

	text := strings.TrimSpace(in.Text)
	folded := textnorm.Fold(text)

	if isCancelIntent(folded) {
		reply, err := c.cancel(ctx, tc, in.Phone, text)
		return reply, true, err
	}
	if isCatalogCommand(folded) {
		c.resetFlow(ctx, in.Phone)
		return serviceList(tc.Services), true, nil
	}
	if reply, handled, err := c.continueFlow(ctx, tc, in.Phone, text); handled || err != nil {
		return reply, true, err
	}
	if reply, handled, err := c.selectService(ctx, tc, in.Phone, text); handled || err != nil {
		return reply, true, err
	}
	reply, err := c.fallback(ctx, tc, in.Phone, text)
	return reply, true, err
}

func (c *Controller) cancel(ctx context.Context, tc *tenantctx.Context, phone, text string) (string, error) {
	code, ok := cancelCode(text)
	if !ok {
		return activeList(tc.Active, c.loc), nil
	}
	return c.cancelByCode(ctx, tc, phone, code)
}

func (c *Controller) cancelByCode(ctx context.Context, tc *tenantctx.Context, phone, code string) (string, error) {
	res, err := c.booker.Cancel(ctx, tc.Tenant.ID, code, phone)
	switch {
	case errors.Is(err, reservations.ErrNotFound), errors.Is(err, reservations.ErrForbidden):
		return fmt.Sprintf("No encontré una reserva activa con el código %s.", code), nil
	case errors.Is(err, reservations.ErrNotActive):
		return fmt.Sprintf("La reserva %s ya fue completada y no se puede cancelar.", code), nil
	case err != nil:
		return "", err
	}
	c.resetFlow(ctx, phone)
	return cancelled(res, c.loc), nil
}

// continueFlow advances an in-progress booking: name, slot pick or day pick.
func (c *Controller) continueFlow(ctx context.Context, tc *tenantctx.Context, phone, text string) (string, bool, error) {
	sel, err := c.store.Selection(ctx, phone)
	if err != nil {
		c.logger.Warn("conversation: selection read failed", "phone", logging.MaskPhone(phone), "error", err)
		return "", false, nil
	}
	if sel == nil {
		return "", false, nil
	}
	svc, err := catalog.FindService(tc.Services, sel.ServiceID)
	if sel.TenantID != tc.Tenant.ID || err != nil {
		c.resetFlow(ctx, phone)
		return "", false, nil
	}
	var emp *catalog.Employee
	if sel.EmployeeID != nil {
		if e, ok := tc.Employee(*sel.EmployeeID); ok {
			emp = &e
		}
	}

	now := c.slots.Now()
	day, isDay := parseDay(text, now, c.loc)
	_, isNumber := pickNumber(text)

	pending, err := c.store.Pending(ctx, phone)
	if err != nil {
		c.logger.Warn("conversation: pending read failed", "phone", logging.MaskPhone(phone), "error", err)
	}
	if pending != nil && pending.TenantID == tc.Tenant.ID && pending.ServiceID == svc.ID && !isNumber {
		singleWord := len(strings.Fields(text)) == 1
		if !(isDay && singleWord) {
			name, ok := validName(text)
			if !ok {
				return replyAskName, true, nil
			}
			reply, err := c.book(ctx, tc, phone, *sel, svc, *pending, name)
			return reply, true, err
		}
	}

	offered, err := c.store.Slots(ctx, phone, svc.ID)
	if err != nil {
		c.logger.Warn("conversation: offered slots read failed", "phone", logging.MaskPhone(phone), "error", err)
	}
	if len(offered) > 0 {
		if n, ok := pickNumber(text); ok {
			if n > len(offered) {
				return fmt.Sprintf("Elige un número entre 1 y %d.", len(offered)), true, nil
			}
			reply, err := c.pick(ctx, tc, phone, *sel, svc, offered[n-1])
			return reply, true, err
		}
		if h, m, ok := clockIn(text); ok {
			for _, s := range offered {
				local := s.FechaHora.In(c.loc)
				if local.Hour() == h && local.Minute() == m {
					reply, err := c.pick(ctx, tc, phone, *sel, svc, s)
					return reply, true, err
				}
			}
			return "No encontré ese horario en la lista. Responde con el número de uno de los horarios ofrecidos.", true, nil
		}
	}

	if isDay {
		_ = c.store.ClearPending(ctx, phone)
		reply, err := c.offer(ctx, tc, phone, *sel, svc, emp, day, nil)
		return reply, true, err
	}
	if len(offered) == 0 {
		if _, ok := catalog.MatchService(tc.Services, text); ok && !isNumber {
			return "", false, nil
		}
		return "No entendí el día. " + replyAskDay, true, nil
	}
	return "", false, nil
}

func (c *Controller) pick(ctx context.Context, tc *tenantctx.Context, phone string, sel Selection, svc catalog.Service, slot OfferedSlot) (string, error) {
	p := PendingBooking{
		TenantID:     tc.Tenant.ID,
		ServiceID:    svc.ID,
		Start:        slot.FechaHora,
		EmployeeID:   slot.EmpleadoID,
		EmployeeName: slot.EmpleadoNombre,
		PartySize:    sel.PartySize,
	}
	if p.EmployeeID == nil {
		p.EmployeeID, p.EmployeeName = sel.EmployeeID, sel.EmployeeName
	}
	if err := c.store.SetPending(ctx, phone, p); err != nil {
		return "", err
	}
	return askName(svc.Name, slot.FechaHora, c.loc), nil
}

func (c *Controller) book(ctx context.Context, tc *tenantctx.Context, phone string, sel Selection, svc catalog.Service, pending PendingBooking, name string) (string, error) {
	var emp *catalog.Employee
	if pending.EmployeeID != nil {
		if e, ok := tc.Employee(*pending.EmployeeID); ok {
			emp = &e
		}
	}
	res, err := c.booker.Create(ctx, reservations.CreateRequest{
		Tenant:      tc.Tenant,
		Service:     svc,
		Employee:    emp,
		Start:       pending.Start,
		ClientName:  name,
		ClientPhone: phone,
		PartySize:   pending.PartySize,
	})
	if errors.Is(err, reservations.ErrSlotTaken) {
		_ = c.store.ClearPending(ctx, phone)
		again, oerr := c.offer(ctx, tc, phone, sel, svc, emp, pending.Start, nil)
		if oerr != nil {
			return replySlotTaken, nil
		}
		return replySlotTaken + "\n\n" + again, nil
	}
	if err != nil {
		return "", err
	}
	c.resetFlow(ctx, phone)
	return confirmation(res, c.loc), nil
}

// offer generates slots for the selection, caches them numbered and renders
// the list. keep filters the generated starts when set.
func (c *Controller) offer(ctx context.Context, tc *tenantctx.Context, phone string, sel Selection, svc catalog.Service, emp *catalog.Employee, day time.Time, keep func(time.Time) bool) (string, error) {
	reply, _, err := c.offerCounted(ctx, tc, phone, sel, svc, emp, day, keep)
	return reply, err
}

// offerCounted is offer that also reports how many slots were offered.
func (c *Controller) offerCounted(ctx context.Context, tc *tenantctx.Context, phone string, sel Selection, svc catalog.Service, emp *catalog.Employee, day time.Time, keep func(time.Time) bool) (string, int, error) {
	party := sel.PartySize
	if party < 1 {
		party = 1
	}
	res, err := c.slots.Slots(ctx, availability.Params{
		CalendarID:     tc.Tenant.CalendarFor(svc, emp),
		Duration:       svc.Duration(),
		Capacity:       svc.MaxCapacity(),
		PartySize:      party,
		Gap:            tc.Tenant.Gap(),
		ExactHoursOnly: svc.ExactHoursOnly,
		Consecutive:    svc.Consecutive,
		Schedule:       tc.Tenant.ScheduleFor(svc, emp),
		Day:            day,
	})
	if errors.Is(err, availability.ErrInvalidDuration) {
		return fmt.Sprintf("El servicio %s no tiene horarios configurados.", svc.Name), 0, nil
	}
	if err != nil {
		return "", 0, err
	}

	var offered []OfferedSlot
	for _, start := range res.Slots {
		if keep != nil && !keep(start) {
			continue
		}
		slot := OfferedSlot{Numero: len(offered) + 1, FechaHora: start.UTC()}
		if emp != nil {
			id := emp.ID
			slot.EmpleadoID, slot.EmpleadoNombre = &id, emp.Name
		}
		offered = append(offered, slot)
	}
	if len(offered) == 0 {
		_ = c.store.ClearSlots(ctx, phone, svc.ID)
		return noSlots(svc.Name, day, c.loc), 0, nil
	}
	if res.Mock {
		c.logger.Warn("conversation: offering mock slots", "tenant_id", tc.Tenant.ID, "service_id", svc.ID)
	}
	if err := c.store.SetSlots(ctx, phone, svc.ID, offered); err != nil {
		return "", 0, err
	}
	return slotList(svc.Name, offered, c.loc), len(offered), nil
}

func (c *Controller) selectService(ctx context.Context, tc *tenantctx.Context, phone, text string) (string, bool, error) {
	svc, ok := catalog.MatchService(tc.Services, text)
	if !ok {
		emp, ok := catalog.MatchEmployee(tc.Employees, text)
		if !ok {
			return "", false, nil
		}
		var offered []catalog.Service
		for _, s := range tc.Bookable() {
			if emp.Offers(s.ID) {
				offered = append(offered, s)
			}
		}
		if len(offered) == 0 {
			return employeeServices(emp, tc.Services), true, nil
		}
		if len(offered) > 1 {
			c.resetFlow(ctx, phone)
			if err := c.store.SetPendingEmployee(ctx, phone, PendingEmployee{TenantID: tc.Tenant.ID, EmployeeID: emp.ID}); err != nil {
				return "", true, err
			}
			return employeeServices(emp, tc.Services), true, nil
		}
		svc = offered[0]
		reply, err := c.choose(ctx, tc, phone, svc, &emp)
		return reply, true, err
	}
	if svc.Informative {
		return informative(svc), true, nil
	}
	var emp *catalog.Employee
	if e, ok := catalog.MatchEmployee(tc.Employees, text); ok && e.Offers(svc.ID) {
		emp = &e
	} else {
		emp = c.pendingEmployee(ctx, tc, phone, svc)
	}
	reply, err := c.choose(ctx, tc, phone, svc, emp)
	return reply, true, err
}

// pendingEmployee returns the employee picked before the service when that
// employee performs svc.
func (c *Controller) pendingEmployee(ctx context.Context, tc *tenantctx.Context, phone string, svc catalog.Service) *catalog.Employee {
	p, err := c.store.PendingEmployee(ctx, phone)
	if err != nil {
		c.logger.Warn("conversation: pending employee read failed", "phone", logging.MaskPhone(phone), "error", err)
		return nil
	}
	if p == nil || p.TenantID != tc.Tenant.ID {
		return nil
	}
	e, ok := tc.Employee(p.EmployeeID)
	if !ok || !e.Offers(svc.ID) {
		return nil
	}
	return &e
}

func (c *Controller) choose(ctx context.Context, tc *tenantctx.Context, phone string, svc catalog.Service, emp *catalog.Employee) (string, error) {
	if _, err := c.selectForBooking(ctx, tc, phone, svc, emp, 1); err != nil {
		return "", err
	}
	return askDay(svc, emp), nil
}

func (c *Controller) selectForBooking(ctx context.Context, tc *tenantctx.Context, phone string, svc catalog.Service, emp *catalog.Employee, party int) (Selection, error) {
	if party < 1 {
		party = 1
	}
	sel := Selection{TenantID: tc.Tenant.ID, ServiceID: svc.ID, ServiceName: svc.Name, PartySize: party}
	if emp != nil {
		id := emp.ID
		sel.EmployeeID, sel.EmployeeName = &id, emp.Name
	}
	c.resetFlow(ctx, phone)
	if err := c.store.SetSelection(ctx, phone, sel); err != nil {
		return Selection{}, err
	}
	return sel, nil
}

func (c *Controller) fallback(ctx context.Context, tc *tenantctx.Context, phone, text string) (string, error) {
	first, err := c.store.MarkGreeted(ctx, tc.Tenant.ID, phone)
	if err != nil {
		c.logger.Warn("conversation: greeting flag failed", "phone", logging.MaskPhone(phone), "error", err)
	}
	if first {
		return welcome(tc.Tenant) + "\n\n" + serviceList(tc.Services), nil
	}
	if c.oracle == nil {
		return c.ruleBasedMenu(tc), nil
	}

	history, err := c.store.History(ctx, phone, llmHistory)
	if err != nil {
		c.logger.Warn("conversation: history read failed", "phone", logging.MaskPhone(phone), "error", err)
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	resp, err := c.oracle.Complete(ctx, llm.Request{
		System:   buildSystemPrompt(tc, c.slots.Now(), c.loc),
		Messages: msgs,
		Tools:    llm.BookingTools(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("conversation: llm unavailable, replying with menu", "tenant_id", tc.Tenant.ID, "error", err)
		return c.ruleBasedMenu(tc), nil
	}
	if resp.ToolCall != nil {
		return c.execute(ctx, tc, phone, *resp.ToolCall)
	}
	if resp.Text == "" {
		return c.ruleBasedMenu(tc), nil
	}
	return resp.Text, nil
}

func (c *Controller) ruleBasedMenu(tc *tenantctx.Context) string {
	out := menu(tc.Services)
	if len(tc.Active) > 0 {
		out += "\n\n" + activeList(tc.Active, c.loc)
	}
	return out
}

func (c *Controller) replyForError(ctx context.Context, in Inbound, err error) string {
	logger := c.logger.With("tenant_id", in.TenantID, "phone", logging.MaskPhone(in.Phone))
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		logger.Warn("conversation: message handling timed out", "error", err)
		return replyGenericFailure
	case errors.Is(err, reservations.ErrSlotTaken):
		return replySlotTaken
	case errors.Is(err, catalog.ErrTenantNotFound):
		logger.Warn("conversation: tenant not found", "error", err)
		return replyTenantNotFound
	case errors.Is(err, calendar.ErrUnavailable):
		logger.Warn("conversation: calendar unavailable during booking", "error", err)
		return replyCalendarDown
	case errors.Is(err, reservations.ErrInvalidRequest):
		logger.Warn("conversation: booking rejected", "error", err)
		return "No pude completar la reserva con esos datos. " + replyAskDay
	}

	logger.Error("conversation: message handling failed", "error", err)
	if c.errors != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = c.errors.Record(rctx, errorlog.Entry{
			TenantID: in.TenantID,
			Phone:    in.Phone,
			Source:   "dialog",
			Message:  err.Error(),
			Details:  map[string]string{"inbound": in.Text},
		})
	}
	return replyGenericFailure
}

func (c *Controller) notifyHandoff(ctx context.Context, tenant catalog.Tenant, in Inbound) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.NotifyHandoff(ctx, tenant, in.Phone, in.Text); err != nil {
		c.logger.Warn("conversation: handoff notification failed", "tenant_id", tenant.ID, "error", err)
	}
}

func (c *Controller) resetFlow(ctx context.Context, phone string) {
	if err := c.store.ResetFlow(ctx, phone); err != nil {
		c.logger.Warn("conversation: reset flow failed", "phone", logging.MaskPhone(phone), "error", err)
	}
}

func (c *Controller) remember(ctx context.Context, in Inbound, reply string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	now := time.Now().UTC()
	err := c.store.Append(ctx, in.Phone,
		Message{Role: RoleUser, Content: in.Text, Timestamp: now},
		Message{Role: RoleAssistant, Content: reply, Timestamp: now},
	)
	if err != nil {
		c.logger.Warn("conversation: history append failed", "phone", logging.MaskPhone(in.Phone), "error", err)
	}
}
