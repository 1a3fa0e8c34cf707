package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/agenda-ai-platform/internal/availability"
	"github.com/wolfman30/agenda-ai-platform/internal/catalog"
	"github.com/wolfman30/agenda-ai-platform/internal/llm"
	"github.com/wolfman30/agenda-ai-platform/internal/reservations"
	"github.com/wolfman30/agenda-ai-platform/internal/tenantctx"
)

var startLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// execute validates a tool call against the tenant context and runs it
// through the same paths as the deterministic dialog.
func (c *Controller) execute(ctx context.Context, tc *tenantctx.Context, phone string, call llm.ToolCall) (string, error) {
	c.logger.Info("conversation: executing tool", "tool", call.Name, "tenant_id", tc.Tenant.ID)

	switch call.Name {
	case llm.ToolSearchSlots:
		var args llm.SearchSlotsArgs
		if err := llm.DecodeArguments(call, &args); err != nil {
			return c.invalidArguments(tc, err), nil
		}
		svc, ok := bookableService(tc, int64(args.ServiceID))
		if !ok {
			return unknownService(tc), nil
		}
		var day time.Time
		if args.DatePreference != "" {
			day, _ = parseDay(args.DatePreference, c.slots.Now(), c.loc)
		}
		sel, err := c.selectForBooking(ctx, tc, phone, svc, nil, int(args.PartySize))
		if err != nil {
			return "", err
		}
		return c.offer(ctx, tc, phone, sel, svc, nil, day, partOfDay(args.TimePreference, c.loc))

	case llm.ToolSearchDate:
		var args llm.SearchDateArgs
		if err := llm.DecodeArguments(call, &args); err != nil {
			return c.invalidArguments(tc, err), nil
		}
		svc, ok := bookableService(tc, int64(args.ServiceID))
		if !ok {
			return unknownService(tc), nil
		}
		day, ok := parseDay(args.Date, c.slots.Now(), c.loc)
		if !ok {
			return "No entendí la fecha. " + replyAskDay, nil
		}
		sel, err := c.selectForBooking(ctx, tc, phone, svc, nil, int(args.PartySize))
		if err != nil {
			return "", err
		}
		if h, m, ok := clockIn(args.Time); ok {
			exact := func(t time.Time) bool {
				local := t.In(c.loc)
				return local.Hour() == h && local.Minute() == m
			}
			reply, n, err := c.offerCounted(ctx, tc, phone, sel, svc, nil, day, exact)
			if err != nil || n > 0 {
				return reply, err
			}
			all, err := c.offer(ctx, tc, phone, sel, svc, nil, day, nil)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Las %02d:%02d no está disponible.\n\n%s", h, m, all), nil
		}
		return c.offer(ctx, tc, phone, sel, svc, nil, day, nil)

	case llm.ToolCreateBooking:
		var args llm.CreateBookingArgs
		if err := llm.DecodeArguments(call, &args); err != nil {
			return c.invalidArguments(tc, err), nil
		}
		return c.createFromTool(ctx, tc, phone, args)

	case llm.ToolCancelBooking:
		var args llm.CancelBookingArgs
		if err := llm.DecodeArguments(call, &args); err != nil {
			return c.invalidArguments(tc, err), nil
		}
		code := strings.ToUpper(strings.TrimSpace(args.Code))
		if !reservations.IsCode(code) {
			return "El código de reserva tiene 6 letras o números. ¿Me lo confirmas?", nil
		}
		return c.cancelByCode(ctx, tc, phone, code)
	}

	c.logger.Warn("conversation: model called an undeclared tool", "tool", call.Name)
	return c.ruleBasedMenu(tc), nil
}

func (c *Controller) createFromTool(ctx context.Context, tc *tenantctx.Context, phone string, args llm.CreateBookingArgs) (string, error) {
	svc, ok := bookableService(tc, int64(args.ServiceID))
	if !ok {
		return unknownService(tc), nil
	}
	start, ok := parseStart(args.StartsAt, c.loc)
	if !ok {
		return "No entendí el horario elegido. " + replyAskDay, nil
	}
	name, ok := validName(args.ClientName)
	if !ok {
		return replyAskName, nil
	}
	var emp *catalog.Employee
	if args.EmployeeID > 0 {
		e, ok := tc.Employee(int64(args.EmployeeID))
		if !ok || !e.Offers(svc.ID) {
			return fmt.Sprintf("No encontré ese empleado para %s.", svc.Name), nil
		}
		emp = &e
	}
	party := int(args.PartySize)
	if party < 1 {
		party = 1
	}

	sel, err := c.selectForBooking(ctx, tc, phone, svc, emp, party)
	if err != nil {
		return "", err
	}
	bookable, err := c.isOffered(ctx, tc, svc, emp, start, party)
	if err != nil {
		return "", err
	}
	if !bookable {
		again, err := c.offer(ctx, tc, phone, sel, svc, emp, start, nil)
		if err != nil {
			return "", err
		}
		return "Ese horario no está disponible.\n\n" + again, nil
	}

	res, err := c.booker.Create(ctx, reservations.CreateRequest{
		Tenant:      tc.Tenant,
		Service:     svc,
		Employee:    emp,
		Start:       start,
		ClientName:  name,
		ClientPhone: phone,
		PartySize:   party,
	})
	if err != nil {
		return "", err
	}
	c.resetFlow(ctx, phone)
	return confirmation(res, c.loc), nil
}

// isOffered reports whether start is among the slots generated for its day.
func (c *Controller) isOffered(ctx context.Context, tc *tenantctx.Context, svc catalog.Service, emp *catalog.Employee, start time.Time, party int) (bool, error) {
	res, err := c.slots.Slots(ctx, availability.Params{
		CalendarID:     tc.Tenant.CalendarFor(svc, emp),
		Duration:       svc.Duration(),
		Capacity:       svc.MaxCapacity(),
		PartySize:      party,
		Gap:            tc.Tenant.Gap(),
		ExactHoursOnly: svc.ExactHoursOnly,
		Consecutive:    svc.Consecutive,
		Schedule:       tc.Tenant.ScheduleFor(svc, emp),
		Day:            start,
		MaxSlots:       1000,
	})
	if errors.Is(err, availability.ErrInvalidDuration) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, s := range res.Slots {
		if s.Equal(start) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Controller) invalidArguments(tc *tenantctx.Context, err error) string {
	c.logger.Warn("conversation: invalid tool arguments", "tenant_id", tc.Tenant.ID, "error", err)
	return "No pude entender tu pedido. " + serviceList(tc.Services)
}

func bookableService(tc *tenantctx.Context, id int64) (catalog.Service, bool) {
	svc, err := catalog.FindService(tc.Services, id)
	if err != nil || svc.Informative {
		return catalog.Service{}, false
	}
	return svc, true
}

func unknownService(tc *tenantctx.Context) string {
	return "No encontré ese servicio. " + serviceList(tc.Services)
}

func parseStart(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// partOfDay filters slots by mañana (before 12), tarde (12 to 19) or noche.
func partOfDay(pref string, loc *time.Location) func(time.Time) bool {
	var from, to int
	switch strings.TrimSpace(strings.ToLower(pref)) {
	case "mañana", "manana", "morning":
		from, to = 0, 12
	case "tarde", "afternoon":
		from, to = 12, 19
	case "noche", "night", "evening":
		from, to = 19, 24
	default:
		return nil
	}
	return func(t time.Time) bool {
		h := t.In(loc).Hour()
		return h >= from && h < to
	}
}
