package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/agenda-ai-platform/internal/catalog"
	"github.com/wolfman30/agenda-ai-platform/internal/reservations"
	"github.com/wolfman30/agenda-ai-platform/internal/workhours"
)

const (
	replyBlocked        = "❌ Este número está bloqueado."
	replyHandoff        = "👋 Un integrante del equipo te responderá a la brevedad."
	replySlotTaken      = "⚠️ Lo siento, ese horario ya fue tomado, elige otro."
	replyTenantNotFound = "Lo siento, no encontré información de este negocio."
	replyGenericFailure = "😔 Lo siento, tuvimos un problema procesando tu mensaje. Intenta nuevamente en unos minutos."
	replyCalendarDown   = "😔 No pude confirmar la reserva en este momento. Intenta nuevamente en unos minutos."
	replyAskDay         = "¿Qué día te gustaría? (hoy, mañana o un día de la semana)"
	replyAskName        = "Por favor, indícame tu nombre y apellido para la reserva."
	replyNoServices     = "Por el momento no hay servicios disponibles para reservar."
	defaultWelcome      = "¡Hola! 👋 Soy el asistente de reservas de %s."
)

func welcome(t catalog.Tenant) string {
	if msg := strings.TrimSpace(t.WelcomeMessage); msg != "" {
		return msg
	}
	return fmt.Sprintf(defaultWelcome, t.Name)
}

func serviceList(services []catalog.Service) string {
	if len(services) == 0 {
		return replyNoServices
	}
	var b strings.Builder
	b.WriteString("📋 Estos son nuestros servicios:\n")
	for i, s := range services {
		fmt.Fprintf(&b, "%d. %s", i+1, s.Name)
		if !s.Informative {
			if s.DurationMinutes > 0 {
				fmt.Fprintf(&b, " (%d min)", s.DurationMinutes)
			}
			if s.Price > 0 {
				fmt.Fprintf(&b, " - $%s", formatPrice(s.Price))
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("Responde con el número o el nombre del servicio.")
	return b.String()
}

func employeeServices(e catalog.Employee, services []catalog.Service) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s realiza estos servicios:\n", e.Name)
	n := 0
	for i, s := range services {
		if s.Informative || !e.Offers(s.ID) {
			continue
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Name)
		n++
	}
	if n == 0 {
		return fmt.Sprintf("%s no tiene servicios disponibles por ahora.", e.Name)
	}
	b.WriteString("Responde con el número del servicio.")
	return b.String()
}

func askDay(svc catalog.Service, emp *catalog.Employee) string {
	if emp != nil {
		return fmt.Sprintf("Elegiste %s con %s. %s", svc.Name, emp.Name, replyAskDay)
	}
	return fmt.Sprintf("Elegiste %s. %s", svc.Name, replyAskDay)
}

func informative(svc catalog.Service) string {
	if msg := strings.TrimSpace(svc.InformativeMessage); msg != "" {
		return msg
	}
	return fmt.Sprintf("ℹ️ %s", svc.Name)
}

// slotList renders the offer. Times only when every slot is on the same day.
func slotList(serviceName string, slots []OfferedSlot, loc *time.Location) string {
	var b strings.Builder
	sameDay := true
	for _, s := range slots[1:] {
		if !sameDate(s.FechaHora.In(loc), slots[0].FechaHora.In(loc)) {
			sameDay = false
			break
		}
	}
	if sameDay {
		fmt.Fprintf(&b, "🗓️ Horarios disponibles para %s el %s:\n", serviceName, dayLabel(slots[0].FechaHora, loc))
	} else {
		fmt.Fprintf(&b, "🗓️ Horarios disponibles para %s:\n", serviceName)
	}
	for _, s := range slots {
		local := s.FechaHora.In(loc)
		if sameDay {
			fmt.Fprintf(&b, "%d. %s", s.Numero, local.Format("15:04"))
		} else {
			fmt.Fprintf(&b, "%d. %s %s", s.Numero, dayLabel(local, loc), local.Format("15:04"))
		}
		if s.EmpleadoNombre != "" {
			fmt.Fprintf(&b, " con %s", s.EmpleadoNombre)
		}
		b.WriteString("\n")
	}
	b.WriteString("Responde con el número del horario.")
	return b.String()
}

func noSlots(serviceName string, day time.Time, loc *time.Location) string {
	if day.IsZero() {
		return fmt.Sprintf("No hay horarios disponibles para %s en los próximos días.", serviceName)
	}
	return fmt.Sprintf("No hay horarios disponibles para %s el %s. ¿Quieres probar otro día?", serviceName, dayLabel(day, loc))
}

func askName(serviceName string, start time.Time, loc *time.Location) string {
	local := start.In(loc)
	return fmt.Sprintf("Perfecto, %s el %s a las %s. %s", serviceName, dayLabel(local, loc), local.Format("15:04"), replyAskName)
}

func confirmation(res *reservations.Reservation, loc *time.Location) string {
	local := res.Start.In(loc)
	var b strings.Builder
	b.WriteString("✅ ¡Reserva confirmada!\n")
	fmt.Fprintf(&b, "📋 Servicio: %s\n", res.ServiceName)
	fmt.Fprintf(&b, "📅 Fecha: %s\n", dayLabel(local, loc))
	fmt.Fprintf(&b, "🕐 Hora: %s\n", local.Format("15:04"))
	if res.EmployeeName != "" {
		fmt.Fprintf(&b, "💈 Con: %s\n", res.EmployeeName)
	}
	if res.PartySize > 1 {
		fmt.Fprintf(&b, "👥 Personas: %d\n", res.PartySize)
	}
	fmt.Fprintf(&b, "👤 Nombre: %s\n", res.ClientName)
	fmt.Fprintf(&b, "🔑 Código: %s\n", res.Code)
	fmt.Fprintf(&b, "Para cancelar envía: cancelar %s", res.Code)
	return b.String()
}

func cancelled(res *reservations.Reservation, loc *time.Location) string {
	local := res.Start.In(loc)
	return fmt.Sprintf("✅ Tu reserva %s (%s, %s a las %s) fue cancelada.",
		res.Code, res.ServiceName, dayLabel(local, loc), local.Format("15:04"))
}

func activeList(active []reservations.Reservation, loc *time.Location) string {
	if len(active) == 0 {
		return "No tienes reservas activas."
	}
	var b strings.Builder
	b.WriteString("Tus reservas activas:\n")
	for _, r := range active {
		local := r.Start.In(loc)
		fmt.Fprintf(&b, "• %s - %s, %s a las %s\n", r.Code, r.ServiceName, dayLabel(local, loc), local.Format("15:04"))
	}
	b.WriteString("Envía \"cancelar <código>\" para anular una reserva.")
	return b.String()
}

func menu(services []catalog.Service) string {
	return serviceList(services) + "\nPara cancelar una reserva envía: cancelar <código>"
}

// dayLabel renders "lunes 19/10".
func dayLabel(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	return fmt.Sprintf("%s %s", workhours.SpanishDayName(local.Weekday()), local.Format("02/01"))
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func formatPrice(p float64) string {
	if p == float64(int64(p)) {
		return fmt.Sprintf("%d", int64(p))
	}
	return fmt.Sprintf("%.2f", p)
}
