package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/agenda-ai-platform/internal/tenantctx"
	"github.com/wolfman30/agenda-ai-platform/internal/workhours"
)

const basePrompt = `Eres el asistente de reservas por WhatsApp de %s. Respondes en español, de forma breve y amable.

Reglas:
- Usa solo los servicios y empleados listados abajo, con sus IDs reales.
- Para ver horarios usa buscar_horarios_servicio o buscar_horarios_fecha_especifica. Nunca inventes horarios.
- Para reservar usa crear_reserva solo con un horario ofrecido y el nombre y apellido del cliente.
- Para cancelar usa cancelar_reserva con el código de 6 caracteres.
- Si el cliente pide algo que no es una reserva, responde brevemente y ofrece la lista de servicios.`

// buildSystemPrompt summarises the tenant, its catalog and the customer's
// history for the model.
func buildSystemPrompt(tc *tenantctx.Context, now time.Time, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, basePrompt, tc.Tenant.Name)

	local := now.In(loc)
	fmt.Fprintf(&b, "\n\n⏰ AHORA: %s %s %s (%s).",
		workhours.SpanishDayName(local.Weekday()), local.Format("2006-01-02"), local.Format("15:04"), loc.String())

	b.WriteString("\n\n📋 SERVICIOS:\n")
	for _, s := range tc.Services {
		if s.Informative {
			fmt.Fprintf(&b, "- id=%d %s (informativo)\n", s.ID, s.Name)
			continue
		}
		fmt.Fprintf(&b, "- id=%d %s, %d min", s.ID, s.Name, s.DurationMinutes)
		if s.Price > 0 {
			fmt.Fprintf(&b, ", $%s", formatPrice(s.Price))
		}
		if s.MaxCapacity() > 1 {
			fmt.Fprintf(&b, ", hasta %d reservas simultáneas", s.MaxCapacity())
		}
		b.WriteString("\n")
	}

	if len(tc.Employees) > 0 {
		b.WriteString("\n💈 EMPLEADOS:\n")
		for _, e := range tc.Employees {
			fmt.Fprintf(&b, "- id=%d %s", e.ID, e.Name)
			if len(e.ServiceIDs) > 0 {
				ids := make([]string, 0, len(e.ServiceIDs))
				for _, id := range e.ServiceIDs {
					ids = append(ids, fmt.Sprintf("%d", id))
				}
				fmt.Fprintf(&b, " (servicios: %s)", strings.Join(ids, ", "))
			}
			b.WriteString("\n")
		}
	}

	if len(tc.Active) > 0 || len(tc.Past) > 0 {
		b.WriteString("\n🗂️ HISTORIAL DEL CLIENTE:\n")
		for _, r := range tc.Active {
			fmt.Fprintf(&b, "- activa %s: %s el %s\n", r.Code, r.ServiceName, r.Start.In(loc).Format("2006-01-02 15:04"))
		}
		for _, r := range tc.Past {
			fmt.Fprintf(&b, "- %s %s: %s el %s\n", r.Status, r.Code, r.ServiceName, r.Start.In(loc).Format("2006-01-02 15:04"))
		}
	}
	return b.String()
}
