package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Tool names declared to the model.
const (
	ToolSearchSlots   = "buscar_horarios_servicio"
	ToolSearchDate    = "buscar_horarios_fecha_especifica"
	ToolCreateBooking = "crear_reserva"
	ToolCancelBooking = "cancelar_reserva"
)

const (
	paramTypeString  = "string"
	paramTypeInteger = "integer"
)

// Param is one argument of a declared tool.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Enum        []string
}

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Params      []Param
}

// BookingTools is the stable tool contract of the booking assistant.
func BookingTools() []Tool {
	return []Tool{
		{
			Name:        ToolSearchSlots,
			Description: "Busca los próximos horarios disponibles para un servicio.",
			Params: []Param{
				{Name: "servicio_id", Type: paramTypeInteger, Description: "ID real del servicio", Required: true},
				{Name: "preferencia_horario", Type: paramTypeString, Description: "Franja preferida", Enum: []string{"mañana", "tarde", "noche"}},
				{Name: "preferencia_fecha", Type: paramTypeString, Description: "Día preferido: hoy, mañana o un día de la semana"},
				{Name: "cantidad", Type: paramTypeInteger, Description: "Cantidad de personas (por defecto 1)"},
			},
		},
		{
			Name:        ToolSearchDate,
			Description: "Busca horarios disponibles para un servicio en una fecha concreta.",
			Params: []Param{
				{Name: "servicio_id", Type: paramTypeInteger, Description: "ID real del servicio", Required: true},
				{Name: "fecha_especifica", Type: paramTypeString, Description: "Fecha YYYY-MM-DD, hoy, mañana o un día de la semana", Required: true},
				{Name: "hora_especifica", Type: paramTypeString, Description: "Hora HH:MM si el cliente pidió una"},
				{Name: "cantidad", Type: paramTypeInteger, Description: "Cantidad de personas (por defecto 1)"},
			},
		},
		{
			Name:        ToolCreateBooking,
			Description: "Crea una reserva para un horario ofrecido previamente.",
			Params: []Param{
				{Name: "servicio_id", Type: paramTypeInteger, Description: "ID real del servicio", Required: true},
				{Name: "fecha_hora", Type: paramTypeString, Description: "Inicio en formato YYYY-MM-DD HH:MM (hora local)", Required: true},
				{Name: "empleado_id", Type: paramTypeInteger, Description: "ID del empleado si el cliente eligió uno"},
				{Name: "nombre_cliente", Type: paramTypeString, Description: "Nombre y apellido del cliente", Required: true},
				{Name: "cantidad", Type: paramTypeInteger, Description: "Cantidad de personas (por defecto 1)"},
			},
		},
		{
			Name:        ToolCancelBooking,
			Description: "Cancela una reserva existente a partir de su código.",
			Params: []Param{
				{Name: "codigo_reserva", Type: paramTypeString, Description: "Código de 6 caracteres de la reserva", Required: true},
			},
		},
	}
}

// JSONSchema renders the tool parameters as a JSON-schema object.
func (t Tool) JSONSchema() map[string]any {
	props := make(map[string]any, len(t.Params))
	required := []string{}
	for _, p := range t.Params {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// FlexInt accepts a JSON number or a numeric string.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", data)
	}
	*f = FlexInt(n)
	return nil
}

// SearchSlotsArgs are the arguments of buscar_horarios_servicio.
type SearchSlotsArgs struct {
	ServiceID      FlexInt `json:"servicio_id"`
	TimePreference string  `json:"preferencia_horario"`
	DatePreference string  `json:"preferencia_fecha"`
	PartySize      FlexInt `json:"cantidad"`
}

// SearchDateArgs are the arguments of buscar_horarios_fecha_especifica.
type SearchDateArgs struct {
	ServiceID FlexInt `json:"servicio_id"`
	Date      string  `json:"fecha_especifica"`
	Time      string  `json:"hora_especifica"`
	PartySize FlexInt `json:"cantidad"`
}

// CreateBookingArgs are the arguments of crear_reserva.
type CreateBookingArgs struct {
	ServiceID  FlexInt `json:"servicio_id"`
	StartsAt   string  `json:"fecha_hora"`
	EmployeeID FlexInt `json:"empleado_id"`
	ClientName string  `json:"nombre_cliente"`
	PartySize  FlexInt `json:"cantidad"`
}

// CancelBookingArgs are the arguments of cancelar_reserva.
type CancelBookingArgs struct {
	Code string `json:"codigo_reserva"`
}

// DecodeArguments unmarshals a tool call's arguments into v.
func DecodeArguments(call ToolCall, v any) error {
	raw := bytes.TrimSpace(call.Arguments)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArguments, call.Name, err)
	}
	return nil
}
