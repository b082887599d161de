package tools

import "github.com/eldercare/companion-go/pkg/llm"

// Tool names offered to the model.
const (
	GetTodayReminders    = "get_today_reminders"
	GetUpcomingReminders = "get_upcoming_reminders"
	GetUserMedications   = "get_user_medications"
	GetEmergencyContact  = "get_emergency_contact"
	CreateReminder       = "create_reminder"
	MarkReminderComplete = "mark_reminder_complete"
	LogInteraction       = "log_interaction"
)

func object(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var userIDProperty = map[string]interface{}{
	"type":        "integer",
	"description": "ID de la persona mayor (el de USER_CONTEXT). Puede omitirse.",
}

// Definitions returns the JSON-schema definitions of every tool.
func Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        GetTodayReminders,
			Description: "Devuelve los recordatorios de hoy (medicación, citas, actividades) y si ya se han completado.",
			Parameters:  object(map[string]interface{}{"elderlyUserId": userIDProperty}),
		},
		{
			Name:        GetUpcomingReminders,
			Description: "Devuelve los recordatorios de los próximos días.",
			Parameters: object(map[string]interface{}{
				"elderlyUserId": userIDProperty,
				"days": map[string]interface{}{
					"type":        "integer",
					"description": "Número de días hacia delante (por defecto 14).",
					"minimum":     1,
					"maximum":     MaxUpcomingDays,
				},
			}),
		},
		{
			Name:        GetUserMedications,
			Description: "Devuelve los recordatorios de medicación de la persona.",
			Parameters:  object(map[string]interface{}{"elderlyUserId": userIDProperty}),
		},
		{
			Name:        GetEmergencyContact,
			Description: "Devuelve el contacto de emergencia de la persona.",
			Parameters:  object(map[string]interface{}{"elderlyUserId": userIDProperty}),
		},
		{
			Name:        CreateReminder,
			Description: "Crea un recordatorio nuevo cuando la persona lo pide expresamente.",
			Parameters: object(map[string]interface{}{
				"elderlyUserId": userIDProperty,
				"reminder": object(map[string]interface{}{
					"type": map[string]interface{}{
						"type": "string",
						"enum": ReminderTypes,
					},
					"title":        map[string]interface{}{"type": "string", "maxLength": 120},
					"description":  map[string]interface{}{"type": "string", "maxLength": 500},
					"reminderDate": map[string]interface{}{"type": "string", "description": "Fecha YYYY-MM-DD"},
					"reminderTime": map[string]interface{}{"type": "string", "description": "Hora HH:MM (24 h)"},
					"recurrence": map[string]interface{}{
						"type": "string",
						"enum": Recurrences,
					},
				}, "type", "title", "reminderDate", "reminderTime"),
			}, "reminder"),
		},
		{
			Name:        MarkReminderComplete,
			Description: "Marca como hecho hoy un recordatorio de la persona (por ejemplo, una pastilla ya tomada).",
			Parameters: object(map[string]interface{}{
				"reminderId": map[string]interface{}{"type": "integer"},
				"notes":      map[string]interface{}{"type": "string", "maxLength": 500},
			}, "reminderId"),
		},
		{
			Name:        LogInteraction,
			Description: "Registra una interacción relevante para que la familia y los profesionales la vean.",
			Parameters: object(map[string]interface{}{
				"elderlyUserId": userIDProperty,
				"action":        map[string]interface{}{"type": "string", "maxLength": 64},
				"detail":        map[string]interface{}{"type": "string", "maxLength": 500},
			}, "action"),
		},
	}
}
