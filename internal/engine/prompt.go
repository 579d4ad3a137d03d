package engine

import (
	"fmt"
	"strings"
)

// buildPrompt assembles the structured-fallback prompt: assistant persona,
// the current discovered-device list, the expected JSON shapes, and the
// user's utterance.
func (e *Engine) buildPrompt(utterance string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Eres %s, un asistente de hogar inteligente. Tu objetivo es responder a las preguntas del usuario y controlar dispositivos en su hogar.\n\n", e.store.AssistantName())

	b.WriteString(e.deviceList())
	b.WriteString("\n")

	b.WriteString(`Si el usuario te pide que controles un dispositivo, responde con un objeto JSON:
{"action_type": "ha_command", "command": {"domain": "...", "service": "...", "entity_id": "...", "payload": "carga útil JSON como cadena, ej. '{\"brightness_pct\": 50}'"}}

Si no se requiere un comando, responde con:
{"action_type": "text_response", "response_text": "tu respuesta aquí"}

Ejemplos:
- Encender la luz de la sala: {"action_type": "ha_command", "command": {"domain": "light", "service": "turn_on", "entity_id": "light.sala_de_estar", "payload": "{}"}}
- Apagar el ventilador del dormitorio: {"action_type": "ha_command", "command": {"domain": "fan", "service": "turn_off", "entity_id": "fan.dormitorio", "payload": "{}"}}
- Preguntar la hora: {"action_type": "text_response", "response_text": "La hora actual es..."}

Considera los nombres amigables de los dispositivos para mapearlos a su entity_id.
Si el usuario pide algo que no puedes hacer o no entiendes, responde con un mensaje de texto indicándolo.

`)

	fmt.Fprintf(&b, "Comando del usuario: %s\n", utterance)
	return b.String()
}

// deviceList renders the registry snapshot for the prompt.
func (e *Engine) deviceList() string {
	if e.entities == nil {
		return "No se han descubierto dispositivos.\n"
	}
	records := e.entities.All()
	if len(records) == 0 {
		return "No se han descubierto dispositivos.\n"
	}

	var b strings.Builder
	b.WriteString("Dispositivos disponibles:\n")
	for _, r := range records {
		fmt.Fprintf(&b, "- %s (ID: %s, Dominio: %s)\n", r.FriendlyName, r.EntityID, r.Domain)
	}
	return b.String()
}
