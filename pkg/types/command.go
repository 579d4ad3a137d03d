package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Command is one logical device command as produced by the LLM provider or
// submitted directly through the dispatch endpoint.
type Command struct {
	Domain   string         `json:"domain"`
	Service  string         `json:"service"`
	EntityID string         `json:"entity_id"`
	Payload  CommandPayload `json:"payload,omitempty"`
}

// Validate checks that the fields required for routing are present.
func (c *Command) Validate() error {
	if c.Domain == "" || c.Service == "" || c.EntityID == "" {
		return fmt.Errorf("command: domain, service and entity_id are required")
	}
	return nil
}

// CommandPayload is the duck-typed service payload: external callers and the
// LLM may supply either a JSON object or a JSON-encoded string containing an
// object. It normalizes to one canonical object form at the router boundary;
// anything unparseable becomes the empty object.
type CommandPayload struct {
	raw    string
	object map[string]interface{}
}

// PayloadFromObject builds a payload from an already-parsed object.
func PayloadFromObject(obj map[string]interface{}) CommandPayload {
	return CommandPayload{object: obj}
}

// PayloadFromString builds a payload from a raw JSON string. Parsing is
// deferred to Object so a malformed string degrades to the empty object
// instead of failing the command.
func PayloadFromString(raw string) CommandPayload {
	return CommandPayload{raw: raw}
}

// Object returns the canonical object form of the payload. The zero payload
// and any string that does not parse as a JSON object yield an empty map.
func (p CommandPayload) Object() map[string]interface{} {
	if p.object != nil {
		return p.object
	}
	if p.raw == "" {
		return map[string]interface{}{}
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(p.raw), &obj); err != nil || obj == nil {
		return map[string]interface{}{}
	}
	return obj
}

// IsEmpty reports whether the payload normalizes to an empty object.
func (p CommandPayload) IsEmpty() bool {
	return len(p.Object()) == 0
}

// UnmarshalJSON accepts both encodings: a JSON object, or a JSON string
// holding an object ("{\"brightness_pct\": 50}").
func (p *CommandPayload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = CommandPayload{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PayloadFromString(s)
		return nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		// Malformed payloads degrade to the empty object: a bad payload must
		// not fail the whole command.
		*p = CommandPayload{}
		return nil
	}
	*p = PayloadFromObject(obj)
	return nil
}

// MarshalJSON emits the canonical object form.
func (p CommandPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Object())
}

// Action type discriminators for the LLM's structured output.
const (
	ActionCommand = "ha_command"
	ActionText    = "text_response"
)

// Action is the tagged result of a structured LLM call: either a device
// command to route or a plain text answer.
type Action struct {
	ActionType   string   `json:"action_type"`
	Command      *Command `json:"command,omitempty"`
	ResponseText string   `json:"response_text,omitempty"`
}

// Validate checks the tag and the presence of the corresponding branch.
func (a *Action) Validate() error {
	switch a.ActionType {
	case ActionCommand:
		if a.Command == nil {
			return fmt.Errorf("action %q: command branch is required", a.ActionType)
		}
		return a.Command.Validate()
	case ActionText:
		return nil
	default:
		return fmt.Errorf("action: unknown action_type %q", a.ActionType)
	}
}
