package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scrypster/hearth/pkg/types"
)

// wireAction mirrors the schema-bound reply. The command payload arrives as a
// JSON-encoded string and is re-parsed here.
type wireAction struct {
	ActionType   string       `json:"action_type"`
	Command      *wireCommand `json:"command,omitempty"`
	ResponseText string       `json:"response_text,omitempty"`
}

type wireCommand struct {
	Domain   string `json:"domain"`
	Service  string `json:"service"`
	EntityID string `json:"entity_id"`
	Payload  string `json:"payload,omitempty"`
}

// ParseAction decodes a structured LLM reply into an Action. Replies wrapped
// in markdown code fences are unwrapped first. Invalid replies return
// ErrBadResponse so callers can degrade without retrying.
func ParseAction(raw string) (*types.Action, error) {
	cleaned := stripCodeFence(raw)

	var wire wireAction
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return nil, fmt.Errorf("%w: malformed action JSON: %v", ErrBadResponse, err)
	}

	action := &types.Action{
		ActionType:   wire.ActionType,
		ResponseText: wire.ResponseText,
	}
	if wire.Command != nil {
		action.Command = &types.Command{
			Domain:   wire.Command.Domain,
			Service:  wire.Command.Service,
			EntityID: wire.Command.EntityID,
		}
		if wire.Command.Payload != "" {
			action.Command.Payload = types.PayloadFromString(wire.Command.Payload)
		}
	}

	if err := action.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return action, nil
}

// stripCodeFence removes a surrounding ```json ... ``` block if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
