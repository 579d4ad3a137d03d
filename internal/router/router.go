// Package router translates logical device commands into wire-level publishes.
//
// Routing uses a fixed three-tier priority: the vendor power-control tier,
// the discovered-command-topic tier, and the always-applicable generic
// service tier. The first applicable tier wins and publishes exactly once.
// Fallthrough happens only when a tier is inapplicable — a transport failure
// in the chosen tier is surfaced to the caller and is never retried on a
// lower tier.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/scrypster/hearth/internal/transport"
	"github.com/scrypster/hearth/pkg/types"
)

// ErrPublishFailed wraps a transport-level publish error. The command was
// routed to exactly one tier and that tier's publish failed.
var ErrPublishFailed = errors.New("publish failed")

// Tier identifies which routing tier handled a command.
type Tier int

// Routing tiers in priority order.
const (
	TierVendor Tier = iota + 1
	TierDiscovered
	TierGeneric
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierVendor:
		return "vendor"
	case TierDiscovered:
		return "discovered"
	case TierGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// powerPayloads maps power services to the vendor tier's plain-string wire
// payloads. A service not in this map makes the vendor tier inapplicable.
var powerPayloads = map[string]string{
	"turn_on":  "ON",
	"turn_off": "OFF",
	"toggle":   "TOGGLE",
}

// powerDomains is the light/switch family the vendor tier applies to.
var powerDomains = map[string]bool{
	"light":  true,
	"switch": true,
}

// EntityLookup resolves a command's entity reference against the registry:
// by entity id, with the friendly-name index as a fallback.
type EntityLookup interface {
	Lookup(entityID string) *types.EntityRecord
	FindByName(name string) *types.EntityRecord
}

// Router picks a destination topic and wire payload for each logical command
// and publishes it on the bus.
type Router struct {
	bus       transport.Bus
	entities  EntityLookup
	baseTopic string
}

// New creates a router publishing on bus, consulting entities for discovered
// records, and using baseTopic for the generic service tier.
func New(bus transport.Bus, entities EntityLookup, baseTopic string) *Router {
	return &Router{bus: bus, entities: entities, baseTopic: baseTopic}
}

// Result describes the single publish a Route call performed.
type Result struct {
	Tier    Tier   // Tier that handled the command
	Topic   string // Destination topic
	Message string // Human-readable confirmation for the caller
}

// Route translates cmd into exactly one publish. The payload is normalized to
// its canonical object form at this boundary. On transport failure the error
// wraps ErrPublishFailed; no other tier is attempted.
func (r *Router) Route(ctx context.Context, cmd *types.Command) (*Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	entityID := cmd.EntityID
	rec := r.entities.Lookup(entityID)
	if rec == nil {
		// The LLM occasionally names the device as it is spoken instead of
		// by entity id; the friendly-name index covers that.
		if rec = r.entities.FindByName(entityID); rec != nil {
			entityID = rec.EntityID
		}
	}

	// Tier 1: vendor power control.
	if wire, ok := powerPayloads[cmd.Service]; ok && powerDomains[cmd.Domain] && rec != nil && rec.Vendor != nil {
		topic := rec.Vendor.PowerTopic()
		if err := r.bus.Publish(ctx, topic, []byte(wire)); err != nil {
			return nil, fmt.Errorf("%w: vendor tier on %s: %v", ErrPublishFailed, topic, err)
		}
		log.Printf("Routed %s.%s for %s via vendor topic %s", cmd.Domain, cmd.Service, entityID, topic)
		return &Result{
			Tier:    TierVendor,
			Topic:   topic,
			Message: fmt.Sprintf("Sent %s directly to %s.", wire, displayName(rec, entityID)),
		}, nil
	}

	// Tier 2: discovered command topic.
	if rec != nil && rec.CommandTopic != "" {
		payload, err := wirePayload(entityID, cmd.Payload)
		if err != nil {
			return nil, err
		}
		if err := r.bus.Publish(ctx, rec.CommandTopic, payload); err != nil {
			return nil, fmt.Errorf("%w: discovered tier on %s: %v", ErrPublishFailed, rec.CommandTopic, err)
		}
		log.Printf("Routed %s.%s for %s via discovered topic %s", cmd.Domain, cmd.Service, entityID, rec.CommandTopic)
		return &Result{
			Tier:    TierDiscovered,
			Topic:   rec.CommandTopic,
			Message: fmt.Sprintf("Sent %q to %s.", cmd.Service, displayName(rec, entityID)),
		}, nil
	}

	// Tier 3: generic service topic, unconditionally applicable.
	topic := fmt.Sprintf("%s/services/%s/%s", r.baseTopic, cmd.Domain, cmd.Service)
	payload, err := wirePayload(entityID, cmd.Payload)
	if err != nil {
		return nil, err
	}
	if err := r.bus.Publish(ctx, topic, payload); err != nil {
		return nil, fmt.Errorf("%w: generic tier on %s: %v", ErrPublishFailed, topic, err)
	}
	log.Printf("Routed %s.%s for %s via service topic %s", cmd.Domain, cmd.Service, entityID, topic)
	return &Result{
		Tier:    TierGeneric,
		Topic:   topic,
		Message: fmt.Sprintf("Sent %q to %s via the %s service.", cmd.Service, entityID, cmd.Domain),
	}, nil
}

// wirePayload builds the JSON wire object {"entity_id": ..., ...payload}.
func wirePayload(entityID string, payload types.CommandPayload) ([]byte, error) {
	obj := map[string]interface{}{"entity_id": entityID}
	for k, v := range payload.Object() {
		if k == "entity_id" {
			continue
		}
		obj[k] = v
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("router: failed to encode payload for %s: %w", entityID, err)
	}
	return data, nil
}

func displayName(rec *types.EntityRecord, entityID string) string {
	if rec != nil && rec.FriendlyName != "" {
		return rec.FriendlyName
	}
	return entityID
}
