// Package types defines the core data structures for the Hearth gateway:
// discovered entities, knowledge entries, commands, and the tagged payload
// and action variants exchanged with the LLM provider.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EntityRecord identifies one controllable device endpoint discovered on the bus.
// Records are keyed by EntityID in canonical "{domain}.{object_id}" form and
// follow last-write-wins semantics: a new discovery message for the same
// entity replaces the record in full, except VendorOverride which is
// re-applied additively by the enrichment step.
type EntityRecord struct {
	EntityID     string          `json:"entity_id"`               // Canonical key, e.g. "light.kitchen"
	Domain       string          `json:"domain"`                  // Capability taxonomy: light, switch, fan, ...
	FriendlyName string          `json:"friendly_name"`           // Display name (defaults to the object id)
	CommandTopic string          `json:"command_topic,omitempty"` // Wire topic for commands; empty = generic fallback only
	StateTopic   string          `json:"state_topic,omitempty"`   // Wire topic for state updates
	Vendor       *VendorOverride `json:"vendor_override,omitempty"`
	RawConfig    json.RawMessage `json:"raw_config,omitempty"` // Originating discovery payload, kept for diagnostics
}

// VendorOverride carries a vendor-specific power-control convention that
// bypasses the generic discovered command topic for on/off/toggle services.
type VendorOverride struct {
	CommandTopicPrefix string `json:"command_topic_prefix"` // e.g. "cmnd/plug1"
	PowerSuffix        string `json:"power_suffix"`         // e.g. "POWER" or "POWER2"
}

// PowerTopic returns the full vendor power-control topic.
func (v *VendorOverride) PowerTopic() string {
	return v.CommandTopicPrefix + "/" + v.PowerSuffix
}

// Validate checks the structural invariants of an entity record.
func (e *EntityRecord) Validate() error {
	if e.EntityID == "" {
		return fmt.Errorf("entity record: entity_id is required")
	}
	if e.Domain == "" {
		return fmt.Errorf("entity record %q: domain is required", e.EntityID)
	}
	if !strings.HasPrefix(e.EntityID, e.Domain+".") {
		return fmt.Errorf("entity record %q: entity_id must start with %q", e.EntityID, e.Domain+".")
	}
	return nil
}

// Clone returns a deep copy of the record so registry snapshots never expose
// internal mutable state to concurrent readers.
func (e *EntityRecord) Clone() *EntityRecord {
	cp := *e
	if e.Vendor != nil {
		v := *e.Vendor
		cp.Vendor = &v
	}
	if e.RawConfig != nil {
		cp.RawConfig = append(json.RawMessage(nil), e.RawConfig...)
	}
	return &cp
}
