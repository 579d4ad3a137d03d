// Package registry maintains the live view of controllable entities built
// from discovery traffic on the bus. Two independent discovery protocols are
// observed on the same connection: the generic "{base}/{domain}/.../config"
// protocol and the vendor-native "{vendor}/discovery/{id}/config" protocol.
//
// Discovery traffic is inherently noisy: malformed payloads are dropped and
// logged, never surfaced to the network loop. Records follow last-write-wins
// semantics and are never expired; devices re-announce themselves
// periodically, which naturally refreshes the registry.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/scrypster/hearth/internal/transport"
	"github.com/scrypster/hearth/pkg/types"
)

// Registry is the process-wide entity registry. All mutation happens on the
// bus network loop through Ingest; readers get snapshots or clones and never
// see internal mutable state.
type Registry struct {
	baseTopic string
	vendor    string

	mu       sync.RWMutex
	entities map[string]*types.EntityRecord
	byName   map[string]string // lowercased friendly name -> entity id

	onDiscovered func(*types.EntityRecord) // optional, called outside the lock
}

// New creates a registry observing the given generic discovery base topic and
// vendor-native discovery namespace.
func New(baseTopic, vendor string) *Registry {
	return &Registry{
		baseTopic: baseTopic,
		vendor:    vendor,
		entities:  make(map[string]*types.EntityRecord),
		byName:    make(map[string]string),
	}
}

// OnDiscovered registers a callback invoked with a copy of every stored
// record. Must be set before Start.
func (r *Registry) OnDiscovered(fn func(*types.EntityRecord)) {
	r.onDiscovered = fn
}

// Start subscribes the registry to its discovery and telemetry patterns.
// Telemetry and state topics are subscribed but intentionally not parsed.
func (r *Registry) Start(ctx context.Context, bus transport.Bus) error {
	handler := func(ctx context.Context, topic string, payload []byte) {
		r.Ingest(topic, payload)
	}
	patterns := []string{
		r.baseTopic + "/#",
		r.vendor + "/discovery/+/config",
		"tele/+/STATE",
		"stat/+/POWER",
	}
	for _, p := range patterns {
		if err := bus.Subscribe(ctx, p, handler); err != nil {
			return fmt.Errorf("registry: subscribe %s: %w", p, err)
		}
	}
	return nil
}

// Ingest processes one inbound bus message. Topics that are not discovery
// config announcements are ignored; malformed payloads are dropped and logged.
// Ingest never calls external services and never blocks beyond the registry
// lock, so it is safe to run synchronously on the network loop.
func (r *Registry) Ingest(topic string, payload []byte) {
	switch {
	case strings.HasPrefix(topic, r.baseTopic+"/") && strings.HasSuffix(topic, "/config"):
		r.ingestGeneric(topic, payload)
	case strings.HasPrefix(topic, r.vendor+"/discovery/") && strings.HasSuffix(topic, "/config"):
		r.ingestVendorNative(topic, payload)
	default:
		// State and telemetry traffic, or topics we never asked for.
	}
}

// Lookup returns a copy of the record for entityID, or nil when unknown.
func (r *Registry) Lookup(entityID string) *types.EntityRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.entities[entityID]; ok {
		return rec.Clone()
	}
	return nil
}

// FindByName resolves a friendly name (case-insensitive) to a record copy.
func (r *Registry) FindByName(name string) *types.EntityRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byName[strings.ToLower(name)]; ok {
		if rec, ok := r.entities[id]; ok {
			return rec.Clone()
		}
	}
	return nil
}

// All returns a read-only snapshot of the registry, sorted by entity id for
// deterministic listings.
func (r *Registry) All() []*types.EntityRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make([]*types.EntityRecord, 0, len(r.entities))
	for _, rec := range r.entities {
		snapshot = append(snapshot, rec.Clone())
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].EntityID < snapshot[j].EntityID
	})
	return snapshot
}

// Count returns the number of known entities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// store overwrites the record for rec.EntityID (last-write-wins). The vendor
// override is the one additive exception: a record that arrives without one
// keeps the override a previous message established.
func (r *Registry) store(rec *types.EntityRecord) {
	r.mu.Lock()
	if prev, ok := r.entities[rec.EntityID]; ok {
		if rec.Vendor == nil {
			rec.Vendor = prev.Vendor
		}
		// A rename invalidates the old friendly-name index entry, unless
		// another entity claimed that name in the meantime.
		if old := strings.ToLower(prev.FriendlyName); old != "" &&
			old != strings.ToLower(rec.FriendlyName) && r.byName[old] == rec.EntityID {
			delete(r.byName, old)
		}
	}
	r.entities[rec.EntityID] = rec
	if rec.FriendlyName != "" {
		r.byName[strings.ToLower(rec.FriendlyName)] = rec.EntityID
	}
	cb := r.onDiscovered
	r.mu.Unlock()

	log.Printf("Discovered entity %s (%s)", rec.EntityID, rec.FriendlyName)
	if cb != nil {
		cb(rec.Clone())
	}
}

// genericConfig is the subset of a generic discovery payload the registry
// understands. Everything else rides along in RawConfig.
type genericConfig struct {
	Name         string `json:"name"`
	ObjectID     string `json:"object_id"`
	CommandTopic string `json:"command_topic"`
	StateTopic   string `json:"state_topic"`
	CmdT         string `json:"cmd_t"`  // abbreviated command topic
	StatT        string `json:"stat_t"` // abbreviated state topic
	Device       struct {
		Identifiers []string `json:"identifiers"`
	} `json:"device"`
}

// ingestGeneric handles "{base}/{domain}/{object_id}/config" and the node-id
// form "{base}/{domain}/{node_id}/{object_id}/config".
func (r *Registry) ingestGeneric(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 {
		return
	}
	domain := parts[1]
	objectID := parts[len(parts)-2]

	var cfg genericConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		log.Printf("Warning: dropping malformed discovery payload on %s: %v", topic, err)
		return
	}

	var suffix string
	switch {
	case cfg.ObjectID != "":
		suffix = cfg.ObjectID
	case len(parts) == 4:
		suffix = objectID
	default:
		// node-id form: "{node_id}_{object_id}"
		suffix = parts[2] + "_" + objectID
	}

	rec := &types.EntityRecord{
		EntityID:     domain + "." + suffix,
		Domain:       domain,
		FriendlyName: cfg.Name,
		CommandTopic: firstNonEmpty(cfg.CommandTopic, cfg.CmdT),
		StateTopic:   firstNonEmpty(cfg.StateTopic, cfg.StatT),
		RawConfig:    append(json.RawMessage(nil), payload...),
	}
	if rec.FriendlyName == "" {
		rec.FriendlyName = suffix
	}
	rec.Vendor = r.vendorOverrideFor(&cfg, suffix)

	r.store(rec)
}

// vendorOverrideFor inspects the device identifier list for the vendor prefix
// and, on a match, infers the vendor power-control topic. The payload's own
// command topic wins when present; otherwise the conventional
// "cmnd/{object_id}" prefix applies.
func (r *Registry) vendorOverrideFor(cfg *genericConfig, objectID string) *types.VendorOverride {
	matched := false
	for _, id := range cfg.Device.Identifiers {
		if strings.HasPrefix(strings.ToLower(id), r.vendor) {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}

	cmdTopic := firstNonEmpty(cfg.CmdT, cfg.CommandTopic)
	if cmdTopic != "" {
		prefix, power := splitPowerTopic(cmdTopic)
		return &types.VendorOverride{CommandTopicPrefix: prefix, PowerSuffix: power}
	}
	return &types.VendorOverride{
		CommandTopicPrefix: "cmnd/" + objectID,
		PowerSuffix:        "POWER",
	}
}

// splitPowerTopic splits a command topic into prefix and power suffix. A last
// segment that already names a POWER channel becomes the suffix; anything
// else keeps the whole topic as prefix with the default "POWER" suffix.
func splitPowerTopic(topic string) (prefix, suffix string) {
	topic = strings.TrimSuffix(topic, "/")
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		if last := topic[i+1:]; strings.HasPrefix(last, "POWER") {
			return topic[:i], last
		}
	}
	return topic, "POWER"
}

// vendorConfig is the vendor-native discovery payload shape: hostname,
// fallback device name, device topic, full-topic template and per-relay
// function names.
type vendorConfig struct {
	Hostname   string   `json:"hn"`
	DeviceName string   `json:"dn"`
	Topic      string   `json:"t"`
	FullTopic  string   `json:"ft"`
	Functions  []string `json:"fn"`
}

// ingestVendorNative handles "{vendor}/discovery/{id}/config". One record is
// synthesized per function entry; multi-relay devices get numbered entity ids
// and POWER{n} suffixes.
func (r *Registry) ingestVendorNative(topic string, payload []byte) {
	var cfg vendorConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		log.Printf("Warning: dropping malformed vendor discovery payload on %s: %v", topic, err)
		return
	}

	deviceName := cfg.Hostname
	if deviceName == "" {
		deviceName = cfg.DeviceName
	}
	if deviceName == "" {
		parts := strings.Split(topic, "/")
		deviceName = parts[len(parts)-2]
	}

	deviceTopic := cfg.Topic
	if deviceTopic == "" {
		deviceTopic = deviceName
	}
	template := cfg.FullTopic
	if template == "" {
		template = "%prefix%/%topic%/"
	}
	functions := cfg.Functions
	if len(functions) == 0 {
		functions = []string{"Main"}
	}

	cmndBase := expandTopicTemplate(template, "cmnd", deviceTopic)
	statBase := expandTopicTemplate(template, "stat", deviceTopic)

	for i, fn := range functions {
		if fn == "" {
			continue
		}
		power := "POWER"
		entityID := "light." + normalizeDeviceName(deviceName)
		if len(functions) > 1 {
			power = fmt.Sprintf("POWER%d", i+1)
			entityID = fmt.Sprintf("%s_%d", entityID, i+1)
		}

		rec := &types.EntityRecord{
			EntityID:     entityID,
			Domain:       "light",
			FriendlyName: fn,
			CommandTopic: cmndBase + "/" + power,
			StateTopic:   statBase + "/" + power,
			Vendor: &types.VendorOverride{
				CommandTopicPrefix: cmndBase,
				PowerSuffix:        power,
			},
			RawConfig: append(json.RawMessage(nil), payload...),
		}
		r.store(rec)
	}
}

// expandTopicTemplate substitutes %prefix% and %topic% in a full-topic
// template and trims the trailing separator.
func expandTopicTemplate(template, prefix, topic string) string {
	s := strings.ReplaceAll(template, "%prefix%", prefix)
	s = strings.ReplaceAll(s, "%topic%", topic)
	return strings.TrimSuffix(s, "/")
}

// normalizeDeviceName lowercases a device name and maps separators to
// underscores, yielding the object-id part of a synthesized entity id.
func normalizeDeviceName(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
