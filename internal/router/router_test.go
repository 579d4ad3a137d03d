package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/hearth/internal/transport"
	"github.com/scrypster/hearth/pkg/types"
)

// fakeBus records every publish and can be told to fail.
type fakeBus struct {
	published []publishCall
	failWith  error
}

type publishCall struct {
	topic   string
	payload []byte
}

func (f *fakeBus) Publish(_ context.Context, topic string, payload []byte) error {
	f.published = append(f.published, publishCall{topic, payload})
	return f.failWith
}

func (f *fakeBus) Subscribe(context.Context, string, transport.MessageHandler) error { return nil }
func (f *fakeBus) Close(context.Context) error                                      { return nil }

// fakeLookup serves records from a map.
type fakeLookup map[string]*types.EntityRecord

func (f fakeLookup) Lookup(id string) *types.EntityRecord {
	if rec, ok := f[id]; ok {
		return rec.Clone()
	}
	return nil
}

func (f fakeLookup) FindByName(name string) *types.EntityRecord {
	for _, rec := range f {
		if strings.EqualFold(rec.FriendlyName, name) {
			return rec.Clone()
		}
	}
	return nil
}

func vendorRecord() *types.EntityRecord {
	return &types.EntityRecord{
		EntityID:     "light.plug1",
		Domain:       "light",
		FriendlyName: "Plug 1",
		CommandTopic: "zigbee/plug1/set",
		Vendor:       &types.VendorOverride{CommandTopicPrefix: "cmnd/plug1", PowerSuffix: "POWER"},
	}
}

func TestRoute_VendorTierPrecedence(t *testing.T) {
	bus := &fakeBus{}
	r := New(bus, fakeLookup{"light.plug1": vendorRecord()}, "homeassistant")

	res, err := r.Route(context.Background(), &types.Command{
		Domain: "light", Service: "turn_on", EntityID: "light.plug1",
	})
	require.NoError(t, err)
	assert.Equal(t, TierVendor, res.Tier)

	require.Len(t, bus.published, 1)
	assert.Equal(t, "cmnd/plug1/POWER", bus.published[0].topic,
		"vendor override must win over the discovered command topic")
	assert.Equal(t, "ON", string(bus.published[0].payload))
}

func TestRoute_VendorTierWirePayloads(t *testing.T) {
	tests := []struct {
		service string
		wire    string
	}{
		{"turn_on", "ON"},
		{"turn_off", "OFF"},
		{"toggle", "TOGGLE"},
	}
	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			bus := &fakeBus{}
			r := New(bus, fakeLookup{"light.plug1": vendorRecord()}, "homeassistant")

			_, err := r.Route(context.Background(), &types.Command{
				Domain: "light", Service: tt.service, EntityID: "light.plug1",
			})
			require.NoError(t, err)
			require.Len(t, bus.published, 1)
			assert.Equal(t, tt.wire, string(bus.published[0].payload))
		})
	}
}

func TestRoute_VendorTierInapplicableServiceFallsThrough(t *testing.T) {
	bus := &fakeBus{}
	r := New(bus, fakeLookup{"light.plug1": vendorRecord()}, "homeassistant")

	// set_brightness is not a power service: vendor tier is inapplicable,
	// the discovered tier takes over.
	res, err := r.Route(context.Background(), &types.Command{
		Domain: "light", Service: "set_brightness", EntityID: "light.plug1",
		Payload: types.PayloadFromObject(map[string]interface{}{"brightness_pct": 50}),
	})
	require.NoError(t, err)
	assert.Equal(t, TierDiscovered, res.Tier)

	require.Len(t, bus.published, 1)
	assert.Equal(t, "zigbee/plug1/set", bus.published[0].topic)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(bus.published[0].payload, &wire))
	assert.Equal(t, "light.plug1", wire["entity_id"])
	assert.Equal(t, float64(50), wire["brightness_pct"])
}

func TestRoute_VendorTierInapplicableDomainFallsThrough(t *testing.T) {
	rec := vendorRecord()
	rec.EntityID = "climate.plug1"
	rec.Domain = "climate"
	bus := &fakeBus{}
	r := New(bus, fakeLookup{"climate.plug1": rec}, "homeassistant")

	res, err := r.Route(context.Background(), &types.Command{
		Domain: "climate", Service: "turn_on", EntityID: "climate.plug1",
	})
	require.NoError(t, err)
	assert.Equal(t, TierDiscovered, res.Tier)
}

func TestRoute_GenericTierForUnknownEntity(t *testing.T) {
	bus := &fakeBus{}
	r := New(bus, fakeLookup{}, "homeassistant")

	res, err := r.Route(context.Background(), &types.Command{
		Domain: "fan", Service: "turn_off", EntityID: "fan.dormitorio",
	})
	require.NoError(t, err)
	assert.Equal(t, TierGeneric, res.Tier)

	require.Len(t, bus.published, 1)
	assert.Equal(t, "homeassistant/services/fan/turn_off", bus.published[0].topic)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(bus.published[0].payload, &wire))
	assert.Equal(t, "fan.dormitorio", wire["entity_id"])
}

func TestRoute_StringPayloadNormalizedAtBoundary(t *testing.T) {
	bus := &fakeBus{}
	r := New(bus, fakeLookup{}, "homeassistant")

	_, err := r.Route(context.Background(), &types.Command{
		Domain: "light", Service: "turn_on", EntityID: "light.sala",
		Payload: types.PayloadFromString(`{"brightness_pct": 50}`),
	})
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(bus.published[0].payload, &wire))
	assert.Equal(t, float64(50), wire["brightness_pct"])
}

func TestRoute_MalformedStringPayloadBecomesEmptyObject(t *testing.T) {
	bus := &fakeBus{}
	r := New(bus, fakeLookup{}, "homeassistant")

	_, err := r.Route(context.Background(), &types.Command{
		Domain: "light", Service: "turn_on", EntityID: "light.sala",
		Payload: types.PayloadFromString(`definitely not json`),
	})
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(bus.published[0].payload, &wire))
	assert.Len(t, wire, 1, "only entity_id survives a malformed payload")
	assert.Equal(t, "light.sala", wire["entity_id"])
}

func TestRoute_FriendlyNameResolvesToEntity(t *testing.T) {
	bus := &fakeBus{}
	r := New(bus, fakeLookup{"light.plug1": vendorRecord()}, "homeassistant")

	res, err := r.Route(context.Background(), &types.Command{
		Domain: "light", Service: "turn_on", EntityID: "Plug 1",
	})
	require.NoError(t, err)
	assert.Equal(t, TierVendor, res.Tier)
	require.Len(t, bus.published, 1)
	assert.Equal(t, "cmnd/plug1/POWER", bus.published[0].topic)
}

func TestRoute_FriendlyNameCanonicalizedOnWire(t *testing.T) {
	bus := &fakeBus{}
	r := New(bus, fakeLookup{"light.plug1": vendorRecord()}, "homeassistant")

	res, err := r.Route(context.Background(), &types.Command{
		Domain: "light", Service: "set_brightness", EntityID: "plug 1",
		Payload: types.PayloadFromObject(map[string]interface{}{"brightness_pct": 30}),
	})
	require.NoError(t, err)
	assert.Equal(t, TierDiscovered, res.Tier)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(bus.published[0].payload, &wire))
	assert.Equal(t, "light.plug1", wire["entity_id"],
		"the wire payload must carry the canonical entity id, not the spoken name")
}

func TestRoute_FailureAsymmetry_NoCrossTierRetryOnTransportError(t *testing.T) {
	bus := &fakeBus{failWith: errors.New("broker gone")}
	r := New(bus, fakeLookup{"light.plug1": vendorRecord()}, "homeassistant")

	_, err := r.Route(context.Background(), &types.Command{
		Domain: "light", Service: "turn_on", EntityID: "light.plug1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.Len(t, bus.published, 1,
		"a transport failure must not trigger a publish on a lower tier")
}

func TestRoute_GenericTierPublishFailureSurfaces(t *testing.T) {
	bus := &fakeBus{failWith: errors.New("broker gone")}
	r := New(bus, fakeLookup{}, "homeassistant")

	_, err := r.Route(context.Background(), &types.Command{
		Domain: "fan", Service: "turn_off", EntityID: "fan.dormitorio",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.Len(t, bus.published, 1)
}

func TestRoute_InvalidCommandPublishesNothing(t *testing.T) {
	bus := &fakeBus{}
	r := New(bus, fakeLookup{}, "homeassistant")

	_, err := r.Route(context.Background(), &types.Command{Domain: "light"})
	require.Error(t, err)
	assert.Empty(t, bus.published)
}

func TestRoute_PayloadCannotOverrideEntityID(t *testing.T) {
	bus := &fakeBus{}
	r := New(bus, fakeLookup{}, "homeassistant")

	_, err := r.Route(context.Background(), &types.Command{
		Domain: "light", Service: "turn_on", EntityID: "light.sala",
		Payload: types.PayloadFromObject(map[string]interface{}{"entity_id": "light.evil"}),
	})
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(bus.published[0].payload, &wire))
	assert.Equal(t, "light.sala", wire["entity_id"])
}
