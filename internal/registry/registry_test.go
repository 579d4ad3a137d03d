package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/hearth/internal/router"
	"github.com/scrypster/hearth/pkg/types"
)

// The registry backs the router's entity resolution.
var _ router.EntityLookup = (*Registry)(nil)

func newTestRegistry() *Registry {
	return New("homeassistant", "tasmota")
}

func TestIngest_GenericDiscoveryRoundTrip(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("homeassistant/light/kitchen/config",
		[]byte(`{"name":"Kitchen Light","command_topic":"cmnd/kitchen/POWER","state_topic":"stat/kitchen/POWER"}`))

	rec := r.Lookup("light.kitchen")
	require.NotNil(t, rec)
	assert.Equal(t, "light", rec.Domain)
	assert.Equal(t, "Kitchen Light", rec.FriendlyName)
	assert.Equal(t, "cmnd/kitchen/POWER", rec.CommandTopic)
	assert.Equal(t, "stat/kitchen/POWER", rec.StateTopic)
	assert.NotEmpty(t, rec.RawConfig)
}

func TestIngest_GenericDiscoveryObjectIDOverride(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("homeassistant/switch/garage/config",
		[]byte(`{"name":"Garage Door","object_id":"garage_door"}`))

	assert.Nil(t, r.Lookup("switch.garage"))
	rec := r.Lookup("switch.garage_door")
	require.NotNil(t, rec)
	assert.Equal(t, "Garage Door", rec.FriendlyName)
	assert.Empty(t, rec.CommandTopic, "no command topic means generic fallback only")
}

func TestIngest_GenericDiscoveryNodeIDForm(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("homeassistant/sensor/node1/temp/config", []byte(`{"name":"Temp"}`))

	rec := r.Lookup("sensor.node1_temp")
	require.NotNil(t, rec)
	assert.Equal(t, "sensor", rec.Domain)
}

func TestIngest_FriendlyNameDefaultsToObjectID(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("homeassistant/light/hall/config", []byte(`{}`))

	rec := r.Lookup("light.hall")
	require.NotNil(t, rec)
	assert.Equal(t, "hall", rec.FriendlyName)
}

func TestIngest_MalformedPayloadDroppedSilently(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("homeassistant/light/kitchen/config", []byte(`{not json`))
	assert.Zero(t, r.Count())
}

func TestIngest_UnrelatedTopicsIgnored(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("tele/plug1/STATE", []byte(`{"POWER":"ON"}`))
	r.Ingest("stat/plug1/POWER", []byte(`ON`))
	r.Ingest("zigbee2mqtt/bridge/devices", []byte(`[]`))
	assert.Zero(t, r.Count())
}

func TestIngest_LastWriteWins(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("homeassistant/light/kitchen/config",
		[]byte(`{"name":"Old","command_topic":"cmnd/old/POWER"}`))
	r.Ingest("homeassistant/light/kitchen/config",
		[]byte(`{"name":"New"}`))

	rec := r.Lookup("light.kitchen")
	require.NotNil(t, rec)
	assert.Equal(t, "New", rec.FriendlyName)
	assert.Empty(t, rec.CommandTopic, "overwrite is full, not a field merge")
}

func TestIngest_VendorEnrichmentFromIdentifiers(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("homeassistant/light/plug1/config",
		[]byte(`{"name":"Plug 1","cmd_t":"cmnd/plug1/POWER","device":{"identifiers":["tasmota_AB12CD"]}}`))

	rec := r.Lookup("light.plug1")
	require.NotNil(t, rec)
	require.NotNil(t, rec.Vendor)
	assert.Equal(t, "cmnd/plug1", rec.Vendor.CommandTopicPrefix)
	assert.Equal(t, "POWER", rec.Vendor.PowerSuffix)
	assert.Equal(t, "cmnd/plug1/POWER", rec.Vendor.PowerTopic())
}

func TestIngest_VendorEnrichmentDefaultsWithoutCmdT(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("homeassistant/switch/plug2/config",
		[]byte(`{"name":"Plug 2","device":{"identifiers":["Tasmota_FF00AA"]}}`))

	rec := r.Lookup("switch.plug2")
	require.NotNil(t, rec)
	require.NotNil(t, rec.Vendor)
	assert.Equal(t, "cmnd/plug2/POWER", rec.Vendor.PowerTopic())
}

func TestIngest_VendorEnrichmentSurvivesOverwrite(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("homeassistant/light/plug1/config",
		[]byte(`{"name":"Plug 1","cmd_t":"cmnd/plug1/POWER","device":{"identifiers":["tasmota_AB12CD"]}}`))
	// Re-announcement without the device block: override is additive and kept.
	r.Ingest("homeassistant/light/plug1/config",
		[]byte(`{"name":"Plug 1 renamed","command_topic":"zigbee/plug1/set"}`))

	rec := r.Lookup("light.plug1")
	require.NotNil(t, rec)
	assert.Equal(t, "Plug 1 renamed", rec.FriendlyName)
	require.NotNil(t, rec.Vendor)
	assert.Equal(t, "cmnd/plug1/POWER", rec.Vendor.PowerTopic())
}

func TestIngest_VendorEnrichmentIdempotent(t *testing.T) {
	r := newTestRegistry()
	payload := []byte(`{"name":"Plug 1","cmd_t":"cmnd/plug1/POWER","device":{"identifiers":["tasmota_AB12CD"]}}`)
	r.Ingest("homeassistant/light/plug1/config", payload)
	r.Ingest("homeassistant/light/plug1/config", payload)

	assert.Equal(t, 1, r.Count())
	rec := r.Lookup("light.plug1")
	require.NotNil(t, rec)
	assert.Equal(t, "cmnd/plug1/POWER", rec.Vendor.PowerTopic())
}

func TestIngest_VendorNativeSynthesis(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("tasmota/discovery/AB12CD/config",
		[]byte(`{"hn":"Plug1","ft":"%prefix%/%topic%/","t":"plug1","fn":["Relay"]}`))

	rec := r.Lookup("light.plug1")
	require.NotNil(t, rec)
	assert.Equal(t, "cmnd/plug1/POWER", rec.CommandTopic)
	assert.Equal(t, "stat/plug1/POWER", rec.StateTopic)
	assert.Equal(t, "Relay", rec.FriendlyName)
	require.NotNil(t, rec.Vendor)
	assert.Equal(t, "cmnd/plug1/POWER", rec.Vendor.PowerTopic())
}

func TestIngest_VendorNativeMultiRelay(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("tasmota/discovery/FF00AA/config",
		[]byte(`{"hn":"Power-Strip","ft":"%prefix%/%topic%/","t":"strip","fn":["Left","Right"]}`))

	left := r.Lookup("light.power_strip_1")
	require.NotNil(t, left)
	assert.Equal(t, "cmnd/strip/POWER1", left.CommandTopic)
	assert.Equal(t, "Left", left.FriendlyName)

	right := r.Lookup("light.power_strip_2")
	require.NotNil(t, right)
	assert.Equal(t, "cmnd/strip/POWER2", right.CommandTopic)
	assert.Equal(t, "POWER2", right.Vendor.PowerSuffix)
}

func TestIngest_VendorNativeFallbacks(t *testing.T) {
	r := newTestRegistry()
	// No hn: falls back to dn; no ft/t: defaults apply; empty fn entries skipped.
	r.Ingest("tasmota/discovery/XYZ/config", []byte(`{"dn":"Desk Lamp","fn":["Lamp",""]}`))

	rec := r.Lookup("light.desk_lamp_1")
	require.NotNil(t, rec)
	assert.Equal(t, "cmnd/Desk Lamp/POWER1", rec.CommandTopic)
	assert.Nil(t, r.Lookup("light.desk_lamp_2"), "empty function names synthesize nothing")
}

func TestFindByName(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("homeassistant/light/kitchen/config", []byte(`{"name":"Kitchen Light"}`))

	rec := r.FindByName("kitchen light")
	require.NotNil(t, rec)
	assert.Equal(t, "light.kitchen", rec.EntityID)
	assert.Nil(t, r.FindByName("bathroom light"))
}

func TestFindByName_RenameDropsStaleEntry(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("homeassistant/light/kitchen/config", []byte(`{"name":"Kitchen Light"}`))
	r.Ingest("homeassistant/light/kitchen/config", []byte(`{"name":"Pantry Light"}`))

	assert.Nil(t, r.FindByName("kitchen light"), "a renamed entity must not resolve by its old name")
	rec := r.FindByName("pantry light")
	require.NotNil(t, rec)
	assert.Equal(t, "light.kitchen", rec.EntityID)
}

func TestFindByName_RenameKeepsNameClaimedByOtherEntity(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("homeassistant/light/kitchen/config", []byte(`{"name":"Main Light"}`))
	r.Ingest("homeassistant/light/hall/config", []byte(`{"name":"Main Light"}`))
	r.Ingest("homeassistant/light/kitchen/config", []byte(`{"name":"Kitchen Light"}`))

	rec := r.FindByName("main light")
	require.NotNil(t, rec)
	assert.Equal(t, "light.hall", rec.EntityID)
}

func TestAll_SnapshotIsIsolated(t *testing.T) {
	r := newTestRegistry()
	r.Ingest("homeassistant/light/kitchen/config", []byte(`{"name":"Kitchen Light"}`))

	snap := r.All()
	require.Len(t, snap, 1)
	snap[0].FriendlyName = "mutated"

	rec := r.Lookup("light.kitchen")
	assert.Equal(t, "Kitchen Light", rec.FriendlyName)
}

func TestIngest_ConcurrentDistinctEntitiesNoLostUpdates(t *testing.T) {
	r := newTestRegistry()
	const k = 64

	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			topic := fmt.Sprintf("homeassistant/light/dev%d/config", i)
			r.Ingest(topic, []byte(fmt.Sprintf(`{"name":"Device %d"}`, i)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, k, r.Count())
	for i := 0; i < k; i++ {
		assert.NotNil(t, r.Lookup(fmt.Sprintf("light.dev%d", i)))
	}
}

func TestOnDiscovered_CallbackReceivesCopies(t *testing.T) {
	r := newTestRegistry()
	var got []string
	var mu sync.Mutex
	r.OnDiscovered(func(rec *types.EntityRecord) {
		mu.Lock()
		got = append(got, rec.EntityID)
		mu.Unlock()
	})

	r.Ingest("homeassistant/light/kitchen/config", []byte(`{"name":"Kitchen Light"}`))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"light.kitchen"}, got)
}
