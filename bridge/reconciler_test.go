package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/caarlos0/homekit-scout"
	"github.com/caarlos0/homekit-scout/capability"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	memberID  string
	locations []scout.Location
	hub       scout.Hub
	modes     []scout.Mode
	devices   []scout.Device
	chirps    []string
	toggled   []string
	onDevices func()
}

func (f *fakeAPI) MemberID(context.Context) (string, error) {
	return f.memberID, nil
}

func (f *fakeAPI) Locations(_ context.Context, memberID string) ([]scout.Location, error) {
	if memberID != f.memberID {
		return nil, errors.New("wrong member")
	}
	return f.locations, nil
}

func (f *fakeAPI) Hub(context.Context, string) (scout.Hub, error) {
	return f.hub, nil
}

func (f *fakeAPI) Modes(context.Context, string) ([]scout.Mode, error) {
	return f.modes, nil
}

func (f *fakeAPI) Devices(context.Context, string) ([]scout.Device, error) {
	if f.onDevices != nil {
		f.onDevices()
	}
	return f.devices, nil
}

func (f *fakeAPI) ToggleMode(_ context.Context, modeID string, state scout.ModeStateUpdate) error {
	f.toggled = append(f.toggled, modeID+":"+string(state))
	return nil
}

func (f *fakeAPI) Chirp(_ context.Context, hubID string) error {
	f.chirps = append(f.chirps, hubID)
	return nil
}

type fakeEvents struct {
	state   scout.ConnectionState
	modes   []func(string, scout.ModeEvent)
	hubs    []func(scout.Hub)
	devices []func(scout.Device)
	conns   []func(scout.ConnectionStateEvent)
}

func (e *fakeEvents) OnMode(fn func(string, scout.ModeEvent)) {
	e.modes = append(e.modes, fn)
}

func (e *fakeEvents) OnHub(fn func(scout.Hub)) {
	e.hubs = append(e.hubs, fn)
}

func (e *fakeEvents) OnDevice(fn func(scout.Device)) {
	e.devices = append(e.devices, fn)
}

func (e *fakeEvents) OnConnectionState(fn func(scout.ConnectionStateEvent)) {
	e.conns = append(e.conns, fn)
}

func (e *fakeEvents) State() scout.ConnectionState {
	return e.state
}

func (e *fakeEvents) mode(locationID string, event scout.ModeEvent) {
	for _, fn := range e.modes {
		fn(locationID, event)
	}
}

func (e *fakeEvents) device(device scout.Device) {
	for _, fn := range e.devices {
		fn(device)
	}
}

func (e *fakeEvents) connection(current scout.ConnectionState) {
	event := scout.ConnectionStateEvent{Previous: e.state, Current: current}
	e.state = current
	for _, fn := range e.conns {
		fn(event)
	}
}

type fakeListener struct {
	connected bool
	locations []string
}

func (l *fakeListener) Connect(context.Context) {
	l.connected = true
}

func (l *fakeListener) AddLocation(_ context.Context, locationID string) error {
	l.locations = append(l.locations, locationID)
	return nil
}

type fakeHost struct {
	mu           sync.Mutex
	registered   [][]*Accessory
	unregistered [][]*Accessory
	updated      [][]*Accessory
}

func (h *fakeHost) Register(accs []*Accessory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registered = append(h.registered, accs)
	return nil
}

func (h *fakeHost) Unregister(accs []*Accessory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregistered = append(h.unregistered, accs)
	return nil
}

func (h *fakeHost) Update(accs []*Accessory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updated = append(h.updated, accs)
	return nil
}

type testBridge struct {
	api      *fakeAPI
	events   *fakeEvents
	listener *fakeListener
	host     *fakeHost
	hubs     *Set[capability.HubState]
	sensors  *Set[capability.SensorState]
	rec      *Reconciler
}

func newTestBridge(t *testing.T, cfg capability.Config, location string) *testBridge {
	t.Helper()
	b := &testBridge{
		api: &fakeAPI{
			memberID:  "member-1",
			locations: []scout.Location{{ID: "loc-1", Name: "Home"}},
			hub: scout.Hub{
				ID:           "hub-1",
				Type:         scout.HubTypeScout1S,
				SerialNumber: "SN1",
				Reported: &scout.HubReported{
					Status:          scout.HubStatusActive,
					FirmwareVersion: "1.2.3",
					HardwareVersion: "rev2",
				},
			},
			modes: []scout.Mode{
				{ID: "m0", Name: "Home", State: scout.ModeStateDisarmed},
				{ID: "m1", Name: "Away", State: scout.ModeStateDisarmed},
			},
		},
		events:   &fakeEvents{state: scout.ConnectionStateConnected},
		listener: &fakeListener{},
		host:     &fakeHost{},
	}
	b.hubs = NewHubSet(b.api, b.events, b.host, cfg)
	b.sensors = NewSensorSet(b.api, b.events, b.host, cfg)
	b.rec = NewReconciler(b.api, b.listener, b.host, location, b.hubs, b.sensors)
	return b
}

var modesConfig = capability.Config{Modes: &capability.ModeConfig{
	Stay: []string{"Home"},
	Away: []string{"Away"},
}}

func contact(id, state string) scout.Device {
	return scout.Device{
		ID:         id,
		LocationID: "loc-1",
		Name:       "Door " + id,
		Type:       scout.DeviceTypeAccessSensor,
		Reported: &scout.DeviceReported{
			Trigger: &scout.Trigger{State: json.RawMessage(`"` + state + `"`)},
		},
	}
}

func sensorRecord(t *testing.T, device scout.Device) Record {
	t.Helper()
	id, aid := Identify(device.ID)
	bts, err := json.Marshal(capability.Context[capability.SensorState]{
		LocationID: "loc-1",
		Custom:     capability.SensorState{Device: device},
	})
	require.NoError(t, err)
	return Record{
		UUID:    id,
		ID:      aid,
		Set:     SensorSetName,
		Info:    RecordInfo{Name: device.Name},
		Context: bts,
	}
}

func contactState(t *testing.T, a *Accessory) any {
	t.Helper()
	svc, ok := a.Services()[service.TypeContactSensor]
	require.True(t, ok)
	return svc.Characteristic(characteristic.TypeContactSensorState).Current()
}

func TestReconcilerCachedAccessory(t *testing.T) {
	b := newTestBridge(t, capability.Config{}, "")
	cached, err := b.rec.Restore(sensorRecord(t, contact("d1", scout.TriggerOpen)))
	require.NoError(t, err)
	require.Equal(t, characteristic.ContactSensorStateContactNotDetected, contactState(t, cached))

	renamed := contact("d1", scout.TriggerClose)
	renamed.Name = "Front Door"
	b.api.devices = []scout.Device{renamed}
	require.NoError(t, b.rec.Run(context.Background()))

	require.Len(t, b.host.registered, 1)
	require.Empty(t, b.host.registered[0])
	require.Empty(t, b.host.unregistered)

	handle[capability.SensorState]{cached}.View(func(ctx *capability.Context[capability.SensorState]) {
		require.Equal(t, scout.TriggerClose, ctx.Custom.Device.Reported.Trigger.StateString())
		require.True(t, ctx.IsConnected)
	})
	require.Equal(t, characteristic.ContactSensorStateContactDetected, contactState(t, cached))
	require.Equal(t, "Front Door", cached.Name())
	require.Equal(t, "Front Door", cached.A.Info.Name.Value())

	tracked, ok := b.sensors.lookup("d1")
	require.True(t, ok)
	require.Same(t, cached, tracked)
}

func TestReconcilerStaleAccessory(t *testing.T) {
	b := newTestBridge(t, capability.Config{}, "")
	stale, err := b.rec.Restore(sensorRecord(t, contact("gone", scout.TriggerOpen)))
	require.NoError(t, err)

	require.NoError(t, b.rec.Run(context.Background()))
	require.Len(t, b.host.registered, 1)
	require.Empty(t, b.host.registered[0])
	require.Len(t, b.host.unregistered, 1)
	require.Equal(t, []*Accessory{stale}, b.host.unregistered[0])

	_, ok := b.sensors.lookup("gone")
	require.False(t, ok)
}

func TestReconcilerNewAccessories(t *testing.T) {
	b := newTestBridge(t, modesConfig, "")
	b.api.devices = []scout.Device{
		contact("d1", scout.TriggerOpen),
		{ID: "d2", Name: "Hall", Type: scout.DeviceTypeMotionSensor},
		{ID: "d3", Name: "Keypad", Type: "keypad"},
	}
	mesh := json.RawMessage(`"0x1"`)
	b.api.devices = append(b.api.devices, scout.Device{
		ID:       "d4",
		Type:     scout.DeviceTypeMotionSensor,
		Reported: &scout.DeviceReported{MeshAddress: &mesh},
	})

	require.NoError(t, b.rec.Run(context.Background()))
	require.True(t, b.listener.connected)
	require.Equal(t, []string{"loc-1"}, b.listener.locations)
	require.Empty(t, b.host.unregistered)
	require.Len(t, b.host.registered, 1)

	var names []string
	for _, a := range b.host.registered[0] {
		names = append(names, a.Name())
		require.GreaterOrEqual(t, a.Id, uint64(2))
	}
	require.Equal(t, []string{securitySystemName, "Door d1", "Hall"}, names)

	hub := b.host.registered[0][0]
	svc := hub.Services()[service.TypeSecuritySystem]
	require.NotNil(t, svc)
	require.Equal(t, characteristic.SecuritySystemCurrentStateDisarmed, svc.Characteristic(characteristic.TypeSecuritySystemCurrentState).Current())
	require.NotContains(t, hub.Services(), service.TypeBatteryService)
	require.Equal(t, "1.2.3", hub.A.Info.FirmwareRevision.Value())
	require.NotNil(t, hub.hardware)
	require.Equal(t, "rev2", hub.hardware.Value())

	rec, err := hub.Record()
	require.NoError(t, err)
	require.Equal(t, "rev2", rec.Info.Hardware)
}

func TestReconcilerEventsWhileDiscovering(t *testing.T) {
	hubEvent := func(b *testBridge) {
		temp := -3.5
		hub := b.api.hub
		hub.Reported = &scout.HubReported{Status: scout.HubStatusActive, Temperature: &temp}
		for _, fn := range b.events.hubs {
			fn(hub)
		}
	}

	t.Run("new accessories", func(t *testing.T) {
		b := newTestBridge(t, modesConfig, "")
		b.events.state = scout.ConnectionStateDisconnected
		b.api.devices = []scout.Device{contact("d1", scout.TriggerOpen)}
		b.api.onDevices = func() {
			b.events.connection(scout.ConnectionStateConnected)
			hubEvent(b)
			b.events.mode("loc-1", scout.ModeEvent{ModeID: "m1", Event: scout.ModeStateArmed})
		}

		require.NoError(t, b.rec.Run(context.Background()))
		require.Len(t, b.host.registered, 1)
		require.Len(t, b.host.registered[0], 2)
		require.Empty(t, b.host.updated)

		hub := b.host.registered[0][0]
		handle[capability.HubState]{hub}.View(func(ctx *capability.Context[capability.HubState]) {
			require.True(t, ctx.IsConnected)
		})
		security := hub.Services()[service.TypeSecuritySystem]
		require.Equal(t, 0, security.Characteristic(characteristic.TypeStatusFault).Current())
		require.Equal(t, characteristic.SecuritySystemCurrentStateAwayArm, security.Characteristic(characteristic.TypeSecuritySystemCurrentState).Current())

		temperature, ok := hub.Services()[service.TypeTemperatureSensor]
		require.True(t, ok)
		require.Equal(t, -3.5, temperature.Characteristic(characteristic.TypeCurrentTemperature).Current())

		door := b.host.registered[0][1]
		fault := door.Services()[service.TypeContactSensor].Characteristic(characteristic.TypeStatusFault)
		require.Equal(t, 0, fault.Current())
	})

	t.Run("cached accessories", func(t *testing.T) {
		first := newTestBridge(t, modesConfig, "")
		require.NoError(t, first.rec.Run(context.Background()))
		rec, err := first.host.registered[0][0].Record()
		require.NoError(t, err)

		b := newTestBridge(t, modesConfig, "")
		b.events.state = scout.ConnectionStateDisconnected
		cached, err := b.rec.Restore(rec)
		require.NoError(t, err)
		b.api.onDevices = func() {
			b.events.connection(scout.ConnectionStateConnected)
			hubEvent(b)
		}

		require.NoError(t, b.rec.Run(context.Background()))
		require.Empty(t, b.host.registered[0])
		handle[capability.HubState]{cached}.View(func(ctx *capability.Context[capability.HubState]) {
			require.True(t, ctx.IsConnected)
			require.Equal(t, -3.5, *ctx.Custom.Hub.Reported.Temperature)
		})
		require.Contains(t, cached.Services(), service.TypeTemperatureSensor)

		tracked, ok := b.hubs.lookup("hub-1")
		require.True(t, ok)
		require.Same(t, cached, tracked)
	})
}

func TestReconcilerNoModes(t *testing.T) {
	b := newTestBridge(t, capability.Config{}, "")
	require.NoError(t, b.rec.Run(context.Background()))
	require.Len(t, b.host.registered, 1)
	require.Empty(t, b.host.registered[0])
}

func TestReconcilerMisconfigured(t *testing.T) {
	b := newTestBridge(t, capability.Config{Modes: &capability.ModeConfig{
		Stay: []string{"Home"},
	}}, "")
	err := b.rec.Run(context.Background())
	require.ErrorIs(t, err, capability.ErrMisconfigured)
	require.ErrorContains(t, err, `"Away"`)
	require.Empty(t, b.host.registered)
	require.Empty(t, b.host.unregistered)
}

func TestReconcilerRunsOnce(t *testing.T) {
	b := newTestBridge(t, capability.Config{}, "")
	require.NoError(t, b.rec.Run(context.Background()))
	require.ErrorIs(t, b.rec.Run(context.Background()), ErrAlreadyRan)
}

func TestReconcilerRestoreUnknownSet(t *testing.T) {
	b := newTestBridge(t, capability.Config{}, "")
	rec := sensorRecord(t, contact("d1", scout.TriggerOpen))
	rec.Set = "lock"
	_, err := b.rec.Restore(rec)
	require.Error(t, err)
}

func TestReconcilerLocation(t *testing.T) {
	two := []scout.Location{{ID: "loc-1", Name: "Home"}, {ID: "loc-2", Name: "Beach"}}

	t.Run("no locations", func(t *testing.T) {
		b := newTestBridge(t, capability.Config{}, "")
		b.api.locations = nil
		require.ErrorIs(t, b.rec.Run(context.Background()), ErrNoLocation)
		require.False(t, b.listener.connected)
	})

	t.Run("ambiguous", func(t *testing.T) {
		b := newTestBridge(t, capability.Config{}, "")
		b.api.locations = two
		err := b.rec.Run(context.Background())
		require.ErrorIs(t, err, ErrAmbiguousLocation)
		require.ErrorContains(t, err, "Home, Beach")
	})

	t.Run("configured", func(t *testing.T) {
		b := newTestBridge(t, capability.Config{}, "Beach")
		b.api.locations = two
		require.NoError(t, b.rec.Run(context.Background()))
		require.Equal(t, []string{"loc-2"}, b.listener.locations)
	})

	t.Run("configured not found", func(t *testing.T) {
		b := newTestBridge(t, capability.Config{}, "Office")
		b.api.locations = two
		err := b.rec.Run(context.Background())
		require.ErrorIs(t, err, ErrNoLocation)
		require.ErrorContains(t, err, "Office")
	})

	t.Run("admin member", func(t *testing.T) {
		b := newTestBridge(t, capability.Config{}, "")
		b.api.locations[0].AdminIDs = []string{"member-1"}
		require.NoError(t, b.rec.Run(context.Background()))
	})
}

func TestLiveEvents(t *testing.T) {
	b := newTestBridge(t, modesConfig, "")
	b.api.devices = []scout.Device{contact("d1", scout.TriggerOpen)}

	// events before the first run are not applied
	b.events.device(contact("early", scout.TriggerOpen))
	require.NoError(t, b.rec.Run(context.Background()))
	require.Len(t, b.host.registered, 1)
	hub := b.host.registered[0][0]
	door := b.host.registered[0][1]

	state := func() any {
		return hub.Services()[service.TypeSecuritySystem].
			Characteristic(characteristic.TypeSecuritySystemCurrentState).Current()
	}

	t.Run("mode", func(t *testing.T) {
		b.events.mode("loc-1", scout.ModeEvent{ModeID: "m1", Event: scout.ModeStateArmed})
		require.Equal(t, characteristic.SecuritySystemCurrentStateAwayArm, state())

		b.events.mode("loc-2", scout.ModeEvent{ModeID: "m1", Event: scout.ModeStateDisarmed})
		require.Equal(t, characteristic.SecuritySystemCurrentStateAwayArm, state())

		b.events.mode("loc-1", scout.ModeEvent{ModeID: "m1", Event: scout.ModeStateDisarmed})
		require.Equal(t, characteristic.SecuritySystemCurrentStateDisarmed, state())
	})

	t.Run("trigger", func(t *testing.T) {
		device := contact("d1", scout.TriggerClose)
		device.Event = scout.DeviceEventTriggered
		b.events.device(device)
		require.Equal(t, characteristic.ContactSensorStateContactDetected, contactState(t, door))
	})

	t.Run("hub telemetry adds services", func(t *testing.T) {
		temp := 20.0
		hubState := b.api.hub
		hubState.Reported = &scout.HubReported{Status: scout.HubStatusActive, Temperature: &temp}
		for _, fn := range b.events.hubs {
			fn(hubState)
		}
		require.Contains(t, hub.Services(), service.TypeTemperatureSensor)
		require.Len(t, b.host.updated, 1)
	})

	t.Run("new device", func(t *testing.T) {
		device := contact("d2", scout.TriggerOpen)
		device.Event = scout.DeviceEventTriggered
		b.events.device(device)
		require.Len(t, b.host.registered, 2)
		require.Equal(t, "Door d2", b.host.registered[1][0].Name())
		_, ok := b.sensors.lookup("d2")
		require.True(t, ok)
	})

	t.Run("unsupported device", func(t *testing.T) {
		b.events.device(scout.Device{ID: "k1", Type: "keypad", Event: scout.DeviceEventPaired})
		require.Len(t, b.host.registered, 2)
	})

	t.Run("unpaired", func(t *testing.T) {
		b.events.device(scout.Device{ID: "d2", Event: scout.DeviceEventUnpaired})
		require.Len(t, b.host.unregistered, 1)
		require.Equal(t, "Door d2", b.host.unregistered[0][0].Name())
		_, ok := b.sensors.lookup("d2")
		require.False(t, ok)
	})

	t.Run("disconnected", func(t *testing.T) {
		b.events.connection(scout.ConnectionStateDisconnected)
		fault := door.Services()[service.TypeContactSensor].Characteristic(characteristic.TypeStatusFault)
		require.Equal(t, 1, fault.Current())

		b.events.connection(scout.ConnectionStateConnected)
		require.Equal(t, 0, fault.Current())
	})

	t.Run("identify", func(t *testing.T) {
		var ctx capability.Context[capability.HubState]
		handle[capability.HubState]{hub}.View(func(c *capability.Context[capability.HubState]) {
			ctx = *c
		})
		b.hubs.identify(ctx)
		require.Equal(t, []string{"hub-1"}, b.api.chirps)
	})
}
