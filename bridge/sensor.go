package bridge

import (
	"context"
	"fmt"

	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/homekit-scout"
	"github.com/caarlos0/homekit-scout/capability"
)

// DeviceAPI is the part of the Scout API the sensor set needs.
type DeviceAPI interface {
	Devices(ctx context.Context, locationID string) ([]scout.Device, error)
}

var supportedDevices = map[scout.DeviceType]bool{
	scout.DeviceTypeDoorPanel:    true,
	scout.DeviceTypeAccessSensor: true,
	scout.DeviceTypeMotionSensor: true,
	scout.DeviceTypeWaterSensor:  true,
	scout.DeviceTypeSmokeAlarm:   true,
}

// Supported reports whether a device becomes a sensor accessory.
//
// Mesh motion sensors never report motion stopping, so they are left out.
func Supported(device scout.Device) bool {
	if !supportedDevices[device.Type] {
		return false
	}
	if device.Type == scout.DeviceTypeMotionSensor &&
		device.Reported != nil && device.Reported.MeshAddress != nil {
		return false
	}
	return true
}

// NewSensorSet creates the set of sensor accessories.
func NewSensorSet(api DeviceAPI, events Events, host Host, cfg capability.Config) *Set[capability.SensorState] {
	s := &Set[capability.SensorState]{
		name:      SensorSetName,
		factories: capability.SensorFactories(cfg),
		newA: func(info accessory.Info) *accessory.A {
			return accessory.New(info, accessory.TypeSensor)
		},
		connected: func() bool {
			return events.State() == scout.ConnectionStateConnected
		},
		host: host,
		accs: map[string]*Accessory{},
	}

	s.discover = func(ctx context.Context, locationID string) ([]Entity[capability.SensorState], error) {
		devices, err := api.Devices(ctx, locationID)
		if err != nil {
			return nil, fmt.Errorf("could not get devices: %w", err)
		}
		var entities []Entity[capability.SensorState]
		for _, device := range devices {
			if !Supported(device) {
				log.Debug("skipping unsupported device", "id", device.ID, "name", device.Name, "type", device.Type)
				continue
			}
			entities = append(entities, sensorEntity(device))
		}
		return entities, nil
	}

	events.OnDevice(func(device scout.Device) {
		eventCounter.WithLabelValues("device").Inc()
		if device.Event == scout.DeviceEventUnpaired {
			if a, ok := s.lookup(device.ID); ok {
				log.Info("device unpaired", "id", device.ID, "name", a.Name())
				s.unregister(a)
			}
			return
		}
		if s.update(device.ID, func(ctx *capability.Context[capability.SensorState]) {
			ctx.Custom.Device = device
		}) {
			return
		}
		if !s.isReady() || !Supported(device) {
			return
		}
		a, err := s.build(device.LocationID, sensorEntity(device))
		if err != nil {
			log.Error("could not create accessory", "id", device.ID, "err", err)
			return
		}
		log.Info("new device", "id", device.ID, "name", device.Name, "type", device.Type)
		s.register(a)
	})

	events.OnConnectionState(func(event scout.ConnectionStateEvent) {
		s.updateAll(nil, func(ctx *capability.Context[capability.SensorState]) {
			ctx.IsConnected = event.Current == scout.ConnectionStateConnected
		})
	})

	return s
}

func (s *Set[T]) register(a *Accessory) {
	if err := s.host.Register([]*Accessory{a}); err != nil {
		log.Error("could not register accessory", "name", a.Name(), "err", err)
		s.forget(a)
	}
}

func (s *Set[T]) unregister(a *Accessory) {
	s.forget(a)
	if err := s.host.Unregister([]*Accessory{a}); err != nil {
		log.Error("could not unregister accessory", "name", a.Name(), "err", err)
	}
}

func sensorEntity(device scout.Device) Entity[capability.SensorState] {
	info := accessory.Info{
		Name:         device.Name,
		Manufacturer: manufacturer,
		Model:        "unknown",
		SerialNumber: device.ID,
		Firmware:     "unknown",
	}
	if r := device.Reported; r != nil {
		if r.Manufacturer != "" {
			info.Manufacturer = r.Manufacturer
		}
		if r.Model != "" {
			info.Model = r.Model
		}
		if r.FirmwareVersion != "" {
			info.Firmware = r.FirmwareVersion
		}
	}
	return Entity[capability.SensorState]{
		ID:     device.ID,
		Info:   info,
		Custom: capability.SensorState{Device: device},
	}
}
