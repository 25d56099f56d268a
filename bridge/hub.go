package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/homekit-scout"
	"github.com/caarlos0/homekit-scout/capability"
)

const (
	HubSetName    = "hub"
	SensorSetName = "sensor"

	securitySystemName = "Security System"
	chirpTimeout       = 10 * time.Second
)

// Events is where live Scout events come from.
type Events interface {
	OnMode(fn func(locationID string, event scout.ModeEvent))
	OnHub(fn func(hub scout.Hub))
	OnDevice(fn func(device scout.Device))
	OnConnectionState(fn func(event scout.ConnectionStateEvent))
	State() scout.ConnectionState
}

// HubAPI is the part of the Scout API the hub set needs.
type HubAPI interface {
	capability.ModeToggler
	Hub(ctx context.Context, locationID string) (scout.Hub, error)
	Chirp(ctx context.Context, hubID string) error
}

// NewHubSet creates the set of the security system accessory.
//
// There is no accessory at all when no modes are configured.
func NewHubSet(api HubAPI, events Events, host Host, cfg capability.Config) *Set[capability.HubState] {
	s := &Set[capability.HubState]{
		name:      HubSetName,
		factories: capability.HubFactories(cfg, api),
		newA: func(info accessory.Info) *accessory.A {
			return accessory.New(info, accessory.TypeSecuritySystem)
		},
		connected: func() bool {
			return events.State() == scout.ConnectionStateConnected
		},
		host: host,
		accs: map[string]*Accessory{},
	}

	s.discover = func(ctx context.Context, locationID string) ([]Entity[capability.HubState], error) {
		if cfg.Modes.Empty() {
			log.Info("no modes configured, skipping security system")
			return nil, nil
		}
		hub, err := api.Hub(ctx, locationID)
		if err != nil {
			return nil, fmt.Errorf("could not get hub: %w", err)
		}
		modes, err := api.Modes(ctx, locationID)
		if err != nil {
			return nil, fmt.Errorf("could not get modes: %w", err)
		}
		log.Debug("got hub", "id", hub.ID, "type", hub.Type, "modes", len(modes))
		entity := Entity[capability.HubState]{
			ID:     hub.ID,
			Info:   hubInfo(hub),
			Custom: capability.HubState{Hub: hub, Modes: modes},
		}
		if hub.Reported != nil {
			entity.Hardware = hub.Reported.HardwareVersion
		}
		return []Entity[capability.HubState]{entity}, nil
	}

	s.identify = func(c capability.Context[capability.HubState]) {
		ctx, cancel := context.WithTimeout(context.Background(), chirpTimeout)
		defer cancel()
		log.Info("identify", "hub", c.Custom.Hub.ID)
		if err := api.Chirp(ctx, c.Custom.Hub.ID); err != nil {
			log.Error("could not chirp", "hub", c.Custom.Hub.ID, "err", err)
		}
	}

	events.OnHub(func(hub scout.Hub) {
		eventCounter.WithLabelValues("hub").Inc()
		if !s.update(hub.ID, func(ctx *capability.Context[capability.HubState]) {
			ctx.Custom.Hub = hub
		}) {
			log.Debug("hub event for unknown hub", "id", hub.ID)
		}
	})

	events.OnMode(func(locationID string, event scout.ModeEvent) {
		eventCounter.WithLabelValues("mode").Inc()
		log.Info("mode changed", "mode", event.ModeID, "state", event.Event)
		s.updateAll(func(ctx *capability.Context[capability.HubState]) bool {
			return ctx.LocationID == locationID
		}, func(ctx *capability.Context[capability.HubState]) {
			for i := range ctx.Custom.Modes {
				if ctx.Custom.Modes[i].ID == event.ModeID {
					ctx.Custom.Modes[i].State = event.Event
				}
			}
		})
	})

	events.OnConnectionState(func(event scout.ConnectionStateEvent) {
		s.updateAll(nil, func(ctx *capability.Context[capability.HubState]) {
			ctx.IsConnected = event.Current == scout.ConnectionStateConnected
		})
	})

	return s
}

func hubInfo(hub scout.Hub) accessory.Info {
	info := accessory.Info{
		Name:         securitySystemName,
		Manufacturer: manufacturer,
		Model:        string(hub.Type),
		SerialNumber: hub.SerialNumber,
		Firmware:     "unknown",
	}
	if hub.Reported != nil && hub.Reported.FirmwareVersion != "" {
		info.Firmware = hub.Reported.FirmwareVersion
	}
	return info
}
