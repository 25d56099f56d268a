package capability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/caarlos0/homekit-scout"
	"golang.org/x/exp/slices"
)

const commandTimeout = 30 * time.Second

// ModeToggler fetches and changes the modes of a location.
type ModeToggler interface {
	Modes(ctx context.Context, locationID string) ([]scout.Mode, error)
	ToggleMode(ctx context.Context, modeID string, state scout.ModeStateUpdate) error
}

// SecuritySystem maps the Scout modes of a location to a single HomeKit
// security system.
type SecuritySystem struct {
	cfg   Config
	modes ModeToggler
}

func NewSecuritySystem(cfg Config, modes ModeToggler) *SecuritySystem {
	return &SecuritySystem{cfg: cfg, modes: modes}
}

func (*SecuritySystem) Spec() ServiceSpec {
	return ServiceSpec{
		Type: service.TypeSecuritySystem,
		Characteristics: []string{
			characteristic.TypeSecuritySystemCurrentState,
			characteristic.TypeSecuritySystemTargetState,
			characteristic.TypeStatusFault,
		},
	}
}

// AppliesTo fails when a Scout mode is missing from the configuration or a
// configured name has no Scout mode.
func (f *SecuritySystem) AppliesTo(ctx *Context[HubState]) (bool, error) {
	if f.cfg.Modes.Empty() {
		return false, nil
	}
	for _, mode := range ctx.Custom.Modes {
		if _, ok := f.cfg.Modes.Category(mode.Name); !ok {
			return false, fmt.Errorf("%w: no configuration for scout mode named %q", ErrMisconfigured, mode.Name)
		}
	}
	for _, c := range Categories {
		for _, name := range f.cfg.Modes.Names(c) {
			if _, ok := findMode(ctx.Custom.Modes, name); !ok {
				return false, fmt.Errorf("%w: could not find a scout mode named %q", ErrMisconfigured, name)
			}
		}
	}
	return true, nil
}

func (f *SecuritySystem) Characteristics(ctx *Context[HubState]) (Values, error) {
	current, target := f.State(ctx.Custom.Modes)
	return Values{
		characteristic.TypeSecuritySystemCurrentState: current,
		characteristic.TypeSecuritySystemTargetState:  target,
		characteristic.TypeStatusFault:                hubFault(ctx),
	}, nil
}

// State derives the HomeKit current and target states from the modes.
//
// An alarmed mode wins over an armed one, which wins over an arming one.
// Within the same state the first category, and then the first configured
// name, wins.
func (f *SecuritySystem) State(modes []scout.Mode) (current, target int) {
	alarmed, armed, arming := noCategory, noCategory, noCategory
	for _, c := range Categories {
		for _, name := range f.cfg.Modes.Names(c) {
			for _, mode := range modes {
				if mode.Name != name {
					continue
				}
				switch {
				case f.isAlarmed(mode.State):
					if alarmed == noCategory {
						alarmed = c
					}
				case f.isArmed(mode.State):
					if armed == noCategory {
						armed = c
					}
				case mode.State == scout.ModeStateArming:
					if arming == noCategory {
						arming = c
					}
				}
			}
		}
	}

	switch {
	case alarmed != noCategory:
		return characteristic.SecuritySystemCurrentStateAlarmTriggered, alarmed.targetState()
	case armed != noCategory:
		return armed.currentState(), armed.targetState()
	case arming != noCategory:
		return characteristic.SecuritySystemCurrentStateDisarmed, arming.targetState()
	default:
		return characteristic.SecuritySystemCurrentStateDisarmed, characteristic.SecuritySystemTargetStateDisarm
	}
}

func (f *SecuritySystem) isAlarmed(state scout.ModeState) bool {
	return state == scout.ModeStateAlarmed ||
		(state == scout.ModeStateTriggered && f.cfg.TriggerAlarmImmediately)
}

func (f *SecuritySystem) isArmed(state scout.ModeState) bool {
	return state == scout.ModeStateArmed ||
		(state == scout.ModeStateTriggered && !f.cfg.TriggerAlarmImmediately)
}

// ValidTargetStates is disarm plus every category with at least one mode.
func (f *SecuritySystem) ValidTargetStates() []int {
	states := []int{characteristic.SecuritySystemTargetStateDisarm}
	for _, c := range Categories {
		if len(f.cfg.Modes.Names(c)) > 0 {
			states = append(states, c.targetState())
		}
	}
	slices.Sort(states)
	return states
}

// SetTargetState arms the first mode of the matching category or disarms
// whichever mode is active.
func (f *SecuritySystem) SetTargetState(ctx context.Context, h Handle[HubState], state int) error {
	if state == characteristic.SecuritySystemTargetStateDisarm {
		return f.disarm(ctx, h)
	}

	c, ok := categoryForTarget(state)
	if !ok {
		return fmt.Errorf("invalid target state: %d", state)
	}
	names := f.cfg.Modes.Names(c)
	if len(names) == 0 {
		return fmt.Errorf("%w: no scout mode configured as %s", ErrMisconfigured, c)
	}

	var mode scout.Mode
	var found bool
	h.View(func(ctx *Context[HubState]) {
		mode, found = findMode(ctx.Custom.Modes, names[0])
	})
	if !found {
		return fmt.Errorf("%w: could not find a scout mode named %q", ErrMisconfigured, names[0])
	}

	log.Info("arming", "category", c, "mode", mode.Name)
	if err := f.modes.ToggleMode(ctx, mode.ID, scout.ModeStateUpdateArming); err != nil {
		return fmt.Errorf("could not arm %q: %w", mode.Name, err)
	}
	return nil
}

func (f *SecuritySystem) disarm(ctx context.Context, h Handle[HubState]) error {
	var locationID string
	h.View(func(ctx *Context[HubState]) {
		locationID = ctx.LocationID
	})

	modes, err := f.modes.Modes(ctx, locationID)
	if err != nil {
		return fmt.Errorf("could not refresh modes: %w", err)
	}
	h.Update(func(ctx *Context[HubState]) {
		ctx.Custom.Modes = modes
	})

	mode, ok := f.activeMode(modes)
	if !ok {
		log.Info("no active mode to disarm")
		return nil
	}

	log.Info("disarming", "mode", mode.Name)
	if err := f.modes.ToggleMode(ctx, mode.ID, scout.ModeStateUpdateDisarm); err != nil {
		return fmt.Errorf("could not disarm %q: %w", mode.Name, err)
	}
	return nil
}

func (f *SecuritySystem) activeMode(modes []scout.Mode) (scout.Mode, bool) {
	for _, c := range Categories {
		for _, name := range f.cfg.Modes.Names(c) {
			for _, mode := range modes {
				if mode.Name == name && mode.State.Active() {
					return mode, true
				}
			}
		}
	}
	for _, mode := range modes {
		if mode.State.Active() {
			return mode, true
		}
	}
	return scout.Mode{}, false
}

// Configure handles target state writes from HomeKit.
func (f *SecuritySystem) Configure(svc *Service, h Handle[HubState]) {
	target := svc.Characteristic(characteristic.TypeSecuritySystemTargetState)
	if target == nil {
		return
	}
	target.ValidVals = f.ValidTargetStates()
	target.SetValueRequestFunc = func(v interface{}, _ *http.Request) (interface{}, int) {
		state, ok := toInt(v)
		if !ok {
			return nil, hap.JsonStatusInvalidValueInRequest
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := f.SetTargetState(ctx, h, state); err != nil {
			log.Error("could not set target state", "state", state, "err", err)
			commandErrorCounter.Inc()
			return nil, hap.JsonStatusResourceBusy
		}
		return nil, hap.JsonStatusSuccess
	}
}

func findMode(modes []scout.Mode, name string) (scout.Mode, bool) {
	for _, mode := range modes {
		if mode.Name == name {
			return mode, true
		}
	}
	return scout.Mode{}, false
}
