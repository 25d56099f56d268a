package main

import (
	"fmt"
	"strings"

	"github.com/caarlos0/homekit-scout/capability"
)

type Config struct {
	Email                   string   `env:"SCOUT_EMAIL,notEmpty"`
	Password                string   `env:"SCOUT_PASSWORD,notEmpty"`
	Location                string   `env:"SCOUT_LOCATION"`
	StayModes               []string `env:"MODES_STAY"`
	AwayModes               []string `env:"MODES_AWAY"`
	NightModes              []string `env:"MODES_NIGHT"`
	TriggerAlarmImmediately bool     `env:"TRIGGER_ALARM_IMMEDIATELY"`
	ReverseSensorState      bool     `env:"REVERSE_SENSOR_STATE"`
	Address                 string   `env:"LISTEN" envDefault:":51826"`
	Pin                     string   `env:"PIN"    envDefault:"00102003"`
	DB                      string   `env:"DB"     envDefault:"./db"`
}

// capabilities builds the configuration shared by every capability.
func (c Config) capabilities() (capability.Config, error) {
	cfg := capability.Config{
		TriggerAlarmImmediately: c.TriggerAlarmImmediately,
		ReverseSensorState:      c.ReverseSensorState,
	}
	modes := &capability.ModeConfig{
		Stay:  modeNames(c.StayModes),
		Away:  modeNames(c.AwayModes),
		Night: modeNames(c.NightModes),
	}
	if modes.Empty() {
		return cfg, nil
	}
	if err := modes.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid modes: %w", err)
	}
	cfg.Modes = modes
	return cfg, nil
}

func (c Config) modesString() string {
	return strings.Join([]string{
		fmt.Sprintf("stay: %v", c.StayModes),
		fmt.Sprintf("away: %v", c.AwayModes),
		fmt.Sprintf("night: %v", c.NightModes),
	}, "\n")
}

func modeNames(names []string) []string {
	var result []string
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			result = append(result, name)
		}
	}
	return result
}
