// Package capability maps Scout entities to HomeKit services.
//
// Each Factory decides whether its service applies to an entity and computes
// the service's characteristic values from the entity's current context.
// Factories are stateless apart from the Config they are built with.
package capability

import (
	"errors"
	"os"
	"time"

	"github.com/caarlos0/homekit-scout"
	logp "github.com/charmbracelet/log"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "capability",
})

// ErrMisconfigured is wrapped by errors caused by a mode configuration that
// does not match the modes reported by Scout.
var ErrMisconfigured = errors.New("mode configuration mismatch")

// Context is the persisted state of one accessory.
type Context[T any] struct {
	LocationID  string `json:"locationId"`
	Custom      T      `json:"custom"`
	IsConnected bool   `json:"isConnected"`
}

// HubState is the context of the security system accessory.
type HubState struct {
	Hub   scout.Hub    `json:"hub"`
	Modes []scout.Mode `json:"modes"`
}

// SensorState is the context of a sensor accessory.
type SensorState struct {
	Device scout.Device `json:"device"`
}

// Config is shared by all factories and never changes after startup.
type Config struct {
	Modes                   *ModeConfig
	TriggerAlarmImmediately bool
	ReverseSensorState      bool
}

// Values maps a HAP characteristic type to its value.
type Values map[string]any

// ServiceSpec is the HAP service a factory provides and every characteristic
// it may set on it.
type ServiceSpec struct {
	Type            string
	Characteristics []string
}

// Factory provides one HomeKit service for accessories of context T.
type Factory[T any] interface {
	Spec() ServiceSpec
	// AppliesTo reports whether the service should exist for the given
	// context. It has no side effects.
	AppliesTo(ctx *Context[T]) (bool, error)
	// Characteristics computes the values of the service's characteristics.
	Characteristics(ctx *Context[T]) (Values, error)
}

// Handle gives synchronized access to an accessory's context.
type Handle[T any] interface {
	View(fn func(ctx *Context[T]))
	Update(fn func(ctx *Context[T]))
}

// Configurer is implemented by factories that need to hook into a service
// the first time it is attached to an accessory, e.g. to handle writes.
type Configurer[T any] interface {
	Configure(svc *Service, h Handle[T])
}
