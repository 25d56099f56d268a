package scout

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

type Location struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	AdminIDs  []string `json:"admin_ids"`
	MemberIDs []string `json:"member_ids"`
}

type HubType string

const (
	HubTypeScout1  HubType = "scout1"
	HubTypeScout1S HubType = "scout1S"
)

type Hub struct {
	ID           string       `json:"id"`
	LocationID   string       `json:"location_id"`
	SerialNumber string       `json:"serial_number"`
	Type         HubType      `json:"type"`
	Reported     *HubReported `json:"reported,omitempty"`
}

type HubReported struct {
	Status          string      `json:"status,omitempty"`
	FirmwareVersion string      `json:"fw_version,omitempty"`
	HardwareVersion string      `json:"hw_version,omitempty"`
	Battery         *HubBattery `json:"battery,omitempty"`
	Temperature     *float64    `json:"temperature,omitempty"`
}

type HubBattery struct {
	Level  float64 `json:"level"`
	Active bool    `json:"active"`
	Low    bool    `json:"low"`
}

// HubStatusActive is the reported status of a hub that is online.
const HubStatusActive = "active"

type DeviceType string

const (
	DeviceTypeDoorPanel    DeviceType = "door_panel"
	DeviceTypeAccessSensor DeviceType = "access_sensor"
	DeviceTypeMotionSensor DeviceType = "motion_sensor"
	DeviceTypeWaterSensor  DeviceType = "water_sensor"
	DeviceTypeSmokeAlarm   DeviceType = "smoke_alarm"
)

type DeviceEvent string

const (
	DeviceEventTriggered DeviceEvent = "triggered"
	DeviceEventPaired    DeviceEvent = "paired"
	DeviceEventUnpaired  DeviceEvent = "unpaired"
)

// Device is a sensor paired to a hub.
//
// Event is only set when the device came from a realtime event, devices
// fetched from the API never carry it.
type Device struct {
	ID         string          `json:"id"`
	LocationID string          `json:"location_id"`
	Name       string          `json:"name"`
	Type       DeviceType      `json:"type"`
	Reported   *DeviceReported `json:"reported,omitempty"`
	Event      DeviceEvent     `json:"event,omitempty"`
}

type DeviceReported struct {
	Manufacturer    string             `json:"manufacturer,omitempty"`
	Model           string             `json:"model,omitempty"`
	FirmwareVersion string             `json:"fw_version,omitempty"`
	TimedOut        bool               `json:"timedout,omitempty"`
	MeshAddress     *json.RawMessage   `json:"mesh_address,omitempty"`
	Battery         *DeviceBattery     `json:"battery,omitempty"`
	Trigger         *Trigger           `json:"trigger,omitempty"`
	Temperature     *DeviceTemperature `json:"temperature,omitempty"`
	Humidity        *DeviceHumidity    `json:"humidity,omitempty"`
}

type DeviceBattery struct {
	Low bool `json:"low"`
}

type DeviceTemperature struct {
	Degrees float64 `json:"degrees"`
}

type DeviceHumidity struct {
	Percent float64 `json:"percent"`
}

// Trigger is the last trigger reported by a device.
//
// State is a plain string for most devices, but an object with one entry per
// detector for smoke alarms.
type Trigger struct {
	State  json.RawMessage `json:"state,omitempty"`
	Tamper *bool           `json:"tamper,omitempty"`
}

// StateString returns the trigger state when it is a plain string.
func (t *Trigger) StateString() string {
	if t == nil {
		return ""
	}
	res := gjson.ParseBytes(t.State)
	if res.Type != gjson.String {
		return ""
	}
	return res.String()
}

// StateField returns a field of an object trigger state, e.g. "smoke" or "co".
func (t *Trigger) StateField(name string) string {
	if t == nil || len(t.State) == 0 {
		return ""
	}
	return gjson.GetBytes(t.State, name).String()
}

const (
	TriggerOpen      = "open"
	TriggerClose     = "close"
	TriggerStart     = "start"
	TriggerStop      = "stop"
	TriggerDry       = "dry"
	TriggerWet       = "wet"
	TriggerOk        = "ok"
	TriggerEmergency = "emergency"
	TriggerTesting   = "testing"
)

type ModeState string

const (
	ModeStateDisarmed  ModeState = "disarmed"
	ModeStateArming    ModeState = "arming"
	ModeStateArmed     ModeState = "armed"
	ModeStateTriggered ModeState = "triggered"
	ModeStateAlarmed   ModeState = "alarmed"
)

// Active reports whether the mode is anything but disarmed.
func (s ModeState) Active() bool {
	switch s {
	case ModeStateArming, ModeStateArmed, ModeStateTriggered, ModeStateAlarmed:
		return true
	default:
		return false
	}
}

type Mode struct {
	ID         string    `json:"id"`
	LocationID string    `json:"location_id,omitempty"`
	Name       string    `json:"name"`
	State      ModeState `json:"state"`
}

type ModeEvent struct {
	ModeID string    `json:"mode_id"`
	Event  ModeState `json:"event"`
}

type ModeStateUpdate string

const (
	ModeStateUpdateArming ModeStateUpdate = "arming"
	ModeStateUpdateDisarm ModeStateUpdate = "disarm"
)

type ConnectionState string

const (
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
)

type ConnectionStateEvent struct {
	Previous ConnectionState
	Current  ConnectionState
}
