package capability

import (
	"math"

	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/caarlos0/homekit-scout"
)

// HAP values of the status and detection characteristics.
const (
	faultNone    = 0
	faultGeneral = 1

	notTampered = 0
	tampered    = 1

	batteryNormal = 0
	batteryLow    = 1

	notCharging = 0
	charging    = 1

	leakNotDetected = 0
	leakDetected    = 1

	smokeNotDetected = 0
	smokeDetected    = 1

	coNormal   = 0
	coAbnormal = 1
)

// Hubs report their battery in different units, a v1 hub reports an unsigned
// byte that is 255 when plugged in, a v2 hub reports the voltage, which is 5.0
// when plugged in and drops just above 4.0 on battery.
var maxBatteryLevels = map[scout.HubType]float64{
	scout.HubTypeScout1:  255,
	scout.HubTypeScout1S: 5.0,
}

func hubFault(ctx *Context[HubState]) int {
	reported := ctx.Custom.Hub.Reported
	if reported != nil && reported.Status == scout.HubStatusActive && ctx.IsConnected {
		return faultNone
	}
	return faultGeneral
}

// Battery is the hub's battery service.
type Battery struct{}

func NewBattery() *Battery {
	return &Battery{}
}

func (*Battery) Spec() ServiceSpec {
	return ServiceSpec{
		Type: service.TypeBatteryService,
		Characteristics: []string{
			characteristic.TypeBatteryLevel,
			characteristic.TypeChargingState,
			characteristic.TypeStatusLowBattery,
			characteristic.TypeStatusFault,
		},
	}
}

func (*Battery) AppliesTo(ctx *Context[HubState]) (bool, error) {
	_, ok := batteryLevel(ctx.Custom.Hub)
	return ok, nil
}

func (*Battery) Characteristics(ctx *Context[HubState]) (Values, error) {
	values := Values{
		characteristic.TypeStatusFault: hubFault(ctx),
	}
	level, ok := batteryLevel(ctx.Custom.Hub)
	if !ok {
		return values, nil
	}
	battery := ctx.Custom.Hub.Reported.Battery
	values[characteristic.TypeBatteryLevel] = level
	values[characteristic.TypeChargingState] = charging
	if battery.Active {
		values[characteristic.TypeChargingState] = notCharging
	}
	values[characteristic.TypeStatusLowBattery] = batteryNormal
	if battery.Low {
		values[characteristic.TypeStatusLowBattery] = batteryLow
	}
	return values, nil
}

func batteryLevel(hub scout.Hub) (int, bool) {
	if hub.Reported == nil || hub.Reported.Battery == nil {
		return 0, false
	}
	max, ok := maxBatteryLevels[hub.Type]
	if !ok {
		return 0, false
	}
	level := math.Min(hub.Reported.Battery.Level, max)
	return int(math.Round(level / max * 100)), true
}

// HubTemperature is the hub's temperature sensor.
type HubTemperature struct{}

func NewHubTemperature() *HubTemperature {
	return &HubTemperature{}
}

func (*HubTemperature) Spec() ServiceSpec {
	return ServiceSpec{
		Type: service.TypeTemperatureSensor,
		Characteristics: []string{
			characteristic.TypeCurrentTemperature,
			characteristic.TypeStatusFault,
		},
	}
}

func (*HubTemperature) AppliesTo(ctx *Context[HubState]) (bool, error) {
	reported := ctx.Custom.Hub.Reported
	return reported != nil && reported.Temperature != nil, nil
}

func (*HubTemperature) Characteristics(ctx *Context[HubState]) (Values, error) {
	values := Values{
		characteristic.TypeStatusFault: hubFault(ctx),
	}
	if reported := ctx.Custom.Hub.Reported; reported != nil && reported.Temperature != nil {
		values[characteristic.TypeCurrentTemperature] = *reported.Temperature
	}
	return values, nil
}
