package capability

import (
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/caarlos0/homekit-scout"
)

// sensorCharacteristics are set on every sensor service.
var sensorCharacteristics = []string{
	characteristic.TypeStatusTampered,
	characteristic.TypeStatusLowBattery,
	characteristic.TypeStatusFault,
}

func sensorSpec(typ string, cs ...string) ServiceSpec {
	return ServiceSpec{
		Type:            typ,
		Characteristics: append(cs, sensorCharacteristics...),
	}
}

// sensorStatus computes the characteristics shared by all sensors.
func sensorStatus(ctx *Context[SensorState]) Values {
	values := Values{}
	reported := ctx.Custom.Device.Reported
	if reported != nil && reported.Trigger != nil && reported.Trigger.Tamper != nil {
		values[characteristic.TypeStatusTampered] = notTampered
		if *reported.Trigger.Tamper {
			values[characteristic.TypeStatusTampered] = tampered
		}
	}
	if reported != nil && !reported.TimedOut && reported.Battery != nil {
		values[characteristic.TypeStatusLowBattery] = batteryNormal
		if reported.Battery.Low {
			values[characteristic.TypeStatusLowBattery] = batteryLow
		}
	}
	values[characteristic.TypeStatusFault] = faultNone
	if !ctx.IsConnected || (reported != nil && reported.TimedOut) {
		values[characteristic.TypeStatusFault] = faultGeneral
	}
	return values
}

func triggerOf(ctx *Context[SensorState]) *scout.Trigger {
	if reported := ctx.Custom.Device.Reported; reported != nil {
		return reported.Trigger
	}
	return nil
}

func hasType(ctx *Context[SensorState], types ...scout.DeviceType) bool {
	for _, t := range types {
		if ctx.Custom.Device.Type == t {
			return true
		}
	}
	return false
}

// ContactSensor is a door or window sensor.
type ContactSensor struct {
	cfg Config
}

func NewContactSensor(cfg Config) *ContactSensor {
	return &ContactSensor{cfg: cfg}
}

func (*ContactSensor) Spec() ServiceSpec {
	return sensorSpec(service.TypeContactSensor, characteristic.TypeContactSensorState)
}

// AppliesTo only once the sensor reported being open or closed.
func (*ContactSensor) AppliesTo(ctx *Context[SensorState]) (bool, error) {
	if !hasType(ctx, scout.DeviceTypeDoorPanel, scout.DeviceTypeAccessSensor) {
		return false, nil
	}
	switch triggerOf(ctx).StateString() {
	case scout.TriggerOpen, scout.TriggerClose:
		return true, nil
	default:
		return false, nil
	}
}

// Characteristics maps open to not detected and close to detected. Devices
// from realtime events are inverted when ReverseSensorState is set.
func (f *ContactSensor) Characteristics(ctx *Context[SensorState]) (Values, error) {
	values := sensorStatus(ctx)
	detected := characteristic.ContactSensorStateContactDetected
	notDetected := characteristic.ContactSensorStateContactNotDetected
	if f.cfg.ReverseSensorState && ctx.Custom.Device.Event != "" {
		detected, notDetected = notDetected, detected
	}
	switch triggerOf(ctx).StateString() {
	case scout.TriggerOpen:
		values[characteristic.TypeContactSensorState] = notDetected
	case scout.TriggerClose:
		values[characteristic.TypeContactSensorState] = detected
	}
	return values, nil
}

// MotionSensor detects motion.
type MotionSensor struct{}

func NewMotionSensor() *MotionSensor {
	return &MotionSensor{}
}

func (*MotionSensor) Spec() ServiceSpec {
	return sensorSpec(service.TypeMotionSensor, characteristic.TypeMotionDetected)
}

func (*MotionSensor) AppliesTo(ctx *Context[SensorState]) (bool, error) {
	return hasType(ctx, scout.DeviceTypeMotionSensor), nil
}

func (*MotionSensor) Characteristics(ctx *Context[SensorState]) (Values, error) {
	values := sensorStatus(ctx)
	switch triggerOf(ctx).StateString() {
	case scout.TriggerStart:
		values[characteristic.TypeMotionDetected] = true
	case scout.TriggerStop:
		values[characteristic.TypeMotionDetected] = false
	}
	return values, nil
}

// LeakSensor is a water sensor.
type LeakSensor struct{}

func NewLeakSensor() *LeakSensor {
	return &LeakSensor{}
}

func (*LeakSensor) Spec() ServiceSpec {
	return sensorSpec(service.TypeLeakSensor, characteristic.TypeLeakDetected)
}

func (*LeakSensor) AppliesTo(ctx *Context[SensorState]) (bool, error) {
	return hasType(ctx, scout.DeviceTypeWaterSensor), nil
}

func (*LeakSensor) Characteristics(ctx *Context[SensorState]) (Values, error) {
	values := sensorStatus(ctx)
	switch triggerOf(ctx).StateString() {
	case scout.TriggerDry:
		values[characteristic.TypeLeakDetected] = leakNotDetected
	case scout.TriggerWet:
		values[characteristic.TypeLeakDetected] = leakDetected
	}
	return values, nil
}

// SmokeSensor is the smoke detector of a smoke alarm.
type SmokeSensor struct{}

func NewSmokeSensor() *SmokeSensor {
	return &SmokeSensor{}
}

func (*SmokeSensor) Spec() ServiceSpec {
	return sensorSpec(service.TypeSmokeSensor, characteristic.TypeSmokeDetected)
}

func (*SmokeSensor) AppliesTo(ctx *Context[SensorState]) (bool, error) {
	return hasType(ctx, scout.DeviceTypeSmokeAlarm), nil
}

func (*SmokeSensor) Characteristics(ctx *Context[SensorState]) (Values, error) {
	values := sensorStatus(ctx)
	switch triggerOf(ctx).StateField("smoke") {
	case scout.TriggerOk, scout.TriggerTesting:
		values[characteristic.TypeSmokeDetected] = smokeNotDetected
	case scout.TriggerEmergency:
		values[characteristic.TypeSmokeDetected] = smokeDetected
	}
	return values, nil
}

// CarbonMonoxideSensor is the CO detector of a smoke alarm.
type CarbonMonoxideSensor struct{}

func NewCarbonMonoxideSensor() *CarbonMonoxideSensor {
	return &CarbonMonoxideSensor{}
}

func (*CarbonMonoxideSensor) Spec() ServiceSpec {
	return sensorSpec(service.TypeCarbonMonoxideSensor, characteristic.TypeCarbonMonoxideDetected)
}

func (*CarbonMonoxideSensor) AppliesTo(ctx *Context[SensorState]) (bool, error) {
	return hasType(ctx, scout.DeviceTypeSmokeAlarm), nil
}

// Characteristics reports a CO test as abnormal, unlike a smoke test.
func (*CarbonMonoxideSensor) Characteristics(ctx *Context[SensorState]) (Values, error) {
	values := sensorStatus(ctx)
	switch triggerOf(ctx).StateField("co") {
	case scout.TriggerOk:
		values[characteristic.TypeCarbonMonoxideDetected] = coNormal
	case scout.TriggerEmergency, scout.TriggerTesting:
		values[characteristic.TypeCarbonMonoxideDetected] = coAbnormal
	}
	return values, nil
}

// HumiditySensor is present on any device that reports humidity.
type HumiditySensor struct{}

func NewHumiditySensor() *HumiditySensor {
	return &HumiditySensor{}
}

func (*HumiditySensor) Spec() ServiceSpec {
	return sensorSpec(service.TypeHumiditySensor, characteristic.TypeCurrentRelativeHumidity)
}

func (*HumiditySensor) AppliesTo(ctx *Context[SensorState]) (bool, error) {
	reported := ctx.Custom.Device.Reported
	return reported != nil && reported.Humidity != nil, nil
}

func (*HumiditySensor) Characteristics(ctx *Context[SensorState]) (Values, error) {
	values := sensorStatus(ctx)
	if reported := ctx.Custom.Device.Reported; reported != nil && reported.Humidity != nil {
		values[characteristic.TypeCurrentRelativeHumidity] = reported.Humidity.Percent
	}
	return values, nil
}

// TemperatureSensor is present on any device that reports temperature,
// except smoke alarms.
type TemperatureSensor struct{}

func NewTemperatureSensor() *TemperatureSensor {
	return &TemperatureSensor{}
}

func (*TemperatureSensor) Spec() ServiceSpec {
	return sensorSpec(service.TypeTemperatureSensor, characteristic.TypeCurrentTemperature)
}

func (*TemperatureSensor) AppliesTo(ctx *Context[SensorState]) (bool, error) {
	reported := ctx.Custom.Device.Reported
	return reported != nil && reported.Temperature != nil &&
		!hasType(ctx, scout.DeviceTypeSmokeAlarm), nil
}

func (*TemperatureSensor) Characteristics(ctx *Context[SensorState]) (Values, error) {
	values := sensorStatus(ctx)
	if reported := ctx.Custom.Device.Reported; reported != nil && reported.Temperature != nil {
		values[characteristic.TypeCurrentTemperature] = reported.Temperature.Degrees
	}
	return values, nil
}

// HubFactories are the services of the security system accessory.
func HubFactories(cfg Config, modes ModeToggler) []Factory[HubState] {
	return []Factory[HubState]{
		NewSecuritySystem(cfg, modes),
		NewBattery(),
		NewHubTemperature(),
	}
}

// SensorFactories are the services a sensor accessory may have.
func SensorFactories(cfg Config) []Factory[SensorState] {
	return []Factory[SensorState]{
		NewContactSensor(cfg),
		NewMotionSensor(),
		NewLeakSensor(),
		NewSmokeSensor(),
		NewCarbonMonoxideSensor(),
		NewHumiditySensor(),
		NewTemperatureSensor(),
	}
}
