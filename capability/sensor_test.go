package capability

import (
	"encoding/json"
	"testing"

	"github.com/brutella/hap/characteristic"
	"github.com/caarlos0/homekit-scout"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func sensorContext(device scout.Device) *Context[SensorState] {
	return &Context[SensorState]{
		LocationID:  "loc-1",
		IsConnected: true,
		Custom:      SensorState{Device: device},
	}
}

func triggered(typ scout.DeviceType, state string) scout.Device {
	return scout.Device{
		ID:   "d1",
		Type: typ,
		Reported: &scout.DeviceReported{
			Trigger: &scout.Trigger{State: json.RawMessage(state)},
		},
	}
}

func TestContactSensor(t *testing.T) {
	for _, tt := range []struct {
		name    string
		reverse bool
		event   scout.DeviceEvent
		state   string
		want    int
	}{
		{"open", false, "", `"open"`, characteristic.ContactSensorStateContactNotDetected},
		{"close", false, "", `"close"`, characteristic.ContactSensorStateContactDetected},
		{"reversed event open", true, scout.DeviceEventTriggered, `"open"`, characteristic.ContactSensorStateContactDetected},
		{"reversed event close", true, scout.DeviceEventTriggered, `"close"`, characteristic.ContactSensorStateContactNotDetected},
		{"reverse ignores fetched devices", true, "", `"open"`, characteristic.ContactSensorStateContactNotDetected},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := NewContactSensor(Config{ReverseSensorState: tt.reverse})
			device := triggered(scout.DeviceTypeAccessSensor, tt.state)
			device.Event = tt.event
			values, err := f.Characteristics(sensorContext(device))
			require.NoError(t, err)
			require.Equal(t, tt.want, values[characteristic.TypeContactSensorState])
		})
	}

	t.Run("applies to", func(t *testing.T) {
		f := NewContactSensor(Config{})
		for typ, want := range map[scout.DeviceType]bool{
			scout.DeviceTypeAccessSensor: true,
			scout.DeviceTypeDoorPanel:    true,
			scout.DeviceTypeMotionSensor: false,
			scout.DeviceTypeSmokeAlarm:   false,
		} {
			ok, err := f.AppliesTo(sensorContext(triggered(typ, `"close"`)))
			require.NoError(t, err)
			require.Equal(t, want, ok, typ)
		}
	})

	t.Run("no state yet", func(t *testing.T) {
		f := NewContactSensor(Config{})
		for _, device := range []scout.Device{
			{ID: "d1", Type: scout.DeviceTypeAccessSensor},
			triggered(scout.DeviceTypeDoorPanel, `"start"`),
			triggered(scout.DeviceTypeDoorPanel, `null`),
		} {
			ok, err := f.AppliesTo(sensorContext(device))
			require.NoError(t, err)
			require.False(t, ok)
		}
	})
}

func TestMotionSensor(t *testing.T) {
	f := NewMotionSensor()
	values, err := f.Characteristics(sensorContext(triggered(scout.DeviceTypeMotionSensor, `"start"`)))
	require.NoError(t, err)
	require.Equal(t, true, values[characteristic.TypeMotionDetected])

	values, err = f.Characteristics(sensorContext(triggered(scout.DeviceTypeMotionSensor, `"stop"`)))
	require.NoError(t, err)
	require.Equal(t, false, values[characteristic.TypeMotionDetected])

	values, err = f.Characteristics(sensorContext(scout.Device{Type: scout.DeviceTypeMotionSensor}))
	require.NoError(t, err)
	require.NotContains(t, values, characteristic.TypeMotionDetected)
}

func TestLeakSensor(t *testing.T) {
	f := NewLeakSensor()
	values, err := f.Characteristics(sensorContext(triggered(scout.DeviceTypeWaterSensor, `"wet"`)))
	require.NoError(t, err)
	require.Equal(t, leakDetected, values[characteristic.TypeLeakDetected])

	values, err = f.Characteristics(sensorContext(triggered(scout.DeviceTypeWaterSensor, `"dry"`)))
	require.NoError(t, err)
	require.Equal(t, leakNotDetected, values[characteristic.TypeLeakDetected])
}

func TestSmokeAlarm(t *testing.T) {
	smoke := NewSmokeSensor()
	co := NewCarbonMonoxideSensor()

	for _, tt := range []struct {
		state string
		smoke int
		co    int
	}{
		{`{"smoke":"ok","co":"ok"}`, smokeNotDetected, coNormal},
		{`{"smoke":"testing","co":"testing"}`, smokeNotDetected, coAbnormal},
		{`{"smoke":"emergency","co":"ok"}`, smokeDetected, coNormal},
		{`{"smoke":"ok","co":"emergency"}`, smokeNotDetected, coAbnormal},
	} {
		t.Run(tt.state, func(t *testing.T) {
			ctx := sensorContext(triggered(scout.DeviceTypeSmokeAlarm, tt.state))

			ok, err := smoke.AppliesTo(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			values, err := smoke.Characteristics(ctx)
			require.NoError(t, err)
			require.Equal(t, tt.smoke, values[characteristic.TypeSmokeDetected])

			ok, err = co.AppliesTo(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			values, err = co.Characteristics(ctx)
			require.NoError(t, err)
			require.Equal(t, tt.co, values[characteristic.TypeCarbonMonoxideDetected])
		})
	}
}

func TestClimateSensors(t *testing.T) {
	device := scout.Device{
		Type: scout.DeviceTypeSmokeAlarm,
		Reported: &scout.DeviceReported{
			Temperature: &scout.DeviceTemperature{Degrees: 22.5},
			Humidity:    &scout.DeviceHumidity{Percent: 41},
		},
	}

	t.Run("humidity", func(t *testing.T) {
		f := NewHumiditySensor()
		ok, err := f.AppliesTo(sensorContext(device))
		require.NoError(t, err)
		require.True(t, ok)
		values, err := f.Characteristics(sensorContext(device))
		require.NoError(t, err)
		require.Equal(t, 41.0, values[characteristic.TypeCurrentRelativeHumidity])
	})

	t.Run("no temperature on smoke alarms", func(t *testing.T) {
		ok, err := NewTemperatureSensor().AppliesTo(sensorContext(device))
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("temperature", func(t *testing.T) {
		device := device
		device.Type = scout.DeviceTypeMotionSensor
		f := NewTemperatureSensor()
		ok, err := f.AppliesTo(sensorContext(device))
		require.NoError(t, err)
		require.True(t, ok)
		values, err := f.Characteristics(sensorContext(device))
		require.NoError(t, err)
		require.Equal(t, 22.5, values[characteristic.TypeCurrentTemperature])
	})
}

func TestSensorStatus(t *testing.T) {
	t.Run("all good", func(t *testing.T) {
		values := sensorStatus(sensorContext(scout.Device{
			Reported: &scout.DeviceReported{
				Battery: &scout.DeviceBattery{Low: false},
				Trigger: &scout.Trigger{Tamper: boolPtr(false)},
			},
		}))
		require.Equal(t, Values{
			characteristic.TypeStatusTampered:   notTampered,
			characteristic.TypeStatusLowBattery: batteryNormal,
			characteristic.TypeStatusFault:      faultNone,
		}, values)
	})

	t.Run("tampered and low battery", func(t *testing.T) {
		values := sensorStatus(sensorContext(scout.Device{
			Reported: &scout.DeviceReported{
				Battery: &scout.DeviceBattery{Low: true},
				Trigger: &scout.Trigger{Tamper: boolPtr(true)},
			},
		}))
		require.Equal(t, tampered, values[characteristic.TypeStatusTampered])
		require.Equal(t, batteryLow, values[characteristic.TypeStatusLowBattery])
	})

	t.Run("timed out", func(t *testing.T) {
		values := sensorStatus(sensorContext(scout.Device{
			Reported: &scout.DeviceReported{
				TimedOut: true,
				Battery:  &scout.DeviceBattery{Low: true},
			},
		}))
		require.Equal(t, faultGeneral, values[characteristic.TypeStatusFault])
		require.NotContains(t, values, characteristic.TypeStatusLowBattery)
		require.NotContains(t, values, characteristic.TypeStatusTampered)
	})

	t.Run("disconnected", func(t *testing.T) {
		ctx := sensorContext(scout.Device{})
		ctx.IsConnected = false
		require.Equal(t, Values{characteristic.TypeStatusFault: faultGeneral}, sensorStatus(ctx))
	})
}
