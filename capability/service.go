package capability

import (
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
)

// Service is a HAP service whose characteristics can be set by type.
type Service struct {
	*service.S
	cs map[string]*Characteristic
}

// NewService creates the service and every characteristic of spec.
func NewService(spec ServiceSpec) *Service {
	s := &Service{
		S:  service.New(spec.Type),
		cs: map[string]*Characteristic{},
	}
	for _, typ := range spec.Characteristics {
		newC, ok := characteristics[typ]
		if !ok {
			log.Warn("unsupported characteristic", "service", spec.Type, "characteristic", typ)
			continue
		}
		c := newC()
		s.AddC(c.C)
		s.cs[typ] = c
	}
	return s
}

// Characteristic returns the characteristic of the given type, or nil.
func (s *Service) Characteristic(typ string) *Characteristic {
	return s.cs[typ]
}

// Update sets every value that has a matching characteristic.
func (s *Service) Update(values Values) {
	for typ, v := range values {
		c, ok := s.cs[typ]
		if !ok {
			log.Debug("service has no such characteristic", "service", s.Type, "characteristic", typ)
			continue
		}
		c.Update(v)
	}
}

// Characteristic is a HAP characteristic with an untyped setter.
type Characteristic struct {
	*characteristic.C
	set func(v any)
	get func() any
}

// Update sets the value, ignoring values of the wrong type.
func (c *Characteristic) Update(v any) {
	c.set(v)
}

// Current returns the characteristic's value.
func (c *Characteristic) Current() any {
	return c.get()
}

// minTemperature is the lowest temperature HomeKit accepts.
const minTemperature = -270

var characteristics = map[string]func() *Characteristic{
	characteristic.TypeStatusFault: func() *Characteristic {
		return intC(characteristic.NewStatusFault().Int)
	},
	characteristic.TypeStatusTampered: func() *Characteristic {
		return intC(characteristic.NewStatusTampered().Int)
	},
	characteristic.TypeStatusLowBattery: func() *Characteristic {
		return intC(characteristic.NewStatusLowBattery().Int)
	},
	characteristic.TypeBatteryLevel: func() *Characteristic {
		return intC(characteristic.NewBatteryLevel().Int)
	},
	characteristic.TypeChargingState: func() *Characteristic {
		return intC(characteristic.NewChargingState().Int)
	},
	characteristic.TypeCurrentTemperature: func() *Characteristic {
		c := characteristic.NewCurrentTemperature()
		c.SetMinValue(minTemperature)
		return floatC(c.Float)
	},
	characteristic.TypeCurrentRelativeHumidity: func() *Characteristic {
		return floatC(characteristic.NewCurrentRelativeHumidity().Float)
	},
	characteristic.TypeContactSensorState: func() *Characteristic {
		return intC(characteristic.NewContactSensorState().Int)
	},
	characteristic.TypeMotionDetected: func() *Characteristic {
		return boolC(characteristic.NewMotionDetected().Bool)
	},
	characteristic.TypeLeakDetected: func() *Characteristic {
		return intC(characteristic.NewLeakDetected().Int)
	},
	characteristic.TypeSmokeDetected: func() *Characteristic {
		return intC(characteristic.NewSmokeDetected().Int)
	},
	characteristic.TypeCarbonMonoxideDetected: func() *Characteristic {
		return intC(characteristic.NewCarbonMonoxideDetected().Int)
	},
	characteristic.TypeSecuritySystemCurrentState: func() *Characteristic {
		return intC(characteristic.NewSecuritySystemCurrentState().Int)
	},
	characteristic.TypeSecuritySystemTargetState: func() *Characteristic {
		return intC(characteristic.NewSecuritySystemTargetState().Int)
	},
}

func intC(c *characteristic.Int) *Characteristic {
	return &Characteristic{
		C: c.C,
		set: func(v any) {
			if i, ok := toInt(v); ok && c.Value() != i {
				_ = c.SetValue(i)
			}
		},
		get: func() any { return c.Value() },
	}
}

func floatC(c *characteristic.Float) *Characteristic {
	return &Characteristic{
		C: c.C,
		set: func(v any) {
			if f, ok := v.(float64); ok && c.Value() != f {
				c.SetValue(f)
			}
		},
		get: func() any { return c.Value() },
	}
}

func boolC(c *characteristic.Bool) *Characteristic {
	return &Characteristic{
		C: c.C,
		set: func(v any) {
			if b, ok := v.(bool); ok && c.Value() != b {
				c.SetValue(b)
			}
		},
		get: func() any { return c.Value() },
	}
}

func toInt(v any) (int, bool) {
	switch i := v.(type) {
	case int:
		return i, true
	case int64:
		return int(i), true
	case uint8:
		return int(i), true
	case float64:
		return int(i), true
	default:
		return 0, false
	}
}
