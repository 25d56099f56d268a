package main

import (
	_ "embed"
	"html/template"
	"net/http"
	"sort"

	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/caarlos0/homekit-scout"
	"github.com/caarlos0/homekit-scout/bridge"
	"github.com/caarlos0/homekit-scout/capability"
)

//go:embed index.html
var index []byte

var tpl = template.Must(template.New("index").Parse(string(index)))

var securityStates = map[int]string{
	characteristic.SecuritySystemCurrentStateStayArm:        "Stay",
	characteristic.SecuritySystemCurrentStateAwayArm:        "Away",
	characteristic.SecuritySystemCurrentStateNightArm:       "Night",
	characteristic.SecuritySystemCurrentStateDisarmed:       "Disarmed",
	characteristic.SecuritySystemCurrentStateAlarmTriggered: "Alarm Triggered",
}

var serviceNames = map[string]string{
	service.TypeSecuritySystem:       "Security System",
	service.TypeBatteryService:       "Battery",
	service.TypeTemperatureSensor:    "Temperature",
	service.TypeHumiditySensor:       "Humidity",
	service.TypeContactSensor:        "Contact",
	service.TypeMotionSensor:         "Motion",
	service.TypeLeakSensor:           "Leak",
	service.TypeSmokeSensor:          "Smoke",
	service.TypeCarbonMonoxideSensor: "Carbon Monoxide",
}

type PageItem struct {
	Number     int
	Name       string
	Set        string
	Services   []string
	Fault      bool
	Tamper     bool
	LowBattery bool
}

type statusPage struct {
	platform *bridge.Platform
	listener *scout.Listener
	err      error
}

func (p *statusPage) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	state := "Unknown"
	var items []PageItem
	for i, a := range p.platform.Accessories() {
		item := PageItem{
			Number: i + 1,
			Name:   a.Name(),
			Set:    a.Set,
		}
		for typ, svc := range a.Services() {
			if typ == service.TypeSecuritySystem {
				if c := svc.Characteristic(characteristic.TypeSecuritySystemCurrentState); c != nil {
					if s, ok := securityStates[asInt(c.Current())]; ok {
						state = s
					}
				}
			}
			if name, ok := serviceNames[typ]; ok {
				item.Services = append(item.Services, name)
			}
			item.Fault = item.Fault || flagged(svc.Characteristic(characteristic.TypeStatusFault))
			item.Tamper = item.Tamper || flagged(svc.Characteristic(characteristic.TypeStatusTampered))
			item.LowBattery = item.LowBattery || flagged(svc.Characteristic(characteristic.TypeStatusLowBattery))
		}
		sort.Strings(item.Services)
		items = append(items, item)
	}

	var errMsg string
	if p.err != nil {
		errMsg = p.err.Error()
	}

	_ = tpl.Execute(w, struct {
		State       string
		Connection  string
		Error       string
		Accessories []PageItem
	}{
		State:       state,
		Connection:  string(p.listener.State()),
		Error:       errMsg,
		Accessories: items,
	})
}

func flagged(c *capability.Characteristic) bool {
	return c != nil && asInt(c.Current()) == 1
}

func asInt(v any) int {
	switch v := v.(type) {
	case int:
		return v
	case uint8:
		return int(v)
	default:
		return -1
	}
}
