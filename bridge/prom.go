package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var securityStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "homekit_scout",
	Subsystem: "security_system",
	Name:      "current_state",
	Help:      "HomeKit current state of the security system",
})

var accessoriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "homekit_scout",
	Subsystem: "bridge",
	Name:      "accessories",
	Help:      "Accessories registered in the bridge",
})

var eventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "homekit_scout",
	Subsystem: "bridge",
	Name:      "events_total",
	Help:      "Live events applied to accessories",
}, []string{"type"})

var characteristicErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "homekit_scout",
	Subsystem: "bridge",
	Name:      "characteristic_errors_total",
	Help:      "Characteristic values that could not be computed",
})

var restartCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "homekit_scout",
	Subsystem: "bridge",
	Name:      "restarts_total",
	Help:      "HAP server restarts caused by accessory changes",
})
