package scout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "homekit_scout",
	Subsystem: "client",
	Name:      "requests_total",
	Help:      "Requests made to the Scout API",
})

var requestErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "homekit_scout",
	Subsystem: "client",
	Name:      "request_errors_total",
	Help:      "Failed requests made to the Scout API",
})

var listenerEventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "homekit_scout",
	Subsystem: "listener",
	Name:      "events_total",
	Help:      "Realtime events received",
}, []string{"event"})

var listenerConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "homekit_scout",
	Subsystem: "listener",
	Name:      "connected",
	Help:      "Whether the realtime channel is connected",
})
