package capability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commandErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "homekit_scout",
	Subsystem: "security_system",
	Name:      "command_errors_total",
	Help:      "Total of arm and disarm commands that failed",
})
