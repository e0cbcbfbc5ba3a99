package daemon

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/focusguard/internal/engine"
)

// registerDaemonCollectors exports scrape-time gauges read from the running daemon.
func registerDaemonCollectors(reg *prom.Registry, d *Daemon) {
	ready := prom.NewGaugeFunc(prom.GaugeOpts{
		Namespace: "focusguard",
		Name:      "engine_ready",
		Help:      "1 once state hydration has finished",
	}, func() float64 {
		if d.engine != nil && d.engine.Phase() == engine.PhaseReady {
			return 1
		}
		return 0
	})
	uptime := prom.NewGaugeFunc(prom.GaugeOpts{
		Namespace: "focusguard",
		Name:      "daemon_uptime_seconds",
		Help:      "Seconds since the daemon started",
	}, func() float64 {
		return time.Since(d.startTime).Seconds()
	})
	reg.MustRegister(ready, uptime)
}
