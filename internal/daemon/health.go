package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/focusguard/internal/engine"
	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/schema"
	"git.home.luguber.info/inful/focusguard/internal/version"
)

// HealthStatus represents the overall health of the daemon
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// storeProbeTimeout bounds the store health probe.
const storeProbeTimeout = time.Second

// HealthCheck represents a single health check
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
	LastChecked time.Time     `json:"last_checked"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status     HealthStatus  `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
	Uptime     string        `json:"uptime"`
	Version    string        `json:"version"`
	Phase      string        `json:"phase"`
	Lifetime   string        `json:"lifetime"`
	QueueDepth int           `json:"queue_depth"`
	Checks     []HealthCheck `json:"checks"`
}

// PerformHealthChecks executes all health checks and returns the overall status.
// A failing store makes the daemon unhealthy; every other failing check degrades it.
func (d *Daemon) PerformHealthChecks(ctx context.Context) *HealthResponse {
	checks := []HealthCheck{
		d.checkDaemonHealth(),
		d.checkEngineHealth(),
		d.checkQueueHealth(),
		d.checkStoreHealth(ctx),
		d.checkViewHealth(),
	}
	if d.conn != nil {
		checks = append(checks, d.checkNATSHealth())
	}

	overall := HealthStatusHealthy
	for _, c := range checks {
		switch {
		case c.Status == HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case c.Status == HealthStatusDegraded && overall == HealthStatusHealthy:
			overall = HealthStatusDegraded
		}
	}

	resp := &HealthResponse{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    time.Since(d.startTime).Round(time.Second).String(),
		Version:   version.Version,
		Checks:    checks,
	}
	if d.engine != nil {
		resp.Phase = d.engine.Phase().String()
		resp.Lifetime = d.engine.Lifetime()
		resp.QueueDepth = d.engine.QueueDepth()
	}
	return resp
}

func newCheck(name string, start time.Time) HealthCheck {
	return HealthCheck{Name: name, LastChecked: time.Now(), Duration: time.Since(start)}
}

// checkDaemonHealth verifies the daemon is in a healthy state
func (d *Daemon) checkDaemonHealth() HealthCheck {
	check := newCheck("daemon_status", time.Now())
	switch status := d.GetStatus(); status {
	case StatusRunning:
		check.Status = HealthStatusHealthy
		check.Message = "Daemon is running normally"
	case StatusStarting:
		check.Status = HealthStatusDegraded
		check.Message = "Daemon is still starting up"
	default:
		check.Status = HealthStatusUnhealthy
		check.Message = fmt.Sprintf("Daemon is %s", status)
	}
	return check
}

func (d *Daemon) checkEngineHealth() HealthCheck {
	check := newCheck("engine_hydration", time.Now())
	if d.engine == nil {
		check.Status = HealthStatusUnhealthy
		check.Message = "Engine not started"
		return check
	}
	if phase := d.engine.Phase(); phase != engine.PhaseReady {
		check.Status = HealthStatusDegraded
		check.Message = "Engine is " + phase.String()
		return check
	}
	check.Status = HealthStatusHealthy
	check.Message = "State hydrated"
	return check
}

func (d *Daemon) checkQueueHealth() HealthCheck {
	check := newCheck("update_queue", time.Now())
	check.Status = HealthStatusHealthy
	if d.engine == nil {
		return check
	}
	depth, capacity := d.engine.QueueDepth(), d.config.Engine.QueueSize
	check.Message = fmt.Sprintf("%d of %d queued", depth, capacity)
	if capacity > 0 && depth*5 >= capacity*4 {
		check.Status = HealthStatusDegraded
	}
	return check
}

func (d *Daemon) checkStoreHealth(ctx context.Context) HealthCheck {
	start := time.Now()
	if d.store == nil {
		check := newCheck("store", start)
		check.Status = HealthStatusUnhealthy
		check.Message = "Store not opened"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, storeProbeTimeout)
	defer cancel()
	_, err := d.store.Get(ctx, []string{schema.KeyEnabled})

	check := newCheck("store", start)
	if err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = err.Error()
		return check
	}
	check.Status = HealthStatusHealthy
	check.Message = fmt.Sprintf("%s store reachable", d.config.Store.Backend)
	return check
}

// checkViewHealth reports whether broadcasts reach the in-process state view.
func (d *Daemon) checkViewHealth() HealthCheck {
	check := newCheck("state_view", time.Now())
	if d.view == nil || !d.view.Synced() {
		check.Status = HealthStatusDegraded
		check.Message = "State view not synchronized"
		return check
	}
	_, _, seq := d.view.State()
	check.Status = HealthStatusHealthy
	check.Message = fmt.Sprintf("Following broadcasts at seq %d", seq)
	return check
}

func (d *Daemon) checkNATSHealth() HealthCheck {
	check := newCheck("nats", time.Now())
	status := d.conn.Status()
	check.Message = status.String()
	if status == nats.CONNECTED {
		check.Status = HealthStatusHealthy
	} else {
		check.Status = HealthStatusDegraded
	}
	return check
}

func (s *adminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.daemon.PerformHealthChecks(r.Context())

	code := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.daemon.logger.Warn("Encode health response failed", logfields.Error(err))
	}
}

// StateView is the admin state endpoint body.
type StateView struct {
	Synced   bool          `json:"synced"`
	Lifetime string        `json:"lifetime"`
	Seq      uint64        `json:"seq"`
	Resyncs  int           `json:"resyncs"`
	State    schema.Record `json:"state"`
}

// handleState serves the broadcast-fed copy of the state.
func (s *adminServer) handleState(w http.ResponseWriter, r *http.Request) {
	view := s.daemon.view
	if view == nil || !view.Synced() {
		s.errorAdapter.WriteErrorResponse(w, r, errors.DaemonError("state view not synchronized").Build())
		return
	}
	state, lifetime, seq := view.State()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(StateView{
		Synced:   true,
		Lifetime: lifetime,
		Seq:      seq,
		Resyncs:  view.Resyncs(),
		State:    state,
	}); err != nil {
		s.daemon.logger.Warn("Encode state view failed", logfields.Error(err))
	}
}

// handleReadiness reports ready once hydration has finished.
func (s *adminServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	eng := s.daemon.engine
	if eng == nil || eng.Phase() != engine.PhaseReady {
		s.errorAdapter.WriteErrorResponse(w, r, errors.DaemonError("not ready: state is still hydrating").Build())
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
