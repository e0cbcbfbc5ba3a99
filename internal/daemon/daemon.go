package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/focusguard/internal/broadcast"
	"git.home.luguber.info/inful/focusguard/internal/config"
	"git.home.luguber.info/inful/focusguard/internal/engine"
	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/messaging"
	"git.home.luguber.info/inful/focusguard/internal/metrics"
	"git.home.luguber.info/inful/focusguard/internal/mirror"
	"git.home.luguber.info/inful/focusguard/internal/retry"
	"git.home.luguber.info/inful/focusguard/internal/router"
	"git.home.luguber.info/inful/focusguard/internal/store"
	"git.home.luguber.info/inful/focusguard/internal/timer"
	"git.home.luguber.info/inful/focusguard/internal/version"
)

// Status represents the current state of the daemon
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Option customizes a Daemon.
type Option func(*Daemon)

// WithLogger sets the daemon logger. It is handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithStore injects a store instead of opening the configured backend. The daemon does
// not close an injected store.
func WithStore(s store.Store) Option {
	return func(d *Daemon) { d.injected = s }
}

// WithStoreRetry sets the backoff used while opening the store.
func WithStoreRetry(p retry.Policy) Option {
	return func(d *Daemon) { d.storeRetry = p }
}

// Daemon owns every component of a running focusguard process.
type Daemon struct {
	config    *config.Config
	logger    *slog.Logger
	status    atomic.Value // Status
	startTime time.Time
	stopChan  chan struct{}
	mu        sync.Mutex

	registry *prom.Registry
	recorder metrics.Recorder
	bus      *broadcast.Bus

	injected   store.Store
	storeRetry retry.Policy
	store      store.Store
	conn       *nats.Conn
	engine     *engine.Engine
	router     *router.Router
	rpc        *messaging.NATSServer
	view       *mirror.Mirror
	viewDone   chan struct{}
	scheduler  *timer.Scheduler
	admin      *adminServer
	cancelRun  context.CancelFunc
}

// New creates a stopped daemon for cfg.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.ConfigError("configuration is required").Build()
	}
	d := &Daemon{
		config:     cfg,
		logger:     slog.Default(),
		stopChan:   make(chan struct{}),
		bus:        broadcast.NewBus(),
		storeRetry: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.status.Store(StatusStopped)

	d.registry = metrics.NewRegistry()
	if cfg.Monitoring.Metrics.Enabled {
		d.recorder = metrics.NewPrometheusRecorder(d.registry)
	} else {
		d.recorder = metrics.NoopRecorder{}
	}
	return d, nil
}

// Start opens the store, starts every component and returns once they are running.
// Hydration continues in the background.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.GetStatus() != StatusStopped {
		return errors.DaemonError(fmt.Sprintf("daemon is not in stopped state: %s", d.GetStatus())).Build()
	}
	if !d.startTime.IsZero() {
		return errors.DaemonError("daemon cannot be restarted").Build()
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	d.logger.Info("Starting focusguard daemon", slog.String("version", version.Version))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancelRun = cancel

	if err := d.startComponents(ctx, runCtx); err != nil {
		d.status.Store(StatusError)
		d.shutdown(context.WithoutCancel(ctx))
		return err
	}

	d.status.Store(StatusRunning)
	d.logger.Info("focusguard daemon started",
		logfields.Store(string(d.config.Store.Backend)),
		logfields.Lifetime(d.engine.Lifetime()),
		slog.Bool("nats", d.conn != nil),
		slog.String("admin_addr", d.AdminAddr()))
	return nil
}

func (d *Daemon) startComponents(ctx, runCtx context.Context) error {
	if d.config.NATS.URL != "" {
		conn, err := connectNATS(d.config.NATS.URL, d.logger)
		if err != nil {
			return err
		}
		d.conn = conn
	}

	st, err := d.openStore(ctx)
	if err != nil {
		return err
	}
	d.store = st

	sinks := []broadcast.Sink{broadcast.BusSink{Bus: d.bus}}
	subjects := messaging.Subjects{Prefix: d.config.NATS.SubjectPrefix}
	if d.conn != nil {
		sinks = append(sinks, broadcast.NATSPublisher{Conn: d.conn, Subject: subjects.Events()})
	}

	d.engine = engine.New(st,
		engine.WithLogger(d.logger),
		engine.WithRecorder(d.recorder),
		engine.WithBroadcaster(broadcast.New(d.config.Messaging.BroadcastTimeout, sinks...)),
		engine.WithQueueSize(d.config.Engine.QueueSize),
		engine.WithPersistTimeout(d.config.Engine.PersistTimeout),
	)
	if err := d.engine.Start(runCtx); err != nil {
		return err
	}
	registerDaemonCollectors(d.registry, d)

	d.router = router.New(d.engine, router.WithLogger(d.logger), router.WithRecorder(d.recorder))
	d.view = mirror.New(
		messaging.NewLoopback(d.router, messaging.Trusted, d.config.Messaging.RequestTimeout),
		broadcast.BusSource{Bus: d.bus},
		messaging.Trusted,
		mirror.WithLogger(d.logger.With(slog.String("component", "admin_view"))),
	)
	d.viewDone = make(chan struct{})
	go d.followBroadcasts(runCtx)
	if d.conn != nil {
		d.rpc = messaging.NewNATSServer(d.conn, subjects, d.router, d.logger)
		if err := d.rpc.Start(runCtx); err != nil {
			return err
		}
	}

	d.scheduler, err = timer.NewScheduler(d.engine,
		timer.WithIntervals(d.config.Timers.FlowCheckInterval, d.config.Timers.BreakCheckInterval),
		timer.WithLogger(d.logger),
		timer.WithRecorder(d.recorder),
	)
	if err != nil {
		return err
	}
	if err := d.scheduler.Start(runCtx); err != nil {
		return err
	}

	if d.config.Monitoring.AdminAddr != "" {
		d.admin = newAdminServer(d)
		if err := d.admin.Start(d.config.Monitoring.AdminAddr); err != nil {
			return err
		}
	}
	return nil
}

// followBroadcasts keeps the admin view of the state current from the in-process bus
// once hydration has finished.
func (d *Daemon) followBroadcasts(ctx context.Context) {
	defer close(d.viewDone)
	if err := d.engine.Ready(ctx); err != nil {
		return
	}
	if err := d.view.Run(ctx); err != nil {
		d.logger.Warn("Admin state view stopped", logfields.Error(err))
	}
}

// Run starts the daemon and blocks until ctx is done or Stop is called.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-d.stopChan:
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return d.Stop(stopCtx)
}

// Stop gracefully shuts down the daemon
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	currentStatus := d.GetStatus()
	if currentStatus == StatusStopped || currentStatus == StatusStopping {
		return nil
	}
	d.status.Store(StatusStopping)
	d.logger.Info("Stopping focusguard daemon")

	d.shutdown(ctx)

	d.status.Store(StatusStopped)
	d.logger.Info("focusguard daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return nil
}

// shutdown stops components in reverse start order. Missing components are skipped.
func (d *Daemon) shutdown(ctx context.Context) {
	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}

	if d.admin != nil {
		if err := d.admin.Stop(ctx); err != nil {
			d.logger.Error("Failed to stop admin server", logfields.Error(err))
		}
	}
	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil {
			d.logger.Error("Failed to stop scheduler", logfields.Error(err))
		}
	}
	if d.rpc != nil {
		if err := d.rpc.Stop(); err != nil {
			d.logger.Error("Failed to stop request server", logfields.Error(err))
		}
	}
	if d.engine != nil {
		if err := d.engine.Close(); err != nil {
			d.logger.Error("Failed to close engine", logfields.Error(err))
		}
	}
	if d.cancelRun != nil {
		d.cancelRun()
	}
	d.bus.Close()
	if d.viewDone != nil {
		<-d.viewDone
	}
	if d.store != nil && d.store != d.injected {
		if err := d.store.Close(); err != nil {
			d.logger.Error("Failed to close store", logfields.Error(err))
		}
	}
	if d.conn != nil {
		if err := d.conn.Drain(); err != nil {
			d.conn.Close()
		}
	}
}

// GetStatus returns the current daemon status
func (d *Daemon) GetStatus() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}

// GetStartTime returns when the daemon last started.
func (d *Daemon) GetStartTime() time.Time { return d.startTime }

// Engine returns the running engine, or nil before Start.
func (d *Daemon) Engine() *engine.Engine { return d.engine }

// Handler returns the request router, or nil before Start.
func (d *Daemon) Handler() messaging.Handler {
	if d.router == nil {
		return nil
	}
	return d.router
}

// View returns the broadcast-fed copy of the state served on the admin state endpoint,
// or nil before Start.
func (d *Daemon) View() *mirror.Mirror { return d.view }

// Bus returns the in-process broadcast bus.
func (d *Daemon) Bus() *broadcast.Bus { return d.bus }

// AdminAddr returns the bound admin address, or "" when the admin server is disabled.
func (d *Daemon) AdminAddr() string {
	if d.admin == nil {
		return ""
	}
	return d.admin.Addr()
}
