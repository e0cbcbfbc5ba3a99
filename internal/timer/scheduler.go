// Package timer runs the periodic jobs of the daemon: ending flow sessions whose
// timer has run out and reminding the user to take breaks.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/metrics"
	"git.home.luguber.info/inful/focusguard/internal/schema"
)

// Job names, as they appear in logs and metrics.
const (
	JobFlowExpiry    = "flow-expiry"
	JobBreakReminder = "break-reminder"
)

// Defaults for the check intervals.
const (
	DefaultFlowCheckInterval  = 5 * time.Second
	DefaultBreakCheckInterval = 30 * time.Second
)

// Engine is the part of engine.Engine the scheduler drives.
type Engine interface {
	Snapshot(ctx context.Context) (schema.State, error)
	EndFlowIfExpired(ctx context.Context, now time.Time) bool
	RemindBreak(ctx context.Context, at time.Time) bool
	CreatedAt() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithIntervals sets how often each check runs. Zero keeps the default.
func WithIntervals(flow, breaks time.Duration) Option {
	return func(s *Scheduler) {
		if flow > 0 {
			s.flowEvery = flow
		}
		if breaks > 0 {
			s.breakEvery = breaks
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler wraps a gocron scheduler running the timer checks.
type Scheduler struct {
	scheduler  gocron.Scheduler
	engine     Engine
	logger     *slog.Logger
	recorder   metrics.Recorder
	now        func() time.Time
	flowEvery  time.Duration
	breakEvery time.Duration
	cancel     context.CancelFunc
}

// NewScheduler creates a scheduler for eng. Nothing runs until Start.
func NewScheduler(eng Engine, opts ...Option) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.RuntimeError("create scheduler").WithCause(err).Build()
	}
	s := &Scheduler{
		scheduler:  gs,
		engine:     eng,
		logger:     slog.Default(),
		recorder:   metrics.NoopRecorder{},
		now:        time.Now,
		flowEvery:  DefaultFlowCheckInterval,
		breakEvery: DefaultBreakCheckInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start registers both checks and starts the scheduler. Checks run with a context
// derived from ctx that ends at Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	checks := []struct {
		name  string
		every time.Duration
		run   func(context.Context) bool
	}{
		{JobFlowExpiry, s.flowEvery, s.CheckFlow},
		{JobBreakReminder, s.breakEvery, s.CheckBreak},
	}
	for _, c := range checks {
		run := c.run
		if _, err := s.scheduler.NewJob(
			gocron.DurationJob(c.every),
			gocron.NewTask(func() { run(runCtx) }),
			gocron.WithName(c.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			cancel()
			return errors.RuntimeError(fmt.Sprintf("schedule %s", c.name)).WithCause(err).Build()
		}
	}

	s.logger.Info("Starting timers",
		slog.Duration("flow_check", s.flowEvery),
		slog.Duration("break_check", s.breakEvery))
	s.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down and waits for running checks.
func (s *Scheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.scheduler.Shutdown(); err != nil {
		return errors.RuntimeError("stop scheduler").WithCause(err).Build()
	}
	return nil
}

// CheckFlow ends the flow session when its timer has run out. It reports whether it
// asked the engine to end the flow.
func (s *Scheduler) CheckFlow(ctx context.Context) bool {
	state, err := s.engine.Snapshot(ctx)
	if err != nil {
		return false
	}
	now := s.now()
	if !state.Flow || state.TimerEnd == nil || *state.TimerEnd > now.UnixMilli() {
		return false
	}
	if !s.engine.EndFlowIfExpired(ctx, now) {
		s.logger.Warn("Failed to end expired flow", logfields.Job(JobFlowExpiry))
		return false
	}
	s.recorder.IncTimerFire(JobFlowExpiry)
	s.logger.Info("Flow timer expired", logfields.Job(JobFlowExpiry))
	return true
}

// CheckBreak sends a break reminder when reminders are on and a full break interval
// has passed since the last break, or since the engine started when no break was
// recorded. A last break in the future is treated as clock skew and waits.
func (s *Scheduler) CheckBreak(ctx context.Context) bool {
	state, err := s.engine.Snapshot(ctx)
	if err != nil {
		return false
	}
	if !state.Enabled || !state.BreakReminders {
		return false
	}
	now := s.now()
	interval := time.Duration(state.BreakInterval) * time.Minute
	since := s.engine.CreatedAt()
	if state.LastBreakAt != nil {
		since = time.UnixMilli(*state.LastBreakAt)
	}
	if since.After(now) || now.Sub(since) < interval {
		return false
	}
	if !s.engine.RemindBreak(ctx, now) {
		s.logger.Warn("Failed to record break reminder", logfields.Job(JobBreakReminder))
		return false
	}
	s.recorder.IncTimerFire(JobBreakReminder)
	s.logger.Info("Break reminder sent", logfields.Job(JobBreakReminder))
	return true
}
