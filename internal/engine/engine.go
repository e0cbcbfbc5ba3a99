package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/focusguard/internal/broadcast"
	"git.home.luguber.info/inful/focusguard/internal/canonical"
	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/metrics"
	"git.home.luguber.info/inful/focusguard/internal/schema"
	"git.home.luguber.info/inful/focusguard/internal/store"
)

// Phase is the hydration state of an Engine.
type Phase int32

const (
	PhaseUninitialized Phase = iota
	PhaseHydrating
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseHydrating:
		return "hydrating"
	case PhaseReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// ErrEngineClosed is returned by operations on a closed Engine.
var ErrEngineClosed = errors.RuntimeError("engine closed").Build()

// Engine serializes every read-modify-write of the state snapshot.
type Engine struct {
	store          store.Store
	logger         *slog.Logger
	recorder       metrics.Recorder
	broadcaster    *broadcast.Broadcaster
	pending        *canonical.Pending
	queueSize      int
	persistTimeout time.Duration
	now            func() time.Time

	lifetime  string
	createdAt time.Time

	phase       atomic.Int32
	hydrateOnce sync.Once
	ready       chan struct{}

	mu       sync.RWMutex
	snapshot schema.State
	seq      uint64

	// sendMu guards closed and the close of jobs against concurrent senders.
	sendMu    sync.RWMutex
	closed    bool
	quit      chan struct{}
	closeOnce sync.Once
	jobs      chan *job
	depth     atomic.Int64
	started   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an Engine over st. Call Start to run the worker.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		logger:         slog.Default(),
		recorder:       metrics.NoopRecorder{},
		pending:        canonical.NewPending(),
		queueSize:      DefaultQueueSize,
		persistTimeout: DefaultPersistTimeout,
		now:            time.Now,
		lifetime:       uuid.NewString(),
		ready:          make(chan struct{}),
		quit:           make(chan struct{}),
		snapshot:       schema.DefaultState(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.createdAt = e.now()
	e.jobs = make(chan *job, e.queueSize)
	e.logger = e.logger.With(logfields.Lifetime(e.lifetime))
	return e
}

// Lifetime identifies this Engine instance in broadcasts and responses.
func (e *Engine) Lifetime() string { return e.lifetime }

// CreatedAt is when the Engine was constructed.
func (e *Engine) CreatedAt() time.Time { return e.createdAt }

// Phase reports the hydration state.
func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

// QueueDepth reports the number of jobs waiting for the worker.
func (e *Engine) QueueDepth() int { return int(e.depth.Load()) }

// Start begins hydration, the worker and the reconciliation listener. The worker
// keeps running until Close, so queued jobs are never abandoned when ctx ends.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.RuntimeError("engine already started").Build()
	}
	e.sendMu.RLock()
	closed := e.closed
	e.sendMu.RUnlock()
	if closed {
		return ErrEngineClosed
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel

	changes, err := e.store.Watch(runCtx)
	if err != nil {
		e.logger.Warn("Store change stream unavailable; external writes will not be reconciled", logfields.Error(err))
	} else {
		e.wg.Add(1)
		go e.listen(runCtx, changes)
	}

	e.wg.Add(1)
	go e.worker(runCtx)

	go e.Hydrate(ctx) //nolint:errcheck // hydration always ends READY
	return nil
}

// Close stops accepting jobs, waits for queued jobs to finish and stops the
// reconciliation listener. The store is not closed.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.quit) })
	e.sendMu.Lock()
	if e.closed {
		e.sendMu.Unlock()
		return nil
	}
	e.closed = true
	close(e.jobs)
	e.sendMu.Unlock()

	if !e.started.Load() {
		e.failQueued()
		return nil
	}
	e.wg.Wait()
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

func (e *Engine) failQueued() {
	for j := range e.jobs {
		j.resolve(false)
	}
}

// Ready waits for hydration to finish. It does not start hydration.
func (e *Engine) Ready(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot waits for hydration and returns a copy of the current state.
func (e *Engine) Snapshot(ctx context.Context) (schema.State, error) {
	s, _, err := e.SnapshotSeq(ctx)
	return s, err
}

// SnapshotSeq is Snapshot plus the sequence number of the last broadcast delta the
// snapshot includes.
func (e *Engine) SnapshotSeq(ctx context.Context) (schema.State, uint64, error) {
	if err := e.Hydrate(ctx); err != nil {
		return schema.State{}, 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot.Clone(), e.seq, nil
}

// Update applies payload through the worker and reports whether it was applied or
// was a no-op. It returns false when persisting failed, when ctx ended before the
// job was queued, or when ctx ended while waiting. A queued job always runs.
func (e *Engine) Update(ctx context.Context, payload schema.Record) bool {
	return e.submit(ctx, &job{source: metrics.SourceUpdate, payload: payload.Clone()}, true)
}

// StartFlow starts a flow session for task. A zero interval starts an untimed flow.
func (e *Engine) StartFlow(ctx context.Context, task string, interval time.Duration) bool {
	payload := schema.Record{
		schema.KeyTask:          task,
		schema.KeyFlow:          true,
		schema.KeyTimerStart:    nil,
		schema.KeyTimerInterval: nil,
		schema.KeyTimerEnd:      nil,
	}
	if interval > 0 {
		start := e.now().UnixMilli()
		payload[schema.KeyTimerStart] = start
		payload[schema.KeyTimerInterval] = interval.Milliseconds()
		// Enforce derives the end from the clamped interval.
		payload[schema.KeyTimerEnd] = start + interval.Milliseconds()
	}
	return e.submit(ctx, &job{source: metrics.SourceInternal, payload: payload}, true)
}

// EndFlow ends the current flow session. Timers are cleared with it.
func (e *Engine) EndFlow(ctx context.Context) bool {
	return e.submit(ctx, &job{source: metrics.SourceInternal, payload: schema.Record{schema.KeyFlow: false}}, true)
}

// EndFlowIfExpired ends the flow when its timer end is at or before now. The check
// runs inside the worker, so a flow restarted in the meantime is left alone.
func (e *Engine) EndFlowIfExpired(ctx context.Context, now time.Time) bool {
	return e.submit(ctx, &job{
		source: metrics.SourceInternal,
		build: func(s schema.State) schema.Record {
			if !s.Flow || s.TimerEnd == nil || *s.TimerEnd > now.UnixMilli() {
				return nil
			}
			return schema.Record{schema.KeyFlow: false}
		},
	}, true)
}

// MarkBreak records at as the time of the last break.
func (e *Engine) MarkBreak(ctx context.Context, at time.Time) bool {
	return e.submit(ctx, &job{
		source:  metrics.SourceInternal,
		payload: schema.Record{schema.KeyLastBreakAt: at.UnixMilli()},
	}, true)
}

// RemindBreak records at as the last break and broadcasts a break reminder after
// the resulting delta.
func (e *Engine) RemindBreak(ctx context.Context, at time.Time) bool {
	return e.submit(ctx, &job{
		source:  metrics.SourceInternal,
		payload: schema.Record{schema.KeyLastBreakAt: at.UnixMilli()},
		notify:  broadcast.BreakReminder{At: at, Lifetime: e.lifetime},
	}, true)
}

// submit queues j and, when wait is set, waits for its result.
func (e *Engine) submit(ctx context.Context, j *job, wait bool) bool {
	j.done = make(chan bool, 1)

	if ctx.Err() != nil {
		return false
	}
	e.sendMu.RLock()
	if e.closed {
		e.sendMu.RUnlock()
		e.logger.Debug("Rejecting job on closed engine", logfields.Action(j.source))
		return false
	}
	e.recorder.SetQueueDepth(int(e.depth.Add(1)))
	select {
	case e.jobs <- j:
		e.sendMu.RUnlock()
	case <-ctx.Done():
		e.sendMu.RUnlock()
		e.recorder.SetQueueDepth(int(e.depth.Add(-1)))
		return false
	case <-e.quit:
		e.sendMu.RUnlock()
		e.recorder.SetQueueDepth(int(e.depth.Add(-1)))
		return false
	}

	if !wait {
		return true
	}
	select {
	case ok := <-j.done:
		return ok
	case <-ctx.Done():
		return false
	}
}
