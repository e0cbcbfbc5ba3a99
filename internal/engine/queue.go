package engine

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/focusguard/internal/broadcast"
	"git.home.luguber.info/inful/focusguard/internal/canonical"
	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/metrics"
	"git.home.luguber.info/inful/focusguard/internal/schema"
)

// observed is a raw value seen on the store change stream.
type observed struct {
	value   any
	present bool
}

// job is one unit of work for the worker.
type job struct {
	source string
	// payload is merged onto the current state.
	payload schema.Record
	// build computes the payload from the current state instead, when set. A nil
	// result is a no-op.
	build func(schema.State) schema.Record
	// stored holds the raw store values behind a reconciliation job. Keys whose
	// stored value differs from the resulting state are rewritten.
	stored map[string]observed
	// notify is broadcast after the job's delta, when set.
	notify broadcast.Event
	done   chan bool
}

func (j *job) resolve(ok bool) {
	if j.done != nil {
		j.done <- ok
	}
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for j := range e.jobs {
		e.recorder.SetQueueDepth(int(e.depth.Add(-1)))
		j.resolve(e.process(ctx, j))
	}
}

// process runs one job. It never panics.
func (e *Engine) process(ctx context.Context, j *job) (ok bool) {
	start := time.Now()
	result := metrics.ResultFailed
	defer func() {
		if r := recover(); r != nil {
			err := errors.InternalError(fmt.Sprintf("job panicked: %v", r)).Build()
			e.logger.Error("Update job failed", logfields.Action(j.source), logfields.Error(err))
			ok = false
			result = metrics.ResultFailed
		}
		e.recorder.ObserveUpdate(j.source, result, time.Since(start))
	}()

	// Hydration always ends READY, so this only waits.
	_ = e.Hydrate(ctx)

	e.mu.RLock()
	current := e.snapshot.Clone()
	e.mu.RUnlock()

	payload := j.payload
	if j.build != nil {
		payload = j.build(current)
	}
	next := schema.ComputeNextState(current, payload)
	delta := schema.Diff(current, next)

	writes := delta.Clone()
	for key, obs := range j.stored {
		v, _ := next.Get(key)
		if !obs.present || !canonical.Equal(obs.value, v) {
			writes[key] = v
		}
	}

	if len(writes) == 0 {
		result = metrics.ResultNoop
		e.emitNotify(ctx, j)
		return true
	}

	if err := e.persist(ctx, writes); err != nil {
		e.logger.Error("Failed to persist state delta",
			logfields.Action(j.source),
			logfields.Keys(writes.Keys()),
			logfields.Error(err))
		return false
	}

	if len(delta) == 0 {
		result = metrics.ResultNoop
		e.emitNotify(ctx, j)
		return true
	}

	e.mu.Lock()
	e.snapshot = next
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	e.logger.Debug("Applied state delta",
		logfields.Action(j.source),
		logfields.Keys(delta.Keys()),
		logfields.Seq(seq))

	e.broadcast(ctx, broadcast.StateUpdated{Delta: delta, Lifetime: e.lifetime, Seq: seq})
	e.emitNotify(ctx, j)
	result = metrics.ResultApplied
	return true
}

// persist writes values, registering them as own writes first so their echo on the
// change stream is recognized.
func (e *Engine) persist(ctx context.Context, values schema.Record) error {
	e.pending.Expect(values)
	pctx, cancel := context.WithTimeout(ctx, e.persistTimeout)
	defer cancel()
	if err := e.store.Set(pctx, values); err != nil {
		e.pending.Forget(values)
		return err
	}
	return nil
}

func (e *Engine) emitNotify(ctx context.Context, j *job) {
	if j.notify != nil {
		e.broadcast(ctx, j.notify)
	}
}

// broadcast delivers evt to every sink. Failures are logged and otherwise ignored.
func (e *Engine) broadcast(ctx context.Context, evt broadcast.Event) {
	if e.broadcaster == nil {
		return
	}
	if err := e.broadcaster.Broadcast(ctx, evt); err != nil {
		e.recorder.IncBroadcast(false)
		e.logger.Debug("Broadcast not delivered", logfields.Action(string(evt.Message().Action)), logfields.Error(err))
		return
	}
	e.recorder.IncBroadcast(true)
}
