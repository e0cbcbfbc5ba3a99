package engine

import (
	"context"

	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/metrics"
	"git.home.luguber.info/inful/focusguard/internal/schema"
	"git.home.luguber.info/inful/focusguard/internal/store"
)

// listen replays store changes made by other writers through the worker.
func (e *Engine) listen(ctx context.Context, changes <-chan []store.Change) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.quit:
			return
		case batch, ok := <-changes:
			if !ok {
				e.logger.Debug("Store change stream ended")
				return
			}
			e.reconcile(ctx, batch)
		}
	}
}

// reconcile turns one batch of changes into a reconciliation job. Echoes of this
// Engine's own writes and keys outside the schema are dropped, as is everything
// seen before READY.
func (e *Engine) reconcile(ctx context.Context, batch []store.Change) {
	defaults := schema.DefaultState()
	j := &job{
		source:  metrics.SourceReconcile,
		payload: schema.Record{},
		stored:  map[string]observed{},
	}
	for _, c := range batch {
		switch {
		case !schema.IsKey(c.Key):
			e.recorder.IncReconcile(metrics.ReconcileIgnored)
			continue
		case e.pending.Match(c.Key, c.NewValue, c.Removed):
			e.recorder.IncReconcile(metrics.ReconcileEcho)
			continue
		case e.Phase() != PhaseReady:
			e.recorder.IncReconcile(metrics.ReconcileIgnored)
			continue
		}
		e.recorder.IncReconcile(metrics.ReconcileQueued)
		if c.Removed {
			j.payload[c.Key], _ = defaults.Get(c.Key)
			j.stored[c.Key] = observed{}
			continue
		}
		j.payload[c.Key] = c.NewValue
		j.stored[c.Key] = observed{value: c.NewValue, present: true}
	}
	if len(j.payload) == 0 {
		return
	}
	e.logger.Debug("Reconciling external store write", logfields.Keys(j.payload.Keys()))
	e.submit(ctx, j, false)
}
