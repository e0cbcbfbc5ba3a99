package engine

import (
	"context"
	"slices"
	"time"

	"git.home.luguber.info/inful/focusguard/internal/canonical"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/metrics"
	"git.home.luguber.info/inful/focusguard/internal/schema"
)

// Hydrate loads the persisted state once per Engine. Concurrent callers share the
// same load and its outcome. The load is detached from every caller's ctx and is
// bounded only by the persist timeout and Close; ctx limits the caller's own wait.
// A failed store read still ends READY, with default state. Hydrate returns an error
// only when ctx ends before READY.
func (e *Engine) Hydrate(ctx context.Context) error {
	e.hydrateOnce.Do(func() {
		e.phase.Store(int32(PhaseHydrating))
		go e.hydrate(context.WithoutCancel(ctx), e.quit)
	})
	return e.Ready(ctx)
}

// hydrate reads, sanitizes and self-heals the persisted record. abort cancels the
// store read when the Engine closes.
func (e *Engine) hydrate(ctx context.Context, abort <-chan struct{}) {
	start := time.Now()
	outcome := metrics.HydrationLoaded

	raw, err := e.readAll(ctx, abort)
	var state schema.State
	if err != nil {
		outcome = metrics.HydrationDefaults
		state = schema.Sanitize(nil)
		e.logger.Warn("Store unreadable during hydration; using defaults", logfields.Error(err))
	} else {
		state = schema.Sanitize(raw)
		if e.heal(ctx, raw, state) {
			outcome = metrics.HydrationCorrected
		}
	}

	d := time.Since(start)
	e.recorder.ObserveHydration(outcome, d)
	e.logger.Info("State hydrated",
		logfields.State(outcome),
		logfields.DurationMS(float64(d.Microseconds())/1000))

	e.mu.Lock()
	e.snapshot = state
	e.mu.Unlock()
	e.phase.Store(int32(PhaseReady))
	close(e.ready)
}

func (e *Engine) readAll(ctx context.Context, abort <-chan struct{}) (schema.Record, error) {
	rctx, cancel := context.WithTimeout(ctx, e.persistTimeout)
	defer cancel()
	go func() {
		select {
		case <-abort:
			cancel()
		case <-rctx.Done():
		}
	}()
	return e.store.GetAll(rctx)
}

// heal writes back every schema key whose stored value is missing or differs from
// its sanitized form, and removes keys outside the schema. It reports whether the
// store needed any change.
func (e *Engine) heal(ctx context.Context, raw schema.Record, state schema.State) bool {
	fixes := schema.Record{}
	for _, key := range schema.Keys() {
		v, _ := state.Get(key)
		stored, ok := raw[key]
		if !ok || !canonical.Equal(stored, v) {
			fixes[key] = v
		}
	}
	var stale []string
	for key := range raw {
		if !schema.IsKey(key) {
			stale = append(stale, key)
		}
	}
	slices.Sort(stale)

	if len(fixes) > 0 {
		if err := e.persist(ctx, fixes); err != nil {
			e.logger.Warn("Failed to write back corrected state", logfields.Keys(fixes.Keys()), logfields.Error(err))
		} else {
			e.logger.Debug("Corrected stored state", logfields.Keys(fixes.Keys()))
		}
	}
	if len(stale) > 0 {
		e.pending.ExpectRemoval(stale)
		rctx, cancel := context.WithTimeout(ctx, e.persistTimeout)
		err := e.store.Remove(rctx, stale)
		cancel()
		if err != nil {
			e.logger.Warn("Failed to purge unknown keys", logfields.Keys(stale), logfields.Error(err))
		} else {
			e.logger.Info("Purged unknown keys", logfields.Keys(stale))
		}
	}
	return len(fixes) > 0 || len(stale) > 0
}
