package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/focusguard/internal/canonical"
	"git.home.luguber.info/inful/focusguard/internal/metrics"
	"git.home.luguber.info/inful/focusguard/internal/schema"
)

func contextWithCancel(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)
	return ctx, cancel
}

func TestReconcile_ExternalWriteConverges(t *testing.T) {
	h := newHarness(t, schema.DefaultState().Record())

	raw := schema.Record{
		schema.KeyTask:          "  deep   work ",
		schema.KeyFlow:          true,
		schema.KeyBreakInterval: 1000.4,
		schema.KeyBlockedSites:  []any{"https://WWW.News.example/today", "news.example"},
	}
	require.NoError(t, h.store.Store.Set(t.Context(), raw))

	want := schema.ComputeNextState(schema.DefaultState(), raw)
	require.Eventually(t, func() bool {
		return h.snapshot(t).Equal(want)
	}, waitFor, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return canonical.Equal(h.stored(t), want.Record())
	}, waitFor, 10*time.Millisecond, "store is rewritten with sanitized values")

	updates := h.events.updates()
	require.Len(t, updates, 1)
	assert.True(t, canonical.Equal(updates[0].Delta, schema.Diff(schema.DefaultState(), want)))
	assert.Equal(t, int64(schema.MaxBreakMinutes), updates[0].Delta[schema.KeyBreakInterval])
}

func TestReconcile_InvariantViolatingWriteIsCorrected(t *testing.T) {
	h := newHarness(t, schema.DefaultState().Record())

	require.NoError(t, h.store.Store.Set(t.Context(), schema.Record{schema.KeyFlow: true}))

	require.Eventually(t, func() bool {
		return h.stored(t)[schema.KeyFlow] == false
	}, waitFor, 10*time.Millisecond, "flow without a task is written back as false")
	assert.False(t, h.snapshot(t).Flow)
	assert.Empty(t, h.events.updates(), "the snapshot never changed")
}

func TestReconcile_RemovedKeyRestoresDefault(t *testing.T) {
	h := newHarness(t, schema.DefaultState().Record())

	require.NoError(t, h.store.Store.Remove(t.Context(), []string{schema.KeyBreakInterval}))

	require.Eventually(t, func() bool {
		v, ok := h.stored(t)[schema.KeyBreakInterval]
		return ok && canonical.Equal(v, schema.DefaultBreakMinutes)
	}, waitFor, 10*time.Millisecond)
}

func TestReconcile_OwnWritesAreNotReplayed(t *testing.T) {
	h := newHarness(t, schema.DefaultState().Record())

	require.True(t, h.engine.Update(contextWithTimeout(t), schema.Record{schema.KeyTask: "mine"}))

	require.Eventually(t, func() bool {
		return h.recorder.Count(h.recorder.Reconciles, metrics.ReconcileEcho) >= 1
	}, waitFor, 10*time.Millisecond)
	assert.Zero(t, h.recorder.Count(h.recorder.Reconciles, metrics.ReconcileQueued))
	assert.Len(t, h.events.updates(), 1)
}

func TestReconcile_UnknownKeysAreIgnored(t *testing.T) {
	h := newHarness(t, schema.DefaultState().Record())

	require.NoError(t, h.store.Store.Set(t.Context(), schema.Record{"legacyTheme": "dark"}))

	require.Eventually(t, func() bool {
		return h.recorder.Count(h.recorder.Reconciles, metrics.ReconcileIgnored) >= 1
	}, waitFor, 10*time.Millisecond)
	assert.Empty(t, h.events.updates())
	assert.Contains(t, h.stored(t), "legacyTheme", "only hydration purges unknown keys")
}
