package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/focusguard/internal/engine"
	"git.home.luguber.info/inful/focusguard/internal/metrics"
	"git.home.luguber.info/inful/focusguard/internal/schema"
	"git.home.luguber.info/inful/focusguard/internal/store"
)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newEngine(t *testing.T, c *clock, seed schema.Record) *engine.Engine {
	t.Helper()
	st, err := store.NewMemoryStore(seed)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	eng := engine.New(st, engine.WithClock(c.Now))
	require.NoError(t, eng.Start(t.Context()))
	t.Cleanup(func() { _ = eng.Close() })
	require.NoError(t, eng.Ready(t.Context()))
	return eng
}

func TestCheckFlow(t *testing.T) {
	c := &clock{now: time.UnixMilli(1_000_000)}
	eng := newEngine(t, c, nil)
	rec := metrics.NewCapture()
	s, err := NewScheduler(eng, WithClock(c.Now), WithRecorder(rec))
	require.NoError(t, err)

	assert.False(t, s.CheckFlow(t.Context()), "no flow")

	require.True(t, eng.StartFlow(t.Context(), "write", 30*time.Minute))
	c.Advance(29 * time.Minute)
	assert.False(t, s.CheckFlow(t.Context()))

	c.Advance(time.Minute)
	assert.True(t, s.CheckFlow(t.Context()))
	state, err := eng.Snapshot(t.Context())
	require.NoError(t, err)
	assert.False(t, state.Flow)
	assert.Equal(t, 1, rec.Count(rec.TimerFires, JobFlowExpiry))

	require.True(t, eng.StartFlow(t.Context(), "untimed", 0))
	c.Advance(24 * time.Hour)
	assert.False(t, s.CheckFlow(t.Context()), "untimed flows never expire")
}

func TestCheckBreak(t *testing.T) {
	c := &clock{now: time.UnixMilli(10_000_000)}
	eng := newEngine(t, c, nil)
	s, err := NewScheduler(eng, WithClock(c.Now))
	require.NoError(t, err)

	assert.False(t, s.CheckBreak(t.Context()), "engine just started")

	c.Advance(time.Duration(schema.DefaultBreakMinutes) * time.Minute)
	assert.True(t, s.CheckBreak(t.Context()))
	state, err := eng.Snapshot(t.Context())
	require.NoError(t, err)
	require.NotNil(t, state.LastBreakAt)
	assert.Equal(t, c.Now().UnixMilli(), *state.LastBreakAt)

	assert.False(t, s.CheckBreak(t.Context()), "break just taken")

	require.True(t, eng.Update(t.Context(), schema.Record{schema.KeyBreakInterval: 5}))
	c.Advance(5 * time.Minute)
	assert.True(t, s.CheckBreak(t.Context()))

	require.True(t, eng.Update(t.Context(), schema.Record{schema.KeyBreakReminders: false}))
	c.Advance(time.Hour)
	assert.False(t, s.CheckBreak(t.Context()), "reminders off")
}

func TestCheckBreak_FutureLastBreakWaits(t *testing.T) {
	c := &clock{now: time.UnixMilli(10_000_000)}
	eng := newEngine(t, c, schema.Record{schema.KeyLastBreakAt: 99_000_000})
	s, err := NewScheduler(eng, WithClock(c.Now))
	require.NoError(t, err)

	c.Advance(2 * time.Hour)
	assert.False(t, s.CheckBreak(t.Context()))
}

func TestScheduler_RunsFlowExpiry(t *testing.T) {
	c := &clock{now: time.Now()}
	eng := newEngine(t, c, nil)
	s, err := NewScheduler(eng, WithClock(c.Now), WithIntervals(20*time.Millisecond, time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() { _ = s.Stop() })

	require.True(t, eng.StartFlow(t.Context(), "sprint", time.Minute))
	c.Advance(2 * time.Minute)

	require.Eventually(t, func() bool {
		state, err := eng.Snapshot(t.Context())
		return err == nil && !state.Flow
	}, 3*time.Second, 10*time.Millisecond)
}
