package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/focusguard/internal/broadcast"
	"git.home.luguber.info/inful/focusguard/internal/metrics"
	"git.home.luguber.info/inful/focusguard/internal/schema"
	"git.home.luguber.info/inful/focusguard/internal/store"
)

const waitFor = 3 * time.Second

var errInjected = errors.New("injected store failure")

// faultStore wraps a Store with counters, delays and failures.
type faultStore struct {
	store.Store

	getAllCalls atomic.Int32
	setCalls    atomic.Int32
	getAllDelay time.Duration
	failGetAll  atomic.Bool
	failSet     atomic.Bool

	mu       sync.Mutex
	setDelay func() time.Duration
}

func newFaultStore(t *testing.T, seed schema.Record) *faultStore {
	t.Helper()
	mem, err := store.NewMemoryStore(seed)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	return &faultStore{Store: mem}
}

func (f *faultStore) GetAll(ctx context.Context) (schema.Record, error) {
	f.getAllCalls.Add(1)
	if f.getAllDelay > 0 {
		select {
		case <-time.After(f.getAllDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failGetAll.Load() {
		return nil, store.ErrStoreUnavailable.Wrap(errInjected)
	}
	return f.Store.GetAll(ctx)
}

func (f *faultStore) Set(ctx context.Context, values schema.Record) error {
	f.setCalls.Add(1)
	f.mu.Lock()
	delay := f.setDelay
	f.mu.Unlock()
	if delay != nil {
		time.Sleep(delay())
	}
	if f.failSet.Load() {
		return store.ErrStoreUnavailable.Wrap(errInjected)
	}
	return f.Store.Set(ctx, values)
}

// randomDelays returns a generator of delays up to max, seeded for repeatability.
func randomDelays(seed uint64, limit time.Duration) func() time.Duration {
	var mu sync.Mutex
	r := rand.New(rand.NewPCG(seed, seed+1))
	return func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return time.Duration(r.Int64N(int64(limit)))
	}
}

// eventLog collects broadcast events in delivery order.
type eventLog struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (l *eventLog) Deliver(_ context.Context, evt broadcast.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
	return nil
}

func (l *eventLog) all() []broadcast.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]broadcast.Event(nil), l.events...)
}

func (l *eventLog) updates() []broadcast.StateUpdated {
	var out []broadcast.StateUpdated
	for _, evt := range l.all() {
		if u, ok := evt.(broadcast.StateUpdated); ok {
			out = append(out, u)
		}
	}
	return out
}

type harness struct {
	engine   *Engine
	store    *faultStore
	events   *eventLog
	recorder *metrics.Capture
}

func newHarness(t *testing.T, seed schema.Record, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:    newFaultStore(t, seed),
		events:   &eventLog{},
		recorder: metrics.NewCapture(),
	}
	opts = append([]Option{
		WithBroadcaster(broadcast.New(time.Second, h.events)),
		WithRecorder(h.recorder),
	}, opts...)
	h.engine = New(h.store, opts...)
	require.NoError(t, h.engine.Start(t.Context()))
	t.Cleanup(func() { _ = h.engine.Close() })
	require.NoError(t, h.engine.Ready(contextWithTimeout(t)))
	return h
}

func contextWithTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

func (h *harness) snapshot(t *testing.T) schema.State {
	t.Helper()
	s, err := h.engine.Snapshot(contextWithTimeout(t))
	require.NoError(t, err)
	return s
}

func (h *harness) stored(t *testing.T) schema.Record {
	t.Helper()
	rec, err := h.store.Store.GetAll(t.Context())
	require.NoError(t, err)
	return rec
}
