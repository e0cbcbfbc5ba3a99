package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/focusguard/internal/engine"
	"git.home.luguber.info/inful/focusguard/internal/messaging"
	"git.home.luguber.info/inful/focusguard/internal/metrics"
	"git.home.luguber.info/inful/focusguard/internal/schema"
	"git.home.luguber.info/inful/focusguard/internal/store"
)

type fixture struct {
	engine    *engine.Engine
	router    *Router
	recorder  *metrics.Capture
	trusted   messaging.Sender
	untrusted messaging.Sender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewMemoryStore(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	eng := engine.New(st)
	require.NoError(t, eng.Start(t.Context()))
	t.Cleanup(func() { _ = eng.Close() })

	rec := metrics.NewCapture()
	r := New(eng, WithRecorder(rec))
	return &fixture{
		engine:    eng,
		router:    r,
		recorder:  rec,
		trusted:   messaging.NewLoopback(r, messaging.Trusted, 2*time.Second),
		untrusted: messaging.NewLoopback(r, messaging.Untrusted, 2*time.Second),
	}
}

func send(t *testing.T, s messaging.Sender, msg messaging.Message) messaging.Response {
	t.Helper()
	resp := s.Send(t.Context(), msg)
	require.True(t, resp.IsSome(), "no answer for %s", msg.Action)
	return resp.Unwrap()
}

func TestGetState_TrustMatrix(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		sender   messaging.Sender
		msg      messaging.Message
		success  bool
		wantKeys []string
	}{
		{"trusted full state", f.trusted, messaging.Message{Action: messaging.ActionGetState}, true, schema.DefaultState().Record().Keys()},
		{"untrusted full state is projected", f.untrusted, messaging.Message{Action: messaging.ActionGetState}, true, PublicKeys()},
		{"trusted private key", f.trusted, messaging.Message{Action: messaging.ActionGetState, Key: schema.KeyTimerEnd}, true, []string{schema.KeyTimerEnd}},
		{"untrusted public key", f.untrusted, messaging.Message{Action: messaging.ActionGetState, Key: schema.KeyBlockedSites}, true, []string{schema.KeyBlockedSites}},
		{"untrusted private key", f.untrusted, messaging.Message{Action: messaging.ActionGetState, Key: schema.KeyLastBreakAt}, false, nil},
		{"unknown key", f.trusted, messaging.Message{Action: messaging.ActionGetState, Key: "theme"}, false, nil},
		{
			"untrusted keys are filtered",
			f.untrusted,
			messaging.Message{Action: messaging.ActionGetState, Keys: []string{schema.KeyTask, schema.KeyTimerStart, "theme"}},
			true,
			[]string{schema.KeyTask},
		},
		{
			"trusted keys drop unknown",
			f.trusted,
			messaging.Message{Action: messaging.ActionGetState, Keys: []string{schema.KeyTimerStart, "theme"}},
			true,
			[]string{schema.KeyTimerStart},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := send(t, tt.sender, tt.msg)
			assert.Equal(t, tt.success, resp.Success, resp.Error)
			if !tt.success {
				assert.NotEmpty(t, resp.Error)
				assert.Empty(t, resp.State)
				return
			}
			assert.Equal(t, tt.wantKeys, resp.State.Keys())
			assert.Equal(t, f.engine.Lifetime(), resp.Lifetime)
		})
	}
}

func TestUpdateState_TrustMatrix(t *testing.T) {
	tests := []struct {
		name    string
		trusted bool
		payload schema.Record
		success bool
	}{
		{"trusted writable", true, schema.Record{schema.KeyTask: "plan", schema.KeyBreakInterval: 30}, true},
		{"untrusted writable", false, schema.Record{schema.KeyTask: "spoofed"}, false},
		{"derived flag", true, schema.Record{schema.KeyFlow: true}, false},
		{"timer bookkeeping", true, schema.Record{schema.KeyTimerEnd: 1}, false},
		{"unknown key rejects all", true, schema.Record{schema.KeyTask: "plan", "theme": "dark"}, false},
		{"wrong type rejects all", true, schema.Record{schema.KeyTask: "plan", schema.KeyEnabled: "yes"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sender := f.untrusted
			if tt.trusted {
				sender = f.trusted
			}
			resp := send(t, sender, messaging.Message{Action: messaging.ActionUpdateState, Payload: tt.payload})
			assert.Equal(t, tt.success, resp.Success, resp.Error)

			s, err := f.engine.Snapshot(t.Context())
			require.NoError(t, err)
			if tt.success {
				assert.Equal(t, "plan", s.Task)
				assert.Equal(t, int64(30), s.BreakInterval)
				assert.Equal(t, []string{schema.KeyBreakInterval, schema.KeyTask}, resp.State.Keys())
				return
			}
			assert.True(t, s.Equal(schema.DefaultState()), "rejected updates are never partially applied")
		})
	}
}

func TestUpdateState_RequiresPayload(t *testing.T) {
	f := newFixture(t)
	resp := send(t, f.trusted, messaging.Message{Action: messaging.ActionUpdateState})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "payload")
}

func TestUpdateState_InvariantWinsOverRequest(t *testing.T) {
	f := newFixture(t)
	resp := send(t, f.trusted, messaging.Message{
		Action:  messaging.ActionUpdateState,
		Payload: schema.Record{schema.KeyBlockedSites: []any{"WWW.Foo.com", "foo.com", "bar.com"}},
	})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, []any{"bar.com", "foo.com"}, resp.State[schema.KeyBlockedSites])
}

func TestFlowActions(t *testing.T) {
	f := newFixture(t)

	resp := send(t, f.untrusted, messaging.Message{Action: messaging.ActionStartFlow, Payload: schema.Record{"task": "x"}})
	assert.False(t, resp.Success)

	resp = send(t, f.trusted, messaging.Message{Action: messaging.ActionStartFlow, Payload: schema.Record{"task": "  "}})
	assert.False(t, resp.Success)

	resp = send(t, f.trusted, messaging.Message{Action: messaging.ActionStartFlow, Payload: schema.Record{"task": "x", "minutes": "ten"}})
	assert.False(t, resp.Success)

	resp = send(t, f.trusted, messaging.Message{Action: messaging.ActionStartFlow, Payload: schema.Record{"task": "write", "minutes": 25}})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, true, resp.State[schema.KeyFlow])
	assert.Equal(t, float64(25*60_000), resp.State[schema.KeyTimerInterval])

	resp = send(t, f.untrusted, messaging.Message{Action: messaging.ActionEndFlow})
	assert.False(t, resp.Success)

	resp = send(t, f.trusted, messaging.Message{Action: messaging.ActionEndFlow})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, false, resp.State[schema.KeyFlow])
	assert.Nil(t, resp.State[schema.KeyTimerEnd])
}

func TestStartFlow_DisabledIsRejected(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.engine.Update(t.Context(), schema.Record{schema.KeyEnabled: false}))

	resp := send(t, f.trusted, messaging.Message{Action: messaging.ActionStartFlow, Payload: schema.Record{"task": "write"}})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "disabled")
}

func TestPingAndUnknownAction(t *testing.T) {
	f := newFixture(t)

	resp := send(t, f.untrusted, messaging.Message{Action: messaging.ActionPing})
	assert.True(t, resp.Success)
	assert.Empty(t, resp.State)
	assert.Equal(t, f.engine.Lifetime(), resp.Lifetime)

	resp = send(t, f.trusted, messaging.Message{Action: "selfDestruct"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown action")

	assert.Equal(t, 1, f.recorder.Count(f.recorder.Requests, "ping/untrusted/success"))
	assert.Equal(t, 1, f.recorder.Count(f.recorder.Requests, "selfDestruct/trusted/failed"))
}

func TestFlowMinutes(t *testing.T) {
	n, err := flowMinutes(nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = flowMinutes(24.6)
	require.NoError(t, err)
	assert.Equal(t, int64(25), n)

	n, err = flowMinutes(100000.0)
	require.NoError(t, err)
	assert.Equal(t, MaxFlowMinutes, n)

	_, err = flowMinutes(-1.0)
	assert.Error(t, err)
}

func TestRouter_EngineNotReady(t *testing.T) {
	r := New(stuckEngine{})
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	resp := r.Handle(ctx, messaging.Trusted, messaging.Message{Action: messaging.ActionGetState})
	assert.False(t, resp.Success)
}

// stuckEngine never finishes hydrating.
type stuckEngine struct{}

func (stuckEngine) SnapshotSeq(ctx context.Context) (schema.State, uint64, error) {
	<-ctx.Done()
	return schema.State{}, 0, ctx.Err()
}
func (stuckEngine) Update(context.Context, schema.Record) bool            { return false }
func (stuckEngine) StartFlow(context.Context, string, time.Duration) bool { return false }
func (stuckEngine) EndFlow(context.Context) bool                          { return false }
func (stuckEngine) Lifetime() string                                      { return "stuck" }
