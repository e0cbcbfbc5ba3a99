package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/focusguard/internal/broadcast"
	"git.home.luguber.info/inful/focusguard/internal/config"
	"git.home.luguber.info/inful/focusguard/internal/daemon"
	ferrors "git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/messaging"
	"git.home.luguber.info/inful/focusguard/internal/mirror"
	"git.home.luguber.info/inful/focusguard/internal/schema"
	"git.home.luguber.info/inful/focusguard/internal/store"
)

const waitFor = 3 * time.Second

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// writeConfig creates a config file using a file store in a temp dir.
func writeConfig(t *testing.T) (*CLI, string) {
	t.Helper()
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	body := "version: \"1\"\n" +
		"store:\n  backend: file\n  path: " + statePath + "\n" +
		"monitoring:\n  logging:\n    level: error\n"
	path := filepath.Join(dir, "focusguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return &CLI{Config: path}, statePath
}

// startDaemon runs a daemon for root's config and returns a Global wired to it.
func startDaemon(t *testing.T, root *CLI, out *syncBuffer) (*Global, *daemon.Daemon) {
	t.Helper()
	cfg, err := config.Load(root.Config)
	require.NoError(t, err)

	d, err := daemon.New(cfg)
	require.NoError(t, err)
	require.NoError(t, d.Start(t.Context()))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(t.Context(), waitFor)
	defer cancel()
	require.NoError(t, d.Engine().Ready(ctx))

	dial := func(_ context.Context, _ *config.Config, trust messaging.Trust, _ *slog.Logger) (*Link, error) {
		return &Link{
			Sender: messaging.NewLoopback(d.Handler(), trust, time.Second),
			Source: broadcast.BusSource{Bus: d.Bus()},
			Close:  func() {},
		}, nil
	}
	return &Global{Stdout: out, Ctx: t.Context(), Dial: dial}, d
}

func offline(out *syncBuffer) *Global {
	return &Global{Stdout: out, Ctx: context.Background()}
}

func decodeState(t *testing.T, out string) schema.Record {
	t.Helper()
	var rec schema.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec), out)
	return rec
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want schema.Record
	}{
		{"bool", []string{"enabled=false"}, schema.Record{"enabled": false}},
		{"bare string", []string{"task=write docs"}, schema.Record{"task": "write docs"}},
		{"quoted string", []string{`task="42"`}, schema.Record{"task": "42"}},
		{"number", []string{"breakInterval=30"}, schema.Record{"breakInterval": float64(30)}},
		{"list", []string{`blockedSites=["a.com","b.com"]`}, schema.Record{"blockedSites": []any{"a.com", "b.com"}}},
		{"empty value", []string{"task="}, schema.Record{"task": ""}},
		{"equals in value", []string{"task=a=b"}, schema.Record{"task": "a=b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAssignments(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAssignments_Malformed(t *testing.T) {
	for _, arg := range []string{"enabled", "=true", " =x"} {
		_, err := ParseAssignments([]string{arg})
		require.Error(t, err, arg)
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	}
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "focusguard.yaml")
	root := &CLI{Config: path}
	out := &syncBuffer{}

	require.NoError(t, (&InitCmd{}).Run(offline(out), root))
	assert.Contains(t, out.String(), "initialized successfully")
	_, err := config.Load(path)
	require.NoError(t, err)

	require.Error(t, (&InitCmd{}).Run(offline(out), root))
	require.NoError(t, (&InitCmd{Force: true}).Run(offline(out), root))
}

func TestSetAndGet_StoreFallback(t *testing.T) {
	root, statePath := writeConfig(t)
	out := &syncBuffer{}

	set := &SetCmd{Assignments: []string{"task=deep work", `blockedSites=["News.com","news.com"]`}}
	require.NoError(t, set.Run(offline(out), root))
	assert.Contains(t, out.String(), "updated")

	st, err := store.NewFileStore(statePath)
	require.NoError(t, err)
	raw, err := st.GetAll(t.Context())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.Equal(t, "deep work", raw[schema.KeyTask])
	assert.Equal(t, []any{"news.com"}, raw[schema.KeyBlockedSites])

	out = &syncBuffer{}
	require.NoError(t, (&GetCmd{Key: []string{schema.KeyTask}}).Run(offline(out), root))
	assert.Equal(t, schema.Record{schema.KeyTask: "deep work"}, decodeState(t, out.String()))
}

func TestSet_FallbackRejectsInvalidPayload(t *testing.T) {
	root, _ := writeConfig(t)
	err := (&SetCmd{Assignments: []string{"flow=true"}}).Run(offline(&syncBuffer{}), root)
	require.Error(t, err)
}

func TestGet_UntrustedFallback(t *testing.T) {
	root, _ := writeConfig(t)

	out := &syncBuffer{}
	require.NoError(t, (&GetCmd{Untrusted: true}).Run(offline(out), root))
	state := decodeState(t, out.String())
	assert.Contains(t, state, schema.KeyEnabled)
	assert.NotContains(t, state, schema.KeyTimerEnd)

	err := (&GetCmd{Key: []string{schema.KeyTimerEnd}, Untrusted: true}).Run(offline(&syncBuffer{}), root)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryAuth))
}

func TestFlow_RequiresDaemon(t *testing.T) {
	root, _ := writeConfig(t)
	err := (&FlowStartCmd{Task: "write"}).Run(offline(&syncBuffer{}), root)
	require.ErrorIs(t, err, mirror.ErrNoAnswer)
}

func TestFlow_ThroughDaemon(t *testing.T) {
	root, _ := writeConfig(t)
	out := &syncBuffer{}
	g, _ := startDaemon(t, root, out)

	require.NoError(t, (&FlowStartCmd{Task: "write report", Minutes: 25}).Run(g, root))
	state := decodeState(t, out.String())
	assert.Equal(t, true, state[schema.KeyFlow])
	assert.Equal(t, "write report", state[schema.KeyTask])
	assert.Equal(t, float64(25*60*1000), state[schema.KeyTimerInterval])

	out2 := &syncBuffer{}
	g.Stdout = out2
	require.NoError(t, (&FlowEndCmd{}).Run(g, root))
	assert.Equal(t, false, decodeState(t, out2.String())[schema.KeyFlow])
}

func TestSet_ThroughDaemon(t *testing.T) {
	root, _ := writeConfig(t)
	out := &syncBuffer{}
	g, d := startDaemon(t, root, out)

	require.NoError(t, (&SetCmd{Assignments: []string{"enabled=false"}}).Run(g, root))

	state, err := d.Engine().Snapshot(t.Context())
	require.NoError(t, err)
	assert.False(t, state.Enabled)

	err = (&SetCmd{Assignments: []string{"timerEnd=5"}}).Run(g, root)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryAuth))
}

func TestWatch_PrintsBroadcasts(t *testing.T) {
	root, _ := writeConfig(t)
	out := &syncBuffer{}
	g, d := startDaemon(t, root, out)

	ctx, cancel := context.WithCancel(t.Context())
	g.Ctx = ctx
	done := make(chan error, 1)
	go func() { done <- (&WatchCmd{}).Run(g, root) }()

	n := 0
	require.Eventually(t, func() bool {
		n++
		d.Engine().Update(t.Context(), schema.Record{schema.KeyTask: strings.Repeat("x", n)})
		return strings.Contains(out.String(), string(messaging.ActionStateUpdated))
	}, waitFor, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("watch did not stop")
	}
}

func TestVersionCmd(t *testing.T) {
	out := &syncBuffer{}
	require.NoError(t, (&VersionCmd{}).Run(offline(out)))
	assert.True(t, strings.HasPrefix(out.String(), "focusguard "))
}

func TestRunDaemon_StopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.NATS.URL = ""
	cfg.Store.Backend = store.KindMemory
	cfg.Monitoring.AdminAddr = ""

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, RunDaemon(ctx, cfg, slog.Default()))
}

func TestGrammar(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"daemon"}, "daemon"},
		{[]string{"init", "--force"}, "init"},
		{[]string{"get", "--key", "task", "--key", "enabled", "--untrusted"}, "get"},
		{[]string{"set", "task=x", "enabled=true"}, "set"},
		{[]string{"flow", "start", "--task", "write", "--minutes", "25"}, "flow start"},
		{[]string{"flow", "end"}, "flow end"},
		{[]string{"watch"}, "watch"},
		{[]string{"version"}, "version"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			cli := &CLI{}
			parser, err := kong.New(cli, kong.Vars{"version": "test"}, kong.Exit(func(int) {}))
			require.NoError(t, err)
			kctx, err := parser.Parse(tt.args)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(kctx.Command(), tt.want), kctx.Command())
		})
	}

	cli := &CLI{}
	parser, err := kong.New(cli, kong.Vars{"version": "test"}, kong.Exit(func(int) {}))
	require.NoError(t, err)
	_, err = parser.Parse([]string{"flow", "start"})
	assert.Error(t, err, "task is required")
}
