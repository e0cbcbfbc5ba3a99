package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/focusguard/internal/broadcast"
	"git.home.luguber.info/inful/focusguard/internal/config"
	ferrors "git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/messaging"
	"git.home.luguber.info/inful/focusguard/internal/retry"
	"git.home.luguber.info/inful/focusguard/internal/schema"
	"git.home.luguber.info/inful/focusguard/internal/store"
)

const waitFor = 3 * time.Second

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.NATS.URL = ""
	cfg.Store.Backend = store.KindMemory
	cfg.Store.Path = ""
	cfg.Monitoring.AdminAddr = "127.0.0.1:0"
	return cfg
}

func startDaemon(t *testing.T, cfg *config.Config, opts ...Option) *Daemon {
	t.Helper()
	d, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, d.Start(t.Context()))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(t.Context(), waitFor)
	defer cancel()
	require.NoError(t, d.Engine().Ready(ctx))
	require.Eventually(t, d.View().Synced, waitFor, 5*time.Millisecond)
	return d
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url) //nolint:noctx // test helper
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestDaemon_HealthAndReadiness(t *testing.T) {
	d := startDaemon(t, testConfig())
	assert.Equal(t, StatusRunning, d.GetStatus())

	code, body := get(t, "http://"+d.AdminAddr()+"/healthz")
	require.Equal(t, http.StatusOK, code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, HealthStatusHealthy, health.Status)
	assert.Equal(t, "ready", health.Phase)
	assert.Equal(t, d.Engine().Lifetime(), health.Lifetime)

	names := make([]string, 0, len(health.Checks))
	for _, c := range health.Checks {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"daemon_status", "engine_hydration", "update_queue", "store", "state_view"}, names)

	code, body = get(t, "http://"+d.AdminAddr()+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", string(body))
}

func TestDaemon_Metrics(t *testing.T) {
	d := startDaemon(t, testConfig())

	code, body := get(t, "http://"+d.AdminAddr()+"/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "focusguard_engine_ready 1")
	assert.Contains(t, string(body), "focusguard_daemon_uptime_seconds")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestDaemon_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Monitoring.Metrics.Enabled = false
	d := startDaemon(t, cfg)

	code, _ := get(t, "http://"+d.AdminAddr()+"/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDaemon_HandlerUpdatesAndBroadcasts(t *testing.T) {
	d := startDaemon(t, testConfig())

	events, unsubscribe := broadcast.Subscribe[broadcast.StateUpdated](d.Bus(), 8)
	defer unsubscribe()

	ui := messaging.NewLoopback(d.Handler(), messaging.Trusted, time.Second)
	resp := ui.Send(t.Context(), messaging.Message{
		Action:  messaging.ActionUpdateState,
		Payload: schema.Record{schema.KeyTask: "write report"},
	})
	require.True(t, resp.IsSome())
	require.True(t, resp.Unwrap().Success, resp.Unwrap().Error)

	select {
	case evt := <-events:
		assert.Equal(t, "write report", evt.Delta[schema.KeyTask])
		assert.Equal(t, d.Engine().Lifetime(), evt.Lifetime)
		assert.Equal(t, uint64(1), evt.Seq)
	case <-time.After(waitFor):
		t.Fatal("no broadcast after update")
	}
}

func TestDaemon_StateViewFollowsBroadcasts(t *testing.T) {
	d := startDaemon(t, testConfig())

	ui := messaging.NewLoopback(d.Handler(), messaging.Trusted, time.Second)
	for _, task := range []string{"draft", "review"} {
		resp := ui.Send(t.Context(), messaging.Message{
			Action:  messaging.ActionUpdateState,
			Payload: schema.Record{schema.KeyTask: task},
		})
		require.True(t, resp.IsSome())
		require.True(t, resp.Unwrap().Success, resp.Unwrap().Error)
	}

	var view StateView
	require.Eventually(t, func() bool {
		code, body := get(t, "http://"+d.AdminAddr()+"/state")
		if code != http.StatusOK || json.Unmarshal(body, &view) != nil {
			return false
		}
		return view.Seq == 2
	}, waitFor, 10*time.Millisecond)

	assert.True(t, view.Synced)
	assert.Equal(t, d.Engine().Lifetime(), view.Lifetime)
	assert.Equal(t, "review", view.State[schema.KeyTask])
}

func TestDaemon_InjectedStoreSurvivesStop(t *testing.T) {
	st, err := store.NewMemoryStore(schema.Record{schema.KeyTask: "seeded"})
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	d := startDaemon(t, testConfig(), WithStore(st))
	state, err := d.Engine().Snapshot(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "seeded", state.Task)

	require.NoError(t, d.Stop(t.Context()))
	_, err = st.GetAll(t.Context())
	assert.NoError(t, err)
}

func TestDaemon_StopIsIdempotentAndFinal(t *testing.T) {
	d := startDaemon(t, testConfig())

	require.NoError(t, d.Stop(t.Context()))
	require.NoError(t, d.Stop(t.Context()))
	assert.Equal(t, StatusStopped, d.GetStatus())

	err := d.Start(t.Context())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDaemon))
}

func TestDaemon_StartTwiceFails(t *testing.T) {
	d := startDaemon(t, testConfig())
	err := d.Start(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in stopped state")
}

func TestDaemon_BadAdminAddress(t *testing.T) {
	cfg := testConfig()
	cfg.Monitoring.AdminAddr = "127.0.0.1:notaport"

	d, err := New(cfg)
	require.NoError(t, err)
	err = d.Start(t.Context())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDaemon))
	assert.Equal(t, StatusError, d.GetStatus())
}

func TestDaemon_AdminDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Monitoring.AdminAddr = ""
	d := startDaemon(t, cfg)
	assert.Empty(t, d.AdminAddr())
}

func TestDaemon_RunStopsOnCancel(t *testing.T) {
	d, err := New(testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.GetStatus() == StatusRunning }, waitFor, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StatusStopped, d.GetStatus())
}

func TestDaemon_StoreOpenIsRetried(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	cfg := testConfig()
	cfg.Store.Backend = store.KindFile
	cfg.Store.Path = filepath.Join(blocker, "state.json")

	var logs bytes.Buffer
	d, err := New(cfg,
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithStoreRetry(retry.NewPolicy(retry.ModeFixed, time.Millisecond, time.Millisecond, 2)))
	require.NoError(t, err)

	err = d.Start(t.Context())
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.Equal(t, 2, strings.Count(logs.String(), "Store unavailable, retrying"))
	assert.Equal(t, StatusError, d.GetStatus())
}
