package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/schema"
	"git.home.luguber.info/inful/focusguard/internal/store"
)

// brokenReads hydrates normally but fails point reads.
type brokenReads struct {
	*store.MemoryStore
}

func (brokenReads) Get(context.Context, []string) (schema.Record, error) {
	return nil, errors.StoreError("disk gone").Build()
}

func TestHealth_StoreFailureIsUnhealthy(t *testing.T) {
	mem, err := store.NewMemoryStore(nil)
	require.NoError(t, err)
	defer func() { _ = mem.Close() }()

	d := startDaemon(t, testConfig(), WithStore(brokenReads{mem}))

	code, body := get(t, "http://"+d.AdminAddr()+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, HealthStatusUnhealthy, health.Status)
	for _, c := range health.Checks {
		if c.Name == "store" {
			assert.Equal(t, HealthStatusUnhealthy, c.Status)
			assert.Contains(t, c.Message, "disk gone")
		}
	}
}

func TestHealth_BeforeStart(t *testing.T) {
	d, err := New(testConfig())
	require.NoError(t, err)

	resp := d.PerformHealthChecks(t.Context())
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
	assert.Empty(t, resp.Phase)
}

func TestReadiness_NotReady(t *testing.T) {
	d, err := New(testConfig())
	require.NoError(t, err)
	s := newAdminServer(d)

	rec := httptest.NewRecorder()
	s.handleReadiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "hydrating")
}
