package errors

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPErrorAdapter_StatusCodeFor(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.Default())

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", ValidationError("bad").Build(), http.StatusBadRequest},
		{"auth", AuthError("denied").Build(), http.StatusForbidden},
		{"not found", NotFoundError("missing").Build(), http.StatusNotFound},
		{"store", StoreError("down").Build(), http.StatusBadGateway},
		{"daemon", DaemonError("starting").Build(), http.StatusServiceUnavailable},
		{"internal", InternalError("bug").Build(), http.StatusInternalServerError},
		{"plain", stderrors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adapter.StatusCodeFor(tt.err))
		})
	}
}

func TestHTTPErrorAdapter_WriteErrorResponse(t *testing.T) {
	adapter := NewHTTPErrorAdapter(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	err := StoreError("store unreachable").WithContext("store", "sqlite").Build()
	adapter.WriteErrorResponse(rec, req, err)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "store unreachable", body.Error)
	assert.Equal(t, "store", body.Code)
	assert.True(t, body.Retryable)
	assert.Equal(t, "sqlite", body.Details["store"])
}

func TestHTTPErrorAdapter_FormatUnclassified(t *testing.T) {
	adapter := NewHTTPErrorAdapter(nil)
	resp := adapter.FormatErrorResponse(stderrors.New("boom"))
	assert.Equal(t, "boom", resp.Error)
	assert.Empty(t, resp.Code)
	assert.False(t, resp.Retryable)
}
