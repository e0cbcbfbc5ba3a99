package errors

import (
	"bytes"
	stderrors "errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", stderrors.New("boom"), ExitGeneral},
		{"validation", ValidationError("bad").Build(), ExitUsage},
		{"config", ConfigError("bad").Build(), ExitConfig},
		{"auth", AuthError("denied").Build(), ExitRejected},
		{"store", StoreError("down").Build(), ExitUnavailable},
		{"transport", TransportError("timeout").Build(), ExitUnavailable},
		{"daemon", DaemonError("crashed").Build(), ExitRuntime},
		{"internal", InternalError("bug").Build(), ExitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adapter.ExitCodeFor(tt.err))
		})
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	quiet := NewCLIErrorAdapter(false, nil)
	verbose := NewCLIErrorAdapter(true, nil)

	auth := AuthError("key not writable").Build()
	assert.Equal(t, "Error: key not writable (check the request and try again)", quiet.FormatError(auth))
	assert.Equal(t, auth.Error(), verbose.FormatError(auth))

	internal := InternalError("nil snapshot").Build()
	assert.Equal(t, "Internal error occurred (use -v for details)", quiet.FormatError(internal))

	assert.Equal(t, "Error: boom", quiet.FormatError(stderrors.New("boom")))
	assert.Empty(t, quiet.FormatError(nil))
}

func TestCLIErrorAdapter_HandleError(t *testing.T) {
	var logs, stderr bytes.Buffer
	adapter := NewCLIErrorAdapter(false, slog.New(slog.NewTextHandler(&logs, nil)))
	adapter.stderr = &stderr
	code := -1
	adapter.exit = func(c int) { code = c }

	adapter.HandleError(ConfigError("missing nats url").Build())

	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, stderr.String(), "missing nats url")
	assert.Contains(t, logs.String(), "category=config")

	code = -1
	adapter.HandleError(nil)
	assert.Equal(t, -1, code)
}
