package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiedError_Basics(t *testing.T) {
	err := NewError(CategoryConfig, "invalid configuration").
		WithSeverity(SeverityFatal).
		WithContext("file", "focusguard.yaml").
		Build()

	assert.Equal(t, CategoryConfig, err.Category())
	assert.Equal(t, SeverityFatal, err.Severity())
	assert.Equal(t, "invalid configuration", err.Message())
	assert.Equal(t, "[config:fatal] invalid configuration", err.Error())

	file, ok := err.Context().GetString("file")
	require.True(t, ok)
	assert.Equal(t, "focusguard.yaml", file)
}

func TestClassifiedError_CauseChain(t *testing.T) {
	cause := stderrors.New("disk full")
	err := StoreError("write delta").WithCause(cause).Build()

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, err.CanRetry())
	assert.True(t, err.IsTransient())

	wrapped := fmt.Errorf("update: %w", err)
	assert.True(t, HasCategory(wrapped, CategoryStore))
	assert.Equal(t, CategoryStore, GetCategory(wrapped))
	assert.True(t, IsTransient(wrapped))
}

func TestClassifiedError_SentinelWrap(t *testing.T) {
	sentinel := AuthError("key not writable").Build()
	cause := stderrors.New("timerStart")

	wrapped := sentinel.Wrap(cause)
	assert.ErrorIs(t, wrapped, sentinel)
	assert.ErrorIs(t, wrapped, cause)
	assert.False(t, wrapped.CanRetry())
}

func TestClassifiedError_WithContextCopies(t *testing.T) {
	base := ValidationError("bad payload").Build()
	withKey := base.WithContext("key", "task")

	_, ok := base.Context().Get("key")
	assert.False(t, ok)
	v, ok := withKey.Context().GetString("key")
	require.True(t, ok)
	assert.Equal(t, "task", v)
}

func TestConstructorDefaults(t *testing.T) {
	tests := []struct {
		name     string
		err      *ClassifiedError
		category ErrorCategory
		severity ErrorSeverity
		retry    RetryStrategy
	}{
		{"config", ConfigError("x").Build(), CategoryConfig, SeverityFatal, RetryNever},
		{"validation", ValidationError("x").Build(), CategoryValidation, SeverityError, RetryNever},
		{"auth", AuthError("x").Build(), CategoryAuth, SeverityError, RetryUserAction},
		{"not found", NotFoundError("x").Build(), CategoryNotFound, SeverityError, RetryNever},
		{"store", StoreError("x").Build(), CategoryStore, SeverityError, RetryBackoff},
		{"transport", TransportError("x").Build(), CategoryTransport, SeverityError, RetryBackoff},
		{"runtime", RuntimeError("x").Build(), CategoryRuntime, SeverityFatal, RetryNever},
		{"daemon", DaemonError("x").Build(), CategoryDaemon, SeverityFatal, RetryNever},
		{"internal", InternalError("x").Build(), CategoryInternal, SeverityFatal, RetryNever},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category())
			assert.Equal(t, tt.severity, tt.err.Severity())
			assert.Equal(t, tt.retry, tt.err.RetryStrategy())
		})
	}
}

func TestUnclassifiedHelpers(t *testing.T) {
	plain := stderrors.New("plain")
	_, ok := AsClassified(plain)
	assert.False(t, ok)
	assert.Equal(t, CategoryInternal, GetCategory(plain))
	assert.False(t, HasCategory(plain, CategoryStore))
	assert.False(t, IsTransient(plain))
}

func TestErrorContext_Merge(t *testing.T) {
	var empty ErrorContext
	a := empty.Set("a", 1)
	b := ErrorContext{"a": 2, "b": 3}

	merged := a.Merge(b)
	assert.Equal(t, 2, merged["a"])
	assert.Equal(t, 3, merged["b"])
	assert.Equal(t, 1, a["a"])
	assert.Equal(t, b, empty.Merge(b))
}
