package errors

// ErrorBuilder provides a fluent API for creating ClassifiedError instances.
type ErrorBuilder struct {
	category ErrorCategory
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

// NewError creates a new ErrorBuilder with the specified category and message.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{
		category: category,
		severity: SeverityError,
		retry:    RetryNever,
		message:  message,
	}
}

// WrapError creates a new ErrorBuilder that wraps an existing error.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	return NewError(category, message).WithCause(err)
}

func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.severity = severity
	return b
}

func (b *ErrorBuilder) WithRetry(strategy RetryStrategy) *ErrorBuilder {
	b.retry = strategy
	return b
}

func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.cause = err
	return b
}

func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.context = b.context.Set(key, value)
	return b
}

func (b *ErrorBuilder) Fatal() *ErrorBuilder     { return b.WithSeverity(SeverityFatal) }
func (b *ErrorBuilder) Warning() *ErrorBuilder   { return b.WithSeverity(SeverityWarning) }
func (b *ErrorBuilder) Retryable() *ErrorBuilder { return b.WithRetry(RetryBackoff) }
func (b *ErrorBuilder) UserAction() *ErrorBuilder {
	return b.WithRetry(RetryUserAction)
}

// Build creates the final ClassifiedError.
func (b *ErrorBuilder) Build() *ClassifiedError {
	return &ClassifiedError{
		category: b.category,
		severity: b.severity,
		retry:    b.retry,
		message:  b.message,
		cause:    b.cause,
		context:  b.context,
	}
}

// ConfigError creates a configuration error.
func ConfigError(message string) *ErrorBuilder {
	return NewError(CategoryConfig, message).Fatal()
}

// ValidationError creates a malformed-input error. It fails the request, not the process.
func ValidationError(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message)
}

// AuthError creates a trust-boundary rejection.
func AuthError(message string) *ErrorBuilder {
	return NewError(CategoryAuth, message).UserAction()
}

// NotFoundError creates a missing-resource error.
func NotFoundError(message string) *ErrorBuilder {
	return NewError(CategoryNotFound, message)
}

// StoreError creates a persistent store error (transient by default).
func StoreError(message string) *ErrorBuilder {
	return NewError(CategoryStore, message).Retryable()
}

// TransportError creates a cross-process messaging error (transient by default).
func TransportError(message string) *ErrorBuilder {
	return NewError(CategoryTransport, message).Retryable()
}

// RuntimeError creates a runtime error.
func RuntimeError(message string) *ErrorBuilder {
	return NewError(CategoryRuntime, message).Fatal()
}

// DaemonError creates a daemon lifecycle error.
func DaemonError(message string) *ErrorBuilder {
	return NewError(CategoryDaemon, message).Fatal()
}

// InternalError creates an internal error.
func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).Fatal()
}
