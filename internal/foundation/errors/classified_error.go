package errors

import (
	stderrors "errors"
	"fmt"
)

// ClassifiedError represents a structured error with category, severity, and context.
type ClassifiedError struct {
	category ErrorCategory
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

// Error implements the standard error interface.
func (e *ClassifiedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.category, e.severity, e.message, e.cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.category, e.severity, e.message)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

func (e *ClassifiedError) Category() ErrorCategory      { return e.category }
func (e *ClassifiedError) Severity() ErrorSeverity      { return e.severity }
func (e *ClassifiedError) RetryStrategy() RetryStrategy { return e.retry }
func (e *ClassifiedError) Message() string              { return e.message }
func (e *ClassifiedError) Cause() error                 { return e.cause }
func (e *ClassifiedError) Context() ErrorContext        { return e.context }

// WithContext returns a copy of the error with key set in its context.
func (e *ClassifiedError) WithContext(key string, value any) *ClassifiedError {
	next := make(ErrorContext, len(e.context)+1)
	for k, v := range e.context {
		next[k] = v
	}
	next[key] = value
	return &ClassifiedError{
		category: e.category,
		severity: e.severity,
		retry:    e.retry,
		message:  e.message,
		cause:    e.cause,
		context:  next,
	}
}

// Wrap returns a copy of a sentinel error carrying cause. The copy still matches the
// sentinel under errors.Is.
func (e *ClassifiedError) Wrap(cause error) *ClassifiedError {
	return &ClassifiedError{
		category: e.category,
		severity: e.severity,
		retry:    e.retry,
		message:  e.message,
		cause:    cause,
		context:  e.context,
	}
}

// Is matches two classified errors with the same category and message.
func (e *ClassifiedError) Is(target error) bool {
	if other, ok := target.(*ClassifiedError); ok {
		return e.category == other.category && e.message == other.message
	}
	return false
}

func (e *ClassifiedError) IsCategory(category ErrorCategory) bool { return e.category == category }

// CanRetry reports whether the error allows the caller to try again on its own.
func (e *ClassifiedError) CanRetry() bool {
	return e.retry != RetryNever && e.retry != RetryUserAction
}

// IsTransient reports whether the failure is expected to clear up by itself.
func (e *ClassifiedError) IsTransient() bool {
	return e.retry == RetryImmediate || e.retry == RetryBackoff
}

// AsClassified finds the first ClassifiedError in err's chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var classified *ClassifiedError
	if stderrors.As(err, &classified) {
		return classified, true
	}
	return nil, false
}

// HasCategory checks if any error in the chain belongs to a category.
func HasCategory(err error, category ErrorCategory) bool {
	if classified, ok := AsClassified(err); ok {
		return classified.IsCategory(category)
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal.
func GetCategory(err error) ErrorCategory {
	if classified, ok := AsClassified(err); ok {
		return classified.Category()
	}
	return CategoryInternal
}

// IsTransient reports whether err is a classified transient failure.
func IsTransient(err error) bool {
	if classified, ok := AsClassified(err); ok {
		return classified.IsTransient()
	}
	return false
}
