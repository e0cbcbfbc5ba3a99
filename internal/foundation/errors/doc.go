// Package errors provides the classified error primitives shared across focusguard.
//
// A ClassifiedError carries a category (what kind of failure), a severity (how bad it
// is for the current operation) and a retry strategy (whether a caller may try again),
// plus free-form context. Errors are built with the fluent ErrorBuilder:
//
//	err := errors.StoreError("write delta").
//		WithCause(ioErr).
//		WithContext("keys", []string{"enabled"}).
//		Build()
//
// The CLI and HTTP adapters translate classified errors into exit codes and JSON
// payloads respectively.
package errors
