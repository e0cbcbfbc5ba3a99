// Package store provides the persistent key-value stores backing focusguard state.
//
// Every adapter persists values as JSON and hands them back decoded into plain Go
// values (bool, string, float64, []any, map[string]any, nil), the same loose shapes a
// browser storage area returns. Normalization is the schema package's job, not the
// store's. Each adapter also exposes a change stream that reports writes from any
// writer, including this process.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/schema"
)

// Change describes one key changed by a write.
type Change struct {
	Key      string
	NewValue any
	Removed  bool
}

// Store is an asynchronous, eventually consistent key-value store.
type Store interface {
	// GetAll returns every stored key.
	GetAll(ctx context.Context) (schema.Record, error)
	// Get returns the stored subset of keys. Missing keys are absent from the result.
	Get(ctx context.Context, keys []string) (schema.Record, error)
	// Set writes values. Adapters apply a single Set atomically where the backend allows.
	Set(ctx context.Context, values schema.Record) error
	// Remove deletes keys. Unknown keys are ignored.
	Remove(ctx context.Context, keys []string) error
	// Watch streams batches of changes until ctx is done or the store is closed.
	// Delivery never blocks writers.
	Watch(ctx context.Context) (<-chan []Change, error)
	// Close releases resources and ends all change streams.
	Close() error
}

var (
	// ErrStoreUnavailable wraps backend failures. It is transient.
	ErrStoreUnavailable = errors.StoreError("store unavailable").Build()
	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.StoreError("store closed").WithRetry(errors.RetryNever).Build()
	// ErrStoreCorrupt reports stored content that cannot be decoded. Retrying does not help.
	ErrStoreCorrupt = errors.StoreError("store content corrupt").WithRetry(errors.RetryNever).Build()
)

func unavailable(op string, err error) error {
	return ErrStoreUnavailable.Wrap(fmt.Errorf("%s: %w", op, err))
}

func corrupt(op string, err error) error {
	return ErrStoreCorrupt.Wrap(fmt.Errorf("%s: %w", op, err))
}

func encodeValue(key string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("value for %q is not JSON encodable", key)).
			WithCause(err).
			WithContext("key", key).
			Build()
	}
	return data, nil
}

func decodeValue(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
