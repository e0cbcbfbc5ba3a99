package store

import (
	"bytes"
	"context"
	"sync"

	"git.home.luguber.info/inful/focusguard/internal/schema"
)

// MemoryStore keeps JSON-encoded values in memory. It is used by tests and by a daemon
// configured without persistence.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	watch  *fanout
	closed bool
}

// NewMemoryStore creates an empty store, optionally seeded with values.
func NewMemoryStore(seed schema.Record) (*MemoryStore, error) {
	m := &MemoryStore{data: make(map[string][]byte), watch: newFanout()}
	for key, v := range seed {
		data, err := encodeValue(key, v)
		if err != nil {
			return nil, err
		}
		m.data[key] = data
	}
	return m, nil
}

func (m *MemoryStore) GetAll(ctx context.Context) (schema.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	out := make(schema.Record, len(m.data))
	for key, data := range m.data {
		v, err := decodeValue(data)
		if err != nil {
			return nil, corrupt("decode "+key, err)
		}
		out[key] = v
	}
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, keys []string) (schema.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	out := make(schema.Record, len(keys))
	for _, key := range keys {
		data, ok := m.data[key]
		if !ok {
			continue
		}
		v, err := decodeValue(data)
		if err != nil {
			return nil, corrupt("decode "+key, err)
		}
		out[key] = v
	}
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, values schema.Record) error {
	encoded := make(map[string][]byte, len(values))
	for key, v := range values {
		data, err := encodeValue(key, v)
		if err != nil {
			return err
		}
		encoded[key] = data
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	var changes []Change
	for key, data := range encoded {
		if old, ok := m.data[key]; ok && bytes.Equal(old, data) {
			continue
		}
		m.data[key] = data
		v, _ := decodeValue(data)
		changes = append(changes, Change{Key: key, NewValue: v})
	}
	sortChanges(changes)
	m.watch.publish(changes)
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	var changes []Change
	for _, key := range keys {
		if _, ok := m.data[key]; !ok {
			continue
		}
		delete(m.data, key)
		changes = append(changes, Change{Key: key, Removed: true})
	}
	sortChanges(changes)
	m.watch.publish(changes)
	return nil
}

func (m *MemoryStore) Watch(ctx context.Context) (<-chan []Change, error) {
	return m.watch.subscribe(ctx)
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.watch.close()
	return nil
}
