package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/schema"
)

// DefaultBucket is the JetStream KV bucket used when none is configured.
const DefaultBucket = "focusguard_state"

// NATSStore keeps each value under its own key in a JetStream KV bucket. The bucket's
// native watch feeds the change stream. A Set of several keys is not atomic.
type NATSStore struct {
	conn   *nats.Conn
	ownsNC bool
	kv     jetstream.KeyValue
	bucket string
	opts   options

	mu      sync.Mutex
	closed  bool
	cancels []context.CancelFunc
}

// NewNATSStore opens (creating if needed) bucket over an existing connection.
func NewNATSStore(ctx context.Context, conn *nats.Conn, bucket string, opts ...Option) (*NATSStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, unavailable("create JetStream context", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	kv, err := js.KeyValue(initCtx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(initCtx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "focusguard state",
			History:     1,
		})
	}
	if err != nil {
		return nil, unavailable("open KV bucket "+bucket, err)
	}

	s := &NATSStore{conn: conn, kv: kv, bucket: bucket, opts: applyOptions(opts)}
	s.opts.logger.Info("NATS KV store ready", logfields.Store("nats"), logfields.Subject(bucket))
	return s, nil
}

// DialNATSStore connects to url and opens bucket. Closing the store closes the connection.
func DialNATSStore(ctx context.Context, url, bucket string, opts ...Option) (*NATSStore, error) {
	conn, err := nats.Connect(url, nats.Name("focusguard-store"))
	if err != nil {
		return nil, unavailable("connect to NATS", err)
	}
	s, err := NewNATSStore(ctx, conn, bucket, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.ownsNC = true
	return s, nil
}

func (s *NATSStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *NATSStore) GetAll(ctx context.Context) (schema.Record, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, unavailable("list keys", err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	return s.Get(ctx, keys)
}

func (s *NATSStore) Get(ctx context.Context, keys []string) (schema.Record, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	out := make(schema.Record, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, unavailable("get "+key, err)
		}
		v, err := decodeValue(entry.Value())
		if err != nil {
			return nil, corrupt("decode "+key, err)
		}
		out[key] = v
	}
	return out, nil
}

func (s *NATSStore) Set(ctx context.Context, values schema.Record) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	for _, key := range values.Keys() {
		data, err := encodeValue(key, values[key])
		if err != nil {
			return err
		}
		if _, err := s.kv.Put(ctx, key, data); err != nil {
			return unavailable("put "+key, err)
		}
	}
	return nil
}

func (s *NATSStore) Remove(ctx context.Context, keys []string) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	for _, key := range keys {
		if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return unavailable("delete "+key, err)
		}
	}
	return nil
}

// Watch follows bucket updates only; the current contents are not replayed.
func (s *NATSStore) Watch(ctx context.Context) (<-chan []Change, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	watchCtx, cancel := context.WithCancel(ctx)
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()

	watcher, err := s.kv.WatchAll(watchCtx, jetstream.UpdatesOnly())
	if err != nil {
		cancel()
		return nil, unavailable("watch bucket", err)
	}

	out := make(chan []Change)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Stop() }()
		for {
			select {
			case <-watchCtx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				change, ok := s.toChange(entry)
				if !ok {
					continue
				}
				select {
				case out <- []Change{change}:
				case <-watchCtx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *NATSStore) toChange(entry jetstream.KeyValueEntry) (Change, bool) {
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return Change{Key: entry.Key(), Removed: true}, true
	default:
		v, err := decodeValue(entry.Value())
		if err != nil {
			s.opts.logger.Warn("Ignoring undecodable KV entry",
				logfields.Store("nats"), logfields.Error(fmt.Errorf("%s: %w", entry.Key(), err)))
			return Change{}, false
		}
		return Change{Key: entry.Key(), NewValue: v}, true
	}
}

func (s *NATSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, cancel := range s.cancels {
		cancel()
	}
	if s.ownsNC {
		s.conn.Close()
	}
	return nil
}
