package broadcast

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	ferrors "git.home.luguber.info/inful/focusguard/internal/foundation/errors"
)

// Bus is a small, typed, in-process event bus.
//
// Subscriptions are typed through generics. Publish blocks until every matching
// subscriber accepted the event or ctx is done. Close closes all subscription channels.
type Bus struct {
	mu        sync.RWMutex
	subs      map[reflect.Type]map[uint64]*subscriber
	nextID    atomic.Uint64
	isClosed  atomic.Bool
	closeOnce sync.Once
}

type subscriber struct {
	send  func(ctx context.Context, evt any) error
	close func()
}

func NewBus() *Bus {
	return &Bus{subs: make(map[reflect.Type]map[uint64]*subscriber)}
}

// Subscribe registers a subscription for events of type T.
//
// If T is an interface, published events whose concrete type implements T are
// delivered. For concrete T the concrete type must match exactly.
func Subscribe[T any](b *Bus, buffer int) (<-chan T, func()) {
	eventType := reflect.TypeFor[T]()
	ch := make(chan T, buffer)

	if b.isClosed.Load() {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID.Add(1)

	// chMu keeps a send from racing the close of ch.
	var (
		chMu     sync.RWMutex
		chClosed bool
	)
	closeChannel := func() {
		chMu.Lock()
		defer chMu.Unlock()
		if !chClosed {
			chClosed = true
			close(ch)
		}
	}

	var unsubOnce sync.Once
	unsubscribe := func() {
		unsubOnce.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if typeSubs, ok := b.subs[eventType]; ok {
				delete(typeSubs, id)
				if len(typeSubs) == 0 {
					delete(b.subs, eventType)
				}
			}
			closeChannel()
		})
	}

	sub := &subscriber{
		send: func(ctx context.Context, evt any) error {
			v, ok := evt.(T)
			if !ok {
				return ferrors.InternalError("event type mismatch").
					WithContext("expected", eventType.String()).
					WithContext("actual", reflect.TypeOf(evt).String()).
					Build()
			}
			chMu.RLock()
			defer chMu.RUnlock()
			if chClosed {
				return nil
			}
			select {
			case ch <- v:
				return nil
			default:
			}
			select {
			case ch <- v:
				return nil
			case <-ctx.Done():
				return ferrors.WrapError(ctx.Err(), ferrors.CategoryRuntime, "event publish canceled").
					WithContext("event_type", eventType.String()).
					Build()
			}
		},
		close: closeChannel,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed.Load() {
		closeChannel()
		return ch, func() {}
	}
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[uint64]*subscriber)
	}
	b.subs[eventType][id] = sub
	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers for events of type T.
func SubscriberCount[T any](b *Bus) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[reflect.TypeFor[T]()])
}

// Publish delivers evt to all matching subscribers. A subscriber that does not accept
// the event before ctx is done is skipped; the returned error joins all such failures.
func (b *Bus) Publish(ctx context.Context, evt any) error {
	if evt == nil {
		return ferrors.ValidationError("event cannot be nil").Build()
	}
	if b.isClosed.Load() {
		return ferrors.DaemonError("event bus is closed").Build()
	}

	evtType := reflect.TypeOf(evt)

	b.mu.RLock()
	var targets []*subscriber
	for subType, typeSubs := range b.subs {
		match := subType == evtType
		if !match && subType.Kind() == reflect.Interface {
			match = evtType.Implements(subType)
		}
		if !match {
			continue
		}
		for _, s := range typeSubs {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	var errs []error
	for _, s := range targets {
		if err := s.send(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the bus and all subscription channels.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.isClosed.Store(true)

		b.mu.Lock()
		var toClose []*subscriber
		for _, typeSubs := range b.subs {
			for _, s := range typeSubs {
				toClose = append(toClose, s)
			}
		}
		b.subs = make(map[reflect.Type]map[uint64]*subscriber)
		b.mu.Unlock()

		for _, s := range toClose {
			s.close()
		}
	})
}
