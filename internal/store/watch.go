package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"git.home.luguber.info/inful/focusguard/internal/canonical"
)

// fanout delivers change batches to any number of watchers. Each watcher has an
// unbounded queue drained by its own goroutine so publishing never blocks a writer.
type fanout struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	mu     sync.Mutex
	queue  [][]Change
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newFanout() *fanout {
	return &fanout{subs: make(map[*subscriber]struct{})}
}

func (f *fanout) subscribe(ctx context.Context) (<-chan []Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrStoreClosed
	}

	sub := &subscriber{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	f.subs[sub] = struct{}{}
	out := make(chan []Change)
	go f.pump(ctx, sub, out)
	return out, nil
}

func (f *fanout) pump(ctx context.Context, sub *subscriber, out chan<- []Change) {
	defer close(out)
	defer f.unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case <-sub.signal:
		}

		for {
			sub.mu.Lock()
			if len(sub.queue) == 0 {
				sub.mu.Unlock()
				break
			}
			batch := sub.queue[0]
			sub.queue = sub.queue[1:]
			sub.mu.Unlock()

			select {
			case out <- batch:
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			}
		}
	}
}

func (f *fanout) unsubscribe(sub *subscriber) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
	sub.stop()
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (f *fanout) publish(batch []Change) {
	if len(batch) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		sub.mu.Lock()
		sub.queue = append(sub.queue, batch)
		sub.mu.Unlock()
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

func (f *fanout) active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs) > 0
}

func (f *fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for sub := range f.subs {
		sub.stop()
	}
}

// diffSnapshots lists the changes that turn prev into next, sorted by key.
func diffSnapshots(prev, next map[string]any) []Change {
	var changes []Change
	for key, v := range next {
		old, ok := prev[key]
		if ok && canonical.Equal(old, v) {
			continue
		}
		changes = append(changes, Change{Key: key, NewValue: v})
	}
	for key := range prev {
		if _, ok := next[key]; !ok {
			changes = append(changes, Change{Key: key, Removed: true})
		}
	}
	sortChanges(changes)
	return changes
}

func sortChanges(changes []Change) {
	slices.SortFunc(changes, func(a, b Change) int { return strings.Compare(a.Key, b.Key) })
}
