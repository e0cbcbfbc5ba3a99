package engine

import (
	"log/slog"
	"time"

	"git.home.luguber.info/inful/focusguard/internal/broadcast"
	"git.home.luguber.info/inful/focusguard/internal/metrics"
)

// DefaultQueueSize is the capacity of the job channel.
const DefaultQueueSize = 256

// DefaultPersistTimeout bounds each store call made by the worker.
const DefaultPersistTimeout = 5 * time.Second

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder. Defaults to metrics.NoopRecorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithBroadcaster sets where applied deltas are broadcast.
func WithBroadcaster(b *broadcast.Broadcaster) Option {
	return func(e *Engine) { e.broadcaster = b }
}

// WithQueueSize sets the job channel capacity.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithPersistTimeout bounds each store call made during hydration and by the worker.
func WithPersistTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.persistTimeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
