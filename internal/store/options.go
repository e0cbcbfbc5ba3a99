package store

import (
	"log/slog"
	"time"
)

// DefaultPollInterval is how often stores without native notifications poll.
const DefaultPollInterval = 500 * time.Millisecond

type options struct {
	logger       *slog.Logger
	pollInterval time.Duration
}

// Option configures a store adapter.
type Option func(*options)

// WithLogger sets the logger used for change stream diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPollInterval sets how often stores without native notifications look for
// writes made by other processes.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.Default(), pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
