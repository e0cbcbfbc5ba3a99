package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	ferrors "git.home.luguber.info/inful/focusguard/internal/foundation/errors"
)

// DefaultTimeout bounds the delivery of one broadcast to one sink.
const DefaultTimeout = 250 * time.Millisecond

// Sink receives broadcasts.
type Sink interface {
	Deliver(ctx context.Context, evt Event) error
}

// SinkFunc allows plain functions to satisfy Sink.
type SinkFunc func(ctx context.Context, evt Event) error

func (fn SinkFunc) Deliver(ctx context.Context, evt Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, evt)
}

// Broadcaster fans events out to zero or more sinks.
type Broadcaster struct {
	sinks   []Sink
	timeout time.Duration
}

// New creates a broadcaster. A zero timeout uses DefaultTimeout.
func New(timeout time.Duration, sinks ...Sink) *Broadcaster {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Broadcaster{sinks: sinks, timeout: timeout}
}

// Broadcast delivers evt to every sink, each under its own timeout, and joins the
// failures.
func (b *Broadcaster) Broadcast(ctx context.Context, evt Event) error {
	if b == nil || len(b.sinks) == 0 {
		return nil
	}
	var errs []error
	for _, sink := range b.sinks {
		if sink == nil {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, b.timeout)
		err := sink.Deliver(sctx, evt)
		cancel()
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BusSink publishes events on an in-process Bus.
type BusSink struct {
	Bus *Bus
}

func (s BusSink) Deliver(ctx context.Context, evt Event) error {
	return s.Bus.Publish(ctx, evt)
}

// NATSPublisher publishes event envelopes as JSON on a subject.
type NATSPublisher struct {
	Conn    *nats.Conn
	Subject string
}

func (p NATSPublisher) Deliver(_ context.Context, evt Event) error {
	data, err := json.Marshal(evt.Message())
	if err != nil {
		return ferrors.InternalError("encode broadcast").WithCause(err).Build()
	}
	if err := p.Conn.Publish(p.Subject, data); err != nil {
		return ferrors.TransportError("publish broadcast").
			WithCause(err).
			WithContext("subject", p.Subject).
			Build()
	}
	return nil
}
