package broadcast

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	ferrors "git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/messaging"
)

const sourceBuffer = 64

// Source yields broadcast envelopes until ctx is done.
type Source interface {
	Subscribe(ctx context.Context) (<-chan messaging.Message, error)
}

// BusSource listens on an in-process Bus.
type BusSource struct {
	Bus *Bus
}

func (s BusSource) Subscribe(ctx context.Context) (<-chan messaging.Message, error) {
	events, unsubscribe := Subscribe[Event](s.Bus, sourceBuffer)
	out := make(chan messaging.Message, sourceBuffer)
	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case out <- evt.Message():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// NATSSource listens on a NATS subject. Undecodable envelopes are dropped.
type NATSSource struct {
	Conn    *nats.Conn
	Subject string
	Logger  *slog.Logger
}

func (s NATSSource) Subscribe(ctx context.Context) (<-chan messaging.Message, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	raw := make(chan *nats.Msg, sourceBuffer)
	sub, err := s.Conn.ChanSubscribe(s.Subject, raw)
	if err != nil {
		return nil, ferrors.TransportError("subscribe " + s.Subject).WithCause(err).Build()
	}

	out := make(chan messaging.Message, sourceBuffer)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-raw:
				msg, err := messaging.Decode(m.Data)
				if err != nil {
					logger.Debug("Dropping malformed broadcast", logfields.Subject(s.Subject), logfields.Error(err))
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
