package messaging

import (
	"context"
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/focusguard/internal/foundation"
)

// DefaultRequestTimeout bounds every cross-process request.
const DefaultRequestTimeout = 750 * time.Millisecond

// Loopback delivers requests to an in-process Handler at a fixed trust level. Messages
// are round-tripped through JSON so handlers see the same value shapes a remote caller
// would produce.
type Loopback struct {
	handler Handler
	trust   Trust
	timeout time.Duration
}

// NewLoopback creates a sender. A zero timeout uses DefaultRequestTimeout.
func NewLoopback(h Handler, trust Trust, timeout time.Duration) *Loopback {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Loopback{handler: h, trust: trust, timeout: timeout}
}

func (l *Loopback) Send(ctx context.Context, msg Message) foundation.Option[Response] {
	if l.handler == nil {
		return foundation.None[Response]()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return foundation.None[Response]()
	}
	decoded, err := Decode(data)
	if err != nil {
		return foundation.Some(Fail(err))
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	done := make(chan Response, 1)
	go func() { done <- l.handler.Handle(ctx, l.trust, decoded) }()

	select {
	case resp := <-done:
		return roundTrip(resp)
	case <-ctx.Done():
		return foundation.None[Response]()
	}
}

func roundTrip(resp Response) foundation.Option[Response] {
	data, err := json.Marshal(resp)
	if err != nil {
		return foundation.None[Response]()
	}
	out, err := DecodeResponse(data)
	if err != nil {
		return foundation.None[Response]()
	}
	return foundation.Some(out)
}
