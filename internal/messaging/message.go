// Package messaging defines the request, response and broadcast envelopes exchanged
// between focusguard processes and the transports that carry them.
//
// Requests that get no answer within their timeout resolve to foundation.None rather
// than an error; callers decide what degraded path to take.
package messaging

import (
	"context"

	"git.home.luguber.info/inful/focusguard/internal/foundation"
	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/schema"
)

// Action tags a message.
type Action string

const (
	ActionGetState    Action = "getState"
	ActionUpdateState Action = "updateState"
	ActionStartFlow   Action = "startFlow"
	ActionEndFlow     Action = "endFlow"
	ActionPing        Action = "ping"

	ActionStateUpdated  Action = "stateUpdated"
	ActionBreakReminder Action = "breakReminder"
)

// Message is a request or broadcast envelope.
type Message struct {
	Action   Action        `json:"action"`
	Key      string        `json:"key,omitempty"`
	Keys     []string      `json:"keys,omitempty"`
	Payload  schema.Record `json:"payload,omitempty"`
	Delta    schema.Record `json:"delta,omitempty"`
	Lifetime string        `json:"lifetime,omitempty"`
	Seq      uint64        `json:"seq,omitempty"`
	At       int64         `json:"at,omitempty"`
}

// Response answers a request. State carries the full state or the requested subset.
// Lifetime and Seq identify the snapshot a read was served from.
type Response struct {
	Success  bool          `json:"success"`
	State    schema.Record `json:"state,omitempty"`
	Error    string        `json:"error,omitempty"`
	Category string        `json:"category,omitempty"`
	Lifetime string        `json:"lifetime,omitempty"`
	Seq      uint64        `json:"seq,omitempty"`
}

// Fail builds an unsuccessful response. Classified errors keep their category so the
// caller can tell a bad request from a refused one.
func Fail(err error) Response {
	classified, ok := errors.AsClassified(err)
	if !ok {
		return Response{Success: false, Error: err.Error()}
	}
	reason := classified.Message()
	if cause := classified.Cause(); cause != nil {
		reason += ": " + cause.Error()
	}
	return Response{Success: false, Error: reason, Category: string(classified.Category())}
}

// Trust is the trust level of a caller.
type Trust int

const (
	// Untrusted callers run inside third-party pages.
	Untrusted Trust = iota
	// Trusted callers are focusguard's own surfaces.
	Trusted
)

func (t Trust) String() string {
	if t == Trusted {
		return "trusted"
	}
	return "untrusted"
}

// Handler answers requests.
type Handler interface {
	Handle(ctx context.Context, trust Trust, msg Message) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, trust Trust, msg Message) Response

func (fn HandlerFunc) Handle(ctx context.Context, trust Trust, msg Message) Response {
	return fn(ctx, trust, msg)
}

// Sender issues requests. None means no answer arrived in time.
type Sender interface {
	Send(ctx context.Context, msg Message) foundation.Option[Response]
}
