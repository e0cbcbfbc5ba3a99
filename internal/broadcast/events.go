package broadcast

import (
	"time"

	"git.home.luguber.info/inful/focusguard/internal/messaging"
	"git.home.luguber.info/inful/focusguard/internal/schema"
)

// Event is anything that can be broadcast.
type Event interface {
	Message() messaging.Message
}

// StateUpdated reports the delta applied by one pipeline job. Seq increases by one per
// delta within a Lifetime.
type StateUpdated struct {
	Delta    schema.Record
	Lifetime string
	Seq      uint64
}

func (e StateUpdated) Message() messaging.Message {
	return messaging.Message{
		Action:   messaging.ActionStateUpdated,
		Delta:    e.Delta.Clone(),
		Lifetime: e.Lifetime,
		Seq:      e.Seq,
	}
}

// BreakReminder asks surfaces to prompt the user to take a break.
type BreakReminder struct {
	At       time.Time
	Lifetime string
}

func (e BreakReminder) Message() messaging.Message {
	return messaging.Message{
		Action:   messaging.ActionBreakReminder,
		At:       e.At.UnixMilli(),
		Lifetime: e.Lifetime,
	}
}
