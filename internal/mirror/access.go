package mirror

import (
	"context"
	"errors"
	"fmt"

	ferrors "git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/messaging"
	"git.home.luguber.info/inful/focusguard/internal/router"
	"git.home.luguber.info/inful/focusguard/internal/schema"
)

// Get reads keys (all visible keys when none are given) from the daemon, or from the
// store when the daemon does not answer. Unknown keys and keys this trust level may
// not read are rejected for a single key and dropped otherwise, as the daemon does.
func (m *Mirror) Get(ctx context.Context, keys ...string) (schema.Record, error) {
	msg := messaging.Message{Action: messaging.ActionGetState}
	switch len(keys) {
	case 0:
	case 1:
		msg.Key = keys[0]
	default:
		msg.Keys = keys
	}

	resp, err := m.Request(ctx, msg)
	if err == nil {
		return resp.State, nil
	}
	if !errors.Is(err, ErrNoAnswer) {
		return nil, err
	}

	if len(keys) == 1 && !router.Readable(m.trust, keys[0]) {
		return nil, ferrors.AuthError(fmt.Sprintf("read of %q not permitted", keys[0])).
			WithContext("key", keys[0]).
			Build()
	}
	state, err := m.readStore(ctx)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Daemon unavailable; read served from store", logfields.Keys(keys))
	if len(keys) == 0 {
		return state, nil
	}
	out := make(schema.Record, len(keys))
	for _, k := range keys {
		if v, ok := state[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Update asks the daemon to apply payload. Only trusted mirrors may write. When the
// daemon does not answer, the sanitized delta is written to the store directly and
// the daemon reconciles it once it sees the change. A concurrent daemon update can be
// overwritten in that window until reconciliation runs.
func (m *Mirror) Update(ctx context.Context, payload schema.Record) error {
	if m.trust != messaging.Trusted {
		return ferrors.AuthError("update not permitted for untrusted caller").Build()
	}
	_, err := m.Request(ctx, messaging.Message{Action: messaging.ActionUpdateState, Payload: payload})
	if err == nil || !errors.Is(err, ErrNoAnswer) {
		return err
	}
	if m.store == nil {
		return err
	}
	if err := router.ValidatePayload(payload); err != nil {
		return err
	}

	raw, err := m.store.GetAll(ctx)
	if err != nil {
		return err
	}
	current := schema.Sanitize(raw)
	delta := schema.Diff(current, schema.ComputeNextState(current, payload))
	if len(delta) == 0 {
		return nil
	}
	if err := m.store.Set(ctx, delta); err != nil {
		return err
	}
	m.logger.Info("Daemon unavailable; wrote delta to store", logfields.Keys(delta.Keys()))
	return nil
}
