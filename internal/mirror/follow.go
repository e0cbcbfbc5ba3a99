package mirror

import (
	"context"

	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/messaging"
)

// Run follows broadcasts until ctx is done. It synchronizes once after subscribing
// and again whenever a broadcast shows a gap: a new daemon lifetime or a sequence
// number other than the next one.
func (m *Mirror) Run(ctx context.Context) error {
	if m.source == nil {
		return m.Sync(ctx)
	}
	msgs, err := m.source.Subscribe(ctx)
	if err != nil {
		return err
	}
	if err := m.Sync(ctx); err != nil {
		m.logger.Warn("Initial sync failed", logfields.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			m.Apply(ctx, msg)
		}
	}
}

// Apply handles one broadcast.
func (m *Mirror) Apply(ctx context.Context, msg messaging.Message) {
	switch msg.Action {
	case messaging.ActionStateUpdated:
		switch m.classify(msg) {
		case stale:
			return
		case gap:
			m.logger.Debug("Broadcast gap; resyncing",
				logfields.Lifetime(msg.Lifetime),
				logfields.Seq(msg.Seq))
			if err := m.Sync(ctx); err != nil {
				m.logger.Warn("Resync failed", logfields.Error(err))
				return
			}
		case next:
			m.applyDelta(msg)
		}
	case messaging.ActionBreakReminder:
	default:
		return
	}
	if m.listener != nil {
		m.listener(msg)
	}
}

type verdict int

const (
	next verdict = iota
	stale
	gap
)

func (m *Mirror) classify(msg messaging.Message) verdict {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case !m.synced || msg.Lifetime != m.lifetime:
		return gap
	case msg.Seq <= m.seq:
		return stale
	case msg.Seq == m.seq+1:
		return next
	default:
		return gap
	}
}

func (m *Mirror) applyDelta(msg messaging.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.project(msg.Delta) {
		m.state[k] = v
	}
	m.seq = msg.Seq
}
