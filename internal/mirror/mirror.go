// Package mirror keeps an advisory local copy of focusguard state for a UI or content
// surface. The copy follows broadcasts and resyncs from the daemon whenever it may
// have missed one. When the daemon does not answer, reads and (for trusted surfaces)
// writes fall back to the store directly; the daemon reconciles such writes when it
// sees them.
package mirror

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/focusguard/internal/broadcast"
	ferrors "git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/messaging"
	"git.home.luguber.info/inful/focusguard/internal/router"
	"git.home.luguber.info/inful/focusguard/internal/schema"
	"git.home.luguber.info/inful/focusguard/internal/store"
)

var (
	// ErrNoAnswer means the daemon did not answer in time and no fallback applies.
	ErrNoAnswer = ferrors.TransportError("daemon did not answer").Build()
	// ErrRejected is the cause of every error built from an unsuccessful response.
	ErrRejected = errors.New("rejected by daemon")
)

// Option configures a Mirror.
type Option func(*Mirror)

// WithStore enables the direct store fallback.
func WithStore(st store.Store) Option {
	return func(m *Mirror) { m.store = st }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mirror) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithListener registers fn to be called with every broadcast the mirror applies
// and every break reminder it sees.
func WithListener(fn func(messaging.Message)) Option {
	return func(m *Mirror) { m.listener = fn }
}

// Mirror is a surface's local copy of state.
type Mirror struct {
	sender   messaging.Sender
	source   broadcast.Source
	trust    messaging.Trust
	store    store.Store
	logger   *slog.Logger
	listener func(messaging.Message)

	mu       sync.RWMutex
	state    schema.Record
	lifetime string
	seq      uint64
	synced   bool
	resyncs  int
}

// New creates a mirror that talks to the daemon through sender and follows
// broadcasts from source. Either may be nil.
func New(sender messaging.Sender, source broadcast.Source, trust messaging.Trust, opts ...Option) *Mirror {
	m := &Mirror{
		sender: sender,
		source: source,
		trust:  trust,
		logger: slog.Default(),
		state:  schema.Record{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logfields.Trust(trust.String()))
	return m
}

// State returns a copy of the mirrored state with the lifetime and sequence number it
// was last synchronized to.
func (m *Mirror) State() (schema.Record, string, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone(), m.lifetime, m.seq
}

// Synced reports whether the mirror holds a full copy.
func (m *Mirror) Synced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.synced
}

// Resyncs counts full resynchronizations after the first one.
func (m *Mirror) Resyncs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resyncs
}

// Request sends msg to the daemon. A missing answer is ErrNoAnswer and an
// unsuccessful answer becomes an error carrying its reason.
func (m *Mirror) Request(ctx context.Context, msg messaging.Message) (messaging.Response, error) {
	if m.sender == nil {
		return messaging.Response{}, ErrNoAnswer
	}
	opt := m.sender.Send(ctx, msg)
	if opt.IsNone() {
		return messaging.Response{}, ErrNoAnswer
	}
	resp := opt.Unwrap()
	if !resp.Success {
		return resp, rejection(msg, resp)
	}
	return resp, nil
}

// rejection keeps the category the daemon reported. Responses without one are
// treated as bad requests.
func rejection(msg messaging.Message, resp messaging.Response) error {
	category := ferrors.ErrorCategory(resp.Category)
	if category == "" {
		category = ferrors.CategoryValidation
	}
	return ferrors.NewError(category, resp.Error).
		WithCause(ErrRejected).
		WithContext("action", string(msg.Action)).
		Build()
}

// Sync replaces the local copy with the daemon's state, or with the sanitized store
// content when the daemon does not answer.
func (m *Mirror) Sync(ctx context.Context) error {
	resp, err := m.Request(ctx, messaging.Message{Action: messaging.ActionGetState})
	if err == nil {
		m.replace(resp.State, resp.Lifetime, resp.Seq)
		return nil
	}
	if !errors.Is(err, ErrNoAnswer) {
		return err
	}
	state, ferr := m.readStore(ctx)
	if ferr != nil {
		return ferr
	}
	m.logger.Debug("Daemon unavailable; mirrored state read from store")
	m.replace(state, "", 0)
	return nil
}

func (m *Mirror) replace(state schema.Record, lifetime string, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.synced {
		m.resyncs++
	}
	m.state = m.project(state)
	m.lifetime = lifetime
	m.seq = seq
	m.synced = true
}

// project drops keys this mirror's trust level may not see.
func (m *Mirror) project(rec schema.Record) schema.Record {
	out := make(schema.Record, len(rec))
	for k, v := range rec {
		if router.Readable(m.trust, k) {
			out[k] = v
		}
	}
	return out
}

// readStore returns the sanitized store content visible at this trust level.
func (m *Mirror) readStore(ctx context.Context) (schema.Record, error) {
	if m.store == nil {
		return nil, ErrNoAnswer
	}
	raw, err := m.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return m.project(schema.Sanitize(raw).Record()), nil
}
