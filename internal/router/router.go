// Package router answers getState, updateState and flow requests on behalf of the
// engine and enforces which keys each trust level may read or write.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/messaging"
	"git.home.luguber.info/inful/focusguard/internal/metrics"
	"git.home.luguber.info/inful/focusguard/internal/schema"
	"git.home.luguber.info/inful/focusguard/internal/util/sets"
)

// Engine is the part of engine.Engine the router drives.
type Engine interface {
	SnapshotSeq(ctx context.Context) (schema.State, uint64, error)
	Update(ctx context.Context, payload schema.Record) bool
	StartFlow(ctx context.Context, task string, interval time.Duration) bool
	EndFlow(ctx context.Context) bool
	Lifetime() string
}

// MaxFlowMinutes is the longest flow a startFlow request may ask for.
const MaxFlowMinutes = schema.MaxTimerIntervalMS / 60_000

var (
	// readableUntrusted are the keys untrusted callers may read.
	readableUntrusted = sets.New(
		schema.KeyEnabled,
		schema.KeyFlow,
		schema.KeyTask,
		schema.KeyBlockedSites,
		schema.KeyAllowedSites,
		schema.KeyWarningOverlay,
	)
	// writable are the keys trusted callers may set through updateState.
	writable = sets.New(
		schema.KeyEnabled,
		schema.KeyTask,
		schema.KeyBlockedSites,
		schema.KeyAllowedSites,
		schema.KeyBreakReminders,
		schema.KeyBreakInterval,
		schema.KeyWarningOverlay,
	)
)

// Readable reports whether a caller with trust may read key.
func Readable(trust messaging.Trust, key string) bool {
	if !schema.IsKey(key) {
		return false
	}
	return trust == messaging.Trusted || readableUntrusted.Has(key)
}

// Writable reports whether key may be set through updateState.
func Writable(key string) bool { return writable.Has(key) }

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Router) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// Router implements messaging.Handler.
type Router struct {
	engine   Engine
	logger   *slog.Logger
	recorder metrics.Recorder
}

// New creates a Router over eng.
func New(eng Engine, opts ...Option) *Router {
	r := &Router{engine: eng, logger: slog.Default(), recorder: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ messaging.Handler = (*Router)(nil)

// Handle answers one request. Rejections come back as unsuccessful responses.
func (r *Router) Handle(ctx context.Context, trust messaging.Trust, msg messaging.Message) messaging.Response {
	resp, err := r.dispatch(ctx, trust, msg)
	r.recorder.IncRequest(string(msg.Action), trust.String(), err == nil)
	if err != nil {
		level := slog.LevelDebug
		if errors.HasCategory(err, errors.CategoryAuth) {
			level = slog.LevelWarn
		}
		r.logger.Log(ctx, level, "Request rejected",
			logfields.Action(string(msg.Action)),
			logfields.Trust(trust.String()),
			logfields.Error(err))
		return messaging.Fail(err)
	}
	return resp
}

func (r *Router) dispatch(ctx context.Context, trust messaging.Trust, msg messaging.Message) (messaging.Response, error) {
	switch msg.Action {
	case messaging.ActionGetState:
		return r.getState(ctx, trust, msg)
	case messaging.ActionUpdateState:
		return r.updateState(ctx, trust, msg)
	case messaging.ActionStartFlow:
		return r.startFlow(ctx, trust, msg)
	case messaging.ActionEndFlow:
		return r.endFlow(ctx, trust)
	case messaging.ActionPing:
		return r.read(ctx, func(schema.State) schema.Record { return nil })
	default:
		return messaging.Response{}, errors.ValidationError(fmt.Sprintf("unknown action %q", msg.Action)).
			WithContext("action", string(msg.Action)).
			Build()
	}
}

func (r *Router) getState(ctx context.Context, trust messaging.Trust, msg messaging.Message) (messaging.Response, error) {
	switch {
	case msg.Key != "":
		if !schema.IsKey(msg.Key) {
			return messaging.Response{}, errors.ValidationError(fmt.Sprintf("unknown key %q", msg.Key)).
				WithContext("key", msg.Key).
				Build()
		}
		if !Readable(trust, msg.Key) {
			return messaging.Response{}, denied("read", msg.Key)
		}
		return r.read(ctx, func(s schema.State) schema.Record { return s.Subset([]string{msg.Key}) })
	case len(msg.Keys) > 0:
		keys := make([]string, 0, len(msg.Keys))
		for _, k := range msg.Keys {
			if Readable(trust, k) {
				keys = append(keys, k)
			}
		}
		return r.read(ctx, func(s schema.State) schema.Record { return s.Subset(keys) })
	case trust == messaging.Trusted:
		return r.read(ctx, schema.State.Record)
	default:
		return r.read(ctx, func(s schema.State) schema.Record { return s.Subset(sets.Sorted(readableUntrusted)) })
	}
}

// PublicKeys returns the keys untrusted callers may read, sorted.
func PublicKeys() []string { return sets.Sorted(readableUntrusted) }

func (r *Router) read(ctx context.Context, project func(schema.State) schema.Record) (messaging.Response, error) {
	s, seq, err := r.engine.SnapshotSeq(ctx)
	if err != nil {
		return messaging.Response{}, errors.RuntimeError("state not ready").WithCause(err).Build()
	}
	return messaging.Response{
		Success:  true,
		State:    project(s),
		Lifetime: r.engine.Lifetime(),
		Seq:      seq,
	}, nil
}

func (r *Router) updateState(ctx context.Context, trust messaging.Trust, msg messaging.Message) (messaging.Response, error) {
	if trust != messaging.Trusted {
		return messaging.Response{}, denied("update", "")
	}
	if msg.Payload == nil {
		return messaging.Response{}, errors.ValidationError("updateState requires a payload").Build()
	}
	if err := ValidatePayload(msg.Payload); err != nil {
		return messaging.Response{}, err
	}
	if !r.engine.Update(ctx, msg.Payload) {
		return messaging.Response{}, errors.RuntimeError("update not applied").
			WithContext("keys", msg.Payload.Keys()).
			Build()
	}
	return r.read(ctx, func(s schema.State) schema.Record { return s.Subset(msg.Payload.Keys()) })
}

// ValidatePayload checks that every key of an update payload exists, is writable and
// carries a value of the right type. The first problem rejects the whole payload.
func ValidatePayload(payload schema.Record) error {
	for _, key := range payload.Keys() {
		if !schema.IsKey(key) {
			return errors.ValidationError(fmt.Sprintf("unknown key %q", key)).WithContext("key", key).Build()
		}
		if !Writable(key) {
			return denied("write", key)
		}
		if _, err := schema.Canonical(key, payload[key]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) startFlow(ctx context.Context, trust messaging.Trust, msg messaging.Message) (messaging.Response, error) {
	if trust != messaging.Trusted {
		return messaging.Response{}, denied("start flow", "")
	}
	task, _ := msg.Payload["task"].(string)
	task = schema.NormalizeText(task)
	if task == "" {
		return messaging.Response{}, errors.ValidationError("startFlow requires a non-empty task").Build()
	}
	minutes, err := flowMinutes(msg.Payload["minutes"])
	if err != nil {
		return messaging.Response{}, err
	}
	if !r.engine.StartFlow(ctx, task, time.Duration(minutes)*time.Minute) {
		return messaging.Response{}, errors.RuntimeError("flow not started").Build()
	}
	resp, err := r.read(ctx, flowProjection)
	if err != nil {
		return resp, err
	}
	if started, _ := resp.State[schema.KeyFlow].(bool); !started {
		return messaging.Response{}, errors.ValidationError("flow not started while focusguard is disabled").Build()
	}
	return resp, nil
}

func (r *Router) endFlow(ctx context.Context, trust messaging.Trust) (messaging.Response, error) {
	if trust != messaging.Trusted {
		return messaging.Response{}, denied("end flow", "")
	}
	if !r.engine.EndFlow(ctx) {
		return messaging.Response{}, errors.RuntimeError("flow not ended").Build()
	}
	return r.read(ctx, flowProjection)
}

func flowProjection(s schema.State) schema.Record {
	return s.Subset([]string{
		schema.KeyFlow,
		schema.KeyTask,
		schema.KeyTimerStart,
		schema.KeyTimerInterval,
		schema.KeyTimerEnd,
	})
}

// flowMinutes reads the optional minutes of a startFlow payload. Absent or null means
// an untimed flow.
func flowMinutes(raw any) (int64, error) {
	var f float64
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, invalidMinutes(raw)
		}
		f = n
	default:
		return 0, invalidMinutes(raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, invalidMinutes(raw)
	}
	return min(int64(math.Round(f)), MaxFlowMinutes), nil
}

func invalidMinutes(raw any) error {
	return errors.ValidationError("minutes must be a non-negative number").
		WithContext("type", fmt.Sprintf("%T", raw)).
		Build()
}

func denied(op, key string) error {
	if key == "" {
		return errors.AuthError(op + " not permitted for untrusted caller").Build()
	}
	return errors.AuthError(fmt.Sprintf("%s of %q not permitted", op, key)).
		WithContext("key", key).
		Build()
}
