package retry

import (
	"context"
	"time"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
)

// Mode selects how the delay grows between attempts.
type Mode string

const (
	ModeFixed       Mode = "fixed"
	ModeLinear      Mode = "linear"
	ModeExponential Mode = "exponential"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode       Mode
	Initial    time.Duration // base delay
	Max        time.Duration // cap for growth
	MaxRetries int           // maximum retry attempts after the first failure
}

// DefaultPolicy returns exponential backoff from 250ms capped at 5s with 4 retries.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeExponential, Initial: 250 * time.Millisecond, Max: 5 * time.Second, MaxRetries: 4}
}

// NewPolicy builds a policy from raw fields; zero/invalid values fall back to defaults.
func NewPolicy(mode Mode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	switch mode {
	case ModeFixed, ModeLinear, ModeExponential:
		p.Mode = mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the backoff delay for the given retry attempt number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case ModeFixed:
		return p.Initial
	case ModeExponential:
		if retryCount > 30 {
			return p.Max
		}
		d := p.Initial * (1 << (retryCount - 1))
		if d > p.Max {
			return p.Max
		}
		return d
	default:
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	}
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	switch {
	case p.Initial <= 0:
		return errors.ConfigError("retry initial delay must be > 0").Build()
	case p.Max <= 0:
		return errors.ConfigError("retry max delay must be > 0").Build()
	case p.MaxRetries < 0:
		return errors.ConfigError("retry count cannot be negative").Build()
	}
	return nil
}

// Do runs fn until it succeeds, returns an error that is not transient, or the policy
// is exhausted. notify, when set, sees every failure that will be retried.
func (p Policy) Do(ctx context.Context, fn func() error, notify func(attempt int, err error, wait time.Duration)) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.IsTransient(err) || attempt >= p.MaxRetries {
			return err
		}
		wait := p.Delay(attempt + 1)
		if notify != nil {
			notify(attempt+1, err, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}
