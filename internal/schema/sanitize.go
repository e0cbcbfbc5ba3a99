package schema

import (
	"fmt"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
)

// assign writes the normalized form of raw into the field of s named by key. It
// reports false, leaving s untouched, when raw has the wrong shape for the field.
func assign(s *State, key string, raw any) bool {
	switch key {
	case KeyEnabled:
		return assignBool(&s.Enabled, raw)
	case KeyFlow:
		return assignBool(&s.Flow, raw)
	case KeyBreakReminders:
		return assignBool(&s.BreakReminders, raw)
	case KeyWarningOverlay:
		return assignBool(&s.WarningOverlay, raw)
	case KeyTask:
		str, ok := raw.(string)
		if !ok {
			return false
		}
		s.Task = NormalizeText(str)
		return true
	case KeyBlockedSites:
		return assignHosts(&s.BlockedSites, raw)
	case KeyAllowedSites:
		return assignHosts(&s.AllowedSites, raw)
	case KeyTimerStart:
		return assignTimestamp(&s.TimerStart, raw)
	case KeyTimerEnd:
		return assignTimestamp(&s.TimerEnd, raw)
	case KeyLastBreakAt:
		return assignTimestamp(&s.LastBreakAt, raw)
	case KeyTimerInterval:
		if raw == nil {
			s.TimerInterval = nil
			return true
		}
		n, ok := toInt64(raw)
		if !ok {
			return false
		}
		s.TimerInterval = Int64(clampInt64(n, MinTimerIntervalMS, MaxTimerIntervalMS))
		return true
	case KeyBreakInterval:
		n, ok := toInt64(raw)
		if !ok {
			return false
		}
		s.BreakInterval = clampInt64(n, MinBreakMinutes, MaxBreakMinutes)
		return true
	default:
		return false
	}
}

func assignBool(dst *bool, raw any) bool {
	b, ok := raw.(bool)
	if ok {
		*dst = b
	}
	return ok
}

func assignHosts(dst *[]string, raw any) bool {
	list, ok := toHostList(raw)
	if ok {
		*dst = list
	}
	return ok
}

func assignTimestamp(dst **int64, raw any) bool {
	if raw == nil {
		*dst = nil
		return true
	}
	n, ok := toInt64(raw)
	if !ok || n < 0 {
		return false
	}
	*dst = Int64(n)
	return true
}

// Sanitize turns an arbitrary record into a valid State. Missing fields and fields of
// the wrong type take their default value; unknown keys are ignored. A nil record
// yields the defaults.
func Sanitize(raw Record) State {
	s := DefaultState()
	for _, key := range keyOrder {
		if v, ok := raw[key]; ok {
			assign(&s, key, v)
		}
	}
	return Enforce(s)
}

// ComputeNextState applies updates on top of current. Only keys present in updates
// are touched and a value of the wrong type keeps the current value. Invariants are
// enforced last and may override what the caller asked for.
func ComputeNextState(current State, updates Record) State {
	next := current.Clone()
	for _, key := range keyOrder {
		if v, ok := updates[key]; ok {
			assign(&next, key, v)
		}
	}
	return Enforce(next)
}

// Canonical returns the normalized value raw would take for key, without cross-field
// invariants. It fails for unknown keys and values of the wrong type.
func Canonical(key string, raw any) (any, error) {
	if !IsKey(key) {
		return nil, errors.ValidationError(fmt.Sprintf("unknown key %q", key)).
			WithContext("key", key).
			Build()
	}
	var s State
	if !assign(&s, key, raw) {
		return nil, errors.ValidationError(fmt.Sprintf("invalid value for %q", key)).
			WithContext("key", key).
			WithContext("type", fmt.Sprintf("%T", raw)).
			Build()
	}
	v, _ := s.Get(key)
	return v, nil
}
