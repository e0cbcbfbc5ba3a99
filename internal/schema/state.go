package schema

import (
	"maps"
	"slices"
)

// Field keys of the persisted record.
const (
	KeyEnabled        = "enabled"
	KeyFlow           = "flow"
	KeyTask           = "task"
	KeyBlockedSites   = "blockedSites"
	KeyAllowedSites   = "allowedSites"
	KeyTimerStart     = "timerStart"
	KeyTimerInterval  = "timerInterval"
	KeyTimerEnd       = "timerEnd"
	KeyBreakReminders = "breakReminders"
	KeyBreakInterval  = "breakInterval"
	KeyWarningOverlay = "warningOverlay"
	KeyLastBreakAt    = "lastBreakAt"
)

// Bounds applied during normalization.
const (
	MaxTaskRunes = 120
	MaxHosts     = 500

	MinTimerIntervalMS int64 = 60_000
	MaxTimerIntervalMS int64 = 14_400_000

	MinBreakMinutes     int64 = 5
	MaxBreakMinutes     int64 = 180
	DefaultBreakMinutes int64 = 50
)

var defaultBlockedSites = []string{
	"facebook.com",
	"instagram.com",
	"reddit.com",
	"twitter.com",
	"youtube.com",
}

var keyOrder = []string{
	KeyEnabled,
	KeyFlow,
	KeyTask,
	KeyBlockedSites,
	KeyAllowedSites,
	KeyTimerStart,
	KeyTimerInterval,
	KeyTimerEnd,
	KeyBreakReminders,
	KeyBreakInterval,
	KeyWarningOverlay,
	KeyLastBreakAt,
}

var keySet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(keyOrder))
	for _, k := range keyOrder {
		m[k] = struct{}{}
	}
	return m
}()

// Keys returns every schema key in declaration order.
func Keys() []string { return slices.Clone(keyOrder) }

// IsKey reports whether key belongs to the schema.
func IsKey(key string) bool {
	_, ok := keySet[key]
	return ok
}

// State is the full, typed focusguard state.
type State struct {
	Enabled        bool
	Flow           bool
	Task           string
	BlockedSites   []string
	AllowedSites   []string
	TimerStart     *int64
	TimerInterval  *int64
	TimerEnd       *int64
	BreakReminders bool
	BreakInterval  int64
	WarningOverlay bool
	LastBreakAt    *int64
}

// Record is a partial or raw state keyed by field name. Values produced by this
// package are bool, string, []string, int64 or nil.
type Record map[string]any

// Keys returns the record's keys sorted.
func (r Record) Keys() []string {
	return slices.Sorted(maps.Keys(r))
}

// Clone returns a copy whose string slices are not shared with r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if list, ok := v.([]string); ok {
			v = slices.Clone(list)
		}
		out[k] = v
	}
	return out
}

// DefaultState returns a fresh default state. Host lists are never shared between calls.
func DefaultState() State {
	return State{
		Enabled:        true,
		BlockedSites:   slices.Clone(defaultBlockedSites),
		AllowedSites:   []string{},
		BreakReminders: true,
		BreakInterval:  DefaultBreakMinutes,
		WarningOverlay: true,
	}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.BlockedSites = cloneHosts(s.BlockedSites)
	out.AllowedSites = cloneHosts(s.AllowedSites)
	out.TimerStart = clonePtr(s.TimerStart)
	out.TimerInterval = clonePtr(s.TimerInterval)
	out.TimerEnd = clonePtr(s.TimerEnd)
	out.LastBreakAt = clonePtr(s.LastBreakAt)
	return out
}

// Get returns the canonical record value of key.
func (s State) Get(key string) (any, bool) {
	switch key {
	case KeyEnabled:
		return s.Enabled, true
	case KeyFlow:
		return s.Flow, true
	case KeyTask:
		return s.Task, true
	case KeyBlockedSites:
		return cloneHosts(s.BlockedSites), true
	case KeyAllowedSites:
		return cloneHosts(s.AllowedSites), true
	case KeyTimerStart:
		return ptrValue(s.TimerStart), true
	case KeyTimerInterval:
		return ptrValue(s.TimerInterval), true
	case KeyTimerEnd:
		return ptrValue(s.TimerEnd), true
	case KeyBreakReminders:
		return s.BreakReminders, true
	case KeyBreakInterval:
		return s.BreakInterval, true
	case KeyWarningOverlay:
		return s.WarningOverlay, true
	case KeyLastBreakAt:
		return ptrValue(s.LastBreakAt), true
	default:
		return nil, false
	}
}

// Record returns every field of s as a canonical record.
func (s State) Record() Record {
	return s.Subset(keyOrder)
}

// Subset returns the canonical values of the given keys. Unknown keys are skipped.
func (s State) Subset(keys []string) Record {
	out := make(Record, len(keys))
	for _, k := range keys {
		if v, ok := s.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

// Equal reports whether a and b hold the same values.
func (s State) Equal(o State) bool {
	return len(Diff(s, o)) == 0
}

// FlowActive reports whether a timed flow session is running.
func (s State) FlowActive() bool {
	return s.Flow && s.TimerEnd != nil
}

func cloneHosts(list []string) []string {
	if list == nil {
		return []string{}
	}
	return slices.Clone(list)
}

func clonePtr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptrValue(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
