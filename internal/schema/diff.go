package schema

import "slices"

// Diff returns the fields whose value differs between prev and next, holding next's
// values. Lists compare by contents and pointers by the value they point to.
func Diff(prev, next State) Record {
	delta := make(Record)
	if prev.Enabled != next.Enabled {
		delta[KeyEnabled] = next.Enabled
	}
	if prev.Flow != next.Flow {
		delta[KeyFlow] = next.Flow
	}
	if prev.Task != next.Task {
		delta[KeyTask] = next.Task
	}
	if !slices.Equal(prev.BlockedSites, next.BlockedSites) {
		delta[KeyBlockedSites] = cloneHosts(next.BlockedSites)
	}
	if !slices.Equal(prev.AllowedSites, next.AllowedSites) {
		delta[KeyAllowedSites] = cloneHosts(next.AllowedSites)
	}
	if !equalPtr(prev.TimerStart, next.TimerStart) {
		delta[KeyTimerStart] = ptrValue(next.TimerStart)
	}
	if !equalPtr(prev.TimerInterval, next.TimerInterval) {
		delta[KeyTimerInterval] = ptrValue(next.TimerInterval)
	}
	if !equalPtr(prev.TimerEnd, next.TimerEnd) {
		delta[KeyTimerEnd] = ptrValue(next.TimerEnd)
	}
	if prev.BreakReminders != next.BreakReminders {
		delta[KeyBreakReminders] = next.BreakReminders
	}
	if prev.BreakInterval != next.BreakInterval {
		delta[KeyBreakInterval] = next.BreakInterval
	}
	if prev.WarningOverlay != next.WarningOverlay {
		delta[KeyWarningOverlay] = next.WarningOverlay
	}
	if !equalPtr(prev.LastBreakAt, next.LastBreakAt) {
		delta[KeyLastBreakAt] = ptrValue(next.LastBreakAt)
	}
	return delta
}

func equalPtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
