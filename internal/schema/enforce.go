package schema

// Enforce applies the cross-field invariants and is idempotent:
//
//   - flow requires a non-empty task
//   - a disabled state has no flow, no task and no timer
//   - without flow there is no timer
//   - timer fields exist together and timerEnd = timerStart + timerInterval
//   - host lists are normalized, deduped and sorted
func Enforce(s State) State {
	out := s.Clone()

	out.Task = NormalizeText(out.Task)
	out.BlockedSites = NormalizeHosts(out.BlockedSites)
	out.AllowedSites = NormalizeHosts(out.AllowedSites)
	out.BreakInterval = clampInt64(out.BreakInterval, MinBreakMinutes, MaxBreakMinutes)
	if out.LastBreakAt != nil && *out.LastBreakAt < 0 {
		out.LastBreakAt = nil
	}

	if !out.Enabled {
		out.Flow = false
		out.Task = ""
	}
	if out.Task == "" {
		out.Flow = false
	}

	if !out.Flow || out.TimerStart == nil || out.TimerInterval == nil || *out.TimerStart < 0 {
		out.TimerStart, out.TimerInterval, out.TimerEnd = nil, nil, nil
		return out
	}
	interval := clampInt64(*out.TimerInterval, MinTimerIntervalMS, MaxTimerIntervalMS)
	out.TimerInterval = Int64(interval)
	out.TimerEnd = Int64(*out.TimerStart + interval)
	return out
}
