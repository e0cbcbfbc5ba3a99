// Package engine owns the authoritative in-memory snapshot of focusguard state.
//
// An Engine hydrates once per lifetime from its store, then applies every change
// through a single worker goroutine in submission order:
//
//	UNINITIALIZED -> HYDRATING -> READY
//
// Each job computes the next state, persists the delta, advances the snapshot and
// broadcasts the delta, in that order. Writes made to the store by anyone else arrive
// on the store's change stream and are replayed through the same worker, so the
// snapshot, the broadcasts and the store converge on sanitized values.
package engine
