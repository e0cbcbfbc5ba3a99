// Package broadcast fans state deltas and reminders out to whoever is listening.
//
// Delivery is best effort: a sink that is down or slow costs at most the broadcast
// timeout and never fails the update that caused it. Listeners treat what they
// receive as advisory and resynchronize when they detect a gap.
package broadcast
