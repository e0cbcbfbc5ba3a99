// Package schema defines the focusguard state record and the pure functions that keep
// it valid: defaults, per-field normalization, cross-field invariants and deltas.
//
// Nothing in this package performs I/O. Raw input (a record read back from a store, a
// request payload decoded from JSON) enters through Sanitize or ComputeNextState and
// always leaves as a State on which Enforce is a no-op.
package schema
