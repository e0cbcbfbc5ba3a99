// Package daemon assembles the long-running focusguard process: the state store, the
// engine and its reconciliation listener, the request router on NATS, the scheduled
// timers, and the admin HTTP server for health and metrics.
package daemon
