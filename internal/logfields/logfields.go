package logfields

import (
	"log/slog"
	"strings"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyAction     = "action"
	KeyTrust      = "trust"
	KeyCaller     = "caller"
	KeyKeys       = "keys"
	KeyState      = "state"
	KeyLifetime   = "lifetime"
	KeySeq        = "seq"
	KeyStore      = "store"
	KeySubject    = "subject"
	KeyPath       = "path"
	KeyJob        = "job"
	KeyDurationMS = "duration_ms"
	KeyQueueDepth = "queue_depth"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Action(a string) slog.Attr       { return slog.String(KeyAction, a) }
func Trust(t string) slog.Attr        { return slog.String(KeyTrust, t) }
func Caller(c string) slog.Attr       { return slog.String(KeyCaller, c) }
func State(s string) slog.Attr        { return slog.String(KeyState, s) }
func Lifetime(id string) slog.Attr    { return slog.String(KeyLifetime, id) }
func Seq(n uint64) slog.Attr          { return slog.Uint64(KeySeq, n) }
func Store(kind string) slog.Attr     { return slog.String(KeyStore, kind) }
func Subject(s string) slog.Attr      { return slog.String(KeySubject, s) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Job(name string) slog.Attr       { return slog.String(KeyJob, name) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func QueueDepth(n int) slog.Attr      { return slog.Int(KeyQueueDepth, n) }

// Keys joins field names with commas so a single attribute stays greppable.
func Keys(keys []string) slog.Attr { return slog.String(KeyKeys, strings.Join(keys, ",")) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
