package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/store"
)

// MaxQueueSize bounds engine.queue_size.
const MaxQueueSize = 1 << 16

// Validate checks a defaulted configuration. The first problem is returned as a
// config error naming the field.
func Validate(cfg *Config) error {
	v := validator{}
	v.store(cfg.Store, cfg.NATS)
	v.nats(cfg.NATS)
	v.positive("messaging.request_timeout", cfg.Messaging.RequestTimeout)
	v.positive("messaging.broadcast_timeout", cfg.Messaging.BroadcastTimeout)
	v.positive("engine.persist_timeout", cfg.Engine.PersistTimeout)
	v.positive("timers.flow_check_interval", cfg.Timers.FlowCheckInterval)
	v.positive("timers.break_check_interval", cfg.Timers.BreakCheckInterval)
	if cfg.Engine.QueueSize <= 0 || cfg.Engine.QueueSize > MaxQueueSize {
		v.fail("engine.queue_size", fmt.Sprintf("must be between 1 and %d", MaxQueueSize))
	}
	if addr := cfg.Monitoring.AdminAddr; addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			v.fail("monitoring.admin_addr", err.Error())
		}
	}
	if cfg.Monitoring.Metrics.Path == cfg.Monitoring.Health.Path {
		v.fail("monitoring.metrics.path", "must differ from monitoring.health.path")
	}
	return v.err
}

type validator struct {
	err error
}

func (v *validator) fail(field, reason string) {
	if v.err != nil {
		return
	}
	v.err = errors.ConfigError(fmt.Sprintf("invalid %s: %s", field, reason)).
		WithContext("field", field).
		Build()
}

func (v *validator) positive(field string, d time.Duration) {
	if d <= 0 {
		v.fail(field, "must be positive")
	}
}

func (v *validator) store(s StoreConfig, n NATSConfig) {
	switch s.Backend {
	case store.KindFile, store.KindSQLite:
		if s.Path == "" {
			v.fail("store.path", "required for the "+string(s.Backend)+" backend")
		}
	case store.KindNATS:
		if n.URL == "" {
			v.fail("nats.url", "required for the nats backend")
		}
	case store.KindMemory:
	default:
		v.fail("store.backend", fmt.Sprintf("unknown backend %q", s.Backend))
	}
	v.positive("store.poll_interval", s.PollInterval)
}

func (v *validator) nats(n NATSConfig) {
	if strings.ContainsAny(n.SubjectPrefix, " *>\t") {
		v.fail("nats.subject_prefix", "must not contain spaces or wildcards")
	}
	if strings.ContainsAny(n.Bucket, " .*>") {
		v.fail("nats.bucket", "must not contain spaces, dots or wildcards")
	}
	if n.URL != "" && !strings.Contains(n.URL, "://") {
		v.fail("nats.url", "must include a scheme such as nats://")
	}
}
