package config

import (
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/focusguard/internal/broadcast"
	"git.home.luguber.info/inful/focusguard/internal/engine"
	"git.home.luguber.info/inful/focusguard/internal/messaging"
	"git.home.luguber.info/inful/focusguard/internal/store"
	"git.home.luguber.info/inful/focusguard/internal/timer"
)

// Default values not owned by another package.
const (
	DefaultNATSURL      = "nats://127.0.0.1:4222"
	DefaultAdminAddr    = "127.0.0.1:7787"
	DefaultMetricsPath  = "/metrics"
	DefaultHealthPath   = "/healthz"
	DefaultPollInterval = store.DefaultPollInterval
)

// Default returns a complete default configuration.
func Default() *Config {
	cfg := &Config{
		Version: Version,
		NATS:    NATSConfig{URL: DefaultNATSURL},
		Monitoring: MonitoringConfig{
			AdminAddr: DefaultAdminAddr,
			Metrics:   MonitoringMetrics{Enabled: true},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field.
func ApplyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = Version
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = store.KindFile
	}
	if cfg.Store.Path == "" {
		switch cfg.Store.Backend {
		case store.KindFile:
			cfg.Store.Path = filepath.Join(StateDir(), "state.json")
		case store.KindSQLite:
			cfg.Store.Path = filepath.Join(StateDir(), "state.db")
		}
	}
	if cfg.Store.PollInterval <= 0 {
		cfg.Store.PollInterval = DefaultPollInterval
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = messaging.DefaultSubjectPrefix
	}
	if cfg.NATS.Bucket == "" {
		cfg.NATS.Bucket = store.DefaultBucket
	}

	if cfg.Messaging.RequestTimeout <= 0 {
		cfg.Messaging.RequestTimeout = messaging.DefaultRequestTimeout
	}
	if cfg.Messaging.BroadcastTimeout <= 0 {
		cfg.Messaging.BroadcastTimeout = broadcast.DefaultTimeout
	}

	if cfg.Engine.QueueSize <= 0 {
		cfg.Engine.QueueSize = engine.DefaultQueueSize
	}
	if cfg.Engine.PersistTimeout <= 0 {
		cfg.Engine.PersistTimeout = engine.DefaultPersistTimeout
	}

	if cfg.Timers.FlowCheckInterval <= 0 {
		cfg.Timers.FlowCheckInterval = timer.DefaultFlowCheckInterval
	}
	if cfg.Timers.BreakCheckInterval <= 0 {
		cfg.Timers.BreakCheckInterval = timer.DefaultBreakCheckInterval
	}

	if cfg.Monitoring.Metrics.Path == "" {
		cfg.Monitoring.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Monitoring.Health.Path == "" {
		cfg.Monitoring.Health.Path = DefaultHealthPath
	}
	if cfg.Monitoring.Logging.Level == "" {
		cfg.Monitoring.Logging.Level = LogLevelInfo
	}
	if cfg.Monitoring.Logging.Format == "" {
		cfg.Monitoring.Logging.Format = LogFormatText
	}
}

// StateDir is where local stores live by default: $XDG_STATE_HOME/focusguard, else
// ~/.local/state/focusguard, else a directory under the system temp dir.
func StateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "focusguard")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "focusguard")
	}
	return filepath.Join(os.TempDir(), "focusguard")
}
