// Package config loads the focusguard YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/store"
)

// Version is the configuration format version written by Init.
const Version = "1"

// Config is the focusguard configuration.
type Config struct {
	Version    string           `yaml:"version"`
	Store      StoreConfig      `yaml:"store"`
	NATS       NATSConfig       `yaml:"nats"`
	Messaging  MessagingConfig  `yaml:"messaging"`
	Engine     EngineConfig     `yaml:"engine"`
	Timers     TimersConfig     `yaml:"timers"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// StoreConfig selects the persistent store.
type StoreConfig struct {
	Backend      store.Kind    `yaml:"backend"`       // memory|file|sqlite|nats
	Path         string        `yaml:"path"`          // file and sqlite backends
	PollInterval time.Duration `yaml:"poll_interval"` // sqlite change detection
}

// NATSConfig configures the NATS connection used for requests, broadcasts and the
// nats store backend. An empty URL disables messaging.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Bucket        string `yaml:"bucket"`
}

// MessagingConfig bounds cross-process calls.
type MessagingConfig struct {
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	BroadcastTimeout time.Duration `yaml:"broadcast_timeout"`
}

// EngineConfig tunes the update pipeline.
type EngineConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	PersistTimeout time.Duration `yaml:"persist_timeout"`
}

// TimersConfig sets how often the scheduled checks run.
type TimersConfig struct {
	FlowCheckInterval  time.Duration `yaml:"flow_check_interval"`
	BreakCheckInterval time.Duration `yaml:"break_check_interval"`
}

// MonitoringConfig represents monitoring and observability configuration.
type MonitoringConfig struct {
	AdminAddr string            `yaml:"admin_addr"` // empty disables the admin server
	Metrics   MonitoringMetrics `yaml:"metrics"`
	Health    MonitoringHealth  `yaml:"health"`
	Logging   MonitoringLogging `yaml:"logging"`
}

// MonitoringMetrics represents metrics configuration.
type MonitoringMetrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MonitoringHealth represents health check configuration.
type MonitoringHealth struct {
	Path string `yaml:"path"`
}

// MonitoringLogging represents logging configuration.
type MonitoringLogging struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// Load reads, normalizes, defaults and validates the configuration at configPath.
// Variables from .env and .env.local are loaded first and ${VAR} references in the
// file are expanded. A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	cfg := &Config{}
	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		slog.Debug("Configuration file not found; using defaults", "path", configPath)
	case err != nil:
		return nil, errors.ConfigError("read configuration file").
			WithCause(err).
			WithContext("path", configPath).
			Build()
	default:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, errors.ConfigError("parse configuration file").
				WithCause(err).
				WithContext("path", configPath).
				Build()
		}
	}
	return Finalize(cfg)
}

// Finalize normalizes, defaults and validates cfg in place.
func Finalize(cfg *Config) (*Config, error) {
	if cfg.Version != "" && cfg.Version != Version {
		return nil, errors.ConfigError(fmt.Sprintf("unsupported configuration version %q (expected %s)", cfg.Version, Version)).Build()
	}
	res := Normalize(cfg)
	for _, w := range res.Warnings {
		slog.Warn("Configuration normalized", "detail", w)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
