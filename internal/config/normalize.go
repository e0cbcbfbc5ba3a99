package config

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/focusguard/internal/store"
)

// NormalizationResult captures adjustments made during normalization.
type NormalizationResult struct {
	Warnings []string
}

// Normalize case-folds enumerations and trims free-form strings, recording a warning
// for every change.
func Normalize(cfg *Config) *NormalizationResult {
	res := &NormalizationResult{}
	if cfg == nil {
		return res
	}

	if cfg.Store.Backend != "" {
		r := store.Kinds.NormalizeWithWarning("store.backend", string(cfg.Store.Backend))
		if r.Changed {
			res.Warnings = append(res.Warnings, r.Warning)
		}
		cfg.Store.Backend = r.Value
	}
	cfg.Store.Path = trimField("store.path", cfg.Store.Path, res)

	cfg.NATS.URL = trimField("nats.url", cfg.NATS.URL, res)
	cfg.NATS.SubjectPrefix = strings.Trim(trimField("nats.subject_prefix", cfg.NATS.SubjectPrefix, res), ".")
	cfg.NATS.Bucket = trimField("nats.bucket", cfg.NATS.Bucket, res)
	cfg.Monitoring.AdminAddr = trimField("monitoring.admin_addr", cfg.Monitoring.AdminAddr, res)

	normalizeMonitoring(&cfg.Monitoring, res)
	return res
}

func normalizeMonitoring(m *MonitoringConfig, res *NormalizationResult) {
	if m.Logging.Level != "" {
		r := logLevelNormalizer.NormalizeWithWarning("monitoring.logging.level", string(m.Logging.Level))
		if r.Changed {
			res.Warnings = append(res.Warnings, r.Warning)
		}
		m.Logging.Level = r.Value
	}
	if m.Logging.Format != "" {
		r := logFormatNormalizer.NormalizeWithWarning("monitoring.logging.format", string(m.Logging.Format))
		if r.Changed {
			res.Warnings = append(res.Warnings, r.Warning)
		}
		m.Logging.Format = r.Value
	}
	for _, p := range []*string{&m.Metrics.Path, &m.Health.Path} {
		if *p != "" && !strings.HasPrefix(*p, "/") {
			res.Warnings = append(res.Warnings, fmt.Sprintf("prefixed path %q with '/'", *p))
			*p = "/" + *p
		}
	}
}

func trimField(field, v string, res *NormalizationResult) string {
	t := strings.TrimSpace(v)
	if t != v {
		res.Warnings = append(res.Warnings, fmt.Sprintf("trimmed whitespace from %s", field))
	}
	return t
}
