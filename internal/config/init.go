package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
)

// Init writes the default configuration to configPath. An existing file is only
// replaced when force is set.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.ConfigError(fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", configPath)).Build()
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return errors.InternalError("encode default configuration").WithCause(err).Build()
	}
	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.ConfigError("create configuration directory").WithCause(err).Build()
		}
	}
	header := []byte("# focusguard configuration\n")
	if err := os.WriteFile(configPath, append(header, data...), 0o600); err != nil {
		return errors.ConfigError("write configuration file").
			WithCause(err).
			WithContext("path", configPath).
			Build()
	}
	return nil
}
