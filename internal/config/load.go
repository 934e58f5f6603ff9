package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"hermes/internal/herrors"
)

// Load reads a YAML config file at path, parses it, and validates it. It
// is the only entry point that touches the filesystem; the constructors
// in internal/manager and internal/scheduler take a *Config directly so
// tests can build one in memory without a file round trip.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, herrors.WrapWithDetail(err, herrors.Config, "load", fmt.Sprintf("read %s", path))
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, herrors.WrapWithDetail(err, herrors.Config, "load", fmt.Sprintf("parse %s", path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
