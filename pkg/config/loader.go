package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileLayout mirrors the on-disk shape of configDir/config.yaml: top-level
// defaults, orchestrator and retention sections, plus a profiles map keyed
// by profile ID.
type fileLayout struct {
	Defaults     Defaults            `yaml:"defaults"`
	Orchestrator OrchestratorConfig  `yaml:"orchestrator"`
	Retention    RetentionConfig     `yaml:"retention"`
	Profiles     map[string]*Profile `yaml:"profiles"`
}

// Load reads and validates configuration from configDir, applying built-in
// defaults for anything the on-disk files omit.
//
// Expected layout:
//
//	configDir/
//	  config.yaml      top-level defaults/orchestrator/retention/profiles
//
// Environment variables referenced as ${VAR} or $VAR anywhere in the YAML
// are expanded before parsing (see ExpandEnv).
func Load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "config.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}

	layout := fileLayout{
		Defaults:     *defaultDefaults(),
		Orchestrator: *DefaultOrchestratorConfig(),
		Retention:    *DefaultRetentionConfig(),
	}
	if err := yaml.Unmarshal(ExpandEnv(raw), &layout); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	profiles := make([]*Profile, 0, len(layout.Profiles))
	for id, p := range layout.Profiles {
		if p.ID == "" {
			p.ID = id
		}
		profiles = append(profiles, p)
	}

	cfg := &Config{
		configDir:    configDir,
		Defaults:     &layout.Defaults,
		Orchestrator: &layout.Orchestrator,
		Retention:    &layout.Retention,
		Profiles:     NewProfileRegistry(profiles),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultDefaults returns the built-in Defaults used when config.yaml
// doesn't override them.
func defaultDefaults() *Defaults {
	return &Defaults{
		Driver:               "grpc",
		Tracker:              "noop",
		ReviewIterationLimit: 3,
	}
}

// Validate checks structural invariants across the loaded configuration:
// every profile must resolve to a non-empty tracker, and numeric settings
// must be positive where the domain requires it.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxConcurrent <= 0 {
		return NewValidationError("orchestrator", "", "max_concurrent", ErrInvalidValue)
	}
	if c.Retention.LogRetentionDays < 0 || c.Retention.TraceRetentionDays < 0 {
		return NewValidationError("retention", "", "retention_days", ErrInvalidValue)
	}
	for _, p := range c.Profiles.All() {
		if p.ID == "" {
			return NewValidationError("profile", "", "id", ErrMissingRequiredField)
		}
		if p.ResolveTracker(c.Defaults) == "" {
			return NewValidationError("profile", p.ID, "tracker", ErrMissingRequiredField)
		}
		if p.ResolveDriver(c.Defaults) == "" {
			return NewValidationError("profile", p.ID, "driver", ErrMissingRequiredField)
		}
	}
	return nil
}
