package config

// Config is the umbrella configuration object that encapsulates all
// registries, defaults, and configuration state. This is the primary object
// returned by Load() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// System-wide defaults
	Defaults *Defaults

	// Orchestrator concurrency/timeout settings
	Orchestrator *OrchestratorConfig

	// Event/trace retention settings
	Retention *RetentionConfig

	// Profiles is the registry of per-workflow driver/tracker/filesystem
	// configuration bundles.
	Profiles *ProfileRegistry
}

// Initialize is defined in loader.go

// ConfigStats contains statistics about loaded configuration.
type ConfigStats struct {
	Profiles int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Profiles: c.Profiles.Len(),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetProfile retrieves a profile configuration by ID.
// This is a convenience method that wraps ProfileRegistry.Get().
func (c *Config) GetProfile(id string) (*Profile, error) {
	return c.Profiles.Get(id)
}
