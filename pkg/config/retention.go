package config

import "time"

// RetentionConfig controls event/trace retention and sweep behavior.
type RetentionConfig struct {
	// LogRetentionDays is the max age of non-trace events before deletion.
	LogRetentionDays int `yaml:"log_retention_days"`

	// LogRetentionMaxEvents caps the number of non-trace events kept per
	// sweep, trimming oldest-first once the age cutoff has been applied.
	LogRetentionMaxEvents int `yaml:"log_retention_max_events"`

	// TraceRetentionDays is the max age of trace-level events before
	// deletion. Zero disables trace persistence entirely: trace events are
	// still broadcast live but never written to the store.
	TraceRetentionDays int `yaml:"trace_retention_days"`

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		LogRetentionDays:      30,
		LogRetentionMaxEvents: 100000,
		TraceRetentionDays:    7,
		SweepInterval:         1 * time.Hour,
	}
}

// TracePersistenceEnabled reports whether trace-level events should be
// persisted at all, per §4.2's emit() classification rule.
func (c *RetentionConfig) TracePersistenceEnabled() bool {
	return c.TraceRetentionDays > 0
}
