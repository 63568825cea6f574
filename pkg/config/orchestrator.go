package config

import "time"

// OrchestratorConfig contains the concurrency and timeout settings enforced
// by the OrchestratorService (§5 concurrency model, §6.5 configuration surface).
type OrchestratorConfig struct {
	// MaxConcurrent is the global active-workflow cap. Creation beyond this
	// limit fails with RateLimit.
	MaxConcurrent int `yaml:"max_concurrent"`

	// WorkflowStartTimeout is loaded from configuration but not enforced: no
	// component reads it, and a workflow is never failed with `start_timeout`.
	WorkflowStartTimeout time.Duration `yaml:"workflow_start_timeout"`

	// WebSocketIdleTimeout is how long a connection may go without a `pong`
	// reply to a heartbeat `ping` before the server closes it.
	WebSocketIdleTimeout time.Duration `yaml:"websocket_idle_timeout"`

	// CheckpointRetentionDays bounds how long stale checkpoints for terminal
	// workflows are kept before being dropped.
	CheckpointRetentionDays int `yaml:"checkpoint_retention_days"`

	// CheckpointPath is the directory checkpoints are written under when the
	// implementation persists them to disk in addition to the DB row.
	CheckpointPath string `yaml:"checkpoint_path"`

	// StreamToolResults is loaded from configuration but not read by the
	// orchestrator: the state machine always builds its agents with
	// tool_result trace events turned on.
	StreamToolResults bool `yaml:"stream_tool_results"`

	// GracefulShutdownTimeout bounds how long the service waits for active
	// workflow tasks to reach a suspension/terminal point during shutdown
	// before it proceeds to retention and exit.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanScanInterval is loaded from configuration but not read: there is
	// no orphan sweep, so in-progress workflows whose state-machine task died
	// without reaching a terminal status are not re-checked.
	OrphanScanInterval time.Duration `yaml:"orphan_scan_interval"`
}

// DefaultOrchestratorConfig returns the built-in orchestrator defaults, per
// the configuration surface's documented defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		MaxConcurrent:           5,
		WorkflowStartTimeout:    60 * time.Second,
		WebSocketIdleTimeout:    300 * time.Second,
		CheckpointRetentionDays: 30,
		CheckpointPath:          "",
		StreamToolResults:       true,
		GracefulShutdownTimeout: 15 * time.Minute,
		OrphanScanInterval:      5 * time.Minute,
	}
}
