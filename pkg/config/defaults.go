package config

// Defaults contains system-wide default configuration used when a profile
// doesn't specify its own values for a field.
type Defaults struct {
	// Driver is the default DriverProtocol backend name (e.g. "grpc").
	Driver string `yaml:"driver,omitempty"`

	// Model is the default model identifier passed to the driver.
	Model string `yaml:"model,omitempty"`

	// Tracker is the default issue-tracker adapter ("github", "jira", "noop").
	// "none" is accepted as a deprecated alias of "noop" — see NormalizeTracker.
	Tracker string `yaml:"tracker,omitempty"`

	// ReviewIterationLimit caps the developer/reviewer loop before a workflow
	// is forced to `failed` with reason `review_limit_exceeded`.
	ReviewIterationLimit int `yaml:"review_iteration_limit,omitempty" validate:"omitempty,min=1"`
}

// NormalizeTracker maps the deprecated "none" tracker alias to "noop".
func NormalizeTracker(tracker string) string {
	if tracker == "none" {
		return "noop"
	}
	return tracker
}
