package config

// AgentOverride holds per-agent-role overrides of the profile-level driver
// and model, for profiles that want e.g. a cheaper model for the Reviewer.
type AgentOverride struct {
	Driver string `yaml:"driver,omitempty"`
	Model  string `yaml:"model,omitempty"`
}

// Profile is the immutable-per-workflow bundle of driver/tracker/filesystem
// settings consumed at workflow creation time (§3 Data Model, §6.5).
type Profile struct {
	ID string `yaml:"id"`

	// Driver is the DriverProtocol backend name. Falls back to Defaults.Driver
	// when empty.
	Driver string `yaml:"driver,omitempty"`

	// Model is the default model identifier for agents using this profile.
	Model string `yaml:"model,omitempty"`

	// Tracker is the issue-tracker adapter name ("github", "jira", "noop").
	Tracker string `yaml:"tracker"`

	// WorkingDir is the default worktree root agents operate in when a
	// workflow doesn't supply its own worktree_path.
	WorkingDir string `yaml:"working_dir,omitempty"`

	// PlanOutputDir is where the Architect writes the plan artifact
	// (§6.4): `{plan_output_dir}/{YYYY-MM-DD}-{issue_id}.md`.
	PlanOutputDir string `yaml:"plan_output_dir"`

	// Agents holds per-role (architect/developer/reviewer) overrides.
	Agents map[string]AgentOverride `yaml:"agents,omitempty"`
}

// ResolveDriver returns the profile's driver, falling back to d if unset.
func (p *Profile) ResolveDriver(d *Defaults) string {
	if p.Driver != "" {
		return p.Driver
	}
	return d.Driver
}

// ResolveModel returns the profile's model, falling back to d if unset.
func (p *Profile) ResolveModel(d *Defaults) string {
	if p.Model != "" {
		return p.Model
	}
	return d.Model
}

// ResolveTracker returns the profile's tracker, normalizing the deprecated
// "none" alias and falling back to d if unset.
func (p *Profile) ResolveTracker(d *Defaults) string {
	if p.Tracker != "" {
		return NormalizeTracker(p.Tracker)
	}
	return NormalizeTracker(d.Tracker)
}

// AgentDriver returns the driver for a given agent role ("architect",
// "developer", "reviewer"), honoring a per-agent override if present.
func (p *Profile) AgentDriver(role string, d *Defaults) string {
	if o, ok := p.Agents[role]; ok && o.Driver != "" {
		return o.Driver
	}
	return p.ResolveDriver(d)
}

// AgentModel returns the model for a given agent role, honoring a per-agent
// override if present.
func (p *Profile) AgentModel(role string, d *Defaults) string {
	if o, ok := p.Agents[role]; ok && o.Model != "" {
		return o.Model
	}
	return p.ResolveModel(d)
}

// ProfileRegistry holds the set of configured profiles, keyed by ID.
type ProfileRegistry struct {
	profiles map[string]*Profile
}

// NewProfileRegistry builds a registry from a slice of profiles, indexed by
// their ID. Later entries with a duplicate ID overwrite earlier ones.
func NewProfileRegistry(profiles []*Profile) *ProfileRegistry {
	r := &ProfileRegistry{profiles: make(map[string]*Profile, len(profiles))}
	for _, p := range profiles {
		r.profiles[p.ID] = p
	}
	return r
}

// Get returns the profile with the given ID, or ErrProfileNotFound.
func (r *ProfileRegistry) Get(id string) (*Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return nil, NewValidationError("profile", id, "", ErrProfileNotFound)
	}
	return p, nil
}

// All returns every registered profile, in no particular order.
func (r *ProfileRegistry) All() []*Profile {
	out := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	return out
}

// Len reports the number of registered profiles.
func (r *ProfileRegistry) Len() int {
	return len(r.profiles)
}
