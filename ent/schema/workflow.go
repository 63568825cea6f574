package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Workflow holds the schema definition for the Workflow entity: a single
// Architect/Developer/Reviewer run against one issue and worktree.
type Workflow struct {
	ent.Schema
}

// Fields of the Workflow.
func (Workflow) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("issue_id").
			Immutable().
			Comment("Tracker-native issue reference"),
		field.String("worktree_path").
			Immutable().
			Comment("Absolute path; enforced unique among non-terminal workflows"),
		field.String("worktree_name").
			Optional(),
		field.String("profile_id").
			Immutable(),
		field.Enum("workflow_type").
			Values("full", "review").
			Default("full").
			Immutable(),
		field.Enum("status").
			Values(
				"pending",
				"planning",
				"blocked",
				"in_progress",
				"completed",
				"failed",
				"cancelled",
			).
			Default("pending").
			Comment("blocked carries different semantics at the approval gate vs. mid-review; see WorkflowStateMachine"),
		field.String("failure_reason").
			Optional().
			Nillable().
			Comment("Set when status transitions to failed (e.g. review_limit_exceeded, start_timeout)"),
		field.Text("plan_cache").
			Optional().
			Nillable().
			Comment("First-write contents of the plan artifact; path stored separately in plan_path"),
		field.String("plan_path").
			Optional().
			Nillable(),
		field.JSON("issue_cache", map[string]interface{}{}).
			Optional().
			Comment("Snapshot of the Issue at workflow creation time"),
		field.Int("review_iteration").
			Default(0).
			Comment("Developer/Reviewer loop counter, compared against the configured defaults' review_iteration_limit"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("started_at").
			Optional().
			Nillable().
			Comment("When the state machine task began executing"),
		field.Time("completed_at").
			Optional().
			Nillable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
		field.Time("last_interaction_at").
			Optional().
			Nillable().
			Comment("Touched on every state transition; drives orphan detection"),
	}
}

// Edges of the Workflow.
func (Workflow) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("events", Event.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("checkpoints", Checkpoint.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Workflow.
func (Workflow) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status"),
		index.Fields("issue_id"),
		index.Fields("status", "created_at"),
		index.Fields("status", "last_interaction_at"),

		// Exclusivity invariant: at most one active workflow per worktree.
		index.Fields("worktree_path").
			Unique().
			Annotations(entsql.IndexWhere(
				"status IN ('planning', 'in_progress', 'blocked')",
			)),
	}
}
