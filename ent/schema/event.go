package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Event holds the schema definition for the Event entity: the append-only,
// authoritative history of a workflow.
type Event struct {
	ent.Schema
}

// Fields of the Event.
func (Event) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("workflow_id").
			Immutable(),

		// Monotonic per-workflow ordering; unique per workflow, starts at 1,
		// increments by exactly 1. Allocation is serialized by the EventStore.
		field.Int("sequence").
			Immutable().
			Comment("Monotonic per-workflow sequence number, starts at 1"),

		field.Time("timestamp").
			Default(time.Now).
			Immutable(),

		field.Enum("agent").
			Values("architect", "developer", "reviewer", "system").
			Immutable(),
		field.String("event_type").
			Immutable().
			Comment("Extensible enum; see event_type -> level mapping table"),
		field.Enum("level").
			Values("info", "debug", "trace").
			Immutable(),
		field.Text("message").
			Immutable(),
		field.JSON("data", map[string]interface{}{}).
			Optional().
			Immutable().
			Comment("Structured payload, e.g. usage counters on usage-classified events"),

		field.String("correlation_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("trace_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("parent_id").
			Optional().
			Nillable().
			Immutable().
			Comment("Parent event id for hierarchical traces"),

		// Trace-only fields, set when level == trace and the event wraps a
		// tool invocation.
		field.String("tool_name").
			Optional().
			Nillable().
			Immutable(),
		field.JSON("tool_input", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.Bool("is_error").
			Default(false).
			Immutable(),
	}
}

// Edges of the Event.
func (Event) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("workflow", Workflow.Type).
			Ref("events").
			Field("workflow_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Event.
func (Event) Indexes() []ent.Index {
	return []ent.Index{
		// Ordering and cursor-based backfill reads.
		index.Fields("workflow_id", "sequence").
			Unique(),
		// Retention sweeps filter by level and age.
		index.Fields("level", "timestamp"),
		index.Fields("trace_id"),
	}
}

// Annotations for PostgreSQL-specific features.
func (Event) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "events"},
	}
}
