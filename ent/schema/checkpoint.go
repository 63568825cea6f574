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

// Checkpoint holds the schema definition for the Checkpoint entity: a
// persisted snapshot of ExecutionState taken at a WorkflowStateMachine node
// boundary, used to resume a workflow after a suspension (approval gate) or
// a process restart (orphan recovery).
type Checkpoint struct {
	ent.Schema
}

// Fields of the Checkpoint.
func (Checkpoint) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("workflow_id").
			Immutable(),
		field.String("node").
			Immutable().
			Comment("State machine node this checkpoint was taken at: architect_node, approval_gate, developer_node, reviewer_node"),

		// ExecutionState snapshot.
		field.JSON("state", map[string]interface{}{}).
			Immutable().
			Comment("Serialized ExecutionState: issue, plan path/content, conversation history, last driver session id, pending-approval flag, review iteration count"),
		field.String("driver_session_id").
			Optional().
			Nillable().
			Immutable().
			Comment("Last session identifier handed back by the driver, so it can resume context on the next node"),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the Checkpoint.
func (Checkpoint) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("workflow", Workflow.Type).
			Ref("checkpoints").
			Field("workflow_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Checkpoint.
func (Checkpoint) Indexes() []ent.Index {
	return []ent.Index{
		// Resume reads the latest checkpoint for a workflow.
		index.Fields("workflow_id", "created_at"),
	}
}

// Annotations for PostgreSQL-specific features.
func (Checkpoint) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "checkpoints"},
	}
}
