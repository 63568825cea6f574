package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
)

// Profile holds the schema definition for the Profile entity: the
// per-workflow bundle of driver/tracker/filesystem settings, treated as
// immutable for the duration of any workflow that references it.
//
// Profiles are normally supplied via the config-file ProfileRegistry
// (pkg/config); this table exists so profiles created or edited through the
// dashboard are durable across restarts without a config reload.
type Profile struct {
	ent.Schema
}

// Fields of the Profile.
func (Profile) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("driver").
			Optional(),
		field.String("model").
			Optional(),
		field.String("tracker"),
		field.String("working_dir").
			Optional(),
		field.String("plan_output_dir"),
		field.JSON("agent_overrides", map[string]interface{}{}).
			Optional().
			Comment("Per-agent-role {driver, model} overrides, keyed by role"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Annotations for PostgreSQL-specific features.
func (Profile) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "profiles"},
	}
}
