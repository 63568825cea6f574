package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateGINIndexes creates full-text search GIN indexes for PostgreSQL.
// These let the dashboard search event history and plan content without a
// separate search service.
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	// GIN index for event message full-text search.
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_events_message_gin
		ON events USING gin(to_tsvector('english', message))`)
	if err != nil {
		return fmt.Errorf("failed to create events message GIN index: %w", err)
	}

	// GIN index for plan content full-text search.
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_workflows_plan_cache_gin
		ON workflows USING gin(to_tsvector('english', COALESCE(plan_cache, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create workflows plan_cache GIN index: %w", err)
	}

	return nil
}
