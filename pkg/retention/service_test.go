package retention

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/amelia-dev/amelia/ent"
	"github.com/amelia-dev/amelia/ent/checkpoint"
	"github.com/amelia-dev/amelia/pkg/config"
	"github.com/amelia-dev/amelia/pkg/events"
	"github.com/amelia-dev/amelia/pkg/eventstore"
	"github.com/amelia-dev/amelia/pkg/orchestrator"
	testdb "github.com/amelia-dev/amelia/test/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkflow(t *testing.T, client *ent.Client, ctx context.Context) string {
	t.Helper()
	id := uuid.NewString()
	_, err := client.Workflow.Create().
		SetID(id).
		SetIssueID("issue-1").
		SetWorktreePath(fmt.Sprintf("/tmp/wt-%s", id)).
		SetProfileID("default").
		Save(ctx)
	require.NoError(t, err)
	return id
}

func TestService_PurgesOldLogEvents(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ctx := context.Background()
	store := eventstore.New(dbClient.Client, dbClient.DB())
	workflowID := newTestWorkflow(t, dbClient.Client, ctx)

	_, err := store.Append(ctx, &eventstore.Event{
		WorkflowID: workflowID, Agent: "system", EventType: events.EventTypeWorkflowCreated,
		Level: events.LevelInfo, Message: "old", Timestamp: time.Now().Add(-60 * 24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = store.Append(ctx, &eventstore.Event{
		WorkflowID: workflowID, Agent: "system", EventType: events.EventTypeWorkflowCreated,
		Level: events.LevelInfo, Message: "recent",
	})
	require.NoError(t, err)

	checkpoints := orchestrator.NewCheckpointer(dbClient.Client)
	cfg := &config.RetentionConfig{LogRetentionDays: 30, TraceRetentionDays: 7, SweepInterval: time.Hour}
	orchCfg := &config.OrchestratorConfig{CheckpointRetentionDays: 30}
	svc := NewService(cfg, orchCfg, store, checkpoints, nil)
	svc.runAll(ctx)

	remaining, err := store.Recent(ctx, workflowID, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
	assert.Equal(t, "recent", remaining[0].Message)
}

func TestService_PurgesOldTraceEvents(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ctx := context.Background()
	store := eventstore.New(dbClient.Client, dbClient.DB())
	workflowID := newTestWorkflow(t, dbClient.Client, ctx)

	_, err := store.Append(ctx, &eventstore.Event{
		WorkflowID: workflowID, Agent: "architect", EventType: events.EventTypeLLMThinking,
		Level: events.LevelTrace, Message: "thinking", Timestamp: time.Now().Add(-10 * 24 * time.Hour),
	})
	require.NoError(t, err)

	checkpoints := orchestrator.NewCheckpointer(dbClient.Client)
	cfg := &config.RetentionConfig{LogRetentionDays: 30, TraceRetentionDays: 7, SweepInterval: time.Hour}
	orchCfg := &config.OrchestratorConfig{CheckpointRetentionDays: 30}
	svc := NewService(cfg, orchCfg, store, checkpoints, nil)
	svc.runAll(ctx)

	remaining, err := store.Recent(ctx, workflowID, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestService_PurgesStaleCheckpoints(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ctx := context.Background()
	store := eventstore.New(dbClient.Client, dbClient.DB())
	workflowID := newTestWorkflow(t, dbClient.Client, ctx)

	_, err := dbClient.Client.Checkpoint.Create().
		SetID(uuid.NewString()).
		SetWorkflowID(workflowID).
		SetNode(string(orchestrator.NodeArchitect)).
		SetState(map[string]any{"workflow_id": workflowID}).
		SetCreatedAt(time.Now().Add(-60 * 24 * time.Hour)).
		Save(ctx)
	require.NoError(t, err)

	checkpoints := orchestrator.NewCheckpointer(dbClient.Client)
	cfg := &config.RetentionConfig{LogRetentionDays: 30, TraceRetentionDays: 7, SweepInterval: time.Hour}
	orchCfg := &config.OrchestratorConfig{CheckpointRetentionDays: 30}
	svc := NewService(cfg, orchCfg, store, checkpoints, nil)
	svc.runAll(ctx)

	remaining, err := dbClient.Client.Checkpoint.Query().Where(checkpoint.WorkflowID(workflowID)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}
