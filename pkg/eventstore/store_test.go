package eventstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/amelia-dev/amelia/ent"
	"github.com/amelia-dev/amelia/pkg/eventstore"
	"github.com/amelia-dev/amelia/pkg/events"
	testdb "github.com/amelia-dev/amelia/test/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkflow(t *testing.T, client *ent.Client) string {
	t.Helper()
	id := uuid.NewString()
	_, err := client.Workflow.Create().
		SetID(id).
		SetIssueID("ISSUE-1").
		SetWorktreePath(fmt.Sprintf("/tmp/wt-%s", id)).
		SetProfileID("default").
		Save(context.Background())
	require.NoError(t, err)
	return id
}

func TestStore_Append_AssignsMonotonicSequence(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ctx := context.Background()
	store := eventstore.New(dbClient.Client, dbClient.DB())
	workflowID := newWorkflow(t, dbClient.Client)

	var appended []*eventstore.Event
	for i := 0; i < 3; i++ {
		evt, err := store.Append(ctx, &eventstore.Event{
			WorkflowID: workflowID, Agent: "system", EventType: events.EventTypeWorkflowCreated,
			Level: events.LevelInfo, Message: fmt.Sprintf("event %d", i),
		})
		require.NoError(t, err)
		appended = append(appended, evt)
	}

	for i, evt := range appended {
		assert.Equal(t, i+1, evt.Sequence)
	}

	recent, err := store.Recent(ctx, workflowID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	for i, evt := range recent {
		assert.Equal(t, i+1, evt.Sequence)
	}
}

func TestStore_ListAfter_ReturnsStrictlyAscendingTail(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ctx := context.Background()
	store := eventstore.New(dbClient.Client, dbClient.DB())
	workflowID := newWorkflow(t, dbClient.Client)

	var ids []string
	for i := 0; i < 5; i++ {
		evt, err := store.Append(ctx, &eventstore.Event{
			WorkflowID: workflowID, Agent: "system", EventType: events.EventTypeWorkflowCreated,
			Level: events.LevelInfo, Message: fmt.Sprintf("event %d", i),
		})
		require.NoError(t, err)
		ids = append(ids, evt.ID)
	}

	cursor, err := store.GetByID(ctx, ids[1]) // sequence 2
	require.NoError(t, err)

	tail, err := store.ListAfter(ctx, workflowID, cursor.Sequence, 100)
	require.NoError(t, err)
	require.Len(t, tail, 3)
	for i, evt := range tail {
		assert.Equal(t, cursor.Sequence+1+i, evt.Sequence)
	}
}

func TestStore_GetByID_UnknownCursorIsNotFound(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ctx := context.Background()
	store := eventstore.New(dbClient.Client, dbClient.DB())

	_, err := store.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, eventstore.ErrCursorNotFound)
}

func TestStore_PurgeOlderThan_AgeBound(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ctx := context.Background()
	store := eventstore.New(dbClient.Client, dbClient.DB())
	workflowID := newWorkflow(t, dbClient.Client)

	_, err := store.Append(ctx, &eventstore.Event{
		WorkflowID: workflowID, Agent: "system", EventType: events.EventTypeWorkflowCreated,
		Level: events.LevelInfo, Message: "ancient", Timestamp: time.Now().Add(-90 * 24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = store.Append(ctx, &eventstore.Event{
		WorkflowID: workflowID, Agent: "system", EventType: events.EventTypeWorkflowCreated,
		Level: events.LevelInfo, Message: "recent",
	})
	require.NoError(t, err)

	deleted, err := store.PurgeOlderThan(ctx, time.Now().Add(-30*24*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	remaining, err := store.Recent(ctx, workflowID, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "recent", remaining[0].Message)
}

func TestStore_PurgeOlderThan_LevelFilterOnlyTouchesMatchingRows(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ctx := context.Background()
	store := eventstore.New(dbClient.Client, dbClient.DB())
	workflowID := newWorkflow(t, dbClient.Client)

	old := time.Now().Add(-30 * 24 * time.Hour)
	_, err := store.Append(ctx, &eventstore.Event{
		WorkflowID: workflowID, Agent: "architect", EventType: events.EventTypeLLMThinking,
		Level: events.LevelTrace, Message: "trace", Timestamp: old,
	})
	require.NoError(t, err)
	_, err = store.Append(ctx, &eventstore.Event{
		WorkflowID: workflowID, Agent: "system", EventType: events.EventTypeWorkflowCreated,
		Level: events.LevelInfo, Message: "info", Timestamp: old,
	})
	require.NoError(t, err)

	deleted, err := store.PurgeOlderThan(ctx, time.Now(), 0, events.LevelTrace)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	remaining, err := store.Recent(ctx, workflowID, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "info", remaining[0].Message)
}

// TestStore_PurgeOlderThan_MaxKeptTrimHonorsLevelFilter guards against a
// count-based trim that counts/selects from the whole table instead of only
// the filtered level population: a small maxKept on a trace-only sweep must
// never delete info rows to make room, and must count against trace rows
// alone when deciding how many are in excess.
func TestStore_PurgeOlderThan_MaxKeptTrimHonorsLevelFilter(t *testing.T) {
	dbClient := testdb.NewTestClient(t)
	ctx := context.Background()
	store := eventstore.New(dbClient.Client, dbClient.DB())
	workflowID := newWorkflow(t, dbClient.Client)

	now := time.Now()
	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, &eventstore.Event{
			WorkflowID: workflowID, Agent: "architect", EventType: events.EventTypeLLMThinking,
			Level: events.LevelTrace, Message: fmt.Sprintf("trace-%d", i), Timestamp: now,
		})
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := store.Append(ctx, &eventstore.Event{
			WorkflowID: workflowID, Agent: "system", EventType: events.EventTypeWorkflowCreated,
			Level: events.LevelInfo, Message: fmt.Sprintf("info-%d", i), Timestamp: now,
		})
		require.NoError(t, err)
	}

	// The trim is the only thing under test here, so pass a cutoff before
	// any row (no age-based deletions) and rely solely on maxKept to force
	// the trim path.
	deleted, err := store.PurgeOlderThan(ctx, now.Add(-time.Hour), 2, events.LevelTrace)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted, "trim must remove exactly the trace rows in excess of maxKept")

	remaining, err := store.Recent(ctx, workflowID, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 4, "2 info rows + 2 kept trace rows")

	var infoCount, traceCount int
	for _, evt := range remaining {
		switch evt.Level {
		case events.LevelInfo:
			infoCount++
		case events.LevelTrace:
			traceCount++
		}
	}
	assert.Equal(t, 2, infoCount, "info rows must survive a trace-only trim untouched")
	assert.Equal(t, 2, traceCount)
}
