package orchestrator_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/amelia-dev/amelia/pkg/agents"
	"github.com/amelia-dev/amelia/pkg/config"
	"github.com/amelia-dev/amelia/pkg/drivers"
	"github.com/amelia-dev/amelia/pkg/events"
	"github.com/amelia-dev/amelia/pkg/eventstore"
	"github.com/amelia-dev/amelia/pkg/orchestrator"
	testdb "github.com/amelia-dev/amelia/test/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDriver replays a fixed message sequence for every invocation,
// mirroring a stubbed DriverProtocol backend under test.
type scriptedDriver struct {
	messages []drivers.Message
}

func (d *scriptedDriver) Run(_ context.Context, _ drivers.Request) (<-chan drivers.Message, error) {
	ch := make(chan drivers.Message, len(d.messages))
	for _, m := range d.messages {
		ch <- m
	}
	close(ch)
	return ch, nil
}

func resultDriver(sessionID, finalText string) drivers.Driver {
	return &scriptedDriver{messages: []drivers.Message{
		&drivers.ThinkingMessage{Content: "thinking"},
		&drivers.ResultMessage{SessionID: sessionID, FinalText: finalText},
	}}
}

// roleQueueFactory returns a DriverFactory that serves the next queued
// driver for a role on each call, so a test can script the Reviewer's
// verdict differently across review-loop iterations.
func roleQueueFactory(t *testing.T, queues map[agents.Role][]drivers.Driver) orchestrator.DriverFactory {
	t.Helper()
	return func(role agents.Role, _ *config.Profile) (drivers.Driver, error) {
		q := queues[role]
		if len(q) == 0 {
			return nil, fmt.Errorf("no scripted driver left for role %s", role)
		}
		queues[role] = q[1:]
		return q[0], nil
	}
}

type fakeCancellation struct {
	cancelled map[string]bool
}

func (f *fakeCancellation) IsCancelled(workflowID string) bool { return f.cancelled[workflowID] }

func newTestStateMachineDeps(t *testing.T) (orchestrator.WorkflowRepository, *orchestrator.Checkpointer, *events.Bus) {
	t.Helper()
	dbClient := testdb.NewTestClient(t)
	store := eventstore.New(dbClient.Client, dbClient.DB())
	bus := events.NewBus(store, nil, func() bool { return true })
	workflows := orchestrator.NewWorkflowRepository(dbClient.Client)
	checkpoints := orchestrator.NewCheckpointer(dbClient.Client)
	return workflows, checkpoints, bus
}

func createPendingWorkflow(t *testing.T, workflows orchestrator.WorkflowRepository) *orchestrator.Workflow {
	t.Helper()
	wf := &orchestrator.Workflow{
		ID:           uuid.NewString(),
		IssueID:      "ISSUE-1",
		WorktreePath: fmt.Sprintf("/tmp/wt-%s", uuid.NewString()),
		ProfileID:    "default",
		WorkflowType: "full",
		Status:       orchestrator.StatusPending,
	}
	require.NoError(t, workflows.Create(context.Background(), wf))
	return wf
}

func TestStateMachine_RunFromStart_SuspendsAtApprovalGate(t *testing.T) {
	workflows, checkpoints, bus := newTestStateMachineDeps(t)
	wf := createPendingWorkflow(t, workflows)

	planDir := t.TempDir()
	profile := &config.Profile{ID: "default", PlanOutputDir: planDir}
	planJSON := `{"goal":"add a button","markdown_path":"","markdown_content":"# Plan\n\ndo it","key_files":["main.go"]}`

	factory := roleQueueFactory(t, map[agents.Role][]drivers.Driver{
		agents.RoleArchitect: {resultDriver("session-1", planJSON)},
	})
	sm := orchestrator.NewStateMachine(workflows, checkpoints, bus, factory, &fakeCancellation{}, &config.Defaults{}, 3)

	sm.RunFromStart(context.Background(), wf, profile, orchestrator.Issue{ID: "ISSUE-1", Title: "Add button"})

	got, err := workflows.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusBlocked, got.Status)
	assert.Contains(t, got.PlanCache, "do it")
	assert.FileExists(t, got.PlanPath)
	assert.True(t, filepath.IsAbs(got.PlanPath))

	node, state, err := checkpoints.Latest(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.NodeApprovalGate, node)
	assert.True(t, state.PendingApproval)
	assert.Equal(t, "session-1", state.DriverSessionID)
}

func TestStateMachine_RunFromStart_ArchitectFailureTransitionsToFailed(t *testing.T) {
	workflows, checkpoints, bus := newTestStateMachineDeps(t)
	wf := createPendingWorkflow(t, workflows)
	profile := &config.Profile{ID: "default", PlanOutputDir: t.TempDir()}

	factory := roleQueueFactory(t, map[agents.Role][]drivers.Driver{
		agents.RoleArchitect: {&scriptedDriver{messages: []drivers.Message{
			&drivers.ErrorMessage{Reason: "model unavailable"},
		}}},
	})
	sm := orchestrator.NewStateMachine(workflows, checkpoints, bus, factory, &fakeCancellation{}, &config.Defaults{}, 3)

	sm.RunFromStart(context.Background(), wf, profile, orchestrator.Issue{ID: "ISSUE-1"})

	got, err := workflows.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "model unavailable")
}

// blockedWorkflow drives a workflow through RunFromStart to the approval
// gate, then simulates Service.Approve's transition to in_progress, ready
// for ResumeAfterApproval.
func blockedWorkflow(t *testing.T, workflows orchestrator.WorkflowRepository, checkpoints *orchestrator.Checkpointer, bus *events.Bus, planDir string) *orchestrator.Workflow {
	t.Helper()
	wf := createPendingWorkflow(t, workflows)
	profile := &config.Profile{ID: "default", PlanOutputDir: planDir}
	planJSON := `{"goal":"g","markdown_path":"","markdown_content":"plan body","key_files":[]}`

	factory := roleQueueFactory(t, map[agents.Role][]drivers.Driver{
		agents.RoleArchitect: {resultDriver("session-1", planJSON)},
	})
	sm := orchestrator.NewStateMachine(workflows, checkpoints, bus, factory, &fakeCancellation{}, &config.Defaults{}, 3)
	sm.RunFromStart(context.Background(), wf, profile, orchestrator.Issue{ID: wf.IssueID})

	require.NoError(t, workflows.UpdateStatus(context.Background(), wf.ID, orchestrator.StatusInProgress, nil))
	wf, err := workflows.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	return wf
}

func TestStateMachine_ResumeAfterApproval_CompletesWhenReviewerApproves(t *testing.T) {
	workflows, checkpoints, bus := newTestStateMachineDeps(t)
	wf := blockedWorkflow(t, workflows, checkpoints, bus, t.TempDir())
	profile := &config.Profile{ID: "default", PlanOutputDir: t.TempDir()}

	factory := roleQueueFactory(t, map[agents.Role][]drivers.Driver{
		agents.RoleDeveloper: {resultDriver("session-2", "implemented the plan")},
		agents.RoleReviewer:  {resultDriver("session-3", `{"approved":true}`)},
	})
	sm := orchestrator.NewStateMachine(workflows, checkpoints, bus, factory, &fakeCancellation{}, &config.Defaults{}, 3)

	sm.ResumeAfterApproval(context.Background(), wf.ID, profile)

	got, err := workflows.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusCompleted, got.Status)
}

func TestStateMachine_ResumeAfterApproval_LoopsOnRejectionThenFails(t *testing.T) {
	workflows, checkpoints, bus := newTestStateMachineDeps(t)
	wf := blockedWorkflow(t, workflows, checkpoints, bus, t.TempDir())
	profile := &config.Profile{ID: "default", PlanOutputDir: t.TempDir()}

	factory := roleQueueFactory(t, map[agents.Role][]drivers.Driver{
		agents.RoleDeveloper: {
			resultDriver("s1", "attempt 1"),
			resultDriver("s2", "attempt 2"),
		},
		agents.RoleReviewer: {
			resultDriver("r1", `{"approved":false,"feedback":"missing tests"}`),
			resultDriver("r2", `{"approved":false,"feedback":"still missing tests"}`),
		},
	})
	sm := orchestrator.NewStateMachine(workflows, checkpoints, bus, factory, &fakeCancellation{}, &config.Defaults{}, 2)

	sm.ResumeAfterApproval(context.Background(), wf.ID, profile)

	got, err := workflows.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusFailed, got.Status)
	assert.Equal(t, "review_limit_exceeded", got.FailureReason)
	assert.Equal(t, 2, got.ReviewIteration)
}

func TestStateMachine_ResumeAfterApproval_CancellationStopsLoop(t *testing.T) {
	workflows, checkpoints, bus := newTestStateMachineDeps(t)
	wf := blockedWorkflow(t, workflows, checkpoints, bus, t.TempDir())
	profile := &config.Profile{ID: "default", PlanOutputDir: t.TempDir()}

	cancellation := &fakeCancellation{cancelled: map[string]bool{wf.ID: true}}
	factory := roleQueueFactory(t, map[agents.Role][]drivers.Driver{})
	sm := orchestrator.NewStateMachine(workflows, checkpoints, bus, factory, cancellation, &config.Defaults{}, 3)

	sm.ResumeAfterApproval(context.Background(), wf.ID, profile)

	got, err := workflows.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusCancelled, got.Status)
}

// statusRecordingRepository wraps a WorkflowRepository and records every
// status passed to UpdateStatus, so a test can assert on the sequence of
// transitions a run walked through rather than just its final status.
type statusRecordingRepository struct {
	orchestrator.WorkflowRepository
	statuses []orchestrator.Status
}

func (r *statusRecordingRepository) UpdateStatus(ctx context.Context, id string, status orchestrator.Status, touch func(*orchestrator.Workflow)) error {
	if err := r.WorkflowRepository.UpdateStatus(ctx, id, status, touch); err != nil {
		return err
	}
	r.statuses = append(r.statuses, status)
	return nil
}

func TestStateMachine_ResumeAfterApproval_RejectionWalksBlockedThenInProgress(t *testing.T) {
	workflows, checkpoints, bus := newTestStateMachineDeps(t)
	wf := blockedWorkflow(t, workflows, checkpoints, bus, t.TempDir())
	profile := &config.Profile{ID: "default", PlanOutputDir: t.TempDir()}

	recorder := &statusRecordingRepository{WorkflowRepository: workflows}

	factory := roleQueueFactory(t, map[agents.Role][]drivers.Driver{
		agents.RoleDeveloper: {
			resultDriver("s1", "attempt 1"),
			resultDriver("s2", "attempt 2"),
		},
		agents.RoleReviewer: {
			resultDriver("r1", `{"approved":false,"feedback":"missing tests"}`),
			resultDriver("r2", `{"approved":true}`),
		},
	})
	sm := orchestrator.NewStateMachine(recorder, checkpoints, bus, factory, &fakeCancellation{}, &config.Defaults{}, 3)

	sm.ResumeAfterApproval(context.Background(), wf.ID, profile)

	got, err := workflows.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusCompleted, got.Status)

	// The rejected first review must walk in_progress -> blocked ->
	// in_progress (§4.3's review loop edge) before the second review
	// completes the workflow.
	require.Contains(t, recorder.statuses, orchestrator.StatusBlocked)
	blockedIdx, inProgressIdx, completedIdx := -1, -1, -1
	for i, s := range recorder.statuses {
		switch s {
		case orchestrator.StatusBlocked:
			blockedIdx = i
		case orchestrator.StatusInProgress:
			inProgressIdx = i
		case orchestrator.StatusCompleted:
			completedIdx = i
		}
	}
	require.True(t, blockedIdx >= 0 && inProgressIdx > blockedIdx && completedIdx > inProgressIdx,
		"expected blocked -> in_progress -> completed order, got %v", recorder.statuses)
}

func TestStateMachine_ResumeAfterApproval_MalformedVerdictFails(t *testing.T) {
	workflows, checkpoints, bus := newTestStateMachineDeps(t)
	wf := blockedWorkflow(t, workflows, checkpoints, bus, t.TempDir())
	profile := &config.Profile{ID: "default", PlanOutputDir: t.TempDir()}

	factory := roleQueueFactory(t, map[agents.Role][]drivers.Driver{
		agents.RoleDeveloper: {resultDriver("s1", "done")},
		agents.RoleReviewer:  {resultDriver("r1", "not json")},
	})
	sm := orchestrator.NewStateMachine(workflows, checkpoints, bus, factory, &fakeCancellation{}, &config.Defaults{}, 3)

	sm.ResumeAfterApproval(context.Background(), wf.ID, profile)

	got, err := workflows.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusFailed, got.Status)
}
