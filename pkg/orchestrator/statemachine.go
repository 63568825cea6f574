// Package orchestrator implements the workflow orchestration subsystem:
// WorkflowStateMachine (§4.3), OrchestratorService (§4.4), and the
// Checkpointer (a Checkpointer §4.3's node-boundary snapshots depend on).
//
// Grounded on the teacher's pkg/queue/worker.go pollAndProcess stage
// sequencing (claim → heartbeat → execute stage → terminal status),
// generalized from a single DB-polling stage into the four-node
// architect→approval_gate→developer→reviewer graph this spec's
// spawn-on-create model requires (see DESIGN.md's architectural-gap note).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/amelia-dev/amelia/pkg/agents"
	"github.com/amelia-dev/amelia/pkg/config"
	"github.com/amelia-dev/amelia/pkg/drivers"
	"github.com/amelia-dev/amelia/pkg/events"
	"github.com/amelia-dev/amelia/pkg/eventstore"
)

// CancellationSource reports whether a workflow's cancellation flag has
// been set. Implemented by OrchestratorService's registry; polled at every
// suspension point per §4.3/§5's cooperative-cancellation model.
type CancellationSource interface {
	IsCancelled(workflowID string) bool
}

// DriverFactory builds the Driver a given agent role should use for
// profile. Concrete driver selection (which backend, which model) is
// outside this package's concern; the factory is supplied by the caller
// wiring cmd/amelia/main.go.
type DriverFactory func(role agents.Role, profile *config.Profile) (drivers.Driver, error)

// StateMachine runs the WorkflowStateMachine graph (§4.3) for a single
// workflow at a time; OrchestratorService owns one goroutine per active
// workflow, each driving its own ExecutionState through a StateMachine
// instance sharing the same repositories/bus/checkpointer.
type StateMachine struct {
	workflows    WorkflowRepository
	checkpoints  *Checkpointer
	bus          *events.Bus
	drivers      DriverFactory
	cancellation CancellationSource
	defaults     *config.Defaults
	reviewLimit  int
}

// NewStateMachine builds a StateMachine. reviewLimit is the review-iteration
// cap (§4.3 node 4, §9's Open Question fixed to `failed` with
// `review_limit_exceeded`).
func NewStateMachine(workflows WorkflowRepository, checkpoints *Checkpointer, bus *events.Bus, driverFactory DriverFactory, cancellation CancellationSource, defaults *config.Defaults, reviewLimit int) *StateMachine {
	return &StateMachine{
		workflows:    workflows,
		checkpoints:  checkpoints,
		bus:          bus,
		drivers:      driverFactory,
		cancellation: cancellation,
		defaults:     defaults,
		reviewLimit:  reviewLimit,
	}
}

// RunFromStart drives a freshly created (status pending) workflow through
// architect_node and suspends at approval_gate. It returns once the
// workflow has reached blocked, failed, or cancelled — never in_progress
// (only approve() can advance past the gate).
func (sm *StateMachine) RunFromStart(ctx context.Context, wf *Workflow, profile *config.Profile, issue Issue) {
	state := &ExecutionState{
		WorkflowID:   wf.ID,
		Issue:        issue,
		WorktreePath: wf.WorktreePath,
		ProfileID:    wf.ProfileID,
	}

	if err := sm.workflows.UpdateStatus(ctx, wf.ID, StatusPlanning, nil); err != nil {
		sm.fail(ctx, wf.ID, fmt.Sprintf("enter planning: %v", err))
		return
	}

	if sm.checkCancelled(ctx, wf.ID, state) {
		return
	}

	if err := sm.architectNode(ctx, wf.ID, profile, state); err != nil {
		sm.fail(ctx, wf.ID, err.Error())
		return
	}

	sm.approvalGate(ctx, wf.ID, state)
}

// ResumeAfterApproval drives a workflow from developer_node through the
// reviewer loop to a terminal status. The caller (OrchestratorService.approve)
// has already transitioned the workflow to in_progress before spawning this.
func (sm *StateMachine) ResumeAfterApproval(ctx context.Context, workflowID string, profile *config.Profile) {
	_, state, err := sm.checkpoints.Latest(ctx, workflowID)
	if err != nil || state == nil {
		sm.fail(ctx, workflowID, fmt.Sprintf("resume: missing checkpoint: %v", err))
		return
	}

	for {
		if sm.checkCancelled(ctx, workflowID, state) {
			return
		}

		if err := sm.developerNode(ctx, workflowID, profile, state); err != nil {
			sm.fail(ctx, workflowID, err.Error())
			return
		}

		if sm.checkCancelled(ctx, workflowID, state) {
			return
		}

		verdict, err := sm.reviewerNode(ctx, workflowID, profile, state)
		if err != nil {
			sm.fail(ctx, workflowID, err.Error())
			return
		}

		if verdict.Approved {
			sm.complete(ctx, workflowID)
			return
		}

		state.ReviewIteration++
		state.ConversationHistory = append(state.ConversationHistory, ConversationEntry{
			Role: "reviewer", Content: verdict.Feedback,
		})

		if sm.reviewLimit > 0 && state.ReviewIteration >= sm.reviewLimit {
			sm.failWithIteration(ctx, workflowID, "review_limit_exceeded", state.ReviewIteration)
			return
		}

		// A rejected review sends the workflow back to the developer for
		// another pass. This walks the in_progress -> blocked -> in_progress
		// edge (§4.3's transitions table) rather than suspending the goroutine:
		// unlike the post-planning approval gate, re-invoking the developer
		// needs no external caller, so both transitions happen here in the
		// same driving goroutine.
		if err := sm.workflows.UpdateStatus(ctx, workflowID, StatusBlocked, nil); err != nil {
			sm.fail(ctx, workflowID, fmt.Sprintf("revision: transition to blocked: %v", err))
			return
		}
		sm.emit(ctx, workflowID, "system", events.EventTypeRevisionRequested, "revision requested: "+verdict.Feedback, map[string]any{
			"review_iteration": state.ReviewIteration,
		})

		if err := sm.checkpoints.Save(ctx, NodeReviewer, state); err != nil {
			sm.fail(ctx, workflowID, fmt.Sprintf("checkpoint after revision: %v", err))
			return
		}

		if err := sm.workflows.UpdateStatus(ctx, workflowID, StatusInProgress, nil); err != nil {
			sm.fail(ctx, workflowID, fmt.Sprintf("revision: transition to in_progress: %v", err))
			return
		}
	}
}

// architectNode implements §4.3 graph node 1.
func (sm *StateMachine) architectNode(ctx context.Context, workflowID string, profile *config.Profile, state *ExecutionState) error {
	driver, err := sm.drivers(agents.RoleArchitect, profile)
	if err != nil {
		return fmt.Errorf("architect node: driver: %w", err)
	}
	agent := agents.New(agents.RoleArchitect, agents.ArchitectSystemPrompt, driver, sm.bus, true)

	prompt := fmt.Sprintf("Issue %s: %s\n\n%s", state.Issue.ID, state.Issue.Title, state.Issue.Description)
	sessionID, finalText, err := agent.Run(ctx, workflowID, drivers.Request{Prompt: prompt, WorkingDir: state.WorktreePath})
	if err != nil {
		return fmt.Errorf("architect node: %w", err)
	}
	state.DriverSessionID = sessionID

	plan, err := agents.ParsePlanOutput(finalText)
	if err != nil {
		return fmt.Errorf("architect node: malformed plan output: %w", err)
	}

	path := planArtifactPath(profile.PlanOutputDir, state.Issue.ID, time.Now())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("architect node: create plan dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(plan.MarkdownContent), 0o644); err != nil {
		return fmt.Errorf("architect node: write plan: %w", err)
	}

	state.PlanPath = path
	state.PlanContent = plan.MarkdownContent
	state.KeyFiles = plan.KeyFiles

	if err := sm.workflows.UpdateStatus(ctx, workflowID, StatusPlanning, func(w *Workflow) {
		w.PlanCache = plan.MarkdownContent
		w.PlanPath = path
	}); err != nil {
		return fmt.Errorf("architect node: persist plan: %w", err)
	}

	sm.emit(ctx, workflowID, "architect", events.EventTypeStageCompleted, "architect stage completed", map[string]any{
		"plan_path": path, "key_files": plan.KeyFiles,
	})
	return sm.checkpoints.Save(ctx, NodeArchitect, state)
}

// approvalGate implements §4.3 graph node 2: suspend without holding a
// blocked goroutine on I/O. It only sets status and emits; the resuming
// call (approve) arrives later as an independent request.
func (sm *StateMachine) approvalGate(ctx context.Context, workflowID string, state *ExecutionState) {
	state.PendingApproval = true
	if err := sm.checkpoints.Save(ctx, NodeApprovalGate, state); err != nil {
		sm.fail(ctx, workflowID, fmt.Sprintf("approval gate: checkpoint: %v", err))
		return
	}
	if err := sm.workflows.UpdateStatus(ctx, workflowID, StatusBlocked, nil); err != nil {
		sm.fail(ctx, workflowID, fmt.Sprintf("approval gate: transition: %v", err))
		return
	}
	sm.emit(ctx, workflowID, "system", events.EventTypeApprovalRequired, "plan ready for approval", map[string]any{
		"plan_path": state.PlanPath,
	})
}

// developerNode implements §4.3 graph node 3.
func (sm *StateMachine) developerNode(ctx context.Context, workflowID string, profile *config.Profile, state *ExecutionState) error {
	driver, err := sm.drivers(agents.RoleDeveloper, profile)
	if err != nil {
		return fmt.Errorf("developer node: driver: %w", err)
	}
	agent := agents.New(agents.RoleDeveloper, agents.DeveloperSystemPrompt, driver, sm.bus, true)

	prompt := developerPrompt(state)
	sessionID, _, err := agent.Run(ctx, workflowID, drivers.Request{
		Prompt: prompt, WorkingDir: state.WorktreePath, PriorSession: state.DriverSessionID,
	})
	if err != nil {
		return fmt.Errorf("developer node: %w", err)
	}
	state.DriverSessionID = sessionID
	return sm.checkpoints.Save(ctx, NodeDeveloper, state)
}

// reviewerNode implements §4.3 graph node 4.
func (sm *StateMachine) reviewerNode(ctx context.Context, workflowID string, profile *config.Profile, state *ExecutionState) (*agents.ReviewVerdict, error) {
	driver, err := sm.drivers(agents.RoleReviewer, profile)
	if err != nil {
		return nil, fmt.Errorf("reviewer node: driver: %w", err)
	}
	agent := agents.New(agents.RoleReviewer, agents.ReviewerSystemPrompt, driver, sm.bus, true)

	prompt := reviewerPrompt(state)
	sessionID, finalText, err := agent.Run(ctx, workflowID, drivers.Request{
		Prompt: prompt, WorkingDir: state.WorktreePath, PriorSession: state.DriverSessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("reviewer node: %w", err)
	}
	state.DriverSessionID = sessionID

	verdict, err := agents.ParseReviewVerdict(finalText)
	if err != nil {
		return nil, fmt.Errorf("reviewer node: malformed verdict: %w", err)
	}
	return verdict, nil
}

// checkCancelled polls the cancellation signal at a suspension point (§4.3,
// §5). If set, it transitions the workflow to cancelled and emits
// WORKFLOW_CANCELLED, returning true to tell the caller to stop.
func (sm *StateMachine) checkCancelled(ctx context.Context, workflowID string, state *ExecutionState) bool {
	if !sm.cancellation.IsCancelled(workflowID) {
		return false
	}
	state.Cancelled = true
	current, err := sm.workflows.Get(ctx, workflowID)
	if err == nil && IsTerminal(current.Status) {
		return true
	}
	if err := sm.workflows.UpdateStatus(ctx, workflowID, StatusCancelled, nil); err != nil {
		sm.fail(ctx, workflowID, fmt.Sprintf("cancel: transition: %v", err))
		return true
	}
	sm.emit(ctx, workflowID, "system", events.EventTypeWorkflowCancelled, "workflow cancelled", nil)
	return true
}

func (sm *StateMachine) complete(ctx context.Context, workflowID string) {
	if err := sm.workflows.UpdateStatus(ctx, workflowID, StatusCompleted, nil); err != nil {
		sm.fail(ctx, workflowID, fmt.Sprintf("complete: transition: %v", err))
		return
	}
	sm.emit(ctx, workflowID, "system", events.EventTypeWorkflowCompleted, "workflow completed", nil)
}

func (sm *StateMachine) fail(ctx context.Context, workflowID, reason string) {
	current, err := sm.workflows.Get(ctx, workflowID)
	if err == nil && IsTerminal(current.Status) {
		return
	}
	_ = sm.workflows.UpdateStatus(ctx, workflowID, StatusFailed, func(w *Workflow) {
		w.FailureReason = reason
	})
	sm.emit(ctx, workflowID, "system", events.EventTypeWorkflowFailed, reason, nil)
}

func (sm *StateMachine) failWithIteration(ctx context.Context, workflowID, reason string, iteration int) {
	_ = sm.workflows.UpdateStatus(ctx, workflowID, StatusFailed, func(w *Workflow) {
		w.FailureReason = reason
		w.ReviewIteration = iteration
	})
	sm.emit(ctx, workflowID, "system", events.EventTypeWorkflowFailed, reason, map[string]any{"review_iteration": iteration})
}

func (sm *StateMachine) emit(ctx context.Context, workflowID, agent, eventType, message string, data map[string]any) {
	_, err := sm.bus.Emit(ctx, &eventstore.Event{
		WorkflowID: workflowID,
		Agent:      agent,
		EventType:  eventType,
		Level:      events.LevelForEventType(eventType),
		Message:    message,
		Data:       data,
	})
	if err != nil {
		// Persistence errors here become SYSTEM_ERROR-shaped log lines, not a
		// second failed transition: the workflow's own transition already
		// carries the user-visible failure_reason (§7's PersistenceError
		// propagation policy: "emitted as a SYSTEM_ERROR event (best-effort)").
		slog.Warn("statemachine: emit event failed", "workflow_id", workflowID, "event_type", eventType, "error", err)
	}
}

func developerPrompt(state *ExecutionState) string {
	p := fmt.Sprintf("Implement the following plan at %s:\n\n%s", state.WorktreePath, state.PlanContent)
	for _, entry := range state.ConversationHistory {
		p += fmt.Sprintf("\n\n[%s feedback]: %s", entry.Role, entry.Content)
	}
	return p
}

func reviewerPrompt(state *ExecutionState) string {
	return fmt.Sprintf("Verify the changes at %s satisfy the plan:\n\n%s", state.WorktreePath, state.PlanContent)
}

// planArtifactPath implements §6.4's layout:
// {plan_output_dir}/{YYYY-MM-DD}-{issue_id}.md.
func planArtifactPath(planOutputDir, issueID string, now time.Time) string {
	name := fmt.Sprintf("%s-%s.md", now.Format("2006-01-02"), issueID)
	return filepath.Join(planOutputDir, name)
}
