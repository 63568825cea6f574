package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/amelia-dev/amelia/pkg/config"
	"github.com/amelia-dev/amelia/pkg/events"
	"github.com/amelia-dev/amelia/pkg/eventstore"
	"github.com/google/uuid"
)

// CreateRequest is start_workflow's input (§4.4, §6.1).
type CreateRequest struct {
	IssueID       string
	WorktreePath  string
	WorktreeName  string
	ProfileID     string
	TaskTitle     string
	TaskDesc      string
}

// Service is the OrchestratorService (§4.4): the supervisor owning
// per-worktree exclusivity, the global concurrency cap, and one goroutine
// per active workflow driving a StateMachine.
//
// Grounded on the teacher's pkg/queue/pool.go WorkerPool: a counting
// semaphore bounding concurrent work plus a registry of in-flight task
// handles, generalized here from polling a shared queue table to a
// spawn-on-create model where every accepted request gets its own
// goroutine immediately (§4.4's "no queueing; creation beyond the cap is
// rejected, not deferred").
type Service struct {
	workflows   WorkflowRepository
	checkpoints *Checkpointer
	bus         *events.Bus
	profiles    *config.ProfileRegistry
	defaults    *config.Defaults
	driverFor   DriverFactory

	sem chan struct{} // counting semaphore: global concurrency cap

	mu          sync.Mutex
	worktrees   map[string]bool          // worktree_path -> has an active workflow (registry lock)
	cancelFlags map[string]bool          // workflow_id -> cancellation requested
	active      map[string]context.CancelFunc // workflow_id -> cancel of its driving goroutine
	wg          sync.WaitGroup

	log *slog.Logger
}

// NewService builds a Service. driverFor resolves the concrete Driver for a
// given role+profile; its construction (process/HTTP/gRPC) is left to the
// caller wiring cmd/amelia/main.go.
func NewService(
	workflows WorkflowRepository,
	checkpoints *Checkpointer,
	bus *events.Bus,
	profiles *config.ProfileRegistry,
	defaults *config.Defaults,
	orchCfg *config.OrchestratorConfig,
	driverFor DriverFactory,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		workflows:   workflows,
		checkpoints: checkpoints,
		bus:         bus,
		profiles:    profiles,
		defaults:    defaults,
		driverFor:   driverFor,
		sem:         make(chan struct{}, orchCfg.MaxConcurrent),
		worktrees:   make(map[string]bool),
		cancelFlags: make(map[string]bool),
		active:      make(map[string]context.CancelFunc),
		log:         log,
	}
}

// IsCancelled implements CancellationSource for the StateMachine this
// service spawns.
func (s *Service) IsCancelled(workflowID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelFlags[workflowID]
}

// Create implements start_workflow (§4.4): resolve the issue, check
// per-worktree exclusivity under the registry lock, acquire the global
// concurrency slot (non-blocking — RateLimit if full), persist the pending
// row, then spawn the driving goroutine.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Workflow, error) {
	profile, err := s.profiles.Get(req.ProfileID)
	if err != nil {
		return nil, newError(KindValidation, fmt.Sprintf("unknown profile %q", req.ProfileID), err)
	}

	tracker := s.trackerFor(profile)
	var issue Issue
	if req.TaskTitle != "" {
		if name := profile.ResolveTracker(s.defaults); name != "noop" && name != "" {
			return nil, newError(KindValidation, "task_title requires a noop tracker profile", nil)
		}
		issue = NewAdHocIssue(req.IssueID, req.TaskTitle, req.TaskDesc)
	} else {
		issue, err = tracker.Resolve(ctx, req.IssueID)
		if err != nil {
			return nil, newError(KindValidation, fmt.Sprintf("resolve issue %q", req.IssueID), err)
		}
	}

	if err := s.reserveWorktree(ctx, req.WorktreePath); err != nil {
		return nil, err
	}

	if !s.tryAcquire() {
		s.releaseWorktree(req.WorktreePath)
		return nil, newError(KindRateLimit, "max_concurrent workflows already active", nil)
	}

	wf := &Workflow{
		ID:           uuid.NewString(),
		IssueID:      issue.ID,
		WorktreePath: req.WorktreePath,
		WorktreeName: req.WorktreeName,
		ProfileID:    req.ProfileID,
		WorkflowType: "full",
		Status:       StatusPending,
		IssueCache: map[string]any{
			"title": issue.Title, "description": issue.Description,
		},
	}
	if err := s.workflows.Create(ctx, wf); err != nil {
		s.release(wf.ID, req.WorktreePath)
		return nil, err
	}

	s.emitCreated(ctx, wf)
	s.spawn(wf.ID, func(runCtx context.Context) {
		sm := s.newStateMachine()
		sm.RunFromStart(runCtx, wf, profile, issue)
	}, req.WorktreePath)

	return wf, nil
}

// Approve implements approve (§4.4): validate the workflow is blocked
// awaiting approval, transition to in_progress, and spawn the resuming
// goroutine from developer_node. Idempotent on terminal states (§4.4's
// approval routing policy): a second approve after the workflow already
// finished returns success without side effects; a second approve while
// still active (e.g. already in_progress) is a no-op error.
func (s *Service) Approve(ctx context.Context, workflowID string) error {
	wf, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if IsTerminal(wf.Status) {
		return nil
	}
	if wf.Status != StatusBlocked {
		return newError(KindInvalidTransition, fmt.Sprintf("workflow %s is not awaiting approval", workflowID), nil)
	}
	profile, err := s.profiles.Get(wf.ProfileID)
	if err != nil {
		return newError(KindValidation, fmt.Sprintf("unknown profile %q", wf.ProfileID), err)
	}

	if err := s.workflows.UpdateStatus(ctx, workflowID, StatusInProgress, nil); err != nil {
		return err
	}
	_, _ = s.bus.Emit(ctx, approvedEvent(workflowID))
	s.spawnResume(workflowID, wf.WorktreePath, profile)
	return nil
}

// Reject implements reject (§4.4, §8 scenario 3): the plan is terminally
// rejected, not sent back for a replan — the current contract fixed by
// spec §4.4 ("the current contract is terminal reject"). No Developer or
// Reviewer node is ever entered for a rejected plan. Idempotent on
// terminal states per §4.4's approval routing policy.
func (s *Service) Reject(ctx context.Context, workflowID, feedback string) error {
	wf, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if IsTerminal(wf.Status) {
		return nil
	}
	if wf.Status != StatusBlocked {
		return newError(KindInvalidTransition, fmt.Sprintf("workflow %s is not awaiting approval", workflowID), nil)
	}

	if err := s.workflows.UpdateStatus(ctx, workflowID, StatusFailed, func(w *Workflow) {
		w.FailureReason = feedback
	}); err != nil {
		return err
	}
	_, _ = s.bus.Emit(ctx, rejectedEvent(workflowID, feedback))
	_, _ = s.bus.Emit(ctx, failedEvent(workflowID, feedback))

	s.finalize(workflowID, wf.WorktreePath)
	return nil
}

// Cancel implements cancel (§4.4, §5): sets the cooperative cancellation
// flag observed by the state machine's checkCancelled polling, and cancels
// the goroutine's context so a blocked driver call unwinds promptly.
// Idempotent on terminal states per §4.4's approval routing policy: a
// cancel arriving after the workflow already finished returns success
// without mutation.
func (s *Service) Cancel(ctx context.Context, workflowID string) error {
	wf, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if IsTerminal(wf.Status) {
		return nil
	}

	s.mu.Lock()
	s.cancelFlags[workflowID] = true
	cancel, ok := s.active[workflowID]
	s.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	// Nothing is running it right now (e.g. blocked at the approval gate
	// between tasks): transition directly. No driving goroutine will exit to
	// run finalize, so this path must release the cap slot and worktree lock
	// itself.
	if err := s.workflows.UpdateStatus(ctx, workflowID, StatusCancelled, nil); err != nil {
		return err
	}
	s.finalize(workflowID, wf.WorktreePath)
	return nil
}

// List implements the workflow list endpoint, delegating straight to the
// repository.
func (s *Service) List(ctx context.Context, statuses []Status) ([]*Workflow, error) {
	return s.workflows.List(ctx, statuses)
}

// Get implements the workflow detail endpoint.
func (s *Service) Get(ctx context.Context, id string) (*Workflow, error) {
	return s.workflows.Get(ctx, id)
}

// Shutdown waits up to timeout for all active workflow goroutines to reach
// a suspension or terminal point (§4.4's graceful-shutdown paragraph),
// cancelling anything still running once the deadline passes.
func (s *Service) Shutdown(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(timeout):
		s.mu.Lock()
		for id, cancel := range s.active {
			s.log.Warn("shutdown: forcing cancellation of active workflow", "workflow_id", id)
			cancel()
		}
		s.mu.Unlock()
		<-done
	}
}

func (s *Service) newStateMachine() *StateMachine {
	return NewStateMachine(s.workflows, s.checkpoints, s.bus, s.driverFor, s, s.defaults, s.reviewLimit())
}

// defaultReviewLimit is the review-iteration cap used when no profile
// default overrides it (§9's Open Question).
const defaultReviewLimit = 3

// reviewLimit resolves the configured review.iteration_limit (§6.5), falling
// back to defaultReviewLimit when the profile defaults leave it unset.
func (s *Service) reviewLimit() int {
	if s.defaults != nil && s.defaults.ReviewIterationLimit > 0 {
		return s.defaults.ReviewIterationLimit
	}
	return defaultReviewLimit
}

func (s *Service) spawn(workflowID string, fn func(ctx context.Context), worktreePath string) {
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.active[workflowID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			s.mu.Lock()
			delete(s.active, workflowID)
			delete(s.cancelFlags, workflowID)
			s.mu.Unlock()
		}()
		defer s.finalize(workflowID, worktreePath)
		fn(runCtx)
	}()
}

func (s *Service) spawnResume(workflowID, worktreePath string, profile *config.Profile) {
	s.spawn(workflowID, func(runCtx context.Context) {
		sm := s.newStateMachine()
		sm.ResumeAfterApproval(runCtx, workflowID, profile)
	}, worktreePath)
}

// finalize runs once a workflow's driving goroutine exits. A goroutine can
// exit either because the workflow reached a terminal status or because it
// suspended at a non-terminal one (e.g. StatusBlocked awaiting approval or a
// review verdict) — the latter still holds its worktree lock and concurrency
// slot, since the same worktree must stay exclusive to it until Approve,
// Reject, or Cancel eventually resolves it to a terminal status. Only a
// terminal status releases the slot/lock and drops checkpoints per §4.4's
// retention note.
func (s *Service) finalize(workflowID, worktreePath string) {
	wf, err := s.workflows.Get(context.Background(), workflowID)
	if err != nil {
		return
	}
	if !IsTerminal(wf.Status) {
		return
	}

	s.release(workflowID, worktreePath)
	if _, err := s.checkpoints.PurgeForWorkflow(context.Background(), workflowID); err != nil {
		s.log.Warn("finalize: purge checkpoints failed", "workflow_id", workflowID, "error", err)
	}
}

func (s *Service) reserveWorktree(ctx context.Context, worktreePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worktrees[worktreePath] {
		return newError(KindWorkflowConflict, fmt.Sprintf("worktree %s already has an active workflow", worktreePath), nil)
	}
	active, err := s.workflows.HasActiveForWorktree(ctx, worktreePath)
	if err != nil {
		return err
	}
	if active {
		return newError(KindWorkflowConflict, fmt.Sprintf("worktree %s already has an active workflow", worktreePath), nil)
	}
	s.worktrees[worktreePath] = true
	return nil
}

func (s *Service) releaseWorktree(worktreePath string) {
	s.mu.Lock()
	delete(s.worktrees, worktreePath)
	s.mu.Unlock()
}

func (s *Service) tryAcquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Service) release(workflowID, worktreePath string) {
	s.releaseWorktree(worktreePath)
	select {
	case <-s.sem:
	default:
	}
}

func (s *Service) trackerFor(profile *config.Profile) Tracker {
	switch profile.ResolveTracker(s.defaults) {
	case "noop", "":
		return NoopTracker{}
	default:
		// Concrete tracker adapters (github, jira) are out of scope per §1;
		// any non-noop tracker name resolves to NoopTracker today, which only
		// ever returns a bare id (never title/description).
		return NoopTracker{}
	}
}

func (s *Service) emitCreated(ctx context.Context, wf *Workflow) {
	_, _ = s.bus.Emit(ctx, createdEvent(wf))
}

func createdEvent(wf *Workflow) *eventstore.Event {
	return &eventstore.Event{
		WorkflowID: wf.ID,
		Agent:      "system",
		EventType:  events.EventTypeWorkflowCreated,
		Level:      events.LevelForEventType(events.EventTypeWorkflowCreated),
		Message:    fmt.Sprintf("workflow created for issue %s", wf.IssueID),
		Data:       map[string]any{"worktree_path": wf.WorktreePath, "profile_id": wf.ProfileID},
	}
}

func approvedEvent(workflowID string) *eventstore.Event {
	return &eventstore.Event{
		WorkflowID: workflowID,
		Agent:      "system",
		EventType:  events.EventTypeApprovalGranted,
		Level:      events.LevelForEventType(events.EventTypeApprovalGranted),
		Message:    "plan approved",
	}
}

func rejectedEvent(workflowID, feedback string) *eventstore.Event {
	return &eventstore.Event{
		WorkflowID: workflowID,
		Agent:      "system",
		EventType:  events.EventTypeApprovalRejected,
		Level:      events.LevelForEventType(events.EventTypeApprovalRejected),
		Message:    "plan rejected",
		Data:       map[string]any{"feedback": feedback},
	}
}

func failedEvent(workflowID, reason string) *eventstore.Event {
	return &eventstore.Event{
		WorkflowID: workflowID,
		Agent:      "system",
		EventType:  events.EventTypeWorkflowFailed,
		Level:      events.LevelForEventType(events.EventTypeWorkflowFailed),
		Message:    reason,
	}
}
