package orchestrator

import "context"

// Status is the WorkflowStateMachine's status enum (§4.3), mirrored from
// ent/schema/workflow.go's status field values.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPlanning   Status = "planning"
	StatusBlocked    Status = "blocked"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether s has no outgoing transitions (§8: "no
// outgoing transitions from a terminal status").
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether a workflow in status s counts against the
// per-worktree exclusivity invariant and the global concurrency cap (§4.3,
// §4.4, §5): planning, in_progress, or blocked.
func IsActive(s Status) bool {
	return s == StatusPlanning || s == StatusInProgress || s == StatusBlocked
}

// Issue is the tracker-supplied (or ad-hoc) value a workflow runs against
// (§3 Data Model). Treated as immutable for the run.
type Issue struct {
	ID          string
	Title       string
	Description string
}

// Tracker resolves a tracker-native issue reference into an Issue. Concrete
// adapters (github, jira) are explicitly out of scope per spec §1 — this is
// the seam they would implement.
type Tracker interface {
	Resolve(ctx context.Context, issueID string) (Issue, error)
}

// NoopTracker is the one in-scope Tracker implementation (§4.4, §9's
// noop/none aliasing): it never calls out. Without task_title, start_workflow
// uses its Resolve; with task_title, it builds the Issue via NewAdHocIssue.
type NoopTracker struct{}

// Resolve returns a bare Issue carrying only the id; NoopTracker never has
// title/description to offer on its own — those arrive via NewAdHocIssue at
// workflow-creation time instead.
func (NoopTracker) Resolve(_ context.Context, issueID string) (Issue, error) {
	return Issue{ID: issueID}, nil
}

// NewAdHocIssue builds an Issue directly from a caller-supplied title and
// description, bypassing tracker resolution entirely. start_workflow uses
// this when task_title is provided against a noop-tracker profile (§4.4,
// §6.1's validation rule: "task_title requires a noop tracker profile").
func NewAdHocIssue(issueID, title, description string) Issue {
	return Issue{ID: issueID, Title: title, Description: description}
}

// ConversationEntry is one turn of the Developer/Reviewer review-loop
// conversation history carried in ExecutionState.
type ConversationEntry struct {
	Role    string
	Content string
}

// ExecutionState is the in-memory state the WorkflowStateMachine carries
// through its graph nodes, checkpointed at every node boundary (§3, §4.3).
// It is owned exclusively by the single task driving its workflow; no other
// component mutates it (§3 Ownership, §5).
type ExecutionState struct {
	WorkflowID   string
	Issue        Issue
	WorktreePath string
	ProfileID    string

	PlanPath    string
	PlanContent string
	KeyFiles    []string

	ConversationHistory []ConversationEntry

	// DriverSessionID is the last session identifier handed back by the
	// driver, threaded into the next node's Request.PriorSession so the
	// driver can resume context (§4.6's session continuity contract).
	DriverSessionID string

	PendingApproval bool
	ReviewIteration int
	Cancelled       bool
}
