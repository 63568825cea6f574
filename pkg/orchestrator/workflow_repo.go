package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/amelia-dev/amelia/ent"
	"github.com/amelia-dev/amelia/ent/workflow"
	"github.com/google/uuid"
)

// Workflow is the in-memory identity record mirrored from the ent-backed
// row (§3 Data Model). Read paths (list/detail) work against this type
// rather than *ent.Workflow so callers outside this package never import
// ent directly.
type Workflow struct {
	ID                string
	IssueID           string
	WorktreePath      string
	WorktreeName      string
	ProfileID         string
	WorkflowType      string
	Status            Status
	FailureReason     string
	PlanCache         string
	PlanPath          string
	IssueCache        map[string]any
	ReviewIteration   int
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	UpdatedAt         time.Time
	LastInteractionAt *time.Time
}

// WorkflowRepository persists Workflow identity records. Implemented by
// *entWorkflowRepository against the generated ent client; narrowed to an
// interface so OrchestratorService/StateMachine tests can substitute an
// in-memory fake.
type WorkflowRepository interface {
	Create(ctx context.Context, w *Workflow) error
	Get(ctx context.Context, id string) (*Workflow, error)
	List(ctx context.Context, statuses []Status) ([]*Workflow, error)
	HasActiveForWorktree(ctx context.Context, worktreePath string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status Status, touch func(*Workflow)) error
}

// entWorkflowRepository is the ent-backed WorkflowRepository.
type entWorkflowRepository struct {
	client *ent.Client
}

// NewWorkflowRepository builds a WorkflowRepository over an existing ent
// client (database.Client.Ent(), by convention).
func NewWorkflowRepository(client *ent.Client) WorkflowRepository {
	return &entWorkflowRepository{client: client}
}

func (r *entWorkflowRepository) Create(ctx context.Context, w *Workflow) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	create := r.client.Workflow.Create().
		SetID(w.ID).
		SetIssueID(w.IssueID).
		SetWorktreePath(w.WorktreePath).
		SetProfileID(w.ProfileID).
		SetWorkflowType(workflow.WorkflowType(w.WorkflowType)).
		SetStatus(workflow.Status(w.Status))
	if w.WorktreeName != "" {
		create = create.SetWorktreeName(w.WorktreeName)
	}
	if w.IssueCache != nil {
		create = create.SetIssueCache(w.IssueCache)
	}

	row, err := create.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return newError(KindWorkflowConflict, fmt.Sprintf("active workflow already exists for worktree %s", w.WorktreePath), err)
		}
		return newError(KindPersistence, "create workflow", err)
	}
	w.CreatedAt = row.CreatedAt
	w.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *entWorkflowRepository) Get(ctx context.Context, id string) (*Workflow, error) {
	row, err := r.client.Workflow.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, newError(KindNotFound, fmt.Sprintf("workflow %s", id), err)
		}
		return nil, newError(KindPersistence, "get workflow", err)
	}
	return toWorkflow(row), nil
}

func (r *entWorkflowRepository) List(ctx context.Context, statuses []Status) ([]*Workflow, error) {
	q := r.client.Workflow.Query()
	if len(statuses) > 0 {
		enums := make([]workflow.Status, len(statuses))
		for i, s := range statuses {
			enums[i] = workflow.Status(s)
		}
		q = q.Where(workflow.StatusIn(enums...))
	}
	rows, err := q.Order(ent.Desc(workflow.FieldCreatedAt)).All(ctx)
	if err != nil {
		return nil, newError(KindPersistence, "list workflows", err)
	}
	out := make([]*Workflow, len(rows))
	for i, row := range rows {
		out[i] = toWorkflow(row)
	}
	return out, nil
}

// HasActiveForWorktree is the application-level half of the exclusivity
// check (§5): "lookup+insert under a global registry lock, confirmed by a
// partial-unique constraint at the persistence layer". The registry lock
// itself lives in OrchestratorService; this is the lookup.
func (r *entWorkflowRepository) HasActiveForWorktree(ctx context.Context, worktreePath string) (bool, error) {
	count, err := r.client.Workflow.Query().
		Where(
			workflow.WorktreePath(worktreePath),
			workflow.StatusIn(workflow.StatusPlanning, workflow.StatusInProgress, workflow.StatusBlocked),
		).
		Count(ctx)
	if err != nil {
		return false, newError(KindPersistence, "check worktree exclusivity", err)
	}
	return count > 0, nil
}

// UpdateStatus validates the transition, applies it, and lets touch mutate
// any other fields (failure_reason, plan_cache, review_iteration, ...) in
// the same update. touch may be nil.
func (r *entWorkflowRepository) UpdateStatus(ctx context.Context, id string, status Status, touch func(*Workflow)) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	// A call that keeps a non-terminal status only updates the touched
	// fields (e.g. architect_node storing the plan while still planning), so
	// it is not checked against the transitions table.
	if current.Status != status || IsTerminal(status) {
		if err := ValidateTransition(current.Status, status); err != nil {
			return err
		}
	}

	now := time.Now()
	upd := r.client.Workflow.UpdateOneID(id).
		SetStatus(workflow.Status(status)).
		SetLastInteractionAt(now)

	if status == StatusPlanning || status == StatusInProgress {
		if current.StartedAt == nil {
			upd = upd.SetStartedAt(now)
		}
	}
	if IsTerminal(status) {
		upd = upd.SetCompletedAt(now)
	}

	if touch != nil {
		touch(current)
		if current.FailureReason != "" {
			upd = upd.SetFailureReason(current.FailureReason)
		}
		if current.PlanCache != "" {
			upd = upd.SetPlanCache(current.PlanCache)
		}
		if current.PlanPath != "" {
			upd = upd.SetPlanPath(current.PlanPath)
		}
		upd = upd.SetReviewIteration(current.ReviewIteration)
	}

	if _, err := upd.Save(ctx); err != nil {
		return newError(KindPersistence, "update workflow status", err)
	}
	return nil
}

func toWorkflow(row *ent.Workflow) *Workflow {
	w := &Workflow{
		ID:              row.ID,
		IssueID:         row.IssueID,
		WorktreePath:    row.WorktreePath,
		WorktreeName:    row.WorktreeName,
		ProfileID:       row.ProfileID,
		WorkflowType:    string(row.WorkflowType),
		Status:          Status(row.Status),
		ReviewIteration: row.ReviewIteration,
		IssueCache:      row.IssueCache,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.FailureReason != nil {
		w.FailureReason = *row.FailureReason
	}
	if row.PlanCache != nil {
		w.PlanCache = *row.PlanCache
	}
	if row.PlanPath != nil {
		w.PlanPath = *row.PlanPath
	}
	w.StartedAt = row.StartedAt
	w.CompletedAt = row.CompletedAt
	w.LastInteractionAt = row.LastInteractionAt
	return w
}
