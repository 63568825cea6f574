package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amelia-dev/amelia/ent"
	"github.com/amelia-dev/amelia/ent/checkpoint"
	"github.com/google/uuid"
)

// Node identifies a WorkflowStateMachine graph node boundary a Checkpoint
// was taken at (§4.3).
type Node string

const (
	NodeArchitect    Node = "architect_node"
	NodeApprovalGate Node = "approval_gate"
	NodeDeveloper    Node = "developer_node"
	NodeReviewer     Node = "reviewer_node"
)

// Checkpointer snapshots ExecutionState at node boundaries (§4.3's
// Checkpointing paragraph), grounded on the tx-scoped update pattern in the
// teacher's pkg/queue/orphan.go markSessionTimedOut — here applied to a
// single insert rather than a multi-row update, since checkpoints are
// append-only per (workflow_id, node, created_at).
type Checkpointer struct {
	client *ent.Client
}

// NewCheckpointer builds a Checkpointer over an existing ent client.
func NewCheckpointer(client *ent.Client) *Checkpointer {
	return &Checkpointer{client: client}
}

// Save persists a snapshot of state at node. Called after every successful
// node completion and before every suspension (§4.3).
func (c *Checkpointer) Save(ctx context.Context, node Node, state *ExecutionState) error {
	blob, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("checkpoint: encode state: %w", err)
	}

	create := c.client.Checkpoint.Create().
		SetID(uuid.NewString()).
		SetWorkflowID(state.WorkflowID).
		SetNode(string(node)).
		SetState(blob)
	if state.DriverSessionID != "" {
		create = create.SetDriverSessionID(state.DriverSessionID)
	}
	if _, err := create.Save(ctx); err != nil {
		return fmt.Errorf("checkpoint: save: %w", err)
	}
	return nil
}

// Latest returns the most recent checkpoint for workflowID. If none exists
// (a workflow that never reached a node boundary, e.g. failed during
// start_workflow validation), it returns an empty Node, a nil state and a
// nil error.
func (c *Checkpointer) Latest(ctx context.Context, workflowID string) (Node, *ExecutionState, error) {
	row, err := c.client.Checkpoint.Query().
		Where(checkpoint.WorkflowID(workflowID)).
		Order(ent.Desc(checkpoint.FieldCreatedAt)).
		First(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("checkpoint: latest: %w", err)
	}

	state, err := decodeState(row.State)
	if err != nil {
		return "", nil, fmt.Errorf("checkpoint: decode state: %w", err)
	}
	if row.DriverSessionID != nil {
		state.DriverSessionID = *row.DriverSessionID
	}
	return Node(row.Node), state, nil
}

// PurgeForWorkflow deletes every checkpoint of workflowID. Invoked from
// OrchestratorService's per-workflow finalization callback once the workflow
// is terminal; RetentionService's periodic sweep uses PurgeOlderThan instead.
func (c *Checkpointer) PurgeForWorkflow(ctx context.Context, workflowID string) (int, error) {
	n, err := c.client.Checkpoint.Delete().
		Where(checkpoint.WorkflowID(workflowID)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: purge for workflow: %w", err)
	}
	return n, nil
}

// PurgeOlderThan deletes checkpoints created before cutoff, for use by the
// periodic sweep (§6.5's checkpoint_retention_days).
func (c *Checkpointer) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := c.client.Checkpoint.Delete().
		Where(checkpoint.CreatedAtLT(cutoff)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: purge older than: %w", err)
	}
	return n, nil
}

// stateBlob is the JSON shape stored in Checkpoint.State. Kept as an
// explicit struct (rather than encoding ExecutionState directly) so the
// wire shape is stable even if ExecutionState gains Go-only fields later.
type stateBlob struct {
	WorkflowID          string              `json:"workflow_id"`
	Issue               Issue               `json:"issue"`
	WorktreePath        string              `json:"worktree_path"`
	ProfileID           string              `json:"profile_id"`
	PlanPath            string              `json:"plan_path"`
	PlanContent         string              `json:"plan_content"`
	KeyFiles            []string            `json:"key_files"`
	ConversationHistory []ConversationEntry `json:"conversation_history"`
	PendingApproval     bool                `json:"pending_approval"`
	ReviewIteration     int                 `json:"review_iteration"`
}

func encodeState(s *ExecutionState) (map[string]any, error) {
	blob := stateBlob{
		WorkflowID:          s.WorkflowID,
		Issue:               s.Issue,
		WorktreePath:        s.WorktreePath,
		ProfileID:           s.ProfileID,
		PlanPath:            s.PlanPath,
		PlanContent:         s.PlanContent,
		KeyFiles:            s.KeyFiles,
		ConversationHistory: s.ConversationHistory,
		PendingApproval:     s.PendingApproval,
		ReviewIteration:     s.ReviewIteration,
	}
	raw, err := json.Marshal(blob)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeState(m map[string]any) (*ExecutionState, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var blob stateBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, err
	}
	return &ExecutionState{
		WorkflowID:          blob.WorkflowID,
		Issue:               blob.Issue,
		WorktreePath:        blob.WorktreePath,
		ProfileID:           blob.ProfileID,
		PlanPath:            blob.PlanPath,
		PlanContent:         blob.PlanContent,
		KeyFiles:            blob.KeyFiles,
		ConversationHistory: blob.ConversationHistory,
		PendingApproval:     blob.PendingApproval,
		ReviewIteration:     blob.ReviewIteration,
	}, nil
}
