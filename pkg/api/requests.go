package api

// CreateWorkflowRequest is the HTTP request body for POST /api/workflows
// (§6.1). TaskDesc requires TaskTitle (checked in createWorkflowHandler);
// TaskTitle requires a noop tracker profile (checked in
// orchestrator.Service.Create).
type CreateWorkflowRequest struct {
	IssueID      string `json:"issue_id"`
	WorktreePath string `json:"worktree_path"`
	WorktreeName string `json:"worktree_name,omitempty"`
	Profile      string `json:"profile,omitempty"`
	Driver       string `json:"driver,omitempty"`
	TaskTitle    string `json:"task_title,omitempty"`
	TaskDesc     string `json:"task_description,omitempty"`
}

// RejectWorkflowRequest is the body for POST /api/workflows/{id}/reject.
type RejectWorkflowRequest struct {
	Feedback string `json:"feedback"`
}
