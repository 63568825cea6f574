package api

import (
	"time"

	"github.com/amelia-dev/amelia/pkg/events"
)

// CreateWorkflowResponse is returned by POST /api/workflows (§6.1: `201
// {id, status, message}`).
type CreateWorkflowResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// WorkflowResponse is one row of GET /api/workflows (§6.1's list endpoint).
type WorkflowResponse struct {
	ID              string     `json:"id"`
	IssueID         string     `json:"issue_id"`
	WorktreePath    string     `json:"worktree_path"`
	WorktreeName    string     `json:"worktree_name,omitempty"`
	ProfileID       string     `json:"profile_id"`
	WorkflowType    string     `json:"workflow_type"`
	Status          string     `json:"status"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	ReviewIteration int        `json:"review_iteration"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// WorkflowDetailResponse is GET /api/workflows/{id} (§6.1: "includes plan,
// token_usage, recent_events").
type WorkflowDetailResponse struct {
	WorkflowResponse
	Plan         string                     `json:"plan,omitempty"`
	PlanPath     string                     `json:"plan_path,omitempty"`
	TokenUsage   *TokenUsageResponse        `json:"token_usage,omitempty"`
	RecentEvents []events.EventCreatedPayload `json:"recent_events"`
}

// TokenUsageResponse summarizes accumulated token usage for a workflow.
// The `token_usage` table is persistence-layer-only per §6.3; this repo's
// core doesn't meter usage itself, so the field is always present but zero
// until a driver implementation starts reporting it.
type TokenUsageResponse struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CancelResponse is returned by POST /api/workflows/{id}/cancel.
type CancelResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents the status of a single health check component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the §6.1 error envelope: `{error, code, details?}`.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}
