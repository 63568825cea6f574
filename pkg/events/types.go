// Package events provides real-time event delivery via WebSocket and
// PostgreSQL NOTIFY/LISTEN for cross-process distribution.
//
// ════════════════════════════════════════════════════════════════
// Event classification
// ════════════════════════════════════════════════════════════════
//
// Every event_type maps to exactly one level via LevelForEventType, a fixed
// table consulted both at emission (EventBus.emit classifies and decides
// whether to persist) and at retention (RetentionService sweeps by level).
//
//   info  — workflow/stage/approval/review lifecycle (WORKFLOW_CREATED,
//           STAGE_COMPLETED, APPROVAL_REQUIRED, REVISION_REQUESTED,
//           WORKFLOW_COMPLETED, ...)
//   debug — tasks, file operations, warnings, node-level errors
//   trace — LLM thinking, tool_call, tool_result, agent_output
//
// Trace events are always offered to the WebSocket connection manager
// regardless of whether trace_retention_days enables their persistence
// (live viewing is independent of persistence — see EventBus.emit).
package events

// Persistent event types (stored via EventStore, then broadcast by the Bus).
const (
	// Workflow lifecycle.
	EventTypeWorkflowCreated   = "workflow_created"
	EventTypeWorkflowCompleted = "workflow_completed"
	EventTypeWorkflowFailed    = "workflow_failed"
	EventTypeWorkflowCancelled = "workflow_cancelled"

	// Stage (node) lifecycle.
	EventTypeStageStarted   = "stage_started"
	EventTypeStageCompleted = "stage_completed"

	// Approval lifecycle.
	EventTypeApprovalRequired = "approval_required"
	EventTypeApprovalGranted  = "approval_granted"
	EventTypeApprovalRejected = "approval_rejected"

	// Review lifecycle: a rejected review sends the workflow back to the
	// developer node (§4.3's in_progress -> blocked -> in_progress edge).
	EventTypeRevisionRequested = "revision_requested"

	// Task / file-operation / warning (debug).
	EventTypeTaskStarted  = "task_started"
	EventTypeFileOp       = "file_op"
	EventTypeWarning      = "warning"
	EventTypeNodeError    = "node_error"

	// LLM/tool activity (trace).
	EventTypeLLMThinking   = "llm_thinking"
	EventTypeToolCall      = "tool_call"
	EventTypeToolResult    = "tool_result"
	EventTypeAgentOutput   = "agent_output"
)

// Transient event types (NOTIFY/broadcast only, never persisted).
const (
	// LLM streaming chunks — high-frequency, ephemeral.
	EventTypeStreamChunk = "stream.chunk"
)

// LevelForEventType implements the fixed event_type -> level mapping table
// from §4.2. Unrecognized event types default to "info" so a new, not-yet-
// classified event type degrades to the safest (always-persisted,
// always-broadcast) behavior rather than silently vanishing.
func LevelForEventType(eventType string) string {
	switch eventType {
	case EventTypeLLMThinking, EventTypeToolCall, EventTypeToolResult, EventTypeAgentOutput:
		return LevelTrace
	case EventTypeTaskStarted, EventTypeFileOp, EventTypeWarning, EventTypeNodeError:
		return LevelDebug
	default:
		return LevelInfo
	}
}

// Event levels, per §3's Event.level field.
const (
	LevelInfo  = "info"
	LevelDebug = "debug"
	LevelTrace = "trace"
)

// GlobalWorkflowsChannel is the channel for workflow-level status events.
// The workflow list page subscribes to this for real-time updates.
const GlobalWorkflowsChannel = "workflows"

// WorkflowChannel returns the channel name for a specific workflow's events.
// Format: "workflow:{workflow_id}"
func WorkflowChannel(workflowID string) string {
	return "workflow:" + workflowID
}

// ClientMessage is the JSON structure for client -> server WebSocket
// messages, per §4.5: {subscribe, workflow_id}, {unsubscribe, workflow_id},
// {subscribe_all}, {pong}.
type ClientMessage struct {
	Action     string `json:"action"`
	WorkflowID string `json:"workflow_id,omitempty"`
}
