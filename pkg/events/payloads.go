package events

import (
	"time"

	"github.com/amelia-dev/amelia/pkg/eventstore"
)

// EventCreatedPayload is the payload broadcast whenever a new Event row is
// appended to a workflow's stream. It mirrors the persisted Event record
// closely enough that a WebSocket client never needs a follow-up REST call
// just to render the live feed.
type EventCreatedPayload struct {
	Type          string         `json:"type"` // always "event.created"
	EventID       string         `json:"event_id"`
	WorkflowID    string         `json:"workflow_id"`
	Sequence      int            `json:"sequence"`
	Agent         string         `json:"agent"`      // architect | developer | reviewer | system
	EventType     string         `json:"event_type"` // e.g. "llm_thinking", "tool_call"
	Level         string         `json:"level"`      // info | debug | trace
	Message       string         `json:"message"`
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
	ParentID      string         `json:"parent_id,omitempty"`
	ToolName      string         `json:"tool_name,omitempty"`
	ToolInput     map[string]any `json:"tool_input,omitempty"`
	IsError       bool           `json:"is_error,omitempty"`
	Timestamp     string         `json:"timestamp"` // RFC3339Nano
}

// StreamChunkPayload is the payload shape for stream.chunk transient events
// (high frequency, ephemeral, never persisted). No component in this module
// publishes it.
type StreamChunkPayload struct {
	Type       string `json:"type"` // always EventTypeStreamChunk
	WorkflowID string `json:"workflow_id"`
	Delta      string `json:"delta"`     // incremental text chunk
	Timestamp  string `json:"timestamp"` // RFC3339Nano
}

// WorkflowStatusPayload is the payload shape for workflow_status transient
// events. No component in this module publishes it; clients learn of status
// changes from the persisted lifecycle Events.
type WorkflowStatusPayload struct {
	Type       string `json:"type"` // always "workflow.status"
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"` // new status (e.g. "in_progress", "completed")
	Timestamp  string `json:"timestamp"`
}

// ToEventPayload converts a store event into its wire representation. It is
// the exported form of toCreatedPayload, for callers outside this package
// (e.g. pkg/api's workflow-detail endpoint) that need the same JSON shape
// the WebSocket fan-out uses.
func ToEventPayload(evt *eventstore.Event) EventCreatedPayload {
	return toCreatedPayload(evt)
}

// toCreatedPayload converts a store event into its wire representation.
func toCreatedPayload(evt *eventstore.Event) EventCreatedPayload {
	return EventCreatedPayload{
		Type:          "event.created",
		EventID:       evt.ID,
		WorkflowID:    evt.WorkflowID,
		Sequence:      evt.Sequence,
		Agent:         evt.Agent,
		EventType:     evt.EventType,
		Level:         evt.Level,
		Message:       evt.Message,
		Data:          evt.Data,
		CorrelationID: evt.CorrelationID,
		TraceID:       evt.TraceID,
		ParentID:      evt.ParentID,
		ToolName:      evt.ToolName,
		ToolInput:     evt.ToolInput,
		IsError:       evt.IsError,
		Timestamp:     evt.Timestamp.Format(time.RFC3339Nano),
	}
}
