// Package agents implements the three role-specific wrappers over
// drivers.Driver — Architect, Developer, Reviewer (§4.7) — that translate a
// driver's message stream into workflow events and a role-specific
// structured output.
//
// Grounded on pkg/agent/orchestrator/runner.go's SubAgentRunner dispatch
// (reservation counter, buffered results, cancel-with-timeout), restructured
// here from parallel sub-agent fan-out into sequential role wrappers: spec's
// graph runs Architect, then Developer, then Reviewer, never concurrently
// for the same workflow.
package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/amelia-dev/amelia/pkg/drivers"
	"github.com/amelia-dev/amelia/pkg/events"
	"github.com/amelia-dev/amelia/pkg/eventstore"
)

// Role identifies which of the three agent wrappers is running.
type Role string

const (
	RoleArchitect Role = "architect"
	RoleDeveloper Role = "developer"
	RoleReviewer  Role = "reviewer"
)

// EventEmitter is the subset of *events.Bus an Agent needs. Narrowed to an
// interface so agent tests can substitute a recording fake instead of a
// full Bus+EventStore.
type EventEmitter interface {
	Emit(ctx context.Context, evt *eventstore.Event) (*eventstore.Event, error)
}

// Agent wraps a drivers.Driver with a role-specific system prompt and the
// shared STAGE_STARTED/STAGE_COMPLETED/SYSTEM_ERROR event contract every
// role shares per §4.7.
type Agent struct {
	role              Role
	systemPrompt      string
	driver            drivers.Driver
	bus               EventEmitter
	streamToolResults bool
}

// New builds an Agent for role, driving requests through driver and
// publishing events via bus. streamToolResults mirrors the orchestrator
// config flag of the same name (§6.5): when false, tool_result messages are
// still collected (the terminal result still reflects them) but are not
// turned into individual trace events.
func New(role Role, systemPrompt string, driver drivers.Driver, bus EventEmitter, streamToolResults bool) *Agent {
	return &Agent{role: role, systemPrompt: systemPrompt, driver: driver, bus: bus, streamToolResults: streamToolResults}
}

// Run invokes the driver for a single turn of this role, translating every
// intermediate message into a trace event, and returns the terminal
// result's SessionID and FinalText. The caller (the state machine node) is
// responsible for parsing FinalText into the role-specific structured
// output (PlanOutput, a short Developer summary, or a ReviewVerdict).
func (a *Agent) Run(ctx context.Context, workflowID string, req drivers.Request) (sessionID, finalText string, err error) {
	req.SystemPrompt = a.systemPrompt

	if _, emitErr := a.bus.Emit(ctx, a.lifecycleEvent(workflowID, events.EventTypeStageStarted,
		fmt.Sprintf("%s started", a.role), nil)); emitErr != nil {
		return "", "", fmt.Errorf("agents: %s: emit stage_started: %w", a.role, emitErr)
	}

	ch, runErr := a.driver.Run(ctx, req)
	if runErr != nil {
		a.emitSystemError(ctx, workflowID, runErr)
		return "", "", fmt.Errorf("agents: %s: driver run: %w", a.role, runErr)
	}

	result, errMsg := drivers.Collect(ctx, ch, func(msg drivers.Message) {
		a.emitTrace(ctx, workflowID, msg)
	})
	if errMsg != nil {
		driverErr := errors.New(errMsg.Reason)
		a.emitSystemError(ctx, workflowID, driverErr)
		return "", "", fmt.Errorf("agents: %s: %w", a.role, driverErr)
	}

	if _, emitErr := a.bus.Emit(ctx, a.lifecycleEvent(workflowID, events.EventTypeStageCompleted,
		fmt.Sprintf("%s completed", a.role), map[string]any{"session_id": result.SessionID})); emitErr != nil {
		return "", "", fmt.Errorf("agents: %s: emit stage_completed: %w", a.role, emitErr)
	}

	return result.SessionID, result.FinalText, nil
}

// emitTrace converts one non-terminal driver message into the corresponding
// trace event, per §4.6's "translate each message into a workflow event"
// contract (claude_thinking, claude_tool_call, claude_tool_result,
// agent_output).
func (a *Agent) emitTrace(ctx context.Context, workflowID string, msg drivers.Message) {
	var evt *eventstore.Event
	switch m := msg.(type) {
	case *drivers.ThinkingMessage:
		evt = a.traceEvent(workflowID, events.EventTypeLLMThinking, m.Content)
	case *drivers.ToolCallMessage:
		evt = a.traceEvent(workflowID, events.EventTypeToolCall, "")
		evt.ToolName = m.ToolName
		evt.ToolInput = m.ToolInput
		evt.CorrelationID = m.CallID
	case *drivers.ToolResultMessage:
		if !a.streamToolResults {
			return
		}
		evt = a.traceEvent(workflowID, events.EventTypeToolResult, m.Output)
		evt.CorrelationID = m.CallID
		evt.IsError = m.IsError
	case *drivers.OutputMessage:
		evt = a.traceEvent(workflowID, events.EventTypeAgentOutput, m.Content)
	default:
		return
	}
	if _, err := a.bus.Emit(ctx, evt); err != nil {
		// Trace emission failures never abort the agent run (§4.2 propagation
		// policy: subscriber/broadcast failures are swallowed and logged by
		// the bus itself); nothing further to do here.
		_ = err
	}
}

func (a *Agent) emitSystemError(ctx context.Context, workflowID string, cause error) {
	evt := a.traceEvent(workflowID, events.EventTypeNodeError, cause.Error())
	evt.Level = events.LevelDebug
	evt.IsError = true
	_, _ = a.bus.Emit(ctx, evt)
}

func (a *Agent) lifecycleEvent(workflowID, eventType, message string, data map[string]any) *eventstore.Event {
	return &eventstore.Event{
		WorkflowID: workflowID,
		Agent:      string(a.role),
		EventType:  eventType,
		Level:      events.LevelForEventType(eventType),
		Message:    message,
		Data:       data,
	}
}

func (a *Agent) traceEvent(workflowID, eventType, message string) *eventstore.Event {
	return &eventstore.Event{
		WorkflowID: workflowID,
		Agent:      string(a.role),
		EventType:  eventType,
		Level:      events.LevelForEventType(eventType),
		Message:    message,
	}
}
