// Package drivers defines the DriverProtocol (§4.6): the uniform streaming
// interface between an agent role (Architect/Developer/Reviewer) and
// whatever process actually talks to an LLM — a CLI subprocess, an HTTP
// client against a hosted API, or (the one concrete implementation shipped
// here) a gRPC client against an external agent sidecar.
//
// Concrete drivers are explicitly out of scope per spec §1: this package
// defines the contract every driver must honor, plus the small amount of
// consumer-side plumbing (Collect) that every agent wrapper shares.
package drivers

import "context"

// MessageType tags the variant carried by a Message, mirroring the
// corpus's Chunk taxonomy (pkg/agent/llm_client.go's ChunkType) narrowed to
// the six kinds §4.6 names.
type MessageType string

const (
	MessageThinking   MessageType = "thinking"
	MessageToolCall   MessageType = "tool_call"
	MessageToolResult MessageType = "tool_result"
	MessageOutput     MessageType = "output"
	MessageResult     MessageType = "result"
	MessageError      MessageType = "error"
)

// Message is the interface every driver message variant implements, so a
// consumer can type-switch without a discriminator field.
type Message interface {
	messageType() MessageType
}

// ThinkingMessage carries the model's internal reasoning (opaque text).
type ThinkingMessage struct {
	Content string
}

// ToolCallMessage signals the model invoked a tool; the tool has not yet
// returned. CallID links it to the matching ToolResultMessage.
type ToolCallMessage struct {
	CallID    string
	ToolName  string
	ToolInput map[string]any
}

// ToolResultMessage carries a tool's result (possibly rewritten by
// ToolMiddleware before the caller sees it).
type ToolResultMessage struct {
	CallID  string
	Output  string
	IsError bool
}

// OutputMessage carries intermediate assistant text, not yet final.
type OutputMessage struct {
	Content string
}

// ResultMessage is one of the two terminal messages: the run completed.
// SessionID may be reused as Request.PriorSession on a subsequent
// invocation to preserve conversational context across agent nodes.
type ResultMessage struct {
	SessionID string
	FinalText string
}

// ErrorMessage is one of the two terminal messages: the run failed.
type ErrorMessage struct {
	Reason string
}

func (*ThinkingMessage) messageType() MessageType   { return MessageThinking }
func (*ToolCallMessage) messageType() MessageType   { return MessageToolCall }
func (*ToolResultMessage) messageType() MessageType { return MessageToolResult }
func (*OutputMessage) messageType() MessageType     { return MessageOutput }
func (*ResultMessage) messageType() MessageType     { return MessageResult }
func (*ErrorMessage) messageType() MessageType      { return MessageError }

// ReasonUnterminated is the ErrorMessage.Reason Collect synthesizes when a
// driver's message channel closes without a terminal message — §4.6's
// contract treats that as an error rather than silent success.
const ReasonUnterminated = "unterminated"

// ReasonCancelled is the ErrorMessage.Reason Collect synthesizes when the
// caller's context is cancelled before a terminal message arrives.
const ReasonCancelled = "cancelled"

// ToolMiddleware intercepts a tool call before the driver executes it,
// allowing the caller to rewrite input, short-circuit with a canned result,
// or simply observe. next performs the underlying tool call.
type ToolMiddleware interface {
	Intercept(ctx context.Context, toolName string, input map[string]any, next ToolInvoker) (output string, isError bool, err error)
}

// ToolInvoker performs the underlying tool call a middleware may wrap.
type ToolInvoker func(ctx context.Context) (output string, isError bool, err error)

// Request groups the inputs to a single driver invocation (§4.6).
type Request struct {
	Prompt         string
	WorkingDir     string
	PriorSession   string // resumes driver-side context when non-empty
	SystemPrompt   string
	ToolMiddleware ToolMiddleware // nil disables interception
}

// Driver is the DriverProtocol: given a Request, produces an asynchronous
// sequence of typed Messages terminated by exactly one ResultMessage or
// ErrorMessage. Run must honor ctx cancellation by stopping within a
// bounded time and still emitting a terminal message (typically
// ErrorMessage{Reason: ReasonCancelled}).
type Driver interface {
	Run(ctx context.Context, req Request) (<-chan Message, error)
}

// Collect drains ch, handing every non-terminal message to onMessage, until
// a terminal message arrives, ctx is cancelled, or the channel closes
// without a terminal message. Exactly one of the two return values is
// non-nil. This is the single receive-until-terminal loop every agent
// wrapper in pkg/agents shares.
func Collect(ctx context.Context, ch <-chan Message, onMessage func(Message)) (*ResultMessage, *ErrorMessage) {
	for {
		select {
		case <-ctx.Done():
			return nil, &ErrorMessage{Reason: ReasonCancelled}
		case msg, ok := <-ch:
			if !ok {
				return nil, &ErrorMessage{Reason: ReasonUnterminated}
			}
			switch m := msg.(type) {
			case *ResultMessage:
				return m, nil
			case *ErrorMessage:
				return nil, m
			default:
				onMessage(msg)
			}
		}
	}
}
