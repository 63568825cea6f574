// Package grpcdriver is the one concrete drivers.Driver implementation this
// repository ships: a thin gRPC client against an external agent sidecar,
// grounded on the teacher's pkg/agent/llm_client.go (which wraps a gRPC
// connection to an external LLM service the same way) and
// pkg/agent/controller/streaming.go's receive-until-terminal collector loop.
//
// The sidecar process itself — whatever actually drives the LLM — is out of
// repo, exactly as spec §1 treats driver backends as external collaborators.
package grpcdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/amelia-dev/amelia/pkg/drivers"
	"github.com/amelia-dev/amelia/pkg/drivers/grpcdriver/driverpb"
)

// Client is a drivers.Driver backed by a single gRPC connection to an
// AgentDriver sidecar.
type Client struct {
	conn   *grpc.ClientConn
	client driverpb.AgentDriverClient
}

// Dial opens a gRPC connection to target and wraps it as a drivers.Driver.
// opts is forwarded to grpc.NewClient (e.g. transport credentials); callers
// in a dev/test environment typically pass insecure credentials.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpcdriver: dial %s: %w", target, err)
	}
	return &Client{conn: conn, client: driverpb.NewAgentDriverClient(conn)}, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run implements drivers.Driver. It starts the sidecar RPC and translates
// each streamed RunMessage into the corresponding drivers.Message, closing
// the returned channel only after a terminal message has been sent — the
// receive loop itself enforces §4.6's "exactly one terminal message"
// contract by synthesizing a terminal ErrorMessage if the sidecar stream
// stops without one: ReasonUnterminated on a clean end of stream,
// ReasonCancelled when the RPC was cancelled, and the error text otherwise.
func (c *Client) Run(ctx context.Context, req drivers.Request) (<-chan drivers.Message, error) {
	stream, err := c.client.Run(ctx, &driverpb.RunRequest{
		Prompt:       req.Prompt,
		WorkingDir:   req.WorkingDir,
		PriorSession: req.PriorSession,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("grpcdriver: start run: %w", err)
	}

	out := make(chan drivers.Message, 16)
	go c.receiveLoop(ctx, stream, req.ToolMiddleware, out)
	return out, nil
}

func (c *Client) receiveLoop(ctx context.Context, stream driverpb.AgentDriver_RunClient, mw drivers.ToolMiddleware, out chan<- drivers.Message) {
	defer close(out)

	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			out <- &drivers.ErrorMessage{Reason: drivers.ReasonUnterminated}
			return
		}
		if err != nil {
			if status.Code(err) == codes.Canceled {
				out <- &drivers.ErrorMessage{Reason: drivers.ReasonCancelled}
				return
			}
			slog.Error("grpcdriver: stream recv failed", "error", err)
			out <- &drivers.ErrorMessage{Reason: err.Error()}
			return
		}

		converted, terminal := c.convert(ctx, msg, mw)
		if converted != nil {
			out <- converted
		}
		if terminal {
			return
		}
	}
}

// convert translates one sidecar RunMessage into a drivers.Message,
// reporting whether it was terminal. Each ToolResult is passed through the
// caller's ToolMiddleware (if any) before it is handed upstream. The sidecar
// has already run the tool by then, so the middleware receives no tool name
// or input and can only observe or replace the output.
func (c *Client) convert(ctx context.Context, msg *driverpb.RunMessage, mw drivers.ToolMiddleware) (drivers.Message, bool) {
	switch p := msg.Payload.(type) {
	case *driverpb.RunMessage_Thinking:
		return &drivers.ThinkingMessage{Content: p.Thinking.Content}, false
	case *driverpb.RunMessage_ToolCall:
		input := map[string]any{}
		if p.ToolCall.ToolInputJson != "" {
			if err := json.Unmarshal([]byte(p.ToolCall.ToolInputJson), &input); err != nil {
				slog.Warn("grpcdriver: malformed tool_input JSON", "call_id", p.ToolCall.CallId, "error", err)
			}
		}
		return &drivers.ToolCallMessage{
			CallID:    p.ToolCall.CallId,
			ToolName:  p.ToolCall.ToolName,
			ToolInput: input,
		}, false
	case *driverpb.RunMessage_ToolResult:
		output, isError := p.ToolResult.Output, p.ToolResult.IsError
		if mw != nil {
			var err error
			output, isError, err = mw.Intercept(ctx, "", nil, func(context.Context) (string, bool, error) {
				return output, isError, nil
			})
			if err != nil {
				output, isError = err.Error(), true
			}
		}
		return &drivers.ToolResultMessage{CallID: p.ToolResult.CallId, Output: output, IsError: isError}, false
	case *driverpb.RunMessage_Output:
		return &drivers.OutputMessage{Content: p.Output.Content}, false
	case *driverpb.RunMessage_Result:
		return &drivers.ResultMessage{SessionID: p.Result.SessionId, FinalText: p.Result.FinalText}, true
	case *driverpb.RunMessage_Error:
		return &drivers.ErrorMessage{Reason: p.Error.Reason}, true
	default:
		return nil, false
	}
}
