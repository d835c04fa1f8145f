package agent

import "context"

// StreamEventKind enumerates the fine-grained events a streaming run emits,
// one level below AgentEvent: AgentEvent tells a WS client "a chunk arrived",
// StreamEvent tells send_message_streaming callers exactly what kind of
// chunk and, for tool calls, which call index it belongs to.
type StreamEventKind string

const (
	StreamTextDelta       StreamEventKind = "text_delta"
	StreamThinkingDelta   StreamEventKind = "thinking_delta"
	StreamToolUseStart    StreamEventKind = "tool_use_start"
	StreamToolInputDelta  StreamEventKind = "tool_input_delta"
	StreamToolUseEnd      StreamEventKind = "tool_use_end"
	StreamToolResult      StreamEventKind = "tool_execution_result"
	StreamContentComplete StreamEventKind = "content_complete"
)

// StreamEvent is one item of the ordered stream send_message_streaming
// hands back to the kernel-handle caller. ToolIndex matches the position
// of the tool call within the iteration's resp.ToolCalls slice so a
// caller can demultiplex interleaved ToolUseStart/ToolInputDelta/ToolUseEnd
// triples when multiple tools run in parallel.
type StreamEvent struct {
	Kind      StreamEventKind `json:"kind"`
	RunID     string          `json:"runId"`
	ToolIndex int             `json:"toolIndex,omitempty"`
	ToolID    string          `json:"toolId,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	Text      string          `json:"text,omitempty"`
	IsError   bool            `json:"isError,omitempty"`
}

// emitStream delivers ev on req.StreamEvents, if the caller wired one.
// The send blocks (preserving emission order) but gives up if ctx is
// cancelled, so a stop_run never deadlocks on a consumer that stopped
// reading.
func (l *Loop) emitStream(ctx context.Context, req RunRequest, ev StreamEvent) {
	if req.StreamEvents == nil {
		return
	}
	ev.RunID = req.RunID
	select {
	case req.StreamEvents <- ev:
	case <-ctx.Done():
	}
}
