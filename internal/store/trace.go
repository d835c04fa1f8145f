package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Trace status values.
const (
	TraceStatusRunning   = "running"
	TraceStatusCompleted = "completed"
	TraceStatusError     = "error"
	TraceStatusCancelled = "cancelled"
)

// Span types.
const (
	SpanTypeAgent    = "agent"
	SpanTypeLLMCall  = "llm_call"
	SpanTypeToolCall = "tool_call"
)

// Span status values.
const (
	SpanStatusCompleted = "completed"
	SpanStatusError      = "error"
)

// SpanLevelDefault is the standard (non-debug, non-warning) span level.
const SpanLevelDefault = "DEFAULT"

// TraceData is the root record of one agent run, created when the run
// starts and finalized (status/output) when it ends.
type TraceData struct {
	ID            uuid.UUID  `json:"id"`
	RunID         string     `json:"run_id,omitempty"`
	SessionKey    string     `json:"session_key,omitempty"`
	AgentID       *uuid.UUID `json:"agent_id,omitempty"`
	UserID        string     `json:"user_id,omitempty"`
	Channel       string     `json:"channel,omitempty"`
	Name          string     `json:"name"`
	InputPreview  string     `json:"input_preview,omitempty"`
	OutputPreview string     `json:"output_preview,omitempty"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Tags          []string   `json:"tags,omitempty"`
	ParentTraceID *uuid.UUID `json:"parent_trace_id,omitempty"`
}

// SpanData is one leaf/branch record within a trace: an LLM call, tool
// call, or the root "agent" span that parents them.
type SpanData struct {
	ID           uuid.UUID       `json:"id"`
	TraceID      uuid.UUID       `json:"trace_id"`
	ParentSpanID *uuid.UUID      `json:"parent_span_id,omitempty"`
	AgentID      *uuid.UUID      `json:"agent_id,omitempty"`
	SpanType     string          `json:"span_type"`
	Name         string          `json:"name"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	DurationMS   int             `json:"duration_ms,omitempty"`
	Status       string          `json:"status"`
	Level        string          `json:"level,omitempty"`
	Error        string          `json:"error,omitempty"`

	Model        string `json:"model,omitempty"`
	Provider     string `json:"provider,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`

	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`

	InputPreview  string          `json:"input_preview,omitempty"`
	OutputPreview string          `json:"output_preview,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TracingStore persists traces and spans for the observability dashboard
// (managed mode only). Every method is only ever called through Collector,
// which nil-checks its backend, so implementations need not tolerate nil
// receivers themselves.
type TracingStore interface {
	CreateTrace(ctx context.Context, trace *TraceData) error
	FinishTrace(ctx context.Context, traceID uuid.UUID, status, errMsg, outputPreview string) error
	CreateSpan(ctx context.Context, span *SpanData) error
	GetTrace(ctx context.Context, traceID uuid.UUID) (*TraceData, error)
	ListSpans(ctx context.Context, traceID uuid.UUID) ([]SpanData, error)
}
