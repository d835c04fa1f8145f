package tracing

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openfang-project/openfang/internal/store"
)

// Collector persists trace/span records produced by agent runs. It is nil in
// standalone mode (no store.TracingStore backend), in which case every Loop
// call site that holds a *Collector checks for nil before using it.
type Collector struct {
	store   store.TracingStore
	verbose bool
}

// NewCollector wraps a TracingStore backend. verbose controls whether full
// message content is persisted with each span, versus previews only.
func NewCollector(backend store.TracingStore, verbose bool) *Collector {
	return &Collector{store: backend, verbose: verbose}
}

// Verbose reports whether spans should include full serialized content.
func (c *Collector) Verbose() bool {
	if c == nil {
		return false
	}
	return c.verbose
}

// CreateTrace persists the start of a new run.
func (c *Collector) CreateTrace(ctx context.Context, trace *store.TraceData) error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.CreateTrace(ctx, trace)
}

// FinishTrace marks a trace complete, recording its terminal status and a
// preview of the run's output (or error message, on failure).
func (c *Collector) FinishTrace(ctx context.Context, traceID uuid.UUID, status, errMsg, outputPreview string) error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.FinishTrace(ctx, traceID, status, errMsg, outputPreview)
}

// EmitSpan records one completed LLM call, tool call, or agent run. Emission
// happens in the background: a slow or unavailable tracing backend must never
// stall the turn that produced the span.
func (c *Collector) EmitSpan(span store.SpanData) {
	if c == nil || c.store == nil {
		return
	}
	go func() {
		if err := c.store.CreateSpan(context.Background(), &span); err != nil {
			slog.Warn("tracing: failed to emit span", "span_type", span.SpanType, "error", err)
		}
	}()
}
