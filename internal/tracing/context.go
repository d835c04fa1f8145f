// Package tracing threads trace/span identity through a turn's context and
// forwards completed spans to a managed-mode Collector. In standalone mode
// no Collector is installed and every helper degrades to a no-op.
package tracing

import (
	"context"

	"github.com/google/uuid"
)

type (
	traceIDKey              struct{}
	collectorKey            struct{}
	parentSpanIDKey         struct{}
	announceParentSpanIDKey struct{}
	delegateParentTraceIDKey struct{}
)

// WithTraceID attaches the active trace's ID to ctx.
func WithTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

// TraceIDFromContext returns the trace ID set by WithTraceID, or uuid.Nil.
func TraceIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(traceIDKey{}).(uuid.UUID)
	return id
}

// WithCollector attaches the Collector that spans should be emitted to.
func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, collectorKey{}, c)
}

// CollectorFromContext returns the Collector set by WithCollector, or nil.
func CollectorFromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(collectorKey{}).(*Collector)
	return c
}

// WithParentSpanID sets the span ID that the next LLM/tool span emitted in
// this context should nest under (typically the turn's root "agent" span).
func WithParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, parentSpanIDKey{}, id)
}

// ParentSpanIDFromContext returns the span ID set by WithParentSpanID, or uuid.Nil.
func ParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(parentSpanIDKey{}).(uuid.UUID)
	return id
}

// WithAnnounceParentSpanID marks the span that an announce-run's root "agent"
// span should nest under, linking a delegated sub-run back into its parent's
// trace timeline instead of starting a fresh root span.
func WithAnnounceParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, announceParentSpanIDKey{}, id)
}

// AnnounceParentSpanIDFromContext returns the span ID set by
// WithAnnounceParentSpanID, or uuid.Nil.
func AnnounceParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(announceParentSpanIDKey{}).(uuid.UUID)
	return id
}

// WithDelegateParentTraceID marks ctx as belonging to a delegated sub-run, so
// the sub-run's trace links back to the delegating run's trace as its parent.
func WithDelegateParentTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, delegateParentTraceIDKey{}, id)
}

// DelegateParentTraceIDFromContext returns the trace ID set by
// WithDelegateParentTraceID, or uuid.Nil.
func DelegateParentTraceIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(delegateParentTraceIDKey{}).(uuid.UUID)
	return id
}
