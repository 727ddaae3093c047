package graph

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/smallnest/graphrun/graph"

// TracingListener turns execution events into OpenTelemetry spans: one
// root span per execution and a child span per node.
type TracingListener struct {
	tracer trace.Tracer

	mu    sync.Mutex
	roots map[string]rootSpan
	nodes map[string]trace.Span
}

type rootSpan struct {
	ctx  context.Context
	span trace.Span
}

// NewTracingListener creates a listener using tracer, or the global
// provider's tracer when nil.
func NewTracingListener(tracer trace.Tracer) *TracingListener {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &TracingListener{
		tracer: tracer,
		roots:  make(map[string]rootSpan),
		nodes:  make(map[string]trace.Span),
	}
}

func nodeSpanKey(executionID, nodeID string) string { return executionID + "/" + nodeID }

// OnEvent implements Listener.
func (t *TracingListener) OnEvent(ctx context.Context, ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case EventExecutionStarted:
		spanCtx, span := t.tracer.Start(ctx, "graphrun.execution",
			trace.WithTimestamp(ev.Timestamp),
			trace.WithAttributes(attribute.String("graphrun.execution_id", ev.ExecutionID)))
		t.roots[ev.ExecutionID] = rootSpan{ctx: spanCtx, span: span}

	case EventNodeStarted:
		parent := ctx
		if root, ok := t.roots[ev.ExecutionID]; ok {
			parent = root.ctx
		}
		_, span := t.tracer.Start(parent, "graphrun.node "+ev.NodeID,
			trace.WithTimestamp(ev.Timestamp),
			trace.WithAttributes(
				attribute.String("graphrun.execution_id", ev.ExecutionID),
				attribute.String("graphrun.node_id", ev.NodeID),
			))
		t.nodes[nodeSpanKey(ev.ExecutionID, ev.NodeID)] = span

	case EventNodeCompleted:
		key := nodeSpanKey(ev.ExecutionID, ev.NodeID)
		if span, ok := t.nodes[key]; ok {
			span.SetStatus(codes.Ok, "")
			span.End(trace.WithTimestamp(ev.Timestamp))
			delete(t.nodes, key)
		}

	case EventNodeFailed:
		key := nodeSpanKey(ev.ExecutionID, ev.NodeID)
		span, ok := t.nodes[key]
		if !ok {
			return
		}
		span.RecordError(ev.Err, trace.WithAttributes(attribute.Int("graphrun.attempt", ev.Attempt)))
		if ev.Recovery == Retry.String() {
			return
		}
		if ev.Recovery != "" {
			span.SetAttributes(attribute.String("graphrun.recovery", ev.Recovery))
		}
		// skipped and substituted nodes still count as failed spans
		span.SetStatus(codes.Error, errString(ev.Err))
		span.End(trace.WithTimestamp(ev.Timestamp))
		delete(t.nodes, key)

	case EventExecutionCompleted:
		prefix := ev.ExecutionID + "/"
		for key, span := range t.nodes {
			if strings.HasPrefix(key, prefix) {
				span.End()
				delete(t.nodes, key)
			}
		}
		root, ok := t.roots[ev.ExecutionID]
		if !ok {
			return
		}
		root.span.SetAttributes(attribute.String("graphrun.status", ev.Status.String()))
		if ev.Err != nil {
			root.span.RecordError(ev.Err)
			root.span.SetStatus(codes.Error, ev.Err.Error())
		} else {
			root.span.SetStatus(codes.Ok, "")
		}
		root.span.End(trace.WithTimestamp(ev.Timestamp))
		delete(t.roots, ev.ExecutionID)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
