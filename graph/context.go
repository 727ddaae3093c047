package graph

import "context"

type executionIDKey struct{}
type nodeIDKey struct{}

// WithExecutionID stores the execution id in ctx.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey{}, id)
}

// ExecutionIDFromContext returns the id of the execution running the
// current node, or "" outside an execution.
func ExecutionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(executionIDKey{}).(string)
	return id
}

func withNodeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, nodeIDKey{}, id)
}

// NodeIDFromContext returns the id of the node being executed.
func NodeIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(nodeIDKey{}).(string)
	return id
}
