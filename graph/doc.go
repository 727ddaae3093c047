// Package graph provides the graph construction and execution engine of graphrun.
//
// A Graph holds Nodes joined by Edges. An Executor walks the graph from its
// start node, running each node on an isolated copy of a versioned State and
// merging the node's writes back under a MergeConfig. Edges may carry a
// Condition; every true edge is followed unless the executor is configured
// for first-match routing.
//
// # Core Concepts
//
// ## State
// State is an ordered key/value bag with metadata and an execution history.
// Every mutation bumps its version. MarshalState and UnmarshalState give a
// lossless encoding used by checkpoints.
//
// ## Nodes
// Nodes come in four kinds: function, conditional, loop and subgraph. A
// function node returns a map (or Update) of proposed writes; it never
// mutates the canonical state directly.
//
// ## Edges
// Conditions are evaluated over the raw arguments (ArgsCondition,
// ExprCondition) or the whole State (StateCondition). Both forms answer the
// same for equal content.
//
// # Key Features
//
//   - Bounded parallel waves merged in frontier order
//   - Retry, skip and fallback recovery policies per node or error type
//   - Automatic checkpoints (interval, time, critical nodes, error, completion)
//     and resume from any checkpoint
//   - Ordered event listeners and a pull-based event stream with backpressure
//   - Prometheus metrics and OpenTelemetry spans
//
// # Example Usage
//
//	g := graph.NewGraph("triage")
//	_ = g.AddNode(graph.NewFunctionNode("start", func(ctx context.Context, s *graph.State) (any, error) {
//		return graph.Update{"seen": true}, nil
//	}))
//	_ = g.AddNode(graph.NewFunctionNode("high", handleHigh, graph.Terminal()))
//	_ = g.AddNode(graph.NewFunctionNode("low", handleLow, graph.Terminal()))
//	_ = g.SetStartNode("start")
//	_, _ = g.AddConditionalEdge("start", "high", graph.MustExpr("priority > 7"))
//	_, _ = g.AddConditionalEdge("start", "low", graph.MustExpr("priority <= 7"))
//
//	exec, err := graph.NewExecutor(g, graph.WithMaxSteps(100))
//	if err != nil {
//		return err
//	}
//	res, err := exec.Execute(ctx, map[string]any{"priority": 8})
package graph
