// Graphrun - executing graphs of nodes with routing, versioned state and
// checkpoints.
//
// A graph is a set of nodes connected by edges. Each node reads a private
// copy of the execution state and returns the values it wants to write;
// the executor merges those writes into the shared state, evaluates the
// outgoing edges against it and schedules the nodes they point to. Runs
// can be checkpointed to a store and resumed later, and every transition
// is published as an ordered event.
//
// # Quick Start
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/smallnest/graphrun/graph"
//	)
//
//	func main() {
//		g := graph.NewGraph("greeting")
//		g.AddNode(graph.NewFunctionNode("hello", func(ctx context.Context, s *graph.State) (any, error) {
//			name, _ := graph.Value[string](s, "name")
//			return graph.Update{"greeting": "hello " + name}, nil
//		}, graph.Terminal()))
//		g.SetStartNode("hello")
//
//		exec, _ := graph.NewExecutor(g)
//		res, _ := exec.Execute(context.Background(), map[string]any{"name": "world"})
//		fmt.Println(res.State.Get("greeting"))
//	}
//
// # Packages
//
//   - graph: state, nodes, edges, graph validation, the executor, recovery
//     policies, checkpointing, streaming, metrics and tracing
//   - store: the checkpoint store interface, retention and typed value
//     encoding, with memory, file, redis, postgres, sqlite and mysql backends
//   - config: YAML configuration for the executor, checkpoints and stores
//   - log: the logger interface and its golog implementation
//   - cmd/graphrun: a CLI that runs a demo triage graph and manages its
//     checkpoints
//
// # Checkpoints
//
//	st := memory.NewMemoryCheckpointStore()
//	mgr := graph.NewCheckpointManager(st, graph.CheckpointOptions{NodeInterval: 2, OnError: true})
//	exec, _ := graph.NewExecutor(g, graph.WithCheckpointManager(mgr))
//	res, err := exec.Execute(ctx, input)
//	if err != nil && len(res.Checkpoints) > 0 {
//		// fix the cause, then continue where the run stopped
//		res, err = exec.Resume(ctx, res.Checkpoints[len(res.Checkpoints)-1])
//	}
//
// # Streaming
//
//	es := graph.NewStreamingExecutor(exec, 16).Stream(ctx, input)
//	for ev := range es.Events() {
//		fmt.Println(ev)
//	}
//	res, err := es.Wait()
package graphrun // import "github.com/smallnest/graphrun"
