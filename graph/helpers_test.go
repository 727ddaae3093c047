package graph_test

import (
	"context"
	"sync"
	"testing"

	"github.com/smallnest/graphrun/graph"
	"github.com/smallnest/graphrun/log"
	"github.com/stretchr/testify/require"
)

// mark returns a node body that records its id under "visited" and sets id=true.
func mark(id string) graph.NodeFunc {
	return func(_ context.Context, s *graph.State) (any, error) {
		visited, _ := graph.Value[[]string](s, "visited")
		return graph.Update{
			id:        true,
			"visited": append(append([]string{}, visited...), id),
		}, nil
	}
}

// linear builds n1 -> n2 -> ... with the last node terminal.
func linear(t *testing.T, ids ...string) *graph.Graph {
	t.Helper()
	g := graph.NewGraph("linear")
	for i, id := range ids {
		var opts []graph.NodeOption
		if i == len(ids)-1 {
			opts = append(opts, graph.Terminal())
		}
		require.NoError(t, g.AddNode(graph.NewFunctionNode(id, mark(id), opts...)))
		if i > 0 {
			_, err := g.AddEdge(ids[i-1], id)
			require.NoError(t, err)
		}
	}
	require.NoError(t, g.SetStartNode(ids[0]))
	return g
}

func newExecutor(t *testing.T, g *graph.Graph, opts ...graph.Option) *graph.Executor {
	t.Helper()
	opts = append([]graph.Option{graph.WithLogger(&log.NoOpLogger{})}, opts...)
	exec, err := graph.NewExecutor(g, opts...)
	require.NoError(t, err)
	return exec
}

// recorder collects events in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []graph.Event
}

func (r *recorder) OnEvent(_ context.Context, ev graph.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.String()
	}
	return out
}
