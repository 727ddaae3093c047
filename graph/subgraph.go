package graph

import (
	"context"
	"fmt"
	"reflect"
)

// NewSubgraphNode creates a node that executes sub on a copy of the state.
func NewSubgraphNode(id string, sub *Graph, opts ...NodeOption) *Node {
	n := newNode(id, KindSubgraph, opts)
	n.subgraph = sub
	return n
}

// NewSubgraphNodeFromBuilder builds the nested graph with build and wraps it.
func NewSubgraphNodeFromBuilder(id string, build func(*Graph) error, opts ...NodeOption) (*Node, error) {
	sub := NewGraph(id)
	if err := build(sub); err != nil {
		return nil, fmt.Errorf("failed to build subgraph %s: %w", id, err)
	}
	return NewSubgraphNode(id, sub, opts...), nil
}

func (n *Node) runSubgraph(ctx context.Context, state *State) (nodeOutput, error) {
	if n.subgraph == nil {
		return nodeOutput{}, fmt.Errorf("subgraph node %s has no graph", n.ID)
	}
	exec, err := NewExecutor(n.subgraph, n.subOptions...)
	if err != nil {
		return nodeOutput{}, fmt.Errorf("failed to build subgraph %s: %w", n.ID, err)
	}
	res, err := exec.ExecuteState(ctx, state.Clone())
	if err != nil {
		return nodeOutput{}, fmt.Errorf("subgraph %s execution failed: %w", n.ID, err)
	}

	// without declared outputs only new or changed keys flow back
	keys := n.Outputs
	changedOnly := len(keys) == 0
	if changedOnly {
		keys = res.State.Keys()
	}
	out := nodeOutput{}
	for _, k := range keys {
		v, ok := res.State.Get(k)
		if !ok {
			continue
		}
		if changedOnly {
			if before, had := state.Get(k); had && reflect.DeepEqual(before, v) {
				continue
			}
		}
		out.writes = append(out.writes, Write{Key: k, Value: v})
	}
	return out, nil
}
