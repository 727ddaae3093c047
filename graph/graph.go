package graph

import (
	"fmt"
	"sync"
)

// END is a sentinel edge target meaning "stop this branch".
const END = "END"

// Graph is a set of nodes joined by directed edges with one start node.
// Build it once, then hand it to one or more executors.
type Graph struct {
	mu       sync.RWMutex
	name     string
	nodes    map[string]*Node
	order    []string
	edges    []*Edge
	outgoing map[string][]*Edge
	start    string
}

// NewGraph creates an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{
		name:     name,
		nodes:    make(map[string]*Node),
		outgoing: make(map[string][]*Edge),
	}
}

func (g *Graph) Name() string { return g.name }

// AddNode registers n.
func (g *Graph) AddNode(n *Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if n.ID == END {
		return fmt.Errorf("node id %q is reserved", END)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[n.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// AddEdge adds an unconditional edge. Targets are checked by Validate, so
// edges may be added before their nodes.
func (g *Graph) AddEdge(from, to string, opts ...EdgeOption) (*Edge, error) {
	return g.AddConditionalEdge(from, to, nil, opts...)
}

// AddConditionalEdge adds an edge followed only when cond holds.
func (g *Graph) AddConditionalEdge(from, to string, cond Condition, opts ...EdgeOption) (*Edge, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("edge endpoints must not be empty (%q -> %q)", from, to)
	}
	if from == END {
		return nil, fmt.Errorf("edge cannot start at %s", END)
	}
	e := NewEdge(from, to, cond, opts...)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = append(g.edges, e)
	g.outgoing[from] = append(g.outgoing[from], e)
	return e, nil
}

// SetStartNode sets the entry point.
func (g *Graph) SetStartNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	g.start = id
	return nil
}

// StartNode returns the entry point id.
func (g *Graph) StartNode() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.start
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns nodes in registration order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns edges in registration order.
func (g *Graph) Edges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Edge(nil), g.edges...)
}

// OutgoingEdges returns the edges leaving id in registration order.
func (g *Graph) OutgoingEdges(id string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Edge(nil), g.outgoing[id]...)
}

// ValidateIntegrity checks the graph without failing. Missing start node,
// dangling edges, missing conditional targets and unreachable nodes are
// errors. Self-loops, dead ends that are not terminal and predicates that
// fail on an empty probe are warnings.
func (g *Graph) ValidateIntegrity() IntegrityReport {
	return g.validateIntegrity(nil)
}

// validateIntegrity treats extraRoots (fallback nodes) as reachable entry points.
func (g *Graph) validateIntegrity(extraRoots []string) IntegrityReport {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var r IntegrityReport
	if g.start == "" {
		r.errorf("%v", ErrStartNodeNotSet)
	} else if _, ok := g.nodes[g.start]; !ok {
		r.errorf("start node %s: %v", g.start, ErrNodeNotFound)
	}

	known := func(id string) bool {
		if id == END {
			return true
		}
		_, ok := g.nodes[id]
		return ok
	}

	for _, e := range g.edges {
		if !known(e.From) {
			r.errorf("edge %s: source %s does not exist", e, e.From)
		}
		if !known(e.To) {
			r.errorf("edge %s: target %s does not exist", e, e.To)
		}
		er := e.ValidateIntegrity()
		r.Warnings = append(r.Warnings, er.Warnings...)
		// probe failures are not fatal; real input may satisfy the predicate
		for _, msg := range er.Errors {
			r.warnf("%s", msg)
		}
	}

	for _, id := range g.order {
		n := g.nodes[id]
		switch n.Kind {
		case KindConditional:
			if n.cond == nil {
				r.errorf("conditional node %s: no condition", id)
			}
			for _, t := range []string{n.trueTarget, n.falseTarget} {
				if t != "" && !known(t) {
					r.errorf("conditional node %s: target %s does not exist", id, t)
				}
			}
		case KindSubgraph:
			if n.subgraph == nil {
				r.errorf("subgraph node %s: no graph", id)
			} else if sr := n.subgraph.ValidateIntegrity(); !sr.Valid() {
				for _, msg := range sr.Errors {
					r.errorf("subgraph %s: %s", id, msg)
				}
			}
		case KindFunction:
			if n.Executable && n.fn == nil {
				r.errorf("node %s: no function", id)
			}
		case KindLoop:
			if n.fn == nil || n.cond == nil {
				r.errorf("loop node %s: body and condition are required", id)
			}
		}
		if n.Kind != KindConditional && !n.Terminal && len(g.outgoing[id]) == 0 {
			r.warnf("node %s has no outgoing edges and is not terminal", id)
		}
	}

	if g.start != "" && known(g.start) {
		reached := g.reachableLocked(append([]string{g.start}, extraRoots...)...)
		for _, id := range g.order {
			if !reached[id] {
				r.errorf("node %s is unreachable from %s", id, g.start)
			}
		}
	}
	return r
}

func (g *Graph) reachableLocked(roots ...string) map[string]bool {
	seen := make(map[string]bool)
	var queue []string
	for _, id := range roots {
		if _, ok := g.nodes[id]; ok && !seen[id] {
			seen[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		var next []string
		for _, e := range g.outgoing[id] {
			next = append(next, e.To)
		}
		if n, ok := g.nodes[id]; ok && n.Kind == KindConditional {
			next = append(next, n.trueTarget, n.falseTarget)
		}
		for _, t := range next {
			if t == "" || t == END || seen[t] {
				continue
			}
			if _, ok := g.nodes[t]; !ok {
				continue
			}
			seen[t] = true
			queue = append(queue, t)
		}
	}
	return seen
}

// Validate returns a *StructuralError when ValidateIntegrity finds errors.
func (g *Graph) Validate() error {
	r := g.ValidateIntegrity()
	if !r.Valid() {
		return &StructuralError{Report: r}
	}
	return nil
}
