package graph

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// NodeKind is the closed set of node variants the executor knows how to run.
type NodeKind int

const (
	// KindFunction runs a user NodeFunc.
	KindFunction NodeKind = iota
	// KindConditional evaluates a predicate and routes to one of two targets.
	KindConditional
	// KindLoop repeats a body while a predicate holds.
	KindLoop
	// KindSubgraph runs a nested graph.
	KindSubgraph
)

func (k NodeKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindConditional:
		return "conditional"
	case KindLoop:
		return "loop"
	case KindSubgraph:
		return "subgraph"
	default:
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
}

// NodeFunc is the body of a function or loop node. It receives an isolated
// copy of the state; a returned map[string]any or Update is applied as
// writes by the executor.
type NodeFunc func(ctx context.Context, state *State) (any, error)

const defaultMaxIterations = 100

// Node is a unit of work in a graph.
type Node struct {
	ID          string
	Name        string
	Description string
	// Inputs must be present in the state before the node runs.
	Inputs []string
	// Outputs names the keys the node writes. Subgraph nodes copy only
	// these keys back to the parent when set.
	Outputs []string
	Kind    NodeKind
	// Executable false turns the node into a passthrough.
	Executable bool
	// ResultKey stores the raw return value under this key instead of
	// interpreting it as writes.
	ResultKey string
	// Terminal ends the execution once the node completes.
	Terminal bool
	// Timeout bounds a single attempt. Zero means no limit. The body must
	// return once its ctx is done; otherwise it outlives the attempt.
	Timeout time.Duration

	fn            NodeFunc
	cond          Condition
	trueTarget    string
	falseTarget   string
	maxIterations int
	subgraph      *Graph
	subOptions    []Option

	executions atomic.Int64
	failures   atomic.Int64
	abandoned  atomic.Int64
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithName sets the display name.
func WithName(name string) NodeOption {
	return func(n *Node) { n.Name = name }
}

// WithDescription sets the description.
func WithDescription(desc string) NodeOption {
	return func(n *Node) { n.Description = desc }
}

// WithInputs declares required input keys.
func WithInputs(keys ...string) NodeOption {
	return func(n *Node) { n.Inputs = append(n.Inputs, keys...) }
}

// WithOutputs declares written keys.
func WithOutputs(keys ...string) NodeOption {
	return func(n *Node) { n.Outputs = append(n.Outputs, keys...) }
}

// WithResultKey stores the node's return value under key.
func WithResultKey(key string) NodeOption {
	return func(n *Node) { n.ResultKey = key }
}

// WithNodeTimeout bounds each attempt of the node.
func WithNodeTimeout(d time.Duration) NodeOption {
	return func(n *Node) { n.Timeout = d }
}

// WithSubgraphOptions configures the executor used for a subgraph node.
func WithSubgraphOptions(opts ...Option) NodeOption {
	return func(n *Node) { n.subOptions = append(n.subOptions, opts...) }
}

// Terminal marks the node as an end of the execution.
func Terminal() NodeOption {
	return func(n *Node) { n.Terminal = true }
}

// Passthrough makes the node do nothing when visited.
func Passthrough() NodeOption {
	return func(n *Node) { n.Executable = false }
}

func newNode(id string, kind NodeKind, opts []NodeOption) *Node {
	n := &Node{ID: id, Name: id, Kind: kind, Executable: true}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NewFunctionNode creates a node that runs fn.
func NewFunctionNode(id string, fn NodeFunc, opts ...NodeOption) *Node {
	n := newNode(id, KindFunction, opts)
	n.fn = fn
	return n
}

// NewConditionalNode creates a node that routes to trueTarget when cond
// holds and to falseTarget otherwise. Its outgoing edges are ignored.
func NewConditionalNode(id string, cond Condition, trueTarget, falseTarget string, opts ...NodeOption) *Node {
	n := newNode(id, KindConditional, opts)
	n.cond = cond
	n.trueTarget = trueTarget
	n.falseTarget = falseTarget
	return n
}

// NewLoopNode creates a node that runs body while cond holds, at most
// maxIterations times (100 when maxIterations <= 0).
func NewLoopNode(id string, body NodeFunc, cond Condition, maxIterations int, opts ...NodeOption) *Node {
	n := newNode(id, KindLoop, opts)
	n.fn = body
	n.cond = cond
	n.maxIterations = maxIterations
	if n.maxIterations <= 0 {
		n.maxIterations = defaultMaxIterations
	}
	return n
}

// Targets returns the routing targets of a conditional node.
func (n *Node) Targets() (trueTarget, falseTarget string) {
	return n.trueTarget, n.falseTarget
}

// Subgraph returns the nested graph of a subgraph node.
func (n *Node) Subgraph() *Graph { return n.subgraph }

// Executions returns how many times the node ran.
func (n *Node) Executions() int64 { return n.executions.Load() }

// Failures returns how many attempts failed.
func (n *Node) Failures() int64 { return n.failures.Load() }

// Abandoned returns how many timed-out bodies are still running.
func (n *Node) Abandoned() int64 { return n.abandoned.Load() }

// Validate checks that declared inputs are present.
func (n *Node) Validate(state *State) error {
	var missing []string
	for _, key := range n.Inputs {
		if !state.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{NodeID: n.ID, Missing: missing}
	}
	return nil
}

// nodeOutput is what one node run hands back to the executor.
type nodeOutput struct {
	writes []Write
	// route overrides edge evaluation when routed is set.
	route  []string
	routed bool
}

// run executes one attempt. The state is a private clone.
func (n *Node) run(ctx context.Context, state *State) (out nodeOutput, err error) {
	n.executions.Add(1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in node %s: %v\n%s", n.ID, r, debug.Stack())
		}
		if err != nil {
			n.failures.Add(1)
		}
	}()

	if n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}

	switch n.Kind {
	case KindFunction:
		if !n.Executable || n.fn == nil {
			return nodeOutput{}, nil
		}
		res, err := n.call(ctx, state)
		if err != nil {
			return nodeOutput{}, err
		}
		writes, err := n.toWrites(res)
		return nodeOutput{writes: writes}, err

	case KindConditional:
		ok, err := n.cond.EvaluateState(state)
		if err != nil {
			return nodeOutput{}, fmt.Errorf("condition: %w", err)
		}
		target := n.falseTarget
		if ok {
			target = n.trueTarget
		}
		out := nodeOutput{routed: true}
		if target != "" && target != END {
			out.route = []string{target}
		}
		return out, nil

	case KindLoop:
		return n.runLoop(ctx, state)

	case KindSubgraph:
		return n.runSubgraph(ctx, state)
	}
	return nodeOutput{}, fmt.Errorf("node %s: unknown kind %v", n.ID, n.Kind)
}

// call runs fn, giving up when the node timeout fires even if fn ignores
// ctx. A body that ignores ctx keeps running after the timeout; such
// bodies are counted by Abandoned until they return.
func (n *Node) call(ctx context.Context, state *State) (any, error) {
	if n.Timeout <= 0 {
		return n.fn(ctx, state)
	}

	type result struct {
		value any
		err   error
	}
	const (
		running int32 = iota
		finished
		abandoned
	)
	var phase atomic.Int32
	resultChan := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- result{err: fmt.Errorf("panic in node %s: %v", n.ID, r)}
			}
			if !phase.CompareAndSwap(running, finished) {
				n.abandoned.Add(-1)
			}
		}()
		value, err := n.fn(ctx, state)
		resultChan <- result{value: value, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.value, res.err
	case <-ctx.Done():
		n.abandoned.Add(1)
		if !phase.CompareAndSwap(running, abandoned) {
			n.abandoned.Add(-1)
			res := <-resultChan
			return res.value, res.err
		}
		return nil, fmt.Errorf("node %s timed out after %v: %w", n.ID, n.Timeout, ctx.Err())
	}
}

// toWrites interprets a node return value. Maps become writes; other
// non-nil values are stored under ResultKey, or the node id when unset.
func (n *Node) toWrites(res any) ([]Write, error) {
	if n.ResultKey != "" {
		if res == nil {
			return nil, nil
		}
		return []Write{{Key: n.ResultKey, Value: res}}, nil
	}
	switch r := res.(type) {
	case nil:
		return nil, nil
	case Update:
		return r.writes(), nil
	case map[string]any:
		return Update(r).writes(), nil
	case []Write:
		return r, nil
	case *State:
		return nil, fmt.Errorf("node %s returned *State; return writes instead", n.ID)
	default:
		return []Write{{Key: n.ID, Value: res}}, nil
	}
}

func (n *Node) runLoop(ctx context.Context, state *State) (nodeOutput, error) {
	work := state.Clone()
	var order []string
	latest := make(map[string]any)

	for i := 0; i < n.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nodeOutput{}, err
		}
		ok, err := n.cond.EvaluateState(work)
		if err != nil {
			return nodeOutput{}, fmt.Errorf("loop condition (iteration %d): %w", i, err)
		}
		if !ok {
			break
		}
		res, err := n.call(ctx, work.Clone())
		if err != nil {
			return nodeOutput{}, fmt.Errorf("loop iteration %d: %w", i, err)
		}
		writes, err := n.toWrites(res)
		if err != nil {
			return nodeOutput{}, err
		}
		if err := work.Apply(writes, nil); err != nil {
			return nodeOutput{}, err
		}
		for _, w := range writes {
			if _, seen := latest[w.Key]; !seen {
				order = append(order, w.Key)
			}
			latest[w.Key] = w.Value
		}
	}

	out := nodeOutput{writes: make([]Write, 0, len(order))}
	for _, k := range order {
		out.writes = append(out.writes, Write{Key: k, Value: latest[k]})
	}
	return out, nil
}
