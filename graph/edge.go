package graph

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
)

// Condition decides whether an edge is traversed. Both forms must agree
// when the state's key/value content equals the args.
type Condition interface {
	EvaluateArgs(args map[string]any) (bool, error)
	EvaluateState(state *State) (bool, error)
}

// ArgsCondition is a predicate over the raw key/value content.
type ArgsCondition func(args map[string]any) (bool, error)

func (c ArgsCondition) EvaluateArgs(args map[string]any) (bool, error) { return c(args) }

func (c ArgsCondition) EvaluateState(state *State) (bool, error) { return c(state.Args()) }

// StateCondition is a predicate over the State, with access to metadata
// and history.
type StateCondition func(state *State) (bool, error)

// EvaluateArgs wraps args in a fresh state.
func (c StateCondition) EvaluateArgs(args map[string]any) (bool, error) {
	return c(NewState(args))
}

func (c StateCondition) EvaluateState(state *State) (bool, error) { return c(state) }

// When adapts an infallible args predicate.
func When(pred func(args map[string]any) bool) Condition {
	return ArgsCondition(func(args map[string]any) (bool, error) { return pred(args), nil })
}

// WhenState adapts an infallible state predicate.
func WhenState(pred func(state *State) bool) Condition {
	return StateCondition(func(state *State) (bool, error) { return pred(state), nil })
}

type constCondition bool

func (c constCondition) EvaluateArgs(map[string]any) (bool, error) { return bool(c), nil }
func (c constCondition) EvaluateState(*State) (bool, error)        { return bool(c), nil }

// Always is a condition that is always true.
func Always() Condition { return constCondition(true) }

// Never is a condition that is always false.
func Never() Condition { return constCondition(false) }

// ExprCondition is a boolean expr-lang expression over the state's keys.
type ExprCondition struct {
	source  string
	program *vm.Program
}

// NewExprCondition compiles src, e.g. `priority > 7 && region == "eu"`.
func NewExprCondition(src string) (*ExprCondition, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	program, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return &ExprCondition{source: src, program: program}, nil
}

// MustExpr is NewExprCondition that panics on a compile error.
func MustExpr(src string) *ExprCondition {
	c, err := NewExprCondition(src)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *ExprCondition) String() string { return c.source }

func (c *ExprCondition) EvaluateArgs(args map[string]any) (bool, error) {
	out, err := expr.Run(c.program, args)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q must evaluate to bool (got %T)", c.source, out)
	}
	return b, nil
}

func (c *ExprCondition) EvaluateState(state *State) (bool, error) {
	return c.EvaluateArgs(state.Args())
}

// Edge is a directed, optionally conditional link between two nodes.
type Edge struct {
	ID        string
	From      string
	To        string
	Name      string
	CreatedAt time.Time
	// Condition nil means unconditional.
	Condition Condition
	// Merge, when set, replaces the executor's merge config for writes of
	// the target node reached through this edge.
	Merge *MergeConfig

	traversals atomic.Int64
	mu         sync.Mutex
	lastUsed   time.Time
}

// EdgeOption configures an Edge.
type EdgeOption func(*Edge)

// WithEdgeName sets the edge name.
func WithEdgeName(name string) EdgeOption {
	return func(e *Edge) { e.Name = name }
}

// WithEdgeID overrides the generated id.
func WithEdgeID(id string) EdgeOption {
	return func(e *Edge) { e.ID = id }
}

// WithEdgeMerge sets the merge config for writes flowing into the target.
func WithEdgeMerge(cfg *MergeConfig) EdgeOption {
	return func(e *Edge) { e.Merge = cfg }
}

// NewEdge creates an edge; cond may be nil.
func NewEdge(from, to string, cond Condition, opts ...EdgeOption) *Edge {
	e := &Edge{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		CreatedAt: time.Now(),
		Condition: cond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Conditional reports whether the edge has a predicate.
func (e *Edge) Conditional() bool { return e.Condition != nil }

// Evaluate runs the predicate against state. Panics are returned as
// *EvaluationError.
func (e *Edge) Evaluate(state *State) (ok bool, err error) {
	if e.Condition == nil {
		return true, nil
	}
	defer e.recoverInto(&err)
	ok, err = e.Condition.EvaluateState(state)
	if err != nil {
		return false, e.evalErr(err)
	}
	return ok, nil
}

// EvaluateArgs runs the predicate against raw key/value content.
func (e *Edge) EvaluateArgs(args map[string]any) (ok bool, err error) {
	if e.Condition == nil {
		return true, nil
	}
	defer e.recoverInto(&err)
	ok, err = e.Condition.EvaluateArgs(args)
	if err != nil {
		return false, e.evalErr(err)
	}
	return ok, nil
}

func (e *Edge) recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = e.evalErr(fmt.Errorf("panic: %v", r))
	}
}

func (e *Edge) evalErr(cause error) error {
	return &EvaluationError{EdgeID: e.ID, From: e.From, To: e.To, Cause: cause}
}

func (e *Edge) markTraversed(at time.Time) {
	e.traversals.Add(1)
	e.mu.Lock()
	e.lastUsed = at
	e.mu.Unlock()
}

// Traversals returns how many times the edge was followed.
func (e *Edge) Traversals() int64 { return e.traversals.Load() }

// LastTraversed returns when the edge was last followed.
func (e *Edge) LastTraversed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUsed
}

func (e *Edge) String() string {
	label := e.From + " -> " + e.To
	if e.Name != "" {
		label += " (" + e.Name + ")"
	}
	return label
}

// IntegrityReport lists validation problems. Errors make a graph invalid;
// warnings do not.
type IntegrityReport struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether there are no errors.
func (r IntegrityReport) Valid() bool { return len(r.Errors) == 0 }

func (r *IntegrityReport) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *IntegrityReport) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateIntegrity checks the edge against an empty probe state.
func (e *Edge) ValidateIntegrity() IntegrityReport {
	return e.ValidateIntegrityWith(map[string]any{})
}

// ValidateIntegrityWith checks the edge, probing its predicate with args.
// A predicate that fails on the probe is an error for the edge.
func (e *Edge) ValidateIntegrityWith(probe map[string]any) IntegrityReport {
	var r IntegrityReport
	if e.From == "" {
		r.errorf("edge %s: empty source", e.ID)
	}
	if e.To == "" {
		r.errorf("edge %s: empty target", e.ID)
	}
	if e.From != "" && e.From == e.To {
		r.warnf("edge %s: self-loop on %s", e.ID, e.From)
	}
	if e.Condition != nil {
		if _, err := e.EvaluateArgs(probe); err != nil {
			r.errorf("edge %s: %v", e.ID, err)
		}
	}
	return r
}
