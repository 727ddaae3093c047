package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/graphrun/log"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxSteps = 500

// RoutingMode selects how many true outgoing edges are followed.
type RoutingMode int

const (
	// RoutingFanOut follows every edge whose condition holds.
	RoutingFanOut RoutingMode = iota
	// RoutingFirstMatch follows only the first true edge in registration order.
	RoutingFirstMatch
)

func (m RoutingMode) String() string {
	if m == RoutingFirstMatch {
		return "first_match"
	}
	return "fan_out"
}

// ParseRoutingMode parses "fan_out" or "first_match".
func ParseRoutingMode(s string) (RoutingMode, error) {
	switch s {
	case "", "fan_out", "fanout", "all":
		return RoutingFanOut, nil
	case "first_match", "first", "single":
		return RoutingFirstMatch, nil
	}
	return RoutingFanOut, fmt.Errorf("unknown routing mode %q", s)
}

// Status is the lifecycle state of an execution.
type Status int

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Outcome summarizes how a run ended.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomePartialSuccess means the run completed after skipping,
	// retrying or substituting at least one node.
	OutcomePartialSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartialSuccess:
		return "partial_success"
	default:
		return "failure"
	}
}

// ExecutorConfig is the explicit configuration of an Executor.
type ExecutorConfig struct {
	MaxSteps int
	// Timeout bounds the wall-clock time of one execution. Zero means none.
	Timeout time.Duration
	Routing RoutingMode
	// Parallelism is the number of frontier nodes run concurrently per step.
	Parallelism  int
	Merge        *MergeConfig
	NodePolicies map[string]RecoveryPolicy
	TypePolicies map[ErrorType]RecoveryPolicy
	Classifier   func(error) ErrorType
	Checkpoints  *CheckpointManager
	Listeners    []Listener
	Logger       log.Logger
	Metrics      *Metrics
}

// DefaultExecutorConfig returns sequential fan-out execution with 500 steps.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxSteps:     defaultMaxSteps,
		Routing:      RoutingFanOut,
		Parallelism:  1,
		NodePolicies: make(map[string]RecoveryPolicy),
		TypePolicies: make(map[ErrorType]RecoveryPolicy),
		Classifier:   DefaultErrorClassifier,
		Logger:       log.GetDefaultLogger(),
	}
}

// Option configures an Executor.
type Option func(*ExecutorConfig)

func WithMaxSteps(n int) Option { return func(c *ExecutorConfig) { c.MaxSteps = n } }

func WithTimeout(d time.Duration) Option { return func(c *ExecutorConfig) { c.Timeout = d } }

func WithRoutingMode(m RoutingMode) Option { return func(c *ExecutorConfig) { c.Routing = m } }

// WithParallelism runs up to n frontier nodes at once.
func WithParallelism(n int) Option { return func(c *ExecutorConfig) { c.Parallelism = n } }

func WithMergeConfig(cfg *MergeConfig) Option { return func(c *ExecutorConfig) { c.Merge = cfg } }

// WithRecoveryPolicy sets the failure policy of one node.
func WithRecoveryPolicy(nodeID string, p RecoveryPolicy) Option {
	return func(c *ExecutorConfig) { c.NodePolicies[nodeID] = p }
}

// WithErrorTypePolicy sets the failure policy for an error type.
func WithErrorTypePolicy(typ ErrorType, p RecoveryPolicy) Option {
	return func(c *ExecutorConfig) { c.TypePolicies[typ] = p }
}

func WithErrorClassifier(fn func(error) ErrorType) Option {
	return func(c *ExecutorConfig) { c.Classifier = fn }
}

func WithCheckpointManager(m *CheckpointManager) Option {
	return func(c *ExecutorConfig) { c.Checkpoints = m }
}

func WithListener(l Listener) Option {
	return func(c *ExecutorConfig) { c.Listeners = append(c.Listeners, l) }
}

func WithLogger(l log.Logger) Option { return func(c *ExecutorConfig) { c.Logger = l } }

func WithMetrics(m *Metrics) Option { return func(c *ExecutorConfig) { c.Metrics = m } }

// WithTracer records executions and nodes as spans.
func WithTracer(tracer trace.Tracer) Option {
	return WithListener(NewTracingListener(tracer))
}

// Result is the outcome of one execution.
type Result struct {
	ExecutionID string
	Status      Status
	Outcome     Outcome
	State       *State
	// Path lists visited nodes in processing order.
	Path      []string
	Steps     int
	Skipped   []string
	Retried   []string
	Fallbacks map[string]string
	// MergeConflicts counts keys written by more than one node in a step.
	MergeConflicts int
	Checkpoints    []string
	Err            *ExecutionError
	StartedAt      time.Time
	Duration       time.Duration
}

// Executor runs a Graph. It holds no per-run state and may run
// executions concurrently.
type Executor struct {
	graph *Graph
	cfg   ExecutorConfig
}

// NewExecutor builds an executor for g.
func NewExecutor(g *Graph, opts ...Option) (*Executor, error) {
	if g == nil {
		return nil, errors.New("graph is nil")
	}
	cfg := DefaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultErrorClassifier
	}
	if cfg.Logger == nil {
		cfg.Logger = &log.NoOpLogger{}
	}
	for id, p := range cfg.NodePolicies {
		if err := checkFallback(g, p); err != nil {
			return nil, fmt.Errorf("policy for node %s: %w", id, err)
		}
	}
	for typ, p := range cfg.TypePolicies {
		if err := checkFallback(g, p); err != nil {
			return nil, fmt.Errorf("policy for %s errors: %w", typ, err)
		}
	}
	return &Executor{graph: g, cfg: cfg}, nil
}

func checkFallback(g *Graph, p RecoveryPolicy) error {
	if p.Action != Fallback && !(p.Action == Retry && p.OnExhausted == Fallback) {
		return nil
	}
	if p.FallbackNode == "" {
		return errors.New("fallback policy without fallback node")
	}
	if _, ok := g.Node(p.FallbackNode); !ok {
		return fmt.Errorf("fallback %w: %s", ErrNodeNotFound, p.FallbackNode)
	}
	return nil
}

func (e *Executor) Graph() *Graph { return e.graph }

func (e *Executor) Config() ExecutorConfig { return e.cfg }

// fallbackNodes are valid roots for reachability.
func (e *Executor) fallbackNodes() []string {
	var out []string
	add := func(p RecoveryPolicy) {
		if p.FallbackNode != "" && !slices.Contains(out, p.FallbackNode) {
			out = append(out, p.FallbackNode)
		}
	}
	for _, p := range e.cfg.NodePolicies {
		add(p)
	}
	for _, p := range e.cfg.TypePolicies {
		add(p)
	}
	slices.Sort(out)
	return out
}

// RunOption configures a single execution.
type RunOption func(*runSettings)

type runSettings struct {
	executionID string
	timeout     time.Duration
	listeners   []Listener
}

// WithRunExecutionID sets the execution id instead of generating one.
func WithRunExecutionID(id string) RunOption {
	return func(s *runSettings) { s.executionID = id }
}

// WithRunTimeout overrides the executor timeout for one run.
func WithRunTimeout(d time.Duration) RunOption {
	return func(s *runSettings) { s.timeout = d }
}

// WithRunListener adds a listener for one run.
func WithRunListener(l Listener) RunOption {
	return func(s *runSettings) { s.listeners = append(s.listeners, l) }
}

// Execute runs the graph from its start node on a new state holding initial.
// The error is non-nil exactly when the result status is not Completed.
func (e *Executor) Execute(ctx context.Context, initial map[string]any, opts ...RunOption) (*Result, error) {
	return e.ExecuteState(ctx, NewState(initial), opts...)
}

// ExecuteState runs the graph from its start node on state, which the
// executor owns for the duration of the run.
func (e *Executor) ExecuteState(ctx context.Context, state *State, opts ...RunOption) (*Result, error) {
	return e.execute(ctx, state, []string{e.graph.StartNode()}, opts)
}

// ExecuteFrom runs the graph with startNodes as the initial frontier.
// Unknown start nodes fail the run as a structural error.
func (e *Executor) ExecuteFrom(ctx context.Context, state *State, startNodes []string, opts ...RunOption) (*Result, error) {
	return e.execute(ctx, state, startNodes, opts)
}

// Resume restores checkpointID and continues from the frontier recorded
// with it, under the checkpoint's execution id unless overridden.
func (e *Executor) Resume(ctx context.Context, checkpointID string, opts ...RunOption) (*Result, error) {
	m := e.cfg.Checkpoints
	if m == nil {
		return nil, errors.New("resume requires a checkpoint manager")
	}
	cp, err := m.Load(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	state, err := m.restore(cp)
	if err != nil {
		return nil, err
	}
	frontier, err := Frontier(cp)
	if err != nil {
		return nil, &CheckpointError{Op: "restore", CheckpointID: cp.ID, ExecutionID: cp.ExecutionID, Cause: err}
	}
	e.cfg.Logger.Info("resuming execution %s from checkpoint %s (frontier=%v)", cp.ExecutionID, cp.ID, frontier)
	opts = append([]RunOption{WithRunExecutionID(cp.ExecutionID)}, opts...)
	return e.ExecuteFrom(ctx, state, frontier, opts...)
}

// run holds the mutable state of one execution.
type run struct {
	e         *Executor
	cfg       ExecutorConfig
	id        string
	state     *State
	em        *emitter
	tracker   *checkpointTracker
	result    *Result
	parent    context.Context
	overrides map[string]*MergeConfig
}

func (e *Executor) execute(ctx context.Context, state *State, frontier []string, opts []RunOption) (*Result, error) {
	settings := runSettings{timeout: e.cfg.Timeout}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.executionID == "" {
		settings.executionID = uuid.NewString()
	}
	if state == nil {
		state = NewState(nil)
	}

	r := &run{
		e:     e,
		cfg:   e.cfg,
		id:    settings.executionID,
		state: state,
		em: &emitter{
			executionID: settings.executionID,
			listeners:   append(slices.Clone(e.cfg.Listeners), settings.listeners...),
			logger:      e.cfg.Logger,
		},
		tracker:   e.cfg.Checkpoints.tracker(settings.executionID),
		parent:    ctx,
		overrides: make(map[string]*MergeConfig),
		result: &Result{
			ExecutionID: settings.executionID,
			Status:      StatusNotStarted,
			State:       state,
			Fallbacks:   make(map[string]string),
			StartedAt:   time.Now(),
		},
	}

	if err := e.validate(); err != nil {
		return r.finish(ctx, &ExecutionError{Kind: ErrorKindStructural, Cause: err}, false)
	}
	for _, id := range frontier {
		if _, ok := e.graph.Node(id); !ok {
			return r.finish(ctx, &ExecutionError{Kind: ErrorKindStructural, NodeID: id,
				Cause: fmt.Errorf("%w: %s", ErrNodeNotFound, id)}, false)
		}
	}

	runCtx := WithExecutionID(ctx, r.id)
	if settings.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, settings.timeout)
		defer cancel()
	}
	return r.loop(runCtx, dedupe(frontier))
}

func (e *Executor) validate() error {
	report := e.graph.validateIntegrity(e.fallbackNodes())
	if !report.Valid() {
		return &StructuralError{Report: report}
	}
	for _, w := range report.Warnings {
		e.cfg.Logger.Debug("graph %s: %s", e.graph.Name(), w)
	}
	return nil
}

func (r *run) loop(ctx context.Context, pending []string) (*Result, error) {
	logger := r.cfg.Logger
	r.result.Status = StatusRunning
	r.cfg.Metrics.executionStarted()
	logger.Info("execution %s started (graph=%s frontier=%v)", r.id, r.e.graph.Name(), pending)
	r.em.emit(ctx, Event{Type: EventExecutionStarted, State: r.state.Clone()})

	if r.tracker != nil && r.tracker.m.opts.OnStart {
		if xerr := r.checkpoint(ctx, saveRequest{state: r.state, trigger: TriggerStart, frontier: pending}); xerr != nil {
			return r.finish(ctx, xerr, true)
		}
	}

	steps := 0
	for len(pending) > 0 {
		if xerr := r.checkLimits(ctx, steps); xerr != nil {
			return r.finish(ctx, xerr, true)
		}

		n := min(r.cfg.Parallelism, len(pending), r.cfg.MaxSteps-steps)
		wave := pending[:n]
		rest := slices.Clone(pending[n:])

		base := r.state.Clone()
		tasks := make([]func(context.Context) waveResult, len(wave))
		for i, id := range wave {
			node, _ := r.e.graph.Node(id)
			logger.Debug("execution %s: node %s started", r.id, id)
			r.em.emit(ctx, Event{Type: EventNodeStarted, NodeID: id, State: base.Clone()})
			tasks[i] = func(ctx context.Context) waveResult { return r.runNode(ctx, node, base) }
		}
		results := runWave(ctx, r.cfg.Parallelism, tasks)

		var next []string
		written := make(map[string]bool)
		for i, wr := range results {
			if wr.nodeID == "" {
				wr.nodeID = wave[i]
			}
			steps++
			r.result.Steps = steps

			if wr.err != nil {
				remaining := append(append(slices.Clone(wave[i:]), rest...), next...)
				return r.stop(ctx, wave[i+1:], r.nodeFailure(ctx, wr, steps, remaining))
			}

			terminal, err := r.commit(ctx, wr, written)
			if err != nil {
				applied := wr.nodeID
				if wr.fallback != "" {
					applied = wr.fallback
				}
				xerr := &ExecutionError{Kind: ErrorKindNode, NodeID: wr.nodeID, Step: steps, Cause: err}
				return r.stop(ctx, append([]string{applied}, wave[i+1:]...), xerr)
			}

			routed, err := r.route(wr)
			if err != nil {
				return r.stop(ctx, wave[i+1:], &ExecutionError{Kind: ErrorKindRouting, NodeID: wr.nodeID, Step: steps, Cause: err})
			}
			next = append(next, routed...)

			if terminal {
				logger.Debug("execution %s: terminal node %s reached", r.id, wr.nodeID)
				next, rest = nil, nil
				r.abort(ctx, wave[i+1:], fmt.Errorf("%w: terminal node %s reached", ErrNodeAborted, wr.nodeID))
			}

			if r.tracker != nil {
				if trigger := r.tracker.afterNode(wr.nodeID); trigger != "" {
					remaining := dedupe(append(append(slices.Clone(wave[i+1:]), rest...), next...))
					if terminal {
						remaining = nil
					}
					if xerr := r.checkpoint(ctx, saveRequest{
						state: r.state, nodeID: wr.nodeID, trigger: trigger, frontier: remaining, step: steps,
					}); xerr != nil {
						if terminal {
							return r.finish(ctx, xerr, true)
						}
						return r.stop(ctx, wave[i+1:], xerr)
					}
				}
			}
			if terminal {
				break
			}
		}

		pending = dedupe(append(rest, next...))
		r.cfg.Metrics.frontier(len(pending))
	}

	if r.tracker != nil && r.tracker.completeDue(r.state) {
		if xerr := r.checkpoint(ctx, saveRequest{state: r.state, trigger: TriggerComplete, step: steps}); xerr != nil {
			return r.finish(ctx, xerr, true)
		}
	}
	return r.finish(ctx, nil, true)
}

// checkLimits distinguishes cancellation by the caller from the run's own
// timeout and step budget.
func (r *run) checkLimits(ctx context.Context, steps int) *ExecutionError {
	if err := r.parent.Err(); err != nil {
		return &ExecutionError{Kind: ErrorKindCancelled, Step: steps, Cause: err}
	}
	if err := ctx.Err(); err != nil {
		return &ExecutionError{Kind: ErrorKindResource, Step: steps, Cause: fmt.Errorf("%w: %v", ErrExecutionTimeout, err)}
	}
	if steps >= r.cfg.MaxSteps {
		return &ExecutionError{Kind: ErrorKindResource, Step: steps,
			Cause: fmt.Errorf("%w: %d", ErrStepLimitExceeded, r.cfg.MaxSteps)}
	}
	return nil
}

// runNode runs one node on a clone of base, applying the recovery policy.
// It must not touch the run's canonical state or emitter.
func (r *run) runNode(ctx context.Context, node *Node, base *State) (res waveResult) {
	res.nodeID = node.ID
	start := time.Now()
	defer func() { res.duration = time.Since(start) }()
	nctx := withNodeID(ctx, node.ID)

	for attempt := 1; ; attempt++ {
		var out nodeOutput
		err := node.Validate(base)
		if err == nil {
			out, err = node.run(nctx, base.Clone())
		}
		if err == nil {
			res.out = out
			res.attempts = attempt
			return res
		}

		typ := r.cfg.Classifier(err)
		res.failures = append(res.failures, attemptFailure{attempt: attempt, typ: typ, err: err})
		res.attempts = attempt
		policy := r.cfg.policyFor(node.ID, typ)

		if policy.Action == Retry && attempt < policy.attempts() && policy.retryable(err) && ctx.Err() == nil {
			if serr := sleep(ctx, policy.backoff(attempt)); serr == nil {
				continue
			}
		}

		nodeErr := &NodeError{NodeID: node.ID, Type: typ, Attempts: attempt, Cause: err}
		action := policy.Action
		if action == Retry {
			action = policy.OnExhausted
		}
		if ctx.Err() != nil {
			action = Propagate
		}

		switch action {
		case Skip:
			res.skipped = true
			res.recovered = nodeErr
			return res
		case Fallback:
			fb, ok := r.e.graph.Node(policy.FallbackNode)
			if !ok {
				res.err = nodeErr
				return res
			}
			res.fallback = fb.ID
			res.recovered = nodeErr
			if ferr := fb.Validate(base); ferr != nil {
				res.err = &NodeError{NodeID: fb.ID, Type: r.cfg.Classifier(ferr), Attempts: 1, Cause: ferr}
				return res
			}
			fout, ferr := fb.run(withNodeID(ctx, fb.ID), base.Clone())
			if ferr != nil {
				res.err = &NodeError{NodeID: fb.ID, Type: r.cfg.Classifier(ferr), Attempts: 1,
					Cause: fmt.Errorf("fallback for %s: %w", node.ID, ferr)}
				return res
			}
			res.out = fout
			return res
		default:
			res.err = nodeErr
			return res
		}
	}
}

// commit applies a successful or recovered node result to the canonical
// state, emits its events and reports whether the run should stop.
func (r *run) commit(ctx context.Context, wr waveResult, written map[string]bool) (bool, error) {
	logger := r.cfg.Logger
	node, _ := r.e.graph.Node(wr.nodeID)

	for _, f := range wr.failures {
		r.cfg.Metrics.nodeFailed(wr.nodeID, f.typ)
		recovery := Retry.String()
		if f.attempt == len(wr.failures) && wr.recovered != nil {
			if wr.skipped {
				recovery = Skip.String()
			} else {
				recovery = Fallback.String() + ":" + wr.fallback
			}
		} else {
			r.cfg.Metrics.retried(wr.nodeID)
		}
		logger.Warn("execution %s: node %s attempt %d failed (%s): %v; recovery=%s",
			r.id, wr.nodeID, f.attempt, f.typ, f.err, recovery)
		r.em.emit(ctx, Event{Type: EventNodeFailed, NodeID: wr.nodeID, Err: f.err,
			Attempt: f.attempt, Recovery: recovery, State: r.state.Clone()})
	}
	retries := len(wr.failures)
	if wr.recovered != nil {
		retries--
	}
	if retries > 0 {
		r.result.Retried = append(r.result.Retried, wr.nodeID)
	}

	r.result.Path = append(r.result.Path, wr.nodeID)

	if wr.skipped {
		r.cfg.Metrics.recovered(wr.nodeID, Skip)
		r.result.Skipped = append(r.result.Skipped, wr.nodeID)
		r.state.AppendHistory(StepRecord{NodeID: wr.nodeID, Timestamp: time.Now(), Status: StepSkipped,
			Detail: wr.recovered.Error()})
		r.cfg.Metrics.nodeFinished(wr.nodeID, "skipped", wr.duration)
		return node.Terminal, nil
	}

	applied := wr.nodeID
	status := StepCompleted
	terminal := node.Terminal
	if wr.fallback != "" {
		r.cfg.Metrics.recovered(wr.nodeID, Fallback)
		r.result.Fallbacks[wr.nodeID] = wr.fallback
		r.result.Path = append(r.result.Path, wr.fallback)
		r.em.emit(ctx, Event{Type: EventNodeStarted, NodeID: wr.fallback, State: r.state.Clone()})
		applied = wr.fallback
		status = StepFallback
		if fb, ok := r.e.graph.Node(wr.fallback); ok && fb.Terminal {
			terminal = true
		}
	}

	cfg := r.cfg.Merge
	if override, ok := r.overrides[wr.nodeID]; ok {
		cfg = override
		delete(r.overrides, wr.nodeID)
	}
	for _, w := range wr.out.writes {
		if written[w.Key] {
			r.result.MergeConflicts++
			r.cfg.Metrics.mergeConflict(w.Key)
		}
		written[w.Key] = true
	}
	if err := r.state.Apply(wr.out.writes, cfg); err != nil {
		return false, fmt.Errorf("merge writes: %w", err)
	}

	detail := ""
	if wr.fallback != "" {
		detail = "fallback for " + wr.nodeID
	}
	r.state.AppendHistory(StepRecord{NodeID: applied, Timestamp: time.Now(), Status: status, Detail: detail})
	r.cfg.Metrics.nodeFinished(wr.nodeID, string(status), wr.duration)
	logger.Debug("execution %s: node %s completed in %s (%d write(s))", r.id, applied, wr.duration, len(wr.out.writes))
	r.em.emit(ctx, Event{Type: EventNodeCompleted, NodeID: applied, Duration: wr.duration, State: r.state.Clone()})
	return terminal, nil
}

// route evaluates outgoing edges against the canonical state. A fallback
// with its own edges routes from them; otherwise the failed node's edges apply.
func (r *run) route(wr waveResult) ([]string, error) {
	if wr.out.routed {
		return wr.out.route, nil
	}
	from := wr.nodeID
	if wr.fallback != "" && len(r.e.graph.OutgoingEdges(wr.fallback)) > 0 {
		from = wr.fallback
	}

	var targets []string
	now := time.Now()
	for _, edge := range r.e.graph.OutgoingEdges(from) {
		ok, err := edge.Evaluate(r.state)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		edge.markTraversed(now)
		if edge.To != END {
			targets = append(targets, edge.To)
			if edge.Merge != nil {
				if _, set := r.overrides[edge.To]; !set {
					r.overrides[edge.To] = edge.Merge
				}
			}
		}
		if r.cfg.Routing == RoutingFirstMatch {
			break
		}
	}
	return targets, nil
}

// stop discards the results of the started wave nodes and finishes the run.
func (r *run) stop(ctx context.Context, discarded []string, xerr *ExecutionError) (*Result, error) {
	r.abort(ctx, discarded, fmt.Errorf("%w: %w", ErrNodeAborted, xerr))
	return r.finish(ctx, xerr, true)
}

// abort emits the failure event for started nodes whose results are dropped.
func (r *run) abort(ctx context.Context, ids []string, cause error) {
	for _, id := range ids {
		r.cfg.Logger.Debug("execution %s: node %s aborted: %v", r.id, id, cause)
		r.em.emit(ctx, Event{Type: EventNodeFailed, NodeID: id, Err: cause,
			Recovery: RecoveryAborted, State: r.state.Clone()})
	}
}

// nodeFailure writes the error checkpoint and builds the execution error.
func (r *run) nodeFailure(ctx context.Context, wr waveResult, step int, remaining []string) *ExecutionError {
	if err := r.parent.Err(); err != nil {
		r.abort(ctx, []string{wr.nodeID}, wr.err)
		return &ExecutionError{Kind: ErrorKindCancelled, NodeID: wr.nodeID, Step: step, Cause: err}
	}
	if err := ctx.Err(); err != nil {
		r.abort(ctx, []string{wr.nodeID}, wr.err)
		return &ExecutionError{Kind: ErrorKindResource, NodeID: wr.nodeID, Step: step,
			Cause: fmt.Errorf("%w: %v", ErrExecutionTimeout, err)}
	}

	for _, f := range wr.failures {
		r.cfg.Metrics.nodeFailed(wr.nodeID, f.typ)
		if f.attempt < len(wr.failures) {
			r.cfg.Metrics.retried(wr.nodeID)
		}
		r.em.emit(ctx, Event{Type: EventNodeFailed, NodeID: wr.nodeID, Err: f.err, Attempt: f.attempt,
			State: r.state.Clone()})
	}
	r.cfg.Metrics.nodeFinished(wr.nodeID, string(StepFailed), wr.duration)
	r.result.Path = append(r.result.Path, wr.nodeID)
	r.cfg.Logger.Error("execution %s: node %s failed: %v", r.id, wr.nodeID, wr.err)

	if r.tracker != nil && r.tracker.m.opts.OnError {
		// the saved state excludes the failed node so it reruns on resume
		_ = r.checkpoint(ctx, saveRequest{
			state: r.state, nodeID: wr.nodeID, trigger: TriggerError, frontier: dedupe(remaining), step: step - 1,
		})
	}
	return &ExecutionError{Kind: ErrorKindNode, NodeID: wr.nodeID, Step: step, Cause: wr.err}
}

// checkpoint saves through the tracker. Write failures only fail the run
// when FailOnCheckpointError is set.
func (r *run) checkpoint(ctx context.Context, req saveRequest) *ExecutionError {
	cp, err := r.tracker.save(ctx, req)
	if err == nil {
		r.result.Checkpoints = append(r.result.Checkpoints, cp.ID)
		return nil
	}
	if r.tracker.m.opts.FailOnCheckpointError {
		return &ExecutionError{Kind: ErrorKindCheckpoint, NodeID: req.nodeID, Step: req.step, Cause: err}
	}
	return nil
}

func (r *run) finish(ctx context.Context, xerr *ExecutionError, started bool) (*Result, error) {
	res := r.result
	res.Duration = time.Since(res.StartedAt)
	res.State = r.state

	switch {
	case xerr == nil:
		res.Status = StatusCompleted
		res.Outcome = OutcomeSuccess
		if len(res.Skipped) > 0 || len(res.Retried) > 0 || len(res.Fallbacks) > 0 {
			res.Outcome = OutcomePartialSuccess
		}
	case xerr.Kind == ErrorKindCancelled:
		res.Status = StatusCancelled
		res.Outcome = OutcomeFailure
	default:
		res.Status = StatusFailed
		res.Outcome = OutcomeFailure
	}
	res.Err = xerr

	if !started {
		r.cfg.Logger.Error("execution %s rejected: %v", r.id, xerr)
		return res, xerr
	}

	r.cfg.Metrics.executionFinished(res.Status, res.Duration)
	ev := Event{Type: EventExecutionCompleted, Status: res.Status, Duration: res.Duration, State: r.state.Clone()}
	if xerr != nil {
		ev.Err = xerr
		ev.NodeID = xerr.NodeID
		r.cfg.Logger.Error("execution %s %s after %d step(s): %v", r.id, res.Status, res.Steps, xerr)
	} else {
		r.cfg.Logger.Info("execution %s completed (%s) in %s, %d step(s)", r.id, res.Outcome, res.Duration, res.Steps)
	}
	r.em.emit(ctx, ev)

	if xerr != nil {
		return res, xerr
	}
	return res, nil
}

// dedupe drops repeated ids keeping the first occurrence.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
