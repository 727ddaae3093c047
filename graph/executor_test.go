package graph_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallnest/graphrun/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priorityGraph(t *testing.T, useConditionalNode bool) *graph.Graph {
	t.Helper()
	g := graph.NewGraph("priority")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("start", mark("start"))))
	if useConditionalNode {
		require.NoError(t, g.AddNode(graph.NewConditionalNode("decision",
			graph.When(func(a map[string]any) bool { return a["priority"].(int) > 7 }), "high", "low")))
	} else {
		require.NoError(t, g.AddNode(graph.NewFunctionNode("decision", mark("decision"))))
		_, err := g.AddConditionalEdge("decision", "high", graph.MustExpr("priority > 7"))
		require.NoError(t, err)
		_, err = g.AddConditionalEdge("decision", "low", graph.MustExpr("priority <= 7"))
		require.NoError(t, err)
	}
	require.NoError(t, g.AddNode(graph.NewFunctionNode("high", mark("high"))))
	require.NoError(t, g.AddNode(graph.NewFunctionNode("low", mark("low"))))
	require.NoError(t, g.AddNode(graph.NewFunctionNode("end", mark("end"), graph.Terminal())))
	for _, e := range [][2]string{{"start", "decision"}, {"high", "end"}, {"low", "end"}} {
		_, err := g.AddEdge(e[0], e[1])
		require.NoError(t, err)
	}
	require.NoError(t, g.SetStartNode("start"))
	return g
}

func TestPriorityRouting(t *testing.T) {
	t.Parallel()

	for _, conditionalNode := range []bool{false, true} {
		exec := newExecutor(t, priorityGraph(t, conditionalNode))

		res, err := exec.Execute(context.Background(), map[string]any{"priority": 8})
		require.NoError(t, err)
		assert.Equal(t, []string{"start", "decision", "high", "end"}, res.Path)
		assert.Equal(t, graph.StatusCompleted, res.Status)
		assert.Equal(t, graph.OutcomeSuccess, res.Outcome)

		res, err = exec.Execute(context.Background(), map[string]any{"priority": 3})
		require.NoError(t, err)
		assert.Equal(t, []string{"start", "decision", "low", "end"}, res.Path)
		assert.False(t, res.State.Has("high"))
	}
}

func TestExecutionIsDeterministic(t *testing.T) {
	t.Parallel()

	build := func() *graph.Graph {
		g := graph.NewGraph("fan")
		require.NoError(t, g.AddNode(graph.NewFunctionNode("root", mark("root"))))
		for _, id := range []string{"b1", "b2", "b3"} {
			id := id
			require.NoError(t, g.AddNode(graph.NewFunctionNode(id, func(_ context.Context, s *graph.State) (any, error) {
				time.Sleep(time.Duration(len(id)) * time.Millisecond)
				return graph.Update{"winner": id, id: true, "hits": []string{id}}, nil
			})))
			_, err := g.AddEdge("root", id)
			require.NoError(t, err)
			_, err = g.AddEdge(id, "join")
			require.NoError(t, err)
		}
		require.NoError(t, g.AddNode(graph.NewFunctionNode("join", mark("join"), graph.Terminal())))
		require.NoError(t, g.SetStartNode("root"))
		return g
	}
	merge := graph.NewMergeConfig().WithReducer("hits", graph.AppendReducer)

	var first *graph.Result
	for i := 0; i < 5; i++ {
		exec := newExecutor(t, build(), graph.WithParallelism(3), graph.WithMergeConfig(merge))
		res, err := exec.Execute(context.Background(), map[string]any{"seed": 1})
		require.NoError(t, err)
		if first == nil {
			first = res
			continue
		}
		assert.Equal(t, first.State.Args(), res.State.Args())
		assert.Equal(t, first.Path, res.Path)
	}

	winner, _ := first.State.Get("winner")
	assert.Equal(t, "b3", winner, "last writer in frontier order wins")
	hits, _ := graph.Value[[]string](first.State, "hits")
	assert.Equal(t, []string{"b1", "b2", "b3"}, hits)
	assert.Equal(t, []string{"root", "b1", "b2", "b3", "join"}, first.Path)
	assert.Equal(t, 4, first.MergeConflicts)
}

func TestParallelWaveRunsConcurrently(t *testing.T) {
	t.Parallel()

	var inflight, peak atomic.Int32
	slow := func(context.Context, *graph.State) (any, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		return nil, nil
	}
	g := graph.NewGraph("wide")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("root", noop)))
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, g.AddNode(graph.NewFunctionNode(id, slow)))
		_, err := g.AddEdge("root", id)
		require.NoError(t, err)
	}
	require.NoError(t, g.SetStartNode("root"))

	res, err := newExecutor(t, g, graph.WithParallelism(2)).Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), peak.Load())
	assert.Equal(t, []string{"root", "a", "b", "c", "d"}, res.Path)
}

func TestTerminalStopsExecution(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph("terminal")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("a", mark("a"), graph.Terminal())))
	require.NoError(t, g.AddNode(graph.NewFunctionNode("b", mark("b"), graph.Terminal())))
	_, err := g.AddEdge("a", "b")
	require.NoError(t, err)
	require.NoError(t, g.SetStartNode("a"))

	res, err := newExecutor(t, g).Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Path)
}

func TestFanOutAndFirstMatch(t *testing.T) {
	t.Parallel()

	build := func() *graph.Graph {
		g := graph.NewGraph("routing")
		require.NoError(t, g.AddNode(graph.NewFunctionNode("src", mark("src"))))
		for _, id := range []string{"x", "y"} {
			require.NoError(t, g.AddNode(graph.NewFunctionNode(id, mark(id), graph.Terminal())))
			_, err := g.AddConditionalEdge("src", id, graph.Always())
			require.NoError(t, err)
		}
		require.NoError(t, g.SetStartNode("src"))
		return g
	}

	res, err := newExecutor(t, build()).Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"src", "x"}, res.Path, "x is terminal")
	assert.True(t, res.State.Has("x"))

	g := build()
	for _, n := range g.Nodes() {
		n.Terminal = false
	}
	res, err = newExecutor(t, g).Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"src", "x", "y"}, res.Path)

	res, err = newExecutor(t, g, graph.WithRoutingMode(graph.RoutingFirstMatch)).Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"src", "x"}, res.Path)
}

func TestFrontierDedupe(t *testing.T) {
	t.Parallel()

	var joins atomic.Int32
	g := graph.NewGraph("diamond")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("top", noop)))
	require.NoError(t, g.AddNode(graph.NewFunctionNode("left", noop)))
	require.NoError(t, g.AddNode(graph.NewFunctionNode("right", noop)))
	require.NoError(t, g.AddNode(graph.NewFunctionNode("join", func(context.Context, *graph.State) (any, error) {
		joins.Add(1)
		return nil, nil
	}, graph.Terminal())))
	for _, e := range [][2]string{{"top", "left"}, {"top", "right"}, {"left", "join"}, {"right", "join"}} {
		_, err := g.AddEdge(e[0], e[1])
		require.NoError(t, err)
	}
	require.NoError(t, g.SetStartNode("top"))

	res, err := newExecutor(t, g).Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), joins.Load())
	assert.Equal(t, []string{"top", "left", "right", "join"}, res.Path)
}

func TestStepLimit(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph("cycle")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("spin", noop)))
	_, err := g.AddEdge("spin", "spin")
	require.NoError(t, err)
	require.NoError(t, g.SetStartNode("spin"))

	res, err := newExecutor(t, g, graph.WithMaxSteps(10)).Execute(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrStepLimitExceeded)
	assert.Equal(t, graph.StatusFailed, res.Status)
	assert.Equal(t, graph.ErrorKindResource, res.Err.Kind)
	assert.Equal(t, 10, res.Steps)
}

func TestTimeoutAndCancellation(t *testing.T) {
	t.Parallel()

	build := func() *graph.Graph {
		g := graph.NewGraph("slow")
		require.NoError(t, g.AddNode(graph.NewFunctionNode("wait", func(ctx context.Context, _ *graph.State) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return nil, nil
			}
		})))
		_, err := g.AddEdge("wait", "wait")
		require.NoError(t, err)
		require.NoError(t, g.SetStartNode("wait"))
		return g
	}

	res, err := newExecutor(t, build(), graph.WithTimeout(30*time.Millisecond)).Execute(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrExecutionTimeout)
	assert.Equal(t, graph.ErrorKindResource, res.Err.Kind)
	assert.Equal(t, graph.StatusFailed, res.Status)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res, err = newExecutor(t, build()).Execute(ctx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, graph.StatusCancelled, res.Status)
	assert.Equal(t, graph.ErrorKindCancelled, res.Err.Kind)
}

func TestNodeTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	g := graph.NewGraph("node-timeout")
	stuck := graph.NewFunctionNode("stuck", func(context.Context, *graph.State) (any, error) {
		<-release
		return nil, nil
	}, graph.WithNodeTimeout(10*time.Millisecond), graph.Terminal())
	require.NoError(t, g.AddNode(stuck))
	require.NoError(t, g.SetStartNode("stuck"))

	res, err := newExecutor(t, g).Execute(context.Background(), nil)
	require.Error(t, err)
	var nodeErr *graph.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, graph.ErrorTypeTimeout, nodeErr.Type)
	assert.Equal(t, graph.ErrorKindNode, res.Err.Kind)

	// the body ignores ctx, so it is still running
	assert.Equal(t, int64(1), stuck.Abandoned())
	close(release)
	assert.Eventually(t, func() bool { return stuck.Abandoned() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMissingInputs(t *testing.T) {
	t.Parallel()

	var ran atomic.Bool
	g := graph.NewGraph("inputs")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("needs", func(context.Context, *graph.State) (any, error) {
		ran.Store(true)
		return nil, nil
	}, graph.WithInputs("customer", "order"), graph.Terminal())))
	require.NoError(t, g.SetStartNode("needs"))

	res, err := newExecutor(t, g).Execute(context.Background(), map[string]any{"customer": "c1"})
	require.Error(t, err)
	assert.False(t, ran.Load())
	assert.ErrorIs(t, err, graph.ErrMissingInput)
	var ve *graph.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"order"}, ve.Missing)
	assert.Equal(t, "needs", res.Err.NodeID)
}

func TestRecoveryPolicies(t *testing.T) {
	t.Parallel()

	flaky := func(failures int32) (graph.NodeFunc, *atomic.Int32) {
		var calls atomic.Int32
		return func(context.Context, *graph.State) (any, error) {
			if calls.Add(1) <= failures {
				return nil, errors.New("transient")
			}
			return graph.Update{"flaky": "ok"}, nil
		}, &calls
	}
	// backup is only reachable as a fallback, so it is added on request
	build := func(fn graph.NodeFunc, withBackup ...bool) *graph.Graph {
		g := graph.NewGraph("recovery")
		require.NoError(t, g.AddNode(graph.NewFunctionNode("flaky", fn)))
		require.NoError(t, g.AddNode(graph.NewFunctionNode("after", mark("after"), graph.Terminal())))
		if len(withBackup) > 0 && withBackup[0] {
			require.NoError(t, g.AddNode(graph.NewFunctionNode("backup", func(context.Context, *graph.State) (any, error) {
				return graph.Update{"flaky": "backup"}, nil
			})))
		}
		_, err := g.AddEdge("flaky", "after")
		require.NoError(t, err)
		require.NoError(t, g.SetStartNode("flaky"))
		return g
	}

	t.Run("retry succeeds", func(t *testing.T) {
		fn, calls := flaky(2)
		rec := &recorder{}
		res, err := newExecutor(t, build(fn), graph.WithListener(rec),
			graph.WithRecoveryPolicy("flaky", graph.RetryPolicy(3, time.Millisecond))).
			Execute(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, graph.OutcomePartialSuccess, res.Outcome)
		assert.Equal(t, []string{"flaky"}, res.Retried)
		assert.Equal(t, []string{
			"execution_started",
			"node_started(flaky)", "node_failed(flaky)", "node_failed(flaky)", "node_completed(flaky)",
			"node_started(after)", "node_completed(after)",
			"execution_completed",
		}, rec.labels())
	})

	t.Run("retry exhausted", func(t *testing.T) {
		fn, calls := flaky(5)
		res, err := newExecutor(t, build(fn),
			graph.WithRecoveryPolicy("flaky", graph.RetryPolicy(2, time.Millisecond))).
			Execute(context.Background(), nil)
		require.Error(t, err)
		assert.Equal(t, int32(2), calls.Load())
		var nodeErr *graph.NodeError
		require.ErrorAs(t, err, &nodeErr)
		assert.Equal(t, 2, nodeErr.Attempts)
		assert.Equal(t, graph.OutcomeFailure, res.Outcome)
	})

	t.Run("non retryable", func(t *testing.T) {
		fn, calls := flaky(5)
		p := graph.RetryPolicy(5, time.Millisecond)
		p.Retryable = func(error) bool { return false }
		_, err := newExecutor(t, build(fn), graph.WithRecoveryPolicy("flaky", p)).
			Execute(context.Background(), nil)
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("skip", func(t *testing.T) {
		fn, _ := flaky(5)
		res, err := newExecutor(t, build(fn), graph.WithRecoveryPolicy("flaky", graph.SkipPolicy())).
			Execute(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, graph.OutcomePartialSuccess, res.Outcome)
		assert.Equal(t, []string{"flaky"}, res.Skipped)
		assert.False(t, res.State.Has("flaky"))
		assert.True(t, res.State.Has("after"))
		h := res.State.History()
		require.Len(t, h, 2)
		assert.Equal(t, graph.StepSkipped, h[0].Status)
	})

	t.Run("fallback", func(t *testing.T) {
		fn, _ := flaky(5)
		rec := &recorder{}
		res, err := newExecutor(t, build(fn, true), graph.WithListener(rec),
			graph.WithRecoveryPolicy("flaky", graph.FallbackPolicy("backup"))).
			Execute(context.Background(), nil)
		require.NoError(t, err)
		v, _ := res.State.Get("flaky")
		assert.Equal(t, "backup", v)
		assert.Equal(t, map[string]string{"flaky": "backup"}, res.Fallbacks)
		assert.Equal(t, []string{"flaky", "backup", "after"}, res.Path)
		assert.Equal(t, []string{
			"execution_started",
			"node_started(flaky)", "node_failed(flaky)", "node_started(backup)", "node_completed(backup)",
			"node_started(after)", "node_completed(after)",
			"execution_completed",
		}, rec.labels())
	})

	t.Run("retry then skip", func(t *testing.T) {
		fn, calls := flaky(5)
		p := graph.RetryPolicy(2, time.Millisecond)
		p.OnExhausted = graph.Skip
		res, err := newExecutor(t, build(fn), graph.WithRecoveryPolicy("flaky", p)).
			Execute(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, []string{"flaky"}, res.Skipped)
		assert.Equal(t, []string{"flaky"}, res.Retried)
	})

	t.Run("error type policy", func(t *testing.T) {
		g := build(func(context.Context, *graph.State) (any, error) {
			return nil, graph.Classified(graph.ErrorTypeNetwork, errors.New("connection reset"))
		})
		res, err := newExecutor(t, g, graph.WithErrorTypePolicy(graph.ErrorTypeNetwork, graph.SkipPolicy())).
			Execute(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"flaky"}, res.Skipped)
	})

	t.Run("fallback must exist", func(t *testing.T) {
		fn, _ := flaky(0)
		_, err := graph.NewExecutor(build(fn), graph.WithRecoveryPolicy("flaky", graph.FallbackPolicy("nope")))
		assert.ErrorIs(t, err, graph.ErrNodeNotFound)
	})
}

func TestNodePanicIsNodeError(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph("panic")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("bad", func(context.Context, *graph.State) (any, error) {
		panic("kaboom")
	}, graph.Terminal())))
	require.NoError(t, g.SetStartNode("bad"))

	res, err := newExecutor(t, g).Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, graph.ErrorKindNode, res.Err.Kind)
	n, _ := g.Node("bad")
	assert.Equal(t, int64(1), n.Failures())
}

func TestRoutingErrorIsFatal(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph("routing-error")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("a", noop)))
	require.NoError(t, g.AddNode(graph.NewFunctionNode("b", noop, graph.Terminal())))
	_, err := g.AddConditionalEdge("a", "b", graph.MustExpr("missing > 1"))
	require.NoError(t, err)
	require.NoError(t, g.SetStartNode("a"))

	res, err := newExecutor(t, g).Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, graph.ErrorKindRouting, res.Err.Kind)
	var evalErr *graph.EvaluationError
	assert.ErrorAs(t, err, &evalErr)
}

func TestResultKeyAndContext(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph("ctx")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("who", func(ctx context.Context, _ *graph.State) (any, error) {
		return graph.ExecutionIDFromContext(ctx) + "/" + graph.NodeIDFromContext(ctx), nil
	}, graph.WithResultKey("who_am_i"))))
	require.NoError(t, g.AddNode(graph.NewFunctionNode("raw", func(context.Context, *graph.State) (any, error) {
		return 42, nil
	}, graph.Terminal())))
	_, err := g.AddEdge("who", "raw")
	require.NoError(t, err)
	require.NoError(t, g.SetStartNode("who"))

	res, err := newExecutor(t, g).Execute(context.Background(), nil, graph.WithRunExecutionID("exec-7"))
	require.NoError(t, err)
	assert.Equal(t, "exec-7", res.ExecutionID)
	v, _ := res.State.Get("who_am_i")
	assert.Equal(t, "exec-7/who", v)
	raw, _ := res.State.Get("raw")
	assert.Equal(t, 42, raw)
}

func TestNodesReceiveIsolatedState(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph("isolation")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("sneaky", func(_ context.Context, s *graph.State) (any, error) {
		s.Set("direct", true)
		if labels, ok := graph.Value[map[string]string](s, "labels"); ok {
			labels["owner"] = "sneaky"
		}
		if ids, ok := graph.Value[[]int64](s, "ids"); ok {
			ids[0] = 999
		}
		return nil, nil
	})))
	require.NoError(t, g.AddNode(graph.NewFunctionNode("check", mark("check"), graph.Terminal())))
	_, err := g.AddEdge("sneaky", "check")
	require.NoError(t, err)
	require.NoError(t, g.SetStartNode("sneaky"))

	initial := graph.NewState(map[string]any{
		"labels": map[string]string{"owner": "ops"},
		"ids":    []int64{1},
	})
	res, err := newExecutor(t, g).ExecuteState(context.Background(), initial)
	require.NoError(t, err)
	assert.False(t, res.State.Has("direct"))

	labels, _ := graph.Value[map[string]string](res.State, "labels")
	assert.Equal(t, map[string]string{"owner": "ops"}, labels)
	ids, _ := graph.Value[[]int64](res.State, "ids")
	assert.Equal(t, []int64{1}, ids)
}

func TestLoopNode(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph("loop")
	body := func(_ context.Context, s *graph.State) (any, error) {
		n, _ := graph.Value[int](s, "n")
		return graph.Update{"n": n + 1}, nil
	}
	require.NoError(t, g.AddNode(graph.NewLoopNode("count", body,
		graph.When(func(a map[string]any) bool { return a["n"].(int) < 5 }), 10, graph.Terminal())))
	require.NoError(t, g.SetStartNode("count"))

	res, err := newExecutor(t, g).Execute(context.Background(), map[string]any{"n": 0})
	require.NoError(t, err)
	n, _ := res.State.Get("n")
	assert.Equal(t, 5, n)

	// bounded by max iterations
	res, err = newExecutor(t, g).Execute(context.Background(), map[string]any{"n": -100})
	require.NoError(t, err)
	n, _ = res.State.Get("n")
	assert.Equal(t, -90, n)
}

func TestSubgraphNode(t *testing.T) {
	t.Parallel()

	child, err := graph.NewSubgraphNodeFromBuilder("enrich", func(sg *graph.Graph) error {
		if err := sg.AddNode(graph.NewFunctionNode("lookup", func(_ context.Context, s *graph.State) (any, error) {
			id, _ := graph.Value[string](s, "customer")
			return graph.Update{"tier": "gold:" + id, "scratch": 1}, nil
		}, graph.Terminal())); err != nil {
			return err
		}
		return sg.SetStartNode("lookup")
	}, graph.WithOutputs("tier"))
	require.NoError(t, err)

	g := graph.NewGraph("parent")
	require.NoError(t, g.AddNode(child))
	require.NoError(t, g.AddNode(graph.NewFunctionNode("done", mark("done"), graph.Terminal())))
	_, err = g.AddEdge("enrich", "done")
	require.NoError(t, err)
	require.NoError(t, g.SetStartNode("enrich"))

	res, err := newExecutor(t, g).Execute(context.Background(), map[string]any{"customer": "c9"})
	require.NoError(t, err)
	tier, _ := res.State.Get("tier")
	assert.Equal(t, "gold:c9", tier)
	assert.False(t, res.State.Has("scratch"))
}

func TestEdgeMergeOverride(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph("edge-merge")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("seed", func(context.Context, *graph.State) (any, error) {
		return graph.Update{"best": 10}, nil
	})))
	require.NoError(t, g.AddNode(graph.NewFunctionNode("candidate", func(context.Context, *graph.State) (any, error) {
		return graph.Update{"best": 7}, nil
	}, graph.Terminal())))
	_, err := g.AddEdge("seed", "candidate",
		graph.WithEdgeMerge(graph.NewMergeConfig().WithReducer("best", graph.MaxReducer)))
	require.NoError(t, err)
	require.NoError(t, g.SetStartNode("seed"))

	res, err := newExecutor(t, g).Execute(context.Background(), nil)
	require.NoError(t, err)
	best, _ := res.State.Get("best")
	assert.Equal(t, 10, best)
}

func TestExecuteFrom(t *testing.T) {
	t.Parallel()

	exec := newExecutor(t, linear(t, "n1", "n2", "n3"))
	res, err := exec.ExecuteFrom(context.Background(), graph.NewState(nil), []string{"n2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"n2", "n3"}, res.Path)

	res, err = exec.ExecuteFrom(context.Background(), graph.NewState(nil), []string{"ghost"})
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)
	require.NotNil(t, res)
	assert.Equal(t, graph.StatusFailed, res.Status)
	assert.Empty(t, res.Path)
	var xerr *graph.ExecutionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, graph.ErrorKindStructural, xerr.Kind)
	assert.Equal(t, "ghost", xerr.NodeID)
}

func TestParseRoutingMode(t *testing.T) {
	t.Parallel()

	m, err := graph.ParseRoutingMode("first_match")
	require.NoError(t, err)
	assert.Equal(t, graph.RoutingFirstMatch, m)
	m, err = graph.ParseRoutingMode("")
	require.NoError(t, err)
	assert.Equal(t, graph.RoutingFanOut, m)
	_, err = graph.ParseRoutingMode("zigzag")
	assert.Error(t, err)
}
