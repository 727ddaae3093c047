package graph_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallnest/graphrun/graph"
	"github.com/smallnest/graphrun/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordExecution(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := graph.NewMetrics(reg)

	var calls atomic.Int32
	g := graph.NewGraph("metrics")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("flaky", func(context.Context, *graph.State) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("first attempt fails")
		}
		return graph.Update{"flaky": true}, nil
	})))
	require.NoError(t, g.AddNode(graph.NewFunctionNode("done", mark("done"), graph.Terminal())))
	_, err := g.AddEdge("flaky", "done")
	require.NoError(t, err)
	require.NoError(t, g.SetStartNode("flaky"))

	mgr := graph.NewCheckpointManager(memoryStore(), graph.CheckpointOptions{NodeInterval: 1},
		graph.WithManagerLogger(&log.NoOpLogger{}), graph.WithManagerMetrics(metrics))
	exec := newExecutor(t, g,
		graph.WithMetrics(metrics),
		graph.WithCheckpointManager(mgr),
		graph.WithRecoveryPolicy("flaky", graph.RetryPolicy(3, time.Millisecond)))

	_, err = exec.Execute(context.Background(), nil)
	require.NoError(t, err)

	expected := `
# HELP graphrun_executions_total Executions finished, by final status
# TYPE graphrun_executions_total counter
graphrun_executions_total{status="completed"} 1
# HELP graphrun_node_failures_total Failed node attempts, by error type
# TYPE graphrun_node_failures_total counter
graphrun_node_failures_total{error_type="unknown",node="flaky"} 1
# HELP graphrun_retries_total Node retry attempts
# TYPE graphrun_retries_total counter
graphrun_retries_total{node="flaky"} 1
# HELP graphrun_checkpoints_total Checkpoints written, by trigger
# TYPE graphrun_checkpoints_total counter
graphrun_checkpoints_total{trigger="interval"} 2
# HELP graphrun_active_executions Executions currently running
# TYPE graphrun_active_executions gauge
graphrun_active_executions 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"graphrun_executions_total",
		"graphrun_node_failures_total",
		"graphrun_retries_total",
		"graphrun_checkpoints_total",
		"graphrun_active_executions",
	))

	n, err := testutil.GatherAndCount(reg, "graphrun_node_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per node and status")
}

func TestMetricsMergeConflictsAndFailures(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := graph.NewMetrics(reg)

	g := graph.NewGraph("conflicts")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("root", noop)))
	for _, id := range []string{"a", "b"} {
		require.NoError(t, g.AddNode(graph.NewFunctionNode(id, func(context.Context, *graph.State) (any, error) {
			return graph.Update{"shared": id}, nil
		})))
		_, err := g.AddEdge("root", id)
		require.NoError(t, err)
	}
	require.NoError(t, g.SetStartNode("root"))

	_, err := newExecutor(t, g, graph.WithMetrics(metrics), graph.WithParallelism(2)).
		Execute(context.Background(), nil)
	require.NoError(t, err)

	expected := `
# HELP graphrun_merge_conflicts_total Keys written by more than one node in the same step
# TYPE graphrun_merge_conflicts_total counter
graphrun_merge_conflicts_total{key="shared"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "graphrun_merge_conflicts_total"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	res, err := newExecutor(t, linear(t, "a", "b"), graph.WithMetrics(nil)).Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusCompleted, res.Status)
}
