package graph_test

import (
	"context"
	"strings"
	"testing"

	"github.com/smallnest/graphrun/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *graph.State) (any, error) { return nil, nil }

func hasMessage(msgs []string, sub string) bool {
	for _, m := range msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func TestGraphConstruction(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph("g")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("a", noop)))
	assert.ErrorIs(t, g.AddNode(graph.NewFunctionNode("a", noop)), graph.ErrDuplicateNode)
	assert.Error(t, g.AddNode(graph.NewFunctionNode("", noop)))
	assert.Error(t, g.AddNode(graph.NewFunctionNode(graph.END, noop)))
	assert.ErrorIs(t, g.SetStartNode("missing"), graph.ErrNodeNotFound)

	_, err := g.AddEdge("", "a")
	assert.Error(t, err)
	_, err = g.AddEdge(graph.END, "a")
	assert.Error(t, err)

	require.NoError(t, g.AddNode(graph.NewFunctionNode("b", noop)))
	e1, err := g.AddEdge("a", "b", graph.WithEdgeName("first"))
	require.NoError(t, err)
	e2, err := g.AddEdge("a", graph.END, graph.WithEdgeID("to-end"))
	require.NoError(t, err)

	assert.Equal(t, []*graph.Edge{e1, e2}, g.OutgoingEdges("a"))
	assert.Equal(t, "to-end", e2.ID)
	assert.Equal(t, "first", e1.Name)
	ids := []string{}
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestGraphValidateIntegrity(t *testing.T) {
	t.Parallel()

	t.Run("missing start", func(t *testing.T) {
		g := graph.NewGraph("g")
		require.NoError(t, g.AddNode(graph.NewFunctionNode("a", noop, graph.Terminal())))
		r := g.ValidateIntegrity()
		assert.False(t, r.Valid())
		assert.True(t, hasMessage(r.Errors, "start node not set"))

		err := g.Validate()
		assert.ErrorIs(t, err, graph.ErrInvalidGraph)
		var se *graph.StructuralError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, r.Errors, se.Report.Errors)
	})

	t.Run("dangling edge", func(t *testing.T) {
		g := graph.NewGraph("g")
		require.NoError(t, g.AddNode(graph.NewFunctionNode("a", noop)))
		require.NoError(t, g.SetStartNode("a"))
		_, err := g.AddEdge("a", "ghost")
		require.NoError(t, err)
		_, err = g.AddEdge("phantom", "a")
		require.NoError(t, err)
		r := g.ValidateIntegrity()
		assert.True(t, hasMessage(r.Errors, "target ghost does not exist"))
		assert.True(t, hasMessage(r.Errors, "source phantom does not exist"))
	})

	t.Run("unreachable node", func(t *testing.T) {
		g := graph.NewGraph("g")
		require.NoError(t, g.AddNode(graph.NewFunctionNode("a", noop, graph.Terminal())))
		require.NoError(t, g.AddNode(graph.NewFunctionNode("island", noop, graph.Terminal())))
		require.NoError(t, g.SetStartNode("a"))
		r := g.ValidateIntegrity()
		assert.True(t, hasMessage(r.Errors, "island is unreachable"))
	})

	t.Run("conditional node targets", func(t *testing.T) {
		g := graph.NewGraph("g")
		require.NoError(t, g.AddNode(graph.NewConditionalNode("d", graph.Always(), "yes", "no")))
		require.NoError(t, g.AddNode(graph.NewFunctionNode("yes", noop, graph.Terminal())))
		require.NoError(t, g.SetStartNode("d"))
		r := g.ValidateIntegrity()
		assert.True(t, hasMessage(r.Errors, "target no does not exist"))
		assert.False(t, hasMessage(r.Errors, "yes is unreachable"))
	})

	t.Run("warnings only", func(t *testing.T) {
		g := graph.NewGraph("g")
		require.NoError(t, g.AddNode(graph.NewFunctionNode("a", noop)))
		require.NoError(t, g.AddNode(graph.NewFunctionNode("b", noop)))
		require.NoError(t, g.SetStartNode("a"))
		_, err := g.AddConditionalEdge("a", "a", graph.MustExpr("n < 3"))
		require.NoError(t, err)
		_, err = g.AddEdge("a", "b")
		require.NoError(t, err)

		r := g.ValidateIntegrity()
		assert.True(t, r.Valid(), r.Errors)
		assert.True(t, hasMessage(r.Warnings, "self-loop"))
		assert.True(t, hasMessage(r.Warnings, "b has no outgoing edges"))
		assert.NoError(t, g.Validate())
	})

	t.Run("nodes without body", func(t *testing.T) {
		g := graph.NewGraph("g")
		require.NoError(t, g.AddNode(graph.NewFunctionNode("a", nil, graph.Terminal())))
		require.NoError(t, g.AddNode(graph.NewFunctionNode("pass", nil, graph.Passthrough(), graph.Terminal())))
		require.NoError(t, g.SetStartNode("a"))
		_, err := g.AddEdge("a", "pass")
		require.NoError(t, err)
		r := g.ValidateIntegrity()
		assert.True(t, hasMessage(r.Errors, "node a: no function"))
		assert.False(t, hasMessage(r.Errors, "node pass"))
	})
}

func TestExecuteRejectsInvalidGraph(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph("g")
	require.NoError(t, g.AddNode(graph.NewFunctionNode("a", noop)))
	rec := &recorder{}

	res, err := newExecutor(t, g, graph.WithListener(rec)).Execute(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrInvalidGraph)
	assert.Equal(t, graph.StatusFailed, res.Status)
	assert.Equal(t, graph.ErrorKindStructural, res.Err.Kind)
	assert.Empty(t, rec.labels())
}
