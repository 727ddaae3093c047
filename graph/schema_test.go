package graph_test

import (
	"testing"
	"time"

	"github.com/smallnest/graphrun/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  *graph.MergeConfig
		want any
	}{
		{name: "nil config prefers second", cfg: nil, want: 9},
		{name: "prefer second", cfg: graph.NewMergeConfig(), want: 9},
		{name: "prefer first", cfg: graph.NewMergeConfig().WithKeyPolicy("score", graph.PreferFirst), want: 4},
		{name: "default prefer first", cfg: graph.NewMergeConfig().WithDefault(graph.PreferFirst), want: 4},
		{name: "reduce max", cfg: graph.NewMergeConfig().WithReducer("score", graph.MaxReducer), want: 9},
		{name: "reduce min", cfg: graph.NewMergeConfig().WithReducer("score", graph.MinReducer), want: 4},
		{name: "reduce sum", cfg: graph.NewMergeConfig().WithReducer("score", graph.SumReducer), want: 13},
		{
			name: "type reducer",
			cfg: graph.NewMergeConfig().
				WithKeyPolicy("score", graph.Reduce).
				WithTypeReducer(0, graph.SumReducer),
			want: 13,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := graph.NewState(map[string]any{"score": 4, "only_a": "a"})
			b := graph.NewState(map[string]any{"score": 9, "only_b": "b"})

			merged, err := graph.Merge(a, b, tt.cfg)
			require.NoError(t, err)
			score, _ := merged.Get("score")
			assert.Equal(t, tt.want, score)
			assert.True(t, merged.Has("only_a"))
			assert.True(t, merged.Has("only_b"))
			assert.Equal(t, a.ID(), merged.ID())

			// inputs untouched
			orig, _ := a.Get("score")
			assert.Equal(t, 4, orig)
		})
	}
}

func TestMergeIsDeterministic(t *testing.T) {
	t.Parallel()

	cfg := graph.NewMergeConfig().WithReducer("log", graph.AppendReducer)
	run := func() *graph.State {
		a := graph.NewState(map[string]any{"log": []string{"a"}, "x": 1})
		b := graph.NewState(map[string]any{"log": []string{"b"}, "x": 2})
		m, err := graph.Merge(a, b, cfg)
		require.NoError(t, err)
		return m
	}
	first, second := run(), run()
	assert.Equal(t, first.Args(), second.Args())
	logs, _ := graph.Value[[]string](first, "log")
	assert.Equal(t, []string{"a", "b"}, logs)
}

func TestMergeReduceWithoutReducer(t *testing.T) {
	t.Parallel()

	a := graph.NewState(map[string]any{"k": "x"})
	b := graph.NewState(map[string]any{"k": "y"})
	_, err := graph.Merge(a, b, graph.NewMergeConfig().WithDefault(graph.Reduce))
	assert.Error(t, err)
}

func TestMergeCarriesMetadataAndHistory(t *testing.T) {
	t.Parallel()

	a := graph.NewState(nil)
	a.SetMetadata("m", "a")
	a.AppendHistory(graph.StepRecord{NodeID: "a1", Status: graph.StepCompleted})
	b := graph.NewState(nil)
	b.SetMetadata("m", "b")
	b.AppendHistory(graph.StepRecord{NodeID: "b1", Status: graph.StepCompleted})

	m, err := graph.Merge(a, b, nil)
	require.NoError(t, err)
	v, _ := m.GetMetadata("m")
	assert.Equal(t, "b", v)
	h := m.History()
	require.Len(t, h, 2)
	assert.Equal(t, "a1", h[0].NodeID)
	assert.Equal(t, "b1", h[1].NodeID)
}

func TestAppendReducer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		current  any
		incoming any
		want     any
		wantErr  bool
	}{
		{name: "nil current slice", current: nil, incoming: []int{1}, want: []int{1}},
		{name: "nil current element", current: nil, incoming: "x", want: []string{"x"}},
		{name: "slice plus slice", current: []int{1}, incoming: []int{2, 3}, want: []int{1, 2, 3}},
		{name: "slice plus element", current: []string{"a"}, incoming: "b", want: []string{"a", "b"}},
		{name: "mixed element types", current: []int{1}, incoming: []string{"a"}, want: []any{1, "a"}},
		{name: "not a slice", current: 1, incoming: 2, wantErr: true},
		{name: "wrong element", current: []int{1}, incoming: "a", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := graph.AppendReducer(tt.current, tt.incoming)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppendReducerDoesNotAlias(t *testing.T) {
	t.Parallel()

	base := make([]int, 1, 4)
	base[0] = 1
	first, err := graph.AppendReducer(base, 2)
	require.NoError(t, err)
	second, err := graph.AppendReducer(base, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, first)
	assert.Equal(t, []int{1, 3}, second)
}

func TestNumericReducers(t *testing.T) {
	t.Parallel()

	v, err := graph.SumReducer(2*time.Second, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, v)

	v, err = graph.MaxReducer(1.5, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, err = graph.MinReducer(int64(7), int64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = graph.SumReducer(1, "x")
	assert.Error(t, err)
	_, err = graph.MaxReducer("a", 1)
	assert.Error(t, err)
}

func TestParseMergePolicy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]graph.MergePolicy{
		"":              graph.PreferSecond,
		"prefer_first":  graph.PreferFirst,
		"prefer_second": graph.PreferSecond,
		"reduce":        graph.Reduce,
	} {
		got, err := graph.ParseMergePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		if in != "" {
			assert.Equal(t, in, got.String())
		}
	}
	_, err := graph.ParseMergePolicy("random")
	assert.Error(t, err)
}
