// Package storetest holds a conformance suite shared by the checkpoint
// store implementations.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smallnest/graphrun/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) store.CheckpointStore

// NewCheckpoint builds a record with a deterministic payload.
func NewCheckpoint(execID string, seq int64, node string) *store.Checkpoint {
	payload := []byte(fmt.Sprintf(`{"node":%q,"seq":%d}`, node, seq))
	return &store.Checkpoint{
		ID:          fmt.Sprintf("%s-cp-%d", execID, seq),
		ExecutionID: execID,
		Sequence:    seq,
		NodeID:      node,
		Payload:     payload,
		SizeBytes:   int64(len(payload)),
		CreatedAt:   time.Date(2025, 1, 1, 0, 0, int(seq), 0, time.UTC),
		Metadata:    map[string]string{"trigger": "interval"},
	}
}

// Run exercises the CheckpointStore contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("save and load", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cp := NewCheckpoint("exec-1", 1, "fetch")
		require.NoError(t, s.Save(ctx, cp))

		loaded, err := s.Load(ctx, cp.ID)
		require.NoError(t, err)
		assert.Equal(t, cp.ID, loaded.ID)
		assert.Equal(t, cp.ExecutionID, loaded.ExecutionID)
		assert.Equal(t, cp.Sequence, loaded.Sequence)
		assert.Equal(t, cp.NodeID, loaded.NodeID)
		assert.Equal(t, cp.Payload, loaded.Payload)
		assert.Equal(t, cp.SizeBytes, loaded.SizeBytes)
		assert.True(t, cp.CreatedAt.Equal(loaded.CreatedAt))
		assert.Equal(t, "interval", loaded.Metadata["trigger"])
	})

	t.Run("load missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(context.Background(), "nope")
		assert.ErrorIs(t, err, store.ErrCheckpointNotFound)
	})

	t.Run("save rejects invalid", func(t *testing.T) {
		s := newStore(t)
		assert.Error(t, s.Save(context.Background(), &store.Checkpoint{ID: "x"}))
	})

	t.Run("overwrite", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cp := NewCheckpoint("exec-1", 1, "fetch")
		require.NoError(t, s.Save(ctx, cp))
		cp.NodeID = "parse"
		require.NoError(t, s.Save(ctx, cp))

		loaded, err := s.Load(ctx, cp.ID)
		require.NoError(t, err)
		assert.Equal(t, "parse", loaded.NodeID)

		list, err := s.List(ctx, "exec-1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("list ordered by sequence", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, seq := range []int64{3, 1, 2} {
			require.NoError(t, s.Save(ctx, NewCheckpoint("exec-a", seq, "n")))
		}
		require.NoError(t, s.Save(ctx, NewCheckpoint("exec-b", 1, "n")))

		list, err := s.List(ctx, "exec-a")
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, cp := range list {
			assert.Equal(t, int64(i+1), cp.Sequence)
		}

		empty, err := s.List(ctx, "exec-none")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, NewCheckpoint("exec-1", 1, "a")))
		require.NoError(t, s.Save(ctx, NewCheckpoint("exec-1", 2, "b")))
		require.NoError(t, s.Delete(ctx, "exec-1-cp-1"))

		_, err := s.Load(ctx, "exec-1-cp-1")
		assert.ErrorIs(t, err, store.ErrCheckpointNotFound)

		list, err := s.List(ctx, "exec-1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "exec-1-cp-2", list[0].ID)
	})

	t.Run("clear and executions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, NewCheckpoint("exec-1", 1, "a")))
		require.NoError(t, s.Save(ctx, NewCheckpoint("exec-2", 1, "a")))

		execs, err := s.Executions(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"exec-1", "exec-2"}, execs)

		require.NoError(t, s.Clear(ctx, "exec-1"))
		list, err := s.List(ctx, "exec-1")
		require.NoError(t, err)
		assert.Empty(t, list)

		execs, err = s.Executions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"exec-2"}, execs)
	})

	t.Run("concurrent saves", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func(seq int64) {
				defer wg.Done()
				assert.NoError(t, s.Save(ctx, NewCheckpoint("exec-c", seq, "n")))
			}(int64(i + 1))
		}
		wg.Wait()

		list, err := s.List(ctx, "exec-c")
		require.NoError(t, err)
		assert.Len(t, list, 20)
	})
}
