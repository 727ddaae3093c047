package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/smallnest/graphrun/store"
	"github.com/smallnest/graphrun/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCheckpointStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.CheckpointStore {
		mr := miniredis.RunT(t)
		s := NewRedisCheckpointStore(RedisOptions{Addr: mr.Addr()})
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestRedisCheckpointStore_Prefix(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisCheckpointStore(RedisOptions{Addr: mr.Addr(), Prefix: "test:"})
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), storetest.NewCheckpoint("e", 1, "n")))

	assert.True(t, mr.Exists("test:checkpoint:e-cp-1"))
	assert.True(t, mr.Exists("test:execution:e:checkpoints"))
	members, err := mr.SMembers("test:executions")
	require.NoError(t, err)
	assert.Equal(t, []string{"e"}, members)
}

func TestRedisCheckpointStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisCheckpointStore(RedisOptions{Addr: mr.Addr(), TTL: time.Minute})
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, storetest.NewCheckpoint("e", 1, "n")))
	assert.Equal(t, time.Minute, mr.TTL("graphrun:checkpoint:e-cp-1"))

	mr.FastForward(2 * time.Minute)

	_, err := s.Load(ctx, "e-cp-1")
	assert.ErrorIs(t, err, store.ErrCheckpointNotFound)

	list, err := s.List(ctx, "e")
	require.NoError(t, err)
	assert.Empty(t, list)
}
