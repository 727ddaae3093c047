package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/graphrun/store"
)

// RedisCheckpointStore implements store.CheckpointStore using Redis.
//
// Layout:
//
//	<prefix>checkpoint:<id>                  JSON record
//	<prefix>execution:<id>:checkpoints       ZSET of checkpoint ids scored by sequence
//	<prefix>executions                       SET of execution ids
type RedisCheckpointStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ store.CheckpointStore = (*RedisCheckpointStore)(nil)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	Prefix   string        `yaml:"prefix" mapstructure:"prefix"` // default "graphrun:"
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`       // 0 means no expiration
}

// NewRedisCheckpointStore creates a new Redis checkpoint store
func NewRedisCheckpointStore(opts RedisOptions) *RedisCheckpointStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisCheckpointStoreWithClient(client, opts.Prefix, opts.TTL)
}

// NewRedisCheckpointStoreWithClient wraps an existing client.
func NewRedisCheckpointStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCheckpointStore {
	if prefix == "" {
		prefix = "graphrun:"
	}
	return &RedisCheckpointStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Close closes the underlying client.
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}

func (s *RedisCheckpointStore) checkpointKey(id string) string {
	return fmt.Sprintf("%scheckpoint:%s", s.prefix, id)
}

func (s *RedisCheckpointStore) executionKey(id string) string {
	return fmt.Sprintf("%sexecution:%s:checkpoints", s.prefix, id)
}

func (s *RedisCheckpointStore) executionsKey() string {
	return s.prefix + "executions"
}

// Save stores a checkpoint and indexes it under its execution.
func (s *RedisCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	if err := checkpoint.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	execKey := s.executionKey(checkpoint.ExecutionID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.checkpointKey(checkpoint.ID), data, s.ttl)
	pipe.ZAdd(ctx, execKey, redis.Z{Score: float64(checkpoint.Sequence), Member: checkpoint.ID})
	pipe.SAdd(ctx, s.executionsKey(), checkpoint.ExecutionID)
	if s.ttl > 0 {
		pipe.Expire(ctx, execKey, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	return nil
}

// Load retrieves a checkpoint by ID
func (s *RedisCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(checkpointID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.NotFound(checkpointID)
		}
		return nil, fmt.Errorf("failed to load checkpoint from redis: %w", err)
	}

	var checkpoint store.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// List returns the execution's checkpoints ordered by sequence. Index
// entries whose record expired are skipped.
func (s *RedisCheckpointStore) List(ctx context.Context, executionID string) ([]*store.Checkpoint, error) {
	ids, err := s.client.ZRange(ctx, s.executionKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints for execution %s: %w", executionID, err)
	}

	checkpoints := make([]*store.Checkpoint, 0, len(ids))
	if len(ids) == 0 {
		return checkpoints, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.checkpointKey(id)
	}

	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkpoints: %w", err)
	}

	for i, result := range results {
		str, ok := result.(string)
		if !ok {
			continue
		}
		var cp store.Checkpoint
		if err := json.Unmarshal([]byte(str), &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint %s: %w", ids[i], err)
		}
		checkpoints = append(checkpoints, &cp)
	}
	return checkpoints, nil
}

// Delete removes a checkpoint; deleting a missing checkpoint is not an error.
func (s *RedisCheckpointStore) Delete(ctx context.Context, checkpointID string) error {
	checkpoint, err := s.Load(ctx, checkpointID)
	if err != nil {
		if errors.Is(err, store.ErrCheckpointNotFound) {
			return nil
		}
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.checkpointKey(checkpointID))
	pipe.ZRem(ctx, s.executionKey(checkpoint.ExecutionID), checkpointID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Clear removes all checkpoints for an execution
func (s *RedisCheckpointStore) Clear(ctx context.Context, executionID string) error {
	execKey := s.executionKey(executionID)
	ids, err := s.client.ZRange(ctx, execKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to get checkpoints for clearing: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.checkpointKey(id))
	}
	pipe.Del(ctx, execKey)
	pipe.SRem(ctx, s.executionsKey(), executionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

// Executions returns sorted execution ids whose index is non-empty.
func (s *RedisCheckpointStore) Executions(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.executionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	pipe := s.client.Pipeline()
	cards := make([]*redis.IntCmd, len(members))
	for i, id := range members {
		cards[i] = pipe.ZCard(ctx, s.executionKey(id))
	}
	if len(members) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to count checkpoints: %w", err)
		}
	}

	ids := make([]string, 0, len(members))
	for i, id := range members {
		if cards[i].Val() > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
