package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCheckpointNotFound is returned by Load when no record exists for an id.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint is a persisted snapshot of execution state.
//
// Payload holds the serialized state; its exact layout belongs to the
// producer (graph.State.MarshalBinary) and stores treat it as opaque bytes.
type Checkpoint struct {
	ID          string            `json:"id"`
	ExecutionID string            `json:"execution_id"`
	Sequence    int64             `json:"sequence"`
	NodeID      string            `json:"node_id"`
	Payload     []byte            `json:"payload"`
	SizeBytes   int64             `json:"size_bytes"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Validate checks the fields every store relies on.
func (c *Checkpoint) Validate() error {
	if c == nil {
		return errors.New("checkpoint is nil")
	}
	if c.ID == "" {
		return errors.New("checkpoint id is empty")
	}
	if c.ExecutionID == "" {
		return fmt.Errorf("checkpoint %s: execution id is empty", c.ID)
	}
	if c.Sequence < 0 {
		return fmt.Errorf("checkpoint %s: negative sequence %d", c.ID, c.Sequence)
	}
	return nil
}

// NotFound wraps ErrCheckpointNotFound with the missing id.
func NotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
}

// CheckpointStore defines the interface for checkpoint persistence
type CheckpointStore interface {
	// Save stores a checkpoint, replacing any record with the same ID.
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// Load retrieves a checkpoint by ID
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)

	// List returns all checkpoints for an execution ordered by sequence.
	List(ctx context.Context, executionID string) ([]*Checkpoint, error)

	// Delete removes a checkpoint
	Delete(ctx context.Context, checkpointID string) error

	// Clear removes all checkpoints for an execution
	Clear(ctx context.Context, executionID string) error

	// Executions returns the ids of all executions with at least one checkpoint.
	Executions(ctx context.Context) ([]string, error)
}
