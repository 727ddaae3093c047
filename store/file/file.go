package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/smallnest/graphrun/store"
)

const ext = ".json"

// FileCheckpointStore writes one JSON file per checkpoint into a directory.
type FileCheckpointStore struct {
	mu  sync.RWMutex
	dir string
}

var _ store.CheckpointStore = (*FileCheckpointStore)(nil)

// NewFileCheckpointStore creates dir if needed and returns a store rooted there.
func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	if dir == "" {
		return nil, errors.New("checkpoint directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileCheckpointStore{dir: dir}, nil
}

// Dir returns the root directory.
func (s *FileCheckpointStore) Dir() string {
	return s.dir
}

func (s *FileCheckpointStore) path(id string) string {
	return filepath.Join(s.dir, url.PathEscape(id)+ext)
}

// Save writes the checkpoint atomically via a temp file and rename.
func (s *FileCheckpointStore) Save(_ context.Context, checkpoint *store.Checkpoint) error {
	if err := checkpoint.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".cp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(checkpoint.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	return nil
}

// Load retrieves a checkpoint by ID
func (s *FileCheckpointStore) Load(_ context.Context, checkpointID string) (*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(s.path(checkpointID), checkpointID)
}

func (s *FileCheckpointStore) read(path, id string) (*store.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, store.NotFound(id)
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp store.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// all reads every checkpoint in the directory. Callers hold the lock.
func (s *FileCheckpointStore) all() ([]*store.Checkpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var out []*store.Checkpoint
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		cp, err := s.read(filepath.Join(s.dir, name), name)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// List returns the execution's checkpoints ordered by sequence.
func (s *FileCheckpointStore) List(_ context.Context, executionID string) ([]*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.all()
	if err != nil {
		return nil, err
	}
	result := make([]*store.Checkpoint, 0)
	for _, cp := range all {
		if cp.ExecutionID == executionID {
			result = append(result, cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Sequence < result[j].Sequence })
	return result, nil
}

// Delete removes a checkpoint; deleting a missing checkpoint is not an error.
func (s *FileCheckpointStore) Delete(_ context.Context, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(checkpointID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Clear removes all checkpoints for an execution
func (s *FileCheckpointStore) Clear(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.all()
	if err != nil {
		return err
	}
	for _, cp := range all {
		if cp.ExecutionID != executionID {
			continue
		}
		if err := os.Remove(s.path(cp.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to clear checkpoint %s: %w", cp.ID, err)
		}
	}
	return nil
}

// Executions returns execution ids in sorted order.
func (s *FileCheckpointStore) Executions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.all()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, cp := range all {
		seen[cp.ExecutionID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
