package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/graphrun/log"
	"github.com/smallnest/graphrun/store"
)

// Checkpoint metadata keys.
const (
	MetaTrigger  = "trigger"
	MetaFrontier = "frontier"
	MetaStep     = "step"
	MetaVersion  = "state_version"
	MetaChecksum = "checksum"
)

// Checkpoint triggers recorded under MetaTrigger.
const (
	TriggerManual   = "manual"
	TriggerStart    = "start"
	TriggerInterval = "interval"
	TriggerTime     = "time"
	TriggerCritical = "critical"
	TriggerError    = "error"
	TriggerComplete = "complete"
)

// CheckpointOptions selects when the executor writes checkpoints.
type CheckpointOptions struct {
	// NodeInterval checkpoints after every N completed nodes.
	NodeInterval int
	// TimeInterval checkpoints after a node when this much time passed
	// since the last checkpoint.
	TimeInterval time.Duration
	// CriticalNodes are always checkpointed after they complete.
	CriticalNodes []string
	// OnError checkpoints the state before a failed node so the run can
	// be resumed from it.
	OnError bool
	// OnStart checkpoints the initial state.
	OnStart bool
	// OnComplete checkpoints the final state of a successful run.
	OnComplete bool
	// FailOnCheckpointError makes a failed checkpoint write fail the run.
	FailOnCheckpointError bool
}

// CheckpointManager writes and restores state snapshots in a store.
type CheckpointManager struct {
	store    store.CheckpointStore
	opts     CheckpointOptions
	registry *store.TypeRegistry
	logger   log.Logger
	metrics  *Metrics

	mu        sync.Mutex
	sequences map[string]int64
}

// ManagerOption configures a CheckpointManager.
type ManagerOption func(*CheckpointManager)

// WithManagerLogger sets the logger.
func WithManagerLogger(l log.Logger) ManagerOption {
	return func(m *CheckpointManager) { m.logger = l }
}

// WithTypeRegistry sets the registry used to encode state values.
func WithTypeRegistry(r *store.TypeRegistry) ManagerOption {
	return func(m *CheckpointManager) { m.registry = r }
}

// WithManagerMetrics records checkpoint counters in metrics.
func WithManagerMetrics(metrics *Metrics) ManagerOption {
	return func(m *CheckpointManager) { m.metrics = metrics }
}

// NewCheckpointManager creates a manager backed by st.
func NewCheckpointManager(st store.CheckpointStore, opts CheckpointOptions, mopts ...ManagerOption) *CheckpointManager {
	m := &CheckpointManager{
		store:     st,
		opts:      opts,
		registry:  store.GlobalTypeRegistry(),
		logger:    log.GetDefaultLogger(),
		sequences: make(map[string]int64),
	}
	for _, opt := range mopts {
		opt(m)
	}
	return m
}

// Options returns the trigger configuration.
func (m *CheckpointManager) Options() CheckpointOptions { return m.opts }

// Store returns the backing store.
func (m *CheckpointManager) Store() store.CheckpointStore { return m.store }

// CreateCheckpoint snapshots state for executionID and returns the new id.
func (m *CheckpointManager) CreateCheckpoint(ctx context.Context, executionID string, state *State, nodeID string) (string, error) {
	cp, err := m.save(ctx, saveRequest{
		executionID: executionID,
		state:       state,
		nodeID:      nodeID,
		trigger:     TriggerManual,
	})
	if err != nil {
		return "", err
	}
	return cp.ID, nil
}

type saveRequest struct {
	executionID string
	state       *State
	nodeID      string
	trigger     string
	frontier    []string
	step        int
}

func (m *CheckpointManager) save(ctx context.Context, req saveRequest) (*store.Checkpoint, error) {
	if req.executionID == "" {
		return nil, &CheckpointError{Op: "save", Cause: errors.New("empty execution id")}
	}
	payload, err := MarshalState(req.state, m.registry)
	if err != nil {
		return nil, m.saveFailed(req.executionID, "", err)
	}
	seq, err := m.nextSequence(ctx, req.executionID)
	if err != nil {
		return nil, m.saveFailed(req.executionID, "", err)
	}

	frontier, err := json.Marshal(append([]string{}, req.frontier...))
	if err != nil {
		return nil, m.saveFailed(req.executionID, "", err)
	}
	cp := &store.Checkpoint{
		ID:          uuid.NewString(),
		ExecutionID: req.executionID,
		Sequence:    seq,
		NodeID:      req.nodeID,
		Payload:     payload,
		SizeBytes:   int64(len(payload)),
		CreatedAt:   time.Now().UTC(),
		Metadata: map[string]string{
			MetaTrigger:  req.trigger,
			MetaFrontier: string(frontier),
			MetaStep:     strconv.Itoa(req.step),
			MetaVersion:  strconv.FormatUint(req.state.Version(), 10),
			MetaChecksum: req.state.Checksum(),
		},
	}
	if err := m.store.Save(ctx, cp); err != nil {
		return nil, m.saveFailed(req.executionID, cp.ID, err)
	}

	m.metrics.checkpointSaved(req.trigger)
	m.logger.Debug("checkpoint %s saved (execution=%s seq=%d trigger=%s node=%s)",
		cp.ID, cp.ExecutionID, cp.Sequence, req.trigger, req.nodeID)
	return cp, nil
}

func (m *CheckpointManager) saveFailed(executionID, id string, cause error) error {
	m.metrics.checkpointFailed()
	m.logger.Warn("checkpoint write failed for execution %s: %v", executionID, cause)
	return &CheckpointError{Op: "save", CheckpointID: id, ExecutionID: executionID, Cause: cause}
}

// nextSequence continues numbering from the newest stored checkpoint so
// resumed executions keep increasing sequences.
func (m *CheckpointManager) nextSequence(ctx context.Context, executionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.sequences[executionID]
	if !ok {
		existing, err := m.store.List(ctx, executionID)
		if err != nil {
			return 0, fmt.Errorf("list checkpoints: %w", err)
		}
		for _, cp := range existing {
			seq = max(seq, cp.Sequence)
		}
	}
	seq++
	m.sequences[executionID] = seq
	return seq, nil
}

// Load returns the stored checkpoint record.
func (m *CheckpointManager) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	cp, err := m.store.Load(ctx, checkpointID)
	if err != nil {
		return nil, &CheckpointError{Op: "restore", CheckpointID: checkpointID, Cause: err}
	}
	return cp, nil
}

// RestoreCheckpoint decodes the state saved in checkpoint id. Failures
// match ErrRestoreFailed.
func (m *CheckpointManager) RestoreCheckpoint(ctx context.Context, checkpointID string) (*State, error) {
	cp, err := m.Load(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	return m.restore(cp)
}

func (m *CheckpointManager) restore(cp *store.Checkpoint) (*State, error) {
	state, err := UnmarshalState(cp.Payload, m.registry)
	if err != nil {
		return nil, &CheckpointError{Op: "restore", CheckpointID: cp.ID, ExecutionID: cp.ExecutionID, Cause: err}
	}
	return state, nil
}

// ListCheckpoints returns the checkpoints of an execution by sequence.
func (m *CheckpointManager) ListCheckpoints(ctx context.Context, executionID string) ([]*store.Checkpoint, error) {
	cps, err := m.store.List(ctx, executionID)
	if err != nil {
		return nil, &CheckpointError{Op: "list", ExecutionID: executionID, Cause: err}
	}
	return cps, nil
}

// Latest returns the checkpoint with the highest sequence.
func (m *CheckpointManager) Latest(ctx context.Context, executionID string) (*store.Checkpoint, error) {
	cps, err := m.ListCheckpoints(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, &CheckpointError{Op: "latest", ExecutionID: executionID, Cause: store.ErrCheckpointNotFound}
	}
	return cps[len(cps)-1], nil
}

// Cleanup deletes the checkpoints selected by policy across all
// executions and returns how many were removed.
func (m *CheckpointManager) Cleanup(ctx context.Context, policy store.RetentionPolicy) (int, error) {
	if policy.IsZero() {
		return 0, nil
	}
	execs, err := m.store.Executions(ctx)
	if err != nil {
		return 0, &CheckpointError{Op: "cleanup", Cause: err}
	}
	byExecution := make(map[string][]*store.Checkpoint, len(execs))
	for _, id := range execs {
		cps, err := m.store.List(ctx, id)
		if err != nil {
			return 0, &CheckpointError{Op: "cleanup", ExecutionID: id, Cause: err}
		}
		byExecution[id] = cps
	}

	removed := 0
	deleted := make(map[string]bool)
	for _, id := range policy.Select(byExecution, time.Now()) {
		if err := m.store.Delete(ctx, id); err != nil {
			return removed, &CheckpointError{Op: "cleanup", CheckpointID: id, Cause: err}
		}
		deleted[id] = true
		removed++
	}
	m.forgetEmpty(byExecution, deleted)
	if removed > 0 {
		m.logger.Info("checkpoint cleanup removed %d checkpoint(s)", removed)
	}
	return removed, nil
}

// forgetEmpty drops the cached sequence of executions left without checkpoints.
func (m *CheckpointManager) forgetEmpty(byExecution map[string][]*store.Checkpoint, deleted map[string]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for execID, cps := range byExecution {
		if !slices.ContainsFunc(cps, func(cp *store.Checkpoint) bool { return !deleted[cp.ID] }) {
			delete(m.sequences, execID)
		}
	}
}

// Frontier returns the nodes recorded as pending in cp.
func Frontier(cp *store.Checkpoint) ([]string, error) {
	raw, ok := cp.Metadata[MetaFrontier]
	if !ok || raw == "" {
		return nil, nil
	}
	var frontier []string
	if err := json.Unmarshal([]byte(raw), &frontier); err != nil {
		return nil, fmt.Errorf("checkpoint %s: bad frontier: %w", cp.ID, err)
	}
	return frontier, nil
}

// checkpointTracker applies the automatic triggers for one execution.
type checkpointTracker struct {
	m           *CheckpointManager
	executionID string
	completed   int
	lastAt      time.Time
	lastVersion uint64
	ids         []string
}

func (m *CheckpointManager) tracker(executionID string) *checkpointTracker {
	if m == nil {
		return nil
	}
	return &checkpointTracker{m: m, executionID: executionID, lastAt: time.Now()}
}

// afterNode returns the trigger that fires after nodeID completed, or "".
func (t *checkpointTracker) afterNode(nodeID string) string {
	t.completed++
	opts := t.m.opts
	switch {
	case slices.Contains(opts.CriticalNodes, nodeID):
		return TriggerCritical
	case opts.NodeInterval > 0 && t.completed%opts.NodeInterval == 0:
		return TriggerInterval
	case opts.TimeInterval > 0 && time.Since(t.lastAt) >= opts.TimeInterval:
		return TriggerTime
	}
	return ""
}

// completeDue reports whether the final state still needs a checkpoint.
func (t *checkpointTracker) completeDue(state *State) bool {
	return t.m.opts.OnComplete && (t.lastVersion == 0 || t.lastVersion != state.Version())
}

func (t *checkpointTracker) save(ctx context.Context, req saveRequest) (*store.Checkpoint, error) {
	req.executionID = t.executionID
	cp, err := t.m.save(ctx, req)
	if err != nil {
		return nil, err
	}
	t.lastAt = time.Now()
	t.lastVersion = req.state.Version()
	t.ids = append(t.ids, cp.ID)
	return cp, nil
}
