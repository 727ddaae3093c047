package store

import (
	"sort"
	"time"
)

// RetentionPolicy bounds how many checkpoints are kept. Zero values disable
// the corresponding rule.
type RetentionPolicy struct {
	// MaxAge removes checkpoints older than this.
	MaxAge time.Duration `yaml:"max_age" mapstructure:"max_age"`
	// MaxCheckpointsPerExecution keeps only the newest N per execution.
	MaxCheckpointsPerExecution int `yaml:"max_per_execution" mapstructure:"max_per_execution"`
	// MaxTotalBytes evicts the oldest checkpoints across all executions
	// until the remaining payload size fits.
	MaxTotalBytes int64 `yaml:"max_total_bytes" mapstructure:"max_total_bytes"`
}

// IsZero reports whether the policy removes nothing.
func (p RetentionPolicy) IsZero() bool {
	return p.MaxAge <= 0 && p.MaxCheckpointsPerExecution <= 0 && p.MaxTotalBytes <= 0
}

// Select returns the ids of checkpoints the policy evicts, given every
// checkpoint grouped by execution. Rules apply in order: age, per-execution
// count, total bytes.
func (p RetentionPolicy) Select(byExecution map[string][]*Checkpoint, now time.Time) []string {
	removed := make(map[string]bool)
	var order []string
	remove := func(id string) {
		if !removed[id] {
			removed[id] = true
			order = append(order, id)
		}
	}

	execIDs := make([]string, 0, len(byExecution))
	for id := range byExecution {
		execIDs = append(execIDs, id)
	}
	sort.Strings(execIDs)

	var survivors []*Checkpoint
	for _, execID := range execIDs {
		cps := append([]*Checkpoint(nil), byExecution[execID]...)
		sort.SliceStable(cps, func(i, j int) bool { return cps[i].Sequence < cps[j].Sequence })

		var kept []*Checkpoint
		for _, cp := range cps {
			if p.MaxAge > 0 && now.Sub(cp.CreatedAt) > p.MaxAge {
				remove(cp.ID)
				continue
			}
			kept = append(kept, cp)
		}

		if n := p.MaxCheckpointsPerExecution; n > 0 && len(kept) > n {
			for _, cp := range kept[:len(kept)-n] {
				remove(cp.ID)
			}
			kept = kept[len(kept)-n:]
		}
		survivors = append(survivors, kept...)
	}

	if p.MaxTotalBytes > 0 {
		sort.SliceStable(survivors, func(i, j int) bool {
			if survivors[i].CreatedAt.Equal(survivors[j].CreatedAt) {
				return survivors[i].Sequence < survivors[j].Sequence
			}
			return survivors[i].CreatedAt.Before(survivors[j].CreatedAt)
		})
		var total int64
		for _, cp := range survivors {
			total += cp.SizeBytes
		}
		for _, cp := range survivors {
			if total <= p.MaxTotalBytes {
				break
			}
			remove(cp.ID)
			total -= cp.SizeBytes
		}
	}

	return order
}
