package runner

import (
	"fmt"
	"sync"

	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// ShardFilter deterministically partitions test functions across N
// shards: leaves are numbered round-robin in the order they are first
// evaluated, and a leaf runs on shard M when its number modulo N equals
// M. Decisions are memoized by display name, so a function reachable
// both through its suite's unit and through its own single-function
// unit gets one consistent answer and consumes one round-robin slot.
//
// Determinism therefore depends on first evaluations happening in the
// same order in every invocation. Prime walks the sorted description
// trees serially before any parallel execution starts, which pins the
// numbering to the sorted order regardless of scheduling.
type ShardFilter struct {
	index int
	total int

	mu        sync.Mutex
	next      int
	decisions map[string]bool
}

// NewShardFilter creates a filter selecting shard index out of total.
func NewShardFilter(index, total int) (*ShardFilter, error) {
	if total <= 0 {
		return nil, fmt.Errorf("shard count must be positive, got %d", total)
	}
	if index < 0 || index >= total {
		return nil, fmt.Errorf("shard index must be in [0, %d), got %d", total, index)
	}
	return &ShardFilter{
		index:     index,
		total:     total,
		decisions: make(map[string]bool),
	}, nil
}

// ShouldRun reports whether the node belongs to this shard. Grouping
// nodes always pass.
func (f *ShardFilter) ShouldRun(desc *types.Description) bool {
	if !desc.IsLeaf() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if decision, ok := f.decisions[desc.Name]; ok {
		return decision
	}
	decision := f.next%f.total == f.index
	f.next++
	f.decisions[desc.Name] = decision
	return decision
}

// Describe returns a short human-readable description of the filter.
func (f *ShardFilter) Describe() string {
	return fmt.Sprintf("shard %d of %d", f.index, f.total)
}

// Prime walks the given description trees in order, evaluating every
// leaf once. Callers pass the trees sorted by unit display name; the
// walk is serial, so after Prime every decision is already memoized and
// later evaluations from worker goroutines cannot perturb the
// round-robin numbering.
func (f *ShardFilter) Prime(descs []*types.Description) {
	for _, desc := range descs {
		desc.Walk(func(n *types.Description) bool {
			if n.IsLeaf() {
				f.ShouldRun(n)
			}
			return true
		})
	}
}

// Evaluated returns how many distinct leaves the filter has numbered so
// far, mostly for logging.
func (f *ShardFilter) Evaluated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.decisions)
}
