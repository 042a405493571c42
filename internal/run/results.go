package run

import (
	"sync"

	"github.com/nvidra/photoflow/pkg/schema"
)

// ResultTable is the per-run table of StageResults keyed by item × stage.
// Each (item, stage) pair is written exactly once by the single task
// responsible for it; the lock protects only the map insertion.
type ResultTable struct {
	mu      sync.RWMutex
	results map[string]map[string]*schema.StageResult // stage → item → result
}

// NewResultTable creates an empty table.
func NewResultTable() *ResultTable {
	return &ResultTable{
		results: make(map[string]map[string]*schema.StageResult),
	}
}

// Put inserts the result for its (item, stage) pair. A second write for the
// same pair violates the one-result invariant and returns a conflict error.
func (t *ResultTable) Put(res *schema.StageResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	byItem, ok := t.results[res.Stage]
	if !ok {
		byItem = make(map[string]*schema.StageResult)
		t.results[res.Stage] = byItem
	}
	if _, exists := byItem[res.ItemID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"duplicate result for item %s in stage %s", res.ItemID, res.Stage).
			WithStage(res.Stage).WithItem(res.ItemID)
	}
	byItem[res.ItemID] = res
	return nil
}

// Get returns the result for an (item, stage) pair, or nil.
func (t *ResultTable) Get(stage, itemID string) *schema.StageResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.results[stage][itemID]
}

// Stage returns a copy of one stage's results keyed by item ID.
func (t *ResultTable) Stage(stage string) map[string]*schema.StageResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*schema.StageResult, len(t.results[stage]))
	for id, res := range t.results[stage] {
		out[id] = res
	}
	return out
}

// StageCount returns how many results one stage has produced.
func (t *ResultTable) StageCount(stage string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.results[stage])
}

// Stages returns the names of stages with at least one result.
func (t *ResultTable) Stages() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.results))
	for name := range t.results {
		names = append(names, name)
	}
	return names
}
