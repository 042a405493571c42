package run

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nvidra/photoflow/pkg/schema"
)

// Run is the state of one pipeline run. It is created at submission,
// mutated only by the executor and the stage runners it drives, and
// finalized (read-only) before the report generator reads it.
type Run struct {
	ID       string
	Pipeline *schema.PipelineDefinition
	Items    []schema.Item

	Results *ResultTable
	Errors  *ErrorRegistry
	Usage   *UsageAggregator

	StartedAt   time.Time
	CompletedAt *time.Time

	mu          sync.Mutex
	status      schema.RunStatus
	stageStatus map[string]schema.StageStatus
	stageTiming map[string]time.Duration
}

// NewRunID derives a run identifier from the submission time plus a short
// random suffix to disambiguate same-second submissions.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102-150405"), uuid.NewString()[:8])
}

// New creates a pending Run for the given pipeline and item batch.
func New(def *schema.PipelineDefinition, items []schema.Item) *Run {
	pricing := schema.DefaultPricing
	if def.Settings.Pricing != nil {
		pricing = *def.Settings.Pricing
	}

	now := time.Now().UTC()
	r := &Run{
		ID:          NewRunID(now),
		Pipeline:    def,
		Items:       items,
		Results:     NewResultTable(),
		Errors:      NewErrorRegistry(),
		Usage:       NewUsageAggregator(pricing),
		StartedAt:   now,
		status:      schema.RunStatusPending,
		stageStatus: make(map[string]schema.StageStatus, len(def.Stages)),
		stageTiming: make(map[string]time.Duration, len(def.Stages)),
	}
	for i := range def.Stages {
		r.stageStatus[def.Stages[i].Name] = schema.StageStatusPending
	}
	return r
}

// Status returns the run status.
func (r *Run) Status() schema.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetStatus records a run status transition. Terminal states are final.
func (r *Run) SetStatus(s schema.RunStatus) {
	r.mu.Lock()
	if !r.status.Terminal() {
		r.status = s
	}
	r.mu.Unlock()
}

// StageStatus returns the current status of a stage.
func (r *Run) StageStatus(name string) schema.StageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stageStatus[name]
}

// SetStageStatus records a stage status transition. Terminal states are final.
func (r *Run) SetStageStatus(name string, s schema.StageStatus) {
	r.mu.Lock()
	if !r.stageStatus[name].Terminal() {
		r.stageStatus[name] = s
	}
	r.mu.Unlock()
}

// SetStageDuration records a stage's wall-clock duration.
func (r *Run) SetStageDuration(name string, d time.Duration) {
	r.mu.Lock()
	r.stageTiming[name] = d
	r.mu.Unlock()
}

// StageDuration returns a stage's recorded duration.
func (r *Run) StageDuration(name string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stageTiming[name]
}

// StageStatuses returns a copy of all stage statuses.
func (r *Run) StageStatuses() map[string]schema.StageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]schema.StageStatus, len(r.stageStatus))
	for k, v := range r.stageStatus {
		out[k] = v
	}
	return out
}

// Finalize stamps the completion time. Idempotent.
func (r *Run) Finalize() {
	r.mu.Lock()
	if r.CompletedAt == nil {
		now := time.Now().UTC()
		r.CompletedAt = &now
	}
	r.mu.Unlock()
}

// Duration returns elapsed wall-clock time of the run.
func (r *Run) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}
