// Package service is the run lifecycle layer above the engine: it persists
// runs and their artifacts through the store, produces reports, and resolves
// named pipelines for scheduled and tool-driven submissions.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nvidra/photoflow/internal/engine"
	"github.com/nvidra/photoflow/internal/report"
	"github.com/nvidra/photoflow/internal/run"
	"github.com/nvidra/photoflow/internal/store"
	"github.com/nvidra/photoflow/pkg/schema"
)

// Service submits batches, persists their outcomes, and answers status and
// report queries.
type Service struct {
	engine  *engine.Engine
	store   store.Store
	reports *report.Generator
	source  ItemSource
	logger  *slog.Logger

	mu        sync.RWMutex
	pipelines map[string]*schema.PipelineDefinition
}

// New creates a Service. source may be nil when callers always submit
// explicit item batches.
func New(eng *engine.Engine, st store.Store, source ItemSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:    eng,
		store:     st,
		reports:   report.NewGenerator(),
		source:    source,
		logger:    logger,
		pipelines: make(map[string]*schema.PipelineDefinition),
	}
}

// RegisterPipeline makes a named pipeline definition available for scheduled
// and by-name submissions. A later registration under the same name wins.
func (s *Service) RegisterPipeline(def *schema.PipelineDefinition) {
	s.mu.Lock()
	s.pipelines[def.Name] = def
	s.mu.Unlock()
}

// Pipeline resolves a registered pipeline by name.
func (s *Service) Pipeline(name string) (*schema.PipelineDefinition, error) {
	s.mu.RLock()
	def, ok := s.pipelines[name]
	s.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "pipeline %q not registered", name)
	}
	return def, nil
}

// PipelineNames lists registered pipelines, sorted.
func (s *Service) PipelineNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.pipelines))
	for name := range s.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the pipeline over the item batch, persists the run and all
// its artifacts, and returns the finalized run with its report. The run row
// exists in the store before the first event is appended.
func (s *Service) Run(ctx context.Context, def *schema.PipelineDefinition, items []schema.Item) (*run.Run, *schema.Report, error) {
	r := run.New(def, items)

	now := time.Now().UTC()
	row := &store.Run{
		ID:         r.ID,
		Pipeline:   def.Name,
		Definition: *def,
		Status:     schema.RunStatusPending,
		ItemsTotal: len(items),
		CreatedAt:  now,
		StartedAt:  &r.StartedAt,
		UpdatedAt:  now,
	}
	if err := s.store.CreateRun(ctx, row); err != nil {
		return nil, nil, schema.NewError(schema.ErrCodeStore, "create run").WithCause(err)
	}

	execErr := s.engine.ExecuteRun(ctx, r)

	rep := s.reports.Generate(ctx, r)
	s.persistOutcome(ctx, r, rep)

	return r, rep, execErr
}

// RunByName resolves a registered pipeline, discovers its items from the
// source spec, and runs it.
func (s *Service) RunByName(ctx context.Context, pipeline string, source json.RawMessage) (*run.Run, *schema.Report, error) {
	def, err := s.Pipeline(pipeline)
	if err != nil {
		return nil, nil, err
	}
	if s.source == nil {
		return nil, nil, schema.NewError(schema.ErrCodeConfig, "no item source configured")
	}
	items, err := s.source.Discover(ctx, source)
	if err != nil {
		return nil, nil, err
	}
	return s.Run(ctx, def, items)
}

// RunScheduled satisfies the scheduler's BatchRunner interface.
func (s *Service) RunScheduled(ctx context.Context, job *store.ScheduledJob) error {
	_, _, err := s.RunByName(ctx, job.Pipeline, job.Source)
	return err
}

// RunStatus is the queryable state of a persisted run.
type RunStatus struct {
	Run    *store.Run          `json:"run"`
	Stages []*store.StageState `json:"stages"`
}

// Status returns the persisted run row plus its stage states.
func (s *Service) Status(ctx context.Context, runID string) (*RunStatus, error) {
	row, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	states, err := s.store.ListStageStates(ctx, runID)
	if err != nil {
		return nil, err
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Stage < states[j].Stage })
	return &RunStatus{Run: row, Stages: states}, nil
}

// Report returns the persisted report for a finished run.
func (s *Service) Report(ctx context.Context, runID string) (json.RawMessage, error) {
	row, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(row.Report) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s has no report yet", runID)
	}
	return row.Report, nil
}

// persistOutcome writes the finalized run's artifacts. Persistence failures
// are logged, not raised: the in-memory run already holds the authoritative
// outcome.
func (s *Service) persistOutcome(ctx context.Context, r *run.Run, rep *schema.Report) {
	for _, name := range r.Results.Stages() {
		for _, res := range r.Results.Stage(name) {
			if err := s.store.PutStageResult(ctx, r.ID, res); err != nil {
				s.logger.WarnContext(ctx, "stage result not persisted",
					slog.String("stage", name), slog.String("error", err.Error()))
			}
		}
	}

	for i := range rep.Stages {
		sr := &rep.Stages[i]
		state := &store.StageState{
			RunID:       r.ID,
			Stage:       sr.Name,
			Status:      sr.Status,
			Success:     sr.Success,
			Placeholder: sr.Placeholder,
			Flagged:     sr.Flagged,
			DurationMs:  int64(sr.DurationSeconds * 1000),
		}
		if err := s.store.UpsertStageState(ctx, state); err != nil {
			s.logger.WarnContext(ctx, "stage state not persisted",
				slog.String("stage", sr.Name), slog.String("error", err.Error()))
		}
	}

	for _, rec := range r.Errors.Snapshot() {
		rec := rec
		if err := s.store.AppendErrorRecord(ctx, r.ID, &rec); err != nil {
			s.logger.WarnContext(ctx, "error record not persisted", slog.String("error", err.Error()))
		}
	}

	for _, name := range r.Results.Stages() {
		for _, res := range r.Results.Stage(name) {
			if res.Usage == nil {
				continue
			}
			if err := s.store.AppendUsageRecord(ctx, r.ID, res.Usage); err != nil {
				s.logger.WarnContext(ctx, "usage record not persisted", slog.String("error", err.Error()))
			}
		}
	}

	status := r.Status()
	reportJSON, err := json.Marshal(rep)
	if err != nil {
		s.logger.WarnContext(ctx, "report not marshaled", slog.String("error", err.Error()))
		reportJSON = nil
	}
	update := store.RunUpdate{
		Status:      &status,
		Report:      reportJSON,
		CompletedAt: r.CompletedAt,
	}
	if err := s.store.UpdateRun(ctx, r.ID, update); err != nil {
		s.logger.WarnContext(ctx, "run row not updated", slog.String("error", err.Error()))
	}
}
