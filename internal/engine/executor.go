// Package engine executes photo-batch pipelines: it parses the stage DAG,
// schedules stages level by level, and fans items out to bounded per-stage
// worker pools. Faults are absorbed per item; only configuration problems
// and critical escalations stop a run.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nvidra/photoflow/internal/logging"
	"github.com/nvidra/photoflow/internal/run"
	"github.com/nvidra/photoflow/internal/stages"
	"github.com/nvidra/photoflow/internal/store"
	"github.com/nvidra/photoflow/internal/validation"
	"github.com/nvidra/photoflow/pkg/schema"
)

// Engine turns a pipeline definition plus an item batch into a finalized Run.
type Engine struct {
	registry  *stages.Registry
	validator *validation.Validator
	events    EventAppender
	logger    *slog.Logger
	runFSM    *RunFSM
	stageFSM  *StageFSM
}

// New creates an Engine. events may be nil for in-memory runs.
func New(registry *stages.Registry, validator *validation.Validator, events EventAppender, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:  registry,
		validator: validator,
		events:    events,
		logger:    logger,
		runFSM:    NewRunFSM(events),
		stageFSM:  NewStageFSM(events),
	}
}

// Execute runs the pipeline over the item batch and returns the finalized
// Run. The returned error is non-nil only for configuration problems caught
// before any item is processed; per-item faults and critical aborts are
// recorded on the Run itself (status FAILED, error registry).
func (e *Engine) Execute(ctx context.Context, def *schema.PipelineDefinition, items []schema.Item) (*run.Run, error) {
	r := run.New(def, items)
	return r, e.ExecuteRun(ctx, r)
}

// ExecuteRun drives an already-created pending Run. Callers that persist run
// state build the Run themselves (so its ID exists in the store before the
// first event) and hand it over here.
func (e *Engine) ExecuteRun(ctx context.Context, r *run.Run) error {
	def := r.Pipeline
	items := r.Items
	ctx = logging.WithRunID(ctx, r.ID)

	e.logger.InfoContext(ctx, "run submitted",
		slog.String("pipeline", def.Name),
		slog.Int("items", len(items)))

	if err := e.validator.ValidateDefinition(def); err != nil {
		return e.failBeforeStart(ctx, r, err)
	}

	dag, err := ParseDAG(def)
	if err != nil {
		return e.failBeforeStart(ctx, r, err)
	}

	// Every enabled stage must resolve to a registered processor before the
	// first item is touched.
	procs := make(map[string]stages.Processor, len(dag.Stages))
	for name, stage := range dag.Stages {
		proc, ok := e.registry.Get(stage.ProcessorName())
		if !ok {
			return e.failBeforeStart(ctx, r, schema.NewErrorf(schema.ErrCodeConfig,
				"stage %s references unknown processor: %s", name, stage.ProcessorName()))
		}
		procs[name] = proc
	}

	e.armCostThreshold(ctx, r)

	e.transitionRun(ctx, r, schema.RunStatusPending, schema.RunStatusRunning)

	for _, name := range dag.Disabled {
		e.transitionStage(ctx, r, name, schema.StageStatusPending, schema.StageStatusSkipped)
	}

	var (
		mu       sync.Mutex
		critical *schema.PipelineError
	)

	for _, level := range dag.Levels {
		var wg sync.WaitGroup
		for _, name := range level {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()

				// Once a critical abort is observed no new stage starts,
				// whether or not it depends on the aborted one. In-flight
				// siblings drain on their own.
				mu.Lock()
				halted := critical != nil
				mu.Unlock()
				if halted {
					e.transitionStage(ctx, r, name, schema.StageStatusPending, schema.StageStatusSkipped)
					return
				}

				e.transitionStage(ctx, r, name, schema.StageStatusPending, schema.StageStatusRunning)
				started := time.Now()

				runner := NewStageRunner(dag.Stages[name], procs[name], e.validator, e.events, e.logger)
				outcome := runner.Run(ctx, r)

				r.SetStageDuration(name, time.Since(started))
				e.transitionStage(ctx, r, name, schema.StageStatusRunning, outcome.Status)

				e.logger.InfoContext(ctx, "stage finished",
					slog.String("stage", name),
					slog.String("status", string(outcome.Status)),
					slog.Duration("duration", time.Since(started)))

				if outcome.Critical != nil {
					mu.Lock()
					if critical == nil {
						critical = outcome.Critical
					}
					mu.Unlock()
				}
			}(name)
		}
		wg.Wait()
	}

	final := schema.RunStatusCompleted
	if critical != nil {
		final = schema.RunStatusFailed
	}
	e.transitionRun(ctx, r, schema.RunStatusRunning, final)
	r.Finalize()

	e.logger.InfoContext(ctx, "run finished",
		slog.String("status", string(final)),
		slog.Duration("duration", r.Duration()),
		slog.Int("errors", r.Errors.Len()))

	return nil
}

// failBeforeStart marks the run FAILED on a configuration error caught
// before the first item was processed.
func (e *Engine) failBeforeStart(ctx context.Context, r *run.Run, cause error) error {
	r.Errors.Append(schema.ErrorRecord{
		Kind:     schema.ErrCodeConfig,
		Severity: schema.SeverityCritical,
		Message:  cause.Error(),
	})
	e.transitionRun(ctx, r, schema.RunStatusPending, schema.RunStatusFailed)
	r.Finalize()
	e.logger.ErrorContext(ctx, "run rejected", slog.String("error", cause.Error()))
	return cause
}

// armCostThreshold wires the advisory cost notification: when cumulative
// cost first exceeds the configured limit, a warning is recorded and an
// event emitted. Processing is never halted.
func (e *Engine) armCostThreshold(ctx context.Context, r *run.Run) {
	limit := r.Pipeline.Settings.CostLimitUSD
	if limit <= 0 {
		return
	}
	r.Usage.SetCostThreshold(limit, func(costUSD, limitUSD float64) {
		msg := fmt.Sprintf("estimated cost $%.4f exceeds limit $%.4f", costUSD, limitUSD)
		r.Errors.Append(schema.ErrorRecord{
			Kind:     schema.EventUsageThresholdCrossed,
			Severity: schema.SeverityWarning,
			Message:  msg,
		})
		e.logger.WarnContext(ctx, "cost threshold crossed",
			slog.Float64("cost_usd", costUSD),
			slog.Float64("limit_usd", limitUSD))
		if e.events != nil {
			payload, _ := json.Marshal(map[string]float64{"cost_usd": costUSD, "limit_usd": limitUSD})
			_ = e.events.AppendEvent(ctx, &store.Event{
				RunID:   r.ID,
				Type:    schema.EventUsageThresholdCrossed,
				Payload: payload,
			})
		}
	})
}

func (e *Engine) transitionRun(ctx context.Context, r *run.Run, from, to schema.RunStatus) {
	if err := e.runFSM.Transition(ctx, r.ID, from, to); err != nil {
		e.logger.WarnContext(ctx, "run transition event not recorded",
			slog.String("to", string(to)), slog.String("error", err.Error()))
	}
	r.SetStatus(to)
}

func (e *Engine) transitionStage(ctx context.Context, r *run.Run, stage string, from, to schema.StageStatus) {
	if err := e.stageFSM.Transition(ctx, r.ID, stage, from, to); err != nil {
		e.logger.WarnContext(ctx, "stage transition event not recorded",
			slog.String("stage", stage), slog.String("to", string(to)), slog.String("error", err.Error()))
	}
	r.SetStageStatus(stage, to)
}
