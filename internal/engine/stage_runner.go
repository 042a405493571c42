package engine

import (
	"context"
	"encoding/json"
	"errors"
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

// StageRunner fans one stage's per-item work out to a bounded worker pool.
// Every item yields exactly one StageResult: a validated success, a flagged
// success carrying warnings, or a placeholder after a fault. Faults never
// propagate past the runner; under continue_on_error=false the first fault
// escalates to critical, in-flight items drain, and no new items start.
type StageRunner struct {
	def       *schema.StageDefinition
	proc      stages.Processor
	validator *validation.Validator
	events    EventAppender
	logger    *slog.Logger
}

// NewStageRunner creates a runner for one stage execution.
func NewStageRunner(def *schema.StageDefinition, proc stages.Processor, v *validation.Validator, events EventAppender, logger *slog.Logger) *StageRunner {
	return &StageRunner{def: def, proc: proc, validator: v, events: events, logger: logger}
}

// Outcome is the terminal state of one stage execution.
type Outcome struct {
	Status   schema.StageStatus
	Critical *schema.PipelineError // set when Status is aborted
}

// Run processes every item of the run through this stage. It returns when
// all submitted items have produced their StageResult.
func (sr *StageRunner) Run(ctx context.Context, r *run.Run) Outcome {
	continueOnError := r.Pipeline.Settings.ContinuesOnError()

	var itemTimeout time.Duration
	if sr.def.Timeout != "" {
		if d, err := time.ParseDuration(sr.def.Timeout); err == nil && d > 0 {
			itemTimeout = d
		}
	}

	workers := sr.def.Workers
	if workers <= 0 {
		workers = schema.DefaultWorkers
	}
	pool := NewWorkerPool(workers)
	defer pool.Shutdown()

	// Snapshot predecessor result maps once; they are final by the time
	// this stage starts.
	depResults := make(map[string]map[string]*schema.StageResult, len(sr.def.DependsOn))
	for _, dep := range sr.def.DependsOn {
		depResults[dep] = r.Results.Stage(dep)
	}

	var (
		mu       sync.Mutex
		critical *schema.PipelineError
		flagged  bool
	)

	stageCtx := logging.WithStage(ctx, sr.def.Name)

	for i := range r.Items {
		mu.Lock()
		abort := critical != nil
		mu.Unlock()
		if abort {
			break // drain in-flight work, start nothing new
		}

		item := r.Items[i]
		err := pool.Submit(stageCtx, func(taskCtx context.Context) error {
			res, faultKind, faultMsg, warned := sr.processItem(taskCtx, r, item, depResults, itemTimeout)

			if err := r.Results.Put(res); err != nil {
				// A duplicate write would break the one-result invariant;
				// surface it loudly but do not crash the worker.
				sr.logger.ErrorContext(taskCtx, "duplicate stage result dropped",
					slog.String("item_id", item.ID), slog.String("error", err.Error()))
				return err
			}

			if faultKind == "" {
				if warned {
					mu.Lock()
					flagged = true
					mu.Unlock()
				}
				return nil
			}

			severity := schema.SeverityError
			mu.Lock()
			flagged = true
			first := critical == nil
			if !continueOnError && first {
				severity = schema.SeverityCritical
				critical = schema.NewErrorf(schema.ErrCodeCritical,
					"stage %s aborted: %s", sr.def.Name, faultMsg).
					WithStage(sr.def.Name).WithItem(item.ID)
			}
			mu.Unlock()

			r.Errors.Append(schema.ErrorRecord{
				Stage:    sr.def.Name,
				ItemID:   item.ID,
				Kind:     faultKind,
				Severity: severity,
				Message:  faultMsg,
			})
			sr.emitItemFlagged(taskCtx, r.ID, item.ID, faultKind, faultMsg)
			return nil
		})
		if err != nil {
			// Pool rejected the submission (context cancelled or shutdown).
			// The item still owes a result; take the placeholder path here.
			sr.recordRejected(stageCtx, r, item, err)
		}
	}

	pool.Wait()

	mu.Lock()
	defer mu.Unlock()
	switch {
	case critical != nil:
		return Outcome{Status: schema.StageStatusAborted, Critical: critical}
	case flagged:
		return Outcome{Status: schema.StageStatusPartial}
	default:
		return Outcome{Status: schema.StageStatusCompleted}
	}
}

// processItem runs the processor for one item and classifies the outcome.
// It returns the StageResult to record plus, on a fault, the error kind and
// message. warned reports a degraded-but-usable success.
func (sr *StageRunner) processItem(ctx context.Context, r *run.Run, item schema.Item, depResults map[string]map[string]*schema.StageResult, timeout time.Duration) (res *schema.StageResult, faultKind, faultMsg string, warned bool) {
	itemCtx := logging.WithItemID(ctx, item.ID)
	if timeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(itemCtx, timeout)
		defer cancel()
	}

	deps := make(map[string]*schema.StageResult, len(depResults))
	for dep, byItem := range depResults {
		if dr, ok := byItem[item.ID]; ok {
			deps[dep] = dr
		}
	}

	started := time.Now()
	out, procErr := sr.invoke(itemCtx, item, deps)
	duration := time.Since(started).Milliseconds()

	// Metered usage counts even when the payload is later rejected.
	var usage *schema.UsageRecord
	if out != nil && out.Usage != nil {
		rec := *out.Usage
		rec.Stage = sr.def.Name
		rec.ItemID = item.ID
		rec = r.Usage.Record(rec)
		usage = &rec
	}

	if procErr != nil {
		kind := schema.ErrCodeProcessing
		if errors.Is(procErr, context.DeadlineExceeded) || itemCtx.Err() == context.DeadlineExceeded {
			kind = schema.ErrCodeTimeout
		}
		return sr.placeholderResult(item, kind, duration, usage), kind, procErr.Error(), false
	}

	if verr := sr.validator.ValidatePayload(sr.def, sr.proc.Name(), out.Payload); verr != nil {
		return sr.placeholderResult(item, schema.ErrCodeValidation, duration, usage),
			schema.ErrCodeValidation, verr.Error(), false
	}

	status := schema.ResultSuccess
	if len(out.Warnings) > 0 {
		status = schema.ResultFlagged
		for _, w := range out.Warnings {
			r.Errors.Append(schema.ErrorRecord{
				Stage:    sr.def.Name,
				ItemID:   item.ID,
				Kind:     schema.ErrCodeProcessing,
				Severity: schema.SeverityWarning,
				Message:  w,
			})
		}
		sr.emitItemFlagged(itemCtx, r.ID, item.ID, schema.ErrCodeProcessing, out.Warnings[0])
	}

	return &schema.StageResult{
		ItemID:     item.ID,
		Stage:      sr.def.Name,
		Status:     status,
		Payload:    out.Payload,
		Usage:      usage,
		DurationMs: duration,
	}, "", "", status == schema.ResultFlagged
}

// invoke calls the processor, converting a panic into an error so nothing
// crosses the worker-pool boundary silently.
func (sr *StageRunner) invoke(ctx context.Context, item schema.Item, deps map[string]*schema.StageResult) (out *stages.Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("processor panic: %v", rec)
		}
	}()
	return sr.proc.Process(ctx, item, deps)
}

func (sr *StageRunner) placeholderResult(item schema.Item, kind string, durationMs int64, usage *schema.UsageRecord) *schema.StageResult {
	return &schema.StageResult{
		ItemID:     item.ID,
		Stage:      sr.def.Name,
		Status:     schema.ResultPlaceholder,
		Payload:    sr.proc.Placeholder(item),
		ErrorKind:  kind,
		Usage:      usage,
		DurationMs: durationMs,
	}
}

// recordRejected handles items whose submission the pool refused: they get
// the placeholder result and an error record, preserving the invariant.
func (sr *StageRunner) recordRejected(ctx context.Context, r *run.Run, item schema.Item, cause error) {
	kind := schema.ErrCodeProcessing
	if errors.Is(cause, context.DeadlineExceeded) {
		kind = schema.ErrCodeTimeout
	}
	res := sr.placeholderResult(item, kind, 0, nil)
	if err := r.Results.Put(res); err != nil {
		sr.logger.ErrorContext(ctx, "duplicate stage result dropped",
			slog.String("item_id", item.ID), slog.String("error", err.Error()))
		return
	}
	r.Errors.Append(schema.ErrorRecord{
		Stage:    sr.def.Name,
		ItemID:   item.ID,
		Kind:     kind,
		Severity: schema.SeverityError,
		Message:  fmt.Sprintf("task not started: %s", cause.Error()),
	})
}

func (sr *StageRunner) emitItemFlagged(ctx context.Context, runID, itemID, kind, msg string) {
	if sr.events == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"kind": kind, "message": msg})
	_ = sr.events.AppendEvent(ctx, &store.Event{
		RunID:   runID,
		Stage:   sr.def.Name,
		ItemID:  itemID,
		Type:    schema.EventItemFlagged,
		Payload: payload,
	})
}
