package engine

import (
	"context"
	"sync"

	"github.com/nvidra/photoflow/internal/store"
	"github.com/nvidra/photoflow/pkg/schema"
)

// EventAppender is satisfied by the store's event log; FSMs emit an event on
// every transition. A nil appender disables emission (in-memory runs).
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ValidRunTransitions defines the allowed run state transitions.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:   {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusRunning:   {schema.RunStatusCompleted, schema.RunStatusFailed},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
}

// ValidStageTransitions defines the allowed stage state transitions.
var ValidStageTransitions = map[schema.StageStatus][]schema.StageStatus{
	schema.StageStatusPending:   {schema.StageStatusRunning, schema.StageStatusSkipped},
	schema.StageStatusRunning:   {schema.StageStatusCompleted, schema.StageStatusPartial, schema.StageStatusAborted},
	schema.StageStatusCompleted: {},
	schema.StageStatusPartial:   {},
	schema.StageStatusAborted:   {},
	schema.StageStatusSkipped:   {},
}

// RunFSM manages run lifecycle transitions and emits the matching events.
type RunFSM struct {
	mu       sync.Mutex
	appender EventAppender
}

// NewRunFSM creates a RunFSM emitting events via the given appender.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{appender: appender}
}

// Transition validates and executes a run state transition.
func (f *RunFSM) Transition(ctx context.Context, runID string, from, to schema.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !contains(ValidRunTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID})
	}

	if f.appender != nil {
		if eventType := runEventType(to); eventType != "" {
			event := &store.Event{RunID: runID, Type: eventType}
			if err := f.appender.AppendEvent(ctx, event); err != nil {
				return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
			}
		}
	}
	return nil
}

// StageFSM manages stage lifecycle transitions and emits the matching events.
type StageFSM struct {
	mu       sync.Mutex
	appender EventAppender
}

// NewStageFSM creates a StageFSM emitting events via the given appender.
func NewStageFSM(appender EventAppender) *StageFSM {
	return &StageFSM{appender: appender}
}

// Transition validates and executes a stage state transition.
func (f *StageFSM) Transition(ctx context.Context, runID, stage string, from, to schema.StageStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !contains(ValidStageTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid stage transition: %s -> %s", from, to).
			WithStage(stage).
			WithDetails(map[string]any{"run_id": runID})
	}

	if f.appender != nil {
		if eventType := stageEventType(to); eventType != "" {
			event := &store.Event{RunID: runID, Stage: stage, Type: eventType}
			if err := f.appender.AppendEvent(ctx, event); err != nil {
				return schema.NewErrorf(schema.ErrCodeStore, "emit stage event: %s", err.Error()).
					WithStage(stage).WithCause(err)
			}
		}
	}
	return nil
}

func contains[T comparable](s []T, v T) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		return schema.EventRunStarted
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	default:
		return ""
	}
}

func stageEventType(to schema.StageStatus) string {
	switch to {
	case schema.StageStatusRunning:
		return schema.EventStageStarted
	case schema.StageStatusCompleted:
		return schema.EventStageCompleted
	case schema.StageStatusPartial:
		return schema.EventStagePartial
	case schema.StageStatusAborted:
		return schema.EventStageAborted
	case schema.StageStatusSkipped:
		return schema.EventStageSkipped
	default:
		return ""
	}
}
