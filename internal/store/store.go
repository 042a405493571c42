// Package store persists runs, their event logs, and run artifacts (results,
// errors, usage) in an embedded libSQL database.
package store

import (
	"context"

	"github.com/nvidra/photoflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Stage state (materialized view)
	UpsertStageState(ctx context.Context, state *StageState) error
	GetStageState(ctx context.Context, runID, stage string) (*StageState, error)
	ListStageStates(ctx context.Context, runID string) ([]*StageState, error)

	// Run artifacts
	PutStageResult(ctx context.Context, runID string, res *schema.StageResult) error
	ListStageResults(ctx context.Context, runID, stage string) ([]*schema.StageResult, error)
	AppendErrorRecord(ctx context.Context, runID string, rec *schema.ErrorRecord) error
	ListErrorRecords(ctx context.Context, runID string) ([]*schema.ErrorRecord, error)
	AppendUsageRecord(ctx context.Context, runID string, rec *schema.UsageRecord) error
	ListUsageRecords(ctx context.Context, runID string) ([]*schema.UsageRecord, error)

	// Scheduled jobs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
