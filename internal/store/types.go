package store

import (
	"encoding/json"
	"time"

	"github.com/nvidra/photoflow/pkg/schema"
)

// Run is the persisted representation of a batch run.
type Run struct {
	ID          string                    `json:"id"`
	Pipeline    string                    `json:"pipeline"`
	Definition  schema.PipelineDefinition `json:"definition"`
	Status      schema.RunStatus          `json:"status"`
	ItemsTotal  int                       `json:"items_total"`
	Report      json.RawMessage           `json:"report,omitempty"`
	Error       json.RawMessage           `json:"error,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// Event is an immutable entry in the run event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Stage     string          `json:"stage,omitempty"`
	ItemID    string          `json:"item_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// StageState is the materialized view of a stage's execution within a run.
type StageState struct {
	RunID       string             `json:"run_id"`
	Stage       string             `json:"stage"`
	Status      schema.StageStatus `json:"status"`
	Success     int                `json:"success"`
	Placeholder int                `json:"placeholder"`
	Flagged     int                `json:"flagged"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	DurationMs  int64              `json:"duration_ms,omitempty"`
}

// StageResultRow is a persisted per-item stage result.
type StageResultRow struct {
	RunID  string             `json:"run_id"`
	Result schema.StageResult `json:"result"`
}

// ErrorRow is a persisted error-registry record.
type ErrorRow struct {
	RunID  string             `json:"run_id"`
	Record schema.ErrorRecord `json:"record"`
}

// UsageRow is a persisted usage record.
type UsageRow struct {
	RunID  string             `json:"run_id"`
	Record schema.UsageRecord `json:"record"`
}

// ScheduledJob is a cron-triggered recurring batch run.
type ScheduledJob struct {
	ID             string          `json:"id"`
	Pipeline       string          `json:"pipeline"`
	CronExpression string          `json:"cron_expression"`
	Source         json.RawMessage `json:"source,omitempty"` // item discovery parameters
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status   *schema.RunStatus `json:"status,omitempty"`
	Pipeline string            `json:"pipeline,omitempty"`
	Since    *time.Time        `json:"since,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	Offset   int               `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status      *schema.RunStatus `json:"status,omitempty"`
	Report      json.RawMessage   `json:"report,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	RunID     string     `json:"run_id,omitempty"`
	Stage     string     `json:"stage,omitempty"`
	EventType string     `json:"event_type,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Pipeline string `json:"pipeline,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}
