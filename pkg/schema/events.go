package schema

// Event type constants for the run event log.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"

	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventStagePartial   = "stage_partial"
	EventStageAborted   = "stage_aborted"
	EventStageSkipped   = "stage_skipped"

	EventItemFlagged           = "item_flagged"
	EventUsageThresholdCrossed = "usage_threshold_crossed"
)

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the run status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// StageStatus represents the lifecycle state of a stage within a run.
type StageStatus string

const (
	StageStatusPending StageStatus = "pending"
	StageStatusRunning StageStatus = "running"
	// StageStatusCompleted means every item succeeded.
	StageStatusCompleted StageStatus = "completed"
	// StageStatusPartial means the stage finished with some items flagged.
	StageStatusPartial StageStatus = "partial"
	// StageStatusAborted means a critical fault stopped the run at this stage.
	StageStatusAborted StageStatus = "aborted"
	// StageStatusSkipped means a dependency aborted before this stage started.
	StageStatusSkipped StageStatus = "skipped"
)

// Terminal reports whether the stage status is final.
func (s StageStatus) Terminal() bool {
	switch s {
	case StageStatusCompleted, StageStatusPartial, StageStatusAborted, StageStatusSkipped:
		return true
	}
	return false
}
