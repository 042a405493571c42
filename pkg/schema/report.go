package schema

import "time"

// Report is the consolidated output of a run: per-stage outcomes, score
// statistics, the full error log, and the usage summary. It is a pure read
// of the finalized run and can be produced even after a failed termination.
type Report struct {
	RunID       string    `json:"run_id"`
	Pipeline    string    `json:"pipeline"`
	Status      RunStatus `json:"status"`
	GeneratedAt time.Time `json:"generated_at"`

	ItemsTotal      int     `json:"items_total"`
	DurationSeconds float64 `json:"duration_seconds"`

	Stages []StageReport `json:"stages"`

	// ScoreAverages holds the mean numeric score per scoring stage.
	ScoreAverages map[string]float64 `json:"score_averages,omitempty"`
	// ScoreDistributions buckets integer scores (1-5) per scoring stage.
	ScoreDistributions map[string]map[string]int `json:"score_distributions,omitempty"`

	// CategoryDistribution counts items per assigned category, when a
	// categorizing stage ran.
	CategoryDistribution map[string]int `json:"category_distribution,omitempty"`
	// ItemsSelected counts items that passed the filtering stage.
	ItemsSelected int `json:"items_selected"`
	// ItemsFlaggedForReview counts items any stage flagged.
	ItemsFlaggedForReview int `json:"items_flagged_for_review"`

	Errors []ErrorRecord `json:"errors"`
	Usage  UsageTotals   `json:"usage"`
}

// StageReport summarizes one stage's outcome.
type StageReport struct {
	Name            string      `json:"name"`
	Status          StageStatus `json:"status"`
	DurationSeconds float64     `json:"duration_seconds"`
	Success         int         `json:"success"`
	Placeholder     int         `json:"placeholder"`
	Flagged         int         `json:"flagged"`
	SuccessRate     float64     `json:"success_rate"`
}
