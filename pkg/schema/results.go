package schema

import (
	"encoding/json"
	"time"
)

// Item is one unit of work flowing through the pipeline: an opaque
// identifier plus a source reference. Immutable once enqueued.
type Item struct {
	ID     string `json:"id"`
	Source string `json:"source,omitempty"`
}

// ResultStatus classifies a StageResult.
type ResultStatus string

const (
	// ResultSuccess is a validated success payload.
	ResultSuccess ResultStatus = "success"
	// ResultPlaceholder is a substituted default payload after a fault.
	ResultPlaceholder ResultStatus = "placeholder"
	// ResultFlagged is a real payload carrying degraded-but-usable output.
	ResultFlagged ResultStatus = "flagged"
)

// StageResult is the outcome for one (item, stage) pair. Created exactly
// once when the pair finishes processing; never mutated afterward.
type StageResult struct {
	ItemID     string          `json:"item_id"`
	Stage      string          `json:"stage"`
	Status     ResultStatus    `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"` // error code when not success
	Usage      *UsageRecord    `json:"usage,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

// Flagged reports whether the item carries a flag forward from this stage.
func (r *StageResult) Flagged() bool {
	return r.Status != ResultSuccess
}

// ErrorSeverity grades ErrorRecord entries.
type ErrorSeverity string

const (
	SeverityInfo     ErrorSeverity = "info"
	SeverityWarning  ErrorSeverity = "warning"
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorRecord is one immutable entry in the Error Registry.
type ErrorRecord struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Stage     string        `json:"stage"`
	ItemID    string        `json:"item_id,omitempty"`
	Kind      string        `json:"kind"` // error code (VALIDATION_ERROR, PROCESSING_FAULT, ...)
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
}

// UsageRecord accounts one metered external call.
type UsageRecord struct {
	Stage       string  `json:"stage"`
	ItemID      string  `json:"item_id"`
	InputUnits  int64   `json:"input_units"`
	OutputUnits int64   `json:"output_units"`
	CostUSD     float64 `json:"cost_usd"`
}

// UsagePricing is per-1k-unit pricing for metered calls.
type UsagePricing struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// DefaultPricing matches the Gemini 1.5 Flash rates the original deployment
// was billed at.
var DefaultPricing = UsagePricing{
	InputPer1K:  0.000075,
	OutputPer1K: 0.0003,
}

// Cost derives the dollar cost of a call under this pricing.
func (p UsagePricing) Cost(inputUnits, outputUnits int64) float64 {
	return float64(inputUnits)/1000*p.InputPer1K + float64(outputUnits)/1000*p.OutputPer1K
}

// UsageSummary is a point-in-time aggregate of usage records.
type UsageSummary struct {
	Calls         int64   `json:"calls"`
	InputUnits    int64   `json:"input_units"`
	OutputUnits   int64   `json:"output_units"`
	InputCostUSD  float64 `json:"input_cost_usd"`
	OutputCostUSD float64 `json:"output_cost_usd"`
	CostUSD       float64 `json:"cost_usd"`
}

// UsageTotals holds the global summary plus per-stage breakdowns.
type UsageTotals struct {
	Total    UsageSummary            `json:"total"`
	PerStage map[string]UsageSummary `json:"per_stage,omitempty"`
	Pricing  UsagePricing            `json:"pricing"`
}
