package schema

import "encoding/json"

// PipelineDefinition is the JSON-serializable pipeline format: the full set
// of stages plus run-level settings. Callers provide it alongside the item
// batch; it is immutable for the lifetime of a run.
type PipelineDefinition struct {
	Name     string            `json:"name"`
	Stages   []StageDefinition `json:"stages"`
	Settings RunSettings       `json:"settings,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// StageDefinition describes a single stage of the pipeline.
type StageDefinition struct {
	Name      string          `json:"name"`
	Processor string          `json:"processor,omitempty"`  // registered processor name (defaults to Name)
	DependsOn []string        `json:"depends_on,omitempty"` // stage names that must reach a terminal state first
	Workers   int             `json:"workers,omitempty"`    // per-stage worker pool size
	Timeout   string          `json:"timeout,omitempty"`    // per-item deadline (e.g. "30s", "2m")
	Enabled   *bool           `json:"enabled,omitempty"`    // nil means enabled
	Contract  json.RawMessage `json:"contract,omitempty"`   // JSON Schema each per-item payload must satisfy
	Options   json.RawMessage `json:"options,omitempty"`    // processor-specific options (thresholds, rules)
}

// IsEnabled reports whether the stage participates in the run.
func (s *StageDefinition) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ProcessorName returns the processor registered for this stage.
func (s *StageDefinition) ProcessorName() string {
	if s.Processor != "" {
		return s.Processor
	}
	return s.Name
}

// RunSettings are the run-level knobs of a run.
type RunSettings struct {
	// ContinueOnError controls the failure policy: when true (default), a
	// per-item fault flags only that item; when false, the first fault in a
	// stage escalates to critical and the run fails.
	ContinueOnError *bool `json:"continue_on_error,omitempty"`

	// CostLimitUSD is an advisory cumulative cost threshold. Crossing it
	// raises a notification but never halts processing. Zero disables it.
	CostLimitUSD float64 `json:"cost_limit_usd,omitempty"`

	// Pricing overrides the default per-1k-unit metered-call pricing.
	Pricing *UsagePricing `json:"pricing,omitempty"`
}

// ContinueOnError returns the effective failure policy (default true).
func (s RunSettings) ContinuesOnError() bool {
	return s.ContinueOnError == nil || *s.ContinueOnError
}

// DefaultWorkers is the worker pool size for stages that do not set one.
const DefaultWorkers = 4
