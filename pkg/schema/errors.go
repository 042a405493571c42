package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeConfig            = "CONFIG_ERROR"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeProcessing        = "PROCESSING_FAULT"
	ErrCodeTimeout           = "TIMEOUT_FAULT"
	ErrCodeCritical          = "CRITICAL_FAULT"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
)

// PipelineError is the structured error type for all photoflow operations.
type PipelineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Stage   string         `json:"stage,omitempty"`
	ItemID  string         `json:"item_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *PipelineError) Error() string {
	switch {
	case e.Stage != "" && e.ItemID != "":
		return fmt.Sprintf("[%s] stage %s item %s: %s", e.Code, e.Stage, e.ItemID, e.Message)
	case e.Stage != "":
		return fmt.Sprintf("[%s] stage %s: %s", e.Code, e.Stage, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewError creates a new PipelineError.
func NewError(code, message string) *PipelineError {
	return &PipelineError{Code: code, Message: message}
}

// NewErrorf creates a new PipelineError with a formatted message.
func NewErrorf(code, format string, args ...any) *PipelineError {
	return &PipelineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStage attaches a stage name to the error.
func (e *PipelineError) WithStage(stage string) *PipelineError {
	e.Stage = stage
	return e
}

// WithItem attaches an item identifier to the error.
func (e *PipelineError) WithItem(itemID string) *PipelineError {
	e.ItemID = itemID
	return e
}

// WithCause attaches an underlying cause.
func (e *PipelineError) WithCause(err error) *PipelineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *PipelineError) WithDetails(details map[string]any) *PipelineError {
	e.Details = details
	return e
}

// IsFatal reports whether the error aborts a run before or during scheduling.
// Per-item faults are never fatal; they are absorbed by the placeholder path.
func (e *PipelineError) IsFatal() bool {
	switch e.Code {
	case ErrCodeConfig, ErrCodeCycleDetected, ErrCodeCritical:
		return true
	}
	return false
}
