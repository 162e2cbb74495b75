package operations

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of a stage error
type ErrorType string

const (
	ErrorTypeConfiguration  ErrorType = "configuration"
	ErrorTypeUsage          ErrorType = "usage"
	ErrorTypePipeline       ErrorType = "pipeline"
	ErrorTypeInvalidStage   ErrorType = "invalid_stage"
	ErrorTypeInvalidState   ErrorType = "invalid_state"
	ErrorTypeNotImplemented ErrorType = "not_implemented"
	ErrorTypeAggregate      ErrorType = "aggregate"
)

// StageError represents a stage-engine error
type StageError struct {
	Type    ErrorType      `json:"type"`
	Stage   string         `json:"stage,omitempty"`
	Phase   string         `json:"phase,omitempty"`
	Message string         `json:"message"`
	Cause   error          `json:"cause,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Error implements the error interface
func (e *StageError) Error() string {
	if e == nil {
		return "unknown stage error"
	}
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	switch {
	case e.Stage != "" && e.Phase != "":
		return fmt.Sprintf("[%s] %s (%s): %s", e.Type, e.Stage, e.Phase, msg)
	case e.Stage != "":
		return fmt.Sprintf("[%s] %s: %s", e.Type, e.Stage, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Type, msg)
}

// Unwrap returns the underlying error
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewConfigurationError reports a configured name that does not resolve to
// a usable stage class.
func NewConfigurationError(path, message string) *StageError {
	return &StageError{
		Type:    ErrorTypeConfiguration,
		Stage:   path,
		Message: message,
		Context: map[string]any{"path": path},
	}
}

// NewUsageError reports a bad operator selection
func NewUsageError(message string) *StageError {
	return &StageError{
		Type:    ErrorTypeUsage,
		Message: message,
	}
}

// NewPipelineError wraps an error raised while running a stage
func NewPipelineError(stage, phase string, cause error) *StageError {
	return &StageError{
		Type:    ErrorTypePipeline,
		Stage:   stage,
		Phase:   phase,
		Message: phase + " failed",
		Cause:   cause,
	}
}

// NewInvalidStageError reports a class that cannot be bound to a runner
func NewInvalidStageError(stage, message string) *StageError {
	return &StageError{
		Type:    ErrorTypeInvalidStage,
		Stage:   stage,
		Message: message,
	}
}

// NewInvalidStateError reports an operation not allowed in the current state
func NewInvalidStateError(stage string, state RunnerState, op string) *StageError {
	return &StageError{
		Type:    ErrorTypeInvalidState,
		Stage:   stage,
		Message: fmt.Sprintf("cannot %s runner in state %s", op, state),
		Context: map[string]any{"state": string(state), "operation": op},
	}
}

// NewNotImplementedError reports a stage lacking a generator
func NewNotImplementedError(stage, message string) *StageError {
	return &StageError{
		Type:    ErrorTypeNotImplemented,
		Stage:   stage,
		Message: message,
	}
}

// NewAggregateError reports a non-zero sum of worker statuses
func NewAggregateError(status, workers int) *StageError {
	return &StageError{
		Type:    ErrorTypeAggregate,
		Message: fmt.Sprintf("workers exited with aggregate status %d", status),
		Context: map[string]any{"status": status, "workers": workers},
	}
}

// GetErrorType returns the type of the first StageError in err's chain
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ""
	}
	var sErr *StageError
	if errors.As(err, &sErr) {
		return sErr.Type
	}
	return ErrorTypePipeline
}

// IsErrorType reports whether err carries a StageError of type t
func IsErrorType(err error, t ErrorType) bool {
	var sErr *StageError
	return errors.As(err, &sErr) && sErr.Type == t
}

// IsConfigurationError reports configuration failures, including missing
// generators.
func IsConfigurationError(err error) bool {
	return IsErrorType(err, ErrorTypeConfiguration) || IsErrorType(err, ErrorTypeNotImplemented)
}

// WrapError attaches stage context to err. A StageError missing its stage
// or phase is copied with them filled in; the original is never modified,
// so sentinel errors shared between runners stay untouched. Anything else
// becomes a pipeline error.
func WrapError(err error, stage, phase string) error {
	if err == nil {
		return nil
	}
	var sErr *StageError
	if errors.As(err, &sErr) {
		if sErr.Stage != "" && sErr.Phase != "" {
			return err
		}
		wrapped := *sErr
		if wrapped.Stage == "" {
			wrapped.Stage = stage
		}
		if wrapped.Phase == "" {
			wrapped.Phase = phase
		}
		return &wrapped
	}
	return NewPipelineError(stage, phase, err)
}

// ExitCodeFor maps an invocation error to a process exit status
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case IsErrorType(err, ErrorTypeUsage):
		return ExitUsage
	}
	return ExitFailure
}
