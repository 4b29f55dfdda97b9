package model

import "fmt"

// ErrorCode tags an EngineError with a stable, machine-readable cause.
type ErrorCode string

// Engine error codes.
const (
	ErrContextCollection ErrorCode = "CONTEXT_COLLECTION_FAILED"
	ErrActionExecution   ErrorCode = "ACTION_EXECUTION_FAILED"
	ErrProvider          ErrorCode = "PROVIDER_ERROR"
	ErrRollback          ErrorCode = "ROLLBACK_FAILED"
)

// EngineError is the error shape surfaced at the engine boundary.
// Rollback failures are never retryable: re-applying an undo against
// an already-mutated buffer is unsafe.
type EngineError struct {
	Code       ErrorCode
	ProviderID string
	ActionID   string
	Retryable  bool
	Err        error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError builds a tagged engine error.
func NewEngineError(code ErrorCode, err error, retryable bool) *EngineError {
	if code == ErrRollback {
		retryable = false
	}
	return &EngineError{Code: code, Err: err, Retryable: retryable}
}
