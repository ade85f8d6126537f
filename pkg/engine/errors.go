package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes.
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeNotADirectory    = "NOT_A_DIRECTORY"
	ErrCodeScriptFailure    = "SCRIPT_FAILURE"
	ErrCodeCycleDetected    = "CYCLE_DETECTED"
	ErrCodeCacheCorrupt     = "CACHE_CORRUPT"
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"
	ErrCodeInvalidArgument  = "INVALID_ARGUMENT"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// EngineError is a coded error raised while building.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Code identifies the kind of failure.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Task is the display name of the task that raised the error, if any.
	Task string `json:"task,omitempty"`

	// Operation is the host function or engine step that failed.
	Operation string `json:"operation,omitempty"`

	// Diagnostic holds the script backtrace for script failures.
	Diagnostic string `json:"diagnostic,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)
	switch {
	case e.Task != "" && e.Operation != "":
		fmt.Fprintf(&sb, " (task=%s, operation=%s)", e.Task, e.Operation)
	case e.Task != "":
		fmt.Fprintf(&sb, " (task=%s)", e.Task)
	case e.Operation != "":
		fmt.Fprintf(&sb, " (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newError(code, message string, err error) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError reports a missing file or directory.
func NewNotFoundError(path string) *EngineError {
	return newError(ErrCodeNotFound, fmt.Sprintf("no such file or directory: %s", path), nil).
		WithDetail("path", path)
}

// NewNotADirectoryError reports a listing of something that is not a directory.
func NewNotADirectoryError(path string) *EngineError {
	return newError(ErrCodeNotADirectory, fmt.Sprintf("not a directory: %s", path), nil).
		WithDetail("path", path)
}

// NewScriptFailure reports an uncaught error inside a build script.
func NewScriptFailure(message, backtrace string, err error) *EngineError {
	e := newError(ErrCodeScriptFailure, message, err)
	e.Diagnostic = backtrace
	return e
}

// NewCycleError reports a task that transitively requested itself. The chain
// starts and ends with the repeated task.
func NewCycleError(chain []string) *EngineError {
	return newError(ErrCodeCycleDetected,
		fmt.Sprintf("dependency cycle: %s", formatCycle(chain)), nil).
		WithDetail("chain", chain)
}

// NewCacheCorruptError reports a persisted entry that could not be decoded.
func NewCacheCorruptError(key string, err error) *EngineError {
	return newError(ErrCodeCacheCorrupt, "cache entry cannot be decoded", err).
		WithDetail("key", key)
}

// NewDependencyFailedError reports that a child task the caller depends on failed.
func NewDependencyFailedError(child string, err error) *EngineError {
	return newError(ErrCodeDependencyFailed, fmt.Sprintf("dependency %s failed", child), err).
		WithDetail("child", child)
}

// NewInvalidArgumentError reports a bad argument passed to a host function.
func NewInvalidArgumentError(message string) *EngineError {
	return newError(ErrCodeInvalidArgument, message, nil)
}

// NewInternalError reports an engine-side failure.
func NewInternalError(message string, err error) *EngineError {
	return newError(ErrCodeInternal, message, err)
}

// WithTask adds task context to an error.
func (e *EngineError) WithTask(task string) *EngineError {
	e.Task = task
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrorCode returns the code of the outermost EngineError in err's chain,
// or ErrCodeInternal when there is none.
func ErrorCode(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// hasCode reports whether any EngineError in err's chain carries code.
func hasCode(err error, code string) bool {
	for err != nil {
		var e *EngineError
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// IsNotFound returns true if err is or wraps a NOT_FOUND error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsNotADirectory returns true if err is or wraps a NOT_A_DIRECTORY error.
func IsNotADirectory(err error) bool {
	return hasCode(err, ErrCodeNotADirectory)
}

// IsScriptFailure returns true if err is or wraps a SCRIPT_FAILURE error.
func IsScriptFailure(err error) bool {
	return hasCode(err, ErrCodeScriptFailure)
}

// IsCycle returns true if err is or wraps a CYCLE_DETECTED error.
func IsCycle(err error) bool {
	return hasCode(err, ErrCodeCycleDetected)
}

// IsCacheCorrupt returns true if err is or wraps a CACHE_CORRUPT error.
func IsCacheCorrupt(err error) bool {
	return hasCode(err, ErrCodeCacheCorrupt)
}

// IsDependencyFailed returns true if err is or wraps a DEPENDENCY_FAILED error.
func IsDependencyFailed(err error) bool {
	return hasCode(err, ErrCodeDependencyFailed)
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}
