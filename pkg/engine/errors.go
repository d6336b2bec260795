package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, resource contention, a step exceeding its timeout.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	// Should be retried with a longer backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassPermanent indicates a non-recoverable error.
	// A permanent step failure triggers compensation.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassStructural indicates an invalid request or catalog shape.
	// Rejected before any step runs, never retried.
	ErrorClassStructural ErrorClass = "structural"

	// ErrorClassConflict indicates divergence that needs an operator decision.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassBusy indicates the target is locked by another job.
	ErrorClassBusy ErrorClass = "busy"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the component, step or path that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Class, e.Message)
	if e.Resource != "" && e.Operation != "" {
		fmt.Fprintf(&sb, " (resource=%s, operation=%s)", e.Resource, e.Operation)
	} else if e.Resource != "" {
		fmt.Fprintf(&sb, " (resource=%s)", e.Resource)
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
// Two engine errors match when class and code agree.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Message: message,
		Err:     err,
	}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return newError(ErrorClassTransient, message, err)
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return newError(ErrorClassThrottled, message, err)
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, message, err)
}

// NewStructuralError creates a new structural error.
func NewStructuralError(message string, err error) *EngineError {
	return newError(ErrorClassStructural, message, err)
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return newError(ErrorClassConflict, message, err)
}

// NewBusyError creates a new busy error.
func NewBusyError(message string, err error) *EngineError {
	return newError(ErrorClassBusy, message, err)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
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

// ClassOf returns the class of the first EngineError in the chain.
// Unclassified errors are treated as permanent.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassPermanent
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	return err != nil && ClassOf(err) == ErrorClassTransient
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	return err != nil && ClassOf(err) == ErrorClassThrottled
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	return err != nil && ClassOf(err) == ErrorClassPermanent
}

// IsStructural returns true if the error is classified as structural.
func IsStructural(err error) bool {
	return err != nil && ClassOf(err) == ErrorClassStructural
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return err != nil && ClassOf(err) == ErrorClassConflict
}

// IsBusy returns true if the error is classified as busy.
func IsBusy(err error) bool {
	return err != nil && ClassOf(err) == ErrorClassBusy
}

// IsRetryable returns true if the error can be retried.
// Only transient and throttled errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}

// Common error codes.
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeTimeout              = "TIMEOUT"
	ErrCodeInternal             = "INTERNAL_ERROR"
	ErrCodeActionFailed         = "ACTION_FAILED"
	ErrCodeDependencyFailed     = "DEPENDENCY_FAILED"
	ErrCodeCancelled            = "CANCELLED"
	ErrCodeCycleDetected        = "CYCLE_DETECTED"
	ErrCodeUnresolvedDependency = "UNRESOLVED_DEPENDENCY"
	ErrCodeUnknownComponent     = "UNKNOWN_COMPONENT"
	ErrCodeOrphanReference      = "ORPHAN_REFERENCE"
	ErrCodeCircularDependency   = "CIRCULAR_DEPENDENCY"
	ErrCodeChecksumMismatch     = "CHECKSUM_MISMATCH"
	ErrCodeDuplicatePosition    = "DUPLICATE_POSITION"
	ErrCodeTargetBusy           = "TARGET_BUSY"
	ErrCodePromptMismatch       = "PROMPT_MISMATCH"
	ErrCodeSyncConflict         = "SYNC_CONFLICT"
	ErrCodeCompensationFailed   = "COMPENSATION_FAILED"
	ErrCodePolicyViolation      = "POLICY_VIOLATION"
)

// Sentinel errors for errors.Is matching on class and code.
var (
	ErrCycleDetected        = &EngineError{Class: ErrorClassStructural, Code: ErrCodeCycleDetected}
	ErrUnresolvedDependency = &EngineError{Class: ErrorClassStructural, Code: ErrCodeUnresolvedDependency}
	ErrUnknownComponent     = &EngineError{Class: ErrorClassStructural, Code: ErrCodeUnknownComponent}
	ErrOrphanReference      = &EngineError{Class: ErrorClassStructural, Code: ErrCodeOrphanReference}
	ErrCircularDependency   = &EngineError{Class: ErrorClassStructural, Code: ErrCodeCircularDependency}
	ErrChecksumMismatch     = &EngineError{Class: ErrorClassStructural, Code: ErrCodeChecksumMismatch}
	ErrTargetBusy           = &EngineError{Class: ErrorClassBusy, Code: ErrCodeTargetBusy}
	ErrPromptMismatch       = &EngineError{Class: ErrorClassPermanent, Code: ErrCodePromptMismatch}
	ErrPolicyViolation      = &EngineError{Class: ErrorClassStructural, Code: ErrCodePolicyViolation}
)

// JobFailure is returned when a job ends in a failed or compensated state.
// It names the failing step, the cause and the compensation outcome.
type JobFailure struct {
	JobID        string
	FailedStep   string
	Cause        error
	Compensation CompensationReport
}

// Error implements the error interface.
func (f *JobFailure) Error() string {
	var sb strings.Builder
	if f.FailedStep != "" {
		fmt.Fprintf(&sb, "job %s failed at step %s", f.JobID, f.FailedStep)
	} else {
		fmt.Fprintf(&sb, "job %s aborted", f.JobID)
	}
	if f.Cause != nil {
		fmt.Fprintf(&sb, ": %v", f.Cause)
	}
	fmt.Fprintf(&sb, " (compensated=%d", len(f.Compensation.Compensated))
	if n := len(f.Compensation.Uncompensated); n > 0 {
		fmt.Fprintf(&sb, ", uncompensated=%d: %s", n, strings.Join(f.Compensation.Uncompensated, ", "))
	}
	sb.WriteString(")")
	return sb.String()
}

// Unwrap returns the failing step's cause.
func (f *JobFailure) Unwrap() error {
	return f.Cause
}
