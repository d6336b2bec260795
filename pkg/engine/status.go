package engine

import (
	"encoding/json"
	"fmt"
)

// JobStatus represents the overall status of a provisioning job.
type JobStatus string

const (
	// JobStatusPending indicates the job has been accepted but not yet started.
	JobStatusPending JobStatus = "pending"

	// JobStatusRunning indicates the job is currently executing.
	JobStatusRunning JobStatus = "running"

	// JobStatusSucceeded indicates every step of the job succeeded.
	JobStatusSucceeded JobStatus = "succeeded"

	// JobStatusFailed indicates a step failed permanently.
	JobStatusFailed JobStatus = "failed"

	// JobStatusCompensated indicates the job was cancelled and fully rolled back.
	JobStatusCompensated JobStatus = "compensated"
)

// IsTerminal returns true if the job status represents a final state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCompensated
}

// IsActive returns true if the job is currently active (pending or running).
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Validate checks if the job status is valid.
func (s JobStatus) Validate() error {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusSucceeded,
		JobStatusFailed, JobStatusCompensated:
		return nil
	default:
		return fmt.Errorf("invalid job status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = JobStatus(str)
	return s.Validate()
}

// StepStatus represents the status of a provisioning step.
type StepStatus string

const (
	// StepStatusPending indicates the step has not started.
	StepStatusPending StepStatus = "pending"

	// StepStatusRunning indicates the forward action is executing.
	StepStatusRunning StepStatus = "running"

	// StepStatusSucceeded indicates the forward action completed.
	StepStatusSucceeded StepStatus = "succeeded"

	// StepStatusFailed indicates the forward action failed permanently.
	StepStatusFailed StepStatus = "failed"

	// StepStatusCompensating indicates the compensation action is executing
	// or failed and left the step in an unknown state.
	StepStatusCompensating StepStatus = "compensating"

	// StepStatusCompensated indicates the step's effect has been undone.
	StepStatusCompensated StepStatus = "compensated"
)

// stepTransitions lists the allowed forward transitions for a step.
var stepTransitions = map[StepStatus][]StepStatus{
	StepStatusPending:      {StepStatusRunning},
	StepStatusRunning:      {StepStatusSucceeded, StepStatusFailed},
	StepStatusSucceeded:    {StepStatusCompensating},
	StepStatusCompensating: {StepStatusCompensated},
}

// CanTransition reports whether a step may move from one status to another.
// Steps satisfied by a fingerprint hit still pass through running.
func CanTransition(from, to StepStatus) bool {
	for _, next := range stepTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the step status represents a final state.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusSucceeded || s == StepStatusFailed || s == StepStatusCompensated
}

// Validate checks if the step status is valid.
func (s StepStatus) Validate() error {
	switch s {
	case StepStatusPending, StepStatusRunning, StepStatusSucceeded,
		StepStatusFailed, StepStatusCompensating, StepStatusCompensated:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// StepKind represents what a step does for its component.
type StepKind string

const (
	// StepKindInstall runs the component's install action.
	StepKindInstall StepKind = "install"

	// StepKindSync synchronizes library assets into the target.
	StepKindSync StepKind = "sync"

	// StepKindRender renders a composition into the target.
	StepKindRender StepKind = "render"

	// StepKindValidate validates a composition catalog.
	StepKindValidate StepKind = "validate"
)

// Validate checks if the step kind is valid.
func (k StepKind) Validate() error {
	switch k {
	case StepKindInstall, StepKindSync, StepKindRender, StepKindValidate:
		return nil
	default:
		return fmt.Errorf("invalid step kind: %s", k)
	}
}

// FailurePolicy controls what happens to independent branches after a permanent failure.
type FailurePolicy string

const (
	// FailurePolicyAbort stops dispatching and compensates every succeeded step.
	FailurePolicyAbort FailurePolicy = "abort"

	// FailurePolicyDegrade lets steps without a shared dependency path keep running
	// and compensates only the failed step's branch.
	FailurePolicyDegrade FailurePolicy = "degrade"
)

// Validate checks if the failure policy is valid.
func (p FailurePolicy) Validate() error {
	switch p {
	case FailurePolicyAbort, FailurePolicyDegrade:
		return nil
	default:
		return fmt.Errorf("invalid failure policy: %s", p)
	}
}
