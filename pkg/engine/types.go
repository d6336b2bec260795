package engine

import (
	"time"
)

// Component is a unit a provisioning request can select.
type Component struct {
	// ID is the unique identifier for this component.
	ID string `json:"id" yaml:"id"`

	// Type selects the action variant that installs and compensates the component
	// (e.g., "command", "file", "installer", "wasm", "noop").
	Type string `json:"type" yaml:"type"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Dependencies lists component IDs that must be installed first.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// Config is the component's own configuration. It overrides request configuration.
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`

	// Enabled marks the component as installable. A disabled component is never planned.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Skip keeps the component in the ordering but plans no steps for it.
	Skip bool `json:"skip,omitempty" yaml:"skip,omitempty"`

	// Library names a reuse library to synchronize after install, if any.
	Library string `json:"library,omitempty" yaml:"library,omitempty"`

	// Composition names a composition to validate and render after install, if any.
	Composition string `json:"composition,omitempty" yaml:"composition,omitempty"`
}

// ActionDescriptor describes a forward or compensating action of a step.
type ActionDescriptor struct {
	// Type is the action variant.
	Type string `json:"type"`

	// Reference is a variant-specific pointer (library id, composition id, command).
	Reference string `json:"reference,omitempty"`
}

// Step is one unit of work in a provisioning job.
type Step struct {
	// ID is the unique identifier for this step.
	ID string `json:"id"`

	// JobID is the parent job.
	JobID string `json:"job_id"`

	// ComponentID is the component this step belongs to.
	ComponentID string `json:"component_id"`

	// Kind is what the step does for the component.
	Kind StepKind `json:"kind"`

	// Sequence is the step's position in the plan.
	Sequence int `json:"sequence"`

	// Dependencies lists step IDs that must succeed before this step starts.
	Dependencies []string `json:"dependencies,omitempty"`

	// Forward describes the forward action.
	Forward ActionDescriptor `json:"forward"`

	// Compensate describes the compensating action.
	Compensate ActionDescriptor `json:"compensate"`

	// Config is the effective configuration the step runs with.
	Config map[string]interface{} `json:"config,omitempty"`

	// Status is the current status of the step.
	Status StepStatus `json:"status"`

	// Fingerprint is the idempotency key derived from kind, target and configuration.
	Fingerprint string `json:"fingerprint"`

	// Retries is the number of retry attempts made.
	Retries int `json:"retries"`

	// Reused is true when the step was satisfied by a prior fingerprint result.
	Reused bool `json:"reused,omitempty"`

	// Error is the last error message, if any.
	Error string `json:"error,omitempty"`

	// Output is the result data of the forward action.
	Output map[string]interface{} `json:"output,omitempty"`

	// StartedAt is when the forward action first started.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the step reached its latest terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Job is a provisioning request accepted for execution.
type Job struct {
	// ID is the unique identifier for this job.
	ID string `json:"id"`

	// TargetPath is the project directory being provisioned.
	TargetPath string `json:"target_path"`

	// Components lists the component IDs in resolved order.
	Components []string `json:"components"`

	// Config is the request-level configuration.
	Config map[string]interface{} `json:"config,omitempty"`

	// Policy is the failure policy the job runs with.
	Policy FailurePolicy `json:"policy"`

	// Steps is the ordered step plan.
	Steps []*Step `json:"steps"`

	// Status is the overall job status.
	Status JobStatus `json:"status"`

	// Error is the user-visible failure summary, if any.
	Error string `json:"error,omitempty"`

	// Compensation is the compensation outcome, if compensation ran.
	Compensation *CompensationReport `json:"compensation,omitempty"`

	// CreatedAt is when the job was accepted.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when execution started.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Step returns the step with the given ID, or nil.
func (j *Job) Step(id string) *Step {
	for _, s := range j.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Summary counts the job's steps by status.
func (j *Job) Summary() JobSummary {
	summary := JobSummary{Total: len(j.Steps)}
	for _, s := range j.Steps {
		switch s.Status {
		case StepStatusPending:
			summary.Pending++
		case StepStatusRunning:
			summary.Running++
		case StepStatusSucceeded:
			summary.Succeeded++
			if s.Reused {
				summary.Reused++
			}
		case StepStatusFailed:
			summary.Failed++
		case StepStatusCompensating:
			summary.Compensating++
		case StepStatusCompensated:
			summary.Compensated++
		}
	}
	return summary
}

// JobSummary provides statistics about a job.
type JobSummary struct {
	Total        int `json:"total"`
	Pending      int `json:"pending"`
	Running      int `json:"running"`
	Succeeded    int `json:"succeeded"`
	Reused       int `json:"reused"`
	Failed       int `json:"failed"`
	Compensating int `json:"compensating"`
	Compensated  int `json:"compensated"`
}

// CompensationReport lists the outcome of rolling back succeeded steps.
type CompensationReport struct {
	// Trigger is the step whose failure started compensation, or "cancelled".
	Trigger string `json:"trigger"`

	// Compensated lists steps whose effects were undone, in compensation order.
	Compensated []string `json:"compensated"`

	// Uncompensated lists steps whose compensation failed.
	Uncompensated []string `json:"uncompensated,omitempty"`

	// NotStarted lists steps that never ran because of the failure.
	NotStarted []string `json:"not_started,omitempty"`
}

// Degraded reports whether some step could not be compensated.
func (r CompensationReport) Degraded() bool {
	return len(r.Uncompensated) > 0
}

// StepContext is passed to actions.
type StepContext struct {
	JobID       string
	StepID      string
	ComponentID string
	Kind        StepKind
	TargetPath  string
	Config      map[string]interface{}
	Attempt     int

	// Output is the forward result, available to Compensate.
	Output map[string]interface{}
}

// Result is the outcome of an action.
type Result struct {
	// Message is a short human-readable summary.
	Message string `json:"message,omitempty"`

	// Output is action-specific data persisted with the step.
	Output map[string]interface{} `json:"output,omitempty"`
}

// FingerprintRecord is the last known successful result for a fingerprint.
type FingerprintRecord struct {
	Fingerprint string                 `json:"fingerprint"`
	StepKind    StepKind               `json:"step_kind"`
	ComponentID string                 `json:"component_id"`
	TargetPath  string                 `json:"target_path"`
	Result      map[string]interface{} `json:"result,omitempty"`
	LastRunAt   time.Time              `json:"last_run_at"`
}

// JournalEntry records one step transition.
type JournalEntry struct {
	// Sequence is assigned by the journal on append.
	Sequence int64 `json:"sequence"`

	JobID     string                 `json:"job_id"`
	StepID    string                 `json:"step_id"`
	From      StepStatus             `json:"from"`
	To        StepStatus             `json:"to"`
	Attempt   int                    `json:"attempt"`
	Reused    bool                   `json:"reused,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
