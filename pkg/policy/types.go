package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block a job.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the job.
	SeverityError Severity = "error"

	// SeverityCritical blocks the job.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity rejects a plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module whose deny set is evaluated against every plan.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from. Empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one entry of a policy's deny set.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Step is the offending step ID, when the violation is about one step.
	Step string `json:"step,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating all enabled policies against a plan.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations and policies that failed to evaluate.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as `input`.
type Input struct {
	Job     JobInput    `json:"job"`
	Steps   []StepInput `json:"steps"`
	Context Context     `json:"context"`
}

// JobInput describes the job being admitted.
type JobInput struct {
	ID         string                 `json:"id"`
	TargetPath string                 `json:"target_path"`
	Components []string               `json:"components"`
	Policy     string                 `json:"policy"`
	Config     map[string]interface{} `json:"config,omitempty"`
}

// StepInput describes one planned step.
type StepInput struct {
	ID           string                 `json:"id"`
	ComponentID  string                 `json:"component_id"`
	Kind         string                 `json:"kind"`
	Action       string                 `json:"action"`
	Reference    string                 `json:"reference,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty"`
}

// Context provides information about who asks and why.
type Context struct {
	// User is the user performing the operation.
	User string `json:"user,omitempty"`

	// Operation is "plan" or "submit".
	Operation string `json:"operation"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}
