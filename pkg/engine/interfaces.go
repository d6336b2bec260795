package engine

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Action is the uniform capability every installable unit implements.
// Execute applies the step's effect; Compensate undoes it. Both should be
// safe to call again after a crash.
type Action interface {
	// Execute runs the forward action.
	Execute(ctx context.Context, sc *StepContext) (*Result, error)

	// Compensate runs the reverse action for a previously successful Execute.
	Compensate(ctx context.Context, sc *StepContext) (*Result, error)
}

// ActionProvider resolves the action for a step.
type ActionProvider interface {
	// ActionFor returns the action implementing the step's forward and compensation descriptors.
	ActionFor(step *Step) (Action, error)
}

// ActionProviderFunc adapts a function to the ActionProvider interface.
type ActionProviderFunc func(step *Step) (Action, error)

// ActionFor implements ActionProvider.
func (f ActionProviderFunc) ActionFor(step *Step) (Action, error) {
	return f(step)
}

// FingerprintStore maps idempotency keys to the last known successful result.
type FingerprintStore interface {
	// GetFingerprint returns the record for a fingerprint. found is false when absent.
	GetFingerprint(ctx context.Context, fingerprint string) (record *FingerprintRecord, found bool, err error)

	// PutFingerprint inserts or replaces the record for a fingerprint.
	PutFingerprint(ctx context.Context, record *FingerprintRecord) error

	// DeleteFingerprint removes a fingerprint so the step runs again next time.
	DeleteFingerprint(ctx context.Context, fingerprint string) error
}

// Journal durably records step transitions ahead of applying them.
type Journal interface {
	// Append durably records a transition. The transition is not complete until Append returns nil.
	Append(ctx context.Context, entry *JournalEntry) error

	// Entries returns a job's entries in append order.
	Entries(ctx context.Context, jobID string) ([]*JournalEntry, error)
}

// JobStore persists jobs and their step plans.
type JobStore interface {
	// CreateJob persists a new job with its steps.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob loads a job with its steps.
	GetJob(ctx context.Context, id string) (*Job, error)

	// UpdateJob persists the job-level fields (status, error, compensation, timestamps).
	UpdateJob(ctx context.Context, job *Job) error

	// ListJobs lists jobs, most recent first.
	ListJobs(ctx context.Context, limit, offset int) ([]*Job, error)
}

// Observer receives execution notifications. Implementations must not block.
type Observer interface {
	StepTransition(job *Job, step *Step, from, to StepStatus)
}

// Tracer opens the spans of a run. Start covers the run itself; step and
// compensation spans are opened per step.
type Tracer interface {
	Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
	StartStepSpan(ctx context.Context, jobID, stepID, kind string) (context.Context, trace.Span)
	StartCompensationSpan(ctx context.Context, jobID, stepID, kind string) (context.Context, trace.Span)
}
