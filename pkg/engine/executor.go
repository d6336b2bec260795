package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ExecutorConfig tunes retries, timeouts and parallelism.
type ExecutorConfig struct {
	// MaxParallel is the maximum number of steps running at once.
	MaxParallel int

	// MaxRetries is the number of retries after a transient failure.
	MaxRetries int

	// StepTimeout bounds a single attempt of a forward or compensation action.
	StepTimeout time.Duration

	// BaseBackoff is the delay before the first retry. It doubles per attempt.
	BaseBackoff time.Duration

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration
}

// DefaultExecutorConfig returns the default executor tuning.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxParallel: 4,
		MaxRetries:  3,
		StepTimeout: 5 * time.Minute,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
	}
}

// Executor runs step plans with fingerprinted idempotency, write-ahead journaling,
// retries and reverse-order compensation.
type Executor struct {
	config       ExecutorConfig
	actions      ActionProvider
	fingerprints FingerprintStore
	journal      Journal
	observer     Observer
	logger       zerolog.Logger
	tracer       Tracer

	// sleep waits for a backoff delay; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor. Zero config fields fall back to defaults.
func NewExecutor(cfg ExecutorConfig, actions ActionProvider, fingerprints FingerprintStore, journal Journal) *Executor {
	def := DefaultExecutorConfig()
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = def.MaxParallel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}

	return &Executor{
		config:       cfg,
		actions:      actions,
		fingerprints: fingerprints,
		journal:      journal,
		logger:       zerolog.Nop(),
		tracer:       otelTracer{otel.Tracer("github.com/sif-factory/sif/pkg/engine")},
		sleep:        sleepContext,
	}
}

// otelTracer opens spans on a plain OpenTelemetry tracer.
type otelTracer struct {
	trace.Tracer
}

func (t otelTracer) StartStepSpan(ctx context.Context, jobID, stepID, kind string) (context.Context, trace.Span) {
	return t.Start(ctx, "step."+kind, trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("step.id", stepID),
		attribute.String("step.kind", kind),
	))
}

func (t otelTracer) StartCompensationSpan(ctx context.Context, jobID, stepID, kind string) (context.Context, trace.Span) {
	return t.Start(ctx, "compensate."+kind, trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("step.id", stepID),
		attribute.String("step.kind", kind),
	))
}

// WithLogger sets the executor's logger.
func (e *Executor) WithLogger(logger zerolog.Logger) *Executor {
	e.logger = logger
	return e
}

// WithTracer sets the tracer step and compensation spans are opened with.
func (e *Executor) WithTracer(tracer Tracer) *Executor {
	e.tracer = tracer
	return e
}

// WithObserver sets a transition observer.
func (e *Executor) WithObserver(observer Observer) *Executor {
	e.observer = observer
	return e
}

// Config returns the effective executor configuration.
func (e *Executor) Config() ExecutorConfig {
	return e.config
}

// ValidatePlan checks step IDs, dependency references and acyclicity.
func ValidatePlan(steps []*Step) error {
	g := NewGraph()
	for _, s := range steps {
		if s == nil || s.ID == "" {
			return NewStructuralError("step has empty ID", nil).WithCode(ErrCodeValidation)
		}
		if g.HasNode(s.ID) {
			return NewStructuralError(fmt.Sprintf("duplicate step ID: %s", s.ID), nil).
				WithCode(ErrCodeValidation).WithResource(s.ID)
		}
		g.AddNode(s.ID)
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			g.AddDependency(s.ID, dep)
		}
	}
	if missing := g.Missing(); len(missing) > 0 {
		return NewStructuralError(
			fmt.Sprintf("step %s depends on non-existent step %s", missing[0].From, missing[0].To), nil,
		).WithCode(ErrCodeUnresolvedDependency).WithResource(missing[0].From)
	}
	if cycle := g.FindCycle(); cycle != nil {
		return NewStructuralError(fmt.Sprintf("circular step dependency: %s", FormatCycle(cycle)), nil).
			WithCode(ErrCodeCycleDetected)
	}
	return nil
}

// Run executes a job's plan to completion. Steps already succeeded (for
// example after RecoverJob) are not run again. If a step is found failed or
// compensating, Run goes straight to compensation. The returned error is a
// *JobFailure when the job did not succeed.
func (e *Executor) Run(ctx context.Context, job *Job) error {
	if job == nil {
		return NewPermanentError("job is nil", nil).WithCode(ErrCodeValidation)
	}
	if err := ValidatePlan(job.Steps); err != nil {
		return err
	}
	if job.Policy == "" {
		job.Policy = FailurePolicyAbort
	}
	if err := job.Policy.Validate(); err != nil {
		return NewStructuralError("invalid failure policy", err).WithCode(ErrCodeValidation)
	}

	for _, s := range job.Steps {
		s.JobID = job.ID
		if s.Status == "" {
			s.Status = StepStatusPending
		}
		if s.Fingerprint == "" {
			fp, err := Fingerprint(s, job.TargetPath)
			if err != nil {
				return err
			}
			s.Fingerprint = fp
		}
	}

	ctx, span := e.tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.target", job.TargetPath),
		attribute.Int("job.steps", len(job.Steps)),
	))
	defer span.End()

	r := newRun(e, job)
	if err := r.seedCompletionOrder(ctx); err != nil {
		return err
	}

	now := time.Now()
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.Status = JobStatusRunning
	job.Error = ""

	log := e.logger.With().Str("job_id", job.ID).Logger()
	log.Info().Int("steps", len(job.Steps)).Str("policy", string(job.Policy)).Msg("Job started")

	trigger, cause := r.firstFailure()
	cancelled := false
	if trigger == "" && !r.hasCompensating() {
		trigger, cause, cancelled = r.dispatch(ctx)
	}

	var report *CompensationReport
	if trigger != "" || cancelled || r.hasCompensating() {
		if trigger == "" && !cancelled {
			trigger = "resume"
		}
		if cancelled && trigger == "" {
			trigger = "cancelled"
		}
		// Compensation must finish even when the caller's context is cancelled.
		report = r.compensate(context.WithoutCancel(ctx), trigger, cancelled && cause == nil)
	}

	completed := time.Now()
	job.CompletedAt = &completed
	job.Compensation = report

	switch {
	case report == nil:
		job.Status = JobStatusSucceeded
		log.Info().Dur("duration", completed.Sub(*job.StartedAt)).Msg("Job succeeded")
		span.SetStatus(codes.Ok, "")
		return nil
	case cause == nil && cancelled && !report.Degraded():
		job.Status = JobStatusCompensated
		cause = NewPermanentError("job cancelled", ctx.Err()).WithCode(ErrCodeCancelled)
	default:
		job.Status = JobStatusFailed
		if cause == nil {
			cause = NewPermanentError("job interrupted by an earlier failure", nil).WithCode(ErrCodeDependencyFailed)
		}
	}

	failedStep := ""
	if trigger != "cancelled" && trigger != "resume" {
		failedStep = trigger
	}
	failure := &JobFailure{
		JobID:        job.ID,
		FailedStep:   failedStep,
		Cause:        cause,
		Compensation: *report,
	}
	job.Error = failure.Error()

	log.Error().
		Str("failed_step", failedStep).
		Strs("compensated", report.Compensated).
		Strs("uncompensated", report.Uncompensated).
		Strs("not_started", report.NotStarted).
		Str("status", string(job.Status)).
		Msg("Job did not succeed")
	span.SetStatus(codes.Error, job.Error)
	return failure
}

// run holds the mutable state of one Executor.Run call.
type run struct {
	exec *Executor
	job  *Job

	// mu protects step fields, inflight and completed
	mu        sync.Mutex
	byID      map[string]*Step
	inflight  map[string]bool
	completed []string
}

// errNotStarted is returned for a step that was dispatched but found the
// context already cancelled. The step stays pending.
var errNotStarted = errors.New("step not started: job cancelled")

type outcome struct {
	step *Step
	err  error
}

func newRun(e *Executor, job *Job) *run {
	r := &run{
		exec:     e,
		job:      job,
		byID:     make(map[string]*Step, len(job.Steps)),
		inflight: make(map[string]bool),
	}
	for _, s := range job.Steps {
		r.byID[s.ID] = s
	}
	return r
}

// seedCompletionOrder recovers the order in which previously succeeded steps
// completed so that compensation after a resume stays in reverse order.
func (r *run) seedCompletionOrder(ctx context.Context) error {
	entries, err := r.exec.journal.Entries(context.WithoutCancel(ctx), r.job.ID)
	if err != nil {
		return NewTransientError("failed to read journal", err).WithResource(r.job.ID)
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.To != StepStatusSucceeded || seen[e.StepID] {
			continue
		}
		if s, ok := r.byID[e.StepID]; ok && (s.Status == StepStatusSucceeded || s.Status == StepStatusCompensating) {
			r.completed = append(r.completed, s.ID)
			seen[s.ID] = true
		}
	}
	// Steps marked succeeded without journal entries keep plan order.
	for _, s := range r.job.Steps {
		if !seen[s.ID] && (s.Status == StepStatusSucceeded || s.Status == StepStatusCompensating) {
			r.completed = append(r.completed, s.ID)
		}
	}
	return nil
}

func (r *run) firstFailure() (string, error) {
	for _, s := range r.job.Steps {
		if s.Status == StepStatusFailed {
			return s.ID, NewPermanentError(s.Error, nil).WithCode(ErrCodeActionFailed).WithResource(s.ID)
		}
	}
	return "", nil
}

func (r *run) hasCompensating() bool {
	for _, s := range r.job.Steps {
		if s.Status == StepStatusCompensating {
			return true
		}
	}
	return false
}

// ready returns pending steps whose dependencies all succeeded, in plan order.
func (r *run) ready() []*Step {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Step
	for _, s := range r.job.Steps {
		if s.Status != StepStatusPending || r.inflight[s.ID] {
			continue
		}
		ok := true
		for _, dep := range s.Dependencies {
			if r.byID[dep].Status != StepStatusSucceeded {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, s)
		}
	}
	return out
}

// dispatch runs ready steps on up to MaxParallel workers until nothing is
// runnable. It returns the first failed step and its cause, and whether the
// context was cancelled.
func (r *run) dispatch(ctx context.Context) (trigger string, cause error, cancelled bool) {
	done := make(chan outcome)
	running := 0
	stopping := false
	ctxDone := ctx.Done()
	// blocked holds steps connected to a failure under the degrade policy.
	var blocked map[string]bool

	for {
		if !cancelled && ctx.Err() != nil {
			ctxDone = nil
			stopping = true
			cancelled = true
			r.exec.logger.Warn().Str("job_id", r.job.ID).Msg("Cancellation requested, no further steps will start")
		}

		if !stopping {
			for _, s := range r.ready() {
				if running >= r.exec.config.MaxParallel {
					break
				}
				if blocked[s.ID] {
					continue
				}
				r.mu.Lock()
				r.inflight[s.ID] = true
				r.mu.Unlock()
				running++

				go func(step *Step) {
					done <- outcome{step: step, err: r.executeStep(ctx, step)}
				}(s)
			}
		}

		if running == 0 {
			return trigger, cause, cancelled
		}

		select {
		case o := <-done:
			running--
			r.mu.Lock()
			delete(r.inflight, o.step.ID)
			r.mu.Unlock()

			if o.err != nil {
				if ctx.Err() != nil {
					// Interrupted by cancellation, not a failure of its own.
					if !cancelled {
						ctxDone = nil
						stopping = true
						cancelled = true
					}
					continue
				}
				if trigger == "" && !cancelled {
					trigger, cause = o.step.ID, o.err
				}
				if r.job.Policy == FailurePolicyAbort {
					stopping = true
				} else {
					blocked = r.failedComponent()
				}
			}
		case <-ctxDone:
			// Picked up at the top of the loop, before anything else starts.
		}
	}
}

// executeStep runs one step's forward action with fingerprint check, timeout and retries.
func (r *run) executeStep(ctx context.Context, step *Step) error {
	e := r.exec
	log := e.logger.With().Str("job_id", r.job.ID).Str("step_id", step.ID).
		Str("component", step.ComponentID).Str("kind", string(step.Kind)).Logger()

	ctx, span := e.tracer.StartStepSpan(ctx, r.job.ID, step.ID, string(step.Kind))
	span.SetAttributes(attribute.String("component.id", step.ComponentID))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return errNotStarted
	}

	rec, found, err := e.fingerprints.GetFingerprint(ctx, step.Fingerprint)
	if err != nil {
		return r.fail(ctx, step, NewPermanentError("fingerprint lookup failed", err).WithResource(step.ID))
	}
	if found {
		log.Debug().Str("fingerprint", step.Fingerprint).Msg("Fingerprint hit, reusing prior result")
		span.SetAttributes(attribute.Bool("step.reused", true))
		if err := r.transition(ctx, step, StepStatusRunning, func(entry *JournalEntry) {
			entry.Reused = true
		}); err != nil {
			return err
		}
		return r.transition(ctx, step, StepStatusSucceeded, func(entry *JournalEntry) {
			entry.Reused = true
			entry.Output = rec.Result
		})
	}

	action, err := e.actions.ActionFor(step)
	if err != nil {
		return r.fail(ctx, step, NewPermanentError("no action for step", err).WithResource(step.ID))
	}

	if err := ctx.Err(); err != nil {
		return errNotStarted
	}
	if err := r.transition(ctx, step, StepStatusRunning, nil); err != nil {
		return err
	}

	var result *Result
	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			r.mu.Lock()
			step.Retries = attempt
			r.mu.Unlock()

			delay := e.calculateBackoff(attempt-1, lastErr)
			log.Warn().Err(lastErr).Int("attempt", attempt+1).Dur("backoff", delay).Msg("Retrying step after transient failure")
			if err := e.sleep(ctx, delay); err != nil {
				break
			}
		}

		result, lastErr = r.attempt(ctx, action, step, attempt, false)
		if lastErr == nil {
			break
		}
		if !IsRetryable(lastErr) || ctx.Err() != nil {
			break
		}
	}

	if lastErr != nil {
		if IsRetryable(lastErr) {
			lastErr = NewPermanentError(fmt.Sprintf("retries exhausted after %d attempts", step.Retries+1), lastErr).
				WithCode(ErrCodeActionFailed).WithResource(step.ID)
		}
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
		return r.fail(ctx, step, lastErr)
	}

	var output map[string]interface{}
	if result != nil {
		output = result.Output
	}

	if err := e.fingerprints.PutFingerprint(ctx, &FingerprintRecord{
		Fingerprint: step.Fingerprint,
		StepKind:    step.Kind,
		ComponentID: step.ComponentID,
		TargetPath:  r.job.TargetPath,
		Result:      output,
		LastRunAt:   time.Now(),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to record fingerprint; step will run again next time")
	}

	return r.transition(ctx, step, StepStatusSucceeded, func(entry *JournalEntry) {
		entry.Output = output
	})
}

// attempt runs one bounded invocation of an action. A timeout is reported as transient.
func (r *run) attempt(ctx context.Context, action Action, step *Step, attempt int, compensate bool) (*Result, error) {
	stepCtx, cancel := context.WithTimeout(ctx, r.exec.config.StepTimeout)
	defer cancel()

	r.mu.Lock()
	sc := &StepContext{
		JobID:       r.job.ID,
		StepID:      step.ID,
		ComponentID: step.ComponentID,
		Kind:        step.Kind,
		TargetPath:  r.job.TargetPath,
		Config:      step.Config,
		Attempt:     attempt,
		Output:      step.Output,
	}
	r.mu.Unlock()

	var result *Result
	var err error
	if compensate {
		result, err = action.Compensate(stepCtx, sc)
	} else {
		result, err = action.Execute(stepCtx, sc)
	}

	if err != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, NewTransientError(fmt.Sprintf("step timed out after %s", r.exec.config.StepTimeout), err).
			WithCode(ErrCodeTimeout).WithResource(step.ID)
	}
	return result, err
}

// fail journals a step failure and returns the cause.
func (r *run) fail(ctx context.Context, step *Step, cause error) error {
	r.mu.Lock()
	status := step.Status
	r.mu.Unlock()

	if status == StepStatusPending {
		// The step never started; journal the start so the failure is a legal transition.
		if err := r.transition(ctx, step, StepStatusRunning, nil); err != nil {
			return err
		}
	}
	if err := r.transition(ctx, step, StepStatusFailed, func(entry *JournalEntry) {
		entry.Error = cause.Error()
	}); err != nil {
		return err
	}
	return cause
}

// transition journals a status change, then applies it.
func (r *run) transition(ctx context.Context, step *Step, to StepStatus, mutate func(*JournalEntry)) error {
	r.mu.Lock()
	from := step.Status
	attempt := step.Retries
	r.mu.Unlock()

	if !CanTransition(from, to) {
		return NewPermanentError(fmt.Sprintf("illegal step transition %s -> %s", from, to), nil).
			WithCode(ErrCodeInternal).WithResource(step.ID)
	}

	now := time.Now()
	entry := &JournalEntry{
		JobID:     r.job.ID,
		StepID:    step.ID,
		From:      from,
		To:        to,
		Attempt:   attempt,
		Timestamp: now,
	}
	if mutate != nil {
		mutate(entry)
	}

	// Write-ahead: the transition only happens once the journal has it.
	if err := r.exec.journal.Append(context.WithoutCancel(ctx), entry); err != nil {
		return NewPermanentError("failed to journal step transition", err).
			WithCode(ErrCodeInternal).WithResource(step.ID)
	}

	r.mu.Lock()
	step.Status = to
	switch to {
	case StepStatusRunning:
		if step.StartedAt == nil {
			step.StartedAt = &now
		}
	case StepStatusSucceeded:
		step.CompletedAt = &now
		step.Reused = entry.Reused
		step.Output = entry.Output
		step.Error = ""
		if step.StartedAt == nil {
			step.StartedAt = &now
		}
		r.completed = append(r.completed, step.ID)
	case StepStatusFailed, StepStatusCompensated:
		step.CompletedAt = &now
		if entry.Error != "" {
			step.Error = entry.Error
		}
	}
	r.mu.Unlock()

	if r.exec.observer != nil {
		r.exec.observer.StepTransition(r.job, step, from, to)
	}
	return nil
}

// compensationScope returns the succeeded or compensating steps to undo, in
// reverse completion order. Steps satisfied by a fingerprint from an earlier
// job are left alone: their effect predates this job.
func (r *run) compensationScope(all bool) []*Step {
	inScope := func(*Step) bool { return true }
	if !all && r.job.Policy == FailurePolicyDegrade {
		component := r.failedComponent()
		inScope = func(s *Step) bool { return component[s.ID] }
	}

	var scope []*Step
	for i := len(r.completed) - 1; i >= 0; i-- {
		s := r.byID[r.completed[i]]
		if s.Reused && s.Status == StepStatusSucceeded {
			continue
		}
		if (s.Status == StepStatusSucceeded || s.Status == StepStatusCompensating) && inScope(s) {
			scope = append(scope, s)
		}
	}
	return scope
}

// failedComponent returns the IDs of steps sharing a dependency path (in either
// direction) with any failed step.
func (r *run) failedComponent() map[string]bool {
	adj := make(map[string][]string)
	for _, s := range r.job.Steps {
		for _, dep := range s.Dependencies {
			adj[s.ID] = append(adj[s.ID], dep)
			adj[dep] = append(adj[dep], s.ID)
		}
	}

	seen := make(map[string]bool)
	var queue []string
	for _, s := range r.job.Steps {
		if s.Status == StepStatusFailed || s.Status == StepStatusCompensating {
			seen[s.ID] = true
			queue = append(queue, s.ID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// compensate undoes succeeded steps in reverse completion order.
func (r *run) compensate(ctx context.Context, trigger string, all bool) *CompensationReport {
	e := r.exec
	report := &CompensationReport{Trigger: trigger, Compensated: []string{}}
	log := e.logger.With().Str("job_id", r.job.ID).Str("trigger", trigger).Logger()

	scope := r.compensationScope(all)
	log.Info().Int("steps", len(scope)).Msg("Compensating succeeded steps")

	for _, step := range scope {
		if err := r.compensateStep(ctx, step); err != nil {
			log.Error().Err(err).Str("step_id", step.ID).Msg("Compensation failed")
			r.mu.Lock()
			step.Error = err.Error()
			r.mu.Unlock()
			report.Uncompensated = append(report.Uncompensated, step.ID)
			continue
		}
		report.Compensated = append(report.Compensated, step.ID)
	}

	for _, s := range r.job.Steps {
		if s.Status == StepStatusPending {
			report.NotStarted = append(report.NotStarted, s.ID)
		}
	}
	sort.Strings(report.NotStarted)
	return report
}

func (r *run) compensateStep(ctx context.Context, step *Step) error {
	e := r.exec

	ctx, span := e.tracer.StartCompensationSpan(ctx, r.job.ID, step.ID, string(step.Kind))
	span.SetAttributes(attribute.String("component.id", step.ComponentID))
	defer span.End()

	if step.Status == StepStatusSucceeded {
		if err := r.transition(ctx, step, StepStatusCompensating, nil); err != nil {
			return err
		}
	}

	action, err := e.actions.ActionFor(step)
	if err != nil {
		return NewPermanentError("no action for step", err).
			WithCode(ErrCodeCompensationFailed).WithResource(step.ID)
	}

	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.calculateBackoff(attempt-1, lastErr)); err != nil {
				break
			}
		}
		_, lastErr = r.attempt(ctx, action, step, attempt, true)
		if lastErr == nil || !IsRetryable(lastErr) {
			break
		}
	}
	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
		return NewPermanentError("compensation action failed", lastErr).
			WithCode(ErrCodeCompensationFailed).WithResource(step.ID)
	}

	if err := e.fingerprints.DeleteFingerprint(ctx, step.Fingerprint); err != nil {
		e.logger.Warn().Err(err).Str("step_id", step.ID).Msg("Failed to clear fingerprint of compensated step")
	}

	return r.transition(ctx, step, StepStatusCompensated, nil)
}

// calculateBackoff calculates exponential backoff for a retry attempt.
func (e *Executor) calculateBackoff(attempt int, err error) time.Duration {
	baseDelay := e.config.BaseBackoff

	// Throttled errors back off harder
	if IsThrottled(err) {
		baseDelay *= 5
	}

	// Exponential backoff: delay = baseDelay * 2^attempt
	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)))
	if delay > e.config.MaxBackoff || delay <= 0 {
		delay = e.config.MaxBackoff
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
