package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sif-factory/sif/pkg/actions"
	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/composition"
	"github.com/sif-factory/sif/pkg/config"
	"github.com/sif-factory/sif/pkg/engine"
	"github.com/sif-factory/sif/pkg/policy"
	"github.com/sif-factory/sif/pkg/stores"
	"github.com/sif-factory/sif/pkg/telemetry"
)

// Config is everything an Orchestrator runs with. There is no global state:
// two orchestrators built from different configs are fully independent.
type Config struct {
	// Catalog describes components, libraries and content.
	Catalog *config.Catalog

	// Store persists jobs, the journal, fingerprints and asset records.
	Store stores.Store

	// Actions resolves install actions. Nil uses the built-in action types.
	Actions *actions.Factory

	// Content is where compositions are rendered from. Nil uses Catalog.
	Content composition.Source

	// Policies admits plans. Nil builds an engine with the built-in
	// policies plus the catalog's policy paths.
	Policies *policy.Engine

	// Telemetry receives logs, metrics, spans and events. Nil discards them.
	Telemetry *telemetry.Telemetry

	// ScriptTimeout bounds Starlark variable scripts and conditions.
	ScriptTimeout time.Duration

	// Actor is recorded in audit entries. Defaults to "sif".
	Actor string
}

// Orchestrator accepts provisioning requests, plans them and drives the
// executor. It also exposes asset sync and composition rendering on their own.
type Orchestrator struct {
	catalog  *config.Catalog
	store    stores.Store
	exec     *engine.Executor
	sync     *assets.Synchronizer
	renderer *composition.Renderer
	eval     *config.StarlarkEvaluator
	locker   *TargetLocker
	policies *policy.Engine
	tel      *telemetry.Telemetry
	observer *telemetry.Observer
	logger   zerolog.Logger
	actor    string

	mu      sync.Mutex
	running map[string]*activeJob
	wg      sync.WaitGroup
}

type activeJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("orchestrator: catalog is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	tel := cfg.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}
	actor := cfg.Actor
	if actor == "" {
		actor = "sif"
	}
	content := cfg.Content
	if content == nil {
		content = cfg.Catalog
	}

	logger := tel.Logger.NewComponentLogger("orchestrator").Zerolog()
	o := &Orchestrator{
		catalog:  cfg.Catalog,
		store:    cfg.Store,
		eval:     config.NewStarlarkEvaluator(cfg.ScriptTimeout),
		locker:   NewTargetLocker(),
		tel:      tel,
		observer: telemetry.NewObserver(tel),
		logger:   logger,
		actor:    actor,
		running:  make(map[string]*activeJob),
	}

	o.sync = assets.NewSynchronizer(cfg.Catalog.Libraries, cfg.Store, tel.Logger.NewComponentLogger("assets").Zerolog())
	o.sync.OnResult(o.observer.AssetSynced)
	o.sync.OnScan(o.recordScan)

	o.policies = cfg.Policies
	if o.policies == nil {
		eng, err := policy.NewEngine(tel.Logger.NewComponentLogger("policy").Zerolog())
		if err != nil {
			return nil, err
		}
		if err := eng.LoadPolicies(context.Background(), cfg.Catalog.Policies); err != nil {
			return nil, err
		}
		o.policies = eng
	}

	o.renderer = composition.NewRenderer(content, o.eval, tel.Logger.Zerolog())

	factory := cfg.Actions
	if factory == nil {
		factory = actions.NewDefaultFactory(actions.Context{Logger: tel.Logger.NewComponentLogger("actions").Zerolog()})
	}
	o.registerStepActions(factory)

	o.exec = engine.NewExecutor(cfg.Catalog.Executor, factory, cfg.Store, cfg.Store).
		WithLogger(tel.Logger.NewComponentLogger("executor").Zerolog()).
		WithObserver(o.observer).
		WithTracer(tel.Tracer)

	return o, nil
}

// Submit plans and persists a job, then runs it in the background. It fails
// before anything runs on an invalid request, an unknown component, a
// dependency cycle or a busy target.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (string, error) {
	job, release, err := o.accept(ctx, req)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	active := o.track(job.ID, cancel)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.untrack(job.ID, active)
		defer release()
		defer cancel()
		_ = o.execute(runCtx, job)
	}()

	return job.ID, nil
}

// Run plans, persists and runs a job to completion. The returned job carries
// the full step history; the error is a *engine.JobFailure when the job did
// not succeed. Cancelling ctx stops dispatching and compensates.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*engine.Job, error) {
	job, release, err := o.accept(ctx, req)
	if err != nil {
		return nil, err
	}
	defer release()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	active := o.track(job.ID, cancel)
	defer o.untrack(job.ID, active)

	err = o.execute(runCtx, job)
	return job, err
}

// Status returns a job with its steps.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*engine.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, engine.NewPermanentError(fmt.Sprintf("job %s not found", jobID), err).
				WithCode(engine.ErrCodeNotFound).WithResource(jobID)
		}
		return nil, err
	}
	return job, nil
}

// Resume continues a job that stopped before reaching a terminal status,
// typically because the process crashed. The journal decides where each
// step stands: steps caught running are retried, succeeded steps are kept,
// and a job that had started compensating finishes compensating. A terminal
// job is returned unchanged.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) (*engine.Job, error) {
	job, err := o.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}
	if o.isRunning(jobID) {
		return nil, engine.NewBusyError(fmt.Sprintf("job %s is already running", jobID), nil).
			WithCode(engine.ErrCodeTargetBusy).WithResource(jobID)
	}

	release, err := o.locker.Acquire(job.TargetPath, job.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	entries, err := o.store.Entries(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("reading journal of job %s: %w", jobID, err)
	}
	rec := engine.RecoverJob(job, entries)
	o.logger.Info().
		Str("job_id", jobID).
		Strs("interrupted", rec.Interrupted).
		Bool("needs_compensation", rec.NeedsCompensation).
		Msg("Resuming job")
	o.audit(ctx, "job.resumed", jobID, map[string]interface{}{
		"interrupted":        rec.Interrupted,
		"needs_compensation": rec.NeedsCompensation,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	active := o.track(job.ID, cancel)
	defer o.untrack(job.ID, active)

	err = o.execute(runCtx, job)
	return job, err
}

// Cancel stops a job running in this process. No further steps start and
// the steps that succeeded are compensated.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	active, ok := o.running[jobID]
	o.mu.Unlock()
	if !ok {
		return engine.NewPermanentError(fmt.Sprintf("job %s is not running", jobID), nil).
			WithCode(engine.ErrCodeNotFound).WithResource(jobID)
	}
	active.cancel()
	return nil
}

// Wait blocks until a job running in this process finishes, then returns its
// final state. A job not running here is looked up directly.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) (*engine.Job, error) {
	o.mu.Lock()
	active, ok := o.running[jobID]
	o.mu.Unlock()
	if ok {
		select {
		case <-active.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.Status(ctx, jobID)
}

// Close cancels every running job and waits for their compensation to finish.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	for _, a := range o.running {
		a.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// accept plans a request, locks its target and persists the job.
func (o *Orchestrator) accept(ctx context.Context, req Request) (*engine.Job, func(), error) {
	job, err := o.Plan(ctx, req)
	if err != nil {
		o.recordRejection(err)
		return nil, nil, err
	}

	release, err := o.locker.Acquire(job.TargetPath, job.ID)
	if err != nil {
		o.recordRejection(err)
		return nil, nil, err
	}

	for _, s := range job.Steps {
		s.JobID = job.ID
		s.Status = engine.StepStatusPending
		fp, err := engine.Fingerprint(s, job.TargetPath)
		if err != nil {
			release()
			return nil, nil, err
		}
		s.Fingerprint = fp
	}

	if err := o.store.CreateJob(ctx, job); err != nil {
		release()
		return nil, nil, fmt.Errorf("persisting job: %w", err)
	}
	o.audit(ctx, "job.submitted", job.ID, map[string]interface{}{
		"target":     job.TargetPath,
		"components": job.Components,
		"steps":      len(job.Steps),
		"policy":     job.Policy,
	})
	return job, release, nil
}

// execute runs a persisted job and stores its final state.
func (o *Orchestrator) execute(ctx context.Context, job *engine.Job) error {
	ctx = o.tel.WithContext(ctx)
	ctx = telemetry.WithJobContext(ctx, job)
	timer := telemetry.NewTimer()

	now := time.Now()
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.Status = engine.JobStatusRunning
	if err := o.store.UpdateJob(ctx, job); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job running")
	}

	runErr := o.exec.Run(ctx, job)
	if runErr != nil && !job.Status.IsTerminal() {
		// Rejected before any step ran.
		failed := time.Now()
		job.Status = engine.JobStatusFailed
		job.Error = runErr.Error()
		job.CompletedAt = &failed
	}

	if err := o.store.UpdateJob(context.WithoutCancel(ctx), job); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job result")
		if runErr == nil {
			runErr = fmt.Errorf("persisting job result: %w", err)
		}
	}

	details := map[string]interface{}{
		"status":  job.Status,
		"summary": job.Summary(),
	}
	if job.Compensation != nil {
		details["compensation"] = job.Compensation
	}
	o.audit(context.WithoutCancel(ctx), "job.completed", job.ID, details)
	telemetry.EndJobContext(ctx, job, timer.Duration(), runErr)
	return runErr
}

// Sync synchronizes a library into a target outside of any job. The target
// is locked for the duration.
func (o *Orchestrator) Sync(ctx context.Context, libraryID, target string, opts assets.SyncOptions) ([]assets.SyncResult, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolving target path: %w", err)
	}

	if !opts.DryRun {
		release, err := o.locker.Acquire(abs, "sync-"+uuid.New().String())
		if err != nil {
			return nil, err
		}
		defer release()
	}

	ctx, span := o.tel.Tracer.StartSyncSpan(ctx, libraryID, abs)
	defer span.End()

	results, err := o.sync.Sync(ctx, libraryID, abs, opts)
	if err != nil {
		telemetry.RecordError(span, err)
		return results, err
	}
	telemetry.RecordSuccess(span)

	if !opts.DryRun {
		o.audit(ctx, "asset.sync", abs, map[string]interface{}{
			"library":   libraryID,
			"actions":   assets.Summarize(results),
			"conflicts": conflictPaths(results),
		})
	}
	return results, nil
}

// Render validates the content catalog and renders a composition.
func (o *Orchestrator) Render(ctx context.Context, compositionID string, request map[string]interface{}) (*composition.Rendered, error) {
	ctx, span := o.tel.Tracer.StartRenderSpan(ctx, compositionID)
	defer span.End()

	vars, err := o.catalog.RenderVariables(ctx, o.eval, request)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	out, err := o.renderer.Render(ctx, compositionID, vars)
	if err != nil {
		o.observer.ValidationFailed(err)
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	return out, nil
}

// RenderTo renders a composition into target outside of any job. The
// previous file is kept in a backup so the write can be undone with
// assets.LoadSnapshot on the returned directory.
func (o *Orchestrator) RenderTo(ctx context.Context, compositionID, target string, request map[string]interface{}) (*composition.Rendered, string, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, "", fmt.Errorf("resolving target path: %w", err)
	}
	release, err := o.locker.Acquire(abs, "render-"+uuid.New().String())
	if err != nil {
		return nil, "", err
	}
	defer release()

	ctx, span := o.tel.Tracer.StartRenderSpan(ctx, compositionID)
	defer span.End()

	vars, err := o.catalog.RenderVariables(ctx, o.eval, request)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, "", err
	}
	snap := assets.NewSnapshot(assets.BackupDir(abs, "render-"+compositionID))
	out, err := o.renderer.RenderTo(ctx, compositionID, abs, vars, snap)
	if err != nil {
		o.observer.ValidationFailed(err)
		telemetry.RecordError(span, err)
		return nil, "", err
	}
	telemetry.RecordSuccess(span)
	o.audit(ctx, "composition.rendered", abs, map[string]interface{}{
		"composition": compositionID,
		"file":        out.TargetFile,
		"checksum":    out.Checksum,
	})
	return out, snap.Dir(), nil
}

// PublishCatalog validates the catalog's content and copies the catalog into
// the store, so that jobs and renders can later run from the stored copy.
func (o *Orchestrator) PublishCatalog(ctx context.Context) (err error) {
	op := telemetry.StartOperation(o.tel.WithContext(ctx), "catalog.publish",
		attribute.String("catalog.path", o.catalog.Path))
	defer func() { op.End(err) }()
	ctx = op.Ctx

	if err := o.Validate(ctx); err != nil {
		return err
	}
	if err := o.store.SaveComponents(ctx, o.catalog.Components); err != nil {
		return fmt.Errorf("saving components: %w", err)
	}

	ids := make([]string, 0, len(o.catalog.Libraries))
	for id := range o.catalog.Libraries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		lib := o.catalog.Libraries[id]
		scanned, err := assets.ScanLibrary(ctx, lib)
		if err != nil {
			return fmt.Errorf("scanning library %s: %w", id, err)
		}
		if err := o.store.SaveLibrary(ctx, lib); err != nil {
			return fmt.Errorf("saving library %s: %w", id, err)
		}
		if err := o.store.ReplaceLibraryAssets(ctx, id, scanned); err != nil {
			return fmt.Errorf("saving assets of library %s: %w", id, err)
		}
	}

	if o.catalog.Content != nil {
		if err := o.store.SaveContent(ctx, o.catalog.Content); err != nil {
			return fmt.Errorf("saving content: %w", err)
		}
	}

	o.audit(ctx, "catalog.published", o.catalog.Path, map[string]interface{}{
		"components": len(o.catalog.Components),
		"libraries":  ids,
	})
	op.Logger.Infof("catalog published in %s", op.Timer.Duration().Round(time.Millisecond))
	return nil
}

// Libraries returns the catalog's libraries ordered by ID.
func (o *Orchestrator) Libraries() []*assets.Library {
	out := make([]*assets.Library, 0, len(o.catalog.Libraries))
	for _, lib := range o.catalog.Libraries {
		out = append(out, lib)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Policies lists the policies plans are admitted against.
func (o *Orchestrator) Policies() []policy.Policy {
	return o.policies.ListPolicies()
}

// Validate checks the content catalog and every composition.
func (o *Orchestrator) Validate(ctx context.Context) error {
	if err := o.renderer.Validate(ctx); err != nil {
		o.observer.ValidationFailed(err)
		return err
	}
	return nil
}

// Jobs lists recent jobs, optionally only those of one target.
func (o *Orchestrator) Jobs(ctx context.Context, target string, limit int) ([]*engine.Job, error) {
	if target == "" {
		return o.store.ListJobs(ctx, limit, 0)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolving target path: %w", err)
	}
	return o.store.ListJobsByTarget(ctx, abs, nil)
}

func (o *Orchestrator) track(jobID string, cancel context.CancelFunc) *activeJob {
	a := &activeJob{cancel: cancel, done: make(chan struct{})}
	o.mu.Lock()
	o.running[jobID] = a
	o.mu.Unlock()
	return a
}

func (o *Orchestrator) untrack(jobID string, a *activeJob) {
	o.mu.Lock()
	if o.running[jobID] == a {
		delete(o.running, jobID)
	}
	o.mu.Unlock()
	close(a.done)
}

func (o *Orchestrator) isRunning(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[jobID]
	return ok
}

// recordRejection counts a request rejected before execution.
func (o *Orchestrator) recordRejection(err error) {
	code := ""
	var engErr *engine.EngineError
	if errors.As(err, &engErr) {
		code = engErr.Code
	}
	o.tel.Metrics.RecordError(string(engine.ClassOf(err)), code)
	o.logger.Warn().Err(err).Str("code", code).Msg("Request rejected")
}

// admit evaluates the plan against the policy engine.
func (o *Orchestrator) admit(ctx context.Context, job *engine.Job) error {
	result, err := o.policies.EvaluatePlan(ctx, job, policy.Context{User: o.actor, Operation: "plan"})
	if err != nil {
		return fmt.Errorf("evaluating policies: %w", err)
	}
	for _, w := range result.Warnings {
		o.logger.Warn().Str("policy", w.Policy).Str("step", w.Step).Str("target", job.TargetPath).Msg(w.Message)
	}
	if result.Allowed {
		return nil
	}
	o.tel.Metrics.RecordValidationFailure(engine.ErrCodePolicyViolation)
	o.audit(ctx, "policy.denied", job.ID, map[string]interface{}{
		"target":     job.TargetPath,
		"violations": result.Violations,
	})
	return result.Err()
}

// recordScan keeps the stored library inventory in step with what Sync saw.
func (o *Orchestrator) recordScan(ctx context.Context, libraryID string, scanned []assets.LibraryAsset) {
	lib, err := o.catalog.Libraries.Library(ctx, libraryID)
	if err != nil {
		return
	}
	if err := o.store.SaveLibrary(ctx, lib); err != nil {
		o.logger.Warn().Err(err).Str("library", libraryID).Msg("Failed to record library")
		return
	}
	if err := o.store.ReplaceLibraryAssets(ctx, libraryID, scanned); err != nil {
		o.logger.Warn().Err(err).Str("library", libraryID).Msg("Failed to record library assets")
	}
}

// audit appends an audit entry. Failures are logged, never returned.
func (o *Orchestrator) audit(ctx context.Context, action, targetID string, details map[string]interface{}) {
	entry := &stores.AuditEntry{Action: action, Actor: o.actor}
	if targetID != "" {
		entry.TargetID = &targetID
	}
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			s := string(data)
			entry.Details = &s
		}
	}
	if err := o.store.CreateAuditEntry(ctx, entry); err != nil {
		o.logger.Warn().Err(err).Str("action", action).Msg("Failed to write audit entry")
	}
}
