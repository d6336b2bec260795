package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/engine"
)

// Internal action types used by the steps a plan adds around installs.
const (
	ActionSync     = "sync"
	ActionValidate = "validate"
	ActionRender   = "render"
)

// Request asks for a set of components to be installed into a target.
type Request struct {
	// TargetPath is the project directory.
	TargetPath string `json:"target_path" validate:"required"`

	// Components are the selected component IDs.
	Components []string `json:"components" validate:"required,min=1,dive,required"`

	// Config is the request configuration. Component configuration overrides it.
	Config map[string]interface{} `json:"config,omitempty"`

	// Policy overrides the catalog's failure policy.
	Policy engine.FailurePolicy `json:"policy,omitempty" validate:"omitempty,oneof=abort degrade"`

	// IncludeDependencies adds the catalog dependencies of the selection.
	// Without it every dependency must be selected explicitly.
	IncludeDependencies bool `json:"include_dependencies,omitempty"`
}

var validate = validator.New()

// Validate checks the request's fields.
func (r *Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return engine.NewStructuralError("invalid request", err).WithCode(engine.ErrCodeValidation)
		}
		var result *multierror.Error
		for _, fe := range verrs {
			result = multierror.Append(result, fmt.Errorf("%s failed %q validation", fe.Namespace(), fe.Tag()))
		}
		return engine.NewStructuralError("invalid request", result.ErrorOrNil()).WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// Plan resolves a request against the catalog and expands it into a job
// that has not been persisted yet. Every component becomes an install step,
// followed by a sync step when it names a library and by validate and render
// steps when it names a composition. Disabled and skipped components keep
// their place in the ordering but get no steps; their dependents wait on
// whatever they depend on instead. The finished plan must pass the policy
// engine.
func (o *Orchestrator) Plan(ctx context.Context, req Request) (*engine.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	target, err := filepath.Abs(req.TargetPath)
	if err != nil {
		return nil, fmt.Errorf("resolving target path: %w", err)
	}

	selected, err := o.selectComponents(req)
	if err != nil {
		return nil, err
	}
	order, err := engine.Resolve(selected)
	if err != nil {
		return nil, err
	}

	policy := req.Policy
	if policy == "" {
		policy = o.catalog.Policy
	}

	job := &engine.Job{
		ID:         uuid.New().String(),
		TargetPath: target,
		Components: order,
		Config:     req.Config,
		Policy:     policy,
		Status:     engine.JobStatusPending,
		CreatedAt:  time.Now(),
	}

	byID := make(map[string]engine.Component, len(selected))
	for _, c := range selected {
		byID[c.ID] = c
	}

	// tails holds the steps a dependent of each component must wait for
	tails := make(map[string][]string, len(order))
	for _, id := range order {
		comp := byID[id]
		deps := dependencyTails(comp, tails)

		if !comp.Enabled || comp.Skip {
			tails[id] = deps
			continue
		}

		steps, err := o.componentSteps(ctx, job, comp, deps)
		if err != nil {
			return nil, err
		}
		for _, s := range steps {
			s.Sequence = len(job.Steps)
			job.Steps = append(job.Steps, s)
		}
		tails[id] = []string{steps[len(steps)-1].ID}
	}

	if err := engine.ValidatePlan(job.Steps); err != nil {
		return nil, err
	}
	if err := o.admit(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// selectComponents maps requested IDs to catalog components.
func (o *Orchestrator) selectComponents(req Request) ([]engine.Component, error) {
	var selected []engine.Component
	seen := make(map[string]bool)

	var add func(id string, requestedBy string) error
	add = func(id, requestedBy string) error {
		if seen[id] {
			return nil
		}
		comp, ok := o.catalog.Component(id)
		if !ok {
			e := engine.NewStructuralError(fmt.Sprintf("unknown component: %s", id), nil).
				WithCode(engine.ErrCodeUnknownComponent).WithResource(id)
			if requestedBy != "" {
				e = e.WithDetail("required_by", requestedBy)
			}
			return e
		}
		seen[id] = true
		selected = append(selected, comp)
		if req.IncludeDependencies {
			for _, dep := range comp.Dependencies {
				if err := add(dep, id); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, id := range req.Components {
		if err := add(id, ""); err != nil {
			return nil, err
		}
	}
	return selected, nil
}

// dependencyTails collects the step IDs comp's first step depends on.
func dependencyTails(comp engine.Component, tails map[string][]string) []string {
	set := make(map[string]bool)
	for _, dep := range comp.Dependencies {
		for _, s := range tails[dep] {
			set[s] = true
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (o *Orchestrator) componentSteps(ctx context.Context, job *engine.Job, comp engine.Component, deps []string) ([]*engine.Step, error) {
	cfg := mergeConfig(job.Config, comp.Config)

	install := &engine.Step{
		ID:           stepID(job.ID, comp.ID, engine.StepKindInstall),
		ComponentID:  comp.ID,
		Kind:         engine.StepKindInstall,
		Dependencies: deps,
		Forward:      engine.ActionDescriptor{Type: comp.Type, Reference: comp.ID},
		Compensate:   engine.ActionDescriptor{Type: comp.Type, Reference: comp.ID},
		Config:       cfg,
	}
	steps := []*engine.Step{install}
	prev := install.ID

	if comp.Library != "" {
		digest, err := o.libraryDigest(ctx, comp.Library)
		if err != nil {
			return nil, err
		}
		syncCfg := mergeConfig(cfg, map[string]interface{}{
			"library":        comp.Library,
			"library_digest": digest,
		})
		s := &engine.Step{
			ID:           stepID(job.ID, comp.ID, engine.StepKindSync),
			ComponentID:  comp.ID,
			Kind:         engine.StepKindSync,
			Dependencies: []string{prev},
			Forward:      engine.ActionDescriptor{Type: ActionSync, Reference: comp.Library},
			Compensate:   engine.ActionDescriptor{Type: ActionSync, Reference: comp.Library},
			Config:       syncCfg,
		}
		steps = append(steps, s)
		prev = s.ID
	}

	if comp.Composition != "" {
		// Rendering up front rejects structural problems before any step runs
		// and ties the render fingerprint to the content it produces.
		vars, err := o.catalog.RenderVariables(ctx, o.eval, cfg)
		if err != nil {
			return nil, err
		}
		rendered, err := o.renderer.Render(ctx, comp.Composition, vars)
		if err != nil {
			o.observer.ValidationFailed(err)
			return nil, err
		}

		v := &engine.Step{
			ID:           stepID(job.ID, comp.ID, engine.StepKindValidate),
			ComponentID:  comp.ID,
			Kind:         engine.StepKindValidate,
			Dependencies: []string{prev},
			Forward:      engine.ActionDescriptor{Type: ActionValidate, Reference: comp.Composition},
			Compensate:   engine.ActionDescriptor{Type: ActionValidate, Reference: comp.Composition},
			Config:       map[string]interface{}{"composition": comp.Composition},
		}
		r := &engine.Step{
			ID:           stepID(job.ID, comp.ID, engine.StepKindRender),
			ComponentID:  comp.ID,
			Kind:         engine.StepKindRender,
			Dependencies: []string{v.ID},
			Forward:      engine.ActionDescriptor{Type: ActionRender, Reference: comp.Composition},
			Compensate:   engine.ActionDescriptor{Type: ActionRender, Reference: comp.Composition},
			Config: mergeConfig(cfg, map[string]interface{}{
				"composition":      comp.Composition,
				"content_checksum": rendered.Checksum,
			}),
		}
		steps = append(steps, v, r)
	}

	return steps, nil
}

// libraryDigest summarizes a library's current content so that a sync step
// is fingerprinted on what it would copy.
func (o *Orchestrator) libraryDigest(ctx context.Context, libraryID string) (string, error) {
	lib, err := o.catalog.Libraries.Library(ctx, libraryID)
	if err != nil {
		return "", engine.NewStructuralError(fmt.Sprintf("unknown library: %s", libraryID), err).
			WithCode(engine.ErrCodeValidation).WithResource(libraryID)
	}
	scanned, err := assets.ScanLibrary(ctx, lib)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, a := range scanned {
		fmt.Fprintf(h, "%s\x00%s\n", a.Path, a.Checksum)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func stepID(jobID, componentID string, kind engine.StepKind) string {
	return fmt.Sprintf("%s:%s:%s", jobID, componentID, kind)
}

// mergeConfig returns base overlaid with override. Neither input is modified.
func mergeConfig(base, override map[string]interface{}) map[string]interface{} {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
