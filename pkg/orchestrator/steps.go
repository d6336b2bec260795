package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sif-factory/sif/pkg/actions"
	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/engine"
)

// registerStepActions adds the sync, validate and render action types.
func (o *Orchestrator) registerStepActions(f *actions.Factory) {
	f.Register(ActionSync, func(step *engine.Step, actx actions.Context) (engine.Action, error) {
		var cfg syncStepConfig
		if err := actions.DecodeConfig(step.Config, &cfg); err != nil {
			return nil, err
		}
		return &syncStep{orch: o, config: cfg, logger: actx.Logger}, nil
	})
	f.Register(ActionValidate, func(step *engine.Step, actx actions.Context) (engine.Action, error) {
		var cfg compositionStepConfig
		if err := actions.DecodeConfig(step.Config, &cfg); err != nil {
			return nil, err
		}
		return &validateStep{orch: o, config: cfg}, nil
	})
	f.Register(ActionRender, func(step *engine.Step, actx actions.Context) (engine.Action, error) {
		var cfg compositionStepConfig
		if err := actions.DecodeConfig(step.Config, &cfg); err != nil {
			return nil, err
		}
		return &renderStep{orch: o, config: cfg, logger: actx.Logger}, nil
	})
}

type syncStepConfig struct {
	Library string `mapstructure:"library" validate:"required"`

	// FailOnConflict fails the step when any asset conflicts.
	FailOnConflict bool `mapstructure:"fail_on_conflict"`
}

type compositionStepConfig struct {
	Composition string `mapstructure:"composition" validate:"required"`
}

// syncStep synchronizes a library into the target. The files and records
// it changes are snapshotted so that compensation can put them back.
type syncStep struct {
	orch   *Orchestrator
	config syncStepConfig
	logger zerolog.Logger
}

func (s *syncStep) Execute(ctx context.Context, sc *engine.StepContext) (*engine.Result, error) {
	snap := assets.NewSnapshot(assets.BackupDir(sc.TargetPath, sc.StepID))
	results, err := s.orch.sync.Sync(ctx, s.config.Library, sc.TargetPath, assets.SyncOptions{
		Snapshot:       snap,
		FailOnConflict: s.config.FailOnConflict,
	})
	if err != nil {
		// Undo what this attempt wrote so a retry or compensation starts clean.
		if rerr := snap.Restore(context.WithoutCancel(ctx), sc.TargetPath, s.orch.sync.Records()); rerr != nil {
			s.logger.Error().Err(rerr).Str("step_id", sc.StepID).Msg("Failed to roll back partial sync")
		} else {
			_ = snap.Discard()
		}
		return nil, err
	}

	counts := assets.Summarize(results)
	output := map[string]interface{}{
		"library": s.config.Library,
		"backup":  snap.Dir(),
	}
	for action, n := range counts {
		output[string(action)] = n
	}
	if conflicts := conflictPaths(results); len(conflicts) > 0 {
		output["conflicts"] = conflicts
	}

	s.orch.audit(ctx, "asset.sync", sc.TargetPath, map[string]interface{}{
		"job_id":  sc.JobID,
		"library": s.config.Library,
		"actions": counts,
	})

	return &engine.Result{
		Message: fmt.Sprintf("synced %d asset(s) from %s (%d conflict(s))", len(results), s.config.Library, counts[assets.ActionConflict]),
		Output:  output,
	}, nil
}

func (s *syncStep) Compensate(ctx context.Context, sc *engine.StepContext) (*engine.Result, error) {
	return restoreBackup(ctx, sc, s.orch.sync.Records())
}

// validateStep re-validates the content catalog and the composition right
// before rendering. It changes nothing, so compensation is a no-op.
type validateStep struct {
	orch   *Orchestrator
	config compositionStepConfig
}

func (v *validateStep) Execute(ctx context.Context, sc *engine.StepContext) (*engine.Result, error) {
	if err := v.orch.renderer.Validate(ctx); err != nil {
		v.orch.observer.ValidationFailed(err)
		return nil, err
	}
	return &engine.Result{
		Message: fmt.Sprintf("composition %s is valid", v.config.Composition),
		Output:  map[string]interface{}{"composition": v.config.Composition},
	}, nil
}

func (v *validateStep) Compensate(context.Context, *engine.StepContext) (*engine.Result, error) {
	return &engine.Result{Message: "nothing to undo"}, nil
}

// renderStep renders a composition into its target file.
type renderStep struct {
	orch   *Orchestrator
	config compositionStepConfig
	logger zerolog.Logger
}

func (r *renderStep) Execute(ctx context.Context, sc *engine.StepContext) (*engine.Result, error) {
	request := make(map[string]interface{}, len(sc.Config))
	for k, v := range sc.Config {
		switch k {
		case "composition", "content_checksum":
		default:
			request[k] = v
		}
	}
	vars, err := r.orch.catalog.RenderVariables(ctx, r.orch.eval, request)
	if err != nil {
		return nil, err
	}

	snap := assets.NewSnapshot(assets.BackupDir(sc.TargetPath, sc.StepID))
	out, err := r.orch.renderer.RenderTo(ctx, r.config.Composition, sc.TargetPath, vars, snap)
	if err != nil {
		r.orch.observer.ValidationFailed(err)
		return nil, err
	}
	r.logger.Debug().Str("step_id", sc.StepID).Str("file", out.TargetFile).Str("checksum", out.Checksum).Msg("Composition written")

	return &engine.Result{
		Message: fmt.Sprintf("rendered %s into %s", out.CompositionID, out.TargetFile),
		Output: map[string]interface{}{
			"composition": out.CompositionID,
			"target_file": out.TargetFile,
			"checksum":    out.Checksum,
			"segments":    out.Segments,
			"backup":      snap.Dir(),
		},
	}, nil
}

func (r *renderStep) Compensate(ctx context.Context, sc *engine.StepContext) (*engine.Result, error) {
	return restoreBackup(ctx, sc, nil)
}

// restoreBackup reverts the snapshot a step recorded in its output.
func restoreBackup(ctx context.Context, sc *engine.StepContext, records assets.RecordStore) (*engine.Result, error) {
	dir, _ := sc.Output["backup"].(string)
	if dir == "" {
		dir = assets.BackupDir(sc.TargetPath, sc.StepID)
	}
	snap, err := assets.LoadSnapshot(dir)
	if err != nil {
		return nil, engine.NewPermanentError("cannot read step backup", err).WithResource(sc.StepID)
	}
	if err := snap.Restore(ctx, sc.TargetPath, records); err != nil {
		return nil, engine.NewPermanentError("failed to restore step backup", err).WithResource(sc.StepID)
	}
	if err := snap.Discard(); err != nil {
		return nil, engine.NewTransientError("failed to remove step backup", err).WithResource(sc.StepID)
	}
	return &engine.Result{
		Message: fmt.Sprintf("restored %d path(s)", len(snap.Entries)),
		Output:  map[string]interface{}{"restored": len(snap.Entries)},
	}, nil
}

func conflictPaths(results []assets.SyncResult) []string {
	var paths []string
	for _, r := range results {
		if r.Action == assets.ActionConflict {
			paths = append(paths, r.Path)
		}
	}
	return paths
}
