package actions

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/engine"
)

// fileConfig is the configuration of a file step.
type fileConfig struct {
	// Path is relative to the target directory.
	Path string `mapstructure:"path" validate:"required"`

	Content string `mapstructure:"content"`

	// Mode is an octal permission string such as "0644".
	Mode string `mapstructure:"mode"`

	// MustExist fails the step when the file is not already present.
	MustExist bool `mapstructure:"must_exist"`
}

// FileAction writes a file into the target directory. The previous content is
// kept in the step's backup directory so that compensation can restore it.
type FileAction struct {
	config fileConfig
	mode   os.FileMode
	logger zerolog.Logger
}

// NewFileAction creates a file action from a step's configuration.
func NewFileAction(step *engine.Step, actx Context) (engine.Action, error) {
	var cfg fileConfig
	if err := DecodeConfig(step.Config, &cfg); err != nil {
		return nil, err
	}

	mode := os.FileMode(0o644)
	if cfg.Mode != "" {
		m, err := strconv.ParseUint(cfg.Mode, 8, 32)
		if err != nil {
			return nil, engine.NewPermanentError(fmt.Sprintf("invalid mode %q", cfg.Mode), err).
				WithCode(engine.ErrCodeValidation)
		}
		mode = os.FileMode(m)
	}
	return &FileAction{config: cfg, mode: mode, logger: actx.Logger}, nil
}

// Execute implements engine.Action.
func (a *FileAction) Execute(_ context.Context, sc *engine.StepContext) (*engine.Result, error) {
	_, existed, err := assets.ReadFile(sc.TargetPath, a.config.Path)
	if err != nil {
		return nil, engine.NewPermanentError("cannot access file", err).WithResource(a.config.Path)
	}
	if !existed && a.config.MustExist {
		return nil, engine.NewPermanentError(fmt.Sprintf("file does not exist: %s", a.config.Path), nil).
			WithCode(engine.ErrCodeNotFound).WithResource(a.config.Path)
	}

	// Snapshot the file before touching it. A retried attempt keeps the
	// original snapshot.
	backupDir := assets.BackupDir(sc.TargetPath, sc.StepID)
	snap, err := assets.LoadSnapshot(backupDir)
	if err != nil {
		return nil, engine.NewPermanentError("cannot read backup", err).WithResource(a.config.Path)
	}
	if len(snap.Entries) == 0 {
		if err := snap.Capture(sc.TargetPath, a.config.Path, nil); err != nil {
			return nil, engine.NewPermanentError("failed to back up file", err).WithResource(a.config.Path)
		}
	}

	content := []byte(a.config.Content)
	if err := assets.WriteFile(sc.TargetPath, a.config.Path, content, a.mode); err != nil {
		return nil, engine.NewPermanentError("failed to write file", err).WithResource(a.config.Path)
	}

	a.logger.Debug().Str("step_id", sc.StepID).Str("path", a.config.Path).Bool("created", !existed).Msg("File written")

	return &engine.Result{
		Message: fmt.Sprintf("wrote %s", a.config.Path),
		Output: map[string]interface{}{
			"path":          a.config.Path,
			"checksum":      assets.Checksum(content),
			"bytes_written": len(content),
			"created":       !existed,
			"backup_dir":    backupDir,
		},
	}, nil
}

// Compensate implements engine.Action. It restores the previous content or
// removes a file the step created.
func (a *FileAction) Compensate(ctx context.Context, sc *engine.StepContext) (*engine.Result, error) {
	backupDir := assets.BackupDir(sc.TargetPath, sc.StepID)
	snap, err := assets.LoadSnapshot(backupDir)
	if err != nil {
		return nil, engine.NewPermanentError("cannot read backup", err).WithResource(a.config.Path)
	}
	if err := snap.Restore(ctx, sc.TargetPath, nil); err != nil {
		return nil, engine.NewPermanentError("failed to restore file", err).WithResource(a.config.Path)
	}
	if err := snap.Discard(); err != nil {
		a.logger.Warn().Err(err).Str("dir", backupDir).Msg("Failed to remove backup")
	}
	return &engine.Result{Message: fmt.Sprintf("restored %s", a.config.Path)}, nil
}
