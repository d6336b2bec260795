package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/engine"
)

const defaultMaxOutput = 64 * 1024

// commandConfig is the configuration of a command step.
type commandConfig struct {
	// Command is the command line. It is split into words unless Shell is set.
	Command string `mapstructure:"command" validate:"required"`

	// Args, when set, are passed verbatim and Command is the program name.
	Args []string `mapstructure:"args"`

	// Shell runs Command through /bin/sh -c.
	Shell bool `mapstructure:"shell"`

	// WorkDir is relative to the target directory.
	WorkDir string `mapstructure:"workdir"`

	Env map[string]string `mapstructure:"env"`

	// Undo is the command line run on compensation. Empty means nothing to undo.
	Undo string `mapstructure:"undo"`

	// RetryExitCodes lists exit codes that are reported as transient failures.
	RetryExitCodes []int `mapstructure:"retry_exit_codes"`

	// MaxOutput caps captured stdout and stderr, in bytes.
	MaxOutput int `mapstructure:"max_output" validate:"gte=0"`
}

// CommandAction runs an external command in the target directory.
type CommandAction struct {
	config commandConfig
	env    map[string]string
	logger zerolog.Logger
}

// NewCommandAction creates a command action from a step's configuration.
func NewCommandAction(step *engine.Step, actx Context) (engine.Action, error) {
	var cfg commandConfig
	if err := DecodeConfig(step.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxOutput == 0 {
		cfg.MaxOutput = defaultMaxOutput
	}
	if !cfg.Shell && len(cfg.Args) == 0 {
		if _, err := splitCommand(cfg.Command); err != nil {
			return nil, err
		}
	}
	return &CommandAction{config: cfg, env: actx.Env, logger: actx.Logger}, nil
}

// Execute implements engine.Action.
func (a *CommandAction) Execute(ctx context.Context, sc *engine.StepContext) (*engine.Result, error) {
	return a.run(ctx, sc, a.config.Command, a.config.Args)
}

// Compensate implements engine.Action.
func (a *CommandAction) Compensate(ctx context.Context, sc *engine.StepContext) (*engine.Result, error) {
	if a.config.Undo == "" {
		return &engine.Result{Message: "no undo command configured"}, nil
	}
	return a.run(ctx, sc, a.config.Undo, nil)
}

func (a *CommandAction) run(ctx context.Context, sc *engine.StepContext, command string, args []string) (*engine.Result, error) {
	argv, err := a.argv(command, args)
	if err != nil {
		return nil, err
	}

	workDir := sc.TargetPath
	if a.config.WorkDir != "" {
		workDir, err = assets.ResolvePath(sc.TargetPath, a.config.WorkDir)
		if err != nil {
			return nil, engine.NewPermanentError("invalid workdir", err).WithCode(engine.ErrCodeValidation)
		}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = a.environ(sc)

	stdout := &cappedBuffer{limit: a.config.MaxOutput}
	stderr := &cappedBuffer{limit: a.config.MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	a.logger.Debug().Str("step_id", sc.StepID).Strs("argv", argv).Str("dir", workDir).Msg("Running command")

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	output := map[string]interface{}{
		"exit_code": 0,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"duration":  duration.String(),
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, engine.NewPermanentError(fmt.Sprintf("failed to start %s", argv[0]), err).
				WithCode(engine.ErrCodeActionFailed)
		}

		code := exitErr.ExitCode()
		msg := fmt.Sprintf("%s exited with code %d", argv[0], code)
		var engErr *engine.EngineError
		if slices.Contains(a.config.RetryExitCodes, code) {
			engErr = engine.NewTransientError(msg, err)
		} else {
			engErr = engine.NewPermanentError(msg, err)
		}
		return nil, engErr.WithCode(engine.ErrCodeActionFailed).
			WithDetail("exit_code", code).
			WithDetail("stderr", stderr.String())
	}

	return &engine.Result{
		Message: fmt.Sprintf("%s completed in %s", argv[0], duration.Round(time.Millisecond)),
		Output:  output,
	}, nil
}

func (a *CommandAction) argv(command string, args []string) ([]string, error) {
	switch {
	case a.config.Shell:
		return []string{"/bin/sh", "-c", command}, nil
	case len(args) > 0:
		return append([]string{command}, args...), nil
	default:
		return splitCommand(command)
	}
}

// environ builds the child environment: the process environment, factory
// variables, step variables, then configured variables.
func (a *CommandAction) environ(sc *engine.StepContext) []string {
	env := os.Environ()
	for k, v := range a.env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"SIF_TARGET="+sc.TargetPath,
		"SIF_JOB_ID="+sc.JobID,
		"SIF_STEP_ID="+sc.StepID,
		"SIF_COMPONENT="+sc.ComponentID,
	)
	for k, v := range a.config.Env {
		env = append(env, k+"="+v)
	}
	return env
}

func splitCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	parser.ParseBacktick = false
	parser.ParseEnv = false
	words, err := parser.Parse(command)
	if err != nil {
		return nil, engine.NewPermanentError(fmt.Sprintf("cannot parse command %q", command), err).
			WithCode(engine.ErrCodeValidation)
	}
	if len(words) == 0 {
		return nil, engine.NewPermanentError("empty command", nil).WithCode(engine.ErrCodeValidation)
	}
	return words, nil
}

// cappedBuffer keeps at most limit bytes and silently drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
