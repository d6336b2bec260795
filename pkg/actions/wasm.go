package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/engine"
)

// defaultMemoryLimitPages is 16MB of linear memory.
const defaultMemoryLimitPages = 256

// wasmConfig is the configuration of a wasm step.
type wasmConfig struct {
	// Module is the path of a WASI command module. Relative paths are
	// resolved inside the target directory.
	Module string `mapstructure:"module" validate:"required"`

	Args []string          `mapstructure:"args"`
	Env  map[string]string `mapstructure:"env"`

	// UndoArgs runs the module again on compensation. Empty means nothing to undo.
	UndoArgs []string `mapstructure:"undo_args"`

	// MemoryLimitPages caps linear memory in 64KiB pages.
	MemoryLimitPages uint32 `mapstructure:"memory_limit_pages" validate:"lte=65536"`

	RetryExitCodes []int `mapstructure:"retry_exit_codes"`
	MaxOutput      int   `mapstructure:"max_output" validate:"gte=0"`
}

// WasmAction runs a WASI module with the target directory mounted as its
// root. The module sees nothing else of the host filesystem and no network.
type WasmAction struct {
	config wasmConfig
	env    map[string]string
	logger zerolog.Logger
}

// NewWasmAction creates a wasm action from a step's configuration.
func NewWasmAction(step *engine.Step, actx Context) (engine.Action, error) {
	var cfg wasmConfig
	if err := DecodeConfig(step.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.MaxOutput == 0 {
		cfg.MaxOutput = defaultMaxOutput
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = defaultMemoryLimitPages
	}
	return &WasmAction{config: cfg, env: actx.Env, logger: actx.Logger}, nil
}

// Execute implements engine.Action.
func (a *WasmAction) Execute(ctx context.Context, sc *engine.StepContext) (*engine.Result, error) {
	return a.run(ctx, sc, a.config.Args)
}

// Compensate implements engine.Action.
func (a *WasmAction) Compensate(ctx context.Context, sc *engine.StepContext) (*engine.Result, error) {
	if len(a.config.UndoArgs) == 0 {
		return &engine.Result{Message: "no undo arguments configured"}, nil
	}
	return a.run(ctx, sc, a.config.UndoArgs)
}

func (a *WasmAction) run(ctx context.Context, sc *engine.StepContext, args []string) (*engine.Result, error) {
	path := a.config.Module
	if !filepath.IsAbs(path) {
		resolved, err := assets.ResolvePath(sc.TargetPath, path)
		if err != nil {
			return nil, engine.NewPermanentError("invalid module path", err).WithCode(engine.ErrCodeValidation)
		}
		path = resolved
	}
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewPermanentError(fmt.Sprintf("failed to read module %s", path), err).
			WithCode(engine.ErrCodeActionFailed)
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithMemoryLimitPages(a.config.MemoryLimitPages).
		WithCloseOnContextDone(true))
	defer runtime.Close(context.WithoutCancel(ctx))

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, engine.NewPermanentError(fmt.Sprintf("invalid module %s", path), err).
			WithCode(engine.ErrCodeValidation)
	}

	stdout := &cappedBuffer{limit: a.config.MaxOutput}
	stderr := &cappedBuffer{limit: a.config.MaxOutput}
	name := filepath.Base(path)

	mc := wazero.NewModuleConfig().
		WithName("").
		WithArgs(append([]string{name}, args...)...).
		WithStdout(stdout).
		WithStderr(stderr).
		WithFSConfig(wazero.NewFSConfig().WithDirMount(sc.TargetPath, "/")).
		WithSysWalltime().
		WithSysNanotime()
	for k, v := range a.environ(sc) {
		mc = mc.WithEnv(k, v)
	}

	a.logger.Debug().Str("step_id", sc.StepID).Str("module", path).Strs("args", args).Msg("Running wasm module")

	start := time.Now()
	mod, err := runtime.InstantiateModule(ctx, compiled, mc)
	duration := time.Since(start)
	if mod != nil {
		_ = mod.Close(context.WithoutCancel(ctx))
	}

	code := uint32(0)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) {
			return nil, engine.NewPermanentError(fmt.Sprintf("%s trapped", name), err).
				WithCode(engine.ErrCodeActionFailed).
				WithDetail("stderr", stderr.String())
		}
		code = exitErr.ExitCode()
	}

	if code != 0 {
		msg := fmt.Sprintf("%s exited with code %d", name, code)
		var engErr *engine.EngineError
		if slices.Contains(a.config.RetryExitCodes, int(code)) {
			engErr = engine.NewTransientError(msg, err)
		} else {
			engErr = engine.NewPermanentError(msg, err)
		}
		return nil, engErr.WithCode(engine.ErrCodeActionFailed).
			WithDetail("exit_code", code).
			WithDetail("stderr", stderr.String())
	}

	return &engine.Result{
		Message: fmt.Sprintf("%s completed in %s", name, duration.Round(time.Millisecond)),
		Output: map[string]interface{}{
			"exit_code": 0,
			"stdout":    stdout.String(),
			"stderr":    stderr.String(),
			"duration":  duration.String(),
		},
	}, nil
}

// environ mirrors the command action's variables. The host environment is
// not passed through.
func (a *WasmAction) environ(sc *engine.StepContext) map[string]string {
	env := make(map[string]string, len(a.env)+len(a.config.Env)+4)
	for k, v := range a.env {
		env[k] = v
	}
	env["SIF_TARGET"] = "/"
	env["SIF_JOB_ID"] = sc.JobID
	env["SIF_STEP_ID"] = sc.StepID
	env["SIF_COMPONENT"] = sc.ComponentID
	for k, v := range a.config.Env {
		env[k] = v
	}
	return env
}
