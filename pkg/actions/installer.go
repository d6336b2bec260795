package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/engine"
)

// Installer modes reported in the step output.
const (
	ModeInstall = "install"
	ModeUpdate  = "update"
	ModeSkip    = "skip"
)

// Prompt maps an installer prompt to the answer sent for it.
type Prompt struct {
	// Name identifies the prompt in the response log.
	Name string `mapstructure:"name" validate:"required"`

	// Pattern is a case-insensitive regular expression matched against output.
	Pattern string `mapstructure:"pattern" validate:"required"`

	// Field names the installer setting used as the answer
	// (user_name, language, output_dir, modules). Empty sends Answer.
	Field string `mapstructure:"field" validate:"omitempty,oneof=user_name language output_dir modules"`

	// Answer is the literal answer when Field is empty. Empty accepts the default.
	Answer string `mapstructure:"answer"`
}

// DefaultPrompts answers the prompts of the BMAD method installer.
var DefaultPrompts = []Prompt{
	{Name: "user_name", Pattern: `(?:What is your name|Enter your name|name\?)`, Field: "user_name"},
	{Name: "language", Pattern: `(?:communication language|language preference|language\?)`, Field: "language"},
	{Name: "output_dir", Pattern: `(?:output (?:folder|directory)|where.*output|_bmad-output)`, Field: "output_dir"},
	{Name: "confirm_install", Pattern: `(?:proceed|continue|confirm|install\?|y/n)`},
	{Name: "select_modules", Pattern: `(?:select.*modules|which modules|modules to install)`, Field: "modules"},
	{Name: "quick_update", Pattern: `(?:quick.?update|already installed|update existing)`},
}

// installerConfig is the configuration of an installer step.
type installerConfig struct {
	// Package is the npm package run through npx when Command is empty.
	Package string `mapstructure:"package"`

	// Command overrides the generated npx command line.
	Command string `mapstructure:"command"`

	Version   string   `mapstructure:"version"`
	UserName  string   `mapstructure:"user_name"`
	Language  string   `mapstructure:"language"`
	OutputDir string   `mapstructure:"output_dir"`
	Modules   []string `mapstructure:"modules"`

	// InstallDir is where the installer puts its files, relative to the target.
	InstallDir string `mapstructure:"install_dir"`

	// Timeout bounds the whole installer run.
	Timeout time.Duration `mapstructure:"timeout"`

	// IdleTimeout is how long unanswered output may sit before it is
	// treated as an unknown prompt.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// MaxResponses caps the number of answers sent.
	MaxResponses int `mapstructure:"max_responses" validate:"gte=0"`

	// NoPreserve skips backing up the existing installer configuration.
	NoPreserve bool `mapstructure:"no_preserve"`

	// Uninstall is run on compensation of a fresh install. When empty the
	// install directory is removed.
	Uninstall string `mapstructure:"uninstall"`

	Prompts []Prompt `mapstructure:"prompts" validate:"dive"`
}

func (c *installerConfig) setDefaults() {
	if c.Package == "" {
		c.Package = "bmad-method"
	}
	if c.Version == "" {
		c.Version = "latest"
	}
	if c.UserName == "" {
		c.UserName = "Developer"
	}
	if c.Language == "" {
		c.Language = "English"
	}
	if c.OutputDir == "" {
		c.OutputDir = "_bmad-output"
	}
	if c.InstallDir == "" {
		c.InstallDir = "_bmad"
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Second
	}
	if c.MaxResponses == 0 {
		c.MaxResponses = 50
	}
	if len(c.Prompts) == 0 {
		c.Prompts = DefaultPrompts
	}
}

// commandLine returns the installer command line.
func (c *installerConfig) commandLine() string {
	if c.Command != "" {
		return c.Command
	}
	if strings.EqualFold(c.Version, "latest") {
		return fmt.Sprintf("npx %s install", c.Package)
	}
	return fmt.Sprintf("npx %s@%s install", c.Package, c.Version)
}

func (c *installerConfig) answer(p Prompt) string {
	switch p.Field {
	case "user_name":
		return c.UserName
	case "language":
		return c.Language
	case "output_dir":
		return c.OutputDir
	case "modules":
		return strings.Join(c.Modules, ",")
	default:
		return p.Answer
	}
}

type compiledPrompt struct {
	Prompt
	re *regexp.Regexp
}

// InstallerAction drives an interactive installer by answering its prompts.
type InstallerAction struct {
	config  installerConfig
	prompts []compiledPrompt
	env     map[string]string
	logger  zerolog.Logger
}

// NewInstallerAction creates an installer action from a step's configuration.
func NewInstallerAction(step *engine.Step, actx Context) (engine.Action, error) {
	var cfg installerConfig
	if err := DecodeConfig(step.Config, &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	if _, err := splitCommand(cfg.commandLine()); err != nil {
		return nil, err
	}

	prompts := make([]compiledPrompt, 0, len(cfg.Prompts))
	for _, p := range cfg.Prompts {
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			return nil, engine.NewPermanentError(fmt.Sprintf("invalid pattern for prompt %s", p.Name), err).
				WithCode(engine.ErrCodeValidation)
		}
		prompts = append(prompts, compiledPrompt{Prompt: p, re: re})
	}

	return &InstallerAction{config: cfg, prompts: prompts, env: actx.Env, logger: actx.Logger}, nil
}

// ResponseLogEntry records one answered prompt.
type ResponseLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Prompt     string    `json:"prompt"`
	PromptText string    `json:"prompt_text"`
	Response   string    `json:"response"`
}

// Execute implements engine.Action.
func (a *InstallerAction) Execute(ctx context.Context, sc *engine.StepContext) (*engine.Result, error) {
	cfg := a.config
	log := a.logger.With().Str("step_id", sc.StepID).Logger()

	if info, err := os.Stat(sc.TargetPath); err != nil || !info.IsDir() {
		return nil, engine.NewPermanentError(fmt.Sprintf("target %s is not a directory", sc.TargetPath), err).
			WithCode(engine.ErrCodeValidation)
	}

	installed, err := DetectInstalled(sc.TargetPath, cfg.InstallDir)
	if err != nil {
		return nil, engine.NewPermanentError("failed to inspect existing installation", err)
	}

	output := map[string]interface{}{
		"version_requested": cfg.Version,
		"version_before":    installed.Version,
	}

	if installed.Present && installed.Version != "" && CompareVersions(installed.Version, cfg.Version) >= 0 {
		log.Info().Str("installed", installed.Version).Str("requested", cfg.Version).Msg("Installed version is current, skipping installer")
		output["mode"] = ModeSkip
		return &engine.Result{Message: fmt.Sprintf("version %s already installed", installed.Version), Output: output}, nil
	}

	mode := ModeInstall
	if installed.Present {
		mode = ModeUpdate
	}
	output["mode"] = mode

	// Keep the existing configuration so an update can be reverted.
	if mode == ModeUpdate && !cfg.NoPreserve {
		output["preserved_config"] = installed.Config
		snap := assets.NewSnapshot(assets.BackupDir(sc.TargetPath, sc.StepID))
		if err := snap.Capture(sc.TargetPath, configPath(cfg.InstallDir), nil); err != nil {
			return nil, engine.NewPermanentError("failed to back up installer configuration", err)
		}
	}

	start := time.Now()
	responses, exitCode, err := a.interact(ctx, sc)
	output["response_log"] = responses
	output["exit_code"] = exitCode
	output["duration"] = time.Since(start).String()
	if err != nil {
		return nil, err
	}

	log.Info().Str("mode", mode).Int("responses", len(responses)).Msg("Installer completed")
	return &engine.Result{
		Message: fmt.Sprintf("installer completed (%s mode)", mode),
		Output:  output,
	}, nil
}

// interact runs the installer and answers prompts until it exits.
func (a *InstallerAction) interact(ctx context.Context, sc *engine.StepContext) ([]ResponseLogEntry, int, error) {
	cfg := a.config
	argv, _ := splitCommand(cfg.commandLine())

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = sc.TargetPath
	cmd.Env = os.Environ()
	for k, v := range a.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env, "CI=1", "FORCE_COLOR=0")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, -1, engine.NewPermanentError("failed to open installer stdin", err)
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, -1, engine.NewPermanentError("failed to open installer output", err)
	}
	defer pr.Close()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, -1, engine.NewPermanentError(fmt.Sprintf("failed to start installer %s", argv[0]), err).
			WithCode(engine.ErrCodeActionFailed)
	}
	pw.Close()

	chunks := make(chan string)
	go func() {
		defer close(chunks)
		buf := make([]byte, 4096)
		for {
			n, err := pr.Read(buf)
			if n > 0 {
				chunks <- string(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	var (
		responses  []ResponseLogEntry
		pending    strings.Builder
		transcript strings.Builder
		failure    error
	)
	idle := time.NewTimer(cfg.IdleTimeout)
	defer idle.Stop()

loop:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			transcript.WriteString(chunk)
			pending.WriteString(stripANSI(chunk))

			text := pending.String()
			for {
				p, loc := a.match(text)
				if p == nil {
					break
				}
				if len(responses) >= cfg.MaxResponses {
					failure = engine.NewPermanentError(fmt.Sprintf("installer asked more than %d questions", cfg.MaxResponses), nil).
						WithCode(engine.ErrCodePromptMismatch)
					break loop
				}
				answer := cfg.answer(p.Prompt)
				responses = append(responses, ResponseLogEntry{
					Timestamp:  time.Now().UTC(),
					Prompt:     p.Name,
					PromptText: truncate(text[:loc[1]], 200),
					Response:   answer,
				})
				if _, err := io.WriteString(stdin, answer+"\n"); err != nil {
					failure = engine.NewPermanentError("failed to answer installer prompt", err).
						WithCode(engine.ErrCodePromptMismatch)
					break loop
				}
				a.logger.Debug().Str("prompt", p.Name).Str("response", answer).Msg("Answered installer prompt")
				text = text[loc[1]:]
			}
			pending.Reset()
			pending.WriteString(text)

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(cfg.IdleTimeout)

		case <-idle.C:
			if looksLikePrompt(pending.String()) {
				failure = engine.NewPermanentError("installer is waiting on an unrecognized prompt", nil).
					WithCode(engine.ErrCodePromptMismatch).
					WithDetail("prompt_text", truncate(pending.String(), 500))
				break loop
			}
			idle.Reset(cfg.IdleTimeout)

		case <-runCtx.Done():
			break loop
		}
	}

	_ = stdin.Close()
	if failure != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	go func() {
		for range chunks {
		}
	}()
	waitErr := cmd.Wait()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case failure != nil:
		return responses, exitCode, failure
	case ctx.Err() != nil:
		return responses, exitCode, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return responses, exitCode, engine.NewTransientError(fmt.Sprintf("installation timed out after %s", cfg.Timeout), runCtx.Err()).
			WithCode(engine.ErrCodeTimeout)
	case waitErr != nil:
		return responses, exitCode, engine.NewPermanentError(fmt.Sprintf("installer exited unexpectedly with code %d", exitCode), waitErr).
			WithCode(engine.ErrCodePromptMismatch).
			WithDetail("output", truncate(transcript.String(), 2000))
	}
	return responses, exitCode, nil
}

// match returns the prompt matching earliest in text and its match location.
func (a *InstallerAction) match(text string) (*compiledPrompt, []int) {
	var best *compiledPrompt
	var bestLoc []int
	for i := range a.prompts {
		loc := a.prompts[i].re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if best == nil || loc[0] < bestLoc[0] {
			best, bestLoc = &a.prompts[i], loc
		}
	}
	return best, bestLoc
}

// Compensate implements engine.Action. A fresh install is removed; an update
// gets its previous configuration back.
func (a *InstallerAction) Compensate(ctx context.Context, sc *engine.StepContext) (*engine.Result, error) {
	mode, _ := sc.Output["mode"].(string)

	switch mode {
	case ModeInstall:
		if a.config.Uninstall != "" {
			undo := &CommandAction{
				config: commandConfig{Command: a.config.Uninstall, MaxOutput: defaultMaxOutput},
				env:    a.env,
				logger: a.logger,
			}
			return undo.Compensate(ctx, sc)
		}
		dir, err := assets.ResolvePath(sc.TargetPath, a.config.InstallDir)
		if err != nil {
			return nil, engine.NewPermanentError("invalid install directory", err)
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, engine.NewPermanentError("failed to remove installation", err)
		}
		return &engine.Result{Message: fmt.Sprintf("removed %s", a.config.InstallDir)}, nil

	case ModeUpdate:
		snap, err := assets.LoadSnapshot(assets.BackupDir(sc.TargetPath, sc.StepID))
		if err != nil {
			return nil, engine.NewPermanentError("cannot read installer backup", err)
		}
		if err := snap.Restore(ctx, sc.TargetPath, nil); err != nil {
			return nil, engine.NewPermanentError("failed to restore installer configuration", err)
		}
		_ = snap.Discard()
		return &engine.Result{Message: "restored previous installer configuration"}, nil

	default:
		return &engine.Result{Message: "nothing to undo"}, nil
	}
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// looksLikePrompt reports whether trailing output appears to wait for input.
func looksLikePrompt(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '?', ':', '>', ')', ']':
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
