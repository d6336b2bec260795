// Package actions implements the closed set of step actions a component can use:
// command, file, installer, wasm and noop. A Factory maps action type names to
// constructors and serves as the executor's engine.ActionProvider.
package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"

	"github.com/sif-factory/sif/pkg/engine"
)

// Built-in action type names.
const (
	TypeCommand   = "command"
	TypeFile      = "file"
	TypeInstaller = "installer"
	TypeNoop      = "noop"
	TypeWasm      = "wasm"
)

// Context provides shared settings for action creation.
type Context struct {
	// Logger is handed to created actions.
	Logger zerolog.Logger

	// Env is added to the environment of spawned processes.
	Env map[string]string
}

// Creator builds an action for a step. It validates the step's configuration
// so that configuration errors surface before anything runs.
type Creator func(step *engine.Step, actx Context) (engine.Action, error)

// Factory creates actions of different types.
type Factory struct {
	mu       sync.RWMutex
	creators map[string]Creator
	context  Context
}

// NewFactory creates an empty factory with the given context.
func NewFactory(actx Context) *Factory {
	return &Factory{
		creators: make(map[string]Creator),
		context:  actx,
	}
}

// NewDefaultFactory creates a factory with the built-in action types registered.
func NewDefaultFactory(actx Context) *Factory {
	f := NewFactory(actx)
	f.RegisterDefaultTypes()
	return f
}

// Register registers a creator for an action type, replacing any previous one.
func (f *Factory) Register(typeName string, creator Creator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[typeName] = creator
}

// RegisterDefaultTypes registers the built-in action types.
func (f *Factory) RegisterDefaultTypes() {
	f.Register(TypeCommand, NewCommandAction)
	f.Register(TypeFile, NewFileAction)
	f.Register(TypeInstaller, NewInstallerAction)
	f.Register(TypeWasm, NewWasmAction)
	f.Register(TypeNoop, func(*engine.Step, Context) (engine.Action, error) {
		return NoopAction{}, nil
	})
}

// Has reports whether an action type is registered.
func (f *Factory) Has(typeName string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.creators[typeName]
	return ok
}

// Types returns the registered action type names, sorted.
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.creators))
	for t := range f.creators {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ActionFor implements engine.ActionProvider using the step's forward action type.
func (f *Factory) ActionFor(step *engine.Step) (engine.Action, error) {
	f.mu.RLock()
	creator, ok := f.creators[step.Forward.Type]
	actx := f.context
	f.mu.RUnlock()

	if !ok {
		return nil, engine.NewStructuralError(fmt.Sprintf("unknown action type: %s", step.Forward.Type), nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(step.ID)
	}
	return creator(step, actx)
}

var validate = validator.New()

// DecodeConfig decodes a step configuration map into a typed struct and
// validates its `validate` tags. Unknown keys are ignored since component
// configuration is shared across a component's steps.
func DecodeConfig(config map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(config); err != nil {
		return engine.NewPermanentError("invalid action configuration", err).WithCode(engine.ErrCodeValidation)
	}
	if err := validate.Struct(out); err != nil {
		return engine.NewPermanentError("invalid action configuration", err).WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// NoopAction does nothing. It is used for marker components that only order others.
type NoopAction struct{}

// Execute implements engine.Action.
func (NoopAction) Execute(_ context.Context, sc *engine.StepContext) (*engine.Result, error) {
	return &engine.Result{Message: fmt.Sprintf("%s: nothing to do", sc.ComponentID)}, nil
}

// Compensate implements engine.Action.
func (NoopAction) Compensate(_ context.Context, sc *engine.StepContext) (*engine.Result, error) {
	return &engine.Result{Message: fmt.Sprintf("%s: nothing to undo", sc.ComponentID)}, nil
}
