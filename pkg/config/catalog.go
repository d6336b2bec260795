package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/composition"
	"github.com/sif-factory/sif/pkg/engine"
)

// Catalog is a loaded catalog ready for the orchestrator.
type Catalog struct {
	// Path is the file the catalog was loaded from, if any.
	Path string

	Components []engine.Component
	Libraries  assets.Libraries
	Content    *composition.Catalog
	Executor   engine.ExecutorConfig
	Policy     engine.FailurePolicy

	// Variables is the Starlark script deriving render variables.
	Variables string

	// Policies are the Rego policy paths admitting plans.
	Policies []string
}

var validate = validator.New()

// Load reads and validates a catalog file. Files ending in .cue are
// evaluated as CUE; anything else is YAML.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	if filepath.Ext(path) == ".cue" {
		return ParseCUE(data, path)
	}
	return Parse(data, path)
}

// Parse decodes and validates a catalog. path locates the catalog so that
// relative library and content roots can be resolved; it may be empty.
func Parse(data []byte, path string) (*Catalog, error) {
	var file CatalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, engine.NewStructuralError("invalid catalog", ValidationError{File: path, Message: err.Error()}).
			WithCode(engine.ErrCodeValidation).WithResource(path)
	}

	if err := validate.Struct(&file); err != nil {
		return nil, engine.NewStructuralError("invalid catalog", structErrors(path, err)).
			WithCode(engine.ErrCodeValidation).WithResource(path)
	}

	catalog := fromFile(&file, path)
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return catalog, nil
}

// structErrors converts validator errors into ValidationErrors.
func structErrors(path string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationError{File: path, Message: err.Error()}
	}
	var result *multierror.Error
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "CatalogFile.")
		msg := fmt.Sprintf("failed %q validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Param())
		}
		result = multierror.Append(result, ValidationError{File: path, Path: field, Message: msg})
	}
	return result.ErrorOrNil()
}

func fromFile(file *CatalogFile, path string) *Catalog {
	baseDir := ""
	if path != "" {
		baseDir = filepath.Dir(path)
	}
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}

	c := &Catalog{
		Path:      path,
		Libraries: make(assets.Libraries, len(file.Libraries)),
		Content:   composition.NewCatalog(),
		Executor:  engine.DefaultExecutorConfig(),
		Policy:    engine.FailurePolicyAbort,
		Variables: file.Variables,
	}

	for _, cc := range file.Components {
		enabled := cc.Enabled == nil || *cc.Enabled
		c.Components = append(c.Components, engine.Component{
			ID:           cc.ID,
			Type:         cc.Type,
			Description:  cc.Description,
			Dependencies: cc.Dependencies,
			Config:       cc.Config,
			Enabled:      enabled,
			Skip:         cc.Skip,
			Library:      cc.Library,
			Composition:  cc.Composition,
		})
	}

	for i := range file.Libraries {
		lib := file.Libraries[i]
		lib.Root = resolve(lib.Root)
		c.Libraries[lib.ID] = &lib
	}

	for i := range file.Segments {
		seg := file.Segments[i]
		c.Content.AddSegment(&seg)
	}
	for _, cc := range file.Compositions {
		c.Content.AddComposition(cc.composition())
	}
	c.Content.Entries = file.Entries
	c.Content.ContentRoot = resolve(file.ContentRoot)

	for _, p := range file.Policies {
		c.Policies = append(c.Policies, resolve(p))
	}

	s := file.Executor
	if s.MaxParallel > 0 {
		c.Executor.MaxParallel = s.MaxParallel
	}
	if s.MaxRetries > 0 {
		c.Executor.MaxRetries = s.MaxRetries
	}
	if s.StepTimeout > 0 {
		c.Executor.StepTimeout = s.StepTimeout
	}
	if s.BaseBackoff > 0 {
		c.Executor.BaseBackoff = s.BaseBackoff
	}
	if s.MaxBackoff > 0 {
		c.Executor.MaxBackoff = s.MaxBackoff
	}
	if s.Policy != "" {
		c.Policy = engine.FailurePolicy(s.Policy)
	}

	return c
}

// Validate checks the catalog's cross references: the component graph
// resolves and is acyclic, components name existing libraries and
// compositions, and the content catalog and every composition validate.
func (c *Catalog) Validate() error {
	var result *multierror.Error

	if _, err := engine.Resolve(c.Components); err != nil {
		result = multierror.Append(result, err)
	}

	for _, comp := range c.Components {
		if comp.Library != "" {
			if _, ok := c.Libraries[comp.Library]; !ok {
				result = multierror.Append(result, engine.NewStructuralError(
					fmt.Sprintf("component %s references unknown library %s", comp.ID, comp.Library), nil,
				).WithCode(engine.ErrCodeValidation).WithResource(comp.ID))
			}
		}
		if comp.Composition != "" {
			if _, ok := c.Content.Compositions[comp.Composition]; !ok {
				result = multierror.Append(result, engine.NewStructuralError(
					fmt.Sprintf("component %s references unknown composition %s", comp.ID, comp.Composition), nil,
				).WithCode(engine.ErrCodeValidation).WithResource(comp.ID))
			}
		}
	}

	if err := composition.Validate(c.Content.Entries, c.Content.Contents()); err != nil {
		result = multierror.Append(result, err)
	}
	ids := make([]string, 0, len(c.Content.Compositions))
	for id := range c.Content.Compositions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := composition.ValidateComposition(c.Content.Compositions[id], c.Content.Segments); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// Component returns a component by ID.
func (c *Catalog) Component(id string) (engine.Component, bool) {
	for _, comp := range c.Components {
		if comp.ID == id {
			return comp, true
		}
	}
	return engine.Component{}, false
}

// LoadCatalog implements composition.Source.
func (c *Catalog) LoadCatalog(context.Context) (*composition.Catalog, error) {
	return c.Content, nil
}

// RenderVariables returns the variables compositions are rendered with: the
// request configuration, extended by the catalog's variable script.
func (c *Catalog) RenderVariables(ctx context.Context, eval *StarlarkEvaluator, request map[string]interface{}) (map[string]interface{}, error) {
	vars := make(map[string]interface{}, len(request))
	for k, v := range request {
		vars[k] = v
	}
	if c.Variables == "" || eval == nil {
		return vars, nil
	}

	result, err := eval.Evaluate(ctx, c.Variables, request)
	if err != nil {
		return nil, engine.NewStructuralError("variable script failed", err).WithCode(engine.ErrCodeValidation)
	}
	for k, v := range result.Output {
		if _, isInput := request[k]; isInput {
			continue
		}
		vars[k] = v
	}
	return vars, nil
}
