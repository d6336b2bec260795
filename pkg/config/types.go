package config

import (
	"strconv"
	"time"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/composition"
)

// CatalogVersion is the catalog file format this package reads.
const CatalogVersion = "v1"

// CatalogFile is the YAML document describing what can be provisioned.
type CatalogFile struct {
	// Version is the catalog format version.
	Version string `yaml:"version" validate:"required,eq=v1"`

	// Executor tunes how jobs run.
	Executor ExecutorSettings `yaml:"executor"`

	// Components lists the installable components.
	Components []ComponentConfig `yaml:"components" validate:"dive"`

	// Libraries lists reuse libraries. Relative roots are resolved against
	// the catalog file's directory.
	Libraries []assets.Library `yaml:"libraries" validate:"dive"`

	// Segments are the reusable content pieces.
	Segments []composition.Segment `yaml:"segments" validate:"dive"`

	// Compositions are ordered selections of segments.
	Compositions []CompositionConfig `yaml:"compositions" validate:"dive"`

	// Entries is the content DAG validated before rendering.
	Entries []composition.CatalogEntry `yaml:"catalog" validate:"dive"`

	// ContentRoot resolves catalog entries that are not segment IDs.
	ContentRoot string `yaml:"content_root,omitempty"`

	// Variables is a Starlark script deriving render variables from the
	// request configuration.
	Variables string `yaml:"variables,omitempty"`

	// Policies lists Rego policy files or directories evaluated against
	// every plan. Relative paths are resolved like library roots.
	Policies []string `yaml:"policies,omitempty"`
}

// ComponentConfig is a component as written in the catalog.
type ComponentConfig struct {
	ID           string                 `yaml:"id" validate:"required"`
	Type         string                 `yaml:"type" validate:"required,oneof=command file installer noop wasm"`
	Description  string                 `yaml:"description,omitempty"`
	Dependencies []string               `yaml:"dependencies,omitempty"`
	Config       map[string]interface{} `yaml:"config,omitempty"`

	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`

	Skip        bool   `yaml:"skip,omitempty"`
	Library     string `yaml:"library,omitempty"`
	Composition string `yaml:"composition,omitempty"`
}

// CompositionConfig is a composition as written in the catalog.
type CompositionConfig struct {
	ID          string       `yaml:"id" validate:"required"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Variant     string       `yaml:"variant"`
	TargetFile  string       `yaml:"target_file,omitempty"`
	Items       []ItemConfig `yaml:"items" validate:"dive"`
}

// ItemConfig places a segment in a composition.
type ItemConfig struct {
	Segment  string `yaml:"segment" validate:"required"`
	Position int    `yaml:"position"`

	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`

	Override string `yaml:"override,omitempty"`
}

func (cc CompositionConfig) composition() *composition.Composition {
	comp := &composition.Composition{
		ID:          cc.ID,
		Name:        cc.Name,
		Description: cc.Description,
		Variant:     cc.Variant,
		TargetFile:  cc.TargetFile,
	}
	for _, ic := range cc.Items {
		comp.Items = append(comp.Items, composition.Item{
			SegmentID: ic.Segment,
			Position:  ic.Position,
			Enabled:   ic.Enabled == nil || *ic.Enabled,
			Override:  ic.Override,
		})
	}
	return comp
}

// ExecutorSettings overrides the executor defaults. Zero values keep the default.
type ExecutorSettings struct {
	MaxParallel int           `yaml:"max_parallel" validate:"gte=0"`
	MaxRetries  int           `yaml:"max_retries" validate:"gte=0"`
	StepTimeout time.Duration `yaml:"step_timeout" validate:"gte=0"`
	BaseBackoff time.Duration `yaml:"base_backoff" validate:"gte=0"`
	MaxBackoff  time.Duration `yaml:"max_backoff" validate:"gte=0"`

	// Policy is the default failure policy (abort or degrade).
	Policy string `yaml:"policy,omitempty" validate:"omitempty,oneof=abort degrade"`
}

// ValidationError is one problem found in a catalog file.
type ValidationError struct {
	// File is the catalog path.
	File string `json:"file,omitempty"`

	// Line is the source line, when known.
	Line int `json:"line,omitempty"`

	// Path is the field path (e.g., "components[2].type").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.File != "" && e.Line > 0 {
		e.File = e.File + ":" + strconv.Itoa(e.Line)
	}
	switch {
	case e.File != "" && e.Path != "":
		return e.File + ": " + e.Path + ": " + e.Message
	case e.Path != "":
		return e.Path + ": " + e.Message
	default:
		return e.Message
	}
}
